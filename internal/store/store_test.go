package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"runbell/internal/runstate"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

// recordingBroadcaster captures every snapshot pushed by the store.
type recordingBroadcaster struct {
	snapshots []runstate.Global
}

func (r *recordingBroadcaster) BroadcastState(g runstate.Global) {
	r.snapshots = append(r.snapshots, g)
}

func TestLoadEmpty(t *testing.T) {
	s, _ := openTestStore(t)
	g, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g) != 0 {
		t.Errorf("fresh store has %d tabs, want 0", len(g))
	}
}

func TestCreateIfAbsent(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.CreateIfAbsent(7, 1); err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	g, _ := s.Load()
	ts := g[7]
	if ts == nil {
		t.Fatal("tab 7 missing")
	}
	if ts.Status != runstate.StatusMonitoring || !ts.IsVisible || ts.WindowID != 1 {
		t.Errorf("defaults wrong: %+v", ts)
	}

	// Hide the indicator, then reconnect from another window.
	s.Mutate(7, func(ts *runstate.TabState) any {
		ts.IsVisible = false
		return nil
	})
	if err := s.CreateIfAbsent(7, 9); err != nil {
		t.Fatalf("CreateIfAbsent again: %v", err)
	}

	g, _ = s.Load()
	ts = g[7]
	if ts.WindowID != 9 {
		t.Errorf("windowID not refreshed: %d", ts.WindowID)
	}
	if !ts.IsVisible {
		t.Error("reconnect must force the indicator visible")
	}
}

func TestMutatePersistsAcrossReopen(t *testing.T) {
	s, path := openTestStore(t)
	s.CreateIfAbsent(7, 1)
	now := time.UnixMilli(1_700_000_000_000)
	_, err := s.Mutate(7, func(ts *runstate.TabState) any {
		ts.StartRun("draft email", now)
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	g, err := s2.Load()
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	ts := g[7]
	if ts == nil || ts.Status != runstate.StatusRunning || ts.RunName != "draft email" {
		t.Errorf("state did not survive restart: %+v", ts)
	}
}

func TestMutateUnknownTab(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Mutate(99, func(*runstate.TabState) any { return nil })
	if !errors.Is(err, ErrTabNotFound) {
		t.Errorf("err = %v, want ErrTabNotFound", err)
	}
}

func TestMutateReturnsUpdaterResult(t *testing.T) {
	s, _ := openTestStore(t)
	s.CreateIfAbsent(3, 1)

	out, err := s.Mutate(3, func(ts *runstate.TabState) any {
		return ts.StartRun("x", time.Now())
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if started, _ := out.(bool); !started {
		t.Errorf("updater result lost: %v", out)
	}
}

func TestRemove(t *testing.T) {
	s, _ := openTestStore(t)
	s.CreateIfAbsent(7, 1)
	if err := s.Remove(7); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	g, _ := s.Load()
	if _, ok := g[7]; ok {
		t.Error("tab 7 still present after Remove")
	}
	if err := s.Remove(7); err != nil {
		t.Errorf("removing an absent tab should be a no-op, got %v", err)
	}
}

func TestEveryMutationBroadcasts(t *testing.T) {
	s, _ := openTestStore(t)
	cast := &recordingBroadcaster{}
	s.SetBroadcaster(cast)

	s.CreateIfAbsent(1, 1)
	s.Mutate(1, func(ts *runstate.TabState) any {
		ts.StartRun("a", time.Now())
		return nil
	})
	s.Remove(1)

	if len(cast.snapshots) != 3 {
		t.Fatalf("broadcasts = %d, want 3", len(cast.snapshots))
	}
	if _, ok := cast.snapshots[1][1]; !ok {
		t.Error("second snapshot missing tab 1")
	}
	if len(cast.snapshots[2]) != 0 {
		t.Error("final snapshot should be empty after Remove")
	}
}

func TestMutateAllSkipsBroadcastWhenUnchanged(t *testing.T) {
	s, _ := openTestStore(t)
	s.CreateIfAbsent(1, 1)

	cast := &recordingBroadcaster{}
	s.SetBroadcaster(cast)

	if err := s.MutateAll(func(runstate.Global) bool { return false }); err != nil {
		t.Fatalf("MutateAll: %v", err)
	}
	if len(cast.snapshots) != 0 {
		t.Error("unchanged MutateAll must not broadcast")
	}

	s.MutateAll(func(g runstate.Global) bool {
		g[1].SetStandby(true)
		return true
	})
	if len(cast.snapshots) != 1 {
		t.Errorf("changed MutateAll broadcasts = %d, want 1", len(cast.snapshots))
	}
}

func TestBroadcastSnapshotIsIsolated(t *testing.T) {
	s, _ := openTestStore(t)
	cast := &recordingBroadcaster{}
	s.SetBroadcaster(cast)
	s.CreateIfAbsent(5, 1)

	cast.snapshots[0][5].RunName = "tampered"

	g, _ := s.Load()
	if g[5].RunName == "tampered" {
		t.Error("broadcast snapshot aliases live store state")
	}
}

func TestRecords(t *testing.T) {
	s, _ := openTestStore(t)

	type ctx struct {
		TabID int   `json:"tabId"`
		Due   int64 `json:"due"`
	}

	if err := s.PutRecord("notification:abc", ctx{TabID: 7}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if err := s.PutRecord("remind-abc", ctx{TabID: 7, Due: 123}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	var got ctx
	ok, err := s.GetRecord("notification:abc", &got)
	if err != nil || !ok || got.TabID != 7 {
		t.Errorf("GetRecord = (%v, %v), got %+v", ok, err, got)
	}

	keys, err := s.RecordKeys("remind-")
	if err != nil {
		t.Fatalf("RecordKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "remind-abc" {
		t.Errorf("keys = %v", keys)
	}

	if err := s.DeleteRecord("notification:abc"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	ok, _ = s.GetRecord("notification:abc", &got)
	if ok {
		t.Error("record still readable after delete")
	}

	// Deleting twice is fine.
	if err := s.DeleteRecord("notification:abc"); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestCorruptGlobalRecordLoadsEmpty(t *testing.T) {
	s, path := openTestStore(t)
	if err := s.PutRecord("globalState", "not a mapping"); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	g, err := s2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g) != 0 {
		t.Errorf("corrupt record should load as empty, got %d tabs", len(g))
	}
}
