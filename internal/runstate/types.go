package runstate

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a tracked tab.
type Status string

const (
	StatusStandby    Status = "standby"    // idle, tab not focused, observation paused
	StatusMonitoring Status = "monitoring" // idle, watching for a run to begin
	StatusRunning    Status = "running"    // busy marker present
	StatusPaused     Status = "paused"     // user paused the clock
	StatusError      Status = "error"      // detection failed, message in Error
	StatusStopped    Status = "stopped"    // run just finished, reverts to monitoring shortly
)

// HistoryEntry records one completed run. Entries are immutable once created.
type HistoryEntry struct {
	ID         string `json:"id"`
	RunName    string `json:"runName,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Status     Status `json:"status"` // stopped or error
	EndTime    int64  `json:"endTime"`
}

// TabState is the authoritative record for one browser tab.
// All timestamps are milliseconds since the epoch; 0 means unset.
type TabState struct {
	TabID    int    `json:"tabId"`
	WindowID int    `json:"windowId"`
	Status   Status `json:"status"`

	// RunName labels the current or most recently finished run.
	RunName string `json:"runName,omitempty"`

	StartTime      int64 `json:"startTime,omitempty"`
	ElapsedTime    int64 `json:"elapsedTime"`
	PausedTime     int64 `json:"pausedTime"`
	PauseStartTime int64 `json:"pauseStartTime,omitempty"`

	// PausedFrom remembers which state a pause interrupted so Resume can
	// restore it.
	PausedFrom Status `json:"pausedFrom,omitempty"`

	History []HistoryEntry `json:"history,omitempty"`

	Error     string `json:"error,omitempty"`
	IsVisible bool   `json:"isVisible"`
}

// Global maps tab id to its state. It is persisted as one atomic unit and
// pushed to observers as a full snapshot.
type Global map[int]*TabState

// New returns a TabState with connect-time defaults.
func New(tabID, windowID int) *TabState {
	return &TabState{
		TabID:     tabID,
		WindowID:  windowID,
		Status:    StatusMonitoring,
		IsVisible: true,
	}
}

// Clone returns a deep copy, so broadcast snapshots cannot alias live state.
func (g Global) Clone() Global {
	out := make(Global, len(g))
	for id, ts := range g {
		cp := *ts
		cp.History = append([]HistoryEntry(nil), ts.History...)
		out[id] = &cp
	}
	return out
}

// HistoryHead returns the id of the newest history entry, or "".
func (t *TabState) HistoryHead() string {
	if len(t.History) == 0 {
		return ""
	}
	return t.History[0].ID
}

// Idle reports whether the tab is in a state the standby controller may
// touch. Running, paused, error and stopped tabs are never demoted.
func (t *TabState) Idle() bool {
	return t.Status == StatusMonitoring || t.Status == StatusStandby
}

func historyID(tabID int, end int64) string {
	return fmt.Sprintf("%d-%d", tabID, end)
}

func toMs(t time.Time) int64 {
	return t.UnixMilli()
}
