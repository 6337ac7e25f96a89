package runstate

import "time"

// Tunables for run bookkeeping. The daemon can override the config-driven
// ones per call; these are the defaults the extension shipped with.
const (
	// HistoryLimit caps each tab's run history, oldest evicted first.
	HistoryLimit = 20

	// MinNotifyDuration filters out trivial or false-positive runs.
	MinNotifyDuration = 3 * time.Second

	// StoppedRevertDelay is how long a tab shows "stopped" before
	// reverting to monitoring.
	StoppedRevertDelay = 5 * time.Second
)

// StopResult carries what a stop transition produced.
type StopResult struct {
	Entry HistoryEntry

	// Notify is true when the run qualifies for a system notification:
	// long enough and not an error.
	Notify bool
}

// StartRun begins a run. It is a no-op while already running or paused;
// duplicate busy-appeared signals from flaky detection land here.
// A start clears a previous error or stopped result.
func (t *TabState) StartRun(name string, now time.Time) bool {
	switch t.Status {
	case StatusRunning, StatusPaused:
		return false
	case StatusMonitoring, StatusStandby, StatusStopped, StatusError:
	}

	t.Status = StatusRunning
	t.RunName = name
	t.StartTime = toMs(now)
	t.ElapsedTime = 0
	t.PausedTime = 0
	t.PauseStartTime = 0
	t.PausedFrom = ""
	t.Error = ""
	return true
}

// StopRun ends the current run, records a history entry and reports
// whether the stop is notification-worthy. minDuration <= 0 uses
// MinNotifyDuration; historyLimit <= 0 uses HistoryLimit. Stopping a tab
// that is not running or paused is a no-op, except for isError which
// always forces the error status.
func (t *TabState) StopRun(now time.Time, isError bool, errMsg string, minDuration time.Duration, historyLimit int) (StopResult, bool) {
	if t.Status != StatusRunning && t.Status != StatusPaused {
		if isError {
			t.SetError(errMsg)
		}
		return StopResult{}, false
	}
	if minDuration <= 0 {
		minDuration = MinNotifyDuration
	}
	if historyLimit <= 0 {
		historyLimit = HistoryLimit
	}

	nowMs := toMs(now)

	// Fold an open pause interval before computing the final duration.
	if t.Status == StatusPaused && t.PauseStartTime != 0 {
		t.PausedTime += nowMs - t.PauseStartTime
		t.PauseStartTime = 0
	}

	final := nowMs - t.StartTime - t.PausedTime
	if final < 0 {
		final = 0
	}

	outcome := StatusStopped
	if isError {
		outcome = StatusError
	}

	entry := HistoryEntry{
		ID:         historyID(t.TabID, nowMs),
		RunName:    t.RunName,
		DurationMs: final,
		Status:     outcome,
		EndTime:    nowMs,
	}
	t.History = append([]HistoryEntry{entry}, t.History...)
	if len(t.History) > historyLimit {
		t.History = t.History[:historyLimit]
	}

	t.ElapsedTime = final
	t.StartTime = 0
	t.PausedTime = 0
	t.PausedFrom = ""

	if isError {
		t.Status = StatusError
		t.Error = errMsg
	} else {
		t.Status = StatusStopped
		t.Error = ""
	}

	notify := !isError && final >= minDuration.Milliseconds()
	return StopResult{Entry: entry, Notify: notify}, true
}

// Pause suspends the clock. Pausing an idle tab is allowed (it pauses
// observation before a run starts) and resumes back to the same state.
func (t *TabState) Pause(now time.Time) bool {
	switch t.Status {
	case StatusRunning:
		nowMs := toMs(now)
		t.ElapsedTime = nowMs - t.StartTime - t.PausedTime
		if t.ElapsedTime < 0 {
			t.ElapsedTime = 0
		}
		t.PauseStartTime = nowMs
		t.PausedFrom = StatusRunning
		t.Status = StatusPaused
		return true
	case StatusMonitoring, StatusStandby:
		t.PauseStartTime = toMs(now)
		t.PausedFrom = t.Status
		t.Status = StatusPaused
		return true
	default:
		return false
	}
}

// Resume restores the state a pause interrupted, folding the paused
// interval into PausedTime when resuming into a run.
func (t *TabState) Resume(now time.Time) bool {
	if t.Status != StatusPaused {
		return false
	}

	prev := t.PausedFrom
	if prev == "" {
		prev = StatusMonitoring
	}

	if prev == StatusRunning && t.PauseStartTime != 0 {
		t.PausedTime += toMs(now) - t.PauseStartTime
	}
	t.PauseStartTime = 0
	t.PausedFrom = ""
	t.Status = prev
	return true
}

// PauseResume toggles between paused and its previous state.
func (t *TabState) PauseResume(now time.Time) bool {
	if t.Status == StatusPaused {
		return t.Resume(now)
	}
	return t.Pause(now)
}

// SetError forces the error status with a message. Non-fatal: a later
// StartRun recovers the tab.
func (t *TabState) SetError(msg string) {
	t.Status = StatusError
	t.Error = msg
	t.StartTime = 0
	t.PauseStartTime = 0
	t.PausedFrom = ""
}

// Tick recomputes the live elapsed time. Only running tabs change.
func (t *TabState) Tick(now time.Time) bool {
	if t.Status != StatusRunning {
		return false
	}
	e := toMs(now) - t.StartTime - t.PausedTime
	if e < 0 {
		e = 0
	}
	if e == t.ElapsedTime {
		return false
	}
	t.ElapsedTime = e
	return true
}

// RevertStopped moves a stopped tab back to monitoring, clearing the
// finished run's display fields. headID guards against a newer run having
// completed in the interim: the revert only applies while the history
// head is still the entry that scheduled it.
func (t *TabState) RevertStopped(headID string) bool {
	if t.Status != StatusStopped || t.HistoryHead() != headID {
		return false
	}
	t.Status = StatusMonitoring
	t.RunName = ""
	t.Error = ""
	t.ElapsedTime = 0
	return true
}

// SetStandby demotes or promotes an idle tab. Non-idle tabs are left alone.
func (t *TabState) SetStandby(standby bool) bool {
	if !t.Idle() {
		return false
	}
	want := StatusMonitoring
	if standby {
		want = StatusStandby
	}
	if t.Status == want {
		return false
	}
	t.Status = want
	return true
}
