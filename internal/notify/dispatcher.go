// Package notify turns qualifying stop events into system notifications
// and manages their afterlife: click-to-focus, dismiss, and "remind me
// later" alarms. Contexts live in the store, keyed by notification id, so
// a restarted daemon can still act on notifications it created before
// dying.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"runbell/internal/store"
)

// Context is what acting on a notification later requires.
type Context struct {
	TabID      int    `json:"tabId"`
	WindowID   int    `json:"windowId"`
	DurationMs int64  `json:"durationMs,omitempty"`
	RunName    string `json:"runName,omitempty"`
}

// reminder is the persisted form of a pending "remind me" alarm.
type reminder struct {
	Context Context `json:"context"`
	Due     int64   `json:"due"` // epoch ms
}

// Sender delivers the rendered notification. Implementations: the hub
// (the extension shows it via the platform notification API) and an
// exec-based desktop fallback.
type Sender interface {
	Send(id, title, body string) error
}

// Button indices on the notification, in display order.
const (
	ButtonDismiss = 0
	ButtonRemind  = 1
)

// displayThreshold hides the duration text for very short runs.
const displayThreshold = 10 * time.Second

func notificationKey(id string) string { return "notification:" + id }
func reminderKey(id string) string     { return "remind-" + id }

const reminderPrefix = "remind-"

// Dispatcher owns notification lifecycle.
type Dispatcher struct {
	records *store.Store
	sender  Sender
	focus   func(tabID, windowID int)
	delay   time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	now    func() time.Time
}

// NewDispatcher wires a dispatcher. focus is invoked when the user clicks
// a notification body; reminderDelay is the "Remind in 5 min" interval.
func NewDispatcher(records *store.Store, sender Sender, focus func(tabID, windowID int), reminderDelay time.Duration) *Dispatcher {
	if reminderDelay <= 0 {
		reminderDelay = 5 * time.Minute
	}
	return &Dispatcher{
		records: records,
		sender:  sender,
		focus:   focus,
		delay:   reminderDelay,
		timers:  make(map[string]*time.Timer),
		now:     time.Now,
	}
}

// Notify creates a notification for a finished run. The context record is
// persisted before the sender runs, so a button click can never race an
// unwritten context; a send failure rolls the record back.
func (d *Dispatcher) Notify(ctx Context) (string, error) {
	id := uuid.NewString()

	if err := d.records.PutRecord(notificationKey(id), ctx); err != nil {
		return "", err
	}

	title, body := render(ctx)
	if err := d.sender.Send(id, title, body); err != nil {
		_ = d.records.DeleteRecord(notificationKey(id))
		return "", fmt.Errorf("send notification: %w", err)
	}
	return id, nil
}

// OnClicked handles a click on the notification body: focus the
// originating tab, then clean up. A missing context is a benign no-op
// (already cleaned up, or someone else's notification).
func (d *Dispatcher) OnClicked(id string) {
	var ctx Context
	ok, err := d.records.GetRecord(notificationKey(id), &ctx)
	if err != nil || !ok {
		return
	}
	if d.focus != nil {
		d.focus(ctx.TabID, ctx.WindowID)
	}
	d.OnClosed(id)
}

// OnButtonClicked handles the two action buttons.
func (d *Dispatcher) OnButtonClicked(id string, index int) {
	var ctx Context
	ok, err := d.records.GetRecord(notificationKey(id), &ctx)
	if err != nil || !ok {
		return
	}

	switch index {
	case ButtonDismiss:
		d.OnClosed(id)
	case ButtonRemind:
		due := d.now().Add(d.delay)
		if err := d.records.PutRecord(reminderKey(id), reminder{Context: ctx, Due: due.UnixMilli()}); err != nil {
			return
		}
		d.armTimer(id, d.delay)
		d.OnClosed(id)
	}
}

// OnClosed is the single cleanup path for a notification id and runs for
// every close cause: user dismissal, auto-expiry, explicit clear.
func (d *Dispatcher) OnClosed(id string) {
	_ = d.records.DeleteRecord(notificationKey(id))
}

// OnAlarm fires a pending reminder: re-notify with the stored context,
// then consume the record. Unknown alarms are no-ops.
func (d *Dispatcher) OnAlarm(id string) {
	d.mu.Lock()
	delete(d.timers, id)
	d.mu.Unlock()

	var rem reminder
	ok, err := d.records.GetRecord(reminderKey(id), &rem)
	if err != nil || !ok {
		return
	}
	_, _ = d.Notify(rem.Context)
	_ = d.records.DeleteRecord(reminderKey(id))
}

// RestoreAlarms re-arms reminders persisted by a previous daemon
// incarnation. Past-due reminders fire immediately.
func (d *Dispatcher) RestoreAlarms() error {
	keys, err := d.records.RecordKeys(reminderPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		var rem reminder
		ok, err := d.records.GetRecord(key, &rem)
		if err != nil || !ok {
			continue
		}
		id := strings.TrimPrefix(key, reminderPrefix)
		delay := time.Until(time.UnixMilli(rem.Due))
		if delay < 0 {
			delay = 0
		}
		d.armTimer(id, delay)
	}
	return nil
}

// Stop cancels all pending reminder timers. Their records stay persisted
// for the next daemon start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}

// armTimer schedules the one-shot reminder, replacing any timer already
// armed for the same id so at most one alarm exists per notification.
func (d *Dispatcher) armTimer(id string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.timers[id]; ok {
		old.Stop()
	}
	d.timers[id] = time.AfterFunc(delay, func() { d.OnAlarm(id) })
}

// render formats the notification title and body.
func render(ctx Context) (title, body string) {
	title = "Run finished"

	var parts []string
	if ctx.RunName != "" {
		parts = append(parts, fmt.Sprintf("%q is done", ctx.RunName))
	} else {
		parts = append(parts, "Your run is done")
	}
	if ctx.DurationMs >= displayThreshold.Milliseconds() {
		parts = append(parts, "took "+formatDuration(ctx.DurationMs))
	}
	return title, strings.Join(parts, ", ")
}

// formatDuration renders milliseconds as "Xm Ys" (or "Ys" under a
// minute).
func formatDuration(ms int64) string {
	total := ms / 1000
	m := total / 60
	s := total % 60
	if m == 0 {
		return fmt.Sprintf("%ds", s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}
