// Package standby demotes unfocused idle tabs so their page observers can
// stop polling the DOM. It only ever touches idle observation state;
// running, paused, errored and freshly stopped tabs keep their status no
// matter where focus goes.
package standby

import (
	"runbell/internal/runstate"
	"runbell/internal/store"
)

// Controller recomputes standby assignments on focus changes.
type Controller struct {
	store *store.Store
}

// NewController wires the controller to the state store.
func NewController(s *store.Store) *Controller {
	return &Controller{store: s}
}

// Activate records that tabID in windowID is now the user's active tab.
// Every other idle tab goes to standby; the active tab returns to
// monitoring. One store mutation covers the whole pass. Only the status
// is toggled; IsVisible belongs to the user (closing the indicator) and
// is left alone.
func (c *Controller) Activate(tabID, windowID int) error {
	return c.store.MutateAll(func(g runstate.Global) bool {
		changed := false
		for id, ts := range g {
			active := id == tabID
			if ts.SetStandby(!active) {
				changed = true
			}
			if active && windowID != 0 && ts.WindowID != windowID {
				ts.WindowID = windowID
				changed = true
			}
		}
		return changed
	})
}
