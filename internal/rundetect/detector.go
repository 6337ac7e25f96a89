// Package rundetect turns raw busy-marker samples into edge-triggered
// run events. Page observers report the current presence of the busy
// selector; only transitions against the last known value produce events.
package rundetect

import "sync"

// EventType is an edge in the busy-marker signal.
type EventType string

const (
	BusyAppeared    EventType = "busy-appeared"
	BusyDisappeared EventType = "busy-disappeared"
)

// Event is one detected transition for a tab.
type Event struct {
	TabID int
	Type  EventType
}

// Detector deduplicates busy samples per tab against the last known value.
type Detector struct {
	mu   sync.Mutex
	last map[int]bool // last sampled value, present only after first sample
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{last: make(map[int]bool)}
}

// Sample records a busy observation for a tab. It returns an edge event
// when the value changed. The first sample establishes the baseline; a
// first true sample is an appearance (the page connected mid-run), a
// first false sample is silent.
func (d *Detector) Sample(tabID int, busy bool) (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, seen := d.last[tabID]
	d.last[tabID] = busy

	if !seen {
		if busy {
			return Event{TabID: tabID, Type: BusyAppeared}, true
		}
		return Event{}, false
	}
	if prev == busy {
		return Event{}, false
	}
	if busy {
		return Event{TabID: tabID, Type: BusyAppeared}, true
	}
	return Event{TabID: tabID, Type: BusyDisappeared}, true
}

// Forget drops a closed tab's baseline so a reused tab id starts fresh.
func (d *Detector) Forget(tabID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, tabID)
}
