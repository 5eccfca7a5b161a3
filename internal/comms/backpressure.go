package comms

import "sync"

// SlotChecker reports whether the send queue has at least n free slots.
type SlotChecker interface {
	MinSlotsFree(n int) bool
}

// FlowControl describes one transport kind: its free-slot threshold and the
// callback that lifts a pause. Resume must be idempotent.
type FlowControl struct {
	Name    string
	MinFree int
	Resume  func()
}

// Backpressure resumes paused transports once the send queue has drained
// below their thresholds.
type Backpressure struct {
	mu      sync.RWMutex
	slots   SlotChecker
	entries []FlowControl
}

// NewBackpressure returns a table checking slots for the given transports.
func NewBackpressure(slots SlotChecker, entries ...FlowControl) *Backpressure {
	return &Backpressure{slots: slots, entries: entries}
}

// Register adds a transport kind.
func (b *Backpressure) Register(fc FlowControl) {
	b.mu.Lock()
	b.entries = append(b.entries, fc)
	b.mu.Unlock()
}

// Refresh invokes Resume for every transport whose threshold is met.
func (b *Backpressure) Refresh() {
	if b == nil || b.slots == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fc := range b.entries {
		if fc.Resume != nil && b.slots.MinSlotsFree(fc.MinFree) {
			fc.Resume()
		}
	}
}
