// Package state keeps a bounded record of recent transfers for the
// management endpoint.
package state

import (
	"sync"
	"time"
)

// Transfer is the outcome of one input.
type Transfer struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Frames    uint64    `json:"frames"`
	Bytes     int64     `json:"bytes"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// OK reports whether the transfer completed.
func (t Transfer) OK() bool { return !t.Skipped && t.Error == "" }

// History holds the most recent transfers, oldest first.
type History struct {
	mu      sync.RWMutex
	events  []Transfer
	maxSize int
	now     func() time.Time
}

// NewHistory keeps up to maxSize transfers. Non-positive sizes select 64.
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &History{
		events:  make([]Transfer, 0, maxSize),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Record appends t, stamping it if it carries no time, and evicts the
// oldest entry when full.
func (h *History) Record(t Transfer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t.Timestamp.IsZero() {
		t.Timestamp = h.now()
	}
	h.events = append(h.events, t)
	if len(h.events) > h.maxSize {
		h.events = h.events[len(h.events)-h.maxSize:]
	}
}

// Recent returns a copy of the retained transfers.
func (h *History) Recent() []Transfer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Transfer, len(h.events))
	copy(out, h.events)
	return out
}

// Summary is the outcome breakdown of the retained transfers.
type Summary struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Summary counts the retained transfers by outcome.
func (h *History) Summary() Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sum := Summary{Total: len(h.events)}
	for _, t := range h.events {
		switch {
		case t.OK():
			sum.Sent++
		case t.Skipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}
	return sum
}
