// Package ratelimit bounds how often and how concurrently the status
// endpoint answers.
package ratelimit

import (
	"sync"
	"time"
)

// Snapshot is the limiter state reported on the status endpoint.
type Snapshot struct {
	InFlight    int     `json:"inFlight"`
	MaxInFlight int     `json:"maxInFlight"`
	Tokens      float64 `json:"tokens"`
	Admitted    uint64  `json:"admitted"`
	Refused     uint64  `json:"refused"`
}

// Limiter admits a request when fewer than maxInFlight are being served and
// a token is available. Tokens refill continuously at perMinute up to burst.
type Limiter struct {
	mu sync.Mutex

	maxInFlight int
	inFlight    int
	perMinute   float64
	burst       float64
	tokens      float64
	refilled    time.Time
	admitted    uint64
	refused     uint64

	now func() time.Time
}

// New returns a Limiter with a full bucket. Non-positive limits are raised
// to one.
func New(maxInFlight, perMinute, burst int) *Limiter {
	return newLimiter(maxInFlight, perMinute, burst, time.Now)
}

func newLimiter(maxInFlight, perMinute, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		maxInFlight: max(maxInFlight, 1),
		perMinute:   float64(max(perMinute, 1)),
		burst:       float64(max(burst, 1)),
		tokens:      float64(max(burst, 1)),
		refilled:    now(),
		now:         now,
	}
}

// Allow admits one request. Every admitted request must be followed by
// Release.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.inFlight >= l.maxInFlight || l.tokens < 1 {
		l.refused++
		return false
	}
	l.tokens--
	l.inFlight++
	l.admitted++
	return true
}

func (l *Limiter) refill() {
	now := l.now()
	l.tokens = min(l.burst, l.tokens+l.perMinute*now.Sub(l.refilled).Minutes())
	l.refilled = now
}

func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
}

// Snapshot returns current counts with the bucket refilled to now.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Snapshot{
		InFlight:    l.inFlight,
		MaxInFlight: l.maxInFlight,
		Tokens:      l.tokens,
		Admitted:    l.admitted,
		Refused:     l.refused,
	}
}

// Metrics returns the snapshot as named gauges and counters.
func (l *Limiter) Metrics() map[string]float64 {
	snap := l.Snapshot()
	return map[string]float64{
		"edsu_management_requests_inflight":       float64(snap.InFlight),
		"edsu_management_tokens":                  snap.Tokens,
		"edsu_management_requests_admitted_total": float64(snap.Admitted),
		"edsu_management_requests_refused_total":  float64(snap.Refused),
	}
}
