package sender

import (
	"sync/atomic"

	"edsu/frame"
)

// Stats is a snapshot of transfer progress.
type Stats struct {
	Files        uint64 `json:"files"`
	Skipped      uint64 `json:"skipped"`
	Frames       uint64 `json:"frames"`
	Padded       uint64 `json:"padded"`
	PayloadBytes uint64 `json:"payloadBytes"`
	WireBytes    uint64 `json:"wireBytes"`
	Current      string `json:"current,omitempty"`
}

type counters struct {
	files        atomic.Uint64
	skipped      atomic.Uint64
	frames       atomic.Uint64
	padded       atomic.Uint64
	payloadBytes atomic.Uint64
	wireBytes    atomic.Uint64
	current      atomic.Pointer[string]
}

func (c *counters) begin(name string) { c.current.Store(&name) }

func (c *counters) end() { c.current.Store(nil) }

func (c *counters) frame(payload, wire int) {
	c.frames.Add(1)
	if payload < frame.MinPayload {
		c.padded.Add(1)
	}
	c.payloadBytes.Add(uint64(payload))
	c.wireBytes.Add(uint64(wire))
}

// Stats returns current progress. It is safe to call while a transfer runs.
func (s *Sender) Stats() Stats {
	st := Stats{
		Files:        s.stats.files.Load(),
		Skipped:      s.stats.skipped.Load(),
		Frames:       s.stats.frames.Load(),
		Padded:       s.stats.padded.Load(),
		PayloadBytes: s.stats.payloadBytes.Load(),
		WireBytes:    s.stats.wireBytes.Load(),
	}
	if p := s.stats.current.Load(); p != nil {
		st.Current = *p
	}
	return st
}

// Metrics returns progress as named gauges.
func (s *Sender) Metrics() map[string]float64 {
	st := s.Stats()
	return map[string]float64{
		"edsu_files_sent_total":    float64(st.Files),
		"edsu_files_skipped_total": float64(st.Skipped),
		"edsu_frames_sent_total":   float64(st.Frames),
		"edsu_frames_padded_total": float64(st.Padded),
		"edsu_payload_bytes_total": float64(st.PayloadBytes),
		"edsu_wire_bytes_total":    float64(st.WireBytes),
	}
}
