package source

import "sync/atomic"

// Counts is the serializable form of RequestStats, returned by worker
// batches so the dispatching side can merge them.
type Counts struct {
	Direct   int64 `json:"direct"`
	Fallback int64 `json:"fallback"`
}

// RequestStats tallies primary vs fallback requests for one run.
type RequestStats struct {
	direct   atomic.Int64
	fallback atomic.Int64
}

func (s *RequestStats) AddDirect(n int64)   { s.direct.Add(n) }
func (s *RequestStats) AddFallback(n int64) { s.fallback.Add(n) }

func (s *RequestStats) Counts() Counts {
	return Counts{Direct: s.direct.Load(), Fallback: s.fallback.Load()}
}

func (s *RequestStats) Merge(c Counts) {
	s.direct.Add(c.Direct)
	s.fallback.Add(c.Fallback)
}
