package output

import (
	"sync"
	"time"
)

// Stats aggregates process-lifetime totals. The TS writer updates it from the
// pipeline; the ffmpeg watcher updates it from its own goroutine, hence the
// mutex. Values only grow until process exit.
type Stats struct {
	mu            sync.Mutex
	start         time.Time
	bytes         int64
	streamSeconds float64
}

// Snapshot is a point-in-time copy of Stats for placeholder substitution.
type Snapshot struct {
	Start         time.Time
	Bytes         int64
	StreamSeconds float64
}

// NewStats starts the session clock.
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// AddBytes records n more bytes written.
func (s *Stats) AddBytes(n int64) {
	s.mu.Lock()
	s.bytes += n
	s.mu.Unlock()
}

// AddStreamSeconds records d more seconds of stream-reported duration.
func (s *Stats) AddStreamSeconds(d float64) {
	s.mu.Lock()
	s.streamSeconds += d
	s.mu.Unlock()
}

// Snapshot returns a copy of the current totals.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Start: s.start, Bytes: s.bytes, StreamSeconds: s.streamSeconds}
}
