package indexer

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the coarse phase of the indexer.
type State string

// Run states. A run moves Enumerating -> Extracting -> Finalizing and ends
// in Idle, or in Cancelled when stopped early.
const (
	StateIdle        State = "idle"
	StateEnumerating State = "enumerating"
	StateExtracting  State = "extracting"
	StateFinalizing  State = "finalizing"
	StateCancelled   State = "cancelled"
)

// Status is a point-in-time snapshot of the indexer. Counters describe the
// current run while one is active, otherwise the last run.
type Status struct {
	State           State      `json:"state"`
	Running         bool       `json:"running"`
	Paused          bool       `json:"paused"`
	NeverIndexed    bool       `json:"never_indexed"`
	Root            string     `json:"root,omitempty"`
	EnumeratedFiles int        `json:"enumerated_files"`
	FilesProcessed  int        `json:"files_processed"`
	SeriesCount     int        `json:"series_count"`
	Errors          int        `json:"errors"`
	Workers         int        `json:"workers"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastUpdated     time.Time  `json:"last_updated"`
}

// publisher holds the current Status snapshot. Reads are a lock-free
// atomic.Value load; updates are serialized so copy-on-write is safe even
// when the run goroutine and an HTTP handler (pause/resume) both publish.
type publisher struct {
	mu sync.Mutex
	v  atomic.Value
}

func newPublisher(initial Status) *publisher {
	p := &publisher{}
	initial.LastUpdated = time.Now().UTC()
	p.v.Store(initial)
	return p
}

func (p *publisher) get() Status {
	return p.v.Load().(Status)
}

func (p *publisher) update(fn func(*Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.v.Load().(Status)
	fn(&s)
	s.LastUpdated = time.Now().UTC()
	p.v.Store(s)
}
