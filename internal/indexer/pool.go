package indexer

import (
	"errors"
	"sync"
	"time"

	"dicom-indexer/internal/logging"
	"dicom-indexer/internal/metrics"
)

var errPoolClosed = errors.New("worker pool closed")

// ewmaAlpha weights the latest per-file latency sample against history.
const ewmaAlpha = 0.3

// adaptivePool bounds in-flight extractions and adjusts the bound from
// observed per-file latency. When the smoothed latency climbs past the
// threshold the share is struggling, so concurrency shrinks toward min;
// when latency recovers below half the threshold it grows back toward max.
type adaptivePool struct {
	mu   sync.Mutex
	cond *sync.Cond

	limit  int
	active int
	min    int
	max    int

	ewma      float64 // seconds, 0 until first sample
	threshold float64 // seconds
	closed    bool
}

func newAdaptivePool(min, max int, threshold time.Duration) *adaptivePool {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	p := &adaptivePool{
		limit:     max,
		min:       min,
		max:       max,
		threshold: threshold.Seconds(),
	}
	p.cond = sync.NewCond(&p.mu)
	metrics.IndexPoolWorkers.Set(float64(p.limit))
	return p
}

// acquire blocks until an extraction slot is available.
func (p *adaptivePool) acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.active >= p.limit && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return errPoolClosed
	}
	p.active++
	return nil
}

// release returns a slot and folds the observed latency into the limit.
func (p *adaptivePool) release(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active--

	sample := latency.Seconds()
	if p.ewma == 0 {
		p.ewma = sample
	} else {
		p.ewma = ewmaAlpha*sample + (1-ewmaAlpha)*p.ewma
	}

	prev := p.limit
	if p.ewma > p.threshold && p.limit > p.min {
		p.limit--
	} else if p.ewma < p.threshold/2 && p.limit < p.max {
		p.limit++
	}
	if p.limit != prev {
		metrics.IndexPoolWorkers.Set(float64(p.limit))
		logging.Debug("Worker pool limit %d -> %d (ewma latency %.3fs)", prev, p.limit, p.ewma)
	}

	p.cond.Broadcast()
}

// close unblocks all waiters; subsequent acquires fail.
func (p *adaptivePool) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Limit returns the current concurrency bound.
func (p *adaptivePool) Limit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit
}
