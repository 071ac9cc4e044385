package indexer

import (
	"context"
	"errors"
	"sync"
	"time"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/enumerator"
	"dicom-indexer/internal/extractor"
	"dicom-indexer/internal/logging"
	"dicom-indexer/internal/metrics"
	"dicom-indexer/internal/workers"
)

// Sentinel errors for run control.
var (
	// ErrRunActive indicates an indexing run is already in progress.
	ErrRunActive = errors.New("indexing run already active")

	// ErrNoActiveRun indicates there is no run to cancel, pause, or resume.
	ErrNoActiveRun = errors.New("no active indexing run")
)

// Extractor reads header metadata from one candidate file.
type Extractor interface {
	Extract(ctx context.Context, path string) (extractor.SeriesFields, error)
}

// Config controls an Indexer.
type Config struct {
	// Root is the store root to index.
	Root string
	// MaxWorkers bounds the adaptive pool. Defaults to an I/O-oriented
	// count capped at 16.
	MaxWorkers int
	// MinWorkers is the pool floor under sustained slow reads. Default 2.
	MinWorkers int
	// LatencyThreshold is the smoothed per-file latency above which the
	// pool shrinks. Default 2s.
	LatencyThreshold time.Duration
	// CheckpointFiles forces a checkpoint after this many processed files.
	// Default 50.
	CheckpointFiles int
	// CheckpointInterval forces a checkpoint when this much time has passed
	// since the last one. Default 10s.
	CheckpointInterval time.Duration
	// Enumerator configures the candidate walk.
	Enumerator enumerator.Config
	// OnComplete runs after a successful finalize (not after cancellation).
	// Used to refresh the search cache.
	OnComplete func()
}

// DefaultConfig returns production defaults for the given store root.
func DefaultConfig(root string) Config {
	return Config{
		Root:               root,
		MaxWorkers:         workers.ForIO(16),
		MinWorkers:         2,
		LatencyThreshold:   2 * time.Second,
		CheckpointFiles:    50,
		CheckpointInterval: 10 * time.Second,
		Enumerator:         enumerator.DefaultConfig(),
	}
}

// Indexer runs indexing passes over the store root and persists the results
// through a catalog.Store.
type Indexer struct {
	cfg   Config
	store *catalog.Store
	ext   Extractor
	pub   *publisher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	gate    *pauseGate
	done    chan struct{}
}

// New creates an Indexer. The never-indexed flag is seeded from whether an
// index file already exists on disk.
func New(cfg Config, store *catalog.Store, ext Extractor) *Indexer {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = workers.ForIO(16)
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 2
	}
	if cfg.MinWorkers > cfg.MaxWorkers {
		cfg.MinWorkers = cfg.MaxWorkers
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = 2 * time.Second
	}
	if cfg.CheckpointFiles <= 0 {
		cfg.CheckpointFiles = 50
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 10 * time.Second
	}

	return &Indexer{
		cfg:   cfg,
		store: store,
		ext:   ext,
		pub: newPublisher(Status{
			State:        StateIdle,
			NeverIndexed: !store.Exists(),
			Root:         cfg.Root,
			Workers:      cfg.MaxWorkers,
		}),
	}
}

// Status returns the current snapshot. Never blocks on the run.
func (ix *Indexer) Status() Status {
	return ix.pub.get()
}

// Start begins an indexing run in the background.
// Returns ErrRunActive if one is already in progress.
func (ix *Indexer) Start() error {
	ix.mu.Lock()
	if ix.running {
		ix.mu.Unlock()
		return ErrRunActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	ix.running = true
	ix.cancel = cancel
	ix.gate = newPauseGate()
	ix.done = make(chan struct{})
	gate, done := ix.gate, ix.done
	ix.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		ix.run(ctx, gate)

		ix.mu.Lock()
		ix.running = false
		ix.cancel = nil
		ix.gate = nil
		ix.mu.Unlock()
	}()

	return nil
}

// Cancel stops the active run. In-flight extractions finish; their results
// are discarded or kept depending on whether the collector has drained them.
func (ix *Indexer) Cancel() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.running {
		return ErrNoActiveRun
	}
	// A paused run must still cancel promptly.
	ix.gate.Resume()
	ix.cancel()
	return nil
}

// Pause suspends the workers of the active run. In-flight extractions finish
// first; no new file is picked up until Resume.
func (ix *Indexer) Pause() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.running {
		return ErrNoActiveRun
	}
	ix.gate.Pause()
	ix.pub.update(func(s *Status) { s.Paused = true })
	logging.Info("Indexing run paused")
	return nil
}

// Resume continues a paused run.
func (ix *Indexer) Resume() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.running {
		return ErrNoActiveRun
	}
	ix.gate.Resume()
	ix.pub.update(func(s *Status) { s.Paused = false })
	logging.Info("Indexing run resumed")
	return nil
}

// Wait blocks until the active run finishes. Returns immediately when no run
// is active.
func (ix *Indexer) Wait() {
	ix.mu.Lock()
	done := ix.done
	ix.mu.Unlock()
	if done != nil {
		<-done
	}
}

type result struct {
	path   string
	fields extractor.SeriesFields
	err    error
}

func (ix *Indexer) run(ctx context.Context, gate *pauseGate) {
	start := time.Now()
	metrics.IndexRunsTotal.Inc()
	metrics.IndexRunActive.Set(1)
	defer metrics.IndexRunActive.Set(0)

	logging.Info("Indexing run started for %s", ix.cfg.Root)

	ix.pub.update(func(s *Status) {
		startedAt := start.UTC()
		*s = Status{
			State:        StateEnumerating,
			Running:      true,
			NeverIndexed: s.NeverIndexed,
			Root:         ix.cfg.Root,
			Workers:      ix.cfg.MaxWorkers,
			StartedAt:    &startedAt,
		}
	})

	candidates, err := enumerator.Collect(ctx, ix.cfg.Root, ix.cfg.Enumerator)
	if err != nil {
		ix.finish(ctx, start, err)
		return
	}

	metrics.IndexEnumeratedFiles.Set(float64(len(candidates)))
	ix.pub.update(func(s *Status) {
		s.State = StateExtracting
		s.EnumeratedFiles = len(candidates)
	})
	logging.Info("Extracting headers from %d candidates with up to %d workers",
		len(candidates), ix.cfg.MaxWorkers)

	pool := newAdaptivePool(ix.cfg.MinWorkers, ix.cfg.MaxWorkers, ix.cfg.LatencyThreshold)
	defer pool.close()

	jobs := make(chan string)
	results := make(chan result, 64)

	var wg sync.WaitGroup
	for i := 0; i < ix.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go ix.worker(ctx, gate, pool, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for _, c := range candidates {
			select {
			case jobs <- c.Path:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	seriesMap := ix.collect(results, pool)

	ix.pub.update(func(s *Status) { s.State = StateFinalizing })

	complete := ctx.Err() == nil
	if err := ix.checkpoint(seriesMap, complete); err != nil {
		logging.Error("Final index write failed: %v", err)
		ix.finish(ctx, start, err)
		return
	}

	if complete && ix.cfg.OnComplete != nil {
		ix.cfg.OnComplete()
	}
	ix.finish(ctx, start, nil)
}

// worker pulls paths, extracts under the pool's concurrency bound, and hands
// results to the collector. Pause is honored between files.
func (ix *Indexer) worker(ctx context.Context, gate *pauseGate, pool *adaptivePool,
	jobs <-chan string, results chan<- result, wg *sync.WaitGroup) {
	defer wg.Done()

	for path := range jobs {
		if err := gate.Wait(ctx); err != nil {
			return
		}
		if err := pool.acquire(); err != nil {
			return
		}

		t0 := time.Now()
		fields, err := ix.ext.Extract(ctx, path)
		pool.release(time.Since(t0))

		if ctx.Err() != nil {
			return
		}
		select {
		case results <- result{path: path, fields: fields, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// collect is the single writer of the record set. It merges results by series
// key and checkpoints periodically so a crash never loses more than a bounded
// amount of work.
func (ix *Indexer) collect(results <-chan result, pool *adaptivePool) map[string]*catalog.SeriesRecord {
	seriesMap := make(map[string]*catalog.SeriesRecord)
	var processed, errCount int
	sinceCheckpoint := 0
	lastCheckpoint := time.Now()

	for res := range results {
		processed++
		metrics.IndexFilesProcessed.Inc()

		if res.err != nil {
			errCount++
			kind := extractor.Classify(res.err)
			metrics.IndexErrors.WithLabelValues(kind).Inc()
			logging.Debug("Skipping %s (%s): %v", res.path, kind, res.err)
		} else {
			key, synthesized := res.fields.SeriesKey()
			rec, ok := seriesMap[key]
			if !ok {
				rec = newRecord(key, synthesized, res.fields)
				seriesMap[key] = rec
				metrics.IndexSeriesCount.Set(float64(len(seriesMap)))
			}
			rec.AddFile(res.path)
		}

		ix.pub.update(func(s *Status) {
			s.FilesProcessed = processed
			s.SeriesCount = len(seriesMap)
			s.Errors = errCount
			s.Workers = pool.Limit()
		})

		sinceCheckpoint++
		if sinceCheckpoint >= ix.cfg.CheckpointFiles ||
			time.Since(lastCheckpoint) >= ix.cfg.CheckpointInterval {
			if err := ix.checkpoint(seriesMap, false); err != nil {
				logging.Warn("Checkpoint failed, continuing: %v", err)
			}
			sinceCheckpoint = 0
			lastCheckpoint = time.Now()
		}
	}

	return seriesMap
}

func newRecord(key string, synthesized bool, f extractor.SeriesFields) *catalog.SeriesRecord {
	return &catalog.SeriesRecord{
		SeriesKey:         key,
		SyntheticKey:      synthesized,
		StudyInstanceUID:  f.StudyInstanceUID,
		PatientName:       f.PatientName,
		PatientID:         f.PatientID,
		PatientBirthDate:  f.PatientBirthDate,
		PatientSex:        f.PatientSex,
		StudyDate:         f.StudyDate,
		StudyDescription:  f.StudyDescription,
		SeriesDescription: f.SeriesDescription,
		SeriesNumber:      f.SeriesNumber,
		Modality:          f.Modality,
		IndexedAt:         time.Now().UTC(),
	}
}

// checkpoint persists the current record set. Every checkpoint is a complete,
// valid document; Complete marks whether the run finished.
func (ix *Indexer) checkpoint(seriesMap map[string]*catalog.SeriesRecord, complete bool) error {
	records := make([]catalog.SeriesRecord, 0, len(seriesMap))
	for _, rec := range seriesMap {
		records = append(records, rec.Clone())
	}
	catalog.SortSeries(records)

	idx := &catalog.Index{
		GeneratedAt: time.Now().UTC(),
		Root:        ix.cfg.Root,
		Complete:    complete,
		Series:      records,
	}
	if err := ix.store.Save(idx); err != nil {
		return err
	}

	metrics.IndexCheckpointsTotal.Inc()
	ix.pub.update(func(s *Status) { s.NeverIndexed = false })
	return nil
}

// finish publishes the terminal state of the run.
func (ix *Indexer) finish(ctx context.Context, start time.Time, err error) {
	finished := time.Now().UTC()
	cancelled := ctx.Err() != nil

	ix.pub.update(func(s *Status) {
		s.Running = false
		s.Paused = false
		s.FinishedAt = &finished
		if cancelled {
			s.State = StateCancelled
		} else {
			s.State = StateIdle
		}
		if err != nil && !cancelled {
			s.LastError = err.Error()
		}
	})

	switch {
	case cancelled:
		logging.Info("Indexing run cancelled after %v", time.Since(start).Round(time.Millisecond))
	case err != nil:
		logging.Error("Indexing run failed after %v: %v", time.Since(start).Round(time.Millisecond), err)
	default:
		metrics.IndexLastRunTimestamp.Set(float64(finished.Unix()))
		metrics.IndexLastRunDuration.Set(time.Since(start).Seconds())
		logging.Info("Indexing run completed in %v", time.Since(start).Round(time.Millisecond))
	}
}
