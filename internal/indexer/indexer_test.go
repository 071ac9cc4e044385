package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/extractor"
)

// stubExtractor reads SeriesFields as JSON from the candidate file itself.
// Files that do not parse are rejected the way junk is in production. An
// optional token channel makes progress externally controllable.
type stubExtractor struct {
	proceed chan struct{}
}

func (s *stubExtractor) Extract(ctx context.Context, path string) (extractor.SeriesFields, error) {
	if s.proceed != nil {
		select {
		case <-s.proceed:
		case <-ctx.Done():
			return extractor.SeriesFields{}, ctx.Err()
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return extractor.SeriesFields{}, fmt.Errorf("read %s: %w", path, err)
	}
	var f extractor.SeriesFields
	if err := json.Unmarshal(data, &f); err != nil {
		return extractor.SeriesFields{}, fmt.Errorf("%s: %w", path, extractor.ErrNotDICOM)
	}
	return f, nil
}

func writeSeriesFile(t *testing.T, dir, name string, f extractor.SeriesFields) {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// populateStore lays out 200 candidate files: 195 valid instances across 3
// series plus 5 junk files.
func populateStore(t *testing.T, root string) {
	t.Helper()

	series := []extractor.SeriesFields{
		{PatientName: "Doe Jane", PatientID: "P001", StudyInstanceUID: "1.2.1", SeriesInstanceUID: "1.2.1.1", Modality: "CT", StudyDate: "20260110"},
		{PatientName: "Doe Jane", PatientID: "P001", StudyInstanceUID: "1.2.1", SeriesInstanceUID: "1.2.1.2", Modality: "CT", StudyDate: "20260110"},
		{PatientName: "Smith John", PatientID: "P002", StudyInstanceUID: "1.2.2", SeriesInstanceUID: "1.2.2.1", Modality: "MR", StudyDate: "20251201"},
	}

	for i := 0; i < 195; i++ {
		f := series[i%3]
		writeSeriesFile(t, root, fmt.Sprintf("img%03d.dcm", i), f)
	}
	for i := 0; i < 5; i++ {
		path := filepath.Join(root, fmt.Sprintf("junk%d.dcm", i))
		if err := os.WriteFile(path, []byte("not dicom at all"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(root string) Config {
	cfg := DefaultConfig(root)
	cfg.MaxWorkers = 4
	cfg.CheckpointFiles = 25
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunScenario(t *testing.T) {
	root := t.TempDir()
	populateStore(t, root)

	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))
	refreshed := false
	cfg := testConfig(root)
	cfg.OnComplete = func() { refreshed = true }

	ix := New(cfg, store, &stubExtractor{})
	if err := ix.Start(); err != nil {
		t.Fatal(err)
	}
	ix.Wait()

	st := ix.Status()
	if st.State != StateIdle || st.Running {
		t.Fatalf("terminal status = %+v", st)
	}
	if st.EnumeratedFiles != 200 {
		t.Errorf("EnumeratedFiles = %d, want 200", st.EnumeratedFiles)
	}
	if st.FilesProcessed != 200 {
		t.Errorf("FilesProcessed = %d, want 200", st.FilesProcessed)
	}
	if st.Errors != 5 {
		t.Errorf("Errors = %d, want 5", st.Errors)
	}
	if st.SeriesCount != 3 {
		t.Errorf("SeriesCount = %d, want 3", st.SeriesCount)
	}
	if st.LastError != "" {
		t.Errorf("LastError = %q", st.LastError)
	}
	if !refreshed {
		t.Error("OnComplete was not called")
	}

	idx, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !idx.Complete {
		t.Error("finished run must persist Complete=true")
	}
	if len(idx.Series) != 3 {
		t.Fatalf("persisted %d series, want 3", len(idx.Series))
	}

	// Conservation: every processed file is either in a record or an error.
	total := 0
	for _, rec := range idx.Series {
		total += rec.FileCount
		if len(rec.Files) != rec.FileCount {
			t.Errorf("series %s: FileCount %d != len(Files) %d", rec.SeriesKey, rec.FileCount, len(rec.Files))
		}
		for i := 1; i < len(rec.Files); i++ {
			if rec.Files[i-1] >= rec.Files[i] {
				t.Fatalf("series %s file list not sorted", rec.SeriesKey)
			}
		}
	}
	if total+st.Errors != st.FilesProcessed {
		t.Errorf("conservation violated: %d files + %d errors != %d processed", total, st.Errors, st.FilesProcessed)
	}
}

func TestRunIdempotent(t *testing.T) {
	root := t.TempDir()
	populateStore(t, root)
	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))

	ix := New(testConfig(root), store, &stubExtractor{})

	run := func() *catalog.Index {
		if err := ix.Start(); err != nil {
			t.Fatal(err)
		}
		ix.Wait()
		idx, err := store.Load()
		if err != nil {
			t.Fatal(err)
		}
		return idx
	}

	first := run()
	second := run()

	if len(first.Series) != len(second.Series) {
		t.Fatalf("series count differs between runs: %d vs %d", len(first.Series), len(second.Series))
	}
	for i := range first.Series {
		a, b := first.Series[i], second.Series[i]
		if a.SeriesKey != b.SeriesKey {
			t.Fatalf("series key order differs: %s vs %s", a.SeriesKey, b.SeriesKey)
		}
		if len(a.Files) != len(b.Files) {
			t.Fatalf("series %s: file count differs", a.SeriesKey)
		}
		for j := range a.Files {
			if a.Files[j] != b.Files[j] {
				t.Fatalf("series %s: file list differs at %d", a.SeriesKey, j)
			}
		}
	}
}

func TestStartWhileRunning(t *testing.T) {
	root := t.TempDir()
	writeSeriesFile(t, root, "a.dcm", extractor.SeriesFields{
		PatientID: "P1", StudyInstanceUID: "1.2", SeriesInstanceUID: "1.2.3",
	})
	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))

	stub := &stubExtractor{proceed: make(chan struct{}, 1)}
	ix := New(testConfig(root), store, stub)

	if err := ix.Start(); err != nil {
		t.Fatal(err)
	}
	if err := ix.Start(); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Start = %v, want ErrRunActive", err)
	}

	stub.proceed <- struct{}{}
	ix.Wait()

	// After the run finishes a new one may start.
	stub.proceed <- struct{}{}
	if err := ix.Start(); err != nil {
		t.Fatal(err)
	}
	ix.Wait()
}

func TestCancelMidRunLeavesValidCheckpoint(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeSeriesFile(t, root, fmt.Sprintf("f%02d.dcm", i), extractor.SeriesFields{
			PatientID: "P1", StudyInstanceUID: "1.2", SeriesInstanceUID: "1.2.3",
		})
	}
	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))

	stub := &stubExtractor{proceed: make(chan struct{}, 20)}
	cfg := testConfig(root)
	cfg.MaxWorkers = 1
	cfg.CheckpointFiles = 2
	ix := New(cfg, store, stub)

	if err := ix.Start(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		stub.proceed <- struct{}{}
	}
	waitFor(t, 5*time.Second, func() bool { return ix.Status().FilesProcessed >= 5 })

	if err := ix.Cancel(); err != nil {
		t.Fatal(err)
	}
	ix.Wait()

	st := ix.Status()
	if st.State != StateCancelled || st.Running {
		t.Fatalf("expected cancelled terminal state, got %+v", st)
	}
	if st.FilesProcessed >= 20 {
		t.Fatalf("run was not cancelled early: processed %d", st.FilesProcessed)
	}

	// The last checkpoint must be a complete, valid document.
	idx, err := store.Load()
	if err != nil {
		t.Fatalf("checkpoint unreadable after cancel: %v", err)
	}
	if idx.Complete {
		t.Error("cancelled run must not persist Complete=true")
	}
}

func TestPauseResume(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		writeSeriesFile(t, root, fmt.Sprintf("f%02d.dcm", i), extractor.SeriesFields{
			PatientID: "P1", StudyInstanceUID: "1.2", SeriesInstanceUID: "1.2.3",
		})
	}
	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))

	stub := &stubExtractor{proceed: make(chan struct{}, 10)}
	cfg := testConfig(root)
	cfg.MaxWorkers = 1
	ix := New(cfg, store, stub)

	if err := ix.Start(); err != nil {
		t.Fatal(err)
	}

	stub.proceed <- struct{}{}
	stub.proceed <- struct{}{}
	stub.proceed <- struct{}{}
	waitFor(t, 5*time.Second, func() bool { return ix.Status().FilesProcessed >= 3 })

	if err := ix.Pause(); err != nil {
		t.Fatal(err)
	}
	if !ix.Status().Paused {
		t.Fatal("status must report paused")
	}

	// Release everything; the single worker may finish the file it already
	// picked up, then must stop at the gate.
	for i := 0; i < 7; i++ {
		stub.proceed <- struct{}{}
	}
	time.Sleep(150 * time.Millisecond)
	if got := ix.Status().FilesProcessed; got > 4 {
		t.Fatalf("worker kept processing while paused: %d files", got)
	}

	if err := ix.Resume(); err != nil {
		t.Fatal(err)
	}
	ix.Wait()

	st := ix.Status()
	if st.FilesProcessed != 10 || st.State != StateIdle {
		t.Fatalf("expected completed run after resume, got %+v", st)
	}
}

func TestControlWithoutActiveRun(t *testing.T) {
	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))
	ix := New(testConfig(t.TempDir()), store, &stubExtractor{})

	if err := ix.Cancel(); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("Cancel = %v, want ErrNoActiveRun", err)
	}
	if err := ix.Pause(); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("Pause = %v, want ErrNoActiveRun", err)
	}
	if err := ix.Resume(); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("Resume = %v, want ErrNoActiveRun", err)
	}
}

func TestNeverIndexedFlag(t *testing.T) {
	root := t.TempDir()
	writeSeriesFile(t, root, "a.dcm", extractor.SeriesFields{
		PatientID: "P1", StudyInstanceUID: "1.2", SeriesInstanceUID: "1.2.3",
	})
	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))

	ix := New(testConfig(root), store, &stubExtractor{})
	if !ix.Status().NeverIndexed {
		t.Fatal("fresh store must report never_indexed")
	}

	if err := ix.Start(); err != nil {
		t.Fatal(err)
	}
	ix.Wait()

	if ix.Status().NeverIndexed {
		t.Fatal("never_indexed must clear after the first run")
	}
}

func TestEmptyRootCompletesEmpty(t *testing.T) {
	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))
	ix := New(testConfig(t.TempDir()), store, &stubExtractor{})

	if err := ix.Start(); err != nil {
		t.Fatal(err)
	}
	ix.Wait()

	st := ix.Status()
	if st.NeverIndexed {
		t.Error("an empty completed run is not never_indexed")
	}
	if st.FilesProcessed != 0 || st.SeriesCount != 0 {
		t.Fatalf("expected empty run, got %+v", st)
	}

	idx, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !idx.Complete || len(idx.Series) != 0 {
		t.Fatalf("expected complete empty index, got %+v", idx)
	}
}

func TestUnreachableRootFailsRun(t *testing.T) {
	store := catalog.NewStore(filepath.Join(t.TempDir(), "index.json"))
	cfg := testConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	ix := New(cfg, store, &stubExtractor{})

	if err := ix.Start(); err != nil {
		t.Fatal(err)
	}
	ix.Wait()

	st := ix.Status()
	if st.Running || st.State != StateIdle {
		t.Fatalf("expected idle after failed run, got %+v", st)
	}
	if st.LastError == "" {
		t.Fatal("unreachable root must surface in last_error")
	}
	if !ix.Status().NeverIndexed {
		t.Fatal("failed first run must keep never_indexed")
	}
}
