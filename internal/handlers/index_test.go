package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/indexer"
)

// seedStoreFile drops a candidate file into the store root so a run has
// something to extract.
func seedStoreFile(t *testing.T, h *Handlers, name string) {
	t.Helper()
	path := filepath.Join(h.config.StoreDir, name)
	if err := os.WriteFile(path, []byte("DICM placeholder"), 0o644); err != nil {
		t.Fatalf("Failed to seed store file: %v", err)
	}
}

func TestStartIndexAccepted(t *testing.T) {
	h, _ := setupHandlersTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/index/start", http.NoBody)
	w := httptest.NewRecorder()

	h.StartIndex(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}

	var resp map[string]string
	decodeJSON(t, w, &resp)
	if resp["status"] != "started" {
		t.Errorf("Expected status 'started', got %q", resp["status"])
	}

	h.indexer.Wait()
}

func TestStartIndexConflictsWhileRunning(t *testing.T) {
	h, ext := setupHandlersTest(t)

	// Re-arm the gate so the run stays in flight.
	ext.release = make(chan struct{})
	h.indexer = indexerWithExtractor(t, h, ext)

	seedStoreFile(t, h, "img001.dcm")

	w := httptest.NewRecorder()
	h.StartIndex(w, httptest.NewRequest(http.MethodPost, "/api/index/start", http.NoBody))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}

	// The run is parked on the extractor gate; a second start must conflict.
	w = httptest.NewRecorder()
	h.StartIndex(w, httptest.NewRequest(http.MethodPost, "/api/index/start", http.NoBody))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	close(ext.release)
	h.indexer.Wait()
}

func TestIndexStatusSnapshot(t *testing.T) {
	h, _ := setupHandlersTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/index/status", http.NoBody)
	w := httptest.NewRecorder()

	h.IndexStatus(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var st indexer.Status
	decodeJSON(t, w, &st)

	if st.Running {
		t.Error("Expected running=false before any run")
	}
	if !st.NeverIndexed {
		t.Error("Expected never_indexed=true before any run")
	}
}

func TestCancelWithoutRunConflicts(t *testing.T) {
	h, _ := setupHandlersTest(t)

	w := httptest.NewRecorder()
	h.CancelIndex(w, httptest.NewRequest(http.MethodPost, "/api/index/cancel", http.NoBody))

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestPauseResumeWithoutRunConflicts(t *testing.T) {
	h, _ := setupHandlersTest(t)

	w := httptest.NewRecorder()
	h.PauseIndex(w, httptest.NewRequest(http.MethodPost, "/api/index/pause", http.NoBody))
	if w.Code != http.StatusConflict {
		t.Errorf("Pause: expected status 409, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ResumeIndex(w, httptest.NewRequest(http.MethodPost, "/api/index/resume", http.NoBody))
	if w.Code != http.StatusConflict {
		t.Errorf("Resume: expected status 409, got %d", w.Code)
	}
}

func TestCancelDuringRun(t *testing.T) {
	h, ext := setupHandlersTest(t)

	ext.release = make(chan struct{})
	h.indexer = indexerWithExtractor(t, h, ext)

	seedStoreFile(t, h, "img001.dcm")

	w := httptest.NewRecorder()
	h.StartIndex(w, httptest.NewRequest(http.MethodPost, "/api/index/start", http.NoBody))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.CancelIndex(w, httptest.NewRequest(http.MethodPost, "/api/index/cancel", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	decodeJSON(t, w, &resp)
	if resp["status"] != "cancelling" {
		t.Errorf("Expected status 'cancelling', got %q", resp["status"])
	}

	h.indexer.Wait()
	if st := h.indexer.Status(); st.State != indexer.StateCancelled {
		t.Errorf("Expected state %q, got %q", indexer.StateCancelled, st.State)
	}
}

// indexerWithExtractor rebuilds the handler's indexer around the given
// extractor, keeping the same store and cache wiring as setupHandlersTest.
func indexerWithExtractor(t *testing.T, h *Handlers, ext blockingExtractor) *indexer.Indexer {
	t.Helper()

	cfg := indexer.DefaultConfig(h.config.StoreDir)
	cfg.MaxWorkers = 1
	cfg.MinWorkers = 1
	cfg.CheckpointInterval = time.Hour
	store := catalog.NewStore(filepath.Join(h.config.DataDir, "index.json"))
	return indexer.New(cfg, store, ext)
}
