package handlers

import (
	"errors"
	"net/http"

	"dicom-indexer/internal/indexer"
)

// StartIndex kicks off an indexing run. Returns 202 on acceptance and 409
// when a run is already active.
func (h *Handlers) StartIndex(w http.ResponseWriter, _ *http.Request) {
	if err := h.indexer.Start(); err != nil {
		if errors.Is(err, indexer.ErrRunActive) {
			writeJSONError(w, "indexing run already active", http.StatusConflict)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "started"})
}

// IndexStatus returns the current indexer snapshot. Reads never block on the
// run, so this stays fast even mid-index.
func (h *Handlers) IndexStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, h.indexer.Status())
}

// CancelIndex stops the active run. 409 when none is active.
func (h *Handlers) CancelIndex(w http.ResponseWriter, _ *http.Request) {
	if err := h.indexer.Cancel(); err != nil {
		writeJSONError(w, "no active indexing run", http.StatusConflict)
		return
	}
	writeJSONStatus(w, "cancelling")
}

// PauseIndex suspends the active run's workers. 409 when none is active.
func (h *Handlers) PauseIndex(w http.ResponseWriter, _ *http.Request) {
	if err := h.indexer.Pause(); err != nil {
		writeJSONError(w, "no active indexing run", http.StatusConflict)
		return
	}
	writeJSONStatus(w, "paused")
}

// ResumeIndex continues a paused run. 409 when none is active.
func (h *Handlers) ResumeIndex(w http.ResponseWriter, _ *http.Request) {
	if err := h.indexer.Resume(); err != nil {
		writeJSONError(w, "no active indexing run", http.StatusConflict)
		return
	}
	writeJSONStatus(w, "resumed")
}
