package handlers

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/indexer"
	"dicom-indexer/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	Indexing     bool   `json:"indexing"`
	NeverIndexed bool   `json:"neverIndexed"`
	SeriesCount  int    `json:"seriesCount"`
	LastError    string `json:"lastError,omitempty"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	st := h.indexer.Status()

	response := HealthResponse{
		Status:       statusHealthy,
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Indexing:     st.Running,
		NeverIndexed: st.NeverIndexed,
		LastError:    st.LastError,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if idx, err := h.cache.Get(); err == nil {
		response.SeriesCount = idx.Len()
	} else if errors.Is(err, catalog.ErrCorrupt) {
		response.Status = statusDegraded
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, response)
}

// LivenessCheck is a simple liveness probe (always 200 while serving)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 once the service can accept traffic. Searches
// against a never-built index answer their own precondition failure, so a
// missing index does not make the process unready.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]string{"status": "ready"})
}

// Version returns build information
func (h *Handlers) Version(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, startup.GetBuildInfo())
}

// StatsResponse is the payload of GET /api/stats.
type StatsResponse struct {
	IndexBuilt  bool           `json:"index_built"`
	SeriesCount int            `json:"series_count"`
	TotalFiles  int            `json:"total_files"`
	ShareCount  int            `json:"share_count"`
	Indexer     indexer.Status `json:"indexer"`
}

// Stats handles GET /api/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Indexer: h.indexer.Status()}

	if idx, err := h.cache.Get(); err == nil {
		resp.IndexBuilt = true
		resp.SeriesCount = idx.Len()
		for _, rec := range idx.All() {
			resp.TotalFiles += rec.FileCount
		}
	}

	if shares, err := h.shares.ListShares(r.Context()); err == nil {
		resp.ShareCount = len(shares)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}
