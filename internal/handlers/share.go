package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dicom-indexer/internal/logging"
	"dicom-indexer/internal/metrics"
	"dicom-indexer/internal/middleware"
	"dicom-indexer/internal/sharing"
	"dicom-indexer/internal/streaming"
)

// CreateShareRequest is the body of POST /api/share/create.
type CreateShareRequest struct {
	SeriesKey string `json:"series_key"`
	// ExpiresInHours is a pointer so "absent" (default 24h) is
	// distinguishable from an explicit 0 (immediately expired).
	ExpiresInHours *float64 `json:"expires_in_hours"`
	Password       string   `json:"password,omitempty"`
	CreatedBy      string   `json:"created_by,omitempty"`
}

// CreateShare handles POST /api/share/create.
func (h *Handlers) CreateShare(w http.ResponseWriter, r *http.Request) {
	var req CreateShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SeriesKey == "" {
		writeJSONError(w, "series_key is required", http.StatusBadRequest)
		return
	}

	expiresIn := sharing.DefaultTTL
	if req.ExpiresInHours != nil {
		if *req.ExpiresInHours < 0 {
			writeJSONError(w, "expires_in_hours must not be negative", http.StatusBadRequest)
			return
		}
		expiresIn = time.Duration(*req.ExpiresInHours * float64(time.Hour))
	}

	share, err := h.shares.CreateShare(r.Context(), req.SeriesKey, req.CreatedBy, expiresIn, req.Password)
	if err != nil {
		if errors.Is(err, sharing.ErrUnknownSeries) {
			writeJSONError(w, "series not present in index", http.StatusNotFound)
			return
		}
		writeJSONError(w, "failed to create share", http.StatusInternalServerError)
		logging.Error("Share creation failed: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, share)
}

// ListShares handles GET /api/share/list. Password hashes are never
// included.
func (h *Handlers) ListShares(w http.ResponseWriter, r *http.Request) {
	shares, err := h.shares.ListShares(r.Context())
	if err != nil {
		writeJSONError(w, "failed to list shares", http.StatusInternalServerError)
		logging.Error("Share listing failed: %v", err)
		return
	}
	if shares == nil {
		shares = []sharing.ShareToken{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"count":  len(shares),
		"shares": shares,
	})
}

// RevokeShareRequest is the body of POST /api/share/revoke.
type RevokeShareRequest struct {
	Token string `json:"token"`
}

// RevokeShare handles POST /api/share/revoke. The token row is kept for
// audit; only its expiry moves into the past.
func (h *Handlers) RevokeShare(w http.ResponseWriter, r *http.Request) {
	var req RevokeShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSONError(w, "token is required", http.StatusBadRequest)
		return
	}

	if err := h.shares.Revoke(r.Context(), req.Token); err != nil {
		if errors.Is(err, sharing.ErrNotFound) {
			writeJSONError(w, "share token not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "failed to revoke share", http.StatusInternalServerError)
		logging.Error("Share revocation failed: %v", err)
		return
	}

	writeJSONStatus(w, "revoked")
}

// DownloadShare handles GET /share/{token}?password=. On success it streams
// a zip of the shared series through a timeout-protected writer; each
// validation attempt is audited by the share manager.
func (h *Handlers) DownloadShare(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	password := r.URL.Query().Get("password")

	rec, err := h.shares.Validate(r.Context(), token, password,
		middleware.ClientIP(r), r.Header.Get("User-Agent"))
	if err != nil {
		switch {
		case errors.Is(err, sharing.ErrNotFound):
			writeJSONError(w, "share not found", http.StatusNotFound)
		case errors.Is(err, sharing.ErrExpired):
			writeJSONError(w, "share expired", http.StatusGone)
		case errors.Is(err, sharing.ErrForbidden):
			writeJSONError(w, "password required or incorrect", http.StatusForbidden)
		case errors.Is(err, sharing.ErrUnknownSeries):
			writeJSONError(w, "shared series no longer in index", http.StatusNotFound)
		default:
			writeJSONError(w, "share validation failed", http.StatusInternalServerError)
			logging.Error("Share validation error: %v", err)
		}
		return
	}

	metrics.ShareStreamsInFlight.Inc()
	defer metrics.ShareStreamsInFlight.Dec()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", sharing.ZipName(rec)))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	cfg := streaming.DefaultTimeoutWriterConfig()
	cfg.OnBytes = func(n int) { metrics.ShareBytesStreamed.Add(float64(n)) }

	tw := streaming.NewTimeoutWriter(r.Context(), w, cfg)
	defer tw.Close()

	written, err := sharing.StreamZip(r.Context(), tw, rec)
	bytesWritten, duration := tw.Stats()

	switch {
	case err == nil:
		logging.Info("Share download complete: %d files, %d bytes in %v", written, bytesWritten, duration)
	case errors.Is(err, streaming.ErrClientGone):
		logging.Debug("Share download abandoned by client after %d bytes", bytesWritten)
	default:
		// Headers are already gone; all we can do is log.
		logging.Warn("Share download failed after %d files: %v", written, err)
	}
}
