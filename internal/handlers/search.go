package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"dicom-indexer/internal/catalog"
)

// SearchResponse is the payload for search and suggestion queries.
type SearchResponse struct {
	Query   string                 `json:"query"`
	Field   string                 `json:"field"`
	Count   int                    `json:"count"`
	Results []catalog.SeriesRecord `json:"results"`
}

// searchIndex resolves the search index or writes the appropriate error.
// A missing index is a precondition failure (409), distinct from a corrupt
// one (500) and from an empty result set (200).
func (h *Handlers) searchIndex(w http.ResponseWriter) (*catalog.SearchIndex, bool) {
	idx, err := h.cache.Get()
	if err != nil {
		if errors.Is(err, catalog.ErrNotBuilt) {
			writeJSONError(w, "index not built; start an indexing run first", http.StatusConflict)
			return nil, false
		}
		writeJSONError(w, "index unavailable: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return idx, true
}

// Search handles GET /api/search?q=&type=&limit=.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	field, err := catalog.ParseField(r.URL.Query().Get("type"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	idx, ok := h.searchIndex(w)
	if !ok {
		return
	}

	results := idx.Search(query, field, limit)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, SearchResponse{
		Query:   query,
		Field:   string(field),
		Count:   len(results),
		Results: results,
	})
}

// SearchSuggestions handles GET /api/search/suggestions?q=&limit=, capped at
// the suggestion limit regardless of the requested size.
func (h *Handlers) SearchSuggestions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit := catalog.DefaultSuggestionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	idx, ok := h.searchIndex(w)
	if !ok {
		return
	}

	results := idx.Suggest(query, limit)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, SearchResponse{
		Query:   query,
		Field:   string(catalog.FieldAll),
		Count:   len(results),
		Results: results,
	})
}

// GetSeries handles GET /api/series/{key}.
func (h *Handlers) GetSeries(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	idx, ok := h.searchIndex(w)
	if !ok {
		return
	}

	rec, found := idx.Series(key)
	if !found {
		writeJSONError(w, "series not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, rec)
}
