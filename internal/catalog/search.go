package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dicom-indexer/internal/dicomtypes"
	"dicom-indexer/internal/logging"
)

// Field selects which record field a search matches against.
type Field string

// Searchable fields. FieldAll matches any of them.
const (
	FieldAll               Field = "all"
	FieldPatientName       Field = "patient_name"
	FieldPatientID         Field = "patient_id"
	FieldStudyDescription  Field = "study_description"
	FieldSeriesDescription Field = "series_description"
	FieldModality          Field = "modality"
	FieldStudyDate         Field = "study_date"
)

// ParseField validates a caller-supplied field name. An empty string means
// FieldAll.
func ParseField(s string) (Field, error) {
	switch Field(strings.ToLower(strings.TrimSpace(s))) {
	case "", FieldAll:
		return FieldAll, nil
	case FieldPatientName:
		return FieldPatientName, nil
	case FieldPatientID:
		return FieldPatientID, nil
	case FieldStudyDescription:
		return FieldStudyDescription, nil
	case FieldSeriesDescription:
		return FieldSeriesDescription, nil
	case FieldModality:
		return FieldModality, nil
	case FieldStudyDate:
		return FieldStudyDate, nil
	default:
		return "", fmt.Errorf("unknown search field %q", s)
	}
}

// DefaultSuggestionLimit caps autocomplete results.
const DefaultSuggestionLimit = 15

// SearchIndex answers case-insensitive substring queries over the loaded
// series records. It is immutable after construction; queries are stateless
// and safe for concurrent use.
type SearchIndex struct {
	records []SeriesRecord
	byKey   map[string]int
}

// NewSearchIndex builds a search index from the given records. Results are
// ordered newest study first, with the series key as a stable tie-break.
func NewSearchIndex(records []SeriesRecord) *SearchIndex {
	sorted := make([]SeriesRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StudyDate != sorted[j].StudyDate {
			return sorted[i].StudyDate > sorted[j].StudyDate
		}
		return sorted[i].SeriesKey < sorted[j].SeriesKey
	})

	byKey := make(map[string]int, len(sorted))
	for i := range sorted {
		byKey[sorted[i].SeriesKey] = i
	}

	return &SearchIndex{records: sorted, byKey: byKey}
}

// Len returns the number of indexed series.
func (si *SearchIndex) Len() int {
	return len(si.records)
}

// Series looks up one record by its series key.
func (si *SearchIndex) Series(key string) (SeriesRecord, bool) {
	i, ok := si.byKey[key]
	if !ok {
		return SeriesRecord{}, false
	}
	return si.records[i].Clone(), true
}

// All returns a copy of every record, in index order.
func (si *SearchIndex) All() []SeriesRecord {
	out := make([]SeriesRecord, 0, len(si.records))
	for i := range si.records {
		out = append(out, si.records[i].Clone())
	}
	return out
}

// Search returns the records whose selected field contains the query,
// case-insensitively. An empty result is a valid outcome, not an error.
// limit <= 0 means unlimited.
func (si *SearchIndex) Search(query string, field Field, limit int) []SeriesRecord {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SeriesRecord{}
	}

	needle := strings.ToLower(query)
	dateNeedle := dicomtypes.NormalizeDate(query)

	results := []SeriesRecord{}
	for i := range si.records {
		if si.matches(&si.records[i], needle, dateNeedle, field) {
			results = append(results, si.records[i].Clone())
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results
}

// Suggest is Search restricted to a small result cap, for autocomplete.
func (si *SearchIndex) Suggest(query string, limit int) []SeriesRecord {
	if limit <= 0 || limit > DefaultSuggestionLimit {
		limit = DefaultSuggestionLimit
	}
	return si.Search(query, FieldAll, limit)
}

func (si *SearchIndex) matches(r *SeriesRecord, needle, dateNeedle string, field Field) bool {
	switch field {
	case FieldPatientName:
		return contains(r.PatientName, needle)
	case FieldPatientID:
		return contains(r.PatientID, needle)
	case FieldStudyDescription:
		return contains(r.StudyDescription, needle)
	case FieldSeriesDescription:
		return contains(r.SeriesDescription, needle)
	case FieldModality:
		return contains(r.Modality, needle)
	case FieldStudyDate:
		return dateNeedle != "" && strings.Contains(r.StudyDate, dateNeedle)
	default: // FieldAll
		if contains(r.PatientName, needle) ||
			contains(r.PatientID, needle) ||
			contains(r.StudyDescription, needle) ||
			contains(r.SeriesDescription, needle) ||
			contains(r.Modality, needle) {
			return true
		}
		return dateNeedle != "" && strings.Contains(r.StudyDate, dateNeedle)
	}
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

// Cache lazily loads the search index from a Store and serves it to
// concurrent readers. Refresh is called when an indexing run completes.
type Cache struct {
	store *Store

	mu       sync.RWMutex
	idx      *SearchIndex
	loadedAt time.Time
}

// NewCache creates a Cache over the given store.
func NewCache(store *Store) *Cache {
	return &Cache{store: store}
}

// Get returns the current search index, loading it from disk on first use.
// Returns ErrNotBuilt (wrapped) when no index file exists.
func (c *Cache) Get() (*SearchIndex, error) {
	c.mu.RLock()
	idx := c.idx
	c.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}
	return c.load()
}

// Refresh reloads the index from disk, replacing the cached copy.
func (c *Cache) Refresh() error {
	_, err := c.load()
	return err
}

// Invalidate drops the cached index so the next Get reloads from disk.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.idx = nil
	c.mu.Unlock()
}

// Series resolves one record by key from the current index.
func (c *Cache) Series(key string) (SeriesRecord, bool) {
	idx, err := c.Get()
	if err != nil {
		return SeriesRecord{}, false
	}
	return idx.Series(key)
}

func (c *Cache) load() (*SearchIndex, error) {
	doc, err := c.store.Load()
	if err != nil {
		return nil, err
	}

	idx := NewSearchIndex(doc.Series)

	c.mu.Lock()
	c.idx = idx
	c.loadedAt = time.Now()
	c.mu.Unlock()

	logging.Info("Search index loaded: %d series from %s", idx.Len(), c.store.Path())
	return idx, nil
}
