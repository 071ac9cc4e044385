package catalog

import (
	"sort"
	"time"
)

// SeriesRecord is the unit of the persisted index: one DICOM series and the
// files that belong to it. It carries header metadata only, never pixel data.
type SeriesRecord struct {
	SeriesKey         string    `json:"series_key"`
	SyntheticKey      bool      `json:"synthetic_key,omitempty"`
	StudyInstanceUID  string    `json:"study_instance_uid,omitempty"`
	PatientName       string    `json:"patient_name"`
	PatientID         string    `json:"patient_id"`
	PatientBirthDate  string    `json:"patient_birth_date,omitempty"`
	PatientSex        string    `json:"patient_sex,omitempty"`
	StudyDate         string    `json:"study_date,omitempty"`
	StudyDescription  string    `json:"study_description,omitempty"`
	SeriesDescription string    `json:"series_description,omitempty"`
	SeriesNumber      string    `json:"series_number,omitempty"`
	Modality          string    `json:"modality,omitempty"`
	Files             []string  `json:"files"`
	FileCount         int       `json:"file_count"`
	IndexedAt         time.Time `json:"indexed_at,omitempty"`
}

// AddFile appends a file path to the series, ignoring exact duplicates.
func (r *SeriesRecord) AddFile(path string) {
	for _, f := range r.Files {
		if f == path {
			return
		}
	}
	r.Files = append(r.Files, path)
	r.FileCount = len(r.Files)
}

// Normalize sorts the file list and recomputes the derived count so that
// re-indexing an unchanged store yields byte-identical records.
func (r *SeriesRecord) Normalize() {
	sort.Strings(r.Files)
	r.FileCount = len(r.Files)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *SeriesRecord) Clone() SeriesRecord {
	out := *r
	out.Files = append([]string(nil), r.Files...)
	return out
}

// Index is the persisted document: all series known for one store root.
type Index struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Root        string         `json:"root"`
	Complete    bool           `json:"complete"`
	Series      []SeriesRecord `json:"series"`
}

// SortSeries orders records deterministically by series key and normalizes
// each record. Called before every persist.
func SortSeries(records []SeriesRecord) {
	for i := range records {
		records[i].Normalize()
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SeriesKey < records[j].SeriesKey
	})
}
