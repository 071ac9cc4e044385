package dicomtypes

import (
	"path/filepath"
	"strings"
)

// CandidateExtensions maps file extensions to whether they are recognized
// DICOM file extensions.
var CandidateExtensions = map[string]bool{
	".dcm":   true,
	".dicom": true,
	".ima":   true,
}

// HasDICOMExtension reports whether the file name carries one of the
// recognized DICOM extensions.
func HasDICOMExtension(name string) bool {
	return CandidateExtensions[strings.ToLower(filepath.Ext(name))]
}

// IsCandidate reports whether a file name looks like a DICOM instance:
// a recognized extension, no extension at all, or an all-digit name
// (both common for anonymized exports).
func IsCandidate(name string) bool {
	if HasDICOMExtension(name) {
		return true
	}
	if !strings.Contains(name, ".") {
		return true
	}
	return isAllDigits(name)
}

func isAllDigits(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatPersonName converts a DICOM PN value ("Family^Given^Middle") into a
// display string ("Family Given Middle"). Empty components are dropped.
func FormatPersonName(value string) string {
	if value == "" {
		return ""
	}
	parts := strings.Split(value, "^")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// NormalizeDate strips the separators from a human-entered date so it can be
// matched against raw DICOM DA values (YYYYMMDD). "2024-03-01" and
// "2024/03/01" both become "20240301".
func NormalizeDate(value string) string {
	return strings.NewReplacer("-", "", "/", "", ".", "").Replace(strings.TrimSpace(value))
}
