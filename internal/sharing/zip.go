package sharing

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/logging"
)

// StreamZip writes a zip archive of the series' files to w, one entry at a
// time. Nothing is staged on disk and no entry is buffered whole, so resource
// usage stays proportional to the copy buffer, not the archive. Files that
// vanished from the store since indexing are skipped with a warning.
func StreamZip(ctx context.Context, w io.Writer, rec catalog.SeriesRecord) (int, error) {
	zw := zip.NewWriter(w)

	folder := archiveFolder(rec)
	names := make(map[string]int, len(rec.Files))
	written := 0

	for _, path := range rec.Files {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		f, err := os.Open(path)
		if err != nil {
			logging.Warn("Share download skipping %s: %v", path, err)
			continue
		}

		name := uniqueEntryName(names, filepath.Base(path))
		entry, err := zw.Create(folder + "/" + name)
		if err != nil {
			f.Close()
			return written, fmt.Errorf("failed to create zip entry %s: %w", name, err)
		}

		if _, err := io.Copy(entry, f); err != nil {
			f.Close()
			return written, fmt.Errorf("failed to stream %s: %w", path, err)
		}
		f.Close()
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("failed to finalize zip stream: %w", err)
	}
	return written, nil
}

// ZipName derives the suggested download filename for a series.
func ZipName(rec catalog.SeriesRecord) string {
	base := sanitizeName(rec.PatientID)
	if base == "" {
		base = "series"
	}
	key := rec.SeriesKey
	if len(key) > 12 {
		key = key[:12]
	}
	return fmt.Sprintf("%s-%s.zip", base, sanitizeName(key))
}

// archiveFolder is the single top-level directory inside the archive.
func archiveFolder(rec catalog.SeriesRecord) string {
	if f := sanitizeName(rec.SeriesDescription); f != "" {
		return f
	}
	if f := sanitizeName(rec.SeriesKey); f != "" {
		return f
	}
	return "series"
}

// uniqueEntryName deduplicates basenames; different store directories often
// reuse names like 000001.dcm.
func uniqueEntryName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", stem, n, ext)
}

// sanitizeName keeps archive member names and download filenames portable.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
