package sharing

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"dicom-indexer/internal/catalog"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStreamZip(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "study1", "000001.dcm")
	b := filepath.Join(dir, "study1", "000002.dcm")
	writeFile(t, a, []byte("first instance"))
	writeFile(t, b, []byte("second instance"))

	rec := catalog.SeriesRecord{
		SeriesKey:         "1.2.3.4",
		SeriesDescription: "Axial 5mm",
		Files:             []string{a, b},
	}

	var buf bytes.Buffer
	written, err := StreamZip(context.Background(), &buf, rec)
	if err != nil {
		t.Fatal(err)
	}
	if written != 2 {
		t.Fatalf("written = %d, want 2", written)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("streamed archive unreadable: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive has %d entries, want 2", len(zr.File))
	}

	want := map[string]string{
		"Axial_5mm/000001.dcm": "first instance",
		"Axial_5mm/000002.dcm": "second instance",
	}
	for _, f := range zr.File {
		expected, ok := want[f.Name]
		if !ok {
			t.Fatalf("unexpected entry %q", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		var content bytes.Buffer
		if _, err := content.ReadFrom(rc); err != nil {
			t.Fatal(err)
		}
		rc.Close()
		if content.String() != expected {
			t.Errorf("entry %q content = %q, want %q", f.Name, content.String(), expected)
		}
	}
}

func TestStreamZipDeduplicatesBasenames(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "s1", "000001.dcm")
	b := filepath.Join(dir, "s2", "000001.dcm")
	writeFile(t, a, []byte("from s1"))
	writeFile(t, b, []byte("from s2"))

	rec := catalog.SeriesRecord{SeriesKey: "1.2", Files: []string{a, b}}

	var buf bytes.Buffer
	if _, err := StreamZip(context.Background(), &buf, rec); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}

	names := make(map[string]bool)
	for _, f := range zr.File {
		if names[f.Name] {
			t.Fatalf("duplicate entry name %q", f.Name)
		}
		names[f.Name] = true
	}
	if !names["1.2/000001.dcm"] || !names["1.2/000001_1.dcm"] {
		t.Fatalf("expected deduplicated names, got %v", names)
	}
}

func TestStreamZipSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "present.dcm")
	writeFile(t, a, []byte("still here"))

	rec := catalog.SeriesRecord{
		SeriesKey: "1.2",
		Files:     []string{a, filepath.Join(dir, "vanished.dcm")},
	}

	var buf bytes.Buffer
	written, err := StreamZip(context.Background(), &buf, rec)
	if err != nil {
		t.Fatal(err)
	}
	if written != 1 {
		t.Fatalf("written = %d, want 1", written)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("archive has %d entries, want 1", len(zr.File))
	}
}

func TestZipName(t *testing.T) {
	tests := []struct {
		rec  catalog.SeriesRecord
		want string
	}{
		{catalog.SeriesRecord{PatientID: "P001", SeriesKey: "1.2.3.4"}, "P001-1.2.3.4.zip"},
		{catalog.SeriesRecord{SeriesKey: "abcdef0123456789"}, "series-abcdef012345.zip"},
		{catalog.SeriesRecord{PatientID: "A/B C", SeriesKey: "1.2"}, "AB_C-1.2.zip"},
	}
	for _, tt := range tests {
		if got := ZipName(tt.rec); got != tt.want {
			t.Errorf("ZipName(%+v) = %q, want %q", tt.rec, got, tt.want)
		}
	}
}
