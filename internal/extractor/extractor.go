package extractor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-indexer/internal/dicomtypes"
	"dicom-indexer/internal/filesystem"
	"dicom-indexer/internal/logging"
	"dicom-indexer/internal/metrics"
)

// Sentinel errors for extraction failures.
var (
	// ErrNotDICOM indicates the file is not a recognized DICOM instance.
	ErrNotDICOM = errors.New("not a recognized DICOM file")

	// ErrMissingFields indicates the header lacks the identifying fields
	// required to build a usable series record.
	ErrMissingFields = errors.New("required identifying fields missing")

	// ErrTimeout indicates the per-file read deadline was exceeded.
	ErrTimeout = errors.New("extraction timed out")
)

// DICOM files start with a 128-byte preamble followed by the "DICM" magic.
const (
	preambleLength = 128
	magicLength    = 4
)

var dicomMagic = []byte("DICM")

// SeriesFields holds the header metadata extracted from one file.
// It never contains pixel data.
type SeriesFields struct {
	PatientName       string
	PatientID         string
	PatientBirthDate  string
	PatientSex        string
	StudyInstanceUID  string
	StudyDate         string
	StudyDescription  string
	SeriesInstanceUID string
	SeriesDescription string
	SeriesNumber      string
	Modality          string
}

// SeriesKey returns the grouping key for this instance and whether it was
// synthesized. SeriesInstanceUID is preferred; when absent, a deterministic
// fixed-length key is derived from (StudyInstanceUID, SeriesNumber).
func (f SeriesFields) SeriesKey() (key string, synthesized bool) {
	if f.SeriesInstanceUID != "" {
		return f.SeriesInstanceUID, false
	}
	return FallbackSeriesKey(f.StudyInstanceUID, f.SeriesNumber), true
}

// FallbackSeriesKey derives a deterministic, filesystem-safe series key from
// the study UID and series number via a one-way hash.
func FallbackSeriesKey(studyInstanceUID, seriesNumber string) string {
	sum := sha256.Sum256([]byte(studyInstanceUID + "|" + seriesNumber))
	return hex.EncodeToString(sum[:])
}

// validate checks that the minimum identifying fields are present: some
// patient identifier, a study identifier, and a resolvable series key.
func (f SeriesFields) validate() error {
	if f.PatientID == "" && f.PatientName == "" {
		return fmt.Errorf("%w: no patient identifier", ErrMissingFields)
	}
	if f.StudyInstanceUID == "" {
		return fmt.Errorf("%w: no study identifier", ErrMissingFields)
	}
	if f.SeriesInstanceUID == "" && f.SeriesNumber == "" {
		return fmt.Errorf("%w: no series grouping key", ErrMissingFields)
	}
	return nil
}

// Config controls extraction behavior.
type Config struct {
	// PerFileTimeout bounds one parse attempt so a hung share cannot stall
	// the run.
	PerFileTimeout time.Duration
	// Retry bounds transient I/O retries.
	Retry filesystem.RetryConfig
}

// DefaultConfig returns sensible defaults for extracting over a network share.
func DefaultConfig() Config {
	return Config{
		PerFileTimeout: 5 * time.Second,
		Retry:          filesystem.DefaultRetryConfig(),
	}
}

// Extractor reads header metadata from DICOM files.
type Extractor struct {
	cfg Config
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.PerFileTimeout <= 0 {
		cfg.PerFileTimeout = 5 * time.Second
	}
	return &Extractor{cfg: cfg}
}

// Extract opens path, reads structured metadata only, and returns the
// header fields. Pixel data is never read or buffered.
func (e *Extractor) Extract(ctx context.Context, path string) (SeriesFields, error) {
	start := time.Now()
	defer func() {
		metrics.ExtractDuration.Observe(time.Since(start).Seconds())
	}()

	if err := e.checkMagic(path); err != nil {
		return SeriesFields{}, err
	}

	ds, err := e.parseWithRetry(ctx, path)
	if err != nil {
		return SeriesFields{}, err
	}

	fields := SeriesFields{
		PatientName:       dicomtypes.FormatPersonName(stringValue(ds, tag.PatientName)),
		PatientID:         stringValue(ds, tag.PatientID),
		PatientBirthDate:  stringValue(ds, tag.PatientBirthDate),
		PatientSex:        stringValue(ds, tag.PatientSex),
		StudyInstanceUID:  stringValue(ds, tag.StudyInstanceUID),
		StudyDate:         stringValue(ds, tag.StudyDate),
		StudyDescription:  stringValue(ds, tag.StudyDescription),
		SeriesInstanceUID: stringValue(ds, tag.SeriesInstanceUID),
		SeriesDescription: stringValue(ds, tag.SeriesDescription),
		SeriesNumber:      stringValue(ds, tag.SeriesNumber),
		Modality:          stringValue(ds, tag.Modality),
	}

	if err := fields.validate(); err != nil {
		return SeriesFields{}, fmt.Errorf("%s: %w", path, err)
	}

	return fields, nil
}

// checkMagic rejects files without the DICM magic before handing them to the
// parser. This keeps obvious junk cheap: only the first 132 bytes are read.
func (e *Extractor) checkMagic(path string) error {
	f, err := filesystem.OpenWithRetry(path, e.cfg.Retry)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, preambleLength+magicLength)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%s: %w", path, ErrNotDICOM)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if !bytes.Equal(header[preambleLength:], dicomMagic) {
		return fmt.Errorf("%s: %w", path, ErrNotDICOM)
	}
	return nil
}

// parseWithRetry runs the header parse under the per-file timeout, retrying
// transient I/O failures with backoff.
func (e *Extractor) parseWithRetry(ctx context.Context, path string) (dicom.Dataset, error) {
	var lastErr error
	backoff := e.cfg.Retry.InitialBackoff

	for attempt := 0; attempt <= e.cfg.Retry.MaxRetries; attempt++ {
		ds, err := e.parseOnce(ctx, path)
		if err == nil {
			if attempt > 0 {
				logging.Info("Extraction succeeded on retry %d for %s", attempt, path)
			}
			return ds, nil
		}

		lastErr = err

		if !filesystem.IsTransient(err) {
			break
		}

		if attempt < e.cfg.Retry.MaxRetries {
			metrics.ExtractRetries.Inc()
			logging.Debug("Transient extraction failure for %s, retrying in %v (attempt %d/%d)",
				path, backoff, attempt+1, e.cfg.Retry.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > e.cfg.Retry.MaxBackoff {
				backoff = e.cfg.Retry.MaxBackoff
			}
		}
	}

	if errors.Is(lastErr, ErrTimeout) || filesystem.IsTransient(lastErr) || ctx.Err() != nil {
		return dicom.Dataset{}, lastErr
	}
	// A structurally broken file that passed the magic check still counts
	// as unrecognized, not as an I/O failure.
	return dicom.Dataset{}, fmt.Errorf("%s: %v: %w", path, lastErr, ErrNotDICOM)
}

// parseOnce parses the file's metadata with pixel data skipped, bounded by
// the per-file timeout. The parse runs in its own goroutine because the
// underlying reads cannot be interrupted once issued against a hung mount.
func (e *Extractor) parseOnce(ctx context.Context, path string) (dicom.Dataset, error) {
	type parseResult struct {
		ds  dicom.Dataset
		err error
	}
	resultCh := make(chan parseResult, 1)

	go func() {
		ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
		resultCh <- parseResult{ds, err}
	}()

	select {
	case res := <-resultCh:
		return res.ds, res.err
	case <-time.After(e.cfg.PerFileTimeout):
		return dicom.Dataset{}, fmt.Errorf("%s after %v: %w", path, e.cfg.PerFileTimeout, ErrTimeout)
	case <-ctx.Done():
		return dicom.Dataset{}, ctx.Err()
	}
}

// Classify maps an extraction error to a stable label used for counters.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrNotDICOM):
		return "not_dicom"
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	default:
		return "io"
	}
}

// stringValue pulls one element's value out of the dataset as a trimmed
// string. Missing elements and empty values yield "".
func stringValue(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return ""
	}

	switch v := el.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	case []int:
		if len(v) > 0 {
			return fmt.Sprintf("%d", v[0])
		}
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}
