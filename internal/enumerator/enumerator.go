package enumerator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dicom-indexer/internal/dicomtypes"
	"dicom-indexer/internal/logging"
	"dicom-indexer/internal/metrics"
)

// ErrRootUnreachable indicates the store root could not be accessed at all.
// This aborts the run; per-entry failures below the root do not.
var ErrRootUnreachable = errors.New("store root unreachable")

// CandidatePath is one file that looks like it may be a DICOM instance.
type CandidatePath struct {
	// Path is the absolute path of the file.
	Path string
	// LikelyDICOM is true when the file carries a recognized DICOM
	// extension, false when it was accepted by the no-extension or
	// all-digit convention.
	LikelyDICOM bool
}

// Config controls enumeration behavior.
type Config struct {
	// ReachabilityTimeout bounds the initial probe of the root path.
	ReachabilityTimeout time.Duration
	// SkipHidden skips files and directories starting with ".".
	SkipHidden bool
	// ChannelBuffer is the size of the candidate channel buffer.
	ChannelBuffer int
}

// DefaultConfig returns sensible defaults for enumerating a network share.
func DefaultConfig() Config {
	return Config{
		ReachabilityTimeout: 30 * time.Second,
		SkipHidden:          true,
		ChannelBuffer:       1024,
	}
}

// Enumerate walks root and streams deduplicated candidate paths.
//
// The candidate channel is closed when the walk completes or is canceled.
// The error channel receives exactly one value after the candidate channel
// closes: nil on success, ErrRootUnreachable (wrapped) if the root could not
// be accessed, or the terminal walk error.
func Enumerate(ctx context.Context, root string, cfg Config) (<-chan CandidatePath, <-chan error) {
	out := make(chan CandidatePath, cfg.ChannelBuffer)
	errc := make(chan error, 1)

	go func() {
		defer close(out)

		if err := probeRoot(ctx, root, cfg.ReachabilityTimeout); err != nil {
			errc <- err
			return
		}

		seen := make(map[string]struct{})
		start := time.Now()
		var emitted int64

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return fs.SkipAll
			default:
			}

			if err != nil {
				// Per-entry failure: log and keep walking.
				logging.Warn("Error accessing path %s: %v", path, err)
				metrics.IndexErrors.WithLabelValues("enumerate").Inc()
				return nil
			}

			if cfg.SkipHidden && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			if !dicomtypes.IsCandidate(d.Name()) {
				return nil
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				logging.Warn("Error resolving path %s: %v", path, err)
				return nil
			}
			abs = filepath.Clean(abs)

			if _, dup := seen[abs]; dup {
				return nil
			}
			seen[abs] = struct{}{}

			select {
			case out <- CandidatePath{Path: abs, LikelyDICOM: dicomtypes.HasDICOMExtension(d.Name())}:
				emitted++
			case <-ctx.Done():
				return fs.SkipAll
			}
			return nil
		})

		logging.Info("Enumeration complete: %d candidates in %v", emitted, time.Since(start))

		if err != nil && !errors.Is(err, fs.SkipAll) {
			errc <- fmt.Errorf("walk error: %w", err)
			return
		}
		if ctx.Err() != nil {
			errc <- ctx.Err()
			return
		}
		errc <- nil
	}()

	return out, errc
}

// Collect runs Enumerate to completion and returns the full candidate list.
// Used when the caller needs the total count before dispatching work.
func Collect(ctx context.Context, root string, cfg Config) ([]CandidatePath, error) {
	out, errc := Enumerate(ctx, root, cfg)

	var candidates []CandidatePath
	for c := range out {
		candidates = append(candidates, c)
	}
	return candidates, <-errc
}

// probeRoot checks that the root is reachable within the configured timeout.
// A hung network mount blocks os.Stat indefinitely, so the stat runs in its
// own goroutine and the probe gives up on timeout.
func probeRoot(ctx context.Context, root string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	type statResult struct {
		info os.FileInfo
		err  error
	}
	resultCh := make(chan statResult, 1)

	go func() {
		info, err := os.Stat(root)
		resultCh <- statResult{info, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRootUnreachable, root, res.err)
		}
		if !res.info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrRootUnreachable, root)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: %s: no response after %v", ErrRootUnreachable, root, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
