package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"dicom-indexer/internal/logging"
)

// RetryConfig configures retry behavior for filesystem operations
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns sensible defaults for network-share retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// IsTransient reports whether an error is a transient network-share failure
// worth retrying: stale file handle (ESTALE), low-level I/O error (EIO), or
// connection-level resets seen through SMB/NFS clients.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ESTALE, syscall.EIO, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	return false
}

// StatWithRetry performs os.Stat with retry logic for transient share errors
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		info, err := os.Stat(path)
		if err == nil {
			if attempt > 0 {
				logging.Info("Stat succeeded on retry %d for %s", attempt, path)
			}
			return info, nil
		}

		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}

		if attempt < config.MaxRetries {
			logging.Debug("Transient stat failure for %s, retrying in %v (attempt %d/%d)",
				path, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("Stat failed after %d retries for %s: %v", config.MaxRetries, path, lastErr)
	return nil, lastErr
}

// OpenWithRetry performs os.Open with retry logic for transient share errors
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		file, err := os.Open(path)
		if err == nil {
			if attempt > 0 {
				logging.Info("Open succeeded on retry %d for %s", attempt, path)
			}
			return file, nil
		}

		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}

		if attempt < config.MaxRetries {
			logging.Debug("Transient open failure for %s, retrying in %v (attempt %d/%d)",
				path, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("Open failed after %d retries for %s: %v", config.MaxRetries, path, lastErr)
	return nil, lastErr
}
