/*
Package streaming wraps http.ResponseWriter with timeout protection for
long-running share downloads.

A zip stream over a slow or vanished client can otherwise hold a file handle
on the store open indefinitely. TimeoutWriter bounds each write, splits large
writes into flushable chunks, detects idle connections, and surfaces client
disconnects as ErrClientGone so handlers can tell them apart from server
faults:

	tw := streaming.NewTimeoutWriter(r.Context(), w, streaming.DefaultTimeoutWriterConfig())
	defer tw.Close()

	zw := zip.NewWriter(tw)
	// add entries ...

	if err := zw.Close(); errors.Is(err, streaming.ErrClientGone) {
		// client went away, not a server error
	}

TimeoutWriter is safe for concurrent use, though a download normally has a
single writing goroutine. The idle checker runs in its own goroutine and
exits when the stream ends.
*/
package streaming
