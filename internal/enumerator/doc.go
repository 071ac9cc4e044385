// Package enumerator walks a DICOM file store and produces the deduplicated
// stream of candidate file paths that the indexer consumes.
//
// Enumeration never opens file contents. Per-entry traversal failures
// (permission denied, transient share drops) are logged and skipped; only an
// unreachable root aborts the walk. Reachability of the root is probed with
// a bounded timeout so a dead network share fails fast instead of hanging.
package enumerator
