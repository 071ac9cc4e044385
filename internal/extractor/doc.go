// Package extractor reads DICOM header metadata from a single file without
// touching pixel data.
//
// Extraction distinguishes three failure classes so the indexer can decide
// what to do with each file:
//
//   - ErrNotDICOM: the file is not a recognized DICOM instance (skip it)
//   - ErrMissingFields: the header parses but lacks the identifying fields
//     needed to build a usable record (skip it)
//   - transient I/O failures: retried with backoff up to a small bound,
//     then surfaced so the indexer can count the file as an error
//
// A single corrupt file must never abort an indexing run; all errors here
// are per-file.
package extractor
