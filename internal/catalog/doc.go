// Package catalog owns the persisted series index and the in-memory search
// structure built from it.
//
// The index is a single JSON document per store root. Writers replace it
// atomically (write to a temp file in the same directory, then rename) so
// readers never observe a half-written file; the last successful checkpoint
// is always a complete, valid document. There is exactly one writer at a
// time (the active indexing run) and any number of readers.
package catalog
