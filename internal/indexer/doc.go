// Package indexer orchestrates indexing runs: enumerate candidates, extract
// headers through a bounded adaptive worker pool, merge results into series
// records, and checkpoint the index atomically as the run progresses.
//
// At most one run is active at a time. All mutation of the in-progress record
// set happens on a single collector goroutine; workers only extract and hand
// results over a channel. Status is published as an immutable snapshot
// through an atomic.Value so reads never block on the run.
package indexer
