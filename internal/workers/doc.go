// Package workers computes sensible worker-pool sizes for the indexing
// pipeline based on available CPUs, with environment overrides for
// operators who know their storage better than we do.
package workers
