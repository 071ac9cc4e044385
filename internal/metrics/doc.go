// Package metrics defines the Prometheus instrumentation for the DICOM
// index and share service: HTTP traffic, indexing runs, header extraction,
// share access, and the embedded share database.
//
// All collectors are registered with the default registry via promauto and
// exposed on /metrics.
package metrics
