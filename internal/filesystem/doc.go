/*
Package filesystem provides resilient filesystem operations with automatic
retry logic for transient network-share failures.

The DICOM store is typically an NFS or SMB mount, where individual opens and
stats can fail with stale-handle or I/O errors during network hiccups even
though the file is perfectly healthy. This package wraps os.Stat and os.Open
with bounded exponential-backoff retries for exactly those errors, and
returns immediately for everything else (missing files, permission errors).
*/
package filesystem
