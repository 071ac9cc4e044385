// Package middleware provides HTTP middleware: W3C access logging with
// field sanitization, and Prometheus request instrumentation.
package middleware
