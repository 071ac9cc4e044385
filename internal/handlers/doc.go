// Package handlers contains the HTTP handlers for the indexing, search,
// share, and health endpoints.
package handlers
