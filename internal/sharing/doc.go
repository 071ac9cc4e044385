/*
Package sharing issues and validates time-limited download links for indexed
series.

Tokens are opaque 43-character values from crypto/rand, optionally protected
by a bcrypt-hashed password, and bound to exactly one series key. State lives
in a SQLite database (WAL mode) with two tables: share_tokens and
share_access_log. Tokens are never physically deleted; revocation forces
expires_at into the past and the audit log keeps every access attempt,
successful or not, with its failure reason.

Downloads are zip archives assembled entry by entry directly onto the HTTP
response through a timeout-protected writer, so neither memory nor disk usage
grows with archive size.
*/
package sharing
