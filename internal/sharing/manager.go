package sharing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
	"golang.org/x/crypto/bcrypt"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/logging"
	"dicom-indexer/internal/metrics"
)

// Sentinel errors for share validation, surfaced to callers as distinct
// user-actionable conditions.
var (
	// ErrNotFound indicates the token never existed.
	ErrNotFound = errors.New("share token not found")

	// ErrExpired indicates the token exists but is past its expiry.
	ErrExpired = errors.New("share token expired")

	// ErrForbidden indicates a password is required and was missing or wrong.
	ErrForbidden = errors.New("share password required or incorrect")

	// ErrUnknownSeries indicates the series key is not in the current index.
	ErrUnknownSeries = errors.New("series not present in index")
)

const (
	// tokenBytes yields a 43-character base64url token.
	tokenBytes = 32

	// DefaultTTL applies when a share request does not specify an expiry.
	DefaultTTL = 24 * time.Hour

	defaultTimeout = 5 * time.Second
)

// SeriesResolver looks up a series record by key. Satisfied by
// *catalog.Cache.
type SeriesResolver interface {
	Series(key string) (catalog.SeriesRecord, bool)
}

// Manager owns the share database and the share lifecycle.
type Manager struct {
	db       *sql.DB
	dbPath   string
	resolver SeriesResolver
}

// NewManager opens (creating if needed) the share database at dbPath.
// The parent directory must already exist and be writable.
func NewManager(ctx context.Context, dbPath string, resolver SeriesResolver) (*Manager, error) {
	logging.Info("Share database path: %s", dbPath)

	// busy_timeout prevents "database is locked" under concurrent access.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open share database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close share database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to share database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	m := &Manager{db: db, dbPath: dbPath, resolver: resolver}
	if err := m.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close share database after init failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize share schema: %w", err)
	}

	logging.Info("Share database initialized at %s", dbPath)
	return m, nil
}

func (m *Manager) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS share_tokens (
		token TEXT PRIMARY KEY,
		series_key TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		password_hash TEXT,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_share_tokens_series ON share_tokens(series_key);
	CREATE INDEX IF NOT EXISTS idx_share_tokens_expires ON share_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS share_access_log (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		ip_address TEXT,
		user_agent TEXT,
		accessed_at INTEGER NOT NULL,
		success INTEGER NOT NULL,
		failure_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_share_access_token ON share_access_log(token);
	CREATE INDEX IF NOT EXISTS idx_share_access_time ON share_access_log(accessed_at);
	`

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := m.db.ExecContext(initCtx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the share database.
func (m *Manager) Close() error {
	return m.db.Close()
}

// CreateShare issues a token for the given series. expiresIn is used as
// given, so zero produces a token that is already expired; callers apply
// DefaultTTL when the request leaves expiry unset. An empty password means
// the link is open.
func (m *Manager) CreateShare(ctx context.Context, seriesKey, createdBy string, expiresIn time.Duration, password string) (ShareToken, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_share", start, err) }()

	if _, ok := m.resolver.Series(seriesKey); !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownSeries, seriesKey)
		return ShareToken{}, err
	}

	token, err := generateToken()
	if err != nil {
		return ShareToken{}, err
	}

	var passwordHash sql.NullString
	if password != "" {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if hashErr != nil {
			err = fmt.Errorf("failed to hash share password: %w", hashErr)
			return ShareToken{}, err
		}
		passwordHash = sql.NullString{String: string(hash), Valid: true}
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = m.db.ExecContext(opCtx,
		`INSERT INTO share_tokens (token, series_key, created_by, created_at, expires_at, password_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		token, seriesKey, createdBy, now.Unix(), expiresAt.Unix(), passwordHash,
	)
	if err != nil {
		err = fmt.Errorf("failed to store share token: %w", err)
		return ShareToken{}, err
	}

	metrics.SharesCreatedTotal.Inc()
	logging.Info("Share created for series %s by %q, expires %s", seriesKey, createdBy, expiresAt.Format(time.RFC3339))

	return ShareToken{
		Token:             token,
		SeriesKey:         seriesKey,
		CreatedBy:         createdBy,
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
		PasswordProtected: passwordHash.Valid,
	}, nil
}

// Validate checks a token and password and records exactly one access-log
// entry for the attempt. On success it increments access_count, stamps
// last_accessed_at, and returns the series record the token is bound to.
func (m *Manager) Validate(ctx context.Context, token, password, ipAddress, userAgent string) (catalog.SeriesRecord, error) {
	rec, reason, err := m.validate(ctx, token, password)

	if logErr := m.logAccess(ctx, token, ipAddress, userAgent, err == nil, reason); logErr != nil {
		logging.Error("Failed to write share access log for token: %v", logErr)
	}

	result := "success"
	if reason != "" {
		result = reason
	}
	metrics.ShareAccessTotal.WithLabelValues(result).Inc()

	return rec, err
}

func (m *Manager) validate(ctx context.Context, token, password string) (catalog.SeriesRecord, string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("validate_share", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		seriesKey    string
		expiresAt    int64
		passwordHash sql.NullString
	)
	err = m.db.QueryRowContext(opCtx,
		"SELECT series_key, expires_at, password_hash FROM share_tokens WHERE token = ?",
		token,
	).Scan(&seriesKey, &expiresAt, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return catalog.SeriesRecord{}, "not_found", err
	}
	if err != nil {
		err = fmt.Errorf("failed to look up share token: %w", err)
		return catalog.SeriesRecord{}, "error", err
	}

	if !time.Now().Before(time.Unix(expiresAt, 0)) {
		err = ErrExpired
		return catalog.SeriesRecord{}, "expired", err
	}

	if passwordHash.Valid {
		if password == "" {
			err = ErrForbidden
			return catalog.SeriesRecord{}, "forbidden", err
		}
		if bcrypt.CompareHashAndPassword([]byte(passwordHash.String), []byte(password)) != nil {
			err = ErrForbidden
			return catalog.SeriesRecord{}, "forbidden", err
		}
	}

	rec, ok := m.resolver.Series(seriesKey)
	if !ok {
		// Token outlived the series (re-index removed it).
		err = fmt.Errorf("%w: %s", ErrUnknownSeries, seriesKey)
		return catalog.SeriesRecord{}, "unknown_series", err
	}

	now := time.Now().UTC()
	if _, updErr := m.db.ExecContext(opCtx,
		"UPDATE share_tokens SET access_count = access_count + 1, last_accessed_at = ? WHERE token = ?",
		now.Unix(), token,
	); updErr != nil {
		logging.Warn("Failed to update share access counters: %v", updErr)
	}

	return rec, "", nil
}

// logAccess appends one audit entry for a validation attempt.
func (m *Manager) logAccess(ctx context.Context, token, ipAddress, userAgent string, success bool, reason string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("log_access", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = m.db.ExecContext(opCtx,
		`INSERT INTO share_access_log (id, token, ip_address, user_agent, accessed_at, success, failure_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), token, ipAddress, userAgent, time.Now().UTC().Unix(), boolToInt(success), reason,
	)
	return err
}

// ListShares returns all tokens, newest first. Hashes are never included.
func (m *Manager) ListShares(ctx context.Context) ([]ShareToken, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_shares", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := m.db.QueryContext(opCtx,
		`SELECT token, series_key, created_by, created_at, expires_at,
		        password_hash IS NOT NULL, access_count, last_accessed_at
		 FROM share_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	var shares []ShareToken
	for rows.Next() {
		var (
			t            ShareToken
			createdAt    int64
			expiresAt    int64
			lastAccessed sql.NullInt64
		)
		if err = rows.Scan(&t.Token, &t.SeriesKey, &t.CreatedBy, &createdAt, &expiresAt,
			&t.PasswordProtected, &t.AccessCount, &lastAccessed); err != nil {
			return nil, fmt.Errorf("failed to scan share row: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		t.ExpiresAt = time.Unix(expiresAt, 0).UTC()
		if lastAccessed.Valid {
			at := time.Unix(lastAccessed.Int64, 0).UTC()
			t.LastAccessedAt = &at
		}
		shares = append(shares, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate share rows: %w", err)
	}
	return shares, nil
}

// Revoke makes a token unusable by forcing its expiry into the past. The row
// stays for audit; revoking an already-expired token is a no-op success.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("revoke_share", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := m.db.ExecContext(opCtx,
		"UPDATE share_tokens SET expires_at = ? WHERE token = ?",
		time.Now().UTC().Add(-time.Second).Unix(), token,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke share: %w", err)
	}
	affected, raErr := res.RowsAffected()
	if raErr == nil && affected == 0 {
		err = ErrNotFound
		return err
	}

	logging.Info("Share token revoked")
	return nil
}

// AccessLog returns the audit entries for one token, oldest first.
func (m *Manager) AccessLog(ctx context.Context, token string) ([]AccessLogEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("access_log", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := m.db.QueryContext(opCtx,
		`SELECT id, token, ip_address, user_agent, accessed_at, success, failure_reason
		 FROM share_access_log WHERE token = ? ORDER BY accessed_at ASC, id ASC`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to read access log: %w", err)
	}
	defer rows.Close()

	var entries []AccessLogEntry
	for rows.Next() {
		var (
			e          AccessLogEntry
			accessedAt int64
			success    int
			ip, ua, fr sql.NullString
		)
		if err = rows.Scan(&e.ID, &e.Token, &ip, &ua, &accessedAt, &success, &fr); err != nil {
			return nil, fmt.Errorf("failed to scan access log row: %w", err)
		}
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		e.FailureReason = fr.String
		e.AccessedAt = time.Unix(accessedAt, 0).UTC()
		e.Success = success != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CleanupExpired deletes tokens (and their log entries) expired for longer
// than the retention window. Storage hygiene only; correctness never depends
// on this running.
func (m *Manager) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("cleanup_expired", start, err) }()

	cutoff := time.Now().UTC().Add(-retention).Unix()

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err = m.db.ExecContext(opCtx,
		"DELETE FROM share_access_log WHERE token IN (SELECT token FROM share_tokens WHERE expires_at < ?)",
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("failed to clean access log: %w", err)
	}

	res, err := m.db.ExecContext(opCtx, "DELETE FROM share_tokens WHERE expires_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired tokens: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		logging.Info("Share hygiene: removed %d tokens expired for over %v", deleted, retention)
	}
	return deleted, nil
}

// generateToken returns a 43-character unguessable token.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// recordQuery records share database query metrics.
func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
