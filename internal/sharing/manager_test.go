package sharing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dicom-indexer/internal/catalog"
)

type stubResolver map[string]catalog.SeriesRecord

func (r stubResolver) Series(key string) (catalog.SeriesRecord, bool) {
	rec, ok := r[key]
	return rec, ok
}

func newTestManager(t *testing.T, resolver SeriesResolver) *Manager {
	t.Helper()
	if resolver == nil {
		resolver = stubResolver{
			"1.2.3": {SeriesKey: "1.2.3", PatientID: "P001", Files: []string{}},
		}
	}
	m, err := NewManager(context.Background(), filepath.Join(t.TempDir(), "shares.db"), resolver)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreateShareUnknownSeries(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.CreateShare(context.Background(), "no-such-series", "alice", DefaultTTL, "")
	if !errors.Is(err, ErrUnknownSeries) {
		t.Fatalf("expected ErrUnknownSeries, got %v", err)
	}
}

func TestShareLifecycle(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	share, err := m.CreateShare(ctx, "1.2.3", "alice", DefaultTTL, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(share.Token) != 43 {
		t.Errorf("token length = %d, want 43", len(share.Token))
	}
	if share.PasswordProtected {
		t.Error("open share must not report password protection")
	}

	rec, err := m.Validate(ctx, share.Token, "", "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SeriesKey != "1.2.3" {
		t.Errorf("validated series = %s, want 1.2.3", rec.SeriesKey)
	}

	shares, err := m.ListShares(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(shares) != 1 {
		t.Fatalf("expected 1 share, got %d", len(shares))
	}
	if shares[0].AccessCount != 1 {
		t.Errorf("access count = %d, want 1", shares[0].AccessCount)
	}
	if shares[0].LastAccessedAt == nil {
		t.Error("last_accessed_at must be stamped after success")
	}

	log, err := m.AccessLog(ctx, share.Token)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(log))
	}
	if !log[0].Success || log[0].FailureReason != "" {
		t.Errorf("success entry malformed: %+v", log[0])
	}
	if log[0].IPAddress != "10.0.0.1" || log[0].UserAgent != "test-agent" {
		t.Errorf("log entry missing client info: %+v", log[0])
	}
}

func TestZeroExpiryIsImmediatelyUnusable(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	share, err := m.CreateShare(ctx, "1.2.3", "", 0, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.Validate(ctx, share.Token, "", "", "")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	log, err := m.AccessLog(ctx, share.Token)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 || log[0].Success || log[0].FailureReason != "expired" {
		t.Fatalf("expected one failed entry with reason expired, got %+v", log)
	}
}

func TestPasswordProtection(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	share, err := m.CreateShare(ctx, "1.2.3", "", DefaultTTL, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !share.PasswordProtected {
		t.Fatal("share must report password protection")
	}

	if _, err := m.Validate(ctx, share.Token, "", "", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("missing password: expected ErrForbidden, got %v", err)
	}
	if _, err := m.Validate(ctx, share.Token, "wrong", "", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("wrong password: expected ErrForbidden, got %v", err)
	}
	if _, err := m.Validate(ctx, share.Token, "hunter2", "", ""); err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}

	// Every attempt, pass or fail, produces exactly one audit entry.
	log, err := m.AccessLog(ctx, share.Token)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 3 {
		t.Fatalf("expected 3 log entries for 3 attempts, got %d", len(log))
	}
	failures := 0
	for _, e := range log {
		if !e.Success {
			failures++
			if e.FailureReason != "forbidden" {
				t.Errorf("failure reason = %q, want forbidden", e.FailureReason)
			}
		}
	}
	if failures != 2 {
		t.Fatalf("expected 2 failures, got %d", failures)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Validate(ctx, "nonexistent-token", "", "", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	log, err := m.AccessLog(ctx, "nonexistent-token")
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 || log[0].FailureReason != "not_found" {
		t.Fatalf("unknown-token attempt must still be logged, got %+v", log)
	}
}

func TestRevoke(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	share, err := m.CreateShare(ctx, "1.2.3", "", DefaultTTL, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Revoke(ctx, share.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Validate(ctx, share.Token, "", "", ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("revoked token: expected ErrExpired, got %v", err)
	}

	// The row survives revocation for audit.
	shares, err := m.ListShares(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(shares) != 1 {
		t.Fatalf("revoked share must remain listed, got %d rows", len(shares))
	}
	if !shares[0].Expired(time.Now()) {
		t.Error("revoked share must read as expired")
	}

	if err := m.Revoke(ctx, "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoking unknown token: expected ErrNotFound, got %v", err)
	}
}

func TestTokenOutlivesSeries(t *testing.T) {
	resolver := stubResolver{"1.2.3": {SeriesKey: "1.2.3"}}
	m := newTestManager(t, resolver)
	ctx := context.Background()

	share, err := m.CreateShare(ctx, "1.2.3", "", DefaultTTL, "")
	if err != nil {
		t.Fatal(err)
	}

	delete(resolver, "1.2.3")

	_, err = m.Validate(ctx, share.Token, "", "", "")
	if !errors.Is(err, ErrUnknownSeries) {
		t.Fatalf("expected ErrUnknownSeries after re-index removed series, got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	old, err := m.CreateShare(ctx, "1.2.3", "", -48*time.Hour, "")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := m.CreateShare(ctx, "1.2.3", "", DefaultTTL, "")
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := m.CleanupExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	shares, err := m.ListShares(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(shares) != 1 || shares[0].Token != fresh.Token {
		t.Fatalf("expected only the fresh token to survive, got %+v", shares)
	}
	if _, err := m.Validate(ctx, old.Token, "", "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cleaned token: expected ErrNotFound, got %v", err)
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := generateToken()
		if err != nil {
			t.Fatal(err)
		}
		if len(token) != 43 {
			t.Fatalf("token length = %d, want 43", len(token))
		}
		if seen[token] {
			t.Fatal("duplicate token generated")
		}
		seen[token] = true
	}
}
