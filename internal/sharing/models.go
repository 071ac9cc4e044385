package sharing

import "time"

// ShareToken is one issued download link. The password hash never leaves the
// database; PasswordProtected is what callers get to see.
type ShareToken struct {
	Token             string     `json:"token"`
	SeriesKey         string     `json:"series_key"`
	CreatedBy         string     `json:"created_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	PasswordProtected bool       `json:"password_protected"`
	AccessCount       int64      `json:"access_count"`
	LastAccessedAt    *time.Time `json:"last_accessed_at,omitempty"`
}

// Expired reports whether the token is past its expiry.
func (t ShareToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AccessLogEntry is one audit record: every validation attempt against a
// token produces exactly one entry.
type AccessLogEntry struct {
	ID            string    `json:"id"`
	Token         string    `json:"token"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	AccessedAt    time.Time `json:"accessed_at"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
}
