package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean", "normal text", "normal text"},
		{"newline", "line1\nline2", "line1 line2"},
		{"carriage return", "a\rb", "a b"},
		{"null byte", "a\x00b", "ab"},
		{"ansi escape", "a\x1b[31mb", "a[31mb"},
		{"tab preserved", "a\tb", "a\tb"},
		{"control chars stripped", "a\x01\x02b", "ab"},
		{"crlf injection", "GET /x\r\n200 OK", "GET /x  200 OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeLogField(tt.input); got != tt.want {
				t.Errorf("SanitizeLogField(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.10:54321", nil, "192.168.1.10"},
		{"x-forwarded-for", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "203.0.113.5"},
		{"x-forwarded-for chain", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, "203.0.113.5"},
		{"x-real-ip", "10.0.0.1:1234", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // second call must be ignored
	rw.Write([]byte("body"))

	if rw.statusCode != http.StatusTeapot {
		t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusTeapot)
	}
	if rw.bytesWritten != 4 {
		t.Errorf("bytesWritten = %d, want 4", rw.bytesWritten)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("recorder code = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/index/start", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestMetricsPassesThrough(t *testing.T) {
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=doe", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/index/status", "/api/index/status"},
		{"/share/abc123def456", "/share/{token}"},
		{"/api/series/1.2.840.113619", "/api/series/{key}"},
		{"/api/search", "/api/search"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShouldSkip(t *testing.T) {
	config := LoggingConfig{SkipPaths: []string{"/metrics"}, LogHealthChecks: false}

	if !shouldSkip("/metrics", config) {
		t.Error("configured skip path must be skipped")
	}
	if !shouldSkip("/healthz", config) {
		t.Error("health checks must be skipped when LogHealthChecks=false")
	}
	if shouldSkip("/api/search", config) {
		t.Error("regular paths must not be skipped")
	}

	config.LogHealthChecks = true
	if shouldSkip("/healthz", config) {
		t.Error("health checks must be logged when LogHealthChecks=true")
	}
}
