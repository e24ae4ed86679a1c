package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServer_Handler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()
	m.IssuesTotal.Inc()

	s := NewServer(m, "", "", []string{"127.0.0.1", "10.0.0.0/8"}, logger)
	h := s.Handler()

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		wantStatus int
		wantBody   string
	}{
		{"allowed", "/metrics", "127.0.0.1:4000", http.StatusOK, "certly_issues_total 1"},
		{"allowed network", "/metrics", "10.2.3.4:4000", http.StatusOK, "certly_issues_total"},
		{"denied", "/metrics", "192.168.1.10:4000", http.StatusForbidden, ""},
		{"health is open", "/health", "192.168.1.10:4000", http.StatusOK, "OK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
		})
	}
}

func TestServer_Defaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(New(), "", "", nil, logger)
	if s.addr != ":9090" || s.path != "/metrics" {
		t.Errorf("defaults = %s %s", s.addr, s.path)
	}
	if s.filter.Enabled() {
		t.Error("filter enabled without entries")
	}
}
