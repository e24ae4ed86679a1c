package ipfilter

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		entries   []string
		wantCount int
	}{
		{"empty", nil, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR", []string{"10.0.0.0/8", "172.16.0.0/12"}, 2},
		{"skips invalid", []string{"192.168.1.1", "invalid", " ", "10.0.0.1"}, 2},
		{"IPv6", []string{"::1", "fe80::/10"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.entries, newTestLogger())
			if f.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.wantCount)
			}
			if f.Enabled() != (tt.wantCount > 0) {
				t.Errorf("Enabled() = %v", f.Enabled())
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]string{"127.0.0.1", "10.0.0.0/8", "", "::1"}); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := Validate([]string{"10.0.0.0/33"}); err == nil {
		t.Error("Validate() accepted a bad CIDR")
	}
	if err := Validate([]string{"localhost"}); err == nil {
		t.Error("Validate() accepted a host name")
	}
}

func TestFilter_IsAllowed(t *testing.T) {
	f := New([]string{"192.168.1.0/24", "10.0.0.1", "2001:db8::/32"}, newTestLogger())
	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.77", true},
		{"192.168.2.1", false},
		{"10.0.0.1", true},
		{"10.0.0.2", false},
		{"2001:db8::1", true},
		{"2001:db9::1", false},
	}
	for _, tt := range tests {
		if got := f.IsAllowed(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IsAllowed(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	if !New(nil, newTestLogger()).IsAllowed(net.ParseIP("8.8.8.8")) {
		t.Error("empty filter should allow all")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"no port", "192.168.1.1", nil, "192.168.1.1"},
		{"forwarded for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "203.0.113.5"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"bad header falls back", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "junk"}, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got.String() != tt.want {
				t.Errorf("ClientIP() = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestFilter_Middleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f := New([]string{"127.0.0.1"}, newTestLogger())
	h := f.Middleware(ok)

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:5000", http.StatusOK},
		{"192.168.1.1:5000", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/metrics", nil)
		r.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}
}
