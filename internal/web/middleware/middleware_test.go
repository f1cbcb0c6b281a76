package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/tableload/internal/config"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer keeps address", []string{"10.0.0.0/8"}, "203.0.113.9:5000",
			map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.9:5000"},
		{"trusted peer uses X-Real-IP", []string{"10.0.0.0/8"}, "10.1.2.3:5000",
			map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
		{"trusted peer uses first forwarded hop", []string{"10.0.0.1"}, "10.0.0.1:5000",
			map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, "5.6.7.8"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.1.2.3:5000",
			map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3:5000"},
		{"no trusted proxies", nil, "10.1.2.3:5000",
			map[string]string{"X-Real-IP": "1.2.3.4"}, "10.1.2.3:5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, invalid := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.7 ", "", "::1", "bogus"})
	if len(prefixes) != 3 {
		t.Errorf("prefixes = %v, want 3", prefixes)
	}
	if len(invalid) != 1 || invalid[0] != "bogus" {
		t.Errorf("invalid = %v, want [bogus]", invalid)
	}
}

func TestAPIKeyAuth_Bearer(t *testing.T) {
	cfg := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	h := APIKeyAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		header, value string
		want          int
	}{
		{"Authorization", "Bearer k2", http.StatusNoContent},
		{"Authorization", "bearer k1", http.StatusNoContent},
		{"Authorization", "Basic k1", http.StatusUnauthorized},
		{"X-API-Key", "k3", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(tt.header, tt.value)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: %s => %d, want %d", tt.header, tt.value, rec.Code, tt.want)
		}
	}
}

func TestLogger_RecordsStatus(t *testing.T) {
	ww := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	ww.WriteHeader(http.StatusAccepted)
	ww.WriteHeader(http.StatusInternalServerError)
	ww.Write([]byte("hello"))
	if ww.status != http.StatusAccepted || ww.bytes != 5 {
		t.Errorf("status = %d bytes = %d, want 202 and 5", ww.status, ww.bytes)
	}
	if levelFor(503).String() != "ERROR" || levelFor(404).String() != "WARN" || levelFor(200).String() != "INFO" {
		t.Error("levelFor maps statuses to the wrong levels")
	}
}
