package authgate_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nazq/mcp-test-server/internal/authgate"
)

func newGateHandler(apiKey string) http.Handler {
	g := authgate.New(apiKey, nil)
	return g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestGateDisabledWhenNoAPIKeyConfigured(t *testing.T) {
	handler := newGateHandler("")

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected requests to pass through when no API key is configured, got %d", rec.Code)
	}
}

func TestGateRejectsMissingAuthorizationHeader(t *testing.T) {
	handler := newGateHandler("secret")

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a missing Authorization header, got %d", rec.Code)
	}
}

func TestGateRejectsWrongAPIKey(t *testing.T) {
	handler := newGateHandler("secret")

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for the wrong API key, got %d", rec.Code)
	}
}

func TestGateAcceptsCorrectAPIKey(t *testing.T) {
	handler := newGateHandler("secret")

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for the correct API key, got %d", rec.Code)
	}
}

func TestGateOriginCheck(t *testing.T) {
	cases := []struct {
		name   string
		origin string
		want   int
	}{
		{"no origin header passes", "", http.StatusOK},
		{"localhost http allowed", "http://localhost:3000", http.StatusOK},
		{"loopback ip allowed", "http://127.0.0.1:4000", http.StatusOK},
		{"localhost https allowed", "https://localhost:5000", http.StatusOK},
		{"arbitrary origin rejected", "https://evil.example", http.StatusForbidden},
	}

	handler := newGateHandler("")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("origin %q: got %d, want %d", tc.origin, rec.Code, tc.want)
			}
		})
	}
}
