// Package authgate implements the optional bearer-token and Origin checks that sit in
// front of the MCP transport, mirroring the reference server's auth middleware: API key
// first, then Origin. The API-key check is skipped when no key is configured; the Origin
// check always runs.
package authgate

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Gate wraps an http.Handler with the API-key and Origin checks. A zero-value apiKey
// disables the key check entirely — this server never requires auth unless configured
// to.
type Gate struct {
	apiKey string
	logger *slog.Logger
}

// New creates a Gate. An empty apiKey disables the bearer-token check; the Origin check
// still runs regardless, since it costs nothing to enforce and has no "configured"
// state.
func New(apiKey string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{apiKey: apiKey, logger: logger.With(slog.String("component", "authgate"))}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (g *Gate) forbid(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(errorBody{Error: "forbidden", Message: message})
}

// Middleware returns an http.Handler that checks the request before delegating to next.
// The API key check runs first; only once it passes does the Origin check run.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.apiKey != "" {
			if msg, ok := g.checkAPIKey(r); !ok {
				g.logger.Debug("rejected request: bad api key", slog.String("remote", r.RemoteAddr))
				g.forbid(w, msg)
				return
			}
		}

		if msg, ok := g.checkOrigin(r); !ok {
			g.logger.Debug("rejected request: origin not allowed",
				slog.String("origin", r.Header.Get("Origin")))
			g.forbid(w, msg)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Gate) checkAPIKey(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "Missing Authorization header", false
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "Invalid Authorization header format. Expected: Bearer <token>", false
	}

	token := strings.TrimPrefix(header, prefix)
	if !constantTimeEqual(token, g.apiKey) {
		return "Invalid API key", false
	}

	return "", true
}

func (g *Gate) checkOrigin(r *http.Request) (string, bool) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients (curl, server-to-server) carry no Origin header at all;
		// there is nothing to allowlist against, so they are not rejected here.
		return "", true
	}
	if isAllowedOrigin(origin) {
		return "", true
	}
	return "Origin not allowed", false
}

// isAllowedOrigin matches the exact allowlist: loopback over http or https, any port.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost"} {
		if strings.HasPrefix(origin, prefix) {
			rest := origin[len(prefix):]
			if rest == "" || rest[0] == ':' {
				return true
			}
		}
	}
	return false
}

// constantTimeEqual compares two strings without leaking their byte-by-byte match
// position through timing, the same property the reference implementation's
// subtle::ConstantTimeEq gives it. Strings of different lengths return false
// immediately, so the length comparison itself is not constant-time.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
