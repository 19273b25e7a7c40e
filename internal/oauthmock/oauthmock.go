// Package oauthmock implements the OAuth 2.1 mock authorization surface this server
// exposes alongside the MCP endpoint: RFC 9728 protected-resource discovery, RFC 8414
// authorization-server discovery, RFC 7591 dynamic client registration, and a PKCE
// authorization code flow with auto-approval (there is no login page — every
// authorization request is immediately granted, since this is a test fixture, not a
// real identity provider).
package oauthmock

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var signingKey = []byte("mcp-test-server-mock-signing-key")

const accessTokenTTL = 1 * time.Hour

type client struct {
	id          string
	redirectURIs []string
}

type authCode struct {
	clientID            string
	redirectURI         string
	codeChallenge       string
	codeChallengeMethod string
	expiresAt           time.Time
}

// Server implements the five OAuth mock HTTP handlers. It is entirely in-memory: no
// state survives a restart, matching the rest of this repo's no-persistence design.
type Server struct {
	baseURL string
	logger  *slog.Logger

	mu         sync.Mutex
	clients    map[string]*client
	codes      map[string]*authCode
	refreshes  map[string]string // refresh token -> client id
}

// New creates an OAuth mock server advertising baseURL (e.g. "http://localhost:3000")
// as the issuer and resource identifier in its discovery documents.
func New(baseURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		baseURL:   baseURL,
		logger:    logger.With(slog.String("component", "oauthmock")),
		clients:   make(map[string]*client),
		codes:     make(map[string]*authCode),
		refreshes: make(map[string]string),
	}
}

// RegisterRoutes attaches the five OAuth endpoints to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleAuthorizationServerMetadata)
	mux.HandleFunc("/oauth/register", s.handleRegister)
	mux.HandleFunc("/oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("/oauth/token", s.handleToken)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	s.writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// handleProtectedResourceMetadata implements RFC 9728 discovery: GET
// /.well-known/oauth-protected-resource.
func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"resource":              s.baseURL,
		"authorization_servers": []string{s.baseURL},
	})
}

// handleAuthorizationServerMetadata implements RFC 8414 discovery: GET
// /.well-known/oauth-authorization-server.
func (s *Server) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.baseURL,
		"authorization_endpoint":                s.baseURL + "/oauth/authorize",
		"token_endpoint":                        s.baseURL + "/oauth/token",
		"registration_endpoint":                 s.baseURL + "/oauth/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":       []string{"S256"},
		"token_endpoint_auth_methods_supported":  []string{"none"},
	})
}

// handleRegister implements RFC 7591 dynamic client registration: POST /oauth/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RedirectURIs []string `json:"redirect_uris"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed registration request body")
		return
	}
	if len(req.RedirectURIs) == 0 {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
		return
	}

	c := &client{id: uuid.New().String(), redirectURIs: req.RedirectURIs}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                  c.id,
		"redirect_uris":              c.redirectURIs,
		"token_endpoint_auth_method": "none",
	})
}

// handleAuthorize implements the PKCE authorization request: GET /oauth/authorize.
// There is no consent screen — the request is auto-approved and immediately redirected
// back with a code, since this endpoint exists to exercise client flow logic, not to
// model real user consent.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")
	state := q.Get("state")

	s.mu.Lock()
	c, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}
	if !containsString(c.redirectURIs, redirectURI) {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri not registered for client")
		return
	}
	if codeChallenge == "" || codeChallengeMethod != "S256" {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_request", "PKCE code_challenge with S256 is required")
		return
	}

	code := uuid.New().String()
	s.mu.Lock()
	s.codes[code] = &authCode{
		clientID:            clientID,
		redirectURI:         redirectURI,
		codeChallenge:       codeChallenge,
		codeChallengeMethod: codeChallengeMethod,
		expiresAt:           time.Now().Add(5 * time.Minute),
	}
	s.mu.Unlock()

	redirect := fmt.Sprintf("%s?code=%s", redirectURI, code)
	if state != "" {
		redirect += "&state=" + state
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// handleToken implements the token endpoint: POST /oauth/token, supporting both the
// authorization_code and refresh_token grants.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r)
	default:
		s.writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	verifier := r.FormValue("code_verifier")

	s.mu.Lock()
	ac, ok := s.codes[code]
	if ok {
		delete(s.codes, code)
	}
	s.mu.Unlock()

	if !ok {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or already-used authorization code")
		return
	}
	if time.Now().After(ac.expiresAt) {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code expired")
		return
	}
	if !verifyPKCE(verifier, ac.codeChallenge) {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
		return
	}

	s.issueTokens(w, ac.clientID)
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.FormValue("refresh_token")

	s.mu.Lock()
	clientID, ok := s.refreshes[refreshToken]
	if ok {
		delete(s.refreshes, refreshToken)
	}
	s.mu.Unlock()

	if !ok {
		s.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or already-used refresh token")
		return
	}

	s.issueTokens(w, clientID)
}

func (s *Server) issueTokens(w http.ResponseWriter, clientID string) {
	now := time.Now()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": s.baseURL,
		"sub": clientID,
		"aud": s.baseURL,
		"iat": now.Unix(),
		"exp": now.Add(accessTokenTTL).Unix(),
	})
	accessToken, err := access.SignedString(signingKey)
	if err != nil {
		s.writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to sign access token")
		return
	}

	refreshToken := uuid.New().String()
	s.mu.Lock()
	s.refreshes[refreshToken] = clientID
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int(accessTokenTTL.Seconds()),
		"refresh_token": refreshToken,
	})
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
