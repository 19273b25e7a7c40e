package oauthmock_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/nazq/mcp-test-server/internal/oauthmock"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := oauthmock.New(srv.URL, nil)
	s.RegisterRoutes(mux)

	return srv, srv.URL
}

func register(t *testing.T, baseURL, redirectURI string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"redirect_uris": []string{redirectURI}})
	resp, err := http.Post(baseURL+"/oauth/register", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("registration request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from registration, got %d", resp.StatusCode)
	}
	var got struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode registration response: %v", err)
	}
	return got.ClientID
}

func TestOAuthMockDiscoveryDocuments(t *testing.T) {
	_, baseURL := newTestServer(t)

	resp, err := http.Get(baseURL + "/.well-known/oauth-protected-resource")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var protectedResource struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&protectedResource); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if protectedResource.Resource != baseURL {
		t.Fatalf("expected resource %q, got %q", baseURL, protectedResource.Resource)
	}

	resp2, err := http.Get(baseURL + "/.well-known/oauth-authorization-server")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp2.Body.Close()
	var authServer struct {
		Issuer                     string   `json:"issuer"`
		CodeChallengeMethods       []string `json:"code_challenge_methods_supported"`
		GrantTypesSupported        []string `json:"grant_types_supported"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&authServer); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if authServer.Issuer != baseURL {
		t.Fatalf("expected issuer %q, got %q", baseURL, authServer.Issuer)
	}
	if len(authServer.CodeChallengeMethods) != 1 || authServer.CodeChallengeMethods[0] != "S256" {
		t.Fatalf("expected only S256 to be advertised, got %v", authServer.CodeChallengeMethods)
	}
}

func TestOAuthMockFullAuthorizationCodeFlow(t *testing.T) {
	_, baseURL := newTestServer(t)

	const redirectURI = "http://localhost:9999/callback"
	clientID := register(t, baseURL, redirectURI)

	verifier := "a-fixed-test-verifier-that-is-long-enough-1234567890"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	authorizeURL := baseURL + "/oauth/authorize?" + url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {"xyz"},
	}.Encode()

	resp, err := client.Get(authorizeURL)
	if err != nil {
		t.Fatalf("authorize request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected a redirect from /oauth/authorize, got %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect location: %v", err)
	}
	code := location.Query().Get("code")
	if code == "" {
		t.Fatalf("expected a code in the redirect, got %q", resp.Header.Get("Location"))
	}
	if location.Query().Get("state") != "xyz" {
		t.Fatalf("expected state to be echoed back unchanged")
	}

	tokenResp, err := http.PostForm(baseURL+"/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	})
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer tokenResp.Body.Close()
	if tokenResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from token exchange, got %d", tokenResp.StatusCode)
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}
	if err := json.NewDecoder(tokenResp.Body).Decode(&tokens); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected both an access and refresh token, got %+v", tokens)
	}
	if tokens.TokenType != "Bearer" {
		t.Fatalf("expected Bearer token type, got %q", tokens.TokenType)
	}

	// The authorization code is single-use.
	reuse, err := http.PostForm(baseURL+"/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	})
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer reuse.Body.Close()
	if reuse.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected reusing a consumed code to fail, got %d", reuse.StatusCode)
	}

	refreshResp, err := http.PostForm(baseURL+"/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
	})
	if err != nil {
		t.Fatalf("refresh request failed: %v", err)
	}
	defer refreshResp.Body.Close()
	if refreshResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from refresh, got %d", refreshResp.StatusCode)
	}
}

func TestOAuthMockAuthorizeRejectsMissingPKCE(t *testing.T) {
	_, baseURL := newTestServer(t)

	const redirectURI = "http://localhost:9999/callback"
	clientID := register(t, baseURL, redirectURI)

	authorizeURL := baseURL + "/oauth/authorize?" + url.Values{
		"client_id":    {clientID},
		"redirect_uri": {redirectURI},
	}.Encode()

	resp, err := http.Get(authorizeURL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without a PKCE challenge, got %d", resp.StatusCode)
	}
}

func TestOAuthMockAuthorizeRejectsUnregisteredRedirectURI(t *testing.T) {
	_, baseURL := newTestServer(t)

	clientID := register(t, baseURL, "http://localhost:9999/callback")

	authorizeURL := baseURL + "/oauth/authorize?" + url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {"http://evil.example/callback"},
		"code_challenge":        {"x"},
		"code_challenge_method": {"S256"},
	}.Encode()

	resp, err := http.Get(authorizeURL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unregistered redirect_uri, got %d", resp.StatusCode)
	}
}
