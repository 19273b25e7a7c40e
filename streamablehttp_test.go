package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcp "github.com/nazq/mcp-test-server"
)

// echoServe plays the role of the protocol engine: for every message a session
// receives, it replies with a response carrying the same ID back to whichever POST
// call (or GET stream) is waiting on it.
func echoServe(t *testing.T, transport *mcp.StreamableHTTPTransport) {
	t.Helper()
	go func() {
		for sess := range transport.Sessions() {
			go func(sess mcp.Session) {
				for msg := range sess.Messages() {
					if msg.ID == "" {
						continue
					}
					resp := mcp.JSONRPCMessage{
						JSONRPC: mcp.JSONRPCVersion,
						ID:      msg.ID,
						Result:  json.RawMessage(`{"ok":true}`),
					}
					_ = sess.Send(context.Background(), resp)
				}
			}(sess)
		}
	}()
}

func postJSON(t *testing.T, url, sessionID string, msg mcp.JSONRPCMessage) *http.Response {
	t.Helper()
	bs, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestStreamableHTTPTransportInitializeAssignsSession(t *testing.T) {
	transport := mcp.NewStreamableHTTPTransport(nil)
	echoServe(t, transport)

	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL, "", mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: "1", Method: "initialize"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatalf("expected a Mcp-Session-Id header to be set")
	}

	var got mcp.JSONRPCMessage
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "1" {
		t.Fatalf("expected response id %q, got %q", "1", got.ID)
	}
}

func TestStreamableHTTPTransportRequiresKnownSession(t *testing.T) {
	transport := mcp.NewStreamableHTTPTransport(nil)
	echoServe(t, transport)

	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL, "no-such-session", mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: "1", Method: "tools/list"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown session, got %d", resp.StatusCode)
	}
}

func TestStreamableHTTPTransportGetWithoutSessionIDCreatesSession(t *testing.T) {
	transport := mcp.NewStreamableHTTPTransport(nil)
	echoServe(t, transport)

	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 opening a stream, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Mcp-Session-Id") == "" {
		t.Fatalf("expected a bare GET to mint a new Mcp-Session-Id")
	}
}

func TestStreamableHTTPTransportGetWithUnknownSessionIDIs404(t *testing.T) {
	transport := mcp.NewStreamableHTTPTransport(nil)
	echoServe(t, transport)

	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", "no-such-session")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an explicit but unknown session id, got %d", resp.StatusCode)
	}
}

func TestStreamableHTTPTransportNotificationGetsAccepted(t *testing.T) {
	transport := mcp.NewStreamableHTTPTransport(nil)
	echoServe(t, transport)

	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	initResp := postJSON(t, srv.URL, "", mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: "1", Method: "initialize"})
	sessionID := initResp.Header.Get("Mcp-Session-Id")
	initResp.Body.Close()

	resp := postJSON(t, srv.URL, sessionID, mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, Method: "notifications/initialized"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for a notification, got %d", resp.StatusCode)
	}
}

func TestStreamableHTTPTransportDeleteEndsSession(t *testing.T) {
	transport := mcp.NewStreamableHTTPTransport(nil)
	echoServe(t, transport)

	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	initResp := postJSON(t, srv.URL, "", mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: "1", Method: "initialize"})
	sessionID := initResp.Header.Get("Mcp-Session-Id")
	initResp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from DELETE, got %d", resp.StatusCode)
	}

	// A second DELETE (or any POST) against the now-removed session should 404.
	resp2 := postJSON(t, srv.URL, sessionID, mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: "2", Method: "tools/list"})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after session deletion, got %d", resp2.StatusCode)
	}
}

func TestStreamableHTTPTransportShutdownStopsSessionsIteration(t *testing.T) {
	transport := mcp.NewStreamableHTTPTransport(nil)

	done := make(chan struct{})
	go func() {
		for range transport.Sessions() {
		}
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := transport.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Sessions() iteration to stop after Shutdown")
	}
}
