package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// fastResponseWindow is how long a POST /mcp handler waits for the server implementation
// to produce a result before upgrading the response to an SSE stream. Fast calls never
// pay for the upgrade; slow ones fall back to streaming. Elapsed time is the only
// trigger: notifications for the session go to its GET stream, not to the POST response.
const fastResponseWindow = 200 * time.Millisecond

// StreamableHTTPTransport implements ServerTransport over a single /mcp path, handling
// POST (JSON-RPC request/notification), GET (the durable server push stream), and
// DELETE (explicit session termination), per the 2025-11-25 Streamable HTTP transport.
// It replaces the split GET /sse + POST /message design of the 2024-11-05 transport
// with one endpoint whose method determines the exchange.
type StreamableHTTPTransport struct {
	logger *slog.Logger

	newSessions chan *httpSession

	mu       sync.RWMutex
	sessions map[string]*httpSession

	done   chan struct{}
	closed chan struct{}
}

// NewStreamableHTTPTransport creates a StreamableHTTPTransport. The returned value must be
// registered against a ServeMux via Handler, and eventually shut down via Shutdown.
func NewStreamableHTTPTransport(logger *slog.Logger) *StreamableHTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamableHTTPTransport{
		logger:      logger.With(slog.String("component", "streamablehttp")),
		newSessions: make(chan *httpSession, 5),
		sessions:    make(map[string]*httpSession),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

type httpSession struct {
	id     string
	logger *slog.Logger

	incoming chan JSONRPCMessage

	mu      sync.Mutex
	pending map[MustString]chan JSONRPCMessage
	stream  chan JSONRPCMessage

	stopOnce       sync.Once
	done           chan struct{}
	receivedClosed chan struct{}
}

func newHTTPSession(logger *slog.Logger) *httpSession {
	id := uuid.New().String()
	return &httpSession{
		id:             id,
		logger:         logger.With(slog.String("sessionID", id)),
		incoming:       make(chan JSONRPCMessage, 10),
		pending:        make(map[MustString]chan JSONRPCMessage),
		done:           make(chan struct{}),
		receivedClosed: make(chan struct{}),
	}
}

func (s *httpSession) ID() string { return s.id }

// Send routes a server-originated message either to whichever POST call is waiting on
// the response it correlates with (by ID, for plain responses with no Method), or to
// the currently attached GET stream for genuine server push (requests the server
// initiates, like ping, and all notifications). If no GET stream is attached, the push
// is dropped: delivery to the stream is best-effort, matching the protocol's
// allowance for clients that simply reconnect and re-read state.
func (s *httpSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	if msg.Method == "" && msg.ID != "" {
		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		if ok {
			delete(s.pending, msg.ID)
		}
		s.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("session %s has no active GET stream, dropping push", s.id)
	}

	select {
	case stream <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session %s is closed", s.id)
	}
}

func (s *httpSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		defer close(s.receivedClosed)
		for {
			select {
			case msg := <-s.incoming:
				if !yield(msg) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s *httpSession) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	<-s.receivedClosed
}

func (s *httpSession) registerPending(id MustString) chan JSONRPCMessage {
	ch := make(chan JSONRPCMessage, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *httpSession) dropPending(id MustString) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *httpSession) attachStream(ch chan JSONRPCMessage) {
	s.mu.Lock()
	s.stream = ch
	s.mu.Unlock()
}

func (s *httpSession) detachStream(ch chan JSONRPCMessage) {
	s.mu.Lock()
	if s.stream == ch {
		s.stream = nil
	}
	s.mu.Unlock()
}

// Sessions implements ServerTransport.
func (t *StreamableHTTPTransport) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(t.closed)
		for {
			select {
			case <-t.done:
				return
			case sess := <-t.newSessions:
				if !yield(sess) {
					return
				}
			}
		}
	}
}

// Shutdown implements ServerTransport.
func (t *StreamableHTTPTransport) Shutdown(ctx context.Context) error {
	close(t.done)
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close streamable HTTP transport: %w", ctx.Err())
	case <-t.closed:
	}
	return nil
}

func (t *StreamableHTTPTransport) lookup(id string) (*httpSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[id]
	return sess, ok
}

func (t *StreamableHTTPTransport) register(sess *httpSession) {
	t.mu.Lock()
	t.sessions[sess.id] = sess
	t.mu.Unlock()
}

func (t *StreamableHTTPTransport) remove(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

func writeJSONRPCError(w http.ResponseWriter, status int, id MustString, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	})
}

// Handler returns an http.Handler serving the transport's three methods; the caller
// mounts it on the /mcp path.
func (t *StreamableHTTPTransport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			t.handlePost(w, r)
		case http.MethodGet:
			t.handleGet(w, r)
		case http.MethodDelete:
			t.handleDelete(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (t *StreamableHTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && v != protocolVersion {
		http.Error(w, fmt.Sprintf("unsupported Mcp-Protocol-Version %q", v), http.StatusBadRequest)
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" &&
		(!strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream")) {
		http.Error(w, "Accept header must include application/json and text/event-stream", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "malformed JSON-RPC message", http.StatusBadRequest)
		return
	}

	sessIDHeader := r.Header.Get("Mcp-Session-Id")

	var sess *httpSession
	if msg.Method == methodInitialize && sessIDHeader == "" {
		sess = newHTTPSession(t.logger)
		t.register(sess)
		select {
		case t.newSessions <- sess:
		case <-t.done:
			return
		}
	} else {
		found, ok := t.lookup(sessIDHeader)
		if !ok {
			writeJSONRPCError(w, http.StatusNotFound, msg.ID, jsonRPCInvalidRequestCode, "unknown or missing Mcp-Session-Id")
			return
		}
		sess = found
	}

	select {
	case sess.incoming <- msg:
	case <-t.done:
		return
	case <-sess.done:
		writeJSONRPCError(w, http.StatusNotFound, msg.ID, jsonRPCInvalidRequestCode, "session is closed")
		return
	}

	w.Header().Set("Mcp-Session-Id", sess.id)

	if msg.ID == "" {
		// A notification, or a client-originated response (e.g. a pong) with no reply expected.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	respCh := sess.registerPending(msg.ID)

	select {
	case resp := <-respCh:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	case <-time.After(fastResponseWindow):
		t.streamSingleResponse(w, r, sess, msg.ID, respCh)
	case <-r.Context().Done():
		sess.dropPending(msg.ID)
	case <-t.done:
		sess.dropPending(msg.ID)
	}
}

// streamSingleResponse upgrades a slow POST call to an SSE stream that carries exactly
// one event (the eventual response) before closing, per the transport's "chooses
// streaming when the tool is slow" policy.
func (t *StreamableHTTPTransport) streamSingleResponse(
	w http.ResponseWriter, r *http.Request, sess *httpSession, id MustString, respCh chan JSONRPCMessage,
) {
	upgraded, err := sse.Upgrade(w, r)
	if err != nil {
		sess.dropPending(id)
		t.logger.Error("failed to upgrade slow response to SSE", slog.String("err", err.Error()))
		http.Error(w, "failed to upgrade response", http.StatusInternalServerError)
		return
	}

	select {
	case resp := <-respCh:
		bs, _ := json.Marshal(resp)
		m := &sse.Message{Type: sse.Type("message")}
		m.AppendData(string(bs))
		if err := upgraded.Send(m); err != nil {
			t.logger.Warn("failed to send streamed response", slog.String("err", err.Error()))
			return
		}
		_ = upgraded.Flush()
	case <-r.Context().Done():
		sess.dropPending(id)
	case <-t.done:
		sess.dropPending(id)
	}
}

func (t *StreamableHTTPTransport) handleGet(w http.ResponseWriter, r *http.Request) {
	sessIDHeader := r.Header.Get("Mcp-Session-Id")

	var sess *httpSession
	if sessIDHeader == "" {
		sess = newHTTPSession(t.logger)
		t.register(sess)
		select {
		case t.newSessions <- sess:
		case <-t.done:
			return
		}
	} else {
		found, ok := t.lookup(sessIDHeader)
		if !ok {
			http.Error(w, "unknown Mcp-Session-Id", http.StatusNotFound)
			return
		}
		sess = found
	}

	w.Header().Set("Mcp-Session-Id", sess.id)

	upgraded, err := sse.Upgrade(w, r)
	if err != nil {
		t.logger.Error("failed to upgrade GET stream", slog.String("err", err.Error()))
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}

	streamCh := make(chan JSONRPCMessage, 32)
	sess.attachStream(streamCh)
	defer sess.detachStream(streamCh)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-t.done:
			return
		case <-sess.done:
			return
		case msg := <-streamCh:
			bs, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			m := &sse.Message{Type: sse.Type("message")}
			m.AppendData(string(bs))
			if err := upgraded.Send(m); err != nil {
				t.logger.Warn("failed to send push message", slog.String("err", err.Error()))
				return
			}
			if err := upgraded.Flush(); err != nil {
				t.logger.Warn("failed to flush push message", slog.String("err", err.Error()))
				return
			}
		}
	}
}

func (t *StreamableHTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessIDHeader := r.Header.Get("Mcp-Session-Id")
	sess, ok := t.lookup(sessIDHeader)
	if !ok {
		http.Error(w, "unknown or missing Mcp-Session-Id", http.StatusNotFound)
		return
	}

	sess.Stop()
	t.remove(sess.id)

	w.WriteHeader(http.StatusNoContent)
}
