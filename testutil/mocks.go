// Package testutil provides an httptest mock of the Bluesky XRPC endpoints
// used by the relay, for exercising the client without a network.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// MockBskyServer is a test server mocking the XRPC endpoints bsky.Client
// calls. Register handlers per endpoint; unregistered endpoints return 404.
type MockBskyServer struct {
	*httptest.Server
	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
}

// NewMockBskyServer creates a new mock XRPC server.
func NewMockBskyServer(t *testing.T) *MockBskyServer {
	t.Helper()
	m := &MockBskyServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for an XRPC method name.
func (m *MockBskyServer) Handle(method string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers["/xrpc/"+method] = h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockSession adds a createSession handler returning the given identity.
func (m *MockBskyServer) MockSession(did, handle string) {
	m.Handle("com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"did":       did,
			"handle":    handle,
			"accessJwt": "jwt-" + uuid.NewString(),
		})
	})
}

// MockResolveHandle adds a resolveHandle handler mapping every handle to did.
func (m *MockBskyServer) MockResolveHandle(did string) {
	m.Handle("com.atproto.identity.resolveHandle", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"did": did})
	})
}

// MockFollowersPage adds a getFollowers handler serving pages keyed by
// request cursor ("" for the first page).
func (m *MockBskyServer) MockFollowersPage(pages map[string]map[string]any) {
	m.Handle("app.bsky.graph.getFollowers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pages[r.URL.Query().Get("cursor")])
	})
}

// MockLog adds a getLog handler returning the given raw events and cursor.
func (m *MockBskyServer) MockLog(cursor string, events []map[string]any) {
	m.Handle("chat.bsky.convo.getLog", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"cursor": cursor, "logs": events})
	})
}

// MockError adds a handler for method returning an XRPC error body.
func (m *MockBskyServer) MockError(method string, status int, code, message string) {
	m.Handle(method, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message}) //nolint:errcheck // test mock response
	})
}

// MessageEvent builds a logCreateMessage entry with a generated message id.
func MessageEvent(senderDID, text string) map[string]any {
	return map[string]any{
		"$type":   "chat.bsky.convo.defs#logCreateMessage",
		"convoId": "convo-1",
		"message": map[string]any{
			"id":     uuid.NewString(),
			"text":   text,
			"sender": map[string]string{"did": senderDID},
		},
	}
}
