package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// MockTwitchServer creates a test server that mocks the Twitch OAuth and Helix endpoints.
// Token requests are served on /oauth2/token and stream lookups on /helix/streams.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu            sync.Mutex
	live          map[string]bool
	TokenRequests atomic.Int64
	StreamQueries atomic.Int64
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		live:     make(map[string]bool),
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
	m.MockOAuthTokenResponse("test-token", 3600)
	m.MockLiveStreams()
	return m
}

// TokenURL is the mock's client-credentials endpoint.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// HelixURL is the mock's Helix base URL.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// Handle replaces the handler for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// SetLive replaces the set of logins reported as live.
func (m *MockTwitchServer) SetLive(logins ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = make(map[string]bool, len(logins))
	for _, l := range logins {
		m.live[l] = true
	}
}

func (m *MockTwitchServer) isLive(login string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[login]
}

// MockLiveStreams serves /helix/streams from the SetLive set: one entry when live, none otherwise.
func (m *MockTwitchServer) MockLiveStreams() {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		m.StreamQueries.Add(1)
		login := r.URL.Query().Get("user_login")
		data := []map[string]any{}
		if m.isLive(login) {
			data = append(data, map[string]any{"user_login": login, "type": "live", "title": "Live Now"})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	})
}

// MockStreamsResponse serves a fixed /helix/streams body for every login.
func (m *MockTwitchServer) MockStreamsResponse(status int, body any) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		m.StreamQueries.Add(1)
		writeJSON(w, status, body)
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.MockOAuthTokenStatus(http.StatusOK, map[string]any{
		"access_token": accessToken,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

// MockOAuthTokenStatus serves body with status on the token endpoint.
func (m *MockTwitchServer) MockOAuthTokenStatus(status int, body any) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		m.TokenRequests.Add(1)
		writeJSON(w, status, body)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
}
