// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/spindlehq/warden/internal/lifecycle"
	"github.com/spindlehq/warden/internal/provider"
	"github.com/spindlehq/warden/internal/store"
)

// fakeLifecycle is a scriptable Lifecycle implementation.
type fakeLifecycle struct {
	startErr     error
	stopErr      error
	reconnectErr error
	sendErr      error
	statusErr    error

	lastStart lifecycle.StartRequest
	stopped   []string
	sessions  []lifecycle.SessionStatus
}

func (f *fakeLifecycle) Start(ctx context.Context, req lifecycle.StartRequest) error {
	f.lastStart = req
	return f.startErr
}

func (f *fakeLifecycle) Stop(ctx context.Context, sessionID string) error {
	f.stopped = append(f.stopped, sessionID)
	return f.stopErr
}

func (f *fakeLifecycle) ForceReconnect(ctx context.Context, sessionID string) error {
	return f.reconnectErr
}

func (f *fakeLifecycle) SendText(ctx context.Context, sessionID, chatID, text string) error {
	return f.sendErr
}

func (f *fakeLifecycle) ListActiveSessions(ctx context.Context) ([]lifecycle.SessionStatus, error) {
	return f.sessions, f.statusErr
}

func (f *fakeLifecycle) Status(ctx context.Context, sessionID string) (lifecycle.SessionStatus, error) {
	if f.statusErr != nil {
		return lifecycle.SessionStatus{}, f.statusErr
	}
	return lifecycle.SessionStatus{
		Record: &store.Record{SessionID: sessionID, Platform: provider.PlatformQRLink, IsActive: true},
		Live:   true,
	}, nil
}

func newTestServer(t *testing.T, lc Lifecycle) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewRouter(lc, RouterConfig{}))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeLifecycle{})

	resp := doJSON(t, http.MethodGet, server.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeLifecycle{})

	resp := doJSON(t, http.MethodGet, server.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStartSession(t *testing.T) {
	lc := &fakeLifecycle{}
	server := newTestServer(t, lc)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/s1/start",
		`{"platform":"qrlink","credential":"secret","force":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if lc.lastStart.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", lc.lastStart.SessionID)
	}
	if lc.lastStart.Platform != provider.PlatformQRLink {
		t.Errorf("Platform = %q, want qrlink", lc.lastStart.Platform)
	}
	if !lc.lastStart.Force {
		t.Error("Force not propagated")
	}
}

func TestStartSessionBadBody(t *testing.T) {
	server := newTestServer(t, &fakeLifecycle{})

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/s1/start", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already connected", lifecycle.ErrAlreadyConnected, http.StatusConflict},
		{"unknown platform", lifecycle.ErrPlatformUnknown, http.StatusBadRequest},
		{"missing credential", store.ErrCredentialMissing, http.StatusPreconditionFailed},
		{"not found", store.ErrRecordNotFound, http.StatusNotFound},
		{"shutting down", lifecycle.ErrShuttingDown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, &fakeLifecycle{startErr: tt.err})

			resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/s1/start",
				`{"platform":"qrlink"}`)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}

			var body errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestStopSession(t *testing.T) {
	lc := &fakeLifecycle{}
	server := newTestServer(t, lc)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/s9/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(lc.stopped) != 1 || lc.stopped[0] != "s9" {
		t.Errorf("stopped = %v, want [s9]", lc.stopped)
	}
}

func TestReconnectSession(t *testing.T) {
	server := newTestServer(t, &fakeLifecycle{})

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/s1/reconnect", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestReconnectNotConnected(t *testing.T) {
	server := newTestServer(t, &fakeLifecycle{reconnectErr: lifecycle.ErrNotConnected})

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/s1/reconnect", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestListSessions(t *testing.T) {
	lc := &fakeLifecycle{
		sessions: []lifecycle.SessionStatus{
			{Record: &store.Record{SessionID: "a", Platform: provider.PlatformBotPoll, IsActive: true}, Live: true},
		},
	}
	server := newTestServer(t, lc)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []lifecycle.SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Record.SessionID != "a" || !got[0].Live {
		t.Errorf("unexpected sessions: %+v", got)
	}
}

func TestSessionStatus(t *testing.T) {
	server := newTestServer(t, &fakeLifecycle{})

	resp := doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions/s1/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got lifecycle.SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Record.SessionID != "s1" || !got.Live {
		t.Errorf("unexpected status: %+v", got)
	}
}

func TestSendMessageValidation(t *testing.T) {
	server := newTestServer(t, &fakeLifecycle{})

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/s1/messages", `{"text":"no chat"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/s1/messages", `{"chat_id":"c1","text":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
