package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/api"
	"github.com/atsn/emily/internal/layout"
	"github.com/atsn/emily/internal/session"
	"github.com/atsn/emily/internal/types"
)

type fakeSessions struct {
	current *session.Session
}

func (f *fakeSessions) Current(context.Context) (*session.Session, error) {
	return f.current, nil
}

func (f *fakeSessions) Token(context.Context) (string, error) {
	if f.current == nil {
		return "", nil
	}
	return f.current.AccessToken, nil
}

func (f *fakeSessions) Logout(context.Context) error {
	f.current = nil
	return nil
}

type staticConversations []*types.Conversation

func (s staticConversations) ListConversations(context.Context) ([]*types.Conversation, error) {
	return s, nil
}

func newTestServer(t *testing.T, current *session.Session) (*httptest.Server, *dashboard.Aggregator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	aggregator := dashboard.New(&dashboard.Opts{
		Conversations: staticConversations{
			{ID: "1", CreatedAt: types.NewTimestamp(at), MessageType: types.MessageTypeUser, Content: "Any new leads?"},
			{ID: "2", CreatedAt: types.NewTimestamp(at.Add(time.Minute)), MessageType: types.MessageTypeAssistant, Content: "Two leads came in today."},
		},
		Sessions:        &fakeSessions{current: current},
		Layout:          layout.NewSelector(layout.Breakpoint),
		Location:        time.UTC,
		ProfileFallback: &types.Profile{BusinessName: "Acme Realty"},
		Logger:          zaptest.NewLogger(t),
	})
	aggregator.Start(ctx)
	require.Eventually(t, func() bool {
		s := aggregator.Snapshot()
		return !s.Loading && (current == nil || len(s.Conversations) > 0)
	}, time.Second, 5*time.Millisecond)

	server, err := New(aggregator, api.NewMetrics(), zaptest.NewLogger(t))
	require.NoError(t, err)
	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(httpServer.Close)
	return httpServer, aggregator
}

var signedIn = &session.Session{AccessToken: "token", UserID: "user-1", Email: "jane@example.com"}

// noRedirect returns 303 responses instead of following them.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	response, err := http.Get(url)
	require.NoError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	return response.StatusCode, string(body)
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	response, err := noRedirect.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func TestDashboardPage(t *testing.T) {
	server, _ := newTestServer(t, signedIn)

	status, body := get(t, server.URL+"/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Acme Realty")
	assert.Contains(t, body, "Reminders")
	assert.Contains(t, body, "Leads to follow up")
	assert.Contains(t, body, "January 2, 2024")
	assert.Contains(t, body, "Two leads came in today.")
}

func TestDashboardPageMobile(t *testing.T) {
	server, aggregator := newTestServer(t, signedIn)

	status, body := get(t, server.URL+"/?width=400")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, layout.Narrow, aggregator.Snapshot().Mode)
	assert.Contains(t, body, `class="mobile"`)
	assert.NotContains(t, body, "Leads to follow up")

	status, _ = get(t, server.URL+"/?width=wide")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDashboardPageNotAuthenticated(t *testing.T) {
	server, _ := newTestServer(t, nil)
	_, body := get(t, server.URL+"/")
	assert.Contains(t, body, "Not Authenticated")
	assert.Contains(t, body, "Please log in to access the dashboard.")
}

func TestHistoryPage(t *testing.T) {
	server, aggregator := newTestServer(t, signedIn)
	status, body := get(t, server.URL+"/history")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Chat History")
	assert.Contains(t, body, "Emily:</strong> Two leads came in today.")
	assert.True(t, aggregator.Snapshot().ShowChatHistory)
}

func TestState(t *testing.T) {
	server, _ := newTestServer(t, signedIn)
	_, body := get(t, server.URL+"/api/state")

	var state stateResponse
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	assert.True(t, state.Authenticated)
	assert.Equal(t, "user-1", state.UserID)
	assert.Equal(t, "Acme Realty", state.DisplayName)
	assert.Equal(t, "desktop", state.Mode)
	require.Len(t, state.Groups, 1)
	assert.Equal(t, groupPayload{
		DateLabel:   "January 2, 2024",
		Count:       2,
		LastSender:  "Emily",
		LastPreview: "Two leads came in today.",
	}, state.Groups[0])
}

func TestToggleTheme(t *testing.T) {
	server, aggregator := newTestServer(t, signedIn)
	dark := aggregator.Snapshot().Dark

	response := post(t, server.URL+"/theme/toggle", "")
	assert.Equal(t, http.StatusSeeOther, response.StatusCode)
	assert.Equal(t, "/", response.Header.Get("Location"))
	assert.Equal(t, !dark, aggregator.Snapshot().Dark)
}

func TestSetFilter(t *testing.T) {
	server, aggregator := newTestServer(t, signedIn)

	response := post(t, server.URL+"/filter/bob", "")
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)

	response = post(t, server.URL+"/filter/emily", "")
	assert.Equal(t, http.StatusSeeOther, response.StatusCode)
	assert.Equal(t, "emily", aggregator.Snapshot().Filter)
}

func TestLogout(t *testing.T) {
	server, aggregator := newTestServer(t, signedIn)
	response := post(t, server.URL+"/logout", "")
	assert.Equal(t, http.StatusSeeOther, response.StatusCode)
	assert.True(t, aggregator.Snapshot().NotAuthenticated())
}

func TestMetrics(t *testing.T) {
	server, _ := newTestServer(t, nil)
	status, body := get(t, server.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "emily_overdue_leads")
	assert.Contains(t, body, "go_goroutines")
}

func TestValidateColor(t *testing.T) {
	server, _ := newTestServer(t, nil)

	tests := []struct {
		body   string
		status int
		want   colorResponse
	}{
		{body: `{"color": "#ff00aa"}`, status: http.StatusOK, want: colorResponse{Valid: true, Color: "#FF00AA"}},
		{body: `{"color": ""}`, status: http.StatusOK, want: colorResponse{Valid: true, Color: "#000000"}},
		{body: `{"color": "red"}`, status: http.StatusUnprocessableEntity, want: colorResponse{}},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			response := post(t, server.URL+"/api/widgets/color", tt.body)
			assert.Equal(t, tt.status, response.StatusCode)
			var got colorResponse
			require.NoError(t, json.NewDecoder(response.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}

	response := post(t, server.URL+"/api/widgets/color", `not json`)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestConnectionCard(t *testing.T) {
	server, _ := newTestServer(t, nil)

	response := post(t, server.URL+"/api/widgets/connection",
		`{"platform": "facebook", "page_name": "Acme", "is_active": true, "connection_method": "oauth", "connected_at": "2024-03-05T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var card map[string]any
	require.NoError(t, json.NewDecoder(response.Body).Decode(&card))
	assert.Equal(t, "Acme", card["account"])
	assert.Equal(t, "Connected", card["status"])
	assert.Equal(t, "OAuth", card["method"])
	assert.Equal(t, "Mar 5, 2024", card["connected_at"])
	assert.Equal(t, "Never", card["last_sync_at"])

	response = post(t, server.URL+"/api/widgets/connection", `{}`)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}
