package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens TokenSource) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(&Opts{BaseURL: server.URL, Timeout: time.Second, Logger: zaptest.NewLogger(t)}, tokens)
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func TestListConversations(t *testing.T) {
	requests := make(chan *http.Request, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		respond(`{"success": true, "conversations": [
			{"id": "1", "created_at": "2024-01-01T10:00:00Z", "message_type": "user", "content": "hi"},
			{"id": "2", "created_at": "2024-01-01T10:00:05Z", "message_type": "assistant", "content": "hello", "agent_name": "chase"}
		]}`)(w, r)
	}, StaticToken("secret"))

	conversations, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "2", conversations[1].ID)
	assert.Equal(t, "chase", conversations[1].AgentName)
	assert.True(t, conversations[0].IsUser())

	request := <-requests
	assert.Equal(t, conversationsPath, request.URL.Path)
	assert.Equal(t, "true", request.URL.Query().Get("all"))
	assert.Equal(t, "Bearer secret", request.Header.Get("Authorization"))
	assert.NotEmpty(t, request.Header.Get("X-Request-ID"))

	metrics := client.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests.WithLabelValues("conversations", "success")))
}

func TestListConversationsEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    int
		wantErr error
	}{
		{name: "missing list is empty", status: http.StatusOK, body: `{"success": true}`, want: 0},
		{name: "empty list", status: http.StatusOK, body: `{"success": true, "conversations": []}`, want: 0},
		{name: "unsuccessful", status: http.StatusOK, body: `{"success": false}`, wantErr: ErrTransport},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, wantErr: ErrTransport},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantErr: ErrMalformedResponse},
		{name: "null entry", status: http.StatusOK, body: `{"success": true, "conversations": [null]}`, wantErr: ErrMalformedResponse},
		{
			name:    "entry without timestamp",
			status:  http.StatusOK,
			body:    `{"success": true, "conversations": [{"id": "1", "message_type": "user"}]}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "unknown message type",
			status:  http.StatusOK,
			body:    `{"success": true, "conversations": [{"id": "1", "created_at": "2024-01-01T10:00:00Z", "message_type": "bot"}]}`,
			wantErr: ErrMalformedResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, StaticToken("secret"))

			conversations, err := client.ListConversations(context.Background())
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, conversations)
			assert.Len(t, conversations, tt.want)
		})
	}
}

func TestMissingCredentialSkipsRequest(t *testing.T) {
	var called atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called.Store(true) }, StaticToken(""))

	_, err := client.ListConversations(context.Background())
	assert.True(t, errors.Is(err, ErrMissingCredential))
	_, err = client.GetProfile(context.Background())
	assert.True(t, errors.Is(err, ErrMissingCredential))
	assert.False(t, called.Load())
}

func TestTokenSourceError(t *testing.T) {
	client := newTestClient(t, respond(`{}`), TokenFunc(func(context.Context) (string, error) {
		return "", errors.New("session store unavailable")
	}))
	_, err := client.ListLeads(context.Background(), 100, 0)
	assert.True(t, errors.Is(err, ErrMissingCredential))
}

func TestGetProfile(t *testing.T) {
	client := newTestClient(t, respond(`{"data": {"business_name": "Acme", "logo_url": "https://acme.test/logo.png"}}`), StaticToken("secret"))
	profile, err := client.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Acme", profile.BusinessName)

	client = newTestClient(t, respond(`{"data": null}`), StaticToken("secret"))
	_, err = client.GetProfile(context.Background())
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestListLeads(t *testing.T) {
	queries := make(chan string, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		respond(`{"data": [{"id": "a", "follow_up_at": "2024-01-01T09:00:00Z"}, {"id": "b", "follow_up_at": null}]}`)(w, r)
	}, StaticToken("secret"))

	leads, err := client.ListLeads(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.NotNil(t, leads[0].FollowUpAt)
	assert.Nil(t, leads[1].FollowUpAt)
	assert.Equal(t, "limit=100&offset=200", <-queries)
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := New(&Opts{
		BaseURL: server.URL,
		Breaker: &BreakerOpts{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 1, MinRequests: 3},
	}, StaticToken("secret"))

	for i := 0; i < 5; i++ {
		_, err := client.ListLeads(context.Background(), 100, 0)
		assert.True(t, errors.Is(err, ErrTransport))
	}
	assert.Equal(t, int32(3), requests.Load())
}
