package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/impactgraph/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, workspace string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{Token: "xoxb-test", Workspace: workspace, BaseURL: srv.URL, RequestsPerSecond: 100})
}

func TestPostMessage(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"ts":"1700000000.000100"}`))
	}, "")

	require.NoError(t, c.PostMessage(context.Background(), "#docs", "hello"))
	assert.Equal(t, "#docs", got["channel"])
	assert.Equal(t, "hello", got["text"])
}

func TestPostMessageSlackError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}, "")

	err := c.PostMessage(context.Background(), "#nowhere", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpstream))
	assert.Contains(t, err.Error(), "chat.postMessage")
}

func TestPostMessageHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, "")

	err := c.PostMessage(context.Background(), "#docs", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpstream))
}

func TestMissingTokenIsConfigError(t *testing.T) {
	c := NewClient(Config{})
	assert.False(t, c.Enabled())

	err := c.PostMessage(context.Background(), "#docs", "hello")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPermalinkFor(t *testing.T) {
	tests := []struct {
		workspace string
		channel   string
		ts        string
		want      string
	}{
		{"acme", "C123", "1700000000.000100", "https://acme.slack.com/archives/C123/p1700000000000100"},
		{"https://acme.enterprise.slack.com/", "C9", "1.2", "https://acme.enterprise.slack.com/archives/C9/p12"},
		{"", "C123", "1.2", ""},
		{"acme", "", "1.2", ""},
	}
	for _, tt := range tests {
		t.Run(tt.workspace+tt.channel, func(t *testing.T) {
			c := NewClient(Config{Workspace: tt.workspace})
			assert.Equal(t, tt.want, c.PermalinkFor(tt.channel, tt.ts))
		})
	}

	var nilClient *Client
	assert.Empty(t, nilClient.PermalinkFor("C1", "1.2"))
}

func TestThreadFallsBackToPermalinkAPI(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations.replies":
			assert.Equal(t, "C123", r.URL.Query().Get("channel"))
			w.Write([]byte(`{"ok":true,"messages":[{"ts":"1.2","user":"U1","text":"docs for alpha are wrong"}]}`))
		case "/chat.getPermalink":
			w.Write([]byte(`{"ok":true,"permalink":"https://acme.slack.com/archives/C123/p12"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, "")

	msg, err := c.Thread(context.Background(), "C123", "1.2")
	require.NoError(t, err)
	assert.Equal(t, "docs for alpha are wrong", msg.Text)
	assert.Equal(t, "U1", msg.User)
	assert.Equal(t, "https://acme.slack.com/archives/C123/p12", msg.Permalink)
}

func TestThreadNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"messages":[]}`))
	}, "acme")

	_, err := c.Thread(context.Background(), "C123", "1.2")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInput))
}
