// Package chat is a small Slack Web API client: post messages, resolve
// permalinks and read thread text.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rohankatakam/impactgraph/internal/errors"
)

const defaultBaseURL = "https://slack.com/api"

// Config for the Slack client
type Config struct {
	Token string `mapstructure:"token" yaml:"-"`
	// Workspace is the workspace host ("acme" or "https://acme.slack.com")
	// used to build permalinks offline
	Workspace string        `mapstructure:"workspace" yaml:"workspace"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RequestsPerSecond bounds Web API calls; Slack's tier 3 allows ~1/s
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// Client calls the Slack Web API
type Client struct {
	cfg         Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// Message is one chat message
type Message struct {
	Channel   string
	TS        string
	ThreadTS  string
	User      string
	Text      string
	Permalink string
}

// NewClient creates a client. Calls fail with a config error when no
// token is set.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 3),
		logger:      slog.Default().With("component", "chat"),
	}
}

// Enabled reports whether a bot token is configured
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Token != ""
}

// PostMessage posts text to channel
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	body := map[string]any{
		"channel":      channel,
		"text":         text,
		"unfurl_links": false,
		"mrkdwn":       true,
	}
	var resp struct {
		slackResponse
		TS string `json:"ts"`
	}
	if err := c.call(ctx, http.MethodPost, "chat.postMessage", nil, body, &resp); err != nil {
		return err
	}
	c.logger.Debug("chat message posted", "channel", channel, "ts", resp.TS)
	return nil
}

// GetPermalink asks Slack for the permalink of a message
func (c *Client) GetPermalink(ctx context.Context, channel, ts string) (string, error) {
	q := url.Values{"channel": {channel}, "message_ts": {ts}}
	var resp struct {
		slackResponse
		Permalink string `json:"permalink"`
	}
	if err := c.call(ctx, http.MethodGet, "chat.getPermalink", q, nil, &resp); err != nil {
		return "", err
	}
	return resp.Permalink, nil
}

// PermalinkFor builds a permalink without calling Slack. It returns ""
// when no workspace is configured.
func (c *Client) PermalinkFor(channel, ts string) string {
	if c == nil || c.cfg.Workspace == "" || channel == "" || ts == "" {
		return ""
	}
	host := strings.TrimSuffix(c.cfg.Workspace, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host + ".slack.com"
	}
	return fmt.Sprintf("%s/archives/%s/p%s", host, strings.TrimPrefix(channel, "#"), strings.ReplaceAll(ts, ".", ""))
}

// Thread returns the root message of a thread with its permalink
func (c *Client) Thread(ctx context.Context, channel, ts string) (*Message, error) {
	q := url.Values{"channel": {channel}, "ts": {ts}, "limit": {"1"}}
	var resp struct {
		slackResponse
		Messages []struct {
			TS       string `json:"ts"`
			ThreadTS string `json:"thread_ts"`
			User     string `json:"user"`
			Text     string `json:"text"`
		} `json:"messages"`
	}
	if err := c.call(ctx, http.MethodGet, "conversations.replies", q, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, errors.InputErrorf("thread %s not found in %s", ts, channel)
	}
	m := resp.Messages[0]
	msg := &Message{Channel: channel, TS: m.TS, ThreadTS: m.ThreadTS, User: m.User, Text: m.Text}

	msg.Permalink = c.PermalinkFor(channel, m.TS)
	if msg.Permalink == "" {
		if link, err := c.GetPermalink(ctx, channel, m.TS); err == nil {
			msg.Permalink = link
		} else {
			c.logger.Debug("permalink lookup failed", "channel", channel, "ts", m.TS, "error", err)
		}
	}
	return msg, nil
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (r slackResponse) failure() string {
	if r.OK {
		return ""
	}
	if r.Error == "" {
		return "unknown_error"
	}
	return r.Error
}

type failer interface{ failure() string }

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, body any, out failer) error {
	if !c.Enabled() {
		return errors.ConfigError("slack token not configured")
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return errors.UpstreamError(err, "slack rate limiter wait cancelled")
	}

	u := c.cfg.BaseURL + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.UpstreamErrorf(err, "slack %s request failed", endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.UpstreamErrorf(err, "read slack %s response", endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.UpstreamErrorf(fmt.Errorf("HTTP %d", resp.StatusCode), "slack %s returned %s", endpoint, resp.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.UpstreamErrorf(err, "decode slack %s response", endpoint)
	}
	if f := out.failure(); f != "" {
		return errors.UpstreamErrorf(fmt.Errorf("%s", f), "slack %s failed", endpoint)
	}
	return nil
}
