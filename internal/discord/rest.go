package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	logx "discowatch/pkg/logx"
)

const defaultBaseURL = "https://discord.com/api/v9"

// browserUserAgent keeps the HTTP fingerprint of a desktop browser, which
// is what the platform expects from a user-account session.
const browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"

// APIError is a non-2xx response from the Discord API, with the
// machine-readable error body when one was present.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("discord api: status=%d code=%d message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("discord api: status=%d", e.Status)
}

// Client is a minimal REST client for the handful of read endpoints the
// watcher polls. Retry policy deliberately lives in the caller: a history
// fetch pass decides how often to retry, not the transport.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logx.Logger
}

type ClientOption func(*Client)

// WithBaseURL points the client at a different API root (tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient substitutes the underlying *http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func NewClient(token string, log logx.Logger, opts ...ClientOption) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		baseURL: defaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 20 * time.Second},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	// User accounts authenticate with the bare token (no "Bot " prefix).
	req.Header.Set("Authorization", c.token)
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var parsed struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &parsed) == nil {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.get(ctx, "/users/@me", &u)
	return u, err
}

// DMChannels lists the account's direct and group-direct channels.
func (c *Client) DMChannels(ctx context.Context) ([]Channel, error) {
	var chs []Channel
	if err := c.get(ctx, "/users/@me/channels", &chs); err != nil {
		return nil, err
	}
	out := chs[:0]
	for _, ch := range chs {
		if ch.IsDM() {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Messages fetches channel history, newest first. A non-zero after id
// limits the result to messages with larger ids.
func (c *Client) Messages(ctx context.Context, channelID Snowflake, limit int, after Snowflake) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if after != 0 {
		q.Set("after", after.String())
	}
	var msgs []Message
	err := c.get(ctx, "/channels/"+channelID.String()+"/messages?"+q.Encode(), &msgs)
	return msgs, err
}

// Relationships enumerates friends and other relationship entries.
func (c *Client) Relationships(ctx context.Context) ([]Relationship, error) {
	var rels []Relationship
	err := c.get(ctx, "/users/@me/relationships", &rels)
	return rels, err
}

// FetchChannel resolves a channel by id.
func (c *Client) FetchChannel(ctx context.Context, id Snowflake) (Channel, error) {
	var ch Channel
	err := c.get(ctx, "/channels/"+id.String(), &ch)
	return ch, err
}

// FetchUser resolves a user by id.
func (c *Client) FetchUser(ctx context.Context, id Snowflake) (User, error) {
	var u User
	err := c.get(ctx, "/users/"+id.String(), &u)
	return u, err
}
