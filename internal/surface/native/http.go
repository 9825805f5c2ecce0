package native

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPOptions configure the companion client.
type HTTPOptions struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
	Retries  int
	// Backoff is the base delay between retries.
	Backoff time.Duration
	Client  *http.Client
}

// HTTPCapability talks to the on-device companion service over HTTP.
type HTTPCapability struct {
	base    string
	token   string
	retries int
	backoff time.Duration
	client  *http.Client
	logger  *zap.Logger
}

var (
	_ Capability    = (*HTTPCapability)(nil)
	_ MessageLister = (*HTTPCapability)(nil)
	_ AppLister     = (*HTTPCapability)(nil)
)

// NewHTTPCapability creates a companion client.
func NewHTTPCapability(opts HTTPOptions, logger *zap.Logger) *HTTPCapability {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &HTTPCapability{
		base:    strings.TrimRight(opts.Endpoint, "/"),
		token:   opts.Token,
		retries: max(opts.Retries, 0),
		backoff: backoff,
		client:  client,
		logger:  logger,
	}
}

// StatusError is a non-success HTTP response from the companion.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("companion: HTTP %d: %s", e.Code, e.Body)
}

func retryable(method string, code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return method == http.MethodGet && code >= 500
}

// do sends a request and decodes the JSON response into out. GET requests
// are retried on transport errors, 429 and 5xx with exponential backoff and
// jitter. Other methods are only retried on 429, where the companion has
// refused the request without acting on it.
func (c *HTTPCapability) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			base := c.backoff * time.Duration(1<<(attempt-1))
			delay := base + time.Duration(rand.Int64N(int64(base/2)+1))
			c.logger.Debug("retrying companion request",
				zap.String("path", path), zap.Int("attempt", attempt+1), zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if method != http.MethodGet {
				break
			}
			continue
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			lastErr = &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			if retryable(method, resp.StatusCode) {
				continue
			}
			return lastErr
		}
		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("%s %s: %w", method, path, lastErr)
}

// Health is the companion's health report.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Accessibility bool   `json:"accessibility"`
}

// Health queries the companion.
func (c *HTTPCapability) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPCapability) IsEnabled(ctx context.Context) (bool, error) {
	h, err := c.Health(ctx)
	if err != nil {
		return false, err
	}
	return h.Accessibility, nil
}

func (c *HTTPCapability) RequestPermission(ctx context.Context, p Permission) error {
	var res struct {
		Granted bool `json:"granted"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/permissions/request", map[string]string{"permission": string(p)}, &res); err != nil {
		return err
	}
	if !res.Granted {
		return fmt.Errorf("permission %s denied", p)
	}
	return nil
}

type successResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
}

func (c *HTTPCapability) OpenApp(ctx context.Context, packageName string) (bool, error) {
	var res successResponse
	if err := c.do(ctx, http.MethodPost, "/api/apps/open", map[string]string{"package_name": packageName}, &res); err != nil {
		return false, err
	}
	return res.Success, nil
}

func (c *HTTPCapability) InstalledApps(ctx context.Context) ([]InstalledApp, error) {
	var res struct {
		Apps []InstalledApp `json:"apps"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/apps", nil, &res); err != nil {
		return nil, err
	}
	return res.Apps, nil
}

// query adds the node ids to a GET query as one JSON-encoded value.
func (n Nodes) query(q url.Values) url.Values {
	if len(n) == 0 {
		return q
	}
	data, err := json.Marshal(n)
	if err == nil {
		q.Set("nodes", string(data))
	}
	return q
}

func (c *HTTPCapability) ListConversations(ctx context.Context, appID string, nodes Nodes, limit int) (json.RawMessage, error) {
	q := nodes.query(url.Values{"app_id": {appID}, "limit": {strconv.Itoa(limit)}})
	var res struct {
		Conversations json.RawMessage `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return res.Conversations, nil
}

func (c *HTTPCapability) ListMessages(ctx context.Context, appID, conversationID string, nodes Nodes, limit int) (json.RawMessage, error) {
	q := nodes.query(url.Values{"app_id": {appID}, "conversation_id": {conversationID}, "limit": {strconv.Itoa(limit)}})
	var res struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (c *HTTPCapability) SendMessage(ctx context.Context, appID, conversationID string, nodes Nodes, text string, attachments []string) (bool, error) {
	if attachments == nil {
		attachments = []string{}
	}
	req := map[string]any{
		"app_id":          appID,
		"conversation_id": conversationID,
		"text":            text,
		"attachments":     attachments,
	}
	if len(nodes) > 0 {
		req["nodes"] = nodes
	}
	var res successResponse
	if err := c.do(ctx, http.MethodPost, "/api/messages/send", req, &res); err != nil {
		return false, err
	}
	return res.Success, nil
}
