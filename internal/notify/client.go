package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const noticesPath = "/notices"

// Notice is one user-facing message about a challenge.
type Notice struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challenge_id"`
	UserID      string `json:"user_id"`
	Text        string `json:"text"`
}

// DedupKey identifies a notice across retries so the gateway can drop repeats.
func (n Notice) DedupKey() string {
	return n.ChallengeID + ":" + n.UserID + ":" + n.Type
}

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notify gateway: status=%d body=%s", e.Code, e.Body)
}

// Temporary reports whether resending the same notice may succeed.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// HeaderProvider supplies per-request headers such as gateway tokens.
type HeaderProvider func() map[string]string

// Client posts notices to the messaging gateway.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry sets the total number of attempts per notice and the backoff base.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.attempts = attempts
		if base > 0 {
			c.backoff = base
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 32},
		timeout:  10 * time.Second,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers n. Transport failures and temporary statuses are retried
// with doubling backoff; other statuses fail at once as *StatusError.
func (c *Client) Send(ctx context.Context, n Notice) error {
	if c == nil {
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}

	wait := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = c.post(ctx, noticesPath, n.DedupKey(), body)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.Temporary() {
			return lastErr
		}
		if attempt == c.attempts {
			break
		}
		if err := pause(ctx, wait); err != nil {
			return lastErr
		}
		wait *= 2
	}
	return fmt.Errorf("send %s notice to %s: %w", n.Type, n.UserID, lastErr)
}

func (c *Client) post(ctx context.Context, path, dedupKey string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Idempotency-Key", dedupKey)
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(body)

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		msg := string(resp.Body())
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return &StatusError{Code: code, Body: msg}
	}
	return nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
