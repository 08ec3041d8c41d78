// Package transport issues authenticated HTTP calls to the cart service and
// normalizes every failure into a typed *Error.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stopshop/tokenstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 20 * time.Second

const maxErrorBody = 4 << 10

// TokenSource yields the bearer token to send. It returns
// tokenstore.ErrNoToken or tokenstore.ErrTokenExpired when no call should
// be attempted.
type TokenSource interface {
	ValidToken(ctx context.Context) (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client talks to the cart, order and auth routes of the service.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	timeout time.Duration
	log     *zap.Logger
}

// New builds a Client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		tokens:  tokens,
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

type request struct {
	op      string
	method  string
	path    string
	body    any
	auth    bool
	headers map[string]string
	out     any
	// accept404 turns a 404 into success.
	accept404 bool
}

// bearer applies the local validity guard. No request leaves the process
// without a token that has not yet expired.
func (c *Client) bearer(ctx context.Context, op string) (string, error) {
	if c.tokens == nil {
		return "", newError(op, KindUnauthenticated, 0, "no token source", nil)
	}
	tok, err := c.tokens.ValidToken(ctx)
	switch {
	case err == nil:
		return tok, nil
	case errors.Is(err, tokenstore.ErrTokenExpired):
		return "", newError(op, KindAuthExpired, 0, "token expired", err)
	default:
		return "", newError(op, KindUnauthenticated, 0, "not logged in", err)
	}
}

func (c *Client) do(ctx context.Context, r request) error {
	var token string
	if r.auth {
		var err error
		if token, err = c.bearer(ctx, r.op); err != nil {
			return err
		}
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return newError(r.op, KindValidation, 0, "could not encode request", err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return newError(r.op, KindNetwork, 0, "could not build request", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed",
			zap.String("op", r.op),
			zap.String("request_id", reqID),
			zap.Error(err))
		return newError(r.op, KindNetwork, 0, "request could not complete", err)
	}
	defer resp.Body.Close()

	c.log.Debug("request done",
		zap.String("op", r.op),
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", reqID),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode == http.StatusNotFound && r.accept404 {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(r.op, resp)
	}

	if r.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		if ctx.Err() != nil {
			return newError(r.op, KindNetwork, resp.StatusCode, "response interrupted", err)
		}
		return newError(r.op, KindServer, resp.StatusCode, "malformed response body", err)
	}
	return nil
}

func statusError(op string, resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorMessage(raw)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	kind := KindServer
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		kind = KindAuthExpired
	case code == http.StatusForbidden:
		kind = KindForbidden
	case code == http.StatusNotFound:
		kind = KindNotFound
	case code == http.StatusBadRequest, code == http.StatusConflict, code == http.StatusUnprocessableEntity:
		kind = KindValidation
	}
	return newError(op, kind, resp.StatusCode, msg, nil)
}

// errorMessage pulls a message out of {"error": "..."} or {"message": "..."}
// bodies and falls back to plain text.
func errorMessage(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
