// Package backend is the HTTP client for the marketplace REST API. It owns the
// wire format and translates every failure into the apperrors taxonomy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ecofinds/storefront/pkg/apperrors"
	"github.com/ecofinds/storefront/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 64 << 10

type Option func(*Client)

// WithHTTPClient replaces the default instrumented client. The breaker
// settings are ignored when this option is used.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithBreaker(s circuitbreaker.Settings) Option {
	return func(c *Client) {
		c.breaker = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// Client is shared by all sessions. Per-session calls go through the
// SessionClient returned by ForSession.
type Client struct {
	baseURL string
	http    *http.Client
	breaker circuitbreaker.Settings
	log     *slog.Logger
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: scheme and host are required", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: circuitbreaker.DefaultSettings("backend"),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(slog.String("component", "backend_client"))

	if c.http == nil {
		if c.breaker.Logger == nil {
			c.breaker.Logger = c.log
		}
		c.http = &http.Client{
			Transport: otelhttp.NewTransport(circuitbreaker.NewTransport(http.DefaultTransport, c.breaker)),
		}
	}
	return c, nil
}

// ForSession binds the client to one session's credentials.
func (c *Client) ForSession(creds Credentials) *SessionClient {
	return &SessionClient{client: c, creds: creds}
}

type SessionClient struct {
	client *Client
	creds  Credentials
}

type call struct {
	op      string
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
}

// do sends the call and decodes a 2xx body into out. A 401 is retried once
// after a credentials refresh when the credentials support it.
func (s *SessionClient) do(ctx context.Context, c call, out any) error {
	var payload []byte
	if c.body != nil {
		var err error
		payload, err = json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.op, err)
		}
	}

	resp, err := s.send(ctx, c, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if r, ok := s.creds.(Refresher); ok {
			drain(resp)
			if err := r.Refresh(ctx); err != nil {
				return &apperrors.Error{Kind: apperrors.ErrUnauthorized, Op: c.op, Status: http.StatusUnauthorized, Err: err}
			}
			s.client.log.DebugContext(ctx, "credentials refreshed, retrying", slog.String("op", c.op))
			if resp, err = s.send(ctx, c, payload); err != nil {
				return err
			}
		}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(c.op, resp.StatusCode, errorMessage(body))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrUnavailable, c.op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (s *SessionClient) send(ctx context.Context, c call, payload []byte) (*http.Response, error) {
	target := s.client.baseURL + c.path
	if len(c.query) > 0 {
		target += "?" + c.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.op, err)
	}

	token, err := s.creds.BearerToken(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnauthorized, c.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := RequestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.http.Do(req)
	if err != nil {
		s.client.log.WarnContext(ctx, "backend request failed",
			slog.String("op", c.op),
			slog.String("method", c.method),
			slog.String("path", c.path),
			slog.Any("error", err))
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, c.op, err)
	}
	s.client.log.DebugContext(ctx, "backend request",
		slog.String("op", c.op),
		slog.String("method", c.method),
		slog.String("path", c.path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

func statusError(op string, status int, message string) error {
	return &apperrors.Error{Kind: kindForStatus(status), Op: op, Status: status, Message: message}
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return apperrors.ErrUnauthorized
	case status == http.StatusPaymentRequired:
		return apperrors.ErrPaymentDeclined
	case status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case status == http.StatusConflict, status == http.StatusGone:
		return apperrors.ErrProductUnavailable
	case status == http.StatusTooManyRequests, status >= 500:
		return apperrors.ErrUnavailable
	case status >= 400:
		return apperrors.ErrRejected
	default:
		return apperrors.ErrUnavailable
	}
}

// errorMessage pulls a human-readable message out of an error body. The API
// answers with {"message": ...}, {"detail": ...} or a map of field errors.
func errorMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		if body[0] == '<' || len(body) > 200 {
			return ""
		}
		return string(body)
	}

	for _, key := range []string{"message", "detail", "error"} {
		if raw, ok := fields[key]; ok {
			if msg := firstString(raw); msg != "" {
				return msg
			}
		}
	}

	var parts []string
	for key, raw := range fields {
		if msg := firstString(raw); msg != "" {
			if key == "non_field_errors" {
				parts = append(parts, msg)
			} else {
				parts = append(parts, key+": "+msg)
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	slices.Sort(parts)
	return strings.Join(parts, "; ")
}

func firstString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// remap changes the kind of a classified error, keeping status and message.
func remap(err error, from, to error) error {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind != from {
		return err
	}
	out := *appErr
	out.Kind = to
	return &out
}
