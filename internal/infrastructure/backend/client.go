// Package backend talks to the pegasus board backend: the poll endpoint, the
// component mutation endpoints, user lookup and the rendered board page that
// carries the first CSRF token.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/mariamrf/pegasus/internal/config"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
	"github.com/mariamrf/pegasus/pkg/api"
)

// SessionCookieName is the cookie the backend keeps its login session in.
const SessionCookieName = "session"

const maxBodyBytes = 8 << 20

// Endpoint labels, used for metrics and span names.
const (
	EndpointPoll   = "poll"
	EndpointCreate = "create"
	EndpointEdit   = "edit"
	EndpointDelete = "delete"
	EndpointUser   = "user"
	EndpointPage   = "page"
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	BoardID       string
	Invite        string
	PageURL       string
	SessionCookie string
	InitialToken  string
	Transport     config.Transport

	// HTTPClient overrides the default client; its Jar is kept if set.
	HTTPClient *http.Client

	Metrics *observability.Collector
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// Client is the HTTP collaborator for one board.
type Client struct {
	base    *url.URL
	boardID string
	invite  string
	pageURL string

	http      *http.Client
	userAgent string
	breaker   *gobreaker.CircuitBreaker
	// breakerWait is how long an open breaker refuses calls.
	breakerWait time.Duration
	retry       config.RetryConfig
	tokens      *CsrfTokenBroker

	metrics *observability.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewClient builds a client and its token broker. No request is sent until
// the first call.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidConfig, "invalid backend base URL").
			WithDetails(opts.BaseURL).
			WithCause(err).
			Build()
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Transport.RequestTimeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, apperrors.Internal(apperrors.CodeInvalidConfig, "create cookie jar").WithCause(err).Build()
		}
		httpClient.Jar = jar
	}
	if opts.SessionCookie != "" {
		httpClient.Jar.SetCookies(base, []*http.Cookie{{Name: SessionCookieName, Value: opts.SessionCookie, Path: "/"}})
	}

	c := &Client{
		base:      base,
		boardID:   opts.BoardID,
		invite:    opts.Invite,
		pageURL:   opts.PageURL,
		http:      httpClient,
		userAgent: opts.Transport.UserAgent,
		retry:     opts.Transport.Retry,
		metrics:   opts.Metrics,
		tracer:    tracer,
		logger:    logger.Named("backend"),
	}
	if c.pageURL == "" {
		c.pageURL = base.JoinPath("board", opts.BoardID).String()
	}
	if opts.Transport.CircuitBreaker.Enabled {
		c.breaker = c.newBreaker(opts.Transport.CircuitBreaker)
		c.breakerWait = opts.Transport.CircuitBreaker.OpenDuration
	}
	c.tokens = NewCsrfTokenBroker(opts.InitialToken, c.FetchToken, opts.Metrics, c.logger.Named("csrf"))

	return c, nil
}

// Tokens exposes the CSRF token broker.
func (c *Client) Tokens() *CsrfTokenBroker {
	return c.tokens
}

// BoardID returns the board this client talks to.
func (c *Client) BoardID() string {
	return c.boardID
}

// ============================================================================
// READS
// ============================================================================

// Poll fetches every component modified after since. A backend-reported
// failure is not an error here: the body still carries the lock state, so
// the caller inspects resp.Failure().
func (c *Client) Poll(ctx context.Context, since board.Watermark) (*api.PollResponse, error) {
	u := c.endpoint("api", "board", c.boardID, "components", "get")
	u.RawQuery = api.PollQuery(c.invite, since).Encode()

	var resp api.PollResponse
	err := c.withRetry(ctx, EndpointPoll, func(ctx context.Context) error {
		resp = api.PollResponse{}
		return c.send(ctx, EndpointPoll, http.MethodGet, u.String(), nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Token != "" {
		c.tokens.Rotate(resp.Token)
	}
	return &resp, nil
}

// ResolveUser looks up a user's public name.
func (c *Client) ResolveUser(ctx context.Context, userID string) (*api.UserResponse, error) {
	u := c.endpoint("api", "user", userID)

	var resp api.UserResponse
	err := c.withRetry(ctx, EndpointUser, func(ctx context.Context) error {
		resp = api.UserResponse{}
		return c.send(ctx, EndpointUser, http.MethodGet, u.String(), nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	if msg := resp.Failure(); msg != "" {
		return nil, apperrors.FromBackendMessage("backend.ResolveUser", msg)
	}
	return &resp, nil
}

// FetchToken loads the rendered board page and reads its CSRF token. It is
// the broker's bootstrapper; it also establishes the session cookie.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	var token string
	err := c.withRetry(ctx, EndpointPage, func(ctx context.Context) error {
		return c.exchange(ctx, EndpointPage, http.MethodGet, c.pageURL, nil, func(body io.Reader) error {
			t, ok := ExtractCSRFToken(body)
			if !ok {
				return apperrors.External(apperrors.CodeInvalidResponse, "board page carries no CSRF token").
					WithRetryable(false).
					Build()
			}
			token = t
			return nil
		})
	})
	return token, err
}

// ============================================================================
// MUTATIONS
// ============================================================================

// Create posts a new component and returns its id. The id is empty when the
// backend accepted the write without reporting one, which it does for
// invite-only viewers; the component then arrives with the next poll.
func (c *Client) Create(ctx context.Context, kind board.RecordKind, message string, pos *board.Position) (string, error) {
	u := c.endpoint("api", "board", c.boardID, "components", "post")

	resp, err := c.mutate(ctx, EndpointCreate, u.String(), func(token string) url.Values {
		return api.CreateRequest{Token: token, Invite: c.invite, Kind: kind, Message: message, Position: pos}.Form()
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.ComponentID.String()), nil
}

// Edit replaces the content of a component.
func (c *Client) Edit(ctx context.Context, elementID string, kind board.RecordKind, content string) error {
	u := c.endpoint("api", "edit", "board", c.boardID, "component", elementID)

	_, err := c.mutate(ctx, EndpointEdit, u.String(), func(token string) url.Values {
		return api.EditRequest{Token: token, Invite: c.invite, Kind: kind, Message: &content}.Form()
	})
	return err
}

// Move changes only the position of a component; the content is not resent.
func (c *Client) Move(ctx context.Context, elementID string, kind board.RecordKind, pos board.Position) error {
	u := c.endpoint("api", "edit", "board", c.boardID, "component", elementID)

	_, err := c.mutate(ctx, EndpointEdit, u.String(), func(token string) url.Values {
		return api.EditRequest{Token: token, Invite: c.invite, Kind: kind, Position: &pos}.Form()
	})
	return err
}

// Delete removes a component.
func (c *Client) Delete(ctx context.Context, elementID string) error {
	u := c.endpoint("api", "delete", "board", c.boardID, "component", elementID)

	_, err := c.mutate(ctx, EndpointDelete, u.String(), func(token string) url.Values {
		return api.DeleteRequest{Token: token, Invite: c.invite}.Form()
	})
	return err
}

// mutate posts one form under exclusive use of the CSRF token. Mutations are
// never retried: the first attempt consumed the token and may have been
// applied.
func (c *Client) mutate(ctx context.Context, endpoint, target string, form func(token string) url.Values) (*api.MutationResponse, error) {
	token, err := c.tokens.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.tokens.Release()

	var resp api.MutationResponse
	err = c.guard(func() error {
		return c.send(ctx, endpoint, http.MethodPost, target, form(token), &resp)
	})
	if err != nil {
		// A 400 is the backend refusing the token; the session no longer
		// holds one, so the next mutation bootstraps from the page.
		var ue *apperrors.UnifiedError
		if errors.As(err, &ue) && ue.Code == apperrors.CodeHTTPStatus && ue.Details == strconv.Itoa(http.StatusBadRequest) {
			c.tokens.Invalidate()
		}
		return nil, err
	}

	c.tokens.Rotate(resp.Token)
	if msg := resp.Failure(); msg != "" {
		return &resp, apperrors.FromBackendMessage("backend."+endpoint, msg)
	}
	return &resp, nil
}

// ============================================================================
// TRANSPORT
// ============================================================================

func (c *Client) endpoint(parts ...string) *url.URL {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.base.JoinPath(escaped...)
}

// send performs one request and decodes a JSON body into out.
func (c *Client) send(ctx context.Context, endpoint, method, target string, form url.Values, out any) error {
	return c.exchange(ctx, endpoint, method, target, form, func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return apperrors.External(apperrors.CodeInvalidResponse, "undecodable backend response").
				WithOperation("backend." + endpoint).
				WithRetryable(false).
				WithCause(err).
				Build()
		}
		return nil
	})
}

func (c *Client) exchange(ctx context.Context, endpoint, method, target string, form url.Values, read func(io.Reader) error) (err error) {
	op := "backend." + endpoint
	ctx, span := c.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("board.id", c.boardID),
		),
	)
	defer func() { observability.EndSpan(span, err) }()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return apperrors.Internal(apperrors.CodeRequestFailed, "build request").WithOperation(op).WithCause(err).Build()
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json, text/html")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveBackendRequest(endpoint, "error")
		if ctx.Err() != nil || isTimeout(err) {
			return apperrors.Timeout(apperrors.CodeRequestTimeout, "backend request timed out").
				WithOperation(op).
				WithCause(err).
				Build()
		}
		return apperrors.Connection(apperrors.CodeRequestFailed, "backend unreachable").
			WithOperation(op).
			WithCause(err).
			Build()
	}
	defer resp.Body.Close()

	c.metrics.ObserveBackendRequest(endpoint, strconv.Itoa(resp.StatusCode))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		e := apperrors.FromHTTPStatus(op, resp.StatusCode)
		e.Details = strconv.Itoa(resp.StatusCode)
		return e
	}

	return read(io.LimitReader(resp.Body, maxBodyBytes))
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// withRetry runs an idempotent read through the breaker, retrying
// transient failures with exponential backoff and jitter.
func (c *Client) withRetry(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return apperrors.Timeout(apperrors.CodeRequestTimeout, "request cancelled").
				WithOperation("backend." + endpoint).
				WithCause(err).
				Build()
		}

		err := c.guard(func() error { return fn(ctx) })
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Request succeeded after retry",
					zap.String("endpoint", endpoint),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if attempt >= c.retry.MaxRetries || !shouldRetry(err) {
			break
		}

		delay := backoff(c.retry, attempt)
		c.logger.Warn("Retrying backend request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}

	return lastErr
}

func shouldRetry(err error) bool {
	var ue *apperrors.UnifiedError
	if errors.As(err, &ue) && ue.Code == apperrors.CodeBreakerOpen {
		return false
	}
	return apperrors.IsConnection(err) || apperrors.IsTimeout(err) || apperrors.IsType(err, apperrors.ErrorTypeExternal) && apperrors.IsRetryable(err)
}

// String describes the client for logs.
func (c *Client) String() string {
	return fmt.Sprintf("backend(%s board=%s)", c.base.Host, c.boardID)
}
