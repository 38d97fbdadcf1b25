package backend

import (
	"context"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
)

// TokenBootstrapper fetches a fresh token, e.g. by reading the rendered
// board page.
type TokenBootstrapper func(ctx context.Context) (string, error)

// CsrfTokenBroker holds the anti-forgery token shared by every mutation of
// one client.
//
// The backend pops the token from the session on every POST and hands out a
// new one in the response, so a token is good for exactly one request. Acquire
// therefore grants exclusive use until Release; two POSTs never race on the
// same token. Reads (Current) never block.
type CsrfTokenBroker struct {
	slot      chan struct{}
	token     chan string
	bootstrap TokenBootstrapper
	metrics   *observability.Collector
	logger    *zap.Logger
}

// NewCsrfTokenBroker starts with initial (may be empty when a bootstrapper
// is given).
func NewCsrfTokenBroker(initial string, bootstrap TokenBootstrapper, metrics *observability.Collector, logger *zap.Logger) *CsrfTokenBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &CsrfTokenBroker{
		slot:      make(chan struct{}, 1),
		token:     make(chan string, 1),
		bootstrap: bootstrap,
		metrics:   metrics,
		logger:    logger,
	}
	b.token <- strings.TrimSpace(initial)
	return b
}

// Current returns the token as of now.
func (b *CsrfTokenBroker) Current() string {
	t := <-b.token
	b.token <- t
	return t
}

// Rotate replaces the token. Empty tokens are ignored: responses that carry
// none leave the current one in place.
func (b *CsrfTokenBroker) Rotate(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	old := <-b.token
	b.token <- token
	if old != token {
		b.metrics.IncTokenRotations()
		b.logger.Debug("CSRF token rotated")
	}
}

// Invalidate forgets the token so the next Acquire bootstraps a new one.
// Used after the backend rejected a request outright (HTTP 400).
func (b *CsrfTokenBroker) Invalidate() {
	<-b.token
	b.token <- ""
}

// Acquire waits for exclusive use of the token and returns it. The caller
// must call Release, after rotating from the response if one arrived.
func (b *CsrfTokenBroker) Acquire(ctx context.Context) (string, error) {
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return "", apperrors.Timeout(apperrors.CodeRequestTimeout, "waiting for CSRF token").
			WithCause(ctx.Err()).
			Build()
	}

	token := b.Current()
	if token != "" || b.bootstrap == nil {
		return token, nil
	}

	fresh, err := b.bootstrap(ctx)
	if err != nil {
		b.Release()
		return "", apperrors.Wrap(err, "csrf.bootstrap", "could not obtain a CSRF token")
	}
	b.Rotate(fresh)
	return b.Current(), nil
}

// Release hands the token to the next waiting mutation.
func (b *CsrfTokenBroker) Release() {
	select {
	case <-b.slot:
	default:
	}
}
