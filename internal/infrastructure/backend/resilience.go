package backend

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/config"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
)

// BreakerName labels the backend breaker in logs and metrics.
const BreakerName = "pegasus-backend"

func (c *Client) newBreaker(cfg config.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.WindowSize,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinimumRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			c.metrics.SetBreakerState(name, int(to))
		},
		// Refusals the backend understood say nothing about its health.
		IsSuccessful: func(err error) bool {
			return err == nil || apperrors.IsBackendReported(err)
		},
	})
}

// guard runs fn through the breaker, when one is configured.
func (c *Client) guard(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.Unavailable(apperrors.CodeBreakerOpen, "backend temporarily unavailable").
			WithOperation("backend").
			WithRetryAfter(c.breakerWait).
			WithCause(err).
			Build()
	}
	return err
}

// BreakerState reports the breaker state, closed when there is none.
func (c *Client) BreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// backoff returns the delay before retry attempt+1.
func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		jitter := delay * cfg.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
