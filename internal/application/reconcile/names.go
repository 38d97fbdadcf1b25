package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/cache"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
	"github.com/mariamrf/pegasus/pkg/api"
)

const userKeyPrefix = "user:"

// UserResolver looks up a user's public name.
type UserResolver interface {
	ResolveUser(ctx context.Context, userID string) (*api.UserResponse, error)
}

// DisplayNames turns user ids into the names shown next to chat lines and in
// the lock banner. Lookups go cache first, then backend; when both fail the
// raw id is shown.
type DisplayNames struct {
	resolver UserResolver
	cache    cache.Cache
	ttl      time.Duration
	metrics  *observability.Collector
	logger   *zap.Logger
}

// NewDisplayNames creates a resolver. A nil cache disables caching.
func NewDisplayNames(resolver UserResolver, c cache.Cache, ttl time.Duration, metrics *observability.Collector, logger *zap.Logger) *DisplayNames {
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DisplayNames{
		resolver: resolver,
		cache:    c,
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger.Named("names"),
	}
}

// Resolve returns the display name for userID. It never fails.
func (n *DisplayNames) Resolve(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}

	key := userKeyPrefix + userID
	if raw, ok, err := n.cache.Get(ctx, key); err != nil {
		n.logger.Warn("Display name cache read failed", zap.String("user_id", userID), zap.Error(err))
	} else if ok {
		n.metrics.CacheHit()
		return string(raw)
	}
	n.metrics.CacheMiss()

	if n.resolver == nil {
		return userID
	}

	resp, err := n.resolver.ResolveUser(ctx, userID)
	if err != nil {
		// A user the backend does not know stays unknown; remember the raw
		// id so every poll does not ask again. Transport failures are not
		// remembered.
		if apperrors.IsNotFound(err) {
			n.store(ctx, key, userID)
		} else {
			n.logger.Debug("Display name lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return userID
	}

	name := resp.DisplayName()
	if name == "" {
		name = userID
	}
	n.store(ctx, key, name)
	return name
}

// ResolveAll resolves each distinct id once.
func (n *DisplayNames) ResolveAll(ctx context.Context, userIDs []string) map[string]string {
	names := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, done := names[id]; done {
			continue
		}
		names[id] = n.Resolve(ctx, id)
	}
	return names
}

func (n *DisplayNames) store(ctx context.Context, key, name string) {
	if err := n.cache.Set(ctx, key, []byte(name), n.ttl); err != nil {
		n.logger.Warn("Display name cache write failed", zap.String("key", key), zap.Error(err))
	}
}
