package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/config"
)

// New builds the cache selected by cfg.Provider.
func New(ctx context.Context, cfg config.Cache, logger *zap.Logger) (Cache, error) {
	switch cfg.Provider {
	case "redis":
		return NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	case "none":
		return Nop{}, nil
	default:
		return NewMemoryCache(cfg.MaxItems, logger.Named("cache")), nil
	}
}
