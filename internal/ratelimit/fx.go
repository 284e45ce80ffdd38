package ratelimit

import (
	"github.com/omnisonic/coda/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("ratelimit",
	fx.Provide(
		NewLocker,
		func(client *redis.Client, cfg config.Config) *IngestLimiter {
			return NewIngestLimiter(client, cfg.IngestRatePerSec, cfg.IngestBurst)
		},
	),
)
