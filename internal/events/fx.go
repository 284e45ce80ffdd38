package events

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the event bus.
var Module = fx.Module("events",
	fx.Provide(NewBus),
)

// NewBus wires the redis-backed bus and closes it on shutdown.
func NewBus(lc fx.Lifecycle, client *goredis.Client, log *zap.Logger) Bus {
	bus := NewRedisBus(client, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return bus.Close()
		},
	})
	return bus
}
