package presence

import (
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the presence store.
var Module = fx.Module("presence",
	fx.Provide(newStore),
)

func newStore(client *goredis.Client, clk clock.Clock, log *zap.Logger, cfg config.Config) Store {
	return NewStore(client, clk, log, cfg.PresenceTTL)
}
