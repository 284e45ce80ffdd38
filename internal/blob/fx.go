package blob

import (
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("blob",
	fx.Provide(
		func(cfg config.Config, clk clock.Clock) *Signer {
			return NewSigner(cfg.BlobSigningSecret, clk)
		},
		func(cfg config.Config, signer *Signer, log *zap.Logger) (Store, error) {
			return NewLocalStore(cfg.BlobLocalDir, cfg.BlobCDNURL, signer, log)
		},
	),
)
