package exportjob

import (
	"github.com/omnisonic/coda/internal/exportjob/service"
	"go.uber.org/fx"
)

var Module = fx.Module("export",
	fx.Provide(
		service.NewService,
		service.NewManifestRenderer,
		service.NewWorker,
	),
	fx.Invoke(registerWorker),
)

func registerWorker(lc fx.Lifecycle, worker *service.Worker) {
	lc.Append(fx.Hook{
		OnStart: worker.Start,
		OnStop:  worker.Stop,
	})
}
