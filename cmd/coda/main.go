package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/migration"
	"github.com/omnisonic/coda/internal/observability"
	"github.com/omnisonic/coda/internal/scheduler"
	"github.com/omnisonic/coda/internal/server"
	"github.com/omnisonic/coda/pkg/db"
	"github.com/omnisonic/coda/pkg/log"
	"github.com/omnisonic/coda/pkg/redis"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redis.Module,
		clock.Module,

		server.Module,
		scheduler.Module,
		migration.Module,
	)
	app.Run()
}

// RegisterSnowflake builds the process-wide snowflake node. Node 1 is fine
// for a single instance; multi-instance deployments set distinct node ids.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
