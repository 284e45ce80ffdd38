package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/omnisonic/coda/internal/blob"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	"github.com/omnisonic/coda/internal/events"
	"github.com/omnisonic/coda/internal/exportjob"
	exportdomain "github.com/omnisonic/coda/internal/exportjob/domain"
	"github.com/omnisonic/coda/internal/gateway"
	"github.com/omnisonic/coda/internal/identity"
	"github.com/omnisonic/coda/internal/ledger"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	"github.com/omnisonic/coda/internal/license"
	licensedomain "github.com/omnisonic/coda/internal/license/domain"
	"github.com/omnisonic/coda/internal/observability"
	obsmiddleware "github.com/omnisonic/coda/internal/observability/logger"
	obsmetrics "github.com/omnisonic/coda/internal/observability/metrics"
	obstracing "github.com/omnisonic/coda/internal/observability/tracing"
	"github.com/omnisonic/coda/internal/presence"
	"github.com/omnisonic/coda/internal/ratelimit"
	"github.com/omnisonic/coda/internal/royalty"
	royaltydomain "github.com/omnisonic/coda/internal/royalty/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	config.Module,
	events.Module,
	ledger.Module,
	royalty.Module,
	license.Module,
	presence.Module,
	gateway.Module,
	blob.Module,
	identity.Module,
	exportjob.Module,
	ratelimit.Module,
	fx.Provide(config.NewRealtimeConfigHolder),
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(identity.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	clock         clock.Clock
	royaltySvc    royaltydomain.Service
	ledgerSvc     ledgerdomain.Service
	licenseSvc    licensedomain.Service
	exportSvc     exportdomain.Service
	presenceStore presence.Store
	gateway       *gateway.Gateway
	blobStore     blob.Store
	blobSigner    *blob.Signer
	identity      identity.Resolver
	ingestLimiter *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Clock         clock.Clock
	RoyaltySvc    royaltydomain.Service
	LedgerSvc     ledgerdomain.Service
	LicenseSvc    licensedomain.Service
	ExportSvc     exportdomain.Service
	PresenceStore presence.Store
	Gateway       *gateway.Gateway
	BlobStore     blob.Store
	BlobSigner    *blob.Signer
	Identity      identity.Resolver
	IngestLimiter *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		clock:         p.Clock,
		royaltySvc:    p.RoyaltySvc,
		ledgerSvc:     p.LedgerSvc,
		licenseSvc:    p.LicenseSvc,
		exportSvc:     p.ExportSvc,
		presenceStore: p.PresenceStore,
		gateway:       p.Gateway,
		blobStore:     p.BlobStore,
		blobSigner:    p.BlobSigner,
		identity:      p.Identity,
		ingestLimiter: p.IngestLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerRealtimeRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Royalty ingest --------
	v1.POST("/usage-events", s.IngestUsageEvent)

	// -------- Cycles / checkpoints --------
	v1.GET("/cycles/current", s.GetCurrentCycle)
	v1.GET("/cycles/:cycleNumber/entries", s.ListCycleEntries)
	v1.POST("/cycles/:cycleNumber/close", s.CloseCycle)
	v1.GET("/checkpoints", s.ListCheckpoints)
	v1.GET("/checkpoints/:id", s.GetCheckpoint)
	v1.GET("/checkpoints/:id/verify", s.VerifyCheckpoint)

	// -------- Licenses --------
	v1.POST("/licenses", s.CreateLicense)
	v1.GET("/licenses", s.ListLicenses)
	v1.POST("/licenses/:id/revoke", s.RevokeLicense)

	// -------- Exports --------
	v1.POST("/exports", s.EnqueueExport)
	v1.GET("/exports/:id", s.GetExport)
	v1.GET("/exports/:id/download", s.DownloadExport)
	v1.GET("/blobs/*key", s.ServeBlob)
}

func (s *Server) registerRealtimeRoutes() {
	s.engine.GET("/v1/rooms/:roomId/presence", s.ListRoomPresence)
	s.engine.GET("/ws", s.gateway.HandleWS)
}
