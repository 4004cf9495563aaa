package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	billingdomain "github.com/smallbiznis/gatemeter/internal/billing/domain"
	"github.com/smallbiznis/gatemeter/internal/config"
	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	enforcementdomain "github.com/smallbiznis/gatemeter/internal/enforcement/domain"
	obsmetrics "github.com/smallbiznis/gatemeter/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gatemeter/internal/observability/tracing"
	"github.com/smallbiznis/gatemeter/internal/ratelimit"
	"github.com/smallbiznis/gatemeter/internal/syncer"
	usagedomain "github.com/smallbiznis/gatemeter/internal/usage/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	connectionSvc  connectiondomain.Service
	syncSvc        *syncer.Service
	consumerSvc    consumerdomain.Service
	usageSvc       usagedomain.Service
	billingSvc     billingdomain.Service
	enforcementSvc enforcementdomain.Service

	obsMetrics     *obsmetrics.Metrics
	webhookLimiter *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Cfg config.Config
	Log *zap.Logger

	ConnectionSvc  connectiondomain.Service
	SyncSvc        *syncer.Service
	ConsumerSvc    consumerdomain.Service
	UsageSvc       usagedomain.Service
	BillingSvc     billingdomain.Service
	EnforcementSvc enforcementdomain.Service

	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		connectionSvc:  p.ConnectionSvc,
		syncSvc:        p.SyncSvc,
		consumerSvc:    p.ConsumerSvc,
		usageSvc:       p.UsageSvc,
		billingSvc:     p.BillingSvc,
		enforcementSvc: p.EnforcementSvc,
		obsMetrics:     p.ObsMetrics,
		webhookLimiter: p.WebhookLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Connections --------
	tenants := api.Group("/tenants/:tenant_id")
	tenants.POST("/connection", s.Connect)
	tenants.GET("/connection", s.GetConnection)
	tenants.POST("/connection/test", s.TestConnection)
	tenants.DELETE("/connection", s.Disconnect)

	// -------- Catalog --------
	tenants.GET("/catalog/preview", s.PreviewCatalog)
	tenants.POST("/catalog/sync", s.SyncCatalog)

	// -------- Consumers --------
	tenants.POST("/consumers/sync", s.SyncConsumers)
	tenants.GET("/consumers", s.ListConsumers)

	// -------- Usage --------
	tenants.GET("/usage", s.ListUsage)

	// -------- Billing --------
	tenants.POST("/billing/sweep", s.RunBillingSweep)

	consumers := api.Group("/consumers/:id")
	consumers.GET("", s.GetConsumer)
	consumers.PUT("/plan", s.AssignPlan)
	consumers.POST("/topup", s.TopUp)
	consumers.GET("/quota", s.CheckQuota)
	consumers.POST("/limits", s.EnforceRateLimits)
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/usage/:tenant_id", s.WebhookRateLimit(), s.IngestUsage)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
