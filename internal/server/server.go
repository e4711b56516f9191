package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	syncdomain "github.com/reviewloop/reviewloop/internal/billingsync/domain"
	"github.com/reviewloop/reviewloop/internal/config"
	ledgerdomain "github.com/reviewloop/reviewloop/internal/ledger/domain"
	obsmetrics "github.com/reviewloop/reviewloop/internal/observability/metrics"
	paymentstripe "github.com/reviewloop/reviewloop/internal/payment/stripe"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	genID      *snowflake.Node
	accountSvc accountdomain.Service
	ledgerSvc  ledgerdomain.Service
	syncSvc    syncdomain.Service
	webhooks   *paymentstripe.WebhookVerifier
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	GenID      *snowflake.Node
	AccountSvc accountdomain.Service
	LedgerSvc  ledgerdomain.Service
	SyncSvc    syncdomain.Service
	Webhooks   *paymentstripe.WebhookVerifier
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		accountSvc: p.AccountSvc,
		ledgerSvc:  p.LedgerSvc,
		syncSvc:    p.SyncSvc,
		webhooks:   p.Webhooks,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	accounts := v1.Group("/accounts")
	{
		accounts.POST("", s.CreateAccount)
		accounts.GET("/:accountId", s.GetAccount)
		accounts.POST("/:accountId/sync", s.SyncAccount)
		accounts.GET("/:accountId/credits", s.GetCredits)
		accounts.POST("/:accountId/credits/apply", s.ApplyCredits)
		accounts.POST("/:accountId/credits/rebuild", s.RebuildCredits)
		accounts.GET("/:accountId/credits/audit", s.AuditCredits)
	}
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.StripeWebhook)
}

func parseAccountID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("accountId"))
	if err != nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account_id", "invalid account id"))
		return 0, false
	}
	return id, true
}
