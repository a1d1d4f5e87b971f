package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/smallbiznis/netmetering/internal/billing/domain"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/config"
	"github.com/smallbiznis/netmetering/internal/dashboard"
	"github.com/smallbiznis/netmetering/internal/ingestion"
	"github.com/smallbiznis/netmetering/internal/observability"
	obsmiddleware "github.com/smallbiznis/netmetering/internal/observability/logger"
	obstracing "github.com/smallbiznis/netmetering/internal/observability/tracing"
	readingdomain "github.com/smallbiznis/netmetering/internal/reading/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	clock     clock.Clock
	gateway   *ingestion.Gateway
	readings  readingdomain.Service
	billing   billingdomain.Service
	dashboard *dashboard.Service
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	Gateway   *ingestion.Gateway
	Readings  readingdomain.Service
	Billing   billingdomain.Service
	Dashboard *dashboard.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http.server"),
		clock:     p.Clock,
		gateway:   p.Gateway,
		readings:  p.Readings,
		billing:   p.Billing,
		dashboard: p.Dashboard,
	}

	svc.registerIngestRoutes()
	svc.registerDashboardRoutes()
	svc.registerOfficerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerIngestRoutes() {
	s.engine.POST("/api/meter-readings",
		RequestTimeout(s.cfg.Ingest.RequestTimeout),
		MaxBodyBytes(s.cfg.Ingest.MaxBodyBytes),
		s.IngestMeterReading,
	)
}

func (s *Server) registerDashboardRoutes() {
	cors := CORS(s.cfg.CORSAllowedOrigins)

	s.engine.OPTIONS("/api/meter-readings", cors)
	s.engine.GET("/api/meter-readings", cors, s.GetDashboard)
	s.engine.OPTIONS("/api/invoices", cors)
	s.engine.GET("/api/invoices", cors, s.ListInvoices)
}

func (s *Server) registerOfficerRoutes() {
	officer := s.engine.Group("/api", s.OfficerAuthRequired())
	{
		officer.GET("/meter-readings/:id", s.GetMeterReading)
		officer.POST("/meter-readings/:id/verify", s.VerifyMeterReading)
		officer.POST("/billing/runs", s.CreateBillingRun)
		officer.GET("/monthly-bills", s.ListMonthlyBills)
	}
}
