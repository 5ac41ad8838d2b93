package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/feedbackhub/internal/attachment/local"
	"github.com/smallbiznis/feedbackhub/internal/config"
	dashboarddomain "github.com/smallbiznis/feedbackhub/internal/dashboard/domain"
	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	"github.com/smallbiznis/feedbackhub/internal/observability"
	obsmiddleware "github.com/smallbiznis/feedbackhub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/feedbackhub/internal/observability/metrics"
	obstracing "github.com/smallbiznis/feedbackhub/internal/observability/tracing"
	"github.com/smallbiznis/feedbackhub/internal/ratelimit"
	submissiondomain "github.com/smallbiznis/feedbackhub/internal/submission/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     []string{"/health", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
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
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	feedbackSvc  feedbackdomain.Service
	pipeline     submissiondomain.Pipeline
	dashboardSvc dashboarddomain.Service
	limiter      *ratelimit.SubmitLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	FeedbackSvc  feedbackdomain.Service
	Pipeline     submissiondomain.Pipeline
	DashboardSvc dashboarddomain.Service
	Limiter      *ratelimit.SubmitLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		feedbackSvc:  p.FeedbackSvc,
		pipeline:     p.Pipeline,
		dashboardSvc: p.DashboardSvc,
		limiter:      p.Limiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.engine.SetHTMLTemplate(pageTemplates)
	svc.registerUIRoutes()
	svc.registerAPIRoutes()
	svc.registerUploadRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerUIRoutes() {
	r := s.engine.Group("/")

	r.GET("/", s.FeedbackForm)
	r.POST("/submit", s.SubmitRateLimit(), s.SubmitForm)
	r.GET("/dashboard", s.Dashboard)
	r.GET("/dashboard/report.pdf", s.DashboardReport)
	r.StaticFS("/static", staticFS())
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/feedbacks", s.SubmitRateLimit(), s.CreateFeedback)
	api.GET("/feedbacks", s.ListFeedbacks)
	api.GET("/feedbacks/summary", s.FeedbackSummary)
	api.GET("/feedbacks/:id", s.GetFeedbackByID)
	api.PATCH("/feedbacks/:id", s.UpdateFeedback)
	api.DELETE("/feedbacks/:id", s.DeleteFeedback)
}

// registerUploadRoutes serves the local attachment backend. Remote backends
// hand out their own URLs.
func (s *Server) registerUploadRoutes() {
	if s.cfg.Attachment.Backend != config.AttachmentBackendLocal {
		return
	}
	s.engine.Static(local.URLPrefix, s.cfg.Attachment.LocalDir)
}
