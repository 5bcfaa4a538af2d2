package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-proposals/api/swagger"
	"github.com/noah-isme/course-proposals/internal/middleware"
	"github.com/noah-isme/course-proposals/internal/service"
	"github.com/noah-isme/course-proposals/pkg/config"
	"github.com/noah-isme/course-proposals/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-proposals/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-proposals/pkg/middleware/requestid"
)

// NewRouter assembles the HTTP surface.
func NewRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, proposals *ProposalHandler, callbacks *CallbackHandler) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	if logr == nil {
		logr = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := NewMetricsHandler(metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	v1 := r.Group("/v1")
	v1.GET("/metrics/summary", metricsHandler.Summary)
	v1.POST("/callbacks", callbacks.Handle)

	proposalRoutes := v1.Group("/proposals")
	proposalRoutes.POST("", proposals.Create)
	proposalRoutes.GET("", proposals.List)
	proposalRoutes.POST("/sweep", proposals.Sweep)
	proposalRoutes.GET("/:id", proposals.Get)
	proposalRoutes.PUT("/:id/delivery-ref", proposals.SetDeliveryRef)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
