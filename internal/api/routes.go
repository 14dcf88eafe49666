package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
	"github.com/Sanidhya1398/uw-decision-support/internal/service"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// SetupRouter sets up the API routes
func SetupRouter(cfg *config.Config, logger *zap.Logger, svc *service.InferenceService, metrics *monitoring.Metrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	if cfg.Server.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", RequestIDHeader)
		corsConfig.ExposeHeaders = []string{RequestIDHeader}
		router.Use(cors.New(corsConfig))
	}
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(MetricsMiddleware(metrics))

	handler := NewHandler(cfg, logger, svc)

	router.GET("/", handler.Root)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group(cfg.Server.APIPrefix)
	{
		v1.GET("/health", handler.Health)

		models := v1.Group("/models")
		{
			models.GET("/info", handler.GetModelInfo)
			models.GET("/loaded", handler.GetLoadedModels)
			models.GET("/versions", handler.GetVersions)
			models.POST("/reload", handler.ReloadModels)
		}

		predictions := v1.Group("")
		if cfg.RateLimit.Enabled {
			predictions.Use(RateLimitMiddleware(cfg.RateLimit))
		}
		{
			predictions.POST("/classify-complexity", handler.ClassifyComplexity)
			predictions.POST("/predict-test-yield", handler.PredictTestYield)
		}

		training := v1.Group("/training")
		{
			training.POST("/trigger", handler.TriggerTraining)
			training.GET("/status/:job_id", handler.GetTrainingStatus)
			training.GET("/jobs", handler.ListTrainingJobs)
		}

		v1.GET("/overrides/metrics", handler.GetOverrideMetrics)
	}

	return router
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// MetricsMiddleware records request counts and latency per route
func MetricsMiddleware(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// RateLimitMiddleware rejects requests beyond the configured rate
func RateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
