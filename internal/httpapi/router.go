// Package httpapi serves the marketplace over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker tracks its own connection state
type HealthChecker interface {
	IsHealthy() bool
}

type RouterConfig struct {
	MarketHandler *MarketHandler
	Store         Pinger
	// Publisher is nil when event publishing is disabled
	Publisher HealthChecker
	Metrics   http.Handler
	Log       *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Log))

	router.GET("/healthz", healthHandler(cfg.Store, cfg.Publisher, cfg.Log))
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	v1 := router.Group("/v1/market")
	{
		v1.GET("/:category", cfg.MarketHandler.Search)
		v1.PUT("/:category/:id", cfg.MarketHandler.Place)
		v1.DELETE("/:category/:id", cfg.MarketHandler.TakeOff)
	}

	return router
}

func healthHandler(store Pinger, publisher HealthChecker, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check store connection
		if err := store.Ping(c.Request.Context()); err != nil {
			log.Error("Store health check failed", zap.Error(err))
			RespondError(c, http.StatusServiceUnavailable, CodeUnhealthy, errors.New("store connection failed"))
			return
		}

		// Check RabbitMQ connection
		if publisher != nil && !publisher.IsHealthy() {
			log.Error("RabbitMQ health check failed")
			RespondError(c, http.StatusServiceUnavailable, CodeUnhealthy, errors.New("rabbitmq connection failed"))
			return
		}

		c.String(http.StatusOK, "healthy")
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("HTTP request failed", fields...)
			return
		}
		log.Debug("HTTP request completed", fields...)
	}
}
