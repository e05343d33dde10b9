package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	AllowOrigins []string
}

// NewRouter assembles the public booking API under /v1.
func NewRouter(h *Handler, cfg RouterConfig, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(requestLogger(log.With(slog.String("component", "http"))), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Idempotency-Key", "X-Idempotency-Key"}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.GET("/slots", h.QuerySlots)

		bookings := v1.Group("/bookings")
		bookings.POST("", h.Book)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/invite.ics", h.Invite)
		bookings.POST("/:id/cancel", h.Cancel)

		v1.POST("/groups/:id/refresh", h.RefreshGroup)
	}

	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request served", attrs...)
			return
		}
		log.Debug("request served", attrs...)
	}
}
