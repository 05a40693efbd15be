package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// SetupRouter configures the Gin routes. ctx bounds background middleware state.
func SetupRouter(ctx context.Context, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// Restrict to AllowedOrigins when configured, otherwise allow all.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", handler.HeaderExamineeID, "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Starting an attempt hits the catalog; answers and focus events are cheap.
	startLimiter := middleware.NewRateLimiter(ctx, 10, time.Minute, middleware.ByClientIP)
	eventLimiter := middleware.NewRateLimiter(ctx, 600, time.Minute, middleware.ByHeader(handler.HeaderExamineeID))

	api := router.Group("/api/v1")
	{
		api.POST("/assessments/:assessment_id/attempts", startLimiter.Middleware(), handlers.Attempt.StartAttempt)

		attempts := api.Group("/attempts/:attempt_id")
		attempts.Use(eventLimiter.Middleware())
		{
			attempts.GET("", handlers.Attempt.GetAttempt)
			attempts.PUT("/responses/:question_id", handlers.Attempt.RecordResponse)
			attempts.POST("/focus", handlers.Attempt.ReportFocus)
			attempts.POST("/submit", handlers.Attempt.SubmitAttempt)
		}
	}

	ws := router.Group("/ws/v1")
	{
		ws.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
