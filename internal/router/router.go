package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt  *handler.AttemptHandler
	Operator *handler.OperatorHandler
	Monitor  *handler.MonitorHandler
	WS       *handler.WSHandler
	Health   *handler.HealthHandler

	// StartLimiter throttles attempt starts, which carry the entry token.
	// Nil disables it.
	StartLimiter *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so access logs and envelopes share it.
	router.Use(
		response.RequestIDMiddleware(log),
		middleware.AccessLog(),
		middleware.Metrics(),
		middleware.Brotli(),
	)

	// ─── Service routes ────────────────────────────────────────────────
	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	// ─── 1. Student Group (JWT role student) ───────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireJWT(authService, model.RoleStudent),
		middleware.NoStore(),
	)
	{
		start := []gin.HandlerFunc{handlers.Attempt.StartAttempt}
		if handlers.StartLimiter != nil {
			start = append([]gin.HandlerFunc{handlers.StartLimiter.Middleware()}, start...)
		}
		studentAPI.POST("/batches/:batch_id/attempts", start...)
		studentAPI.GET("/attempts/:id", handlers.Attempt.GetAttempt)
		studentAPI.PUT("/attempts/:id/answers", handlers.Attempt.SaveAnswer)
		studentAPI.POST("/attempts/:id/submit", handlers.Attempt.SubmitAttempt)
		studentAPI.GET("/attempts/:id/time", handlers.Attempt.GetRemainingTime)
		studentAPI.POST("/attempts/:id/ping", handlers.Attempt.Ping)
		studentAPI.POST("/attempts/:id/events", handlers.Attempt.LogEvent)
	}

	// ─── 2. WebSocket Group (token query param) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireJWT(authService, model.RoleStudent))
	{
		ws.GET("/student/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Operator Group (JWT + RBAC) ────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireJWT(authService, model.RoleOperator, model.RoleAdmin),
		middleware.NoStore(),
	)
	{
		// Batches
		adminAPI.POST("/batches",
			middleware.RequirePermission(model.PermissionBatchesWrite),
			handlers.Operator.CreateBatch,
		)
		adminAPI.GET("/batches/:id",
			middleware.RequirePermission(model.PermissionBatchesRead),
			handlers.Operator.GetBatch,
		)
		adminAPI.POST("/batches/:id/freeze",
			middleware.RequirePermission(model.PermissionBatchesControl),
			handlers.Operator.FreezeBatch,
		)
		adminAPI.POST("/batches/:id/resume",
			middleware.RequirePermission(model.PermissionBatchesControl),
			handlers.Operator.ResumeBatch,
		)
		adminAPI.POST("/batches/:id/finish",
			middleware.RequirePermission(model.PermissionBatchesControl),
			handlers.Operator.FinishBatch,
		)

		// Live monitor and audit
		adminAPI.GET("/batches/:id/live",
			middleware.RequirePermission(model.PermissionMonitorRead),
			handlers.Monitor.GetLiveStatus,
		)
		adminAPI.GET("/batches/:id/live/stream",
			middleware.RequirePermission(model.PermissionMonitorRead),
			handlers.Monitor.StreamLiveStatus,
		)
		adminAPI.GET("/batches/:id/events",
			middleware.RequirePermission(model.PermissionMonitorRead),
			handlers.Operator.EventLog,
		)

		// Attempt interventions
		adminAPI.POST("/attempts/:id/pause",
			middleware.RequirePermission(model.PermissionAttemptsControl),
			handlers.Operator.PauseAttempt,
		)
		adminAPI.POST("/attempts/:id/resume",
			middleware.RequirePermission(model.PermissionAttemptsControl),
			handlers.Operator.ResumeAttempt,
		)
		adminAPI.POST("/attempts/:id/force-submit",
			middleware.RequirePermission(model.PermissionAttemptsControl),
			handlers.Operator.ForceSubmitAttempt,
		)
		adminAPI.POST("/attempts/:id/reset",
			middleware.RequirePermission(model.PermissionAttemptsControl),
			handlers.Operator.ResetAttempt,
		)
	}

	return router
}
