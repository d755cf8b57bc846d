package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/pledgepool/pledge-api/internal/auth"
	"github.com/pledgepool/pledge-api/internal/config"
	"github.com/pledgepool/pledge-api/internal/database"
	"github.com/pledgepool/pledge-api/internal/execution"
	"github.com/pledgepool/pledge-api/internal/pledge"
	"github.com/pledgepool/pledge-api/internal/pricing"
	"github.com/pledgepool/pledge-api/internal/session"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/pledgepool/pledge-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the pledge API server with graceful shutdown
// support. It sets up all required services, database connections, and API
// routes.
func main() {
	cfg := config.Get()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, types.RoleTrader)
	authService.RegisterAPICredentials(auth.TestAdminKey, auth.TestAdminSecret, types.RoleAdmin)

	policy := pricing.NewPolicy(cfg.CommissionVersion, cfg.CommissionRate)

	sessionService := session.NewService(db)
	sessionHandlers := session.NewGinHandlers(sessionService)

	pledgeService := pledge.NewService(db, policy)
	pledgeHandlers := pledge.NewGinHandlers(pledgeService)

	executionService := execution.NewService(db, policy, cfg.ExecutionDelay)
	executionHandlers := execution.NewGinHandlers(executionService)

	// Create and start the automated execution trigger
	trigger := execution.NewTrigger(executionService, sessionService, cfg.TriggerInterval, cfg.SessionCacheTTL)
	triggerCtx, triggerCancel := context.WithCancel(context.Background())
	defer triggerCancel()

	go trigger.Start(triggerCtx)

	// Start the stats reconciliation job
	reconciler := session.NewReconciler(sessionService, cfg.ReconcileSpec)
	if err := reconciler.Start(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to start stats reconciler")
	}
	defer reconciler.Stop()

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, sessionHandlers, pledgeHandlers, executionHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Session and pledge routes: Protected by JWT authentication
// - Internal routes: Protected by admin/system authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	sessionHandlers *session.GinHandlers,
	pledgeHandlers *pledge.GinHandlers,
	executionHandlers *execution.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Session routes
		sessions := v1.Group("/sessions")
		sessions.Use(middleware.JWTAuth(jwtSecret))
		{
			sessions.POST("", sessionHandlers.CreateSessionHandler())
			sessions.GET("", sessionHandlers.ListSessionsHandler())
			sessions.GET("/:session_id", sessionHandlers.GetSessionHandler())
			sessions.POST("/:session_id/activate", sessionHandlers.ActivateSessionHandler())
			sessions.POST("/:session_id/close", sessionHandlers.CloseSessionHandler())
			sessions.POST("/:session_id/cancel", sessionHandlers.CancelSessionHandler())
			sessions.POST("/:session_id/clone", sessionHandlers.CloneSessionHandler())
			sessions.DELETE("/:session_id", sessionHandlers.DeleteSessionHandler())
			sessions.POST("/:session_id/pledges", pledgeHandlers.CreatePledgeHandler())
			sessions.GET("/:session_id/pledges", pledgeHandlers.ListSessionPledgesHandler())
		}

		// Pledge routes
		pledges := v1.Group("/pledges")
		pledges.Use(middleware.JWTAuth(jwtSecret))
		{
			pledges.GET("", pledgeHandlers.ListUserPledgesHandler())
			pledges.GET("/:pledge_id", pledgeHandlers.GetPledgeHandler())
			pledges.POST("/:pledge_id/pay", pledgeHandlers.MarkPaidHandler())
			pledges.POST("/:pledge_id/ready", pledgeHandlers.MarkReadyHandler())
			pledges.POST("/:pledge_id/cancel", pledgeHandlers.CancelPledgeHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/sessions/:session_id/execute", executionHandlers.ExecuteSessionHandler())
			internal.POST("/sessions/:session_id/recalculate", sessionHandlers.RecalculateStatsHandler())
			internal.GET("/sessions/:session_id/executions", executionHandlers.ListSessionExecutionsHandler())
			internal.GET("/sessions/:session_id/audit", executionHandlers.ListSessionAuditHandler())
		}
	}
}
