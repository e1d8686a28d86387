package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"office-hours-queue/config"
	"office-hours-queue/internal/handlers"
	"office-hours-queue/internal/queue"
	"office-hours-queue/internal/services"
	"office-hours-queue/models"
	"office-hours-queue/monitoring"
	"office-hours-queue/security"
	"office-hours-queue/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}

	// Initialize PubNub
	pn := services.NewPubNub(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey, cfg.PubNubUserID)
	channelSecret := cfg.ChannelSecret
	if channelSecret == "" {
		if channelSecret, err = utils.GenerateCode(32); err != nil {
			return err
		}
		slog.Warn("CHANNEL_SECRET not set, private channel names will change on restart")
	}
	breaker := utils.NewCircuitBreaker("pubnub", uint32(cfg.BroadcastMaxFailures), cfg.BroadcastCooldown)
	channels := utils.NewChannelNamer(channelSecret)
	notifier := services.NewNotifier(
		services.NewPubNubPublisher(pn, breaker),
		channels,
		5*time.Second,
		256,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	engine := queue.NewEngine()
	history := services.NewPocketBaseHistory(app)
	settingsService := services.NewSettingsService(redisClient, models.CourseSettings{
		RejoinMinutes: cfg.DefaultRejoinMinutes,
		AllowOverride: cfg.DefaultAllowOverride,
	})
	queueService := services.NewQueueService(engine, redisClient, history, settingsService, notifier, cfg)
	retrier := services.NewHistoryRetrier(redisClient, history, cfg.HistoryRetryInterval, cfg.HistoryRetryBatch)
	monitor := monitoring.NewMonitor(engine, 15*time.Second)
	limiter := security.NewRateLimiter(redisClient, cfg.JoinRateLimit, cfg.JoinRateWindow)

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(queueService, channels)
	adminHandler := handlers.NewAdminHandler(queueService, settingsService)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Start background tasks
		retrier.Start(ctx)
		if cfg.EnableMetrics {
			monitor.Start()
		}

		// Public endpoints
		e.Router.GET("/api/v1/queue", queueHandler.GetQueueData)

		// Requester endpoints
		rq := e.Router.Group("/api/v1/queue")
		rq.Bind(apis.RequireAuth())
		rq.POST("/join", queueHandler.JoinQueue).BindFunc(limiter.Limit)
		rq.POST("/leave", queueHandler.LeaveQueue)
		rq.POST("/question", queueHandler.UpdateQuestion)
		rq.POST("/dismiss", queueHandler.DismissMessage)
		rq.GET("/me", queueHandler.GetMyEntry)
		rq.GET("/channels", queueHandler.GetChannels)
		rq.GET("/stats", adminHandler.GetStats)

		// Helper endpoints
		hp := e.Router.Group("/api/v1/helper")
		hp.Bind(apis.RequireAuth())
		hp.GET("/queue", adminHandler.GetQueue)
		hp.POST("/claim", adminHandler.ClaimEntry)
		hp.POST("/release", adminHandler.ReleaseEntry)
		hp.POST("/finish", adminHandler.FinishEntry)
		hp.POST("/remove", adminHandler.RemoveEntry)
		hp.POST("/fix", adminHandler.RequestFix)
		hp.POST("/message", adminHandler.SendMessage)
		hp.POST("/approve", adminHandler.ApproveOverride)
		hp.POST("/freeze", adminHandler.FreezeQueue)
		hp.POST("/unfreeze", adminHandler.UnfreezeQueue)

		// Admin endpoints
		ad := e.Router.Group("/api/v1/admin")
		ad.Bind(apis.RequireAuth())
		ad.GET("/settings", adminHandler.GetSettings)
		ad.POST("/settings", adminHandler.UpdateSettings)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]any{
				"status":       "healthy",
				"queue_size":   engine.Size(),
				"queue_frozen": engine.Frozen(),
				"broadcast":    breaker.State().String(),
			})
		})

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		slog.Info("Server routes registered", "environment", cfg.Environment)

		return e.Next()
	})

	// Graceful shutdown
	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		slog.Info("Shutdown signal received, cleaning up...")
		cancel()
		retrier.Shutdown()
		if cfg.EnableMetrics {
			monitor.Stop()
		}
		notifier.Close()
		if err := redisClient.Close(); err != nil {
			slog.Warn("redisClient.Close()", "error", err)
		}
		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		return fmt.Errorf("app.Start(): %w", err)
	}
	return nil
}
