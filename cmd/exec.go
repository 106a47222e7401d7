package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"club-system/config"
	"club-system/internal/gateway/hyp"
	"club-system/internal/handlers"
	"club-system/internal/receipts"
	"club-system/internal/services"
	"club-system/monitoring"
	"club-system/security"
	"club-system/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go/v7"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the payment gateway client
	gateway, err := hyp.New(ctx, &cfg.Gateway)
	if err != nil {
		return err
	}

	// Initialize the receipts (documents API) client
	receiptsClient := receipts.NewClient(&cfg.Receipts)

	// Initialize realtime notifications
	var notifier services.StateNotifier = services.NoopNotifier{}
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId("club-system-server"))
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		notifier = services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig))
	}

	// Initialize services
	storeService := services.NewStoreService(app)
	sessionStore := services.NewSessionStore(redisClient, cfg.SessionTTL)
	sessionService := services.NewSessionService(ctx, gateway, storeService, receiptsClient, notifier, sessionStore, services.SessionConfig{
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
		Retention:    cfg.SessionRetention,
	})

	// Initialize security helpers
	limiter := security.NewRateLimiter(redisClient, cfg.SessionRateLimit, cfg.SessionRateWindow)
	operator := security.NewOperatorGuard(cfg.OperatorKeyHash)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(app, sessionService, storeService, limiter, operator, cfg.PublicBaseURL)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start monitoring
	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Session endpoints
		e.Router.POST("/api/v1/payments/sessions", paymentHandler.OpenSession)
		e.Router.GET("/api/v1/payments/sessions/{sessionId}", paymentHandler.GetSession)
		e.Router.POST("/api/v1/payments/sessions/{sessionId}/cancel", paymentHandler.CancelSession)
		e.Router.POST("/api/v1/payments/sessions/{sessionId}/retry", paymentHandler.RetrySession)
		e.Router.POST("/api/v1/payments/sessions/{sessionId}/finalize", paymentHandler.FinalizeSession)

		// Gateway redirect landing
		e.Router.GET("/api/v1/payments/return", paymentHandler.HandleReturn)

		// Front-desk manual entry
		e.Router.POST("/api/v1/payments/manual", paymentHandler.RecordManualPayment)

		// Receipts
		e.Router.POST("/api/v1/payments/{paymentId}/receipt", paymentHandler.RegenerateReceipt)

		// Payment history
		e.Router.GET("/api/v1/members/{memberId}/payments", paymentHandler.ListMemberPayments)

		// Metrics
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", func(e *core.RequestEvent) error {
				promhttp.Handler().ServeHTTP(e.Response, e.Request)
				return nil
			})
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("shutdown signal received, cleaning up")
	cancel()
}
