package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"giftcard-fulfillment-api/internal/config"
	"giftcard-fulfillment-api/internal/handlers"
	"giftcard-fulfillment-api/internal/middleware"
	"giftcard-fulfillment-api/internal/notify"
	"giftcard-fulfillment-api/internal/secrets"
	"giftcard-fulfillment-api/internal/services"
	"giftcard-fulfillment-api/internal/storage"
	"giftcard-fulfillment-api/internal/telemetry"
	"giftcard-fulfillment-api/internal/webhooks"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg := config.LoadConfig()

	slog.Info("Starting Gift Card Fulfillment API", "version", "1.0.0")

	// Initialize metrics (Prometheus via OpenTelemetry)
	metrics, err := telemetry.NewMetrics("giftcard-fulfillment-api")
	if err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		return
	}
	slog.Info("Metrics initialized")

	// Initialize the code encryption codec
	codec, err := secrets.NewCodec(cfg.EncryptionKey)
	if err != nil {
		slog.Error("Failed to initialize encryption codec", "error", err)
		return
	}

	// Initialize storage
	persistEnabled := cfg.EnableJSONPersistence == "true"
	store, err := storage.NewMemoryStore(cfg.DataPath, persistEnabled)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		return
	}
	slog.Info("Store initialized", "persistence_enabled", persistEnabled)

	// Initialize the webhook delivery attempt log
	maxAttempts, _ := strconv.Atoi(cfg.MaxAttemptsInLog)
	if maxAttempts <= 0 {
		maxAttempts = 10000
	}
	retention, err := time.ParseDuration(cfg.AttemptRetention)
	if err != nil {
		slog.Warn("Invalid attempt retention, using default", "provided", cfg.AttemptRetention, "error", err)
		retention = 720 * time.Hour
	}

	attemptLog, err := webhooks.NewAttemptLog(webhooks.AttemptLogConfig{
		FilePath:   cfg.AttemptsFilePath,
		MaxEntries: maxAttempts,
		Retention:  retention,
		Logger:     slog.Default(),
	})
	if err != nil {
		slog.Error("Failed to initialize attempt log", "error", err)
		return
	}

	// Initialize the webhook dispatcher
	webhookTimeout, err := time.ParseDuration(cfg.WebhookTimeout)
	if err != nil {
		slog.Warn("Invalid webhook timeout, using default", "provided", cfg.WebhookTimeout, "error", err)
		webhookTimeout = 10 * time.Second
	}
	webhookAttempts, err := strconv.Atoi(cfg.WebhookMaxAttempts)
	if err != nil || webhookAttempts < 1 {
		slog.Warn("Invalid webhook max attempts, using default", "provided", cfg.WebhookMaxAttempts)
		webhookAttempts = 3
	}
	backoffBase, err := time.ParseDuration(cfg.WebhookBackoffBase)
	if err != nil {
		slog.Warn("Invalid webhook backoff base, using default", "provided", cfg.WebhookBackoffBase, "error", err)
		backoffBase = 2 * time.Second
	}

	dispatcher := webhooks.NewDispatcher(store, attemptLog, webhooks.DispatcherConfig{
		Timeout:     webhookTimeout,
		MaxAttempts: webhookAttempts,
		BackoffBase: backoffBase,
	}, metrics)
	slog.Info("Webhook dispatcher initialized",
		"timeout", webhookTimeout.String(),
		"max_attempts", webhookAttempts,
		"backoff_base", backoffBase.String())

	// Initialize services
	inventoryService := services.NewInventoryService(cfg, store, codec, dispatcher, metrics)
	notifier := notify.NewLogNotifier()
	fulfillmentService := services.NewFulfillmentService(store, inventoryService, notifier, dispatcher, metrics)
	slog.Info("Services initialized")

	// Initialize handlers
	inventoryHandler := handlers.NewInventoryHandler(inventoryService)
	orderHandler := handlers.NewOrderHandler(fulfillmentService)
	webhookHandler := handlers.NewWebhookHandler(store, dispatcher, attemptLog)
	healthHandler := handlers.NewHealthHandler()
	slog.Debug("HTTP handlers initialized")

	r := mux.NewRouter()

	// Apply telemetry middleware to all routes first
	telemetryMiddleware := telemetry.NewMiddleware(metrics)
	r.Use(telemetryMiddleware.Handler)

	// Apply auth middleware to v1 API routes
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.AuthMiddleware)

	// Order lifecycle routes
	v1.HandleFunc("/companies/{companyId}/orders", orderHandler.CreateOrder).Methods("POST")
	v1.HandleFunc("/companies/{companyId}/orders/{orderId}", orderHandler.GetOrder).Methods("GET")
	v1.HandleFunc("/companies/{companyId}/orders/{orderId}/fulfill", orderHandler.FulfillOrder).Methods("POST")
	v1.HandleFunc("/companies/{companyId}/orders/{orderId}/payment-completed", orderHandler.PaymentCompleted).Methods("POST")
	v1.HandleFunc("/companies/{companyId}/orders/{orderId}/refund", orderHandler.Refund).Methods("POST")

	// Listing and webhook read routes
	v1.HandleFunc("/companies/{companyId}/listings/{listingId}", inventoryHandler.GetListing).Methods("GET")
	v1.HandleFunc("/companies/{companyId}/webhooks", webhookHandler.RegisterEndpoint).Methods("POST")
	v1.HandleFunc("/companies/{companyId}/webhooks/{webhookId}", webhookHandler.GetEndpoint).Methods("GET")
	v1.HandleFunc("/companies/{companyId}/webhooks/{webhookId}/test", webhookHandler.TestEndpoint).Methods("POST")
	v1.HandleFunc("/companies/{companyId}/webhooks/{webhookId}/attempts", webhookHandler.GetAttempts).Methods("GET")

	// Admin routes - inventory uploads and counter repair
	adminV1 := r.PathPrefix("/v1/admin").Subrouter()
	adminV1.Use(middleware.AdminAuthMiddleware)
	adminV1.HandleFunc("/companies/{companyId}/listings/{listingId}/inventory", inventoryHandler.Replenish).Methods("POST")
	adminV1.HandleFunc("/companies/{companyId}/listings/{listingId}/repair-counters", inventoryHandler.RepairCounters).Methods("POST")

	// System endpoints (no auth required)
	r.HandleFunc("/health", healthHandler.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	slog.Info("Starting HTTP server",
		"port", cfg.Port,
		"environment", cfg.Environment)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server ready to accept connections", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server first so no new deliveries are triggered
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Wait for in-flight webhook deliveries, then flush the attempt log
	dispatcher.Close()
	if err := attemptLog.Close(); err != nil {
		slog.Error("Error closing attempt log", "error", err)
	}

	inventoryService.Stop()

	if err := store.Close(); err != nil {
		slog.Error("Error closing store", "error", err)
	}

	metrics.Close(ctx)
	slog.Info("Server exited")
}
