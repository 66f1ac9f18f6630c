package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-fiscal-issuance/internal/client"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/database"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/logger"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/middleware"
	natsclient "github.com/pesio-ai/be-fiscal-issuance/internal/common/nats"
	"github.com/pesio-ai/be-fiscal-issuance/internal/config"
	"github.com/pesio-ai/be-fiscal-issuance/internal/handler"
	"github.com/pesio-ai/be-fiscal-issuance/internal/repository"
	"github.com/pesio-ai/be-fiscal-issuance/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Fiscal Issuance Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS
	nats, err := natsclient.Connect(natsclient.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.Service.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nats.Close()
	log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")

	// Initialize repositories
	proposalRepo := repository.NewProposalRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	ledgerRepo := repository.NewEventLedgerRepository(db)
	sequenceRepo := repository.NewFiscalSequenceRepository(db)

	// Initialize publisher and services
	notifier := client.NewNotificationPublisher(nats, log.Logger)

	tolerance, err := decimal.NewFromString(cfg.Issuance.Tolerance)
	if err != nil {
		log.Fatal().Err(err).Str("tolerance", cfg.Issuance.Tolerance).Msg("Invalid issuance tolerance")
	}

	issuanceService := service.NewIssuanceService(
		db, proposalRepo, documentRepo, ledgerRepo, sequenceRepo, notifier,
		service.IssuanceConfig{
			Tolerance:  tolerance,
			MaxRetries: cfg.Issuance.MaxRetries,
			TaxpayerID: cfg.Issuance.TaxpayerID,
		},
		log,
	)
	documentService := service.NewDocumentService(db, documentRepo, ledgerRepo, cfg.Issuance.MaxRetries, log)

	// Start the unpublished-event poller
	poller := service.NewOutboxPoller(db, ledgerRepo, nats, cfg.Outbox.BatchSize, cfg.Outbox.PollInterval, log)
	go poller.Run(ctx)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(issuanceService, documentService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Document routes
	mux.HandleFunc("/api/v1/documents", httpHandler.ListDocuments)
	mux.HandleFunc("/api/v1/documents/issue", httpHandler.IssueDocument)
	mux.HandleFunc("/api/v1/documents/get", httpHandler.GetDocument)
	mux.HandleFunc("/api/v1/documents/cancel", httpHandler.CancelDocument)
	mux.HandleFunc("/api/v1/documents/payment", httpHandler.RegisterPayment)
	mux.HandleFunc("/api/v1/documents/events", httpHandler.GetDocumentEvents)
	mux.HandleFunc("/api/v1/events", httpHandler.QueryEvents)
	mux.HandleFunc("/api/v1/events/unpublished", httpHandler.GetUnpublishedEvents)
	mux.HandleFunc("/api/v1/sequences/current", httpHandler.GetSequence)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
