package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/assistant"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/events"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/handler"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/rules"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/service"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/config"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/database"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/httputil"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/messaging"
)

func main() {
	// Load configuration
	cfg, err := config.LoadWithValidation("audit-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("audit-service", cfg.Server.Environment)
	log.Info().Msg("starting Audit Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Load the override table; a missing file just disables the layer
	overrides, err := rules.LoadOverrideTable(cfg.Validation.OverrideTablePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load override table")
	}

	// Rule store
	store := rules.NewStore(db, log)

	// Optional classification assistant
	advisorClient := assistant.NewClient(&cfg.Assistant, log)
	var advisor rules.Advisor
	if advisorClient != nil {
		advisor = advisorClient
		log.Info().Str("base_url", cfg.Assistant.BaseURL).Msg("classification assistant enabled")
	}

	// Optional RabbitMQ event publishing
	var rmq *messaging.RabbitMQ
	var eventPublisher events.Publisher
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeAuditEvents, "audit-service", log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		eventPublisher = publisher
	}
	auditPublisher := events.NewAuditPublisher(eventPublisher, log)

	// Initialize service and handlers
	auditService := service.NewAuditService(overrides, store, advisor, auditPublisher, &cfg.Validation, log)
	auditHandler := handler.NewAuditHandler(auditService, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":   "healthy",
			"service":  "audit-service",
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			health["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, health)
	})

	// API routes
	r.Route("/api/v1/audit", func(r chi.Router) {
		r.Use(httputil.Auth(&cfg.JWT))

		r.Post("/batches", auditHandler.ValidateBatch)
		r.Get("/rules/ncm/{code}", auditHandler.GetNCMRule)
		r.Post("/rules/overrides/reload", auditHandler.ReloadOverrides)
		r.Post("/assist/classification", auditHandler.SuggestClassification)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
