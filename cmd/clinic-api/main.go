// Package main provides the clinic API service entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/api/handlers"
	"github.com/medidesk/clinicflow/internal/api/middleware"
	"github.com/medidesk/clinicflow/internal/config"
	"github.com/medidesk/clinicflow/internal/dispense"
	"github.com/medidesk/clinicflow/internal/erp"
	"github.com/medidesk/clinicflow/internal/events"
	"github.com/medidesk/clinicflow/internal/ledger"
	"github.com/medidesk/clinicflow/internal/lookup"
	"github.com/medidesk/clinicflow/internal/observability/metrics"
	"github.com/medidesk/clinicflow/internal/observability/tracing"
	"github.com/medidesk/clinicflow/internal/prescription"
	"github.com/medidesk/clinicflow/internal/registration"
	"github.com/medidesk/clinicflow/internal/session"
)

const serviceName = "clinic-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}

	logger, _ := zap.NewProduction()
	if cfg.IsDev() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	ctx := context.Background()

	// Tracing.
	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.Environment = cfg.Env
	traceCfg.SampleRate = cfg.TraceRatio
	if cfg.OTLPEndpoint != "" {
		traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	traceProvider, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer traceProvider.Shutdown(context.Background())
	}

	m := metrics.New()

	// Session persistence.
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to parse database config", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Record store gateway.
	erpCfg := erp.DefaultConfig(cfg.ERPBaseURL)
	erpCfg.Timeout = cfg.ERPTimeout
	client, err := erp.New(erpCfg, m, logger)
	if err != nil {
		logger.Fatal("record store client", zap.Error(err))
	}

	// Audit event stream, optional.
	var producer *events.Producer
	if cfg.EventsEnabled() {
		if err := events.EnsureTopics(ctx, cfg.Brokers, logger); err != nil {
			logger.Warn("topic provisioning failed", zap.Error(err))
		}
		eventCfg := events.DefaultConfig()
		eventCfg.Brokers = cfg.Brokers
		eventCfg.Topic = cfg.AuditTopic
		producer, err = events.NewProducer(eventCfg, m, logger)
		if err != nil {
			logger.Fatal("event producer", zap.Error(err))
		}
		defer producer.Close()
	} else {
		logger.Info("audit events disabled, no brokers configured")
	}
	var regPub registration.Publisher
	var dispPub dispense.Publisher
	if producer != nil {
		regPub, dispPub = producer, producer
	}

	// Domain wiring.
	caches := lookup.New(client, logger)
	contexts := session.NewStore(pool, logger)
	if err := contexts.EnsureSchema(ctx); err != nil {
		logger.Fatal("session schema", zap.Error(err))
	}
	negotiator := session.New(client, contexts, cfg.SessionProfile, logger, caches)
	client.OnUnauthorized(negotiator.Invalidate)
	if err := negotiator.Restore(ctx); err != nil {
		logger.Warn("session restore failed", zap.Error(err))
	}

	led := ledger.NewStore(client, logger)
	workflow := registration.NewWorkflow(client, led, regPub, m, logger)
	scripts := prescription.NewStore(led, logger)
	pipeline := dispense.NewPipeline(client, led, scripts, caches, negotiator, dispPub, cfg.WorkerCount, m, logger)
	checkout := dispense.NewCheckout(led, dispPub, m, logger)

	// Router.
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"` + serviceName + `"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/session", handlers.NewSessionHandler(negotiator, logger).Routes())
		r.Mount("/registrations", handlers.NewRegistrationHandler(workflow, scripts, logger).Routes())
		r.Mount("/pharmacy", handlers.NewPharmacyHandler(pipeline, checkout, logger).Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting clinic API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}
