package main

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/medflow/intake-capture/internal/capture/autofill"
	"github.com/medflow/intake-capture/internal/capture/device"
	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/internal/capture/events"
	"github.com/medflow/intake-capture/internal/capture/gateway"
	"github.com/medflow/intake-capture/internal/capture/grabber"
	"github.com/medflow/intake-capture/internal/capture/handler"
	"github.com/medflow/intake-capture/internal/capture/repository"
	"github.com/medflow/intake-capture/internal/capture/session"
	"github.com/medflow/intake-capture/internal/capture/storage"
	"github.com/medflow/intake-capture/internal/intake"
	"github.com/medflow/intake-capture/pkg/auth"
	"github.com/medflow/intake-capture/pkg/config"
	"github.com/medflow/intake-capture/pkg/database"
	"github.com/medflow/intake-capture/pkg/httputil"
	"github.com/medflow/intake-capture/pkg/i18n"
	"github.com/medflow/intake-capture/pkg/logger"
	"github.com/medflow/intake-capture/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("intake-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("intake-service", cfg.Server.Environment)
	log.Info().Str("source", cfg.Capture.Source).Msg("starting Intake Capture Service")

	health := map[string]handler.HealthCheck{}
	var recorders []session.OutcomeRecorder

	// Optional audit store
	var auditRepo *repository.AuditRepository
	if cfg.Audit.Enabled {
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		auditRepo = repository.NewAuditRepository(db, log)
		if err := auditRepo.EnsureSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare audit schema")
		}
		recorders = append(recorders, auditRepo)
		health["database"] = db.Health
	}

	// Optional outcome events
	if cfg.Events.Enabled {
		rmq, err := messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err := events.NewCaptureEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		recorders = append(recorders, publisher)
		health["rabbitmq"] = func(context.Context) map[string]string { return rmq.Health() }
	}

	gw, err := gateway.New(gateway.Config{
		URL:     cfg.Workflow.ExtractURL(),
		Token:   cfg.Workflow.Token,
		Timeout: cfg.Workflow.Timeout,
	}, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create extraction gateway")
	}

	forms := intake.NewRegistry()
	previews := storage.NewPreviewStore()
	devices := device.NewAcquirer(newSource(&cfg.Capture), device.Options{
		MaxWidth:          cfg.Capture.MaxWidth,
		MaxHeight:         cfg.Capture.MaxHeight,
		ReadyTimeout:      cfg.Capture.ReadyTimeout,
		ReadyPollInterval: cfg.Capture.ReadyPollInterval,
	}, log)

	sessions := session.NewManager(session.Deps{
		Devices:   devices,
		Grabber:   grabber.New(cfg.Capture.JPEGQuality, cfg.Capture.PreviewWidth, log),
		Gateway:   gw,
		Mapper:    autofill.New(autofill.Forms{Registry: forms}, log),
		Previews:  previews,
		Recorders: recorders,
		Log:       log,
	}, cfg.Capture.SessionTTL)
	defer sessions.Close()

	var audit handler.AuditLister
	if auditRepo != nil {
		audit = auditRepo
	}
	captureHandler := handler.NewCaptureHandler(sessions, previews, forms, audit, domain.Constraints{
		Facing:      domain.Facing(cfg.Capture.Facing),
		IdealWidth:  cfg.Capture.IdealWidth,
		IdealHeight: cfg.Capture.IdealHeight,
	}, log)

	jwtManager := auth.NewManager(&cfg.JWT)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Accept-Language"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Language"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// i18n middleware - extract locale from Accept-Language header
	r.Use(i18n.Middleware)

	r.Get("/health", handler.Health(health))

	r.Route("/api/v1/capture", func(r chi.Router) {
		// Preview handles are unguessable and revoked with their session.
		// Image tags cannot send a bearer token.
		r.Get("/previews/{handle}", captureHandler.Preview)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(jwtManager, log))
			captureHandler.Routes(r)
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

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

func newSource(cfg *config.CaptureConfig) device.Source {
	if cfg.Source == config.SourceScreen {
		s := cfg.Screen
		return device.NewScreenSource(image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height))
	}
	return device.NewFolderSource(cfg.FolderPath)
}
