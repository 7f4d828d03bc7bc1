package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clearclaim/agent/internal/adapters/clinic"
	claimapi "github.com/clearclaim/agent/internal/claim/api"
	"github.com/clearclaim/agent/internal/claim/store"
	"github.com/clearclaim/agent/internal/engine"
	"github.com/clearclaim/agent/internal/export"
	"github.com/clearclaim/agent/internal/extract"
	"github.com/clearclaim/agent/internal/ingest"
	"github.com/clearclaim/agent/internal/notify"
	"github.com/clearclaim/agent/internal/portal"
	"github.com/clearclaim/agent/internal/portal/webform"
	"github.com/clearclaim/agent/internal/shared/auth"
	"github.com/clearclaim/agent/internal/shared/config"
	"github.com/clearclaim/agent/internal/shared/database"
	"github.com/clearclaim/agent/internal/shared/events"
	"github.com/clearclaim/agent/internal/shared/metrics"
	secmiddleware "github.com/clearclaim/agent/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    *events.Bus
	Store  store.Store
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Initialize database (optional - fall back to in-memory store)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Printf("Warning: Database not available: %v\n", err)
		fmt.Println("Running with in-memory claim store; claims will not survive a restart...")
		app.Store = store.NewMemoryStore()
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		app.Store = store.NewPostgresStore(db.Pool)
	}

	// Initialize lifecycle audit trail with KurrentDB (optional)
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(ctx, cfg.KurrentDB, logger)
		if err != nil {
			fmt.Printf("Warning: KurrentDB not available: %v\n", err)
			fmt.Println("Running without the lifecycle audit trail...")
		} else {
			app.Bus = bus
			defer bus.Close()
			fmt.Println("KurrentDB audit trail initialized")
		}
	}

	// Outbound messaging
	notifier := notify.NewService(notify.NewLogProvider(logger), cfg.Notify, logger)
	if err := notifier.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start notifier: %v\n", err)
		os.Exit(1)
	}
	defer notifier.Stop()

	// Bill extraction
	extractor := extract.NewClient(cfg.Extract)
	if extractor.Enabled() {
		fmt.Printf("Extraction service: %s\n", cfg.Extract.URL)
	} else {
		fmt.Println("Extraction disabled; claims will be created with placeholder bill data")
	}

	// Portal client. The throttle lives in the client so every portal
	// contact, including retried attempts, acquires it.
	portalClient := portal.NewClient(
		cfg.Portal,
		webform.NewFactory(cfg.Portal),
		portal.NewBreaker(cfg.Portal.BreakerFailureThreshold, cfg.Portal.BreakerRecoveryTimeout),
		portal.RetryPolicyFromConfig(cfg.Portal),
		portal.NewThrottle(cfg.Engine.ThrottlePeriod),
		logger,
	)

	// Lifecycle engine
	var recorder engine.TransitionRecorder
	if app.Bus != nil {
		recorder = app.Bus
	}
	eng := engine.New(app.Store, portalClient, cfg.Engine, notifier, recorder, logger)
	go eng.Run(ctx)
	defer eng.Stop()

	// Periodic CSV exports
	exporter := export.New(app.Store, cfg.Export, logger)
	go exporter.Run(ctx)

	// Ingestion
	var ingestRecorder ingest.Recorder
	if app.Bus != nil {
		ingestRecorder = app.Bus
	}
	ingestHandler := ingest.NewHandler(app.Store, extractor, notifier, ingestRecorder, cfg.Storage.ImageDir, logger)
	webhook := ingest.NewWebhook(ingestHandler)

	// Clinic invoice import (optional)
	if cfg.Clinic.Enabled {
		ccfg := clinic.DefaultConfig()
		ccfg.Host = cfg.Clinic.Host
		ccfg.Database = cfg.Clinic.Database
		ccfg.User = cfg.Clinic.User
		ccfg.Password = cfg.Clinic.Password
		ccfg.Encrypt = cfg.Clinic.SSLMode != "disable"
		ccfg.ClinicName = cfg.Clinic.Name
		if cfg.Clinic.Port != 0 {
			ccfg.Port = cfg.Clinic.Port
		}
		if cfg.Clinic.InvoiceTable != "" {
			ccfg.InvoiceTable = cfg.Clinic.InvoiceTable
		}
		if cfg.Clinic.PollInterval > 0 {
			ccfg.PollInterval = cfg.Clinic.PollInterval
		}
		adapter := clinic.New(ccfg)
		if err := adapter.Start(ctx); err != nil {
			fmt.Printf("Warning: Clinic import not available: %v\n", err)
		} else {
			importer := clinic.NewImporter(app.Store, adapter.ClinicName(), logger)
			adapter.SubscribeInvoices(ctx, func(inv clinic.Invoice) {
				importer.HandleInvoice(ctx, inv)
			})
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				adapter.Stop(stopCtx)
			}()
			fmt.Printf("Clinic import enabled (%s)\n", adapter.ClinicName())
		}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.BodyLimit(10 * 1024 * 1024))
	r.Use(metrics.Middleware)

	// Health checks and metrics (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	// Inbound chat webhook: authenticated by the channel provider's own
	// signature scheme upstream, rate limited here.
	ipLimiter := secmiddleware.NewIPRateLimiter(5, 10)
	r.Route("/webhook", func(r chi.Router) {
		r.Use(ipLimiter.Middleware)
		r.Mount("/", webhook.Routes())
	})

	// Operator API
	var history claimapi.HistorySource
	if app.Bus != nil {
		history = app.Bus
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(secmiddleware.RateLimiter(20, 40))
		r.Use(auth.Middleware(cfg.Auth))
		r.Use(auth.RequireRoles("admin", "operator"))
		r.Mount("/claims", claimapi.NewHandler(app.Store, eng, history).Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down...")

		// Stop blocks until the engine loop has drained, so no portal
		// operation is ever cancelled mid-form by the cancel below.
		eng.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("ClearClaim Filing Agent")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Webhook:        http://localhost:%d/webhook/message\n", cfg.Server.Port)
	fmt.Printf("Operator API:   http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Portal:         %s\n", cfg.Portal.BaseURL)
	fmt.Printf("Sweep interval: %s\n", cfg.Engine.SweepInterval)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "ClearClaim Filing Agent",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
