package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/ClawDeck/internal/adapter/docker"
	cdhttp "github.com/Strob0t/ClawDeck/internal/adapter/http"
	"github.com/Strob0t/ClawDeck/internal/adapter/jsonstore"
	"github.com/Strob0t/ClawDeck/internal/adapter/openresponses"
	clawotel "github.com/Strob0t/ClawDeck/internal/adapter/otel"
	"github.com/Strob0t/ClawDeck/internal/adapter/ristretto"
	"github.com/Strob0t/ClawDeck/internal/adapter/ws"
	"github.com/Strob0t/ClawDeck/internal/config"
	"github.com/Strob0t/ClawDeck/internal/logger"
	"github.com/Strob0t/ClawDeck/internal/middleware"
	"github.com/Strob0t/ClawDeck/internal/port/sandbox"
	"github.com/Strob0t/ClawDeck/internal/resilience"
	"github.com/Strob0t/ClawDeck/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"storage", cfg.Storage.Path,
	)

	shutdownOtel := clawotel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownOtel(context.Background()) }()

	metrics, err := clawotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	store := jsonstore.New(cfg.Storage.Path)

	responseCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer responseCache.Close()

	breakers := resilience.NewBreakerSet(cfg.Health.BreakerFailures, cfg.Health.BreakerCooldown)
	agentClient := openresponses.NewClient(cfg.Relay.Model)

	// Sandbox provisioning degrades gracefully: without a Docker engine the
	// console still manages externally hosted instances.
	var provisioner sandbox.Provisioner
	dockerProv, err := docker.NewProvisioner(docker.ProvisionerConfig{
		Image:        cfg.Sandbox.Image,
		GatewayPort:  cfg.Sandbox.GatewayPort,
		MemoryMB:     cfg.Sandbox.MemoryMB,
		NanoCPUs:     cfg.Sandbox.NanoCPUs,
		ReadyTimeout: cfg.Sandbox.ReadyTimeout,
	})
	if err != nil {
		slog.Warn("docker unavailable, sandbox provisioning disabled", "error", err)
	} else {
		provisioner = dockerProv
	}

	// --- Services ---

	hub := ws.NewHub()

	registry, err := service.NewRegistry(store, hub)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	tasks := service.NewTasks()
	sessions := service.NewSessions()
	relay := service.NewRelay(agentClient, hub, tasks, metrics, cfg.Relay.Timeout)
	dispatch := service.NewDispatch(registry, tasks, sessions, relay, hub, metrics)
	sandboxes := service.NewSandboxes(provisioner, registry, sessions, breakers, docker.NewGatewayToken)
	health := service.NewHealth(registry, agentClient, breakers, metrics, cfg.Health.Interval, cfg.Health.ProbeTimeout)

	hub.Wire(registry, dispatch)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go health.Run(monitorCtx)

	// --- HTTP ---

	handlers := cdhttp.NewHandlers(registry, tasks, sessions, dispatch, sandboxes, health)

	r := chi.NewRouter()

	r.Use(cdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cdhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(cdhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(clawotel.HTTPMiddleware(cfg.Logging.Service))

	// WebSocket control channel, outside the request timeout.
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(middleware.Idempotency(responseCache, cfg.Idempotency.TTL))
		cdhttp.MountRoutes(r, handlers)
	})

	if cfg.Server.StaticDir != "" {
		mountStatic(r, cfg.Server.StaticDir)
	}

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// mountStatic serves the UI bundle, falling back to index.html so client-side
// routes survive a refresh.
func mountStatic(r chi.Router, dir string) {
	fs := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+req.URL.Path))
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			http.ServeFile(w, req, index)
			return
		}
		fs.ServeHTTP(w, req)
	})
}
