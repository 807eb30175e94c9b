package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autolavaggio/kiosk-controller/internal/catalog"
	"github.com/autolavaggio/kiosk-controller/internal/config"
	"github.com/autolavaggio/kiosk-controller/internal/handler"
	"github.com/autolavaggio/kiosk-controller/internal/infra/bridge"
	"github.com/autolavaggio/kiosk-controller/internal/infra/cache"
	"github.com/autolavaggio/kiosk-controller/internal/infra/client"
	"github.com/autolavaggio/kiosk-controller/internal/infra/observability"
	"github.com/autolavaggio/kiosk-controller/internal/infra/resilience"
	"github.com/autolavaggio/kiosk-controller/internal/infra/supabase"
	"github.com/autolavaggio/kiosk-controller/internal/infra/validation"
	"github.com/autolavaggio/kiosk-controller/internal/port"
	"github.com/autolavaggio/kiosk-controller/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("bridge_url", cfg.BridgeURL),
		zap.String("validation_url", cfg.ValidationURL),
		zap.Bool("scan_gated", cfg.ScanGated),
		zap.Bool("avatar_enabled", cfg.AvatarURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "kiosk-controller")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}
	bridgeCB := resilience.NewCircuitBreaker("bridge")
	validationCB := resilience.NewCircuitBreaker("validation")
	supabaseCB := resilience.NewCircuitBreaker("supabase")
	avatarCB := resilience.NewCircuitBreaker("avatar")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// The bridge client gets no client-level timeout: a payment capture
	// legitimately takes minutes and is bounded per call by its context.
	bridgeHTTPClient := &http.Client{}

	deviceIDs := cache.New[string](cfg.CacheTTL)
	defer deviceIDs.Close()
	bridgeClient := bridge.NewClient(bridgeHTTPClient, cfg.BridgeURL, bridgeCB, resilienceCfg, deviceIDs, metrics, logger)
	validationClient := validation.NewClient(httpClient, cfg.ValidationURL, validationCB, metrics, logger)

	var store port.PaymentRecorder
	if cfg.SupabaseURL != "" {
		logger.Info("payment persistence enabled", zap.String("supabase_url", cfg.SupabaseURL))
		supabaseClient := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			supabaseCB,
			resilienceCfg,
			logger,
		)
		store = supabaseClient
	} else {
		logger.Warn("payment persistence: Supabase not configured, cycles will not be recorded")
	}

	var agent port.AgentCaller
	if cfg.AvatarURL != "" {
		agent = client.NewAvatarClient(httpClient, cfg.AvatarURL, cfg.AvatarKey, avatarCB, resilienceCfg)
	}

	// --- Catalog ---
	services, err := catalog.New()
	if err != nil {
		logger.Fatal("failed to load service catalog", zap.Error(err))
	}

	// --- Services ---
	wf := service.NewWorkflow(
		bridgeClient,
		validationClient,
		store,
		services,
		cfg.ScanGated,
		service.DefaultTimers(),
		metrics,
		logger,
	)
	concierge := service.NewConcierge(agent, logger)

	// --- Warmup: bring the kiosk online and register it with the fleet ---
	warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	g, gctx := errgroup.WithContext(warmupCtx)
	g.Go(func() error {
		_, err := wf.Start(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		warmupCancel()
		logger.Fatal("workflow failed to start", zap.Error(err))
	}
	if store != nil {
		if err := store.EnsureMachine(warmupCtx, wf.DeviceID()); err != nil {
			logger.Warn("machine registration failed", zap.Error(err))
		}
	}
	warmupCancel()

	// --- Router ---
	router := handler.NewRouter(wf, concierge, services, metrics, handler.RouterConfig{
		WebviewOrigin:        cfg.WebviewURL,
		MaintenanceJWTSecret: cfg.MaintenanceJWTSecret,
	}, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")

	// Drop the relay to its default level before going dark.
	wf.Signal(service.SignalDefault)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
