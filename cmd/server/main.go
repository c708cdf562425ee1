// Package main is the entrypoint for the HoneyKey server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/honeykey/internal/ai"
	"github.com/kiranshivaraju/honeykey/internal/api"
	"github.com/kiranshivaraju/honeykey/internal/api/handler"
	mw "github.com/kiranshivaraju/honeykey/internal/api/middleware"
	"github.com/kiranshivaraju/honeykey/internal/api/response"
	"github.com/kiranshivaraju/honeykey/internal/cache"
	"github.com/kiranshivaraju/honeykey/internal/config"
	"github.com/kiranshivaraju/honeykey/internal/incident"
	"github.com/kiranshivaraju/honeykey/internal/metrics"
	"github.com/kiranshivaraju/honeykey/internal/notify"
	"github.com/kiranshivaraju/honeykey/internal/seed"
	"github.com/kiranshivaraju/honeykey/internal/store"
)

const shutdownTimeout = 30 * time.Second

var (
	seedCount         int
	seedHoneypotRatio float64
	seedAttackers     int
	seedRandom        int64
)

var rootCmd = &cobra.Command{
	Use:   "honeykey",
	Short: "HoneyKey - honeytoken intrusion detection server",
	Long: `HoneyKey serves a decoy API, records every request, groups uses of the
planted honeypot key into incidents and generates AI incident reports.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Record synthetic decoy traffic for demos",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 100, "number of requests to generate")
	seedCmd.Flags().Float64Var(&seedHoneypotRatio, "honeypot-ratio", 0.3, "fraction of requests presenting the honeypot key")
	seedCmd.Flags().IntVar(&seedAttackers, "attackers", 3, "number of distinct attacker IPs")
	seedCmd.Flags().Int64Var(&seedRandom, "seed", 0, "random seed (0 = time based)")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func main() {
	setupLogger("info")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("honeykey failed", "error", err)
		os.Exit(1)
	}
}

// setupLogger installs a JSON slog handler at the given level as the default logger.
func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// loadConfig loads and validates config, then applies its log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log.Level)
	return cfg, nil
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := store.RunMigrations(cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied", "backend", backendName(cfg.Database))
	return nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := store.RunMigrations(cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	correlator := incident.NewCorrelator(s, nil, cfg.Incident.Window)
	recorder := incident.NewRecorder(s, correlator, cfg.Honeypot.KeyID)

	sum, err := seed.Run(ctx, recorder, seed.Options{
		Count:         seedCount,
		HoneypotRatio: seedHoneypotRatio,
		Attackers:     seedAttackers,
		Seed:          seedRandom,
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	slog.Info("seed complete",
		"events", sum.Events,
		"honeypot_events", sum.HoneypotEvents,
		"incidents", sum.Incidents,
	)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load config, failing fast when invalid
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env, "backend", backendName(cfg.Database))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Run migrations
	if err := store.RunMigrations(cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 3. Open store
	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	slog.Info("database connected")

	// 4. Cache (optional)
	ca, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer ca.Close()

	// 5. Notifications (optional)
	notifier := openNotifier(cfg.NATS)
	defer notifier.Close()

	// 6. AI provider
	provider, err := ai.NewProvider(cfg.AI, &http.Client{})
	switch {
	case errors.Is(err, ai.ErrConfigurationMissing):
		slog.Warn("AI provider not configured; analyze will return 400", "provider", cfg.AI.Provider)
		provider = nil
	case err != nil:
		return fmt.Errorf("create AI provider: %w", err)
	default:
		slog.Info("AI provider initialized", "provider", provider.Name(), "model", provider.Model())
	}

	// 7. Honeypot credential
	credential, err := incident.NewCredential(cfg.Honeypot)
	if err != nil {
		return fmt.Errorf("honeypot credential: %w", err)
	}
	if !credential.Enabled() {
		slog.Warn("no honeypot key configured; no request will open an incident")
	}

	// 8. Services
	correlator := incident.NewCorrelator(s, notifier, cfg.Incident.Window)
	recorder := incident.NewRecorder(s, correlator, cfg.Honeypot.KeyID)
	analyzer := ai.NewAnalyzer(provider, s, ca, notifier, cfg.AI.InferenceTimeout, cfg.Redis.ReportCacheTTL)

	// 9. Build router with dependencies
	deps := api.Dependencies{
		Observer:          mw.NewObserver(recorder, credential, api.MetricsPath),
		RateLimit:         mw.NewRateLimit(ca, cfg.Redis.AnalyzeRateLimit),
		CORS:              mw.CORSConfig{AllowedOrigins: cfg.Server.CORSOrigins, AllowCredentials: true},
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,

		HealthHandler:  healthHandler(s, ca),
		MetricsHandler: metrics.Handler(),
		DecoyHandler:   handler.NewDecoyHandler(),

		ListIncidents:  handler.NewListIncidentsHandler(s),
		GetIncident:    handler.NewGetIncidentHandler(s),
		ListEvents:     handler.NewListEventsHandler(s),
		AnalyzeHandler: handler.NewAnalyzeHandler(analyzer),
		LatestReport:   handler.NewLatestReportHandler(analyzer),
		ReportHistory:  handler.NewReportHistoryHandler(analyzer),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.AI.InferenceTimeout > 0 {
		srv.WriteTimeout = cfg.AI.InferenceTimeout + 30*time.Second
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openCache connects to Redis when configured, otherwise returns a no-op cache.
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, error) {
	if cfg.URL == "" {
		slog.Info("redis not configured; report cache and analyze rate limit disabled")
		return cache.Noop{}, nil
	}

	redisCache, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return redisCache, nil
}

// openNotifier connects to NATS when configured. Notifications are best-effort,
// so a connection failure degrades to a no-op notifier.
func openNotifier(cfg config.NATSConfig) *notify.Notifier {
	if cfg.URL == "" {
		return notify.New(nil, cfg.SubjectPrefix)
	}

	pub, err := notify.NewNATSPublisher(notify.DefaultNATSConfig(cfg.URL))
	if err != nil {
		slog.Warn("nats unavailable; notifications disabled", "error", err)
		return notify.New(nil, cfg.SubjectPrefix)
	}
	slog.Info("nats connected", "subject_prefix", cfg.SubjectPrefix)
	return notify.New(pub, cfg.SubjectPrefix)
}

func backendName(cfg config.DatabaseConfig) string {
	if cfg.UsePostgres() {
		return "postgres"
	}
	return "sqlite"
}

// healthHandler checks database and cache connectivity. Only an unreachable
// database makes the service unhealthy.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
