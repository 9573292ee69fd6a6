package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fleetops/tollgate/internal/auth"
	"github.com/fleetops/tollgate/internal/config"
	"github.com/fleetops/tollgate/internal/policy"
	"github.com/fleetops/tollgate/internal/ratelimit"
	"github.com/fleetops/tollgate/internal/server"
	"github.com/fleetops/tollgate/internal/service/compliance"
	"github.com/fleetops/tollgate/internal/service/escalation"
	"github.com/fleetops/tollgate/internal/service/payout"
	"github.com/fleetops/tollgate/internal/storage"
	"github.com/fleetops/tollgate/internal/telemetry"
	"github.com/fleetops/tollgate/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("TOLLGATE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("tollgate starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply embedded migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Threshold policy: built-in limit table, escalation deadlines from config.
	pol := policy.Default()
	pol.TTLs = policy.TTLConfig{
		Critical: cfg.EscalationTTLCritical,
		High:     cfg.EscalationTTLHigh,
		Medium:   cfg.EscalationTTLMedium,
	}

	escalationSvc := escalation.New(db, pol, logger)
	payoutSvc := payout.New(db, cfg.AutoRevertCutoff, logger)
	complianceSvc := compliance.New(db, logger)

	// Throttle credential guessing on /auth/token.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = mem.Close() }()
		limiter = mem
		logger.Info("auth rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		EscalationSvc:       escalationSvc,
		PayoutSvc:           payoutSvc,
		ComplianceSvc:       complianceSvc,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Seed the bootstrap actor so a fresh deployment can authenticate.
	if err := srv.Handlers().SeedBootstrapActor(ctx, cfg.BootstrapAPIKey); err != nil {
		slog.Warn("bootstrap actor seed failed", "error", err)
	}

	// Background sweeps: auto-revert stale payouts, expire stale escalations.
	go payoutSvc.RunAutoRevertLoop(ctx, cfg.AutoRevertInterval)
	go escalationSvc.RunExpiryLoop(ctx, cfg.EscalationSweepInterval)

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("tollgate shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("tollgate stopped")
	return nil
}
