// Command tributo runs the tax engine as an HTTP service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/tributolabs/tributo/internal/adapters/http/api"
	"github.com/tributolabs/tributo/internal/adapters/location"
	"github.com/tributolabs/tributo/internal/adapters/notify"
	"github.com/tributolabs/tributo/internal/adapters/rules"
	"github.com/tributolabs/tributo/internal/app"
	"github.com/tributolabs/tributo/internal/config"
	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/diagnostic"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/domain/scenario"
	"github.com/tributolabs/tributo/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout        = 10 * time.Second
	writeTimeout       = 10 * time.Second
	idleTimeout        = 60 * time.Second
	readHeaderTimeout  = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
	sentryFlushTimeout = 2 * time.Second
)

func main() {
	// Optional .env for local runs; absence is not an error.
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Configuration: defaults -> optional file -> env.
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
		}); err != nil {
			log.Warn(ctx, "sentry init failed", logger.Error(err))
		} else {
			defer sentry.Flush(sentryFlushTimeout)
		}
	}

	provider, err := buildRules(cfg, log)
	if err != nil {
		log.Error(ctx, "failed to load rule pack", logger.Error(err))
		return
	}

	locClient := location.NewClient(
		location.WithBaseURL(cfg.LocationBaseURL),
		location.WithTimeout(time.Duration(cfg.LocationTimeoutMS)*time.Millisecond),
		location.WithFallbackRate(cfg.DefaultLocalRate),
		location.WithLogger(log.Named("location")),
	)

	bus := notify.NewBus(
		notify.WithQueueSize(cfg.NotifyQueueSize),
		notify.WithWorkers(cfg.NotifyWorkerCount),
		notify.WithLogger(log.Named("notify")),
	)
	bus.Subscribe(func(ctx context.Context, n model.Notification) {
		log.Debug(ctx, "notification",
			logger.String("kind", string(n.Kind)),
			logger.String("session_id", n.SessionID))
	})
	bus.Start(ctx)
	defer bus.Stop()

	svc := app.New(provider,
		app.WithLogger(log),
		app.WithLocation(locClient),
		app.WithNotifier(bus),
		app.WithSessionShards(cfg.SessionShardCount),
		app.WithCalcOptions(
			calc.WithFatorRThreshold(cfg.FatorRThreshold),
			calc.WithVolatileZone(cfg.VolatileZoneLow, cfg.VolatileZoneHigh),
		),
		app.WithDiagnosticOptions(
			diagnostic.WithFatorRThreshold(cfg.FatorRThreshold),
			diagnostic.WithVolatileZone(cfg.VolatileZoneLow, cfg.VolatileZoneHigh),
			diagnostic.WithEstimateCombinedShare(cfg.EstimateCombinedShare),
			diagnostic.WithMinimumWage12(cfg.MinimumWage12),
		),
		app.WithScenarioOptions(
			scenario.WithMinimumWage12(cfg.MinimumWage12),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewRouter(svc, api.WithLogger(log.Named("http"))),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
}

func buildRules(cfg *config.Config, log logger.Logger) (*rules.Provider, error) {
	if cfg.RulePackPath != "" {
		pack, err := rules.LoadPackFile(cfg.RulePackPath)
		if err != nil {
			return nil, err
		}
		return rules.NewProvider(pack, rules.WithLogger(log.Named("rules"))), nil
	}
	return rules.NewDefaultProvider(rules.WithLogger(log.Named("rules")))
}
