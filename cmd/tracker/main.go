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

	"github.com/NovaDovaDao/doviumV2/internal/admin"
	"github.com/NovaDovaDao/doviumV2/internal/alert"
	"github.com/NovaDovaDao/doviumV2/internal/chain/retry"
	"github.com/NovaDovaDao/doviumV2/internal/chain/solana"
	"github.com/NovaDovaDao/doviumV2/internal/circuitbreaker"
	"github.com/NovaDovaDao/doviumV2/internal/config"
	"github.com/NovaDovaDao/doviumV2/internal/domain/event"
	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/NovaDovaDao/doviumV2/internal/monitor"
	redisstore "github.com/NovaDovaDao/doviumV2/internal/store/redis"
	"github.com/NovaDovaDao/doviumV2/internal/tracing"
	"github.com/NovaDovaDao/doviumV2/internal/tracker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "holdings-tracker"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting holdings tracker",
		"solana_rpc", cfg.Solana.RPCURL,
		"solana_network", cfg.Solana.Network,
		"watch_mode", cfg.Solana.WatchMode,
		"watched_addresses", len(cfg.Watchlist.Addresses),
		"watched_addresses_file", cfg.Watchlist.File,
		"event_stream", cfg.EventStream.Enabled,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("tracker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("tracker shut down gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracingConfig(cfg))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	chainName := model.ChainSolana.String()
	network := cfg.Solana.Network.String()

	ledger := solana.NewAdapter(cfg.Solana.RPCURL, solana.Options{
		WSURL:        cfg.Solana.WSURL,
		WatchMode:    solana.WatchMode(cfg.Solana.WatchMode),
		PollInterval: time.Duration(cfg.Solana.WatchPollIntervalMs) * time.Millisecond,
		Timeout:      cfg.Solana.RPCTimeout,
		RPS:          cfg.Solana.RateLimitRPS,
		Burst:        cfg.Solana.RateLimitBurst,
		Retry: retry.Policy{
			MaxAttempts:    cfg.Solana.RetryMaxAttempts,
			BackoffInitial: cfg.Solana.RetryBackoffInitial,
			BackoffMax:     cfg.Solana.RetryBackoffMax,
		},
		Breaker: rpcBreaker(cfg.Solana),
	}, logger)

	book := config.NewAddressBook()
	bus := event.NewBus()
	trk := tracker.New(ledger, trackerConfig(cfg), logger,
		tracker.WithLabeler(book),
		tracker.WithEventBus(bus),
	)

	alerter := alert.New(alert.Config{
		SlackWebhookURL: cfg.Alert.SlackWebhookURL,
		WebhookURL:      cfg.Alert.WebhookURL,
		Cooldown:        cfg.Alert.Cooldown,
	}, logger)

	var publisher *redisstore.Publisher
	if cfg.EventStream.Enabled {
		stream, err := redisstore.NewStream(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect event stream: %w", err)
		}
		defer stream.Close()

		publisher = redisstore.NewPublisher(stream.Client(), redisstore.PublisherConfig{
			Namespace: cfg.EventStream.Namespace,
			MaxLen:    cfg.EventStream.MaxLen,
			Chain:     chainName,
			Network:   network,
		}, logger).WithLabeler(book)
		publisher.Attach(bus)
		logger.Info("event stream enabled", "stream", publisher.StreamName())
	}

	reloader := monitor.NewWatchlistReloader(cfg.LoadWatchlist, book, trk, logChanges(logger, book),
		monitor.WatchlistReloaderConfig{
			Chain:    chainName,
			Network:  network,
			Interval: cfg.Watchlist.ReloadInterval,
			Poll:     cfg.Watchlist.File != "",
		}, logger).WithAlerter(alerter)

	healthMonitor := monitor.NewHealthMonitor(trk, alerter, monitor.HealthMonitorConfig{
		Chain:       chainName,
		Network:     network,
		Interval:    cfg.Health.CheckInterval,
		AutoRecover: cfg.Health.AutoRecover,
	}, logger)

	limiter := admin.NewRateLimitMiddleware(logger, cfg.Server.AdminRateLimitRPS, cfg.Server.AdminRateLimitBurst)
	defer limiter.Stop()
	handler := newHTTPHandler(admin.NewServer(trk, logger, admin.WithLabeler(book)), book, limiter, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.HealthPort, handler, logger)
	})
	g.Go(func() error {
		return reloader.Run(gCtx)
	})
	g.Go(func() error {
		return healthMonitor.Run(gCtx)
	})
	if publisher != nil {
		g.Go(func() error {
			return publisher.Run(gCtx)
		})
	}
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := trk.Shutdown(sctx); err != nil {
		logger.Warn("tracker shutdown finished with errors", "error", err)
	}
	return runErr
}

func tracingConfig(cfg *config.Config) tracing.Config {
	tc := tracing.Config{
		ServiceName: serviceName,
		Chain:       model.ChainSolana.String(),
		Network:     cfg.Solana.Network.String(),
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}
	if cfg.Tracing.Enabled {
		tc.Endpoint = cfg.Tracing.Endpoint
	}
	return tc
}

// rpcBreaker returns nil when the breaker is disabled.
func rpcBreaker(cfg config.SolanaConfig) *circuitbreaker.Config {
	if !cfg.BreakerEnabled {
		return nil
	}
	return &circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}
}

func trackerConfig(cfg *config.Config) tracker.Config {
	return tracker.Config{
		Network:            cfg.Solana.Network.String(),
		StaleAfter:         cfg.Tracker.StaleAfter,
		RecoveryGrace:      cfg.Tracker.RecoveryGrace,
		LatencyWindow:      cfg.Tracker.LatencyWindow,
		RefreshConcurrency: cfg.Tracker.RefreshConcurrency,
		EmptyOnQueryError:  cfg.Tracker.EmptyOnQueryError,
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logChanges is the change callback registered for every watched address.
func logChanges(logger *slog.Logger, book *config.AddressBook) tracker.ChangeCallback {
	changeLogger := logger.With("component", "holdings")
	return func(address string, changes []model.TokenChange) {
		for _, c := range changes {
			msg := "balance changed"
			switch {
			case c.IsOpen():
				msg = "position opened"
			case c.IsClose():
				msg = "position closed"
			}
			changeLogger.Info(msg,
				"address", address,
				"label", book.FormatLabel(address),
				"mint", c.Mint,
				"old", model.UIAmount(c.OldBalance, c.Decimals).String(),
				"new", model.UIAmount(c.NewBalance, c.Decimals).String(),
				"delta", model.UIAmount(c.Delta(), c.Decimals).String(),
			)
		}
	}
}

func newHTTPHandler(srv *admin.Server, labeler admin.Labeler, limiter *admin.RateLimitMiddleware, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/v1/", limiter.Wrap(admin.AuditMiddleware(logger, labeler, srv.Handler())))
	return mux
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
