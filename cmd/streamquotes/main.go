// streamquotes — example driver for the cloud trading SDK core.
//
// Connects one account to the streaming API, waits for the terminal state to
// synchronize, subscribes to a symbol and logs streaming quotes together with
// the connection health status until SIGINT/SIGTERM.
//
// Architecture:
//
//	main.go                — entry point: env + config, wiring, shutdown
//	stream/connection.go   — websocket orchestrator: dispatch, RPC correlation, trade facade
//	terminal/state.go      — terminal-state replica with best-replica reads
//	terminal/hash.go       — content hashes for incremental synchronization
//	health/monitor.go      — quote liveness and one-week uptime tracking
//	clientapi/client.go    — REST client for the hashing-ignored-field registry
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mtcloud-sdk/internal/clientapi"
	"mtcloud-sdk/internal/config"
	"mtcloud-sdk/internal/health"
	"mtcloud-sdk/internal/stream"
	"mtcloud-sdk/pkg/types"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MTCLOUD_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	symbol := os.Getenv("MTCLOUD_SYMBOL")
	if symbol == "" {
		symbol = "EURUSD"
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	var metrics *health.Metrics
	if cfg.Metrics.Enabled {
		metrics = health.NewMetrics(prometheus.DefaultRegisterer, cfg.Account.ID)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics started", "url", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := stream.NewConnection(cfg.API.WSURL, cfg.Account.Token, cfg.Account.ID, logger, metrics)
	conn.AddListener(&quotePrinter{logger: logger})
	go func() {
		if err := conn.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("connection stopped", "error", err)
		}
	}()

	logger.Info("waiting for synchronization", "account_id", cfg.Account.ID)
	if err := conn.WaitSynchronized(ctx, cfg.Stream.SyncTimeout); err != nil {
		logger.Error("synchronization failed", "error", err)
		os.Exit(1)
	}
	logger.Info("terminal state synchronized")

	// Demonstrate the incremental-resync hashes against the registry lists.
	resolver := clientapi.DomainResolver{Domain: cfg.API.Domain}
	registry := clientapi.New(cfg.Account.Token, resolver, logger)
	if lists, err := registry.GetHashingIgnoredFieldLists(ctx, cfg.API.Region); err != nil {
		logger.Warn("failed to fetch hashing ignored field lists", "error", err)
	} else if hashes, err := conn.State().GetHashes(cfg.Account.AccountType, lists); err != nil {
		logger.Warn("failed to compute state hashes", "error", err)
	} else {
		logger.Info("terminal state hashes",
			"specifications", hashes.SpecificationsMD5,
			"positions", hashes.PositionsMD5,
			"orders", hashes.OrdersMD5,
		)
	}

	if err := conn.SubscribeToMarketData(ctx, symbol); err != nil {
		logger.Error("failed to subscribe to market data", "symbol", symbol, "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed to market data", "symbol", symbol)

	// Periodic health report alongside the streaming quotes.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := conn.HealthMonitor().HealthStatus()
				logger.Info("health",
					"healthy", status.Healthy,
					"uptime", conn.HealthMonitor().Uptime(),
					"message", status.Message,
				)
			}
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()
}

// quotePrinter logs every streamed price; registered behind the replica so it
// observes prices the replica has already absorbed.
type quotePrinter struct {
	logger *slog.Logger
}

func (q *quotePrinter) OnSymbolPricesUpdated(instanceIndex string, prices []types.Price, update types.AccountUpdate) {
	for _, p := range prices {
		q.logger.Info("price",
			"symbol", p.Symbol,
			"bid", p.Bid,
			"ask", p.Ask,
			"broker_time", p.BrokerTime,
		)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
