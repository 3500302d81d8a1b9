package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/chaos"
	"github.com/ismaiel54/floating-order-sync/internal/config"
	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/live"
	"github.com/ismaiel54/floating-order-sync/internal/logging"
	"github.com/ismaiel54/floating-order-sync/internal/msg"
	"github.com/ismaiel54/floating-order-sync/internal/notify"
	"github.com/ismaiel54/floating-order-sync/internal/observability"
	"github.com/ismaiel54/floating-order-sync/internal/pricing"
	"github.com/ismaiel54/floating-order-sync/internal/rpc/syncctl"
	"github.com/ismaiel54/floating-order-sync/internal/store"
	"github.com/ismaiel54/floating-order-sync/internal/syncer"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig("order-syncer")

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting order-syncer service",
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("data_dir", cfg.DataDir),
		zap.String("exchange_mode", cfg.ExchangeMode),
		zap.Strings("kafka_brokers", cfg.Brokers()),
		zap.Duration("sync_interval", cfg.SyncInterval),
		zap.Bool("ws_enabled", cfg.WSEnabled),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}

	dbPath := filepath.Join(cfg.DataDir, "orders.db")
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal("failed to open order store", zap.Error(err))
	}
	defer st.Close()
	logger.Info("order store opened", zap.String("path", dbPath))

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.SetComponentReady("store", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notifications go through the outbox when a broker is configured and
	// straight to the log otherwise.
	var (
		sink      notify.Sink = notify.LogSink{Logger: logger}
		producer  *msg.Producer
		publisher *notify.Publisher
	)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		msgCfg := msg.LoadConfig()
		msgCfg.Brokers = brokers
		msgCfg.ClientID = cfg.ServiceName
		producer, err = msg.NewProducer(msgCfg, logger)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		defer producer.Close()

		sink = notify.NewOutboxSink(st, cfg.NotifyTopic)
		publisher = notify.NewPublisher(st, producer, logger)
	}
	dispatcher := notify.NewDispatcher(sink, cfg.AdminOwnerID, logger)

	var (
		factory exchange.Factory
		paper   *exchange.Paper
	)
	switch cfg.ExchangeMode {
	case "paper":
		paper = exchange.NewPaper(cfg.PaperStartingBalance)
		factory = paper
	default:
		logger.Fatal("unsupported exchange mode", zap.String("exchange_mode", cfg.ExchangeMode))
	}

	chaosCfg := chaos.LoadConfig()
	if chaosCfg.Enabled {
		logger.Warn("chaos injection enabled",
			zap.String("profile", chaosCfg.Profile),
			zap.Int64("target_account_id", chaosCfg.TargetAccountID),
		)
		factory = chaos.WrapFactory(factory, chaos.New(chaosCfg, logger))
	}

	guard := syncer.NewAccountGuard()
	engine := syncer.NewEngine(st, dispatcher, cfg.LookupTimeout, logger.Named("engine"))
	coordinator := syncer.NewCoordinator(st, dispatcher, cfg.LookupTimeout, logger.Named("coordinator"))
	runner := syncer.NewRunner(st, factory, engine, coordinator, dispatcher, guard, cfg.MaxParallelAccounts, logger.Named("runner"))
	scheduler := syncer.NewScheduler(runner, dispatcher, cfg.SyncInterval, cfg.SyncInitialDelay, cfg.SyncCycleTimeout, logger.Named("scheduler"))

	var (
		listener *live.Listener
		subs     syncctl.Subscriptions
	)
	if cfg.WSEnabled {
		listener = live.NewListener(live.Config{
			URL:                cfg.WSURL,
			APIKey:             cfg.WSAPIKey,
			Channel:            cfg.WSChannel,
			HeartbeatInterval:  cfg.HeartbeatInterval,
			DebounceDelay:      cfg.DebounceDelay,
			ReconnectInitial:   cfg.ReconnectInitial,
			ReconnectMax:       cfg.ReconnectMax,
			ResubscribeSpacing: cfg.ResubscribeSpacing,
		}, st, st, runner, logger.Named("live"))
		runner.SetSubscriptionSyncer(listener)
		subs = listener
		healthChecker.SetComponentReady("live", false)
		healthChecker.HandleJSON("/subscriptions", func() any {
			keys := listener.Subscriptions()
			out := make([]string, len(keys))
			for i, k := range keys {
				out[i] = k.String()
			}
			return out
		})
	}

	var expirerSubs syncer.SubscriptionSyncer
	if listener != nil {
		expirerSubs = listener
	}
	expirer := syncer.NewExpirer(st, factory, dispatcher, guard, cfg.OrderExpiryAge, cfg.OrderExpiryInterval, expirerSubs, logger.Named("expiry"))

	// Create gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(syncctl.LoggingInterceptor(logger)))
	healthChecker.RegisterGRPC(grpcServer)
	syncctl.RegisterSyncControlServer(grpcServer, syncctl.NewServer(runner, subs, logger))

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	if paper != nil {
		go runPaper(ctx, st, paper, cfg.PaperWalkInterval, logger.Named("paper"))
	}

	go scheduler.Run(ctx)
	go expirer.Run(ctx)

	publisherErrCh := make(chan error, 1)
	if publisher != nil {
		go func() {
			if err := publisher.Run(ctx); err != nil && ctx.Err() == nil {
				publisherErrCh <- err
			}
		}()
		go watchProducer(ctx, producer, healthChecker, logger)
	}

	if listener != nil {
		go listener.Run(ctx)
		go watchListener(ctx, listener, healthChecker)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	case err := <-publisherErrCh:
		logger.Error("publisher error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("order-syncer service stopped")
}

// runPaper keeps the paper exchange aware of every pending order in the
// store and moves its prices.
func runPaper(ctx context.Context, st *store.Store, paper *exchange.Paper, interval time.Duration, logger *zap.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		adopted, err := seedPaper(ctx, st, paper)
		if err != nil {
			logger.Warn("failed to seed paper exchange", zap.Error(err))
		} else if adopted > 0 {
			logger.Info("adopted pending orders", zap.Int("orders", adopted))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			paper.Walk(rng, pricing.DefaultTickSize, 3)
		}
	}
}

func seedPaper(ctx context.Context, st *store.Store, paper *exchange.Paper) (int, error) {
	accounts, err := st.ListAccountsWithPending(ctx, 0)
	if err != nil {
		return 0, err
	}
	adopted := 0
	for _, acct := range accounts {
		pending, err := st.ListPendingOrders(ctx, acct.ID, 0)
		if err != nil {
			return adopted, err
		}
		for _, o := range pending {
			tick := o.TickSize
			if tick <= 0 {
				tick = pricing.DefaultTickSize
			}
			if paper.Seed(o, tick) {
				adopted++
			}
		}
	}
	return adopted, nil
}

func watchProducer(ctx context.Context, producer *msg.Producer, health *observability.HealthChecker, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := producer.Ping(pingCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			logger.Warn("kafka ping failed", zap.Error(err))
		}
		health.SetComponentReady("kafka", err == nil)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func watchListener(ctx context.Context, listener *live.Listener, health *observability.HealthChecker) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health.SetComponentReady("live", listener.State() == live.StateListening)
		}
	}
}
