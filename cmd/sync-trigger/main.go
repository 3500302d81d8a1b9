package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/config"
	"github.com/ismaiel54/floating-order-sync/internal/logging"
	"github.com/ismaiel54/floating-order-sync/internal/rpc/syncctl"
	"github.com/ismaiel54/floating-order-sync/internal/syncer"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig("sync-trigger")

	var (
		addr     = flag.String("addr", cfg.SyncControlAddr, "order-syncer gRPC address")
		marketID = flag.Int64("market", 0, "Sync only this market id (0 syncs everything)")
		refresh  = flag.Bool("refresh-subscriptions", false, "Recompute live subscriptions instead of syncing")
		timeout  = flag.Duration("timeout", 2*time.Minute, "Call timeout")
	)
	flag.Parse()

	logger, err := logging.NewLogger("sync-trigger", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	client, err := syncctl.Dial(ctx, *addr, *timeout, logger)
	if err != nil {
		logger.Fatal("failed to dial sync control", zap.Error(err))
	}
	defer client.Close()

	if *refresh {
		n, err := client.RefreshSubscriptions(ctx)
		if err != nil {
			logger.Fatal("refresh failed", zap.Error(err))
		}
		fmt.Printf("Live subscriptions: %d\n", n)
		return
	}

	var stats syncer.RunStats
	if *marketID > 0 {
		stats, err = client.TriggerMarket(ctx, *marketID)
	} else {
		stats, err = client.TriggerSync(ctx)
	}
	if err != nil {
		logger.Fatal("sync failed", zap.Error(err))
	}

	fmt.Printf("\n=== Sync Results ===\n")
	fmt.Printf("Accounts: %d (skipped %d, failed %d)\n", stats.Accounts, stats.Skipped, stats.Failed)
	fmt.Printf("Orders evaluated: %d\n", stats.Evaluated)
	fmt.Printf("Settled on exchange: %d\n", stats.Settled)
	fmt.Printf("Repositions: %d\n", stats.Repositions)
	fmt.Printf("Cancelled: %d (failed %d)\n", stats.Cancelled, stats.CancelFailed)
	fmt.Printf("Placed: %d (failed %d)\n", stats.Placed, stats.PlaceFailed)
	fmt.Printf("\n")

	if stats.CancelFailed > 0 || stats.PlaceFailed > 0 || stats.Failed > 0 {
		os.Exit(1)
	}
}
