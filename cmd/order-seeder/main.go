package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ismaiel54/floating-order-sync/internal/config"
	"github.com/ismaiel54/floating-order-sync/internal/logging"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"github.com/ismaiel54/floating-order-sync/internal/pricing"
	"github.com/ismaiel54/floating-order-sync/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig("order-seeder")

	var (
		dataDir   = flag.String("data-dir", cfg.DataDir, "Directory holding orders.db")
		accounts  = flag.Int("accounts", 3, "Number of accounts to create")
		perAcct   = flag.Int("orders", 4, "Pending orders per account")
		markets   = flag.Int("markets", 5, "Number of distinct markets")
		rootPct   = flag.Int("root-pct", 20, "Percentage of markets that belong to a categorical root market (0-100)")
		offset    = flag.Int("offset-ticks", 10, "Offset from the best price, in ticks")
		threshold = flag.Float64("threshold-cents", 0.5, "Reposition threshold in cents")
		seed      = flag.Int64("seed", 42, "Random seed for deterministic generation")
		ownerBase = flag.Int64("owner-base", 1000, "Owner id of the first account")
	)
	flag.Parse()

	logger, err := logging.NewLogger("order-seeder", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting order seeder",
		zap.String("data_dir", *dataDir),
		zap.Int("accounts", *accounts),
		zap.Int("orders_per_account", *perAcct),
		zap.Int("markets", *markets),
		zap.Int64("seed", *seed),
	)

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}
	st, err := store.Open(filepath.Join(*dataDir, "orders.db"))
	if err != nil {
		logger.Fatal("failed to open order store", zap.Error(err))
	}
	defer st.Close()

	// Deterministic RNG
	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	type market struct {
		id, root int64
		title    string
	}
	catalog := make([]market, *markets)
	for i := range catalog {
		m := market{id: int64(100 + i), title: fmt.Sprintf("Market %d", 100+i)}
		if rng.Intn(100) < *rootPct {
			m.root = int64(900 + i/2)
		}
		catalog[i] = m
	}

	inserted, rejected := 0, 0
	for a := 0; a < *accounts; a++ {
		acct := orders.Account{
			ID:          int64(a + 1),
			OwnerID:     *ownerBase + int64(a),
			APIKey:      uuid.New().String(),
			ProxyStatus: orders.ProxyWorking,
		}
		if err := st.UpsertAccount(ctx, acct); err != nil {
			logger.Fatal("failed to upsert account", zap.Int64("account_id", acct.ID), zap.Error(err))
		}

		for i := 0; i < *perAcct; i++ {
			m := catalog[rng.Intn(len(catalog))]
			side := orders.SideBuy
			if rng.Intn(2) == 1 {
				side = orders.SideSell
			}
			current := math.Round((0.2+rng.Float64()*0.6)*1000) / 1000
			target, ok := pricing.TargetPrice(current, side, *offset, pricing.DefaultTickSize)
			if !ok {
				rejected++
				continue
			}
			token := "YES"
			if rng.Intn(2) == 1 {
				token = "NO"
			}

			o := orders.RestingOrder{
				AccountID:                acct.ID,
				OrderID:                  fmt.Sprintf("seed-%d-%d-%d", *seed, acct.ID, i),
				MarketID:                 m.id,
				RootMarketID:             m.root,
				MarketTitle:              m.title,
				TokenID:                  fmt.Sprintf("tok-%d-%s", m.id, token),
				TokenName:                token,
				Side:                     side,
				CurrentPrice:             current,
				TargetPrice:              target,
				OffsetTicks:              *offset,
				TickSize:                 pricing.DefaultTickSize,
				Amount:                   float64(5 + rng.Intn(20)),
				RepositionThresholdCents: *threshold,
			}
			if _, err := st.InsertOrder(ctx, o); err != nil {
				logger.Warn("order rejected", zap.String("order_id", o.OrderID), zap.Error(err))
				rejected++
				continue
			}
			inserted++
			logger.Debug("seeded order",
				zap.String("order_id", o.OrderID),
				zap.Int64("market_id", o.MarketID),
				zap.String("side", string(o.Side)),
				zap.Float64("target_price", o.TargetPrice),
			)
		}
	}

	keys, err := st.ListSubscriptionKeys(ctx)
	if err != nil {
		logger.Fatal("failed to list subscription keys", zap.Error(err))
	}

	logger.Info("seeder completed",
		zap.Int("inserted", inserted),
		zap.Int("rejected", rejected),
		zap.Int("subscription_keys", len(keys)),
	)

	fmt.Printf("\n=== Seeder Summary ===\n")
	fmt.Printf("Accounts: %d\n", *accounts)
	fmt.Printf("Orders inserted: %d\n", inserted)
	fmt.Printf("Orders rejected: %d\n", rejected)
	fmt.Printf("Subscription keys: %d\n", len(keys))
	fmt.Printf("\n")

	if rejected > 0 {
		os.Exit(1)
	}
}
