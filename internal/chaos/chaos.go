package chaos

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/metrics"
	"go.uber.org/zap"
)

// Class groups exchange operations that share a drop rate.
type Class string

const (
	ClassLookup Class = "lookup"
	ClassCancel Class = "cancel"
	ClassPlace  Class = "place"
)

// Chaos decides, deterministically for a given seed, which exchange calls
// of which accounts are delayed or dropped.
type Chaos struct {
	cfg    *Config
	rates  Rates
	logger *zap.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	start time.Time
}

// New builds an injector. An unparseable profile is ignored with a warning
// and the per-class rates from cfg are used as they are.
func New(cfg *Config, logger *zap.Logger) *Chaos {
	rates, err := ParseProfile(cfg.Profile, cfg.Rates)
	if err != nil {
		logger.Warn("failed to parse chaos profile", zap.String("profile", cfg.Profile), zap.Error(err))
		rates = cfg.Rates
	}
	return &Chaos{
		cfg:    cfg,
		rates:  rates,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		start:  time.Now(),
	}
}

// Rates returns the effective rates after applying the profile.
func (c *Chaos) Rates() Rates { return c.rates }

// EnabledFor reports whether faults apply to the account right now.
func (c *Chaos) EnabledFor(accountID int64) bool {
	if !c.cfg.Enabled {
		return false
	}
	if c.cfg.Window > 0 && time.Since(c.start) > c.cfg.Window {
		return false
	}
	return c.cfg.TargetAccountID == 0 || c.cfg.TargetAccountID == accountID
}

// Delay sleeps for a random duration in the configured range. It returns
// early with ctx's error.
func (c *Chaos) Delay(ctx context.Context, accountID int64, op string) error {
	if !c.EnabledFor(accountID) || c.rates.DelayMax <= 0 {
		return nil
	}

	d := c.rates.DelayMin
	if span := c.rates.DelayMax - c.rates.DelayMin; span > 0 {
		c.mu.Lock()
		d += time.Duration(c.rng.Int63n(int64(span) + 1))
		c.mu.Unlock()
	}
	if d <= 0 {
		return nil
	}

	metrics.IncChaosInjected(op, "delay")
	c.logger.Debug("chaos delay injected",
		zap.Int64("account_id", accountID),
		zap.String("op", op),
		zap.Duration("delay", d),
	)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Drop rolls the class's drop rate for one call or batch entry.
func (c *Chaos) Drop(accountID int64, class Class, op string) bool {
	if !c.EnabledFor(accountID) {
		return false
	}
	pct := c.rates.pct(class)
	if pct <= 0 {
		return false
	}

	c.mu.Lock()
	drop := c.rng.Intn(100) < pct
	c.mu.Unlock()

	if drop {
		metrics.IncChaosInjected(op, "drop")
		c.logger.Info("chaos drop injected",
			zap.Int64("account_id", accountID),
			zap.String("class", string(class)),
			zap.String("op", op),
		)
	}
	return drop
}
