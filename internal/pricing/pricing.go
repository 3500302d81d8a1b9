package pricing

import (
	"math"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"github.com/shopspring/decimal"
)

// Tradable price bounds and the precision prices are rounded to.
const (
	MinPrice        = 0.001
	MaxPrice        = 0.999
	PricePrecision  = 3
	DefaultTickSize = 0.001
)

var (
	minPrice = decimal.NewFromFloat(MinPrice)
	maxPrice = decimal.NewFromFloat(MaxPrice)
	hundred  = decimal.NewFromInt(100)
)

// BestPrice returns the reference price for an order side: the highest
// bid for BUY, the lowest ask for SELL. Levels with unparseable or
// non-positive prices are skipped. ok is false when nothing usable remains.
func BestPrice(book exchange.OrderBook, side orders.Side) (float64, bool) {
	var levels []exchange.Level
	switch side {
	case orders.SideBuy:
		levels = book.Bids
	case orders.SideSell:
		levels = book.Asks
	default:
		return 0, false
	}

	var best decimal.Decimal
	found := false
	for _, lvl := range levels {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil || !p.IsPositive() {
			continue
		}
		if !found ||
			(side == orders.SideBuy && p.GreaterThan(best)) ||
			(side == orders.SideSell && p.LessThan(best)) {
			best = p
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return best.InexactFloat64(), true
}

// TargetPrice places an order offsetTicks ticks behind the reference price:
// below it for BUY, above it for SELL. The result is clamped to the
// tradable range, rounded to three decimals and clamped again.
//
// valid is false when the inputs are not finite or the tick size is not
// positive; otherwise the clamped value is always in range.
func TargetPrice(current float64, side orders.Side, offsetTicks int, tickSize float64) (float64, bool) {
	if !finite(current) || !finite(tickSize) || tickSize <= 0 || !side.Valid() {
		return 0, false
	}

	offset := decimal.NewFromFloat(tickSize).Mul(decimal.NewFromInt(int64(offsetTicks)))
	target := decimal.NewFromFloat(current)
	if side == orders.SideBuy {
		target = target.Sub(offset)
	} else {
		target = target.Add(offset)
	}

	target = clamp(target)
	target = clamp(target.Round(PricePrecision))

	if target.LessThan(minPrice) || target.GreaterThan(maxPrice) {
		return 0, false
	}
	return target.InexactFloat64(), true
}

// ChangeCents is the absolute distance between two prices in cents.
func ChangeCents(newTarget, oldTarget float64) float64 {
	if !finite(newTarget) || !finite(oldTarget) {
		return 0
	}
	diff := decimal.NewFromFloat(newTarget).Sub(decimal.NewFromFloat(oldTarget)).Abs()
	return diff.Mul(hundred).InexactFloat64()
}

// ShouldReposition is monotonic in changeCents. A zero change never
// repositions, whatever the threshold.
func ShouldReposition(changeCents, thresholdCents float64) bool {
	return changeCents > 0 && changeCents >= thresholdCents
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(minPrice) {
		return minPrice
	}
	if d.GreaterThan(maxPrice) {
		return maxPrice
	}
	return d
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
