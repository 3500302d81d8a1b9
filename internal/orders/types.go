package orders

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrThresholdUnreachable is returned for orders whose reposition
	// threshold is not strictly below their offset distance in cents.
	ErrThresholdUnreachable = errors.New("reposition threshold must be below the offset distance")
	ErrInvalidOrder         = errors.New("invalid order")
)

// Side of a resting order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts BUY/SELL in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Status is the lifecycle state of an order. The exchange reports the same
// three values for its own view of the order.
type Status string

const (
	StatusPending  Status = "pending"
	StatusFinished Status = "finished"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no further reconciliation applies.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled
}

// ProxyStatus is the last known health of an account's outbound proxy.
type ProxyStatus string

const (
	ProxyWorking ProxyStatus = "working"
	ProxyFailed  ProxyStatus = "failed"
	ProxyUnknown ProxyStatus = "unknown"
)

// Account is an exchange account owned by an end user.
type Account struct {
	ID            int64
	OwnerID       int64
	APIKey        string
	WalletAddress string
	ProxyURL      string
	ProxyStatus   ProxyStatus
}

// Usable is false for accounts whose proxy is known to be broken.
func (a Account) Usable() bool {
	return a.ProxyStatus != ProxyFailed
}

// RestingOrder is a floating limit order tracked by the store. OrderID is
// the exchange-assigned identifier and changes on every reposition.
type RestingOrder struct {
	ID                       int64
	AccountID                int64
	OrderID                  string
	MarketID                 int64
	RootMarketID             int64 // 0 unless the market is one outcome of a categorical market
	MarketTitle              string
	TokenID                  string
	TokenName                string // YES or NO
	Side                     Side
	CurrentPrice             float64
	TargetPrice              float64
	OffsetTicks              int
	TickSize                 float64
	Amount                   float64
	RepositionThresholdCents float64
	Status                   Status
	CreatedAt                time.Time
}

// OffsetCents is the intended distance from the best price, in cents.
func (o RestingOrder) OffsetCents() float64 {
	return math.Round(float64(o.OffsetTicks)*o.TickSize*100*1e6) / 1e6
}

// ThresholdReachable is false when the threshold can never be met by a
// price move smaller than the order's own offset.
func (o RestingOrder) ThresholdReachable() bool {
	return o.RepositionThresholdCents < o.OffsetCents()
}

// Key returns the live subscription key implied by this order.
func (o RestingOrder) Key() SubscriptionKey {
	if o.RootMarketID > 0 {
		return SubscriptionKey{ID: o.RootMarketID, Root: true}
	}
	return SubscriptionKey{ID: o.MarketID}
}

// Validate checks the fields required before an order is persisted.
func (o RestingOrder) Validate() error {
	switch {
	case o.OrderID == "":
		return fmt.Errorf("%w: empty order id", ErrInvalidOrder)
	case o.TokenID == "":
		return fmt.Errorf("%w: empty token id", ErrInvalidOrder)
	case !o.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	case o.MarketID <= 0:
		return fmt.Errorf("%w: market id %d", ErrInvalidOrder, o.MarketID)
	case o.TickSize <= 0:
		return fmt.Errorf("%w: tick size %v", ErrInvalidOrder, o.TickSize)
	case o.OffsetTicks < 0:
		return fmt.Errorf("%w: negative offset", ErrInvalidOrder)
	case o.Amount <= 0:
		return fmt.Errorf("%w: amount %v", ErrInvalidOrder, o.Amount)
	case o.RepositionThresholdCents < 0:
		return fmt.Errorf("%w: negative threshold", ErrInvalidOrder)
	}
	if !o.ThresholdReachable() {
		return fmt.Errorf("%w: threshold %.2f¢, offset %.2f¢", ErrThresholdUnreachable, o.RepositionThresholdCents, o.OffsetCents())
	}
	return nil
}

// SubscriptionKey identifies a live-update channel: a plain market id, or
// the root id of a categorical market.
type SubscriptionKey struct {
	ID   int64
	Root bool
}

func (k SubscriptionKey) String() string {
	if k.Root {
		return fmt.Sprintf("root:%d", k.ID)
	}
	return fmt.Sprintf("market:%d", k.ID)
}

// PriceChange is the outcome of evaluating one order during reconciliation.
// It is produced whether or not the order will be moved.
type PriceChange struct {
	AccountID       int64
	OwnerID         int64
	OrderID         string
	MarketID        int64
	MarketTitle     string
	TokenName       string
	Side            Side
	OldCurrentPrice float64
	NewCurrentPrice float64
	OldTargetPrice  float64
	NewTargetPrice  float64
	ChangeCents     float64
	ThresholdCents  float64
	OffsetTicks     int
	OffsetCents     float64
	WillReposition  bool
}
