package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
)

// Kind classifies a notification.
type Kind string

const (
	KindPriceChanged    Kind = "price_changed"
	KindOrderUpdated    Kind = "order_updated"
	KindOrderFilled     Kind = "order_filled"
	KindCancelFailed    Kind = "cancel_failed"
	KindPlacementFailed Kind = "placement_failed"
	KindOrderExpired    Kind = "order_expired"
	KindAlert           Kind = "alert"
)

// Notification is a rendered message addressed to an account owner.
type Notification struct {
	OwnerID   int64
	AccountID int64
	Kind      Kind
	MarketID  int64
	OrderIDs  []string
	Text      string
}

// PriceChanged renders a price-change evaluation.
func PriceChanged(pc orders.PriceChange) Notification {
	var b strings.Builder
	b.WriteString("Price changed\n")
	writeMarket(&b, pc.MarketTitle, pc.MarketID)
	fmt.Fprintf(&b, "Outcome: %s %s\n", pc.TokenName, pc.Side)
	fmt.Fprintf(&b, "Order: %s\n", pc.OrderID)
	fmt.Fprintf(&b, "Best price: %s -> %s\n", cents(pc.OldCurrentPrice), cents(pc.NewCurrentPrice))
	fmt.Fprintf(&b, "Target: %s -> %s\n", cents(pc.OldTargetPrice), cents(pc.NewTargetPrice))
	fmt.Fprintf(&b, "Change: %.2f¢ (threshold %.2f¢)\n", pc.ChangeCents, pc.ThresholdCents)
	fmt.Fprintf(&b, "Offset: %d ticks (%.2f¢)\n", pc.OffsetTicks, pc.OffsetCents)
	if pc.WillReposition {
		b.WriteString("Repositioning order.")
	} else {
		b.WriteString("Below threshold, order stays.")
	}

	return Notification{
		OwnerID:   pc.OwnerID,
		AccountID: pc.AccountID,
		Kind:      KindPriceChanged,
		MarketID:  pc.MarketID,
		OrderIDs:  []string{pc.OrderID},
		Text:      b.String(),
	}
}

// OrderUpdated renders a successful reposition.
func OrderUpdated(ownerID int64, old orders.RestingOrder, newOrderID string, newCurrent, newTarget float64) Notification {
	var b strings.Builder
	b.WriteString("Order repositioned\n")
	writeMarket(&b, old.MarketTitle, old.MarketID)
	fmt.Fprintf(&b, "Outcome: %s %s\n", old.TokenName, old.Side)
	fmt.Fprintf(&b, "Old order: %s\n", old.OrderID)
	fmt.Fprintf(&b, "New order: %s\n", newOrderID)
	fmt.Fprintf(&b, "Best price: %s\n", cents(newCurrent))
	fmt.Fprintf(&b, "Target: %s -> %s\n", cents(old.TargetPrice), cents(newTarget))
	fmt.Fprintf(&b, "Amount: %s", amount(old.Amount))

	return Notification{
		OwnerID:   ownerID,
		AccountID: old.AccountID,
		Kind:      KindOrderUpdated,
		MarketID:  old.MarketID,
		OrderIDs:  []string{old.OrderID, newOrderID},
		Text:      b.String(),
	}
}

// OrderFilled renders a fill reported by the exchange.
func OrderFilled(ownerID int64, o orders.RestingOrder, info exchange.OrderInfo) Notification {
	title := info.MarketTitle
	if title == "" {
		title = o.MarketTitle
	}
	outcome := info.Outcome
	if outcome == "" {
		outcome = o.TokenName
	}
	price := info.Price
	if price == 0 {
		price = o.TargetPrice
	}
	filled := info.FilledAmount
	if filled == 0 {
		filled = o.Amount
	}

	var b strings.Builder
	b.WriteString("Order filled\n")
	fmt.Fprintf(&b, "Order: %s\n", o.OrderID)
	writeMarket(&b, title, o.MarketID)
	fmt.Fprintf(&b, "Outcome: %s\n", outcome)
	fmt.Fprintf(&b, "Side: %s\n", o.Side)
	fmt.Fprintf(&b, "Price: %s\n", cents(price))
	fmt.Fprintf(&b, "Filled: %s", amount(filled))

	return Notification{
		OwnerID:   ownerID,
		AccountID: o.AccountID,
		Kind:      KindOrderFilled,
		MarketID:  o.MarketID,
		OrderIDs:  []string{o.OrderID},
		Text:      b.String(),
	}
}

// CancelFailed renders an aborted batch: every order in the batch is
// listed with its individual result.
func CancelFailed(ownerID, accountID int64, results []exchange.CancelResult) Notification {
	ids := make([]string, 0, len(results))
	var b strings.Builder
	b.WriteString("Failed to cancel orders for repositioning\n")
	for _, r := range results {
		ids = append(ids, r.OrderID)
		if r.OK() {
			fmt.Fprintf(&b, "- %s: cancelled\n", r.OrderID)
			continue
		}
		fmt.Fprintf(&b, "- %s: errno %d: %s\n", r.OrderID, r.ErrorCode, r.ErrorMessage)
	}
	b.WriteString("No replacement orders were placed. Orders still pending will be retried on the next sync.")

	return Notification{
		OwnerID:   ownerID,
		AccountID: accountID,
		Kind:      KindCancelFailed,
		OrderIDs:  ids,
		Text:      b.String(),
	}
}

// PlacementFailed renders a replacement that could not be placed after its
// predecessor was cancelled. balance is omitted when negative.
func PlacementFailed(ownerID int64, old orders.RestingOrder, req exchange.PlaceRequest, res exchange.PlaceResult, balance float64) Notification {
	var b strings.Builder
	b.WriteString("Order cancelled but the replacement failed\n")
	fmt.Fprintf(&b, "Old order: %s\n", old.OrderID)
	writeMarket(&b, old.MarketTitle, old.MarketID)
	fmt.Fprintf(&b, "Outcome: %s %s\n", old.TokenName, req.Side)
	fmt.Fprintf(&b, "Target: %s\n", cents(req.Price))
	fmt.Fprintf(&b, "Amount: %s\n", amount(req.Amount))
	fmt.Fprintf(&b, "Error: errno %d: %s\n", res.ErrorCode, res.ErrorMessage)
	if balance >= 0 {
		fmt.Fprintf(&b, "Available balance: %s\n", amount(balance))
	}
	b.WriteString("The order is no longer on the book. Place it again manually.")

	return Notification{
		OwnerID:   ownerID,
		AccountID: old.AccountID,
		Kind:      KindPlacementFailed,
		MarketID:  old.MarketID,
		OrderIDs:  []string{old.OrderID},
		Text:      b.String(),
	}
}

// OrderExpired renders an order cancelled for being too old.
func OrderExpired(ownerID int64, o orders.RestingOrder, now time.Time) Notification {
	var b strings.Builder
	b.WriteString("Order expired and cancelled\n")
	fmt.Fprintf(&b, "Order: %s\n", o.OrderID)
	writeMarket(&b, o.MarketTitle, o.MarketID)
	fmt.Fprintf(&b, "Outcome: %s %s\n", o.TokenName, o.Side)
	fmt.Fprintf(&b, "Target: %s\n", cents(o.TargetPrice))
	fmt.Fprintf(&b, "Placed: %s (%d days ago)", o.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"), int(now.Sub(o.CreatedAt).Hours()/24))

	return Notification{
		OwnerID:   ownerID,
		AccountID: o.AccountID,
		Kind:      KindOrderExpired,
		MarketID:  o.MarketID,
		OrderIDs:  []string{o.OrderID},
		Text:      b.String(),
	}
}

// Alert renders an operational alert for the operator.
func Alert(ownerID int64, text string) Notification {
	return Notification{
		OwnerID: ownerID,
		Kind:    KindAlert,
		Text:    "Sync alert: " + text,
	}
}

func writeMarket(b *strings.Builder, title string, marketID int64) {
	if title == "" {
		fmt.Fprintf(b, "Market: #%d\n", marketID)
		return
	}
	fmt.Fprintf(b, "Market: %s (#%d)\n", title, marketID)
}

func cents(price float64) string {
	return fmt.Sprintf("%.1f¢", price*100)
}

func amount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
