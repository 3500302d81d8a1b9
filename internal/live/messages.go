package live

import (
	"github.com/ismaiel54/floating-order-sync/internal/orders"
)

const (
	ActionSubscribe   = "SUBSCRIBE"
	ActionUnsubscribe = "UNSUBSCRIBE"
	ActionHeartbeat   = "HEARTBEAT"
)

// ControlMessage is sent to the stream. Exactly one of MarketID and
// RootMarketID is set on subscription messages; heartbeats carry neither.
type ControlMessage struct {
	Action       string `json:"action"`
	Channel      string `json:"channel,omitempty"`
	MarketID     int64  `json:"marketId,omitempty"`
	RootMarketID int64  `json:"rootMarketId,omitempty"`
}

// Event is the part of an inbound stream message the listener reads.
type Event struct {
	MsgType  string `json:"msgType"`
	MarketID int64  `json:"marketId"`
}

func subscription(action, channel string, key orders.SubscriptionKey) ControlMessage {
	msg := ControlMessage{Action: action, Channel: channel}
	if key.Root {
		msg.RootMarketID = key.ID
	} else {
		msg.MarketID = key.ID
	}
	return msg
}

func heartbeat() ControlMessage {
	return ControlMessage{Action: ActionHeartbeat}
}
