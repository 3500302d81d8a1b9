package msg

// NotificationMsg is the wire form of a user notification. Consumers
// deliver Text to the account owner identified by OwnerID.
type NotificationMsg struct {
	EventID      string   `json:"event_id"`
	OwnerID      int64    `json:"owner_id"`
	AccountID    int64    `json:"account_id,omitempty"`
	Kind         string   `json:"kind"`
	OrderIDs     []string `json:"order_ids,omitempty"`
	MarketID     int64    `json:"market_id,omitempty"`
	Text         string   `json:"text"`
	TsUnixMillis int64    `json:"ts_unix_millis"`
}
