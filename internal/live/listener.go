package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/ismaiel54/floating-order-sync/internal/logging"
	"github.com/ismaiel54/floating-order-sync/internal/metrics"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"go.uber.org/zap"
)

var ErrNoCredential = errors.New("no api key available for live updates")

const writeTimeout = 10 * time.Second

// MarketSyncer reconciles every account's orders on one market.
type MarketSyncer interface {
	SyncMarket(ctx context.Context, marketID int64) error
}

// KeySource lists the subscription keys implied by pending orders.
type KeySource interface {
	ListSubscriptionKeys(ctx context.Context) ([]orders.SubscriptionKey, error)
}

// CredentialSource supplies a fallback api key when none is configured.
type CredentialSource interface {
	FirstAPIKey(ctx context.Context) (string, error)
}

// Config holds the listener settings.
type Config struct {
	URL                string
	APIKey             string
	Channel            string
	HeartbeatInterval  time.Duration
	DebounceDelay      time.Duration
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	ResubscribeSpacing time.Duration
}

// Listener keeps a websocket stream open, mirrors the pending-order
// subscription set onto it and turns trade events into debounced
// per-market reconciliations.
type Listener struct {
	cfg    Config
	keys   KeySource
	creds  CredentialSource
	syncer MarketSyncer
	logger *zap.Logger
	dialer *websocket.Dialer

	state atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[orders.SubscriptionKey]struct{}

	writeMu sync.Mutex

	debounceMu sync.Mutex
	debouncer  *Debouncer
}

func NewListener(cfg Config, keys KeySource, creds CredentialSource, syncer MarketSyncer, logger *zap.Logger) *Listener {
	if cfg.Channel == "" {
		cfg.Channel = "market.last.trade"
	}
	return &Listener{
		cfg:    cfg,
		keys:   keys,
		creds:  creds,
		syncer: syncer,
		logger: logger,
		dialer: websocket.DefaultDialer,
		subs:   make(map[orders.SubscriptionKey]struct{}),
	}
}

// State returns the current connection state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	metrics.SetWSState(int(s))
}

// Subscriptions returns the current subscription set, sorted.
func (l *Listener) Subscriptions() []orders.SubscriptionKey {
	l.mu.Lock()
	keys := make([]orders.SubscriptionKey, 0, len(l.subs))
	for k := range l.subs {
		keys = append(keys, k)
	}
	l.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Root != keys[j].Root {
			return !keys[i].Root
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

func (l *Listener) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.ReconnectInitial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = l.cfg.ReconnectMax
	b.Reset()
	return b
}

// Run connects and reconnects until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	d := NewDebouncer(l.cfg.DebounceDelay, func(marketID int64) { l.fire(ctx, marketID) })
	l.debounceMu.Lock()
	l.debouncer = d
	l.debounceMu.Unlock()
	defer d.Stop()

	b := l.newBackOff()
	l.logger.Info("live listener started",
		zap.String("channel", l.cfg.Channel),
		zap.Duration("debounce", l.cfg.DebounceDelay),
	)

	for {
		err := l.connectAndListen(ctx, b)
		l.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.NextBackOff()
		metrics.IncWSReconnect()
		l.logger.Warn("live connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *Listener) connectAndListen(ctx context.Context, b *backoff.ExponentialBackOff) error {
	l.setState(StateConnecting)

	key, err := l.credential(ctx)
	if err != nil {
		return err
	}
	streamURL, err := l.streamURL(key)
	if err != nil {
		return err
	}
	l.logger.Info("connecting to live updates", zap.String("url", l.maskedURL(streamURL, key)))

	conn, resp, err := l.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial live updates (status %s): %w", resp.Status, err)
		}
		return fmt.Errorf("failed to dial live updates: %w", err)
	}
	defer conn.Close()

	b.Reset()
	l.setState(StateConnected)
	l.logger.Info("live connection established")

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	if err := l.resubscribeAll(connCtx, conn); err != nil {
		return err
	}

	go l.heartbeat(connCtx, conn)
	l.setState(StateListening)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("live read failed: %w", err)
		}
		l.handleMessage(data)
	}
}

func (l *Listener) credential(ctx context.Context) (string, error) {
	if l.cfg.APIKey != "" {
		return l.cfg.APIKey, nil
	}
	if l.creds == nil {
		return "", ErrNoCredential
	}
	key, err := l.creds.FirstAPIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to look up api key: %w", err)
	}
	if key == "" {
		return "", ErrNoCredential
	}
	return key, nil
}

func (l *Listener) streamURL(key string) (string, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid live url: %w", err)
	}
	q := u.Query()
	q.Set("apikey", key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (l *Listener) maskedURL(streamURL, key string) string {
	return strings.Replace(streamURL, url.QueryEscape(key), logging.MaskSecret(key), 1)
}

// resubscribeAll replaces the subscription set with the one implied by the
// store and sends every key on the new connection.
func (l *Listener) resubscribeAll(ctx context.Context, conn *websocket.Conn) error {
	keys, err := l.keys.ListSubscriptionKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscription keys: %w", err)
	}

	l.mu.Lock()
	l.subs = make(map[orders.SubscriptionKey]struct{}, len(keys))
	for _, k := range keys {
		l.subs[k] = struct{}{}
	}
	l.mu.Unlock()
	metrics.SetWSSubscriptions(len(keys))

	l.logger.Info("resubscribing", zap.Int("keys", len(keys)))
	for i, k := range keys {
		if i > 0 && l.cfg.ResubscribeSpacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.ResubscribeSpacing):
			}
		}
		if err := l.write(conn, subscription(ActionSubscribe, l.cfg.Channel, k)); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", k, err)
		}
	}
	return nil
}

// SyncSubscriptions diffs the subscription set against the store and sends
// the difference when connected. When disconnected only the set changes;
// the next connection subscribes everything anyway.
func (l *Listener) SyncSubscriptions(ctx context.Context) error {
	keys, err := l.keys.ListSubscriptionKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscription keys: %w", err)
	}

	desired := make(map[orders.SubscriptionKey]struct{}, len(keys))
	for _, k := range keys {
		desired[k] = struct{}{}
	}

	l.mu.Lock()
	var added, removed []orders.SubscriptionKey
	for k := range desired {
		if _, ok := l.subs[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range l.subs {
		if _, ok := desired[k]; !ok {
			removed = append(removed, k)
		}
	}
	l.subs = desired
	conn := l.conn
	l.mu.Unlock()
	metrics.SetWSSubscriptions(len(desired))

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	l.logger.Info("subscriptions changed", zap.Int("added", len(added)), zap.Int("removed", len(removed)))
	if conn == nil {
		return nil
	}

	var errs []error
	for _, k := range removed {
		if err := l.write(conn, subscription(ActionUnsubscribe, l.cfg.Channel, k)); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", k, err))
		}
	}
	for _, k := range added {
		if err := l.write(conn, subscription(ActionSubscribe, l.cfg.Channel, k)); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Listener) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.write(conn, heartbeat()); err != nil {
				l.logger.Warn("heartbeat failed, dropping connection", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

func (l *Listener) write(conn *websocket.Conn, msg ControlMessage) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (l *Listener) handleMessage(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		l.logger.Warn("failed to decode live message", zap.Error(err))
		return
	}
	if ev.MsgType != l.cfg.Channel {
		l.logger.Debug("ignoring live message", zap.String("msg_type", ev.MsgType))
		return
	}
	if ev.MarketID <= 0 {
		l.logger.Warn("trade event without market id")
		return
	}

	l.debounceMu.Lock()
	d := l.debouncer
	l.debounceMu.Unlock()
	if d != nil {
		d.Trigger(ev.MarketID)
	}
}

func (l *Listener) fire(ctx context.Context, marketID int64) {
	if ctx.Err() != nil {
		return
	}
	metrics.IncDebounceFire()
	l.logger.Info("market update settled, syncing", zap.Int64("market_id", marketID))
	if err := l.syncer.SyncMarket(ctx, marketID); err != nil {
		l.logger.Error("market sync failed", zap.Int64("market_id", marketID), zap.Error(err))
	}
}
