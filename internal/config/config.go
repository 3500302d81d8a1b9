package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for all services
type Config struct {
	// Service name
	ServiceName string

	// gRPC server port (health + sync control)
	GRPCPort int

	// HTTP server port (healthz, readyz, metrics)
	HTTPPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Directory holding the SQLite order store
	DataDir string

	// Kafka brokers (comma-separated). Empty disables the outbox publisher.
	KafkaBrokers string

	// Topic notifications are published to
	NotifyTopic string

	// Exchange backend: "paper" is the only built-in one
	ExchangeMode string

	// Paper exchange: quote balance per account and random-walk period
	PaperStartingBalance float64
	PaperWalkInterval    time.Duration

	// Reconciliation scheduling
	SyncInterval        time.Duration
	SyncInitialDelay    time.Duration
	SyncCycleTimeout    time.Duration
	MaxParallelAccounts int
	LookupTimeout       time.Duration

	// Live update listener
	WSEnabled          bool
	WSURL              string
	WSAPIKey           string
	WSChannel          string
	HeartbeatInterval  time.Duration
	DebounceDelay      time.Duration
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	ResubscribeSpacing time.Duration

	// Order expiry
	OrderExpiryAge      time.Duration
	OrderExpiryInterval time.Duration

	// Owner that receives operational alerts; 0 disables alerts
	AdminOwnerID int64

	// Address of a running order-syncer control service (for sync-trigger)
	SyncControlAddr string
}

// LoadConfig loads configuration from environment variables with defaults.
// A .env file in the working directory is read first; real environment
// variables take precedence over it.
func LoadConfig(serviceName string) *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:          serviceName,
		GRPCPort:             getEnvAsInt("PORT_GRPC", 50061),
		HTTPPort:             getEnvAsInt("PORT_HTTP", 8080),
		LogLevel:             getEnvAsString("LOG_LEVEL", "info"),
		DataDir:              getEnvAsString("DATA_DIR", "./data"),
		KafkaBrokers:         getEnvAsString("KAFKA_BROKERS", ""),
		NotifyTopic:          getEnvAsString("NOTIFY_TOPIC", "orders.notifications"),
		ExchangeMode:         getEnvAsString("EXCHANGE_MODE", "paper"),
		PaperStartingBalance: getEnvAsFloat("PAPER_STARTING_BALANCE", 1000),
		PaperWalkInterval:    getEnvAsDuration("PAPER_WALK_INTERVAL", 5*time.Second),
		SyncInterval:         getEnvAsDuration("SYNC_INTERVAL", 60*time.Second),
		SyncInitialDelay:     getEnvAsDuration("SYNC_INITIAL_DELAY", 30*time.Second),
		SyncCycleTimeout:     getEnvAsDuration("SYNC_CYCLE_TIMEOUT", 50*time.Second),
		MaxParallelAccounts:  getEnvAsInt("SYNC_MAX_PARALLEL_ACCOUNTS", 8),
		LookupTimeout:        getEnvAsDuration("LOOKUP_TIMEOUT", 10*time.Second),
		WSEnabled:            getEnvAsBool("WS_ENABLED", false),
		WSURL:                getEnvAsString("WS_URL", "wss://ws.opinion.trade"),
		WSAPIKey:             getEnvAsString("WS_API_KEY", ""),
		WSChannel:            getEnvAsString("WS_CHANNEL", "market.last.trade"),
		HeartbeatInterval:    getEnvAsDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		DebounceDelay:        getEnvAsDuration("WS_DEBOUNCE_DELAY", 3*time.Second),
		ReconnectInitial:     getEnvAsDuration("WS_RECONNECT_INITIAL", time.Second),
		ReconnectMax:         getEnvAsDuration("WS_RECONNECT_MAX", 60*time.Second),
		ResubscribeSpacing:   getEnvAsDuration("WS_RESUBSCRIBE_SPACING", 100*time.Millisecond),
		OrderExpiryAge:       getEnvAsDuration("ORDER_EXPIRY_AGE", 5*24*time.Hour),
		OrderExpiryInterval:  getEnvAsDuration("ORDER_EXPIRY_INTERVAL", time.Hour),
		AdminOwnerID:         getEnvAsInt64("ADMIN_OWNER_ID", 0),
		SyncControlAddr:      getEnvAsString("SYNC_CONTROL_ADDR", "127.0.0.1:50061"),
	}

	return cfg
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Brokers splits KafkaBrokers into a trimmed list, dropping empty entries.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("90s", "5m") or a bare
// number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
