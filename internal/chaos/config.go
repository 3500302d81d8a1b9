package chaos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config selects which exchange calls misbehave and how.
type Config struct {
	Enabled         bool
	Profile         string
	TargetAccountID int64 // 0 targets every account
	Seed            int64
	Window          time.Duration // 0 keeps injecting forever
	Rates           Rates
}

// Rates holds drop percentages per call class and the injected latency range.
type Rates struct {
	LookupPct int // order book, order status, balance
	CancelPct int // per cancel entry
	PlacePct  int // per placement entry
	DelayMin  time.Duration
	DelayMax  time.Duration
}

func (r Rates) pct(c Class) int {
	switch c {
	case ClassLookup:
		return r.LookupPct
	case ClassCancel:
		return r.CancelPct
	case ClassPlace:
		return r.PlacePct
	}
	return 0
}

// LoadConfig reads CHAOS_* variables. A profile, when set, overrides the
// individual rate variables it names.
func LoadConfig() *Config {
	return &Config{
		Enabled:         getEnvAsBool("CHAOS_ENABLED", false),
		Profile:         getEnvAsString("CHAOS_PROFILE", ""),
		TargetAccountID: getEnvAsInt64("CHAOS_TARGET_ACCOUNT_ID", 0),
		Seed:            getEnvAsInt64("CHAOS_SEED", 1),
		Window:          getEnvAsDuration("CHAOS_WINDOW", 0),
		Rates: Rates{
			LookupPct: getEnvAsInt("CHAOS_LOOKUP_DROP_PCT", 0),
			CancelPct: getEnvAsInt("CHAOS_CANCEL_DROP_PCT", 0),
			PlacePct:  getEnvAsInt("CHAOS_PLACE_DROP_PCT", 0),
			DelayMin:  getEnvAsDuration("CHAOS_DELAY_MIN", 0),
			DelayMax:  getEnvAsDuration("CHAOS_DELAY_MAX", 0),
		},
	}
}

// ParseProfile applies a profile such as "cancel=30,place=10,delay=50ms-250ms"
// on top of base. "drop=N" sets every class at once.
func ParseProfile(profile string, base Rates) (Rates, error) {
	r := base
	if strings.TrimSpace(profile) == "" {
		return r, nil
	}

	for _, part := range strings.Split(profile, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return base, fmt.Errorf("invalid profile entry %q", part)
		}

		if key == "delay" {
			lo, hi, found := strings.Cut(val, "-")
			if !found {
				hi = lo
			}
			min, err := time.ParseDuration(lo)
			if err != nil {
				return base, fmt.Errorf("invalid delay min: %w", err)
			}
			max, err := time.ParseDuration(hi)
			if err != nil {
				return base, fmt.Errorf("invalid delay max: %w", err)
			}
			if max < min {
				return base, fmt.Errorf("invalid delay range %s", val)
			}
			r.DelayMin, r.DelayMax = min, max
			continue
		}

		pct, err := strconv.Atoi(val)
		if err != nil || pct < 0 || pct > 100 {
			return base, fmt.Errorf("invalid %s percentage %q", key, val)
		}
		switch key {
		case "drop":
			r.LookupPct, r.CancelPct, r.PlacePct = pct, pct, pct
		case "lookup":
			r.LookupPct = pct
		case "cancel":
			r.CancelPct = pct
		case "place":
			r.PlacePct = pct
		default:
			return base, fmt.Errorf("unknown profile key %q", key)
		}
	}
	return r, nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
