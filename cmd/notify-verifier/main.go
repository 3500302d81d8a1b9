package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/logging"
	"github.com/ismaiel54/floating-order-sync/internal/msg"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <duration_seconds> [brokers]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 30 127.0.0.1:9092\n", os.Args[0])
		os.Exit(1)
	}

	var durationSeconds int
	if _, err := fmt.Sscanf(os.Args[1], "%d", &durationSeconds); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid duration: %v\n", err)
		os.Exit(1)
	}

	brokers := "127.0.0.1:9092"
	if len(os.Args) >= 3 {
		brokers = os.Args[2]
	}

	logger, err := logging.NewLogger("notify-verifier", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	msgCfg := msg.LoadConfig()
	msgCfg.Brokers = nil
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			msgCfg.Brokers = append(msgCfg.Brokers, b)
		}
	}

	logger.Info("starting notification verifier",
		zap.Int("duration_seconds", durationSeconds),
		zap.Strings("brokers", msgCfg.Brokers),
	)

	consumer, err := msg.NewConsumer(msgCfg, "notify-verifier-v1", []string{msg.TopicNotifications}, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	eventCounts := make(map[string]int)
	kindCounts := make(map[string]int)
	invalid := 0

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSeconds)*time.Second)
	defer cancel()

	err = consumer.Run(ctx, func(ctx context.Context, rec msg.Record) error {
		var n msg.NotificationMsg
		if err := json.Unmarshal(rec.Value, &n); err != nil {
			logger.Warn("failed to unmarshal notification", zap.Error(err))
			invalid++
			return nil
		}
		if n.EventID == "" || n.OwnerID == 0 || n.Text == "" {
			invalid++
			return nil
		}

		eventCounts[n.EventID]++
		kindCounts[n.Kind]++

		logger.Debug("consumed notification",
			zap.String("event_id", n.EventID),
			zap.String("kind", n.Kind),
			zap.Int64("owner_id", n.OwnerID),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("consumer error", zap.Error(err))
	}

	total := 0
	var duplicates []string
	for eventID, count := range eventCounts {
		total += count
		if count > 1 {
			duplicates = append(duplicates, eventID)
		}
	}
	sort.Strings(duplicates)

	kinds := make([]string, 0, len(kindCounts))
	for k := range kindCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	fmt.Println("\n=== Notification Verification ===")
	fmt.Printf("Total notifications consumed: %d\n", total)
	fmt.Printf("Unique event IDs: %d\n", len(eventCounts))
	fmt.Printf("Malformed: %d\n", invalid)
	for _, k := range kinds {
		fmt.Printf("  %s: %d\n", k, kindCounts[k])
	}

	if len(duplicates) > 0 || invalid > 0 {
		if len(duplicates) > 0 {
			fmt.Println("\nDuplicate event IDs:")
			for _, id := range duplicates {
				fmt.Printf("  %s x%d\n", id, eventCounts[id])
			}
		}
		fmt.Println("\nVERIFICATION FAILED")
		os.Exit(1)
	}

	fmt.Println("\nVERIFICATION PASSED: every notification delivered once")
}
