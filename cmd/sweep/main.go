// Command sweep runs one retention sweep against the configured conversation
// log and exits. It is meant to be triggered by an external scheduler such as
// cron or a Kubernetes CronJob instead of the bot's in-process timer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"memory-bot/internal/config"
	"memory-bot/internal/conversation"
	"memory-bot/internal/storage"
)

func main() {
	days := flag.Int("days", 0, "retention in days (overrides RETENTION_DAYS)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg := config.New()
	retention := cfg.Retention()
	if *days > 0 {
		retention = time.Duration(*days) * 24 * time.Hour
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	n, err := sweep(ctx, cfg, retention)
	cancel()
	if err != nil {
		log.Printf("sweep failed: %v", err)
		os.Exit(1)
	}
	log.Printf("removed %d records", n)
}

// sweep opens the configured log, prunes it and closes it again.
func sweep(ctx context.Context, cfg *config.Config, retention time.Duration) (int, error) {
	durable, err := storage.NewLog(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("init conversation log: %w", err)
	}
	store := conversation.NewStore(durable, conversation.NewCache(0))
	n, err := store.SweepExpired(ctx, retention)
	if cerr := store.Close(); cerr != nil {
		log.Printf("failed to close conversation log: %v", cerr)
	}
	return n, err
}
