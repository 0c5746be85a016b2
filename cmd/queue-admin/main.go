// queue-admin inspects and administers the signal dispatch queue: report
// pending/processing/failed counts, or clear a collection outright. A
// clear is destructive and requires --confirm.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/queue"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	action := flag.String("action", "stats", "action: stats | clear")
	collection := flag.String("collection", queue.CollectionAll, "collection to clear: pending | processing | failed | all")
	confirm := flag.Bool("confirm", false, "required to run --action=clear")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer redisClient.Close()

	q := queue.New(redisClient, queue.Config{
		PendingKey:    cfg.Queue.SignalQueueKey,
		ProcessingKey: cfg.Queue.SignalQueueKey + ":processing",
		FailedKey:     cfg.Queue.SignalQueueKey + ":failed",
		MaxRetries:    cfg.Queue.SignalMaxRetries,
	}, logger)

	ctx := context.Background()

	switch *action {
	case "stats":
		stats, err := q.Stats(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read queue stats")
		}
		fmt.Printf("pending:    %d\n", stats.Pending)
		fmt.Printf("processing: %d\n", stats.Processing)
		fmt.Printf("failed:     %d\n", stats.Failed)

	case "clear":
		if !*confirm {
			fmt.Println("safety check: clearing the queue is destructive")
			fmt.Printf("  collection: %s\n", *collection)
			fmt.Println("to proceed, re-run with --confirm")
			os.Exit(0)
		}
		deleted, err := q.Clear(ctx, *collection)
		if err != nil {
			logger.Fatal().Err(err).Msg("clear failed")
		}
		fmt.Printf("cleared %s: %d key(s) deleted\n", *collection, deleted)

	default:
		logger.Fatal().Str("action", *action).Msg("unknown action: expected stats or clear")
	}
}
