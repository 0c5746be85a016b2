// Package queue implements the signal dispatch queue (C5): a durable
// priority queue over Redis sorted sets. Four observable collections
// live in the key-value store — pending, processing, failed, and a
// derived dedup index over pending ∪ processing by (symbol, side).
//
// The queue never holds a domain.Signal in memory longer than one
// consume/mark cycle: every mutation round-trips through Redis so
// multiple router processes can share one queue safely.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// ErrStoreUnavailable wraps any Redis error surfaced to a caller so
// callers can distinguish "queue had nothing for you" (nil, nil) from
// "the store itself is down" without inspecting driver-specific types.
var ErrStoreUnavailable = errors.New("queue: store unavailable")

// wireSignal is the queue's own wire representation. It mirrors
// domain.Signal field-for-field but keeps money as strings (not
// decimal.Decimal's native JSON, which is already string-safe, but
// explicit here so the wire format is stable independent of the
// decimal library's marshal behavior) and carries the bookkeeping
// fields original_source/messaging/signal_queue.py stores alongside
// the payload (queued_at, retry_count, last_error, processing_started_at).
type wireSignal struct {
	ID                  string  `json:"id"`
	Symbol              string  `json:"symbol"`
	Side                string  `json:"side"`
	QuantityShares      int64   `json:"quantity_shares"`
	ReferencePrice      string  `json:"reference_price"`
	Score               float64 `json:"score"`
	StrategyName        string  `json:"strategy_name"`
	Urgency             int     `json:"urgency"`
	MaxSlippage         string  `json:"max_slippage"`
	StopLoss            string  `json:"stop_loss"`
	Reason              string  `json:"reason"`
	CreatedAt           string  `json:"created_at"`
	RetryCount          int     `json:"retry_count"`
	QueuedAt            string  `json:"queued_at"`
	LastError           string  `json:"last_error,omitempty"`
	ProcessingStartedAt string  `json:"processing_started_at,omitempty"`
}

// redisZSetClient is the slice of *redis.Client this package depends on.
// Declared as an interface so tests can substitute a fake in-memory
// sorted-set implementation instead of a live Redis server.
type redisZSetClient interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZPopMin(ctx context.Context, key string, count ...int64) *redis.ZSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Queue is the Redis-backed signal dispatch queue.
type Queue struct {
	client        redisZSetClient
	pendingKey    string
	processingKey string
	failedKey     string
	maxRetries    int
	logger        zerolog.Logger
}

// Config configures a Queue instance.
type Config struct {
	PendingKey    string // default "trading:signals"
	ProcessingKey string // default "<PendingKey>:processing"
	FailedKey     string // default "<PendingKey>:failed"
	MaxRetries    int    // default 3
}

// New builds a Queue over an already-connected redis.Client.
func New(client *redis.Client, cfg Config, logger zerolog.Logger) *Queue {
	return newWithClient(client, cfg, logger)
}

// newWithClient is the shared constructor body. Exposed at the
// interface level (rather than *redis.Client) so tests can substitute
// an in-memory fake; production callers always go through New.
func newWithClient(client redisZSetClient, cfg Config, logger zerolog.Logger) *Queue {
	if cfg.PendingKey == "" {
		cfg.PendingKey = "trading:signals"
	}
	if cfg.ProcessingKey == "" {
		cfg.ProcessingKey = cfg.PendingKey + ":processing"
	}
	if cfg.FailedKey == "" {
		cfg.FailedKey = cfg.PendingKey + ":failed"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Queue{
		client:        client,
		pendingKey:    cfg.PendingKey,
		processingKey: cfg.ProcessingKey,
		failedKey:     cfg.FailedKey,
		maxRetries:    cfg.MaxRetries,
		logger:        logger.With().Str("component", "queue").Logger(),
	}
}

func toWire(s domain.Signal) wireSignal {
	var processingStarted string
	if s.ProcessingStartedAt != nil {
		processingStarted = s.ProcessingStartedAt.UTC().Format(time.RFC3339Nano)
	}
	return wireSignal{
		ID:                  s.ID.String(),
		Symbol:              s.Symbol,
		Side:                string(s.Side),
		QuantityShares:      s.QuantityShares,
		ReferencePrice:      s.ReferencePrice.String(),
		Score:               s.Score,
		StrategyName:        s.StrategyName,
		Urgency:             s.Urgency,
		MaxSlippage:         s.MaxSlippage.String(),
		StopLoss:            s.StopLoss.String(),
		Reason:              s.Reason,
		CreatedAt:           s.CreatedAt.UTC().Format(time.RFC3339Nano),
		RetryCount:          s.RetryCount,
		QueuedAt:            s.QueuedAt.UTC().Format(time.RFC3339Nano),
		LastError:           s.LastError,
		ProcessingStartedAt: processingStarted,
	}
}

func fromWire(w wireSignal, originalPayload []byte) (domain.Signal, error) {
	id, err := parseUUID(w.ID)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("queue: parse signal id: %w", err)
	}
	refPrice, err := parseDecimal(w.ReferencePrice)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("queue: parse reference_price: %w", err)
	}
	maxSlip, err := parseDecimal(w.MaxSlippage)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("queue: parse max_slippage: %w", err)
	}
	stopLoss, err := parseDecimal(w.StopLoss)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("queue: parse stop_loss: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("queue: parse created_at: %w", err)
	}
	queuedAt := createdAt
	if w.QueuedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.QueuedAt); err == nil {
			queuedAt = t
		}
	}

	sig := domain.Signal{
		ID:             id,
		Symbol:         w.Symbol,
		Side:           domain.Side(w.Side),
		QuantityShares: w.QuantityShares,
		ReferencePrice: refPrice,
		Score:          w.Score,
		StrategyName:   w.StrategyName,
		Urgency:        w.Urgency,
		MaxSlippage:    maxSlip,
		StopLoss:       stopLoss,
		Reason:         w.Reason,
		CreatedAt:      createdAt,
		RetryCount:     w.RetryCount,
		QueuedAt:       queuedAt,
		LastError:      w.LastError,
	}
	if w.ProcessingStartedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.ProcessingStartedAt); err == nil {
			sig.ProcessingStartedAt = &t
		}
	}
	return sig.WithOriginalPayload(originalPayload), nil
}

// score computes the ZSET score for a signal given an explicit priority:
// -priority plus a microsecond-resolution fractional jitter so ties
// between equal-priority signals still resolve to a stable total order.
func score(priority float64) float64 {
	jitter := float64(time.Now().UnixMicro()%1_000_000) / 1_000_000_000
	return -priority + jitter
}

// Publish atomically inserts intent into pending at the given priority.
// Returns false (not an error) on store failure so the caller — a
// strategy or the rebalancer — can decide whether to retry publishing.
func (q *Queue) Publish(ctx context.Context, intent domain.Signal, priority float64) bool {
	intent.QueuedAt = time.Now().UTC()
	payload, err := json.Marshal(toWire(intent))
	if err != nil {
		q.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("publish: marshal failed")
		return false
	}

	err = q.client.ZAdd(ctx, q.pendingKey, redis.Z{
		Score:  score(priority),
		Member: string(payload),
	}).Err()
	if err != nil {
		q.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("publish failed")
		return false
	}
	return true
}

// Consume atomically pops the highest-priority (lowest score) record
// from pending and moves it into processing, scored by the current
// instant. It invokes RecoverZombies first so stale processing items
// are requeued before a fresh pop. Returns (zero, false) when pending
// is empty or the store errors. Store errors are swallowed and logged,
// not surfaced, so the caller just treats it as "nothing to do" and
// sleeps.
func (q *Queue) Consume(ctx context.Context) (domain.Signal, bool) {
	if _, err := q.RecoverZombies(ctx, 5*time.Minute); err != nil {
		q.logger.Warn().Err(err).Msg("consume: zombie recovery failed, continuing")
	}

	results, err := q.client.ZPopMin(ctx, q.pendingKey, 1).Result()
	if err != nil {
		q.logger.Warn().Err(err).Msg("consume failed")
		return domain.Signal{}, false
	}
	if len(results) == 0 {
		return domain.Signal{}, false
	}

	member := results[0].Member.(string)
	var w wireSignal
	if err := json.Unmarshal([]byte(member), &w); err != nil {
		q.logger.Error().Err(err).Msg("consume: unmarshal failed, dropping malformed entry")
		return domain.Signal{}, false
	}

	sig, err := fromWire(w, []byte(member))
	if err != nil {
		q.logger.Error().Err(err).Msg("consume: decode failed, dropping malformed entry")
		return domain.Signal{}, false
	}
	now := time.Now().UTC()
	sig.ProcessingStartedAt = &now

	if err := q.client.ZAdd(ctx, q.processingKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: member,
	}).Err(); err != nil {
		q.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("consume: move to processing failed")
	}

	return sig, true
}

// MarkCompleted removes intent from processing using its original payload.
func (q *Queue) MarkCompleted(ctx context.Context, intent domain.Signal) bool {
	payload := intent.OriginalPayload()
	if payload == nil {
		w := toWire(intent)
		var err error
		payload, err = json.Marshal(w)
		if err != nil {
			q.logger.Error().Err(err).Msg("mark_completed: re-marshal fallback failed")
			return false
		}
		q.logger.Warn().Str("symbol", intent.Symbol).Msg("mark_completed: missing original payload, using re-serialized fallback")
	}

	removed, err := q.client.ZRem(ctx, q.processingKey, string(payload)).Result()
	if err != nil {
		q.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("mark_completed failed")
		return false
	}
	if removed == 0 {
		q.logger.Warn().Str("symbol", intent.Symbol).Msg("mark_completed: entry not found in processing, possibly removed concurrently")
	}
	return true
}

// MarkFailed removes intent from processing. If retry is true and the
// incremented retry count is still under max_retries, it is republished
// at a reduced priority (10 points per retry); otherwise it is moved to
// the failed collection.
func (q *Queue) MarkFailed(ctx context.Context, intent domain.Signal, errMsg string, retry bool) bool {
	payload := intent.OriginalPayload()
	if payload == nil {
		w := toWire(intent)
		var err error
		payload, err = json.Marshal(w)
		if err != nil {
			q.logger.Error().Err(err).Msg("mark_failed: re-marshal fallback failed")
			return false
		}
		q.logger.Warn().Str("symbol", intent.Symbol).Msg("mark_failed: missing original payload, using re-serialized fallback")
	}

	if err := q.client.ZRem(ctx, q.processingKey, string(payload)).Err(); err != nil {
		q.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("mark_failed: remove from processing failed")
	}

	intent.RetryCount++
	intent.LastError = errMsg

	if retry && intent.RetryCount < q.maxRetries {
		newPriority := intent.Score - float64(intent.RetryCount*10)
		q.logger.Warn().Str("symbol", intent.Symbol).Int("retry_count", intent.RetryCount).
			Int("max_retries", q.maxRetries).Str("error", errMsg).Msg("signal failed, will retry")
		return q.Publish(ctx, intent, newPriority)
	}

	failedPayload, err := json.Marshal(toWire(intent))
	if err != nil {
		q.logger.Error().Err(err).Msg("mark_failed: marshal for failed collection failed")
		return false
	}
	if err := q.client.ZAdd(ctx, q.failedKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: string(failedPayload),
	}).Err(); err != nil {
		q.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("mark_failed: move to failed collection failed")
		return false
	}
	q.logger.Error().Str("symbol", intent.Symbol).Str("error", errMsg).Msg("signal failed, max retries exhausted")
	return true
}

// RecoverZombies requeues processing items whose insertion instant is
// older than now-timeout. Per invariant I3, each item is republished
// before being removed from processing so a crash mid-recovery never
// loses an item (at worst it is briefly duplicated in both pending and
// processing, never absent from both).
func (q *Queue) RecoverZombies(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout).Unix()

	stale, err := q.client.ZRangeByScoreWithScores(ctx, q.processingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: recover_zombies: %v", ErrStoreUnavailable, err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, z := range stale {
		member := z.Member.(string)
		var w wireSignal
		if err := json.Unmarshal([]byte(member), &w); err != nil {
			q.logger.Error().Err(err).Msg("recover_zombies: dropping malformed processing entry")
			q.client.ZRem(ctx, q.processingKey, member)
			continue
		}

		sig, err := fromWire(w, []byte(member))
		if err != nil {
			q.logger.Error().Err(err).Msg("recover_zombies: dropping undecodable processing entry")
			q.client.ZRem(ctx, q.processingKey, member)
			continue
		}

		elapsed := time.Since(time.Unix(int64(z.Score), 0))
		q.logger.Warn().Str("symbol", sig.Symbol).Dur("stuck_for", elapsed).Msg("recovering zombie signal")

		if !q.Publish(ctx, sig, sig.Score) {
			q.logger.Error().Str("symbol", sig.Symbol).Msg("recover_zombies: republish failed, leaving in processing for next pass")
			continue
		}
		if err := q.client.ZRem(ctx, q.processingKey, member).Err(); err != nil {
			q.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("recover_zombies: failed to remove stale processing entry after republish")
		}
		recovered++
	}

	if recovered > 0 {
		q.logger.Info().Int("recovered", recovered).Msg("zombie recovery complete")
	}
	return recovered, nil
}

// HasPending reports whether a pending or processing signal already
// exists for (symbol, side). When side is empty, any side matches.
// Producers MUST call this before Publish to satisfy invariant I4.
func (q *Queue) HasPending(ctx context.Context, symbol string, side domain.Side) (bool, error) {
	for _, key := range []string{q.pendingKey, q.processingKey} {
		members, err := q.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return false, fmt.Errorf("%w: has_pending: %v", ErrStoreUnavailable, err)
		}
		for _, member := range members {
			var w wireSignal
			if err := json.Unmarshal([]byte(member), &w); err != nil {
				continue
			}
			if w.Symbol == symbol && (side == "" || domain.Side(w.Side) == side) {
				return true, nil
			}
		}
	}
	return false, nil
}

// PendingSymbols returns the set of symbols present across pending and
// processing, for producers that want to dedup in bulk rather than one
// HasPending call per candidate symbol.
func (q *Queue) PendingSymbols(ctx context.Context) (map[string]struct{}, error) {
	symbols := make(map[string]struct{})
	for _, key := range []string{q.pendingKey, q.processingKey} {
		members, err := q.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: get_pending_symbols: %v", ErrStoreUnavailable, err)
		}
		for _, member := range members {
			var w wireSignal
			if err := json.Unmarshal([]byte(member), &w); err != nil {
				continue
			}
			symbols[w.Symbol] = struct{}{}
		}
	}
	return symbols, nil
}

// Stats is the size of each observable collection.
type Stats struct {
	Pending    int64
	Processing int64
	Failed     int64
}

// Stats reports the size of pending, processing, and failed.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pending, err := q.client.ZCard(ctx, q.pendingKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats(pending): %v", ErrStoreUnavailable, err)
	}
	processing, err := q.client.ZCard(ctx, q.processingKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats(processing): %v", ErrStoreUnavailable, err)
	}
	failed, err := q.client.ZCard(ctx, q.failedKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats(failed): %v", ErrStoreUnavailable, err)
	}
	return Stats{Pending: pending, Processing: processing, Failed: failed}, nil
}

// Collection names accepted by Clear.
const (
	CollectionPending    = "pending"
	CollectionProcessing = "processing"
	CollectionFailed     = "failed"
	CollectionAll        = "all"
)

// Clear deletes an entire collection. Administrative operation, used by
// cmd/queue-admin, never called from the router's steady-state path.
func (q *Queue) Clear(ctx context.Context, collection string) (int64, error) {
	var keys []string
	switch collection {
	case CollectionPending:
		keys = []string{q.pendingKey}
	case CollectionProcessing:
		keys = []string{q.processingKey}
	case CollectionFailed:
		keys = []string{q.failedKey}
	case CollectionAll:
		keys = []string{q.pendingKey, q.processingKey, q.failedKey}
	default:
		return 0, fmt.Errorf("queue: unknown collection %q", collection)
	}

	deleted, err := q.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: clear: %v", ErrStoreUnavailable, err)
	}
	q.logger.Warn().Str("collection", collection).Int64("keys_deleted", deleted).Msg("queue cleared")
	return deleted, nil
}
