package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

func testQueue() (*Queue, *fakeRedis) {
	fr := newFakeRedis()
	q := newWithClient(fr, Config{PendingKey: "test:signals", MaxRetries: 3}, zerolog.Nop())
	return q, fr
}

func sampleSignal(symbol string, side domain.Side, sc float64) domain.Signal {
	return domain.NewSignal(symbol, side, 100, decimal.NewFromInt(100), sc, "trend_follow")
}

func TestPublishConsume_RoundTrip(t *testing.T) {
	q, _ := testQueue()
	ctx := context.Background()

	sig := sampleSignal("0700.HK", domain.SideBuy, 80)
	if !q.Publish(ctx, sig, sig.Score) {
		t.Fatal("publish failed")
	}

	got, ok := q.Consume(ctx)
	if !ok {
		t.Fatal("expected a signal to be consumed")
	}
	if got.Symbol != "0700.HK" || got.Side != domain.SideBuy {
		t.Errorf("unexpected signal: %+v", got)
	}
	if got.OriginalPayload() == nil {
		t.Error("expected original payload to be preserved for later exact delete")
	}
}

func TestConsume_EmptyQueueReturnsFalse(t *testing.T) {
	q, _ := testQueue()
	_, ok := q.Consume(context.Background())
	if ok {
		t.Error("expected consume on empty queue to return false")
	}
}

func TestPriorityOrdering_HighestScoreFirst(t *testing.T) {
	q, _ := testQueue()
	ctx := context.Background()

	low := sampleSignal("1.HK", domain.SideBuy, 10)
	high := sampleSignal("2.HK", domain.SideBuy, 90)
	mid := sampleSignal("3.HK", domain.SideBuy, 50)

	q.Publish(ctx, low, low.Score)
	q.Publish(ctx, high, high.Score)
	q.Publish(ctx, mid, mid.Score)

	first, _ := q.Consume(ctx)
	second, _ := q.Consume(ctx)
	third, _ := q.Consume(ctx)

	if first.Symbol != "2.HK" || second.Symbol != "3.HK" || third.Symbol != "1.HK" {
		t.Errorf("expected consume order by descending score (2,3,1), got (%s,%s,%s)",
			first.Symbol, second.Symbol, third.Symbol)
	}
}

func TestMarkCompleted_RemovesFromProcessing(t *testing.T) {
	q, fr := testQueue()
	ctx := context.Background()

	sig := sampleSignal("0700.HK", domain.SideBuy, 50)
	q.Publish(ctx, sig, sig.Score)
	consumed, _ := q.Consume(ctx)

	if len(fr.set("test:signals:processing")) != 1 {
		t.Fatal("expected signal in processing after consume")
	}

	if !q.MarkCompleted(ctx, consumed) {
		t.Fatal("mark_completed returned false")
	}
	if len(fr.set("test:signals:processing")) != 0 {
		t.Error("expected processing to be empty after mark_completed")
	}
}

func TestMarkFailed_RetriesAtReducedPriority(t *testing.T) {
	q, fr := testQueue()
	ctx := context.Background()

	sig := sampleSignal("0700.HK", domain.SideBuy, 50)
	sig.Score = 50
	q.Publish(ctx, sig, 50)
	consumed, _ := q.Consume(ctx)

	if !q.MarkFailed(ctx, consumed, "broker timeout", true) {
		t.Fatal("mark_failed returned false")
	}

	if len(fr.set("test:signals:processing")) != 0 {
		t.Error("expected processing to be empty after mark_failed")
	}
	pending := fr.set("test:signals")
	if len(pending) != 1 {
		t.Fatalf("expected requeued signal in pending, got %d entries", len(pending))
	}

	requeued, ok := q.Consume(ctx)
	if !ok {
		t.Fatal("expected requeued signal to be consumable")
	}
	if requeued.RetryCount != 1 {
		t.Errorf("expected retry_count=1, got %d", requeued.RetryCount)
	}
	if requeued.LastError != "broker timeout" {
		t.Errorf("expected last_error to be recorded, got %q", requeued.LastError)
	}
}

func TestMarkFailed_MovesToFailedAfterMaxRetries(t *testing.T) {
	q, fr := testQueue()
	ctx := context.Background()

	sig := sampleSignal("0700.HK", domain.SideBuy, 50)
	sig.RetryCount = 2 // one more failure reaches max_retries=3
	q.Publish(ctx, sig, 50)
	consumed, _ := q.Consume(ctx)

	if !q.MarkFailed(ctx, consumed, "broker rejected", true) {
		t.Fatal("mark_failed returned false")
	}

	if len(fr.set("test:signals")) != 0 {
		t.Error("expected no requeue once max_retries is reached")
	}
	if len(fr.set("test:signals:failed")) != 1 {
		t.Error("expected signal to land in the failed collection")
	}
}

func TestRecoverZombies_RequeuesStaleProcessingEntries(t *testing.T) {
	q, fr := testQueue()
	ctx := context.Background()

	sig := sampleSignal("0700.HK", domain.SideBuy, 50)
	q.Publish(ctx, sig, 50)
	q.Consume(ctx) // moves into processing with score = now

	// Simulate staleness: push the processing entry's score far into the past.
	processing := fr.set("test:signals:processing")
	for member := range processing {
		processing[member] = float64(time.Now().Add(-10 * time.Minute).Unix())
	}

	recovered, err := q.RecoverZombies(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recovered != 1 {
		t.Errorf("expected 1 zombie recovered, got %d", recovered)
	}
	if len(fr.set("test:signals:processing")) != 0 {
		t.Error("expected processing to be empty after recovery")
	}
	if len(fr.set("test:signals")) != 1 {
		t.Error("expected recovered signal back in pending")
	}
}

func TestRecoverZombies_IdempotentOnDoubleInvocation(t *testing.T) {
	// Grounded on the zombie-recovery idempotence concern from
	// test_signal_deduplication.py: recovering twice in a row must not
	// duplicate the signal or lose it.
	q, fr := testQueue()
	ctx := context.Background()

	sig := sampleSignal("0700.HK", domain.SideBuy, 50)
	q.Publish(ctx, sig, 50)
	q.Consume(ctx)

	processing := fr.set("test:signals:processing")
	for member := range processing {
		processing[member] = float64(time.Now().Add(-10 * time.Minute).Unix())
	}

	first, err := q.RecoverZombies(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := q.RecoverZombies(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != 1 {
		t.Errorf("expected first recovery to reclaim 1 signal, got %d", first)
	}
	if second != 0 {
		t.Errorf("expected second recovery to find nothing stale, got %d", second)
	}
	if len(fr.set("test:signals")) != 1 {
		t.Errorf("expected exactly one copy in pending after double recovery, got %d", len(fr.set("test:signals")))
	}
}

func TestHasPending_DetectsAcrossPendingAndProcessing(t *testing.T) {
	q, _ := testQueue()
	ctx := context.Background()

	sig := sampleSignal("0700.HK", domain.SideBuy, 50)
	q.Publish(ctx, sig, 50)

	has, err := q.HasPending(ctx, "0700.HK", domain.SideBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Error("expected has_pending to find the queued signal")
	}

	has, err = q.HasPending(ctx, "0700.HK", domain.SideSell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Error("expected has_pending to be side-specific")
	}

	q.Consume(ctx)
	has, err = q.HasPending(ctx, "0700.HK", domain.SideBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Error("expected has_pending to also find the signal while it is in processing")
	}
}

func TestStats_ReportsCollectionSizes(t *testing.T) {
	q, _ := testQueue()
	ctx := context.Background()

	q.Publish(ctx, sampleSignal("1.HK", domain.SideBuy, 10), 10)
	q.Publish(ctx, sampleSignal("2.HK", domain.SideBuy, 20), 20)
	q.Consume(ctx)

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Pending != 1 || stats.Processing != 1 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClear_RemovesRequestedCollectionOnly(t *testing.T) {
	q, fr := testQueue()
	ctx := context.Background()

	q.Publish(ctx, sampleSignal("1.HK", domain.SideBuy, 10), 10)
	q.Consume(ctx)

	if _, err := q.Clear(ctx, CollectionProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fr.sets["test:signals:processing"]) != 0 {
		t.Error("expected processing collection to be cleared")
	}
}

func TestClear_RejectsUnknownCollection(t *testing.T) {
	q, _ := testQueue()
	if _, err := q.Clear(context.Background(), "bogus"); err == nil {
		t.Error("expected error for unknown collection name")
	}
}
