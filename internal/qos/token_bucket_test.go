package qos

import (
	"context"
	"time"

	"testing"
)

func TestTokenBucketStartsFull(t *testing.T) {
	tb := NewTokenBucket(100, 50)
	if got := tb.Available(); got != 50 {
		t.Fatalf("Available() = %d, want 50", got)
	}
}

func TestTokenBucketTryConsumeWithinCapacity(t *testing.T) {
	tb := NewTokenBucket(100, 50)
	if !tb.TryConsume(30) {
		t.Fatal("expected TryConsume(30) to succeed on a full 50-token bucket")
	}
	if got := tb.Available(); got != 20 {
		t.Fatalf("Available() = %d, want 20", got)
	}
}

func TestTokenBucketTryConsumeRejectsOverCapacity(t *testing.T) {
	tb := NewTokenBucket(100, 50)
	if tb.TryConsume(51) {
		t.Fatal("expected TryConsume(51) to fail against a 50-token bucket")
	}
	if got := tb.Available(); got != 50 {
		t.Fatalf("Available() = %d, want unchanged 50", got)
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := NewTokenBucket(1000, 100)
	if !tb.TryConsume(100) {
		t.Fatal("expected to drain the bucket")
	}
	if got := tb.Available(); got != 0 {
		t.Fatalf("Available() after drain = %d, want 0", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := tb.Available(); got <= 0 {
		t.Fatalf("Available() after refill wait = %d, want > 0", got)
	}
}

func TestTokenBucketRefillClampsToCapacity(t *testing.T) {
	tb := NewTokenBucket(1_000_000, 10)
	time.Sleep(20 * time.Millisecond)
	if got := tb.Available(); got != 10 {
		t.Fatalf("Available() = %d, want capped at capacity 10", got)
	}
}

func TestTokenBucketSetRate(t *testing.T) {
	tb := NewTokenBucket(100, 50)
	tb.SetRate(500)
	if got := tb.Rate(); got != 500 {
		t.Fatalf("Rate() = %d, want 500", got)
	}
}

func TestTokenBucketConsumeSucceedsWhenAvailable(t *testing.T) {
	tb := NewTokenBucket(100, 50)
	ctx := context.Background()
	if err := tb.Consume(ctx, 10); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got := tb.Available(); got != 40 {
		t.Fatalf("Available() = %d, want 40", got)
	}
}

func TestTokenBucketConsumeRespectsContextCancellation(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	if !tb.TryConsume(1) {
		t.Fatal("expected to drain the single-token bucket")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tb.Consume(ctx, 1000)
	if err == nil {
		t.Fatal("expected Consume to return an error once ctx is done")
	}
}
