package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iho/transferengine/internal/usecase"
)

func TestLockManagerRunsFn(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	lm := NewLockManager(client)

	ran := false
	err := lm.WithLock(context.Background(), "sweep", time.Minute, func(ctx context.Context) error {
		ran = true
		if !mr.Exists("transferengine:lock:sweep") {
			t.Errorf("expected lock key while fn runs")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
	if mr.Exists("transferengine:lock:sweep") {
		t.Fatal("expected lock to be released")
	}
}

func TestLockManagerContended(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	lm := NewLockManager(client)

	err := lm.WithLock(context.Background(), "sweep", time.Minute, func(ctx context.Context) error {
		inner := lm.WithLock(ctx, "sweep", time.Minute, func(context.Context) error {
			t.Error("nested holder must not run")
			return nil
		})
		if !errors.Is(inner, usecase.ErrLockNotAcquired) {
			t.Errorf("expected ErrLockNotAcquired, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLockManagerPropagatesFnError(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	want := errors.New("sweep failed")
	err := NewLockManager(client).WithLock(context.Background(), "k", time.Minute, func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected fn error, got %v", err)
	}
}

func TestLockManagerExcludesOtherReplicas(t *testing.T) {
	replicas, mr := newReplicaLockManagers(t, 2)
	ctx := context.Background()

	err := replicas[0].WithLock(ctx, "outbox-publisher", time.Minute, func(ctx context.Context) error {
		if !mr.Exists("transferengine:lock:outbox-publisher") {
			t.Error("expected lock key while the first replica delivers")
		}
		return replicas[1].WithLock(ctx, "outbox-publisher", time.Minute, func(context.Context) error {
			t.Error("second replica must not deliver concurrently")
			return nil
		})
	})
	if !errors.Is(err, usecase.ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired from the second replica, got %v", err)
	}

	ran := false
	if err := replicas[1].WithLock(ctx, "outbox-publisher", time.Minute, func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("second replica after release: %v", err)
	}
	if !ran {
		t.Fatal("expected the second replica to take over once released")
	}
}

func TestLockManagerExpiresAbandonedLock(t *testing.T) {
	replicas, mr := newReplicaLockManagers(t, 2)
	ctx := context.Background()

	// A replica that died while holding the lock leaves the key behind.
	if err := mr.Set("transferengine:lock:outbox-publisher", "dead-replica"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	mr.SetTTL("transferengine:lock:outbox-publisher", 30*time.Second)

	err := replicas[0].WithLock(ctx, "outbox-publisher", time.Minute, func(context.Context) error { return nil })
	if !errors.Is(err, usecase.ErrLockNotAcquired) {
		t.Fatalf("expected the stale holder to block, got %v", err)
	}

	mr.FastForward(31 * time.Second)

	if err := replicas[1].WithLock(ctx, "outbox-publisher", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected lock after expiry, got %v", err)
	}
}
