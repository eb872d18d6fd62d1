package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "settlement:"), srv
}

func TestRedisStoreReserveAndReplay(t *testing.T) {
	store, srv := newTestRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "key-1", "fp-1", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", res, err)
	}
	if ttl := srv.TTL("settlement:idempotency:" + recordID("key-1")); ttl != time.Hour {
		t.Fatalf("expected key ttl of 1h, got %s", ttl)
	}

	res, err = store.Reserve(ctx, "key-1", "fp-1", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v %v", res, err)
	}

	if _, err := store.Reserve(ctx, "key-1", "fp-other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusOK, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"success":true}`)}
	if err := store.SaveResponse(ctx, "key-1", "fp-1", resp, fixedTime, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err = store.Reserve(ctx, "key-1", "fp-1", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v %v", res, err)
	}
	if string(res.Record.ResponseBody) != `{"success":true}` || res.Record.ResponseStatus != http.StatusOK {
		t.Fatalf("unexpected stored response: %+v", res.Record)
	}
}

func TestRedisStoreExpiryAndRelease(t *testing.T) {
	store, srv := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "key-2", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	srv.FastForward(2 * time.Minute)

	res, err := store.Reserve(ctx, "key-2", "fp", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reservable, got %+v %v", res, err)
	}

	if err := store.Release(ctx, "key-2", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err = store.Reserve(ctx, "key-2", "fp", fixedTime, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected released key to be reservable, got %+v %v", res, err)
	}

	if removed, err := store.CleanupExpired(ctx, fixedTime, 10); err != nil || removed != 0 {
		t.Fatalf("expected no-op cleanup, got %d %v", removed, err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestRedisStoreSaveDoesNotOverwriteNewReservation(t *testing.T) {
	store, srv := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "key-3", "fp-1", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	other := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = other.Close() })
	rival := NewRedisStore(other, "settlement:")

	fired := false
	store.afterLoad = func() {
		if fired {
			return
		}
		fired = true
		if err := rival.Release(ctx, "key-3", "fp-1"); err != nil {
			t.Errorf("rival release: %v", err)
		}
		if _, err := rival.Reserve(ctx, "key-3", "fp-2", fixedTime, time.Hour); err != nil {
			t.Errorf("rival reserve: %v", err)
		}
	}

	resp := Response{Status: http.StatusOK, Body: []byte(`{"success":true}`)}
	err := store.SaveResponse(ctx, "key-3", "fp-1", resp, fixedTime, time.Hour)
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch after the key was re-reserved, got %v", err)
	}

	res, err := rival.Reserve(ctx, "key-3", "fp-2", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected the newer reservation to stay pending, got %+v %v", res, err)
	}
}
