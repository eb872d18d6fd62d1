package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const reserveAttempts = 3

// RedisStore implements Store on Redis. Records expire through key TTLs, so CleanupExpired
// has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	// afterLoad runs between the read and the write of SaveResponse.
	afterLoad func()
}

// NewRedisStore constructs a Redis-backed store. Keys are namespaced as <prefix>:idempotency:<hash>.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.Trim(strings.TrimSpace(prefix), ":")}
}

// Reserve claims the key with SET NX; when the key exists the stored record decides the outcome.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	redisKey := s.key(key)
	record := pendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		created, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: redis reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}

		existing, found, err := s.load(ctx, s.client, redisKey)
		if err != nil {
			return Reservation{}, err
		}
		if !found {
			// expired between SETNX and GET
			continue
		}
		return reservationFor(existing, fingerprint)
	}
	return Reservation{}, errors.New("idempotency: redis reserve contended")
}

// SaveResponse replaces the reservation with the completed response and a fresh TTL. The
// read and the write run under WATCH, so a reservation taken by another request after the
// read makes the write fail and the check is repeated.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	redisKey := s.key(key)

	save := func(tx *redis.Tx) error {
		record, found, err := s.load(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		if s.afterLoad != nil {
			s.afterLoad()
		}
		if found && record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !found {
			record = Record{Key: key, Fingerprint: fingerprint}
		}
		payload, err := json.Marshal(completeRecord(record, resp, now, ttl))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		err := s.client.Watch(ctx, save, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("idempotency: redis save: %w", err)
		}
		return nil
	}
	return errors.New("idempotency: redis save contended")
}

// Release deletes the reservation so the client may retry.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping checks connectivity for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, src redisGetter, redisKey string) (Record, bool, error) {
	raw, err := src.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return "idempotency:" + recordID(key)
	}
	return fmt.Sprintf("%s:idempotency:%s", s.prefix, recordID(key))
}
