package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/garage-pos/settlement/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore implements Store backed by Google Cloud Firestore.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a Firestore-backed idempotency store sharing the store provider.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		provider:   provider,
		collection: defaultCollection,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Reserve ensures the key is uniquely associated with the fingerprint and returns any stored response.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !pfirestore.IsNotFound(pfirestore.WrapError("idempotency.get", err)) {
			return err
		}
		if err == nil {
			var stored firestoreRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if stored.ExpiresAt.IsZero() || now.Before(stored.ExpiresAt) {
				result, err = reservationFor(stored.toRecord(), fingerprint)
				return err
			}
		}

		record := pendingRecord(key, fingerprint, now, ttl)
		if err := tx.Set(ref, fromRecord(record)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: record}
		return nil
	})
	return result, err
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}

	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := Record{Key: key, Fingerprint: fingerprint}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var stored firestoreRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if stored.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record = stored.toRecord()
		case !pfirestore.IsNotFound(pfirestore.WrapError("idempotency.get", err)):
			return err
		}
		return tx.Set(ref, fromRecord(completeRecord(record, resp, now, ttl)))
	})
}

// CleanupExpired removes expired idempotency records up to the provided limit.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultCleanupBatch
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	docs, err := client.Collection(s.collection).Where("expires_at", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	bw := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	bw.End()
	return len(docs), nil
}

// Release removes the reservation to allow callers to retry.
func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	if pfirestore.IsNotFound(pfirestore.WrapError("idempotency.release", err)) {
		return nil
	}
	return err
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(recordID(key)), nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
