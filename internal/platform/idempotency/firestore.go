package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore implements Store on a Firestore collection. Reservation is a
// transactional read-then-create, so two racing requests cannot both own a key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider, collection: defaultCollection}
}

type recordDoc struct {
	Key         string    `firestore:"key"`
	Fingerprint string    `firestore:"fingerprint"`
	Completed   bool      `firestore:"completed"`
	Status      int       `firestore:"status"`
	ContentType string    `firestore:"contentType"`
	Body        []byte    `firestore:"body"`
	CreatedAt   time.Time `firestore:"createdAt"`
	ExpiresAt   time.Time `firestore:"expiresAt"`
}

func (d recordDoc) toRecord() Record {
	return Record(d)
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, Record{}, err
	}
	ref := client.Collection(s.collection).Doc(documentID(key))

	var (
		state  State
		record Record
	)
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return pfirestore.WrapError("idempotency.reserve", err)
		}
		if err == nil {
			var doc recordDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if existing := doc.toRecord(); !existing.expired(now) {
				record = existing
				state, err = classify(existing, fingerprint)
				return err
			}
		}
		record = pendingRecord(key, fingerprint, now, ttl)
		state = StateNew
		return tx.Set(ref, recordDoc(record))
	})
	return state, record, err
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	record := pendingRecord(key, fingerprint, now, ttl)
	record.Completed = true
	record.Status = resp.Status
	record.ContentType = resp.ContentType
	record.Body = resp.Body
	_, err = client.Collection(s.collection).Doc(documentID(key)).Set(ctx, recordDoc(record))
	return pfirestore.WrapError("idempotency.complete", err)
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(s.collection).Doc(documentID(key)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("idempotency.release", err)
}
