package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeIdempotencyStore struct {
	keys   map[string]string
	setErr error
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: map[string]string{}}
}

func (f *fakeIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	return f.keys[key], nil
}

func (f *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = "1"
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "ledger:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, time.Hour); err == nil {
		t.Fatalf("expected error for missing store")
	}
	if _, err := NewManager(newFakeIdempotencyStore(), -time.Second); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
}

func TestCheckAndMarkProcessed(t *testing.T) {
	store := newFakeIdempotencyStore()
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	eventID := uuid.New()

	already, err := manager.CheckAndMarkProcessed(context.Background(), "referral", eventID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if already {
		t.Fatalf("first check should not report processed")
	}

	already, err = manager.CheckAndMarkProcessed(context.Background(), "referral", eventID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !already {
		t.Fatalf("second check should report processed")
	}
}

func TestCheckRequiresConsumerAndEventID(t *testing.T) {
	manager, _ := NewManager(newFakeIdempotencyStore(), time.Hour)

	if _, err := manager.CheckAndMarkProcessed(context.Background(), "", uuid.New()); err == nil {
		t.Fatalf("expected error for empty consumer")
	}
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "referral", uuid.Nil); err == nil {
		t.Fatalf("expected error for nil event id")
	}
}

func TestDeleteReleasesKey(t *testing.T) {
	store := newFakeIdempotencyStore()
	manager, _ := NewManager(store, time.Hour)
	eventID := uuid.New()

	if _, err := manager.CheckAndMarkProcessed(context.Background(), "referral", eventID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := manager.Delete(context.Background(), "referral", eventID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	already, err := manager.CheckAndMarkProcessed(context.Background(), "referral", eventID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if already {
		t.Fatalf("expected key to be reusable after delete")
	}
}

func TestCheckPropagatesStoreErrors(t *testing.T) {
	store := newFakeIdempotencyStore()
	store.setErr = errors.New("redis down")
	manager, _ := NewManager(store, time.Hour)

	if _, err := manager.CheckAndMarkProcessed(context.Background(), "referral", uuid.New()); err == nil {
		t.Fatalf("expected store error to propagate")
	}
}
