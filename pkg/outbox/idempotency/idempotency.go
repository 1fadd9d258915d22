// Package idempotency remembers which deliveries a consumer has already
// applied, so at-least-once transports (Pub/Sub, gateway webhooks) become
// effectively-once for billing side effects.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/payrecon/pkg/redis"
)

// Ledger marks delivery ids for one consumer. Keys look like
// payrecon:idempotency:<consumer>:<id> and expire after the ledger TTL; a
// zero TTL keeps them forever.
type Ledger struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
	now      func() time.Time
}

func NewLedger(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Ledger, error) {
	consumer = strings.TrimSpace(consumer)
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Ledger{store: store, consumer: consumer, ttl: ttl, now: time.Now}, nil
}

// Consumer is the scope the ledger writes under.
func (l *Ledger) Consumer() string { return l.consumer }

// CheckAndMark reports whether id was already recorded. When it was not, the
// id is recorded with the time of the first delivery as its value.
func (l *Ledger) CheckAndMark(ctx context.Context, id string) (bool, error) {
	key, err := l.key(id)
	if err != nil {
		return false, err
	}
	set, err := l.store.SetNX(ctx, key, l.now().UTC().Format(time.RFC3339Nano), l.ttl)
	if err != nil {
		return false, fmt.Errorf("mark %s delivery: %w", l.consumer, err)
	}
	return !set, nil
}

// Delete forgets id so the next delivery is applied again. Consumers call it
// when processing failed after the mark was taken.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	key, err := l.key(id)
	if err != nil {
		return err
	}
	if err := l.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s delivery: %w", l.consumer, err)
	}
	return nil
}

func (l *Ledger) key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("delivery id is required")
	}
	return l.store.IdempotencyKey(l.consumer, id), nil
}
