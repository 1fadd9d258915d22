package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/payrecon/internal/analytics/router"
	"github.com/angelmondragon/payrecon/internal/analytics/types"
	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/angelmondragon/payrecon/pkg/outbox/registry"
)

// ConsumerName scopes the delivery ledger used by the worker.
const ConsumerName = "billing-analytics"

// Handler processes one billing envelope.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type deliveryLedger interface {
	CheckAndMark(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// delivery is what happens to a message after processing.
type delivery int

const (
	ack delivery = iota
	redeliver
)

// Service consumes billing events from the analytics subscription. Each
// event id is handled at most once per idempotency TTL; handler calls are
// serialized because the BigQuery writer buffers rows.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	seen         deliveryLedger
	logg         *logger.Logger
	mu           sync.Mutex
}

func NewService(subscription *gcppubsub.Subscriber, handler Handler, seen deliveryLedger, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case seen == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, seen: seen, logg: logg}, nil
}

// Run consumes messages until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) == redeliver {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process acks anything that can never succeed (bad envelopes, untracked
// types, unknown payload versions) and redelivers transient failures.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) delivery {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := decodeEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "invalid billing event envelope")
		return ack
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"version":        envelope.Version,
	})

	already, err := s.seen.CheckAndMark(ctx, envelope.EventID)
	if err != nil {
		s.logg.Error(ctx, "idempotency check failed", err)
		return redeliver
	}
	if already {
		s.logg.Info(ctx, "billing event already recorded")
		return ack
	}

	s.mu.Lock()
	err = s.handler.Handle(ctx, *envelope)
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logg.Info(ctx, "billing event recorded")
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(ctx, "billing event type not tracked")
		return ack
	case errors.Is(err, registry.ErrNoDecoder):
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "billing event version not understood")
		return ack
	}

	s.logg.Error(ctx, "billing event handler failed", err)
	if delErr := s.seen.Delete(ctx, envelope.EventID); delErr != nil {
		s.logg.Error(ctx, "failed to release idempotency marker", delErr)
	}
	return redeliver
}

// decodeEnvelope combines the stored outbox envelope in the message body
// with the routing attributes set by the publisher.
func decodeEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	attr := func(key string) string { return strings.TrimSpace(msg.Attributes[key]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attr("event_id")
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			occurredAt = parsed
		}
	}

	envelope := &types.Envelope{
		EventID:       eventID,
		Version:       stored.Version,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}
	if stored.Actor != nil {
		envelope.ActorSource = stored.Actor.Source
	}
	return envelope, nil
}
