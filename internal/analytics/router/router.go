package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/payrecon/internal/analytics/types"
	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox/registry"
)

var ErrUnsupportedEventType = errors.New("unsupported billing event type")

// Writer stores billing event rows.
type Writer interface {
	InsertBillingEvent(ctx context.Context, row types.BillingEventRow) error
}

// Handler receives an envelope plus its decoded payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

// Router decodes billing envelopes by type and version and dispatches them
// to one handler per event type.
type Router struct {
	handlers map[enums.OutboxEventType]Handler
	decoders *registry.DecoderRegistry
	logg     *logger.Logger
}

// NewRouter wires the default handlers; overrides replace the handler for
// an already supported event type.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	handlers := map[enums.OutboxEventType]Handler{
		enums.EventPaymentFinalized: newPaymentFinalizedHandler(writer, logg),
		enums.EventPurchaseRecorded: newPurchaseRecordedHandler(writer, logg),
	}
	subscriptionHandler := newSubscriptionHandler(writer, logg)
	for _, eventType := range []enums.OutboxEventType{
		enums.EventSubscriptionActivated,
		enums.EventSubscriptionRenewed,
		enums.EventSubscriptionRenewalFailed,
		enums.EventSubscriptionCanceled,
		enums.EventSubscriptionSourceReplaced,
	} {
		handlers[eventType] = subscriptionHandler
	}

	for event, custom := range overrides {
		if _, ok := handlers[event]; ok && custom != nil {
			handlers[event] = custom
		}
	}

	return &Router{
		handlers: handlers,
		decoders: registry.NewBillingDecoders(),
		logg:     logg,
	}, nil
}

// Handle decodes the payload for the envelope's type and version and
// dispatches it.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	handler, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload, err := r.decoders.Decode(envelope.EventType, envelope.Version, envelope.Payload)
	if err != nil {
		return err
	}
	return handler.Handle(ctx, envelope, payload)
}
