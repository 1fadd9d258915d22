package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is written on every new envelope. Bump it together with a
// decoder for the new payload shape.
const EnvelopeVersion = 1

// Actor sources.
const (
	SourceAPI       = "api"
	SourceWebhook   = "gateway_webhook"
	SourceScheduler = "scheduler"
)

// ActorRef records what caused a billing change: a payer acting through the
// API, a gateway webhook, or a scheduled job.
type ActorRef struct {
	UserID *uuid.UUID `json:"userId,omitempty"`
	Source string     `json:"source"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

type actorKey struct{}

// WithActor tags ctx so events emitted under it carry actor.
func WithActor(ctx context.Context, actor ActorRef) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// WithUserActor tags ctx with a payer acting through the API.
func WithUserActor(ctx context.Context, userID uuid.UUID) context.Context {
	return WithActor(ctx, ActorRef{UserID: &userID, Source: SourceAPI})
}

func ActorFromContext(ctx context.Context) *ActorRef {
	if ctx == nil {
		return nil
	}
	actor, ok := ctx.Value(actorKey{}).(ActorRef)
	if !ok {
		return nil
	}
	return &actor
}
