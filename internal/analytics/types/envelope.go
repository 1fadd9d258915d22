package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// Envelope is a billing domain event as received from the domain topic.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	Version       int                       `json:"version"`
	ActorSource   string                    `json:"actor_source,omitempty"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}
