package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// OutboxEvent is a billing domain event written in the same transaction as
// the payment, purchase or subscription change it describes. The publisher
// fills PublishedAt, or AttemptCount and LastError on failure.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;index"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// OrderingKey keeps every event of one payment or subscription in order on
// the topic.
func (e OutboxEvent) OrderingKey() string {
	return e.AggregateID.String()
}

// NextAttempt is the attempt number the publisher is about to make.
func (e OutboxEvent) NextAttempt() int {
	return e.AttemptCount + 1
}

// LastAttempt reports whether a failure on the next attempt uses up maxAttempts.
func (e OutboxEvent) LastAttempt(maxAttempts int) bool {
	return maxAttempts > 0 && e.NextAttempt() >= maxAttempts
}
