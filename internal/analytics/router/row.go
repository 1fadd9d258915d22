package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/payrecon/internal/analytics/types"
	analyticswriter "github.com/angelmondragon/payrecon/internal/analytics/writer"
	"github.com/angelmondragon/payrecon/pkg/money"
)

// baseRow fills the columns every billing event shares.
func baseRow(envelope types.Envelope, userID string, occurred time.Time, payload any) (types.BillingEventRow, error) {
	if occurred.IsZero() {
		occurred = envelope.OccurredAt
	}
	payloadJSON, err := analyticswriter.EncodeJSON(payload)
	if err != nil {
		return types.BillingEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}
	return types.BillingEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    occurred.UTC(),
		UserID:        userID,
		ActorSource:   stringPtr(envelope.ActorSource),
		Payload:       payloadJSON,
	}, nil
}

func withAmount(row *types.BillingEventRow, cents int64, currency string) {
	row.AmountCents = &cents
	major := money.MajorFloat(cents)
	row.AmountMajor = &major
	row.Currency = stringPtr(strings.ToUpper(currency))
}

// stringPtr returns a trimmed pointer or nil when the input is empty.
func stringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
