package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/payrecon/internal/analytics/types"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox/payloads"
)

// subscriptionHandler serves every subscription.* event; the event type
// column tells them apart.
type subscriptionHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newSubscriptionHandler(writer Writer, logg *logger.Logger) Handler {
	return &subscriptionHandler{writer: writer, logg: logg}
}

func (h *subscriptionHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.SubscriptionEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row, err := baseRow(envelope, event.UserID.String(), envelope.OccurredAt, event)
	if err != nil {
		return err
	}
	row.SubscriptionID = stringPtr(event.SubscriptionID.String())
	row.SubscriptionStatus = stringPtr(string(event.Status))
	row.BillingCycle = stringPtr(string(event.BillingCycle))
	row.PaymentReference = stringPtr(event.PaymentReference)
	row.Reason = stringPtr(event.Reason)
	failed := int64(event.FailedChargeAttempts)
	row.FailedAttempts = &failed
	withAmount(&row, event.AmountCents, event.Currency)

	logCtx := h.logg.WithSubscriptionID(ctx, event.SubscriptionID.String())
	if err := h.writer.InsertBillingEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert billing event row", err)
		return err
	}
	return nil
}
