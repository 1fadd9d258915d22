package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/payrecon/internal/analytics/types"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox/payloads"
)

type purchaseRecordedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newPurchaseRecordedHandler(writer Writer, logg *logger.Logger) Handler {
	return &purchaseRecordedHandler{writer: writer, logg: logg}
}

func (h *purchaseRecordedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.PurchaseRecordedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row, err := baseRow(envelope, event.UserID.String(), event.PurchasedAt, event)
	if err != nil {
		return err
	}
	row.PaymentID = stringPtr(event.PaymentID.String())
	row.ProductType = stringPtr(string(event.ProductType))
	row.ProductID = stringPtr(event.ProductID.String())
	cents := event.PriceInCents
	row.AmountCents = &cents

	logCtx := h.logg.WithField(ctx, "purchase_id", event.PurchaseID)
	if err := h.writer.InsertBillingEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert billing event row", err)
		return err
	}
	return nil
}
