package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/payrecon/internal/analytics/types"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox/payloads"
)

type paymentFinalizedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newPaymentFinalizedHandler(writer Writer, logg *logger.Logger) Handler {
	return &paymentFinalizedHandler{writer: writer, logg: logg}
}

func (h *paymentFinalizedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.PaymentFinalizedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"payment_reference": event.Reference,
		"payment_status":    event.Status,
	})

	row, err := baseRow(envelope, event.UserID.String(), event.FinalizedAt, event)
	if err != nil {
		return err
	}
	row.PaymentID = stringPtr(event.PaymentID.String())
	row.PaymentReference = stringPtr(event.Reference)
	row.PaymentStatus = stringPtr(string(event.Status))
	row.PaymentMethodType = stringPtr(string(event.PaymentMethodType))
	row.ProductType = stringPtr(string(event.ProductType))
	if event.ProductID != nil {
		row.ProductID = stringPtr(event.ProductID.String())
	}
	withAmount(&row, event.AmountInCents, event.Currency)

	if err := h.writer.InsertBillingEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert billing event row", err)
		return err
	}
	return nil
}
