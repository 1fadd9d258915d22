package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/angelmondragon/payrecon/pkg/outbox/payloads"
)

func TestBillingDecodersCoverCatalog(t *testing.T) {
	reg := NewBillingDecoders()
	for eventType := range billingCatalog {
		if _, err := reg.Decode(eventType, 1, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("decode %s: %v", eventType, err)
		}
	}
}

func TestBillingDecoderReturnsTypedPayload(t *testing.T) {
	reg := NewBillingDecoders()
	out, err := reg.Decode(enums.EventPaymentFinalized, 0, json.RawMessage(`{"reference":"01J0ABC","status":"APPROVED"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	event, ok := out.(*payloads.PaymentFinalizedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", out)
	}
	if event.Reference != "01J0ABC" || event.Status != enums.PaymentStatusApproved {
		t.Fatalf("unexpected payload %+v", event)
	}
}

func TestDecoderRegistryVersioning(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventPaymentFinalized, 2, func(data json.RawMessage) (any, error) {
		return string(data), nil
	})

	if out, err := reg.Decode(enums.EventPaymentFinalized, 2, json.RawMessage(`"v2"`)); err != nil || out != `"v2"` {
		t.Fatalf("unexpected v2 decode %v %v", out, err)
	}
	if _, err := reg.Decode(enums.EventPaymentFinalized, 1, json.RawMessage(`{}`)); !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("expected no decoder for v1, got %v", err)
	}
	if _, err := reg.Decode(enums.EventPaymentFinalized, 2, nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestDecoderWrapsMalformedPayload(t *testing.T) {
	reg := NewBillingDecoders()
	if _, err := reg.Decode(enums.EventPurchaseRecorded, 1, json.RawMessage(`{"purchase_id":`)); err == nil {
		t.Fatal("expected malformed payload error")
	}
}
