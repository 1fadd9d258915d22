package registry

import (
	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/angelmondragon/payrecon/pkg/outbox/payloads"
)

type catalogEntry struct {
	aggregate enums.OutboxAggregateType
	payload   func() any
}

// billingCatalog is every event the billing engine emits, keyed by type.
// Producers and consumers both build from it.
var billingCatalog = func() map[enums.OutboxEventType]catalogEntry {
	catalog := map[enums.OutboxEventType]catalogEntry{
		enums.EventPaymentFinalized: {
			aggregate: enums.AggregatePayment,
			payload:   func() any { return &payloads.PaymentFinalizedEvent{} },
		},
		enums.EventPurchaseRecorded: {
			aggregate: enums.AggregatePurchase,
			payload:   func() any { return &payloads.PurchaseRecordedEvent{} },
		},
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventSubscriptionActivated,
		enums.EventSubscriptionRenewed,
		enums.EventSubscriptionRenewalFailed,
		enums.EventSubscriptionCanceled,
		enums.EventSubscriptionSourceReplaced,
	} {
		catalog[eventType] = catalogEntry{
			aggregate: enums.AggregateSubscription,
			payload:   func() any { return &payloads.SubscriptionEvent{} },
		}
	}
	return catalog
}()
