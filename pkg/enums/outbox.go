package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregatePayment      OutboxAggregateType = "payment"
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregatePurchase     OutboxAggregateType = "purchase"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
	AggregateSubscription,
	AggregatePurchase,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a billing domain event.
type OutboxEventType string

const (
	EventPaymentFinalized           OutboxEventType = "payment.finalized"
	EventPurchaseRecorded           OutboxEventType = "purchase.recorded"
	EventSubscriptionActivated      OutboxEventType = "subscription.activated"
	EventSubscriptionRenewed        OutboxEventType = "subscription.renewed"
	EventSubscriptionRenewalFailed  OutboxEventType = "subscription.renewal_failed"
	EventSubscriptionCanceled       OutboxEventType = "subscription.canceled"
	EventSubscriptionSourceReplaced OutboxEventType = "subscription.source_replaced"
)

var validEventTypes = []OutboxEventType{
	EventPaymentFinalized,
	EventPurchaseRecorded,
	EventSubscriptionActivated,
	EventSubscriptionRenewed,
	EventSubscriptionRenewalFailed,
	EventSubscriptionCanceled,
	EventSubscriptionSourceReplaced,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
