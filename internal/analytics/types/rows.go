package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// BillingEventRow mirrors the billing_events BigQuery schema. One row per
// domain event; columns not relevant to an event type stay NULL.
type BillingEventRow struct {
	EventID            string             `bigquery:"event_id"`
	EventType          string             `bigquery:"event_type"`
	AggregateType      string             `bigquery:"aggregate_type"`
	AggregateID        string             `bigquery:"aggregate_id"`
	OccurredAt         time.Time          `bigquery:"occurred_at"`
	UserID             string             `bigquery:"user_id"`
	PaymentID          *string            `bigquery:"payment_id"`
	PaymentReference   *string            `bigquery:"payment_reference"`
	PaymentStatus      *string            `bigquery:"payment_status"`
	PaymentMethodType  *string            `bigquery:"payment_method_type"`
	ProductType        *string            `bigquery:"product_type"`
	ProductID          *string            `bigquery:"product_id"`
	SubscriptionID     *string            `bigquery:"subscription_id"`
	SubscriptionStatus *string            `bigquery:"subscription_status"`
	BillingCycle       *string            `bigquery:"billing_cycle"`
	FailedAttempts     *int64             `bigquery:"failed_charge_attempts"`
	AmountCents        *int64             `bigquery:"amount_cents"`
	AmountMajor        *float64           `bigquery:"amount_major"`
	Currency           *string            `bigquery:"currency"`
	Reason             *string            `bigquery:"reason"`
	ActorSource        *string            `bigquery:"actor_source"`
	Payload            cbigquery.NullJSON `bigquery:"payload"`
}

// BillingEventsPartitionField is the column billing_events is day-partitioned on.
const BillingEventsPartitionField = "occurred_at"

// BillingEventSchema is the table schema used when billing_events is created
// by the worker. It must stay in step with BillingEventRow.
func BillingEventSchema() cbigquery.Schema {
	nullable := func(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: t}
	}
	required := func(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: t, Required: true}
	}
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("event_type", cbigquery.StringFieldType),
		required("aggregate_type", cbigquery.StringFieldType),
		required("aggregate_id", cbigquery.StringFieldType),
		required(BillingEventsPartitionField, cbigquery.TimestampFieldType),
		nullable("user_id", cbigquery.StringFieldType),
		nullable("payment_id", cbigquery.StringFieldType),
		nullable("payment_reference", cbigquery.StringFieldType),
		nullable("payment_status", cbigquery.StringFieldType),
		nullable("payment_method_type", cbigquery.StringFieldType),
		nullable("product_type", cbigquery.StringFieldType),
		nullable("product_id", cbigquery.StringFieldType),
		nullable("subscription_id", cbigquery.StringFieldType),
		nullable("subscription_status", cbigquery.StringFieldType),
		nullable("billing_cycle", cbigquery.StringFieldType),
		nullable("failed_charge_attempts", cbigquery.IntegerFieldType),
		nullable("amount_cents", cbigquery.IntegerFieldType),
		nullable("amount_major", cbigquery.FloatFieldType),
		nullable("currency", cbigquery.StringFieldType),
		nullable("reason", cbigquery.StringFieldType),
		nullable("actor_source", cbigquery.StringFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}
