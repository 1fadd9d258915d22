package webhooks

import (
	"bytes"
	"encoding/json"
	"strings"

	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
)

// EventTransactionUpdated is the only event type that changes payment state.
const EventTransactionUpdated = "transaction.updated"

// Event is the processor's webhook body.
type Event struct {
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	Environment string          `json:"environment"`
	Signature   EventSignature  `json:"signature"`
	Timestamp   int64           `json:"timestamp"`
	SentAt      string          `json:"sent_at"`
}

// EventSignature lists the signed data paths and their checksum.
type EventSignature struct {
	Properties []string `json:"properties"`
	Checksum   string   `json:"checksum"`
}

type eventData struct {
	Transaction *gateway.Transaction `json:"transaction"`
}

// ParseEvent decodes and validates a webhook body. Any missing required field
// is a validation error.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook body")
	}
	var missing []string
	if strings.TrimSpace(event.Event) == "" {
		missing = append(missing, "event")
	}
	if len(bytes.TrimSpace(event.Data)) == 0 || bytes.Equal(bytes.TrimSpace(event.Data), []byte("null")) {
		missing = append(missing, "data")
	}
	if len(event.Signature.Properties) == 0 {
		missing = append(missing, "signature.properties")
	}
	if strings.TrimSpace(event.Signature.Checksum) == "" {
		missing = append(missing, "signature.checksum")
	}
	if event.Timestamp == 0 {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event is incomplete").
			WithDetails(map[string]any{"missing": missing})
	}
	return &event, nil
}

// Transaction extracts data.transaction.
func (e *Event) Transaction() (*gateway.Transaction, error) {
	var data eventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction payload")
	}
	if data.Transaction == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "data.transaction is required").
			WithDetails(map[string]any{"missing": []string{"data.transaction"}})
	}
	txn := data.Transaction
	if txn.ID == "" || strings.TrimSpace(txn.Reference) == "" || strings.TrimSpace(txn.Status) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id, reference and status are required")
	}
	return txn, nil
}
