package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Source statuses reported by the gateway.
const (
	SourceStatusAvailable = "AVAILABLE"
	SourceStatusPending   = "PENDING"
)

const paymentSourceTypeCard = "CARD"

// ID is a gateway identifier that may arrive as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Int64 returns the numeric form of the id when it has one.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// CustomerData is the optional payer block attached to transactions.
type CustomerData struct {
	FullName    string `json:"full_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	LegalID     string `json:"legal_id,omitempty"`
	LegalIDType string `json:"legal_id_type,omitempty"`
}

// PaymentSource is a reusable card token registered with the gateway.
type PaymentSource struct {
	ID     ID     `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Token  string `json:"token"`
}

// Available reports whether the source can be charged.
func (p PaymentSource) Available() bool {
	return strings.EqualFold(p.Status, SourceStatusAvailable)
}

// Transaction is the gateway view of a charge.
type Transaction struct {
	ID                ID            `json:"id"`
	Reference         string        `json:"reference"`
	AmountInCents     int64         `json:"amount_in_cents"`
	Currency          string        `json:"currency"`
	Status            string        `json:"status"`
	StatusMessage     string        `json:"status_message,omitempty"`
	CustomerEmail     string        `json:"customer_email"`
	PaymentMethodType string        `json:"payment_method_type"`
	PaymentSourceID   ID            `json:"payment_source_id"`
	CustomerData      *CustomerData `json:"customer_data,omitempty"`
}

// ChargeRequest describes an immediate charge against a payment source.
type ChargeRequest struct {
	PaymentSourceID ID
	AmountInCents   int64
	Currency        string
	Reference       string
	CustomerEmail   string
	Installments    int
}

type createSourceRequest struct {
	Type            string `json:"type"`
	Token           string `json:"token"`
	CustomerEmail   string `json:"customer_email"`
	AcceptanceToken string `json:"acceptance_token"`
}

type chargeRequest struct {
	AmountInCents   int64         `json:"amount_in_cents"`
	Currency        string        `json:"currency"`
	CustomerEmail   string        `json:"customer_email"`
	PaymentMethod   paymentMethod `json:"payment_method"`
	Reference       string        `json:"reference"`
	PaymentSourceID any           `json:"payment_source_id"`
	Signature       string        `json:"signature"`
}

type paymentMethod struct {
	Installments int `json:"installments"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type apiError struct {
	Error struct {
		Type     string          `json:"type"`
		Reason   string          `json:"reason"`
		Messages json.RawMessage `json:"messages"`
	} `json:"error"`
}

// wireValue sends numeric ids as JSON numbers, which is what the gateway issues.
func (id ID) wireValue() any {
	if n, ok := id.Int64(); ok {
		return n
	}
	return string(id)
}
