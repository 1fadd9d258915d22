package validators

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
)

type planRequest struct {
	ProductType  string `json:"product_type" validate:"required,product_type"`
	BillingCycle string `json:"billing_cycle,omitempty" validate:"omitempty,billing_cycle"`
	Email        string `json:"customer_email" validate:"required,email"`
}

func decode(t *testing.T, body string) (planRequest, error) {
	t.Helper()
	var dest planRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dest, DecodeJSONBody(req, &dest)
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	got, err := decode(t, `{"product_type":"plan","billing_cycle":"annual","customer_email":"payer@example.com"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ProductType != "plan" || got.BillingCycle != "annual" {
		t.Fatalf("unexpected decode %+v", got)
	}
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	_, err := decode(t, `{"product_type":"BUNDLE","billing_cycle":"weekly","customer_email":"nope"}`)
	var typed *pkgerrors.Error
	if !errors.As(err, &typed) || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", typed.Details())
	}
	for _, field := range []string{"product_type", "billing_cycle", "customer_email"} {
		if details[field] == "" {
			t.Fatalf("expected message for %s, got %v", field, details)
		}
	}
}

func TestDecodeJSONBodyRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"product_type":"COURSE","customer_email":"a@b.co","amount_in_cents":1}`,
		"two objects":   `{"product_type":"COURSE","customer_email":"a@b.co"}{}`,
		"too large":     `{"product_type":"` + strings.Repeat("x", maxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		if _, err := decode(t, body); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	if got := SanitizeString("  pago  ", 0); got != "pago" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	if got := SanitizeString("año", 2); got != "a" {
		t.Fatalf("expected cut before multi-byte rune, got %q", got)
	}
}

func TestParseQueryEnum(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=approved", nil)
	status, err := ParseQueryEnum(req, "status", enums.ParsePaymentStatus)
	if err != nil || status != enums.PaymentStatusApproved {
		t.Fatalf("expected APPROVED, got %q err=%v", status, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?status=lost", nil)
	if _, err := ParseQueryEnum(req, "status", enums.ParsePaymentStatus); err == nil {
		t.Fatal("expected error for unknown status")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if status, err := ParseQueryEnum(req, "status", enums.ParsePaymentStatus); err != nil || status != "" {
		t.Fatalf("expected zero value when absent, got %q err=%v", status, err)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	if _, err := ParseQueryInt(req, "limit", 25, 1, 100); err == nil {
		t.Fatal("expected out of range error")
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if v, err := ParseQueryInt(req, "limit", 25, 1, 100); err != nil || v != 25 {
		t.Fatalf("expected default, got %d err=%v", v, err)
	}
}

func TestParseQueryTime(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=2026-03-01&to=2026-03-02T10:00:00-05:00&bad=yesterday", nil)

	from, err := ParseQueryTime(req, "from")
	if err != nil || !from.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v err=%v", from, err)
	}
	to, err := ParseQueryTime(req, "to")
	if err != nil || !to.Equal(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)) || to.Location() != time.UTC {
		t.Fatalf("unexpected to %v err=%v", to, err)
	}
	if _, err := ParseQueryTime(req, "bad"); err == nil {
		t.Fatal("expected error for free text")
	}
	if missing, err := ParseQueryTime(req, "since"); err != nil || missing != nil {
		t.Fatalf("expected nil for absent parameter, got %v err=%v", missing, err)
	}
}
