package enums

import "strings"

// PaymentMethodType is the processor's payment method label. Unknown labels
// are kept verbatim since the processor adds methods over time.
type PaymentMethodType string

const (
	PaymentMethodCard                PaymentMethodType = "CARD"
	PaymentMethodNequi               PaymentMethodType = "NEQUI"
	PaymentMethodPSE                 PaymentMethodType = "PSE"
	PaymentMethodBancolombiaTransfer PaymentMethodType = "BANCOLOMBIA_TRANSFER"
)

// String implements fmt.Stringer.
func (m PaymentMethodType) String() string {
	return string(m)
}

// IsRecurringCapable reports whether the method yields a reusable payment source.
func (m PaymentMethodType) IsRecurringCapable() bool {
	return m == PaymentMethodCard
}

// NormalizePaymentMethodType upper-cases and trims processor input.
func NormalizePaymentMethodType(value string) PaymentMethodType {
	return PaymentMethodType(strings.ToUpper(strings.TrimSpace(value)))
}
