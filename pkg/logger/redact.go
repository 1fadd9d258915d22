package logger

import (
	"strings"
)

const redacted = "[REDACTED]"

// secretKeys never reach the log sink. Card and acceptance tokens are
// single-use but still let a holder charge the payer.
var secretKeys = map[string]struct{}{
	"card_token":       {},
	"acceptance_token": {},
	"private_key":      {},
	"integrity_secret": {},
	"events_secret":    {},
	"authorization":    {},
	"checksum":         {},
	"signature":        {},
	"password":         {},
	"cvc":              {},
	"number":           {},
}

// emailKeys are logged with the local part masked so support can still
// correlate a payer by domain and first letter.
var emailKeys = map[string]struct{}{
	"email":          {},
	"customer_email": {},
	"payer_email":    {},
}

// Redact returns the value to log for key. Nested maps, such as decoded
// webhook bodies, are redacted key by key.
func Redact(key string, value any) any {
	key = strings.ToLower(key)
	if _, ok := secretKeys[key]; ok {
		return redacted
	}
	if _, ok := emailKeys[key]; ok {
		if s, isString := value.(string); isString {
			return maskEmail(s)
		}
	}
	if nested, ok := value.(map[string]any); ok {
		out := make(map[string]any, len(nested))
		for k, v := range nested {
			out[k] = Redact(k, v)
		}
		return out
	}
	return value
}

func maskEmail(address string) string {
	local, domain, ok := strings.Cut(address, "@")
	if !ok || local == "" {
		return redacted
	}
	return local[:1] + "***@" + domain
}
