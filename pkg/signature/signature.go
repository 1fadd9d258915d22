// Package signature builds outbound integrity signatures for payment requests
// and verifies the checksums attached to inbound gateway events.
package signature

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/payrecon/pkg/config"
)

// Signer holds the two shared secrets issued by the gateway.
type Signer struct {
	integritySecret string
	eventsSecret    string
}

// NewSigner builds a signer from the gateway configuration.
func NewSigner(cfg config.GatewayConfig) *Signer {
	return &Signer{
		integritySecret: cfg.IntegritySecret,
		eventsSecret:    cfg.EventsSecret,
	}
}

// IntegritySignature returns sha256(reference + amount + currency [+ expiration] + secret)
// as lowercase hex. A nil expiration is omitted from the digest input.
func (s *Signer) IntegritySignature(reference string, amountInCents int64, currency string, expiration *time.Time) string {
	var b strings.Builder
	b.WriteString(reference)
	b.WriteString(strconv.FormatInt(amountInCents, 10))
	b.WriteString(currency)
	if expiration != nil {
		b.WriteString(expiration.UTC().Format(time.RFC3339Nano))
	}
	b.WriteString(s.integritySecret)
	return digest(b.String())
}

// VerifyWebhookChecksum resolves each dotted property path under data in the
// order given, concatenates the values, appends timestamp and the events
// secret, and compares the digest with received case-insensitively.
// Missing properties contribute an empty string.
func (s *Signer) VerifyWebhookChecksum(properties []string, data json.RawMessage, timestamp int64, received string) bool {
	received = strings.TrimSpace(received)
	if received == "" || len(properties) == 0 {
		return false
	}
	expected, err := s.WebhookChecksum(properties, data, timestamp)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(received))) == 1
}

// WebhookChecksum computes the checksum the gateway is expected to send for
// the given signed properties.
func (s *Signer) WebhookChecksum(properties []string, data json.RawMessage, timestamp int64) (string, error) {
	tree, err := decodeTree(data)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, path := range properties {
		b.WriteString(render(resolve(tree, path)))
	}
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(s.eventsSecret)
	return digest(b.String()), nil
}

func decodeTree(data json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode signed data: %w", err)
	}
	return tree, nil
}

func resolve(tree map[string]any, path string) any {
	var current any = tree
	for _, part := range strings.Split(strings.TrimSpace(path), ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = node[part]
		if !ok {
			return nil
		}
	}
	return current
}

func render(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func digest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
