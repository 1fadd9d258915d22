package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/angelmondragon/payrecon/pkg/outbox"
)

// ErrNoDecoder means the consumer has no decoder for an event type at the
// envelope's version.
var ErrNoDecoder = errors.New("no decoder registered")

// Decoder turns an envelope's data into a typed payload.
type Decoder func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry holds payload decoders keyed by event type and envelope
// version, so consumers can keep reading old rows after a payload changes.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]Decoder
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]Decoder)}
}

// NewBillingDecoders registers a JSON decoder for every billing event at the
// current envelope version.
func NewBillingDecoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	for eventType, entry := range billingCatalog {
		reg.Register(eventType, outbox.EnvelopeVersion, jsonDecoder(entry.payload))
	}
	return reg
}

func jsonDecoder(factory func() any) Decoder {
	return func(data json.RawMessage) (any, error) {
		payload := factory()
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[decoderKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder for eventType at version. Envelopes written before
// versioning carry 0 and are read as version 1.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	if version == 0 {
		version = 1
	}
	r.mu.RLock()
	decoder, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload for %s@v%d", eventType, version)
	}
	payload, err := decoder(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s@v%d: %w", eventType, version, err)
	}
	return payload, nil
}
