package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/threadline-backend/pkg/enums"
)

// ErrNoDecoder is returned for an event type/version pair nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

// Decoder turns a raw envelope data field into a typed payload.
type Decoder func(payload json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

func (k decoderKey) String() string {
	return fmt.Sprintf("%s@v%d", k.eventType, k.version)
}

// DecoderRegistry maps order event types and envelope versions to payload decoders.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]Decoder
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]Decoder)}
}

// Register adds a decoder. Registering the same type and version twice is an error.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder Decoder) error {
	key := decoderKey{eventType: eventType, version: version}
	switch {
	case !eventType.IsValid():
		return fmt.Errorf("register %s: unknown event type", key)
	case version < 1:
		return fmt.Errorf("register %s: version must be positive", key)
	case decoder == nil:
		return fmt.Errorf("register %s: decoder is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[key]; exists {
		return fmt.Errorf("register %s: already registered", key)
	}
	r.decoders[key] = decoder
	return nil
}

// Decode runs the decoder for eventType/version. Missing registrations wrap ErrNoDecoder.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	key := decoderKey{eventType: eventType, version: version}
	r.mu.RLock()
	decoder, ok := r.decoders[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoDecoder, key)
	}
	return decoder(payload)
}

// JSON decodes the payload into a fresh *T. A missing or null payload is rejected.
func JSON[T any]() Decoder {
	return func(payload json.RawMessage) (any, error) {
		trimmed := bytes.TrimSpace(payload)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return nil, errors.New("payload is empty")
		}
		out := new(T)
		if err := json.Unmarshal(trimmed, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
