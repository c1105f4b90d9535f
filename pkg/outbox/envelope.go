package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the newest envelope layout this service writes and reads.
const EnvelopeVersion = 1

// ErrUnsupportedVersion marks an envelope written by a newer release.
var ErrUnsupportedVersion = errors.New("unsupported envelope version")

// ActorRef is the shopper or admin whose request produced the order event.
type ActorRef struct {
	UserID *uuid.UUID `json:"user_id,omitempty"`
	Role   string     `json:"role,omitempty"`
}

// PayloadEnvelope wraps every order event. It is the outbox_events.payload column and,
// unchanged, the Pub/Sub message body read by the analytics worker.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// HasData reports whether the envelope carries a non-null payload.
func (e PayloadEnvelope) HasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// DecodeEnvelope parses a stored envelope. Rows written before versioning carry no
// version and are read as version 1; versions newer than EnvelopeVersion are refused
// so an old binary never misreads a payload it does not understand.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case envelope.Version == 0:
		envelope.Version = EnvelopeVersion
	case envelope.Version < 0 || envelope.Version > EnvelopeVersion:
		return PayloadEnvelope{}, fmt.Errorf("%w %d", ErrUnsupportedVersion, envelope.Version)
	}
	return envelope, nil
}
