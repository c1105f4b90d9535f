package outbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeDefaultsLegacyVersion(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event_id":"evt-1","data":{"order_id":"o-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.Equal(t, "evt-1", env.EventID)
	assert.True(t, env.HasData())
}

func TestDecodeEnvelopeRejectsNewerVersion(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"version":2,"event_id":"evt-1","data":{}}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestEnvelopeHasData(t *testing.T) {
	assert.False(t, PayloadEnvelope{}.HasData())
	assert.False(t, PayloadEnvelope{Data: json.RawMessage(" null ")}.HasData())
	assert.True(t, PayloadEnvelope{Data: json.RawMessage(`{}`)}.HasData())
}
