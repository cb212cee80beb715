package envelope_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mnemonic-nexus/mnx/internal/envelope"
)

func validEnvelope() envelope.Envelope {
	return envelope.Envelope{
		WorldID: uuid.New(),
		Branch:  "main",
		Kind:    "note.created",
		Payload: json.RawMessage(`{"title":"hi"}`),
		By:      envelope.By{Agent: "test-agent"},
	}
}

func TestEnvelope_Validate_Valid(t *testing.T) {
	err := validEnvelope().Validate()
	assert.NoError(t, err)
}

func TestEnvelope_Validate_MissingWorldID(t *testing.T) {
	e := validEnvelope()
	e.WorldID = uuid.Nil
	assert.Error(t, e.Validate())
}

func TestEnvelope_Validate_MissingBranch(t *testing.T) {
	e := validEnvelope()
	e.Branch = ""
	assert.Error(t, e.Validate())
}

func TestEnvelope_Validate_MissingAgent(t *testing.T) {
	e := validEnvelope()
	e.By.Agent = ""
	assert.Error(t, e.Validate())
}

func TestEnvelope_Validate_KindPattern(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		valid bool
	}{
		{"valid dotted kind", "note.created", true},
		{"valid multi-segment kind", "emo.link.added", true},
		{"missing dot", "notecreated", false},
		{"uppercase", "Note.Created", false},
		{"leading digit", "1note.created", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := validEnvelope()
			e.Kind = tc.kind
			err := e.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEnvelope_Validate_InvalidPayloadJSON(t *testing.T) {
	e := validEnvelope()
	e.Payload = json.RawMessage(`{not json`)
	assert.Error(t, e.Validate())
}

func TestEnvelope_Validate_MissingPayload(t *testing.T) {
	e := validEnvelope()
	e.Payload = nil
	assert.Error(t, e.Validate())
}

func TestEnvelope_Validate_FutureSkew(t *testing.T) {
	e := validEnvelope()
	future := time.Now().UTC().Add(envelope.MaxFutureSkew + time.Minute)
	e.OccurredAt = &future
	assert.Error(t, e.Validate())
}

func TestEnvelope_Validate_WithinSkewTolerance(t *testing.T) {
	e := validEnvelope()
	future := time.Now().UTC().Add(envelope.MaxFutureSkew - time.Second)
	e.OccurredAt = &future
	assert.NoError(t, e.Validate())
}

func TestResolveIdempotencyKey(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		envelope  string
		wantKey   string
		wantError bool
	}{
		{"both empty", "", "", "", false},
		{"header only", "k1", "", "k1", false},
		{"envelope only", "", "k1", "k1", false},
		{"both match", "k1", "k1", "k1", false},
		{"mismatch is an error", "k1", "k2", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, err := envelope.ResolveIdempotencyKey(tc.header, tc.envelope)
			if tc.wantError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.wantKey, key)
		})
	}
}
