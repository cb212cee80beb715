// Package envelope defines the immutable event envelope accepted by the
// Gateway (spec §3) and the validation rules applied before it is ever
// handed to the event store.
package envelope

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// kindPattern matches a dotted namespace event kind, e.g. "note.created",
// "emo.updated". At least one dot is required.
var kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// By carries the required audit principal for an event.
type By struct {
	Agent string `json:"agent"`
}

// Envelope is the client-submitted, immutable event record. Server-enriched
// fields (EventID, GlobalSeq, ReceivedAt, PayloadHash) are added on append
// and are not part of the client payload.
type Envelope struct {
	WorldID        uuid.UUID       `json:"world_id"`
	Branch         string          `json:"branch"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	By             By              `json:"by"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`
	Version        int             `json:"version"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Enriched is the full record returned to clients and delivered to
// projectors: the client envelope plus everything the Gateway assigns on
// commit.
type Enriched struct {
	Envelope
	EventID     uuid.UUID `json:"event_id"`
	GlobalSeq   int64     `json:"global_seq"`
	ReceivedAt  time.Time `json:"received_at"`
	PayloadHash string    `json:"payload_hash"`
}

// MaxFutureSkew bounds how far occurred_at may lie in the future relative to
// the server clock (spec §4.2 rule 2).
const MaxFutureSkew = 5 * time.Minute

// Validate applies the Gateway's required-field and format rules (spec
// §4.2). It does not touch the database; idempotency-key uniqueness is
// enforced by the event store's partial unique index, not here.
func (e Envelope) Validate() error {
	if e.WorldID == uuid.Nil {
		return fmt.Errorf("world_id is required and must be a valid UUID")
	}
	if e.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if e.By.Agent == "" {
		return fmt.Errorf("by.agent is required")
	}
	if !kindPattern.MatchString(e.Kind) {
		return fmt.Errorf("kind %q does not match required pattern %s", e.Kind, kindPattern.String())
	}
	if e.Payload == nil {
		return fmt.Errorf("payload is required")
	}
	if !json.Valid(e.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if e.OccurredAt != nil {
		skew := e.OccurredAt.UTC().Sub(time.Now().UTC())
		if skew > MaxFutureSkew {
			return fmt.Errorf("occurred_at is more than %s in the future", MaxFutureSkew)
		}
	}
	return nil
}

// ResolveIdempotencyKey reconciles the header-supplied and envelope-supplied
// idempotency keys. The spec permits both and requires them to match when
// both appear but is silent on precedence; this implementation's documented
// choice (spec §9 Open Questions) is: the header takes precedence when the
// envelope omits the key, both must be byte-equal when both are present, and
// a mismatch is a validation error surfaced as 400 rather than silently
// preferring one.
func ResolveIdempotencyKey(headerKey, envelopeKey string) (string, error) {
	switch {
	case headerKey == "" && envelopeKey == "":
		return "", nil
	case headerKey == "":
		return envelopeKey, nil
	case envelopeKey == "":
		return headerKey, nil
	case headerKey == envelopeKey:
		return headerKey, nil
	default:
		return "", fmt.Errorf("idempotency key mismatch: header=%q envelope=%q", headerKey, envelopeKey)
	}
}
