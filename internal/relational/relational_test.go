package relational_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/relational"
)

func enrichedWith(kind string, payload string) envelope.Enriched {
	return envelope.Enriched{
		Envelope: envelope.Envelope{
			WorldID: uuid.New(),
			Branch:  "main",
			Kind:    kind,
			Payload: json.RawMessage(payload),
		},
	}
}

func TestHandlers_CoversEveryRegisteredKind(t *testing.T) {
	l := relational.New()
	handlers := l.Handlers()
	for _, kind := range []string{
		"note.created", "note.updated",
		"tag.added", "tag.removed",
		"link.added", "link.removed",
		"emo.created", "emo.updated", "emo.deleted",
		"emo.link.added", "emo.link.removed",
	} {
		assert.Contains(t, handlers, kind)
	}
}

func TestHandleNoteUpsert_RequiresNoteID(t *testing.T) {
	l := relational.New()
	handler := l.Handlers()["note.created"]
	err := handler(context.Background(), nil, enrichedWith("note.created", `{"title":"t","body":"b"}`))
	assert.Error(t, err)
}

func TestHandleNoteUpsert_MalformedPayload(t *testing.T) {
	l := relational.New()
	handler := l.Handlers()["note.created"]
	err := handler(context.Background(), nil, enrichedWith("note.created", `not json`))
	assert.Error(t, err)
}

func TestHandleEMOUpsert_RequiresEMOID(t *testing.T) {
	l := relational.New()
	handler := l.Handlers()["emo.created"]
	err := handler(context.Background(), nil, enrichedWith("emo.created", `{"content":"c"}`))
	assert.Error(t, err)
}

func TestHandleEMOLinkAdded_RejectsUnknownRelation(t *testing.T) {
	l := relational.New()
	handler := l.Handlers()["emo.link.added"]
	err := handler(context.Background(), nil, enrichedWith("emo.link.added", `{"source":"a","target":"b","rel":"not-a-real-relation"}`))
	assert.Error(t, err)
}

// Snapshot, Truncate, RestorePayload, and every handler's successful path
// all go through a pgx.Tx and are exercised by integration tests against a
// real database rather than here.
