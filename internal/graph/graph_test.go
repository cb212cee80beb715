package graph_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/graph"
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
	l := graph.New()
	handlers := l.Handlers()
	for _, kind := range []string{
		"note.created", "note.updated",
		"emo.created", "emo.updated", "emo.deleted",
		"link.added", "link.removed",
		"tag.added", "tag.removed",
		"emo.link.added", "emo.link.removed",
	} {
		assert.Contains(t, handlers, kind)
	}
}

func TestHandleNoteNode_RequiresNoteID(t *testing.T) {
	l := graph.New()
	handler := l.Handlers()["note.created"]
	err := handler(context.Background(), nil, enrichedWith("note.created", `{"title":"t"}`))
	assert.Error(t, err)
}

func TestHandleEMONode_RequiresEMOID(t *testing.T) {
	l := graph.New()
	handler := l.Handlers()["emo.created"]
	err := handler(context.Background(), nil, enrichedWith("emo.created", `{"content":"c"}`))
	assert.Error(t, err)
}

func TestHandleEMOLinkAdded_SkipsExternalTarget(t *testing.T) {
	l := graph.New()
	handler := l.Handlers()["emo.link.added"]
	err := handler(context.Background(), nil, enrichedWith("emo.link.added", `{"source":"a","rel":"derived"}`))
	require.NoError(t, err)
}

func TestHandleEMOLinkAdded_RejectsUnknownRelation(t *testing.T) {
	l := graph.New()
	handler := l.Handlers()["emo.link.added"]
	err := handler(context.Background(), nil, enrichedWith("emo.link.added", `{"source":"a","target":"b","rel":"not-a-real-relation"}`))
	assert.Error(t, err)
}

func TestHandleEMOLinkRemoved_SkipsExternalTarget(t *testing.T) {
	l := graph.New()
	handler := l.Handlers()["emo.link.removed"]
	err := handler(context.Background(), nil, enrichedWith("emo.link.removed", `{"source":"a","rel":"derived"}`))
	require.NoError(t, err)
}

// Snapshot, Truncate, RestorePayload, and every handler's successful path
// all go through a pgx.Tx and are exercised by integration tests against a
// real database rather than here.
