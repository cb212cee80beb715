package semantic_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/semantic"
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
	l := semantic.New(semantic.NewHashEmbedder(16))
	handlers := l.Handlers()
	for _, kind := range []string{"note.created", "note.updated", "emo.created", "emo.updated", "emo.deleted", "tag.added"} {
		assert.Contains(t, handlers, kind)
	}
}

func TestHandleContentUpsert_RequiresEntityID(t *testing.T) {
	l := semantic.New(semantic.NewHashEmbedder(16))
	handler := l.Handlers()["note.created"]
	err := handler(context.Background(), nil, enrichedWith("note.created", `{"title":"t","body":"b"}`))
	assert.Error(t, err)
}

func TestHandleContentUpsert_MalformedPayload(t *testing.T) {
	l := semantic.New(semantic.NewHashEmbedder(16))
	handler := l.Handlers()["emo.created"]
	err := handler(context.Background(), nil, enrichedWith("emo.created", `not json`))
	assert.Error(t, err)
}

func TestHandleTagEmbed_EmptyTagIsNoOp(t *testing.T) {
	l := semantic.New(semantic.NewHashEmbedder(16))
	handler := l.Handlers()["tag.added"]
	err := handler(context.Background(), nil, enrichedWith("tag.added", `{"note_id":"n1"}`))
	require.NoError(t, err)
}

func TestRestorePayload_IsDocumentedNoOp(t *testing.T) {
	l := semantic.New(semantic.NewHashEmbedder(16))
	err := l.RestorePayload(context.Background(), nil, uuid.New(), "main", json.RawMessage(`{"embeddings":[]}`))
	require.NoError(t, err)
}

// handleContentUpsert, handleEntityDeleted, handleTagEmbed's embedding
// paths, Snapshot, and Truncate all go through a pgx.Tx and are exercised
// by integration tests against a real database rather than here.
