package translator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
	"github.com/mnemonic-nexus/mnx/internal/translator"
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
	l := translator.New(translator.NewGatewayClient("http://localhost", "key", time.Second), nil)
	handlers := l.Handlers()
	assert.Contains(t, handlers, "memory.item.upserted")
	assert.Contains(t, handlers, "memory.item.deleted")
}

func TestHandleUpserted_RequiresID(t *testing.T) {
	l := translator.New(translator.NewGatewayClient("http://localhost", "key", time.Second), nil)
	handler := l.Handlers()["memory.item.upserted"]
	err := handler(context.Background(), nil, enrichedWith("memory.item.upserted", `{"title":"t"}`))
	assert.Error(t, err)
}

func TestHandleUpserted_MalformedPayload(t *testing.T) {
	l := translator.New(translator.NewGatewayClient("http://localhost", "key", time.Second), nil)
	handler := l.Handlers()["memory.item.upserted"]
	err := handler(context.Background(), nil, enrichedWith("memory.item.upserted", `not json`))
	assert.Error(t, err)
}

func TestHandleDeleted_RequiresID(t *testing.T) {
	l := translator.New(translator.NewGatewayClient("http://localhost", "key", time.Second), nil)
	handler := l.Handlers()["memory.item.deleted"]
	err := handler(context.Background(), nil, enrichedWith("memory.item.deleted", `{}`))
	assert.Error(t, err)
}

func TestGatewayClient_Emit_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := translator.NewGatewayClient(srv.URL, "key", time.Second)
	err := client.Emit(context.Background(), envelope.Envelope{Kind: "emo.created"})
	require.NoError(t, err)
}

func TestGatewayClient_Emit_ConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := translator.NewGatewayClient(srv.URL, "key", time.Second)
	err := client.Emit(context.Background(), envelope.Envelope{Kind: "emo.created"})
	require.NoError(t, err)
}

func TestGatewayClient_Emit_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := translator.NewGatewayClient(srv.URL, "key", time.Second)
	err := client.Emit(context.Background(), envelope.Envelope{Kind: "emo.created"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrTransient)
}

func TestGatewayClient_Emit_RejectionIsPoison(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := translator.NewGatewayClient(srv.URL, "key", time.Second)
	err := client.Emit(context.Background(), envelope.Envelope{Kind: "emo.created"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrPoison)
}

// handleUpserted/handleDeleted's successful paths, Snapshot, Truncate, and
// RestorePayload all go through a pgx.Tx and are exercised by integration
// tests against a real database rather than here.
