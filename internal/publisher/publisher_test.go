package publisher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/eventstore"
	"github.com/mnemonic-nexus/mnx/internal/eventstore/db"
)

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return m
}

func sampleClaimedEvent() eventstore.ClaimedEvent {
	var worldUUID, eventUUID pgtype.UUID
	_ = worldUUID.Scan(uuid.New().String())
	_ = eventUUID.Scan(uuid.New().String())
	return eventstore.ClaimedEvent{
		Event: db.EventLogRow{
			EventID:     eventUUID,
			GlobalSeq:   1,
			WorldID:     worldUUID,
			Branch:      "main",
			Kind:        "note.created",
			Payload:     []byte(`{}`),
			PayloadHash: "hash",
			ByAgent:     "tester",
		},
		Attempts: 0,
	}
}

func TestDeliverOne_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pub-1", r.Header.Get("X-Publisher-ID"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(nil, nil, Config{PublisherID: "pub-1"}, testMetrics(t), zap.NewNop())
	err := p.deliverOne(context.Background(), Subscriber{Name: "relational", URL: srv.URL}, sampleClaimedEvent())
	require.NoError(t, err)
}

func TestDeliverOne_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(nil, nil, Config{}, testMetrics(t), zap.NewNop())
	err := p.deliverOne(context.Background(), Subscriber{Name: "relational", URL: srv.URL}, sampleClaimedEvent())
	require.Error(t, err)
}

func TestDeliverToAll_AllSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	subs := []Subscriber{{Name: "a", URL: srv.URL}, {Name: "b", URL: srv.URL}}
	p := New(nil, subs, Config{}, testMetrics(t), zap.NewNop())
	err := p.deliverToAll(context.Background(), sampleClaimedEvent().Event)
	require.NoError(t, err)
}

func TestDeliverToAll_PartialFailureIsError(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	subs := []Subscriber{{Name: "good", URL: good.URL}, {Name: "bad", URL: bad.URL}}
	p := New(nil, subs, Config{}, testMetrics(t), zap.NewNop())
	err := p.deliverToAll(context.Background(), sampleClaimedEvent().Event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1/2 subscribers")
}

func TestNew_AppliesDefaults(t *testing.T) {
	p := New(nil, nil, Config{}, testMetrics(t), zap.NewNop())
	assert.Equal(t, 4, p.workerCount)
	assert.EqualValues(t, 100, p.batchSize)
	assert.Equal(t, "publisher-1", p.publisherID)
}

func TestNewDLQSweep_StartStopLifecycle(t *testing.T) {
	sweep := NewDLQSweep(nil, "", zap.NewNop())
	sweep.Start()
	sweep.Stop()
}

// Run, poll, deliveryWorker, committer, and DLQSweep.sweep itself all
// drive *eventstore.Store directly and are exercised by integration tests
// against a real database rather than here.
