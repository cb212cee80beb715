// Package translator implements the Memory→EMO translator (spec §4.7):
// a projector that reads `memory.item.*` events and emits synthesized
// `emo.*` events through the Gateway ingest path, preserving identity and
// version continuity so the translated stream is observationally
// equivalent to a native emo.* stream.
package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/emo"
	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
	"github.com/mnemonic-nexus/mnx/internal/platform/httpclient"
	"github.com/mnemonic-nexus/mnx/internal/projectorsdk"
	"github.com/mnemonic-nexus/mnx/internal/translator/db"
)

// Name is the watermark-owning identifier for this projector.
const Name = "emo-translator"

// GatewayClient posts synthesized envelopes to the Gateway's ingest path,
// reusing internal/platform/httpclient the same way the Publisher reuses
// it for projector delivery (spec §4.7's "translator as Gateway client").
type GatewayClient struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
}

// NewGatewayClient builds a client targeting baseURL (e.g.
// "http://gateway:8080"), authenticating with a write-scoped API key.
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{http: httpclient.New(timeout), baseURL: baseURL, apiKey: apiKey}
}

// Emit submits env to the Gateway. A 409 response means a prior attempt
// already landed under the same idempotency key and is treated as
// success, matching the translator's at-least-once retry semantics.
func (g *GatewayClient) Emit(ctx context.Context, env envelope.Envelope) error {
	resp, err := g.http.PostJSON(ctx, g.baseURL+"/v1/events", env, map[string]string{
		"Authorization": "Bearer " + g.apiKey,
	})
	if err != nil {
		return fmt.Errorf("%w: emit to gateway: %v", apierr.ErrTransient, err)
	}
	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: gateway returned %d: %s", apierr.ErrTransient, resp.StatusCode, resp.Body)
	case resp.Failed():
		return fmt.Errorf("%w: gateway rejected event: %d: %s", apierr.ErrPoison, resp.StatusCode, resp.Body)
	default:
		return nil
	}
}

// Lens implements projectorsdk.Lens for the translator.
type Lens struct {
	gateway *GatewayClient
	logger  *zap.Logger
}

// New returns a translator Lens that emits synthesized events through
// gateway.
func New(gateway *GatewayClient, logger *zap.Logger) *Lens {
	return &Lens{gateway: gateway, logger: logger}
}

func (l *Lens) Name() string { return Name }

func (l *Lens) Handlers() map[string]projectorsdk.EventHandler {
	return map[string]projectorsdk.EventHandler{
		"memory.item.upserted": l.handleUpserted,
		"memory.item.deleted":  l.handleDeleted,
	}
}

type itemUpsertedPayload struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

type itemDeletedPayload struct {
	ID string `json:"id"`
}

type emoCreatedPayload struct {
	EMOID      string   `json:"emo_id"`
	EMOVersion int32    `json:"emo_version"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
}

type emoDeletedPayload struct {
	EMOID      string `json:"emo_id"`
	EMOVersion int32  `json:"emo_version"`
	DeletedAt  string `json:"deleted_at"`
}

// handleUpserted maps memory.item.upserted to emo.created (first
// sighting of this item id) or emo.updated (every sighting after), with
// the version sourced from the per-item counter rather than anything in
// the memory.item payload (spec §4.7: "version is derived from an
// internal per-emo_id counter... the counter advances by 1 per
// mutation").
func (l *Lens) handleUpserted(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p itemUpsertedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode memory.item.upserted payload: %w", err)
	}
	if p.ID == "" {
		return fmt.Errorf("item id is required")
	}

	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	q := db.New(tx)

	current, err := q.GetVersion(ctx, worldUUID, event.Branch, p.ID)
	if err != nil {
		return fmt.Errorf("load translator version: %w", err)
	}

	kind, op := "emo.updated", "updated"
	if current.Version == 0 {
		kind, op = "emo.created", "created"
	}
	newVersion := current.Version + 1

	content := emo.ComposeContent(p.Title, p.Body)
	emoPayload, err := json.Marshal(emoCreatedPayload{EMOID: p.ID, EMOVersion: newVersion, Content: content, Tags: p.Tags})
	if err != nil {
		return fmt.Errorf("encode synthesized emo payload: %w", err)
	}

	env := envelope.Envelope{
		WorldID:        event.WorldID,
		Branch:         event.Branch,
		Kind:           kind,
		Payload:        emoPayload,
		By:             envelope.By{Agent: "emo-translator"},
		Version:        1,
		IdempotencyKey: fmt.Sprintf("%s:%d:%s", p.ID, newVersion, op),
	}
	if err := l.gateway.Emit(ctx, env); err != nil {
		return fmt.Errorf("emit synthesized %s: %w", kind, err)
	}

	return q.AdvanceVersion(ctx, worldUUID, event.Branch, p.ID, newVersion, false)
}

// handleDeleted maps memory.item.deleted to emo.deleted at
// current_version + 1 (spec §4.7). An item never previously translated
// has nothing to delete and is rejected; an item already translated as
// deleted is a no-op, matching at-least-once redelivery.
func (l *Lens) handleDeleted(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p itemDeletedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode memory.item.deleted payload: %w", err)
	}
	if p.ID == "" {
		return fmt.Errorf("item id is required")
	}

	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	q := db.New(tx)

	current, err := q.GetVersion(ctx, worldUUID, event.Branch, p.ID)
	if err != nil {
		return fmt.Errorf("load translator version: %w", err)
	}
	if current.Version == 0 {
		return fmt.Errorf("%w: memory.item %q deleted before ever being upserted", apierr.ErrValidation, p.ID)
	}
	if current.Deleted {
		return nil
	}
	newVersion := current.Version + 1

	emoPayload, err := json.Marshal(emoDeletedPayload{
		EMOID:      p.ID,
		EMOVersion: newVersion,
		DeletedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode synthesized emo.deleted payload: %w", err)
	}

	env := envelope.Envelope{
		WorldID:        event.WorldID,
		Branch:         event.Branch,
		Kind:           "emo.deleted",
		Payload:        emoPayload,
		By:             envelope.By{Agent: "emo-translator"},
		Version:        1,
		IdempotencyKey: fmt.Sprintf("%s:%d:deleted", p.ID, newVersion),
	}
	if err := l.gateway.Emit(ctx, env); err != nil {
		return fmt.Errorf("emit synthesized emo.deleted: %w", err)
	}

	return q.AdvanceVersion(ctx, worldUUID, event.Branch, p.ID, newVersion, true)
}

// snapshotDoc is the translator's own determinism-hash input: the version
// ledger it owns, independent of the downstream lens state the
// synthesized emo.* events eventually produce.
type snapshotDoc struct {
	Versions []db.VersionSnapshotRow `json:"versions"`
}

func (l *Lens) Snapshot(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) (interface{}, error) {
	worldUUID, err := scanWorld(worldID)
	if err != nil {
		return nil, err
	}
	rows, err := db.New(tx).ListVersions(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	return snapshotDoc{Versions: rows}, nil
}

func (l *Lens) Truncate(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) error {
	worldUUID, err := scanWorld(worldID)
	if err != nil {
		return err
	}
	return db.New(tx).Truncate(ctx, worldUUID, branch)
}

func (l *Lens) RestorePayload(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string, payload json.RawMessage) error {
	var doc snapshotDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode restore payload: %w", err)
	}
	worldUUID, err := scanWorld(worldID)
	if err != nil {
		return err
	}
	q := db.New(tx)
	for _, v := range doc.Versions {
		if err := q.AdvanceVersion(ctx, worldUUID, branch, v.ItemID, v.Version, v.Deleted); err != nil {
			return err
		}
	}
	return nil
}

func scanWorld(worldID uuid.UUID) (pgtype.UUID, error) {
	var u pgtype.UUID
	if err := u.Scan(worldID.String()); err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid world_id: %w", err)
	}
	return u, nil
}
