// Package semantic implements the semantic projector: vector embeddings
// for notes and EMOs keyed by (entity_id, entity_type, model_id), with
// determinism hashing that excludes raw vector bytes (spec §4.6).
package semantic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mnemonic-nexus/mnx/internal/emo"
	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/projectorsdk"
	"github.com/mnemonic-nexus/mnx/internal/semantic/db"
)

// Name is the watermark-owning identifier for this projector.
const Name = "semantic"

// Lens implements projectorsdk.Lens for the semantic projector.
type Lens struct {
	embedder Embedder
}

// New returns a semantic Lens backed by embedder.
func New(embedder Embedder) *Lens {
	return &Lens{embedder: embedder}
}

func (l *Lens) Name() string { return Name }

func (l *Lens) Handlers() map[string]projectorsdk.EventHandler {
	return map[string]projectorsdk.EventHandler{
		"note.created": l.handleContentUpsert("note"),
		"note.updated": l.handleContentUpsert("note"),
		"emo.created":  l.handleContentUpsert("emo"),
		"emo.updated":  l.handleContentUpsert("emo"),
		"emo.deleted":  l.handleEntityDeleted("emo"),
		"tag.added":    l.handleTagEmbed,
	}
}

type contentPayload struct {
	NoteID     string   `json:"note_id"`
	EMOID      string   `json:"emo_id"`
	EMOVersion int32    `json:"emo_version"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
}

// handleContentUpsert recomputes the embedding for a content-bearing
// entity on create/update. Notes carry title+body; EMOs carry a combined
// content field directly (spec §4.7's title+"\n\n"+body mapping already
// applied upstream by whoever emits the emo.* event).
func (l *Lens) handleContentUpsert(entityType string) projectorsdk.EventHandler {
	return func(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
		var p contentPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("decode content payload: %w", err)
		}

		entityID := p.NoteID
		if entityType == "emo" {
			entityID = p.EMOID
		}
		if entityID == "" {
			return fmt.Errorf("%s entity id is required", entityType)
		}

		text := p.Content
		if entityType == "note" {
			text = emo.ComposeContent(p.Title, p.Body)
		}

		vec, err := l.embedder.Embed(text)
		if err != nil {
			return fmt.Errorf("embed content: %w", err)
		}

		worldUUID, err := scanWorld(event.WorldID)
		if err != nil {
			return err
		}
		return db.New(tx).UpsertEmbedding(ctx, db.UpsertEmbeddingParams{
			WorldID:      worldUUID,
			Branch:       event.Branch,
			EntityID:     entityID,
			EntityType:   entityType,
			ModelID:      l.embedder.ModelID(),
			ModelVersion: l.embedder.ModelVersion(),
			TemplateID:   l.embedder.TemplateID(),
			EMOVersion:   p.EMOVersion,
			Vector:       vec,
		})
	}
}

func (l *Lens) handleEntityDeleted(entityType string) projectorsdk.EventHandler {
	return func(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
		var p contentPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("decode delete payload: %w", err)
		}
		entityID := p.EMOID
		if entityID == "" {
			entityID = p.NoteID
		}
		worldUUID, err := scanWorld(event.WorldID)
		if err != nil {
			return err
		}
		return db.New(tx).DeleteEmbeddings(ctx, worldUUID, event.Branch, entityID, entityType)
	}
}

// handleTagEmbed optionally embeds "tag:{value}" strings so tag-similarity
// retrieval works without a dedicated tag-embedding event kind (spec
// §4.6: "on tag events, optionally embed tag:{value} strings").
func (l *Lens) handleTagEmbed(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p tagPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode tag payload: %w", err)
	}
	if p.Tag == "" {
		return nil
	}
	vec, err := l.embedder.Embed("tag:" + p.Tag)
	if err != nil {
		return fmt.Errorf("embed tag: %w", err)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).UpsertEmbedding(ctx, db.UpsertEmbeddingParams{
		WorldID:      worldUUID,
		Branch:       event.Branch,
		EntityID:     "tag:" + p.Tag,
		EntityType:   "tag",
		ModelID:      l.embedder.ModelID(),
		ModelVersion: l.embedder.ModelVersion(),
		TemplateID:   l.embedder.TemplateID(),
		Vector:       vec,
	})
}

type tagPayload struct {
	NoteID string `json:"note_id"`
	Tag    string `json:"tag"`
}

// snapshotDoc excludes raw vector bytes entirely, per spec §4.6's
// determinism caveat: replay parity requires matching model identity and
// the set of embeddings present, not bit-identical vector output.
type snapshotDoc struct {
	Embeddings []db.EmbeddingRow `json:"embeddings"`
}

func (l *Lens) Snapshot(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) (interface{}, error) {
	worldUUID, err := scanWorld(worldID)
	if err != nil {
		return nil, err
	}
	rows, err := db.New(tx).ListEmbeddingIdentities(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	return snapshotDoc{Embeddings: rows}, nil
}

func (l *Lens) Truncate(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) error {
	worldUUID, err := scanWorld(worldID)
	if err != nil {
		return err
	}
	return db.New(tx).Truncate(ctx, worldUUID, branch)
}

// RestorePayload writes nothing and returns nil. The determinism caveat
// means a snapshot carries only the identity triple per embedding, not
// vector bytes or the original text, so restore has nothing to re-embed;
// only a rebuild (full replay) recomputes embeddings for this projector.
// Restore is a documented no-op: operators should use rebuild for the
// semantic lens.
func (l *Lens) RestorePayload(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string, payload json.RawMessage) error {
	return nil
}

func scanWorld(worldID uuid.UUID) (pgtype.UUID, error) {
	var u pgtype.UUID
	if err := u.Scan(worldID.String()); err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid world_id: %w", err)
	}
	return u, nil
}
