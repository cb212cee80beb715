// Package relational implements the relational projector: notes, tags,
// links, and the EMO current/history/link tables (spec §4.5, §4.7). It
// implements projectorsdk.Lens so it mounts directly onto the shared
// Projector SDK runtime.
package relational

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
	"github.com/mnemonic-nexus/mnx/internal/relational/db"
)

// Name is the watermark-owning identifier for this projector.
const Name = "relational"

// Lens implements projectorsdk.Lens for the relational projector.
type Lens struct{}

// New returns a relational Lens. It holds no state of its own — every
// method receives its transaction from the Projector SDK.
func New() *Lens {
	return &Lens{}
}

func (l *Lens) Name() string { return Name }

func (l *Lens) Handlers() map[string]projectorsdk.EventHandler {
	return map[string]projectorsdk.EventHandler{
		"note.created":     l.handleNoteUpsert,
		"note.updated":     l.handleNoteUpsert,
		"tag.added":        l.handleTagAdded,
		"tag.removed":      l.handleTagRemoved,
		"link.added":       l.handleLinkAdded,
		"link.removed":     l.handleLinkRemoved,
		"emo.created":      l.handleEMOUpsert,
		"emo.updated":      l.handleEMOUpsert,
		"emo.deleted":      l.handleEMODeleted,
		"emo.link.added":   l.handleEMOLinkAdded,
		"emo.link.removed": l.handleEMOLinkRemoved,
	}
}

type notePayload struct {
	NoteID string `json:"note_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (l *Lens) handleNoteUpsert(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p notePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode note payload: %w", err)
	}
	if p.NoteID == "" {
		return fmt.Errorf("note_id is required")
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).UpsertNote(ctx, db.UpsertNoteParams{
		WorldID: worldUUID,
		Branch:  event.Branch,
		NoteID:  p.NoteID,
		Title:   p.Title,
		Body:    p.Body,
	})
}

type tagPayload struct {
	NoteID string `json:"note_id"`
	Tag    string `json:"tag"`
}

func (l *Lens) handleTagAdded(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p tagPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode tag payload: %w", err)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).AddTag(ctx, db.TagParams{WorldID: worldUUID, Branch: event.Branch, NoteID: p.NoteID, Tag: p.Tag})
}

func (l *Lens) handleTagRemoved(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p tagPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode tag payload: %w", err)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).RemoveTag(ctx, db.TagParams{WorldID: worldUUID, Branch: event.Branch, NoteID: p.NoteID, Tag: p.Tag})
}

type linkPayload struct {
	SrcID    string `json:"src_id"`
	DstID    string `json:"dst_id"`
	LinkType string `json:"link_type"`
}

func (l *Lens) handleLinkAdded(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p linkPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode link payload: %w", err)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).AddLink(ctx, db.LinkParams{WorldID: worldUUID, Branch: event.Branch, SrcID: p.SrcID, DstID: p.DstID, LinkType: p.LinkType})
}

func (l *Lens) handleLinkRemoved(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p linkPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode link payload: %w", err)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).RemoveLink(ctx, db.LinkParams{WorldID: worldUUID, Branch: event.Branch, SrcID: p.SrcID, DstID: p.DstID, LinkType: p.LinkType})
}

type emoPayload struct {
	EMOID      string   `json:"emo_id"`
	EMOVersion int32    `json:"emo_version"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
}

func (l *Lens) handleEMOUpsert(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p emoPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode emo payload: %w", err)
	}
	if p.EMOID == "" {
		return fmt.Errorf("emo_id is required")
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	contentHash, err := emo.ContentHash(p.Content, p.Tags)
	if err != nil {
		return fmt.Errorf("compute content hash: %w", err)
	}

	q := db.New(tx)
	if err := q.UpsertEMOCurrent(ctx, db.UpsertEMOCurrentParams{
		WorldID:     worldUUID,
		Branch:      event.Branch,
		EMOID:       p.EMOID,
		EMOVersion:  p.EMOVersion,
		Content:     p.Content,
		Tags:        p.Tags,
		Deleted:     false,
		ContentHash: contentHash,
	}); err != nil {
		return fmt.Errorf("upsert emo current: %w", err)
	}
	op := "updated"
	if event.Kind == "emo.created" {
		op = "created"
	}
	return q.InsertEMOHistory(ctx, db.InsertEMOHistoryParams{
		WorldID:    worldUUID,
		Branch:     event.Branch,
		EMOID:      p.EMOID,
		EMOVersion: p.EMOVersion,
		Content:    p.Content,
		Tags:       p.Tags,
		Op:         op,
	})
}

type emoDeletedPayload struct {
	EMOID      string `json:"emo_id"`
	EMOVersion int32  `json:"emo_version"`
	DeletedAt  string `json:"deleted_at"`
}

func (l *Lens) handleEMODeleted(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p emoDeletedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode emo deleted payload: %w", err)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	q := db.New(tx)
	existing, err := q.GetEMOCurrent(ctx, worldUUID, event.Branch, p.EMOID)
	var content string
	var tags []string
	if err == nil {
		content = existing.Content
		tags = existing.Tags
	}
	contentHash, err := emo.ContentHash(content, tags)
	if err != nil {
		return fmt.Errorf("compute content hash: %w", err)
	}
	if err := q.UpsertEMOCurrent(ctx, db.UpsertEMOCurrentParams{
		WorldID:     worldUUID,
		Branch:      event.Branch,
		EMOID:       p.EMOID,
		EMOVersion:  p.EMOVersion,
		Content:     content,
		Tags:        tags,
		Deleted:     true,
		DeletedAt:   pgtype.Timestamptz{Valid: true},
		ContentHash: contentHash,
	}); err != nil {
		return fmt.Errorf("upsert emo current (delete): %w", err)
	}
	return q.InsertEMOHistory(ctx, db.InsertEMOHistoryParams{
		WorldID:    worldUUID,
		Branch:     event.Branch,
		EMOID:      p.EMOID,
		EMOVersion: p.EMOVersion,
		Content:    content,
		Tags:       tags,
		Op:         "deleted",
	})
}

type emoLinkPayload struct {
	Source string `json:"source"`
	Target string `json:"target"`
	URI    string `json:"uri"`
	Rel    string `json:"rel"`
}

func (l *Lens) handleEMOLinkAdded(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p emoLinkPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode emo link payload: %w", err)
	}
	if !emo.ValidRelations[emo.LinkRelation(p.Rel)] {
		return fmt.Errorf("unknown link relation %q", p.Rel)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).AddEMOLink(ctx, db.EMOLinkParams{WorldID: worldUUID, Branch: event.Branch, Source: p.Source, Target: p.Target, URI: p.URI, Rel: p.Rel})
}

func (l *Lens) handleEMOLinkRemoved(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p emoLinkPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode emo link payload: %w", err)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).RemoveEMOLink(ctx, db.EMOLinkParams{WorldID: worldUUID, Branch: event.Branch, Source: p.Source, Target: p.Target, URI: p.URI, Rel: p.Rel})
}

// snapshotDoc is the canonicalizable state document hashed into the
// determinism_hash, per spec §4.5's sort order for each table.
type snapshotDoc struct {
	Notes    []db.NoteRow    `json:"notes"`
	Tags     []db.TagRow     `json:"tags"`
	Links    []db.LinkRow    `json:"links"`
	EMOs     []db.EMOCurrentRow `json:"emos"`
	EMOLinks []db.EMOLinkRow `json:"emo_links"`
}

func (l *Lens) Snapshot(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) (interface{}, error) {
	worldUUID, err := scanWorld(worldID)
	if err != nil {
		return nil, err
	}
	q := db.New(tx)
	notes, err := q.ListNotes(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	tags, err := q.ListTags(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	links, err := q.ListLinks(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	emos, err := q.ListEMOCurrent(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	emoLinks, err := q.ListEMOLinks(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	return snapshotDoc{Notes: notes, Tags: tags, Links: links, EMOs: emos, EMOLinks: emoLinks}, nil
}

func (l *Lens) Truncate(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) error {
	worldUUID, err := scanWorld(worldID)
	if err != nil {
		return err
	}
	return db.New(tx).Truncate(ctx, worldUUID, branch)
}

// RestorePayload expects the same shape Snapshot produces: a snapshotDoc
// encoded as JSON. It re-inserts every row directly rather than replaying
// events, per spec §4.4's "restore = atomically set lens to a prior
// snapshot payload" admin contract.
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
	for _, n := range doc.Notes {
		if err := q.UpsertNote(ctx, db.UpsertNoteParams{WorldID: worldUUID, Branch: branch, NoteID: n.NoteID, Title: n.Title, Body: n.Body}); err != nil {
			return err
		}
	}
	for _, t := range doc.Tags {
		if err := q.AddTag(ctx, db.TagParams{WorldID: worldUUID, Branch: branch, NoteID: t.NoteID, Tag: t.Tag}); err != nil {
			return err
		}
	}
	for _, lk := range doc.Links {
		if err := q.AddLink(ctx, db.LinkParams{WorldID: worldUUID, Branch: branch, SrcID: lk.SrcID, DstID: lk.DstID, LinkType: lk.LinkType}); err != nil {
			return err
		}
	}
	for _, e := range doc.EMOs {
		contentHash, err := emo.ContentHash(e.Content, e.Tags)
		if err != nil {
			return err
		}
		if err := q.UpsertEMOCurrent(ctx, db.UpsertEMOCurrentParams{
			WorldID: worldUUID, Branch: branch, EMOID: e.EMOID, EMOVersion: e.EMOVersion,
			Content: e.Content, Tags: e.Tags, Deleted: e.Deleted, ContentHash: contentHash,
		}); err != nil {
			return err
		}
	}
	for _, el := range doc.EMOLinks {
		target, uri := el.Dest, ""
		if el.IsExternal {
			target, uri = "", el.Dest
		}
		if err := q.AddEMOLink(ctx, db.EMOLinkParams{WorldID: worldUUID, Branch: branch, Source: el.Source, Target: target, URI: uri, Rel: el.Rel}); err != nil {
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
