// Package graph implements the graph projector: a per-(world_id, branch)
// graph of EMO and note nodes connected by typed edges (spec §4.7).
package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mnemonic-nexus/mnx/internal/emo"
	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/graph/db"
	"github.com/mnemonic-nexus/mnx/internal/projectorsdk"
)

// Name is the watermark-owning identifier for this projector.
const Name = "graph"

// Edge type vocabulary. EMO link relations map onto these one-to-one;
// LINKS_TO and TAGGED additionally cover note-to-note links and
// note/EMO-to-tag membership, neither of which has an emo.link.* event.
const (
	EdgeDerivesFrom  = "DERIVES_FROM"
	EdgeSupersededBy = "SUPERSEDED_BY"
	EdgeMergesInto   = "MERGES_INTO"
	EdgeLinksTo      = "LINKS_TO"
	EdgeTagged       = "TAGGED"
)

var relationToEdgeType = map[emo.LinkRelation]string{
	emo.RelationDerived:     EdgeDerivesFrom,
	emo.RelationSupersedes:  EdgeSupersededBy,
	emo.RelationMerges:      EdgeMergesInto,
}

// Lens implements projectorsdk.Lens for the graph projector.
type Lens struct{}

// New returns a graph Lens. It holds no state of its own.
func New() *Lens {
	return &Lens{}
}

func (l *Lens) Name() string { return Name }

func (l *Lens) Handlers() map[string]projectorsdk.EventHandler {
	return map[string]projectorsdk.EventHandler{
		"note.created":     l.handleNoteNode,
		"note.updated":     l.handleNoteNode,
		"emo.created":      l.handleEMONode,
		"emo.updated":      l.handleEMONode,
		"emo.deleted":      l.handleEMODeleted,
		"link.added":       l.handleLinkAdded,
		"link.removed":     l.handleLinkRemoved,
		"tag.added":        l.handleTagAdded,
		"tag.removed":      l.handleTagRemoved,
		"emo.link.added":   l.handleEMOLinkAdded,
		"emo.link.removed": l.handleEMOLinkRemoved,
	}
}

type notePayload struct {
	NoteID string `json:"note_id"`
	Title  string `json:"title"`
}

func (l *Lens) handleNoteNode(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
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
	return db.New(tx).UpsertNode(ctx, db.UpsertNodeParams{
		WorldID: worldUUID, Branch: event.Branch, NodeID: p.NoteID, NodeType: "note", Label: p.Title,
	})
}

type emoPayload struct {
	EMOID   string `json:"emo_id"`
	Content string `json:"content"`
}

func (l *Lens) handleEMONode(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
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
	return db.New(tx).UpsertNode(ctx, db.UpsertNodeParams{
		WorldID: worldUUID, Branch: event.Branch, NodeID: p.EMOID, NodeType: "emo", Label: p.Content,
	})
}

type emoDeletedPayload struct {
	EMOID string `json:"emo_id"`
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
	return db.New(tx).SoftDeleteNode(ctx, worldUUID, event.Branch, p.EMOID)
}

type linkPayload struct {
	SrcID string `json:"src_id"`
	DstID string `json:"dst_id"`
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
	return db.New(tx).AddEdge(ctx, db.EdgeParams{WorldID: worldUUID, Branch: event.Branch, SrcID: p.SrcID, DstID: p.DstID, EdgeType: EdgeLinksTo})
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
	return db.New(tx).RemoveEdge(ctx, db.EdgeParams{WorldID: worldUUID, Branch: event.Branch, SrcID: p.SrcID, DstID: p.DstID, EdgeType: EdgeLinksTo})
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
	q := db.New(tx)
	tagNode := "tag:" + p.Tag
	if err := q.UpsertNode(ctx, db.UpsertNodeParams{WorldID: worldUUID, Branch: event.Branch, NodeID: tagNode, NodeType: "tag", Label: p.Tag}); err != nil {
		return fmt.Errorf("upsert tag node: %w", err)
	}
	return q.AddEdge(ctx, db.EdgeParams{WorldID: worldUUID, Branch: event.Branch, SrcID: p.NoteID, DstID: tagNode, EdgeType: EdgeTagged})
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
	return db.New(tx).RemoveEdge(ctx, db.EdgeParams{WorldID: worldUUID, Branch: event.Branch, SrcID: p.NoteID, DstID: "tag:" + p.Tag, EdgeType: EdgeTagged})
}

type emoLinkPayload struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Rel    string `json:"rel"`
}

func (l *Lens) handleEMOLinkAdded(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p emoLinkPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode emo link payload: %w", err)
	}
	if p.Target == "" {
		// External (URI-targeted) links have no graph node on the
		// other end, so the graph lens skips them.
		return nil
	}
	edgeType, ok := relationToEdgeType[emo.LinkRelation(p.Rel)]
	if !ok {
		return fmt.Errorf("unknown link relation %q", p.Rel)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).AddEdge(ctx, db.EdgeParams{WorldID: worldUUID, Branch: event.Branch, SrcID: p.Source, DstID: p.Target, EdgeType: edgeType})
}

func (l *Lens) handleEMOLinkRemoved(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error {
	var p emoLinkPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode emo link payload: %w", err)
	}
	if p.Target == "" {
		return nil
	}
	edgeType, ok := relationToEdgeType[emo.LinkRelation(p.Rel)]
	if !ok {
		return fmt.Errorf("unknown link relation %q", p.Rel)
	}
	worldUUID, err := scanWorld(event.WorldID)
	if err != nil {
		return err
	}
	return db.New(tx).RemoveEdge(ctx, db.EdgeParams{WorldID: worldUUID, Branch: event.Branch, SrcID: p.Source, DstID: p.Target, EdgeType: edgeType})
}

// snapshotDoc is the canonicalizable state document hashed into the
// determinism_hash: every node and edge, sorted.
type snapshotDoc struct {
	Nodes []db.NodeRow `json:"nodes"`
	Edges []db.EdgeRow `json:"edges"`
}

func (l *Lens) Snapshot(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) (interface{}, error) {
	worldUUID, err := scanWorld(worldID)
	if err != nil {
		return nil, err
	}
	q := db.New(tx)
	nodes, err := q.ListNodes(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	edges, err := q.ListEdges(ctx, worldUUID, branch)
	if err != nil {
		return nil, err
	}
	return snapshotDoc{Nodes: nodes, Edges: edges}, nil
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
	for _, n := range doc.Nodes {
		if err := q.UpsertNode(ctx, db.UpsertNodeParams{
			WorldID: worldUUID, Branch: branch, NodeID: n.NodeID, NodeType: n.NodeType, Label: n.Label, Deleted: n.Deleted,
		}); err != nil {
			return err
		}
	}
	for _, e := range doc.Edges {
		if err := q.AddEdge(ctx, db.EdgeParams{WorldID: worldUUID, Branch: branch, SrcID: e.SrcID, DstID: e.DstID, EdgeType: e.EdgeType}); err != nil {
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
