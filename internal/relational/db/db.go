// Package db is the hand-written repository layer for the relational
// lens: notes, tags, links, and the EMO current/history/link tables (spec
// §4.5, §4.7). Like internal/eventstore/db, it follows the teacher's
// generated-querier shape by hand since no sqlc config exists anywhere in
// the retrieved corpus.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by pgx.Tx (the relational lens always writes inside
// the Projector SDK's caller-managed transaction; it never opens its own).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Queries groups every relational-lens query under one receiver bound to
// a transaction, matching db.New(tx) call sites in the teacher corpus.
type Queries struct {
	db DBTX
}

func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// --- Notes ---

type UpsertNoteParams struct {
	WorldID pgtype.UUID
	Branch  string
	NoteID  string
	Title   string
	Body    string
}

func (q *Queries) UpsertNote(ctx context.Context, p UpsertNoteParams) error {
	const query = `
INSERT INTO rel_notes (world_id, branch, note_id, title, body)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (world_id, branch, note_id)
DO UPDATE SET title = $4, body = $5
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.NoteID, p.Title, p.Body)
	return err
}

type NoteRow struct {
	NoteID string
	Title  string
	Body   string
}

func (q *Queries) ListNotes(ctx context.Context, worldID pgtype.UUID, branch string) ([]NoteRow, error) {
	const query = `
SELECT note_id, title, body FROM rel_notes
WHERE world_id = $1 AND branch = $2
ORDER BY note_id ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NoteRow
	for rows.Next() {
		var n NoteRow
		if err := rows.Scan(&n.NoteID, &n.Title, &n.Body); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Tags ---

type TagParams struct {
	WorldID pgtype.UUID
	Branch  string
	NoteID  string
	Tag     string
}

func (q *Queries) AddTag(ctx context.Context, p TagParams) error {
	const query = `
INSERT INTO rel_tags (world_id, branch, note_id, tag)
VALUES ($1, $2, $3, $4)
ON CONFLICT (world_id, branch, note_id, tag) DO NOTHING
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.NoteID, p.Tag)
	return err
}

func (q *Queries) RemoveTag(ctx context.Context, p TagParams) error {
	const query = `DELETE FROM rel_tags WHERE world_id = $1 AND branch = $2 AND note_id = $3 AND tag = $4`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.NoteID, p.Tag)
	return err
}

type TagRow struct {
	NoteID string
	Tag    string
}

func (q *Queries) ListTags(ctx context.Context, worldID pgtype.UUID, branch string) ([]TagRow, error) {
	const query = `
SELECT note_id, tag FROM rel_tags
WHERE world_id = $1 AND branch = $2
ORDER BY note_id ASC, tag ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TagRow
	for rows.Next() {
		var t TagRow
		if err := rows.Scan(&t.NoteID, &t.Tag); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Links (note-to-note) ---

type LinkParams struct {
	WorldID  pgtype.UUID
	Branch   string
	SrcID    string
	DstID    string
	LinkType string
}

func (q *Queries) AddLink(ctx context.Context, p LinkParams) error {
	const query = `
INSERT INTO rel_links (world_id, branch, src_id, dst_id, link_type)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (world_id, branch, src_id, dst_id, link_type) DO NOTHING
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.SrcID, p.DstID, p.LinkType)
	return err
}

func (q *Queries) RemoveLink(ctx context.Context, p LinkParams) error {
	const query = `DELETE FROM rel_links WHERE world_id = $1 AND branch = $2 AND src_id = $3 AND dst_id = $4 AND link_type = $5`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.SrcID, p.DstID, p.LinkType)
	return err
}

type LinkRow struct {
	SrcID    string
	DstID    string
	LinkType string
}

func (q *Queries) ListLinks(ctx context.Context, worldID pgtype.UUID, branch string) ([]LinkRow, error) {
	const query = `
SELECT src_id, dst_id, link_type FROM rel_links
WHERE world_id = $1 AND branch = $2
ORDER BY src_id ASC, dst_id ASC, link_type ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LinkRow
	for rows.Next() {
		var l LinkRow
		if err := rows.Scan(&l.SrcID, &l.DstID, &l.LinkType); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- EMO current / history ---

type UpsertEMOCurrentParams struct {
	WorldID     pgtype.UUID
	Branch      string
	EMOID       string
	EMOVersion  int32
	Content     string
	Tags        []string
	Deleted     bool
	DeletedAt   pgtype.Timestamptz
	ContentHash string
}

func (q *Queries) UpsertEMOCurrent(ctx context.Context, p UpsertEMOCurrentParams) error {
	const query = `
INSERT INTO rel_emo_current (world_id, branch, emo_id, emo_version, content, tags, deleted, deleted_at, content_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (world_id, branch, emo_id)
DO UPDATE SET emo_version = $4, content = $5, tags = $6, deleted = $7, deleted_at = $8, content_hash = $9
WHERE rel_emo_current.emo_version < $4
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.EMOID, p.EMOVersion, p.Content, p.Tags, p.Deleted, p.DeletedAt, p.ContentHash)
	return err
}

type EMOCurrentRow struct {
	EMOID      string
	EMOVersion int32
	Content    string
	Tags       []string
	Deleted    bool
}

func (q *Queries) GetEMOCurrent(ctx context.Context, worldID pgtype.UUID, branch, emoID string) (EMOCurrentRow, error) {
	const query = `
SELECT emo_id, emo_version, content, tags, deleted FROM rel_emo_current
WHERE world_id = $1 AND branch = $2 AND emo_id = $3
`
	row := q.db.QueryRow(ctx, query, worldID, branch, emoID)
	var e EMOCurrentRow
	err := row.Scan(&e.EMOID, &e.EMOVersion, &e.Content, &e.Tags, &e.Deleted)
	return e, err
}

func (q *Queries) ListEMOCurrent(ctx context.Context, worldID pgtype.UUID, branch string) ([]EMOCurrentRow, error) {
	const query = `
SELECT emo_id, emo_version, content, tags, deleted FROM rel_emo_current
WHERE world_id = $1 AND branch = $2
ORDER BY emo_id ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EMOCurrentRow
	for rows.Next() {
		var e EMOCurrentRow
		if err := rows.Scan(&e.EMOID, &e.EMOVersion, &e.Content, &e.Tags, &e.Deleted); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type InsertEMOHistoryParams struct {
	WorldID    pgtype.UUID
	Branch     string
	EMOID      string
	EMOVersion int32
	Content    string
	Tags       []string
	Op         string
}

func (q *Queries) InsertEMOHistory(ctx context.Context, p InsertEMOHistoryParams) error {
	const query = `
INSERT INTO rel_emo_history (world_id, branch, emo_id, emo_version, content, tags, op)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (world_id, branch, emo_id, emo_version) DO NOTHING
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.EMOID, p.EMOVersion, p.Content, p.Tags, p.Op)
	return err
}

// --- EMO links ---
//
// Target and URI are collapsed into one "dest" column at the storage
// boundary (an emo_id or an external URI string are both just opaque
// destination identifiers for uniqueness purposes) so the composite
// unique index (world_id, branch, source, dest, rel) is a plain column
// tuple rather than an expression index, which ON CONFLICT requires.

type EMOLinkParams struct {
	WorldID pgtype.UUID
	Branch  string
	Source  string
	Target  string // emo_id; empty if URI is set
	URI     string // external reference; empty if Target is set
	Rel     string
}

func dest(target, uri string) string {
	if target != "" {
		return target
	}
	return uri
}

func (q *Queries) AddEMOLink(ctx context.Context, p EMOLinkParams) error {
	const query = `
INSERT INTO rel_emo_links (world_id, branch, source, dest, is_external, rel)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (world_id, branch, source, dest, rel) DO NOTHING
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.Source, dest(p.Target, p.URI), p.Target == "", p.Rel)
	return err
}

func (q *Queries) RemoveEMOLink(ctx context.Context, p EMOLinkParams) error {
	const query = `
DELETE FROM rel_emo_links
WHERE world_id = $1 AND branch = $2 AND source = $3 AND dest = $4 AND rel = $5
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.Source, dest(p.Target, p.URI), p.Rel)
	return err
}

type EMOLinkRow struct {
	Source     string
	Dest       string
	IsExternal bool
	Rel        string
}

func (q *Queries) ListEMOLinks(ctx context.Context, worldID pgtype.UUID, branch string) ([]EMOLinkRow, error) {
	const query = `
SELECT source, dest, is_external, rel FROM rel_emo_links
WHERE world_id = $1 AND branch = $2
ORDER BY source ASC, dest ASC, rel ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EMOLinkRow
	for rows.Next() {
		var l EMOLinkRow
		if err := rows.Scan(&l.Source, &l.Dest, &l.IsExternal, &l.Rel); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Truncate (admin rebuild) ---

func (q *Queries) Truncate(ctx context.Context, worldID pgtype.UUID, branch string) error {
	tables := []string{"rel_notes", "rel_tags", "rel_links", "rel_emo_current", "rel_emo_history", "rel_emo_links"}
	for _, t := range tables {
		if _, err := q.db.Exec(ctx, "DELETE FROM "+t+" WHERE world_id = $1 AND branch = $2", worldID, branch); err != nil {
			return err
		}
	}
	return nil
}
