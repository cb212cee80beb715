// Package db is the hand-written repository layer backing the EMO
// translator's per-emo_id version counter (spec §4.7).
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// VersionRow tracks the current synthesized emo_version for one
// memory-item id, plus whether it has already been translated as
// deleted (a further memory.item.deleted is then a no-op).
type VersionRow struct {
	ItemID  string
	Version int32
	Deleted bool
}

// GetVersion returns the current row, or a zero VersionRow with Version
// 0 if this item has never been translated before (first sighting).
func (q *Queries) GetVersion(ctx context.Context, worldID pgtype.UUID, branch, itemID string) (VersionRow, error) {
	const query = `
SELECT version, deleted
FROM translator_versions
WHERE world_id = $1 AND branch = $2 AND item_id = $3
`
	var row VersionRow
	row.ItemID = itemID
	err := q.db.QueryRow(ctx, query, worldID, branch, itemID).Scan(&row.Version, &row.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return row, nil
	}
	if err != nil {
		return VersionRow{}, err
	}
	return row, nil
}

// AdvanceVersion persists the new version/deleted state for an item,
// inserting the row on first sighting.
func (q *Queries) AdvanceVersion(ctx context.Context, worldID pgtype.UUID, branch, itemID string, version int32, deleted bool) error {
	const query = `
INSERT INTO translator_versions (world_id, branch, item_id, version, deleted)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (world_id, branch, item_id)
DO UPDATE SET version = $4, deleted = $5
`
	_, err := q.db.Exec(ctx, query, worldID, branch, itemID, version, deleted)
	return err
}

type VersionSnapshotRow struct {
	ItemID  string
	Version int32
	Deleted bool
}

// ListVersions returns every tracked item's current version state,
// sorted, for the translator's own determinism snapshot.
func (q *Queries) ListVersions(ctx context.Context, worldID pgtype.UUID, branch string) ([]VersionSnapshotRow, error) {
	const query = `
SELECT item_id, version, deleted
FROM translator_versions
WHERE world_id = $1 AND branch = $2
ORDER BY item_id ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VersionSnapshotRow
	for rows.Next() {
		var r VersionSnapshotRow
		if err := rows.Scan(&r.ItemID, &r.Version, &r.Deleted); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) Truncate(ctx context.Context, worldID pgtype.UUID, branch string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM translator_versions WHERE world_id = $1 AND branch = $2`, worldID, branch)
	return err
}
