// Package watermark tracks each projector's last-processed global_seq per
// (world_id, branch), with compare-and-swap advancement so a projector can
// never silently skip or double-apply a batch (spec §4.4).
package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mnemonic-nexus/mnx/internal/eventstore/db"
	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
)

// Watermark is a single projector's consumption cursor for one
// (world_id, branch) pair.
type Watermark struct {
	ProjectorName     string
	WorldID           uuid.UUID
	Branch            string
	LastProcessedSeq  int64
	DeterminismHash   string
	UpdatedAt         time.Time
}

// Store is the watermark repository. It is given a db.DBTX rather than a
// pool directly so the Projector SDK can advance the watermark inside the
// same transaction that applies a lens's UPSERTs (spec §4.4's "apply +
// watermark advance is one atomic unit" rule).
type Store struct {
	db db.DBTX
}

// New binds a watermark Store to a pool or an in-flight transaction.
func New(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

// Get fetches the current watermark, returning the zero-value Watermark
// with LastProcessedSeq 0 (not an error) if the projector has never run
// against this (world_id, branch) before — a fresh projector legitimately
// starts at zero.
func (s *Store) Get(ctx context.Context, projector string, worldID uuid.UUID, branch string) (Watermark, error) {
	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return Watermark{}, fmt.Errorf("%w: invalid world_id", apierr.ErrValidation)
	}
	const query = `
SELECT projector_name, world_id, branch, last_processed_seq, determinism_hash, updated_at
FROM watermarks
WHERE projector_name = $1 AND world_id = $2 AND branch = $3
`
	row := s.db.QueryRow(ctx, query, projector, worldUUID, branch)
	w, err := scanWatermark(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Watermark{ProjectorName: projector, WorldID: worldID, Branch: branch}, nil
		}
		return Watermark{}, fmt.Errorf("get watermark: %w", err)
	}
	return w, nil
}

// Advance performs a conditional update: it sets last_processed_seq to
// newSeq only if the row does not yet exist or its current
// last_processed_seq is strictly less than newSeq (spec §4.4 invariant 3).
// Re-delivery of an already-processed (or lower) global_seq is a no-op:
// Advance returns applied=false rather than an error, so the caller (the
// SDK's receive handler) can still respond 200 without having regressed the
// watermark.
func (s *Store) Advance(ctx context.Context, projector string, worldID uuid.UUID, branch string, newSeq int64, determinismHash string) (applied bool, err error) {
	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return false, fmt.Errorf("%w: invalid world_id", apierr.ErrValidation)
	}

	const upsertQuery = `
INSERT INTO watermarks (projector_name, world_id, branch, last_processed_seq, determinism_hash, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (projector_name, world_id, branch)
DO UPDATE SET last_processed_seq = $4, determinism_hash = $5, updated_at = now()
WHERE watermarks.last_processed_seq < $4
`
	tag, err := s.db.Exec(ctx, upsertQuery, projector, worldUUID, branch, newSeq, determinismHash)
	if err != nil {
		return false, fmt.Errorf("advance watermark: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Reset truncates the watermark for (projector, world_id, branch) back to
// zero, used by the Projector SDK's admin rebuild operation.
func (s *Store) Reset(ctx context.Context, projector string, worldID uuid.UUID, branch string) error {
	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return fmt.Errorf("%w: invalid world_id", apierr.ErrValidation)
	}
	const query = `
INSERT INTO watermarks (projector_name, world_id, branch, last_processed_seq, determinism_hash, updated_at)
VALUES ($1, $2, $3, 0, '', now())
ON CONFLICT (projector_name, world_id, branch)
DO UPDATE SET last_processed_seq = 0, determinism_hash = '', updated_at = now()
`
	_, err := s.db.Exec(ctx, query, projector, worldUUID, branch)
	return err
}

// ListByProjector returns every (world_id, branch) watermark row owned by
// projector, used by the Projector SDK's periodic state-hash tick to find
// which branches it has ever advanced without the caller needing to track
// that set itself.
func (s *Store) ListByProjector(ctx context.Context, projector string) ([]Watermark, error) {
	const query = `
SELECT projector_name, world_id, branch, last_processed_seq, determinism_hash, updated_at
FROM watermarks
WHERE projector_name = $1
`
	rows, err := s.db.Query(ctx, query, projector)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()

	var out []Watermark
	for rows.Next() {
		w, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWatermark(row scanner) (Watermark, error) {
	var (
		projector string
		worldUUID pgtype.UUID
		branch    string
		lastSeq   int64
		detHash   pgtype.Text
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&projector, &worldUUID, &branch, &lastSeq, &detHash, &updatedAt); err != nil {
		return Watermark{}, err
	}
	worldID, err := uuid.Parse(worldUUID.String())
	if err != nil {
		return Watermark{}, fmt.Errorf("parsing world_id: %w", err)
	}
	return Watermark{
		ProjectorName:    projector,
		WorldID:          worldID,
		Branch:           branch,
		LastProcessedSeq: lastSeq,
		DeterminismHash:  detHash.String,
		UpdatedAt:        updatedAt.Time,
	}, nil
}
