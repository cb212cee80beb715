// Package branch implements the branch registry: the (world_id,
// branch_name) namespace every event and projection lives under, plus
// optional parent-branch lineage for forked worlds (spec §3).
package branch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
)

// Branch is one registered (world_id, name) namespace.
type Branch struct {
	WorldID      uuid.UUID
	Name         string
	ParentBranch string
	CreatedAt    time.Time
	CreatedBy    string
	Metadata     []byte // raw JSON, opaque to the registry itself
}

// Registry is the branch repository.
type Registry struct {
	pool *pgxpool.Pool
}

// New builds a branch Registry bound to pool.
func New(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// CreateParams are the fields required to register a new branch.
type CreateParams struct {
	WorldID      uuid.UUID
	Name         string
	ParentBranch string // empty for a root branch
	CreatedBy    string
	Metadata     []byte
}

// Create registers a new branch. If ParentBranch is set it must already
// exist for the same world_id; the registry does not create parents
// implicitly, matching the teacher's pattern of pre-validating foreign
// references before insert (abc-service's CreateItem requires an existing
// CategoryID rather than creating one on the fly).
func (r *Registry) Create(ctx context.Context, p CreateParams) (Branch, error) {
	if p.Name == "" {
		return Branch{}, fmt.Errorf("%w: branch name is required", apierr.ErrValidation)
	}
	if p.CreatedBy == "" {
		return Branch{}, fmt.Errorf("%w: created_by is required", apierr.ErrValidation)
	}

	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(p.WorldID.String()); err != nil {
		return Branch{}, fmt.Errorf("%w: invalid world_id", apierr.ErrValidation)
	}

	if p.ParentBranch != "" {
		if _, err := r.Get(ctx, p.WorldID, p.ParentBranch); err != nil {
			return Branch{}, fmt.Errorf("%w: parent_branch %q does not exist", apierr.ErrValidation, p.ParentBranch)
		}
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = []byte("{}")
	}

	const query = `
INSERT INTO branch_registry (world_id, name, parent_branch, created_by, metadata)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
RETURNING world_id, name, COALESCE(parent_branch, ''), created_at, created_by, metadata
`
	row := r.pool.QueryRow(ctx, query, worldUUID, p.Name, p.ParentBranch, p.CreatedBy, metadata)
	return scanBranch(row)
}

// Get fetches a single branch by (world_id, name).
func (r *Registry) Get(ctx context.Context, worldID uuid.UUID, name string) (Branch, error) {
	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return Branch{}, fmt.Errorf("%w: invalid world_id", apierr.ErrValidation)
	}
	const query = `
SELECT world_id, name, COALESCE(parent_branch, ''), created_at, created_by, metadata
FROM branch_registry
WHERE world_id = $1 AND name = $2
`
	row := r.pool.QueryRow(ctx, query, worldUUID, name)
	b, err := scanBranch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, fmt.Errorf("%w: branch %q", apierr.ErrNotFound, name)
		}
		return Branch{}, err
	}
	return b, nil
}

// List returns every branch registered for a world.
func (r *Registry) List(ctx context.Context, worldID uuid.UUID) ([]Branch, error) {
	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return nil, fmt.Errorf("%w: invalid world_id", apierr.ErrValidation)
	}
	const query = `
SELECT world_id, name, COALESCE(parent_branch, ''), created_at, created_by, metadata
FROM branch_registry
WHERE world_id = $1
ORDER BY created_at ASC
`
	rows, err := r.pool.Query(ctx, query, worldUUID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBranch(row scanner) (Branch, error) {
	var (
		worldUUID pgtype.UUID
		name      string
		parent    string
		createdAt pgtype.Timestamptz
		createdBy string
		metadata  []byte
	)
	if err := row.Scan(&worldUUID, &name, &parent, &createdAt, &createdBy, &metadata); err != nil {
		return Branch{}, err
	}
	worldID, err := uuid.Parse(worldUUID.String())
	if err != nil {
		return Branch{}, fmt.Errorf("parsing world_id: %w", err)
	}
	return Branch{
		WorldID:      worldID,
		Name:         name,
		ParentBranch: parent,
		CreatedAt:    createdAt.Time,
		CreatedBy:    createdBy,
		Metadata:     metadata,
	}, nil
}
