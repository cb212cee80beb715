// Package db is the hand-written repository layer for the semantic
// projector's embedding table (spec §4.6).
package db

import (
	"context"

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

// UpsertEmbeddingParams are the fields required to store one embedding row,
// keyed on (entity_id, entity_type, model_id).
type UpsertEmbeddingParams struct {
	WorldID       pgtype.UUID
	Branch        string
	EntityID      string
	EntityType    string
	ModelID       string
	ModelVersion  string
	TemplateID    string
	EMOVersion    int32
	Vector        []float32
}

func (q *Queries) UpsertEmbedding(ctx context.Context, p UpsertEmbeddingParams) error {
	const query = `
INSERT INTO sem_embeddings (world_id, branch, entity_id, entity_type, model_id, model_version, template_id, emo_version, vector)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (world_id, branch, entity_id, entity_type, model_id)
DO UPDATE SET model_version = $6, template_id = $7, emo_version = $8, vector = $9
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.EntityID, p.EntityType, p.ModelID, p.ModelVersion, p.TemplateID, p.EMOVersion, p.Vector)
	return err
}

func (q *Queries) DeleteEmbeddings(ctx context.Context, worldID pgtype.UUID, branch, entityID, entityType string) error {
	const query = `DELETE FROM sem_embeddings WHERE world_id = $1 AND branch = $2 AND entity_id = $3 AND entity_type = $4`
	_, err := q.db.Exec(ctx, query, worldID, branch, entityID, entityType)
	return err
}

type EmbeddingRow struct {
	EntityID     string
	EntityType   string
	ModelID      string
	ModelVersion string
	TemplateID   string
	EMOVersion   int32
}

// ListEmbeddingIdentities returns the (entity_id, entity_type, emo_version)
// triples plus model identity, excluding raw vector bytes, per spec
// §4.6's determinism caveat.
func (q *Queries) ListEmbeddingIdentities(ctx context.Context, worldID pgtype.UUID, branch string) ([]EmbeddingRow, error) {
	const query = `
SELECT entity_id, entity_type, model_id, model_version, template_id, emo_version
FROM sem_embeddings
WHERE world_id = $1 AND branch = $2
ORDER BY entity_id ASC, entity_type ASC, model_id ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EmbeddingRow
	for rows.Next() {
		var e EmbeddingRow
		if err := rows.Scan(&e.EntityID, &e.EntityType, &e.ModelID, &e.ModelVersion, &e.TemplateID, &e.EMOVersion); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) Truncate(ctx context.Context, worldID pgtype.UUID, branch string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM sem_embeddings WHERE world_id = $1 AND branch = $2`, worldID, branch)
	return err
}
