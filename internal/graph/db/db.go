// Package db is the hand-written repository layer for the graph
// projector's node and edge tables (spec §4.7).
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

// UpsertNodeParams describes one graph node, one per EMO or note.
type UpsertNodeParams struct {
	WorldID    pgtype.UUID
	Branch     string
	NodeID     string
	NodeType   string
	Label      string
	Deleted    bool
}

func (q *Queries) UpsertNode(ctx context.Context, p UpsertNodeParams) error {
	const query = `
INSERT INTO graph_nodes (world_id, branch, node_id, node_type, label, deleted)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (world_id, branch, node_id)
DO UPDATE SET node_type = $4, label = $5, deleted = $6
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.NodeID, p.NodeType, p.Label, p.Deleted)
	return err
}

// SoftDeleteNode marks a node deleted without removing its row, so edges
// referencing it remain intact for audit (spec §4.7: "deletion of a node
// is soft; edges referencing it are preserved").
func (q *Queries) SoftDeleteNode(ctx context.Context, worldID pgtype.UUID, branch, nodeID string) error {
	const query = `UPDATE graph_nodes SET deleted = true WHERE world_id = $1 AND branch = $2 AND node_id = $3`
	_, err := q.db.Exec(ctx, query, worldID, branch, nodeID)
	return err
}

type NodeRow struct {
	NodeID   string
	NodeType string
	Label    string
	Deleted  bool
}

func (q *Queries) ListNodes(ctx context.Context, worldID pgtype.UUID, branch string) ([]NodeRow, error) {
	const query = `
SELECT node_id, node_type, label, deleted
FROM graph_nodes
WHERE world_id = $1 AND branch = $2
ORDER BY node_id ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NodeRow
	for rows.Next() {
		var n NodeRow
		if err := rows.Scan(&n.NodeID, &n.NodeType, &n.Label, &n.Deleted); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// EdgeParams describes one directed, typed edge between two nodes.
type EdgeParams struct {
	WorldID  pgtype.UUID
	Branch   string
	SrcID    string
	DstID    string
	EdgeType string
}

func (q *Queries) AddEdge(ctx context.Context, p EdgeParams) error {
	const query = `
INSERT INTO graph_edges (world_id, branch, src_id, dst_id, edge_type)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (world_id, branch, src_id, dst_id, edge_type) DO NOTHING
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.SrcID, p.DstID, p.EdgeType)
	return err
}

func (q *Queries) RemoveEdge(ctx context.Context, p EdgeParams) error {
	const query = `
DELETE FROM graph_edges
WHERE world_id = $1 AND branch = $2 AND src_id = $3 AND dst_id = $4 AND edge_type = $5
`
	_, err := q.db.Exec(ctx, query, p.WorldID, p.Branch, p.SrcID, p.DstID, p.EdgeType)
	return err
}

type EdgeRow struct {
	SrcID    string
	DstID    string
	EdgeType string
}

func (q *Queries) ListEdges(ctx context.Context, worldID pgtype.UUID, branch string) ([]EdgeRow, error) {
	const query = `
SELECT src_id, dst_id, edge_type
FROM graph_edges
WHERE world_id = $1 AND branch = $2
ORDER BY src_id ASC, dst_id ASC, edge_type ASC
`
	rows, err := q.db.Query(ctx, query, worldID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EdgeRow
	for rows.Next() {
		var e EdgeRow
		if err := rows.Scan(&e.SrcID, &e.DstID, &e.EdgeType); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) Truncate(ctx context.Context, worldID pgtype.UUID, branch string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM graph_edges WHERE world_id = $1 AND branch = $2`, worldID, branch); err != nil {
		return err
	}
	_, err := q.db.Exec(ctx, `DELETE FROM graph_nodes WHERE world_id = $1 AND branch = $2`, worldID, branch)
	return err
}
