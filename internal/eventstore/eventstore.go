// Package eventstore implements the append-only event log and its
// transactional outbox (spec §4.1), grounded on abc-service's
// tx := pool.Begin → qtx := db.New(tx) → insert aggregate + insert outbox row
// → tx.Commit idiom (item_service.go's CreateItem) and on
// discovery-service's ScanPoller for claim-and-process semantics
// (scan_poller.go), generalized here with SELECT ... FOR UPDATE SKIP LOCKED
// for safe concurrent publisher instances.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/eventstore/db"
	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
	"github.com/mnemonic-nexus/mnx/internal/platform/canonicaljson"
)

// MaxAttempts bounds the outbox retry budget: an event is retried up to this
// many times, and the failed delivery after the last retry moves it to the
// dead letter queue (spec §4.3).
const MaxAttempts = 10

// BaseRetryDelay is the first backoff step; successive attempts use
// BaseRetryDelay * 2^min(attempts, MaxAttempts).
const BaseRetryDelay = 2 * time.Second

// Store is the event log + outbox repository. It owns the database
// transaction boundary for Append and borrows the caller's pool for reads.
type Store struct {
	pool    *pgxpool.Pool
	querier *db.Queries
}

// New builds a Store bound to pool for standalone queries; per-call
// transactions are opened internally where atomicity across the log and
// outbox tables is required.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, querier: db.New(pool)}
}

// AppendResult is the fully enriched record returned after a successful
// append.
type AppendResult struct {
	Event envelope.Enriched
}

// DuplicateIdempotencyKeyError is returned by Append when the partial
// unique index on (world_id, branch, idempotency_key) rejects a duplicate
// insert (spec §4.1/§4.2: "Fails with DuplicateIdempotencyKey ... surfaced
// as conflict to callers", "On duplicate idempotency key returns 409
// Conflict"). It carries the original event so the Gateway's 409 response
// body can still report {event_id, global_seq, received_at} — a client
// retrying with the same idempotency key learns the event_id its first
// attempt produced, even though the retry itself is rejected rather than
// silently replayed.
type DuplicateIdempotencyKeyError struct {
	Existing envelope.Enriched
}

func (e *DuplicateIdempotencyKeyError) Error() string {
	return fmt.Sprintf("idempotency key already used by event %s", e.Existing.EventID)
}

func (e *DuplicateIdempotencyKeyError) Unwrap() error {
	return apierr.ErrConflict
}

// Append validates nothing itself (the Gateway validates before calling
// in); it computes payload_hash, inserts the event_log row and its matching
// outbox row in one transaction, and returns the enriched record.
func (s *Store) Append(ctx context.Context, env envelope.Envelope) (AppendResult, error) {
	payloadHash, err := canonicaljson.SHA256Hex(env.Payload)
	if err != nil {
		return AppendResult{}, fmt.Errorf("%w: computing payload hash: %v", apierr.ErrValidation, err)
	}

	eventID, err := uuid.NewV7()
	if err != nil {
		return AppendResult{}, fmt.Errorf("generating event id: %w", err)
	}

	var worldUUID, eventUUID pgtype.UUID
	if err := worldUUID.Scan(env.WorldID.String()); err != nil {
		return AppendResult{}, fmt.Errorf("%w: invalid world_id: %v", apierr.ErrValidation, err)
	}
	if err := eventUUID.Scan(eventID.String()); err != nil {
		return AppendResult{}, fmt.Errorf("generating event id: %w", err)
	}

	occurredAt := time.Now().UTC()
	if env.OccurredAt != nil {
		occurredAt = env.OccurredAt.UTC()
	}

	var idemKey pgtype.Text
	if env.IdempotencyKey != "" {
		idemKey = pgtype.Text{String: env.IdempotencyKey, Valid: true}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AppendResult{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := db.New(tx)

	row, err := qtx.InsertEvent(ctx, db.InsertEventParams{
		EventID:        eventUUID,
		WorldID:        worldUUID,
		Branch:         env.Branch,
		Kind:           env.Kind,
		Payload:        env.Payload,
		PayloadHash:    payloadHash,
		ByAgent:        env.By.Agent,
		OccurredAt:     pgtype.Timestamptz{Time: occurredAt, Valid: true},
		Version:        int32(env.Version),
		IdempotencyKey: idemKey,
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, findErr := s.findByIdempotencyKey(ctx, env.WorldID, env.Branch, env.IdempotencyKey)
			if findErr != nil {
				return AppendResult{}, fmt.Errorf("%w: idempotency key already used but could not load existing event: %v", apierr.ErrConflict, findErr)
			}
			return AppendResult{}, &DuplicateIdempotencyKeyError{Existing: existing}
		}
		return AppendResult{}, fmt.Errorf("insert event: %w", err)
	}

	if err := qtx.InsertOutboxRow(ctx, row.GlobalSeq); err != nil {
		return AppendResult{}, fmt.Errorf("insert outbox row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, fmt.Errorf("commit append tx: %w", err)
	}

	return AppendResult{Event: toEnriched(row)}, nil
}

// findByIdempotencyKey is used only on the conflict path above; it performs
// a direct lookup rather than reusing ListEventsRange to keep the hot path
// (no conflict) free of an extra query.
func (s *Store) findByIdempotencyKey(ctx context.Context, worldID uuid.UUID, branch, key string) (envelope.Enriched, error) {
	const query = `
SELECT event_id, global_seq, world_id, branch, kind, payload, payload_hash, by_agent, occurred_at, received_at, version, idempotency_key
FROM event_log
WHERE world_id = $1 AND branch = $2 AND idempotency_key = $3
`
	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return envelope.Enriched{}, err
	}
	row := s.pool.QueryRow(ctx, query, worldUUID, branch, key)
	var e db.EventLogRow
	if err := row.Scan(&e.EventID, &e.GlobalSeq, &e.WorldID, &e.Branch, &e.Kind, &e.Payload,
		&e.PayloadHash, &e.ByAgent, &e.OccurredAt, &e.ReceivedAt, &e.Version, &e.IdempotencyKey); err != nil {
		return envelope.Enriched{}, err
	}
	return toEnriched(e), nil
}

// GetByID fetches a single event by its UUIDv7 identity within a world.
func (s *Store) GetByID(ctx context.Context, worldID uuid.UUID, eventID uuid.UUID) (envelope.Enriched, error) {
	var worldUUID, eventUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return envelope.Enriched{}, fmt.Errorf("%w: %v", apierr.ErrValidation, err)
	}
	if err := eventUUID.Scan(eventID.String()); err != nil {
		return envelope.Enriched{}, fmt.Errorf("%w: %v", apierr.ErrValidation, err)
	}
	row, err := s.querier.GetEventByID(ctx, worldUUID, eventUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return envelope.Enriched{}, fmt.Errorf("%w: event %s", apierr.ErrNotFound, eventID)
		}
		return envelope.Enriched{}, fmt.Errorf("get event: %w", err)
	}
	return toEnriched(row), nil
}

// ListRange returns events after afterSeq for (world_id, branch), capped at
// limit, ascending by global_seq. Used by the Gateway's range-read endpoint
// and by projectors that need to catch up outside the push path.
func (s *Store) ListRange(ctx context.Context, worldID uuid.UUID, branch string, afterSeq int64, limit int32) ([]envelope.Enriched, error) {
	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrValidation, err)
	}
	rows, err := s.querier.ListEventsRange(ctx, worldUUID, branch, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events range: %w", err)
	}
	out := make([]envelope.Enriched, 0, len(rows))
	for _, r := range rows {
		out = append(out, toEnriched(r))
	}
	return out, nil
}

// Head returns the highest global_seq appended for (world_id, branch), or 0
// if the branch has no events yet. Used by admin/diagnostic endpoints that
// need the true log head rather than the first page of a ListRange call.
func (s *Store) Head(ctx context.Context, worldID uuid.UUID, branch string) (int64, error) {
	var worldUUID pgtype.UUID
	if err := worldUUID.Scan(worldID.String()); err != nil {
		return 0, fmt.Errorf("%w: %v", apierr.ErrValidation, err)
	}
	head, err := s.querier.GetHeadSeq(ctx, worldUUID, branch)
	if err != nil {
		return 0, fmt.Errorf("get head seq: %w", err)
	}
	return head, nil
}

// ComputeDeterminismHash hashes a contiguous run of events, one
// `global_seq|event_id|kind|payload_hash` line per event, in ascending
// global_seq order (spec §4.1). Callers supply the slice already in order;
// this function does not re-sort so that projector state-hash computation
// and replay verification share one code path without an extra DB round
// trip for re-ordering.
func ComputeDeterminismHash(events []envelope.Enriched) string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("%d|%s|%s|%s", e.GlobalSeq, e.EventID, e.Kind, e.PayloadHash))
	}
	return canonicaljson.HashLines(lines)
}

// ToEnriched converts a raw event_log row into the wire-level envelope
// shape, exported so the CDC publisher can build delivery payloads from
// db.EventLogRow without duplicating the column mapping.
func ToEnriched(row db.EventLogRow) envelope.Enriched {
	return toEnriched(row)
}

func toEnriched(row db.EventLogRow) envelope.Enriched {
	worldID, _ := uuid.Parse(row.WorldID.String())
	eventID, _ := uuid.Parse(row.EventID.String())
	occurredAt := row.OccurredAt.Time
	var idemKey string
	if row.IdempotencyKey.Valid {
		idemKey = row.IdempotencyKey.String
	}
	return envelope.Enriched{
		Envelope: envelope.Envelope{
			WorldID:        worldID,
			Branch:         row.Branch,
			Kind:           row.Kind,
			Payload:        row.Payload,
			By:             envelope.By{Agent: row.ByAgent},
			OccurredAt:     &occurredAt,
			Version:        int(row.Version),
			IdempotencyKey: idemKey,
		},
		EventID:     eventID,
		GlobalSeq:   row.GlobalSeq,
		ReceivedAt:  row.ReceivedAt.Time,
		PayloadHash: row.PayloadHash,
	}
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the signal that a (world_id, branch, idempotency_key)
// partial unique index rejected a duplicate insert.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// NextRetryDelay returns the backoff duration before the next delivery
// attempt, per spec §4.3: base_delay * 2^min(attempts, MaxAttempts).
func NextRetryDelay(attempts int) time.Duration {
	n := attempts
	if n > MaxAttempts {
		n = MaxAttempts
	}
	delay := BaseRetryDelay
	for i := 0; i < n; i++ {
		delay *= 2
	}
	return delay
}
