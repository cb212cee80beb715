package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mnemonic-nexus/mnx/internal/eventstore/db"
)

// ClaimedEvent pairs an outbox row's delivery state with the full event it
// refers to, the shape the CDC publisher's delivery workers operate on.
type ClaimedEvent struct {
	Event    db.EventLogRow
	Attempts int32
}

// claimLeaseDuration bounds how long a claimed row stays ineligible for
// re-claim after ClaimBatch commits, covering the HTTP delivery window that
// runs later, outside this transaction. It must comfortably exceed the
// publisher's per-subscriber request timeout so a row is never reclaimed
// while its delivery is still genuinely in flight; a crashed publisher
// simply lets the lease lapse instead of leaving the row claimed forever.
const claimLeaseDuration = 60 * time.Second

// ClaimBatch opens its own transaction, claims up to limit due outbox rows
// with SELECT ... FOR UPDATE SKIP LOCKED, flips them to 'delivering' under a
// lease that outlasts this transaction, loads the matching event_log rows,
// and commits. The row locks release back to Postgres at commit, but
// lease_expires_at keeps the claim exclusive until it lapses, so a
// concurrent publisher instance or the next poll tick cannot re-claim a row
// whose HTTP delivery (which happens later, outside any transaction) is
// still in flight. This function only performs the claim step; the caller
// settles each claimed row afterwards with MarkPublished / MarkRetry /
// MoveToDLQ.
func (s *Store) ClaimBatch(ctx context.Context, limit int32) ([]ClaimedEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := db.New(tx)
	rows, err := qtx.GetUnpublishedBatch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	leaseExpiresAt := time.Now().UTC().Add(claimLeaseDuration)
	out := make([]ClaimedEvent, 0, len(rows))
	for _, o := range rows {
		if err := qtx.MarkDelivering(ctx, o.GlobalSeq, leaseExpiresAt); err != nil {
			return nil, fmt.Errorf("mark delivering: %w", err)
		}
		const q = `
SELECT event_id, global_seq, world_id, branch, kind, payload, payload_hash, by_agent, occurred_at, received_at, version, idempotency_key
FROM event_log WHERE global_seq = $1
`
		row := tx.QueryRow(ctx, q, o.GlobalSeq)
		var e db.EventLogRow
		if err := row.Scan(&e.EventID, &e.GlobalSeq, &e.WorldID, &e.Branch, &e.Kind, &e.Payload,
			&e.PayloadHash, &e.ByAgent, &e.OccurredAt, &e.ReceivedAt, &e.Version, &e.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("load claimed event %d: %w", o.GlobalSeq, err)
		}
		out = append(out, ClaimedEvent{Event: e, Attempts: o.Attempts})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return out, nil
}

// MarkPublished confirms successful delivery of globalSeq to all of its
// subscribers.
func (s *Store) MarkPublished(ctx context.Context, globalSeq int64) error {
	return s.querier.MarkPublished(ctx, globalSeq)
}

// MarkFailed records a failed delivery attempt. When attempts has reached
// MaxAttempts it moves the event to the dead letter queue instead of
// scheduling another retry, per spec §4.3's poison-event handling.
func (s *Store) MarkFailed(ctx context.Context, globalSeq int64, attempts int32, cause error) error {
	if int(attempts) >= MaxAttempts {
		return s.querier.MoveToDLQ(ctx, globalSeq, cause.Error(), attempts)
	}
	next := time.Now().UTC().Add(NextRetryDelay(int(attempts)))
	return s.querier.MarkRetry(ctx, db.MarkRetryParams{
		GlobalSeq:   globalSeq,
		Attempts:    attempts + 1,
		NextAttempt: pgtype.Timestamptz{Time: next, Valid: true},
		LastError:   truncateError(cause),
	})
}

// ListDeadLetters returns the most recent DLQ entries for operator review.
func (s *Store) ListDeadLetters(ctx context.Context, limit int32) ([]db.DeadLetterRow, error) {
	return s.querier.ListDeadLetters(ctx, limit)
}

// Requeue resets a dead-lettered event to pending with a fresh attempt
// budget, used by the Gateway's admin replay path.
func (s *Store) Requeue(ctx context.Context, globalSeq int64) error {
	return s.querier.RequeueFromDLQ(ctx, globalSeq)
}

// truncateError bounds the last_error column to a sane width; delivery
// errors can otherwise include full response bodies.
func truncateError(err error) string {
	s := err.Error()
	const max = 2000
	if len(s) > max {
		return s[:max]
	}
	return s
}
