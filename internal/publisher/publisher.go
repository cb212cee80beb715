// Package publisher implements the CDC Publisher (spec §4.3): a poller
// that claims due outbox rows, a pool of delivery workers that fan each
// claimed event out to every subscriber over HTTP, and a committer that
// serializes the resulting mark_published/mark_retry/move_to_dlq calls
// back onto the event store. Grounded on discovery-service's ScanPoller
// ticker-driven Run(ctx) shape, generalized into the three-task channel
// pipeline spec.md §9 describes for the publisher's concurrency design.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/eventstore"
	"github.com/mnemonic-nexus/mnx/internal/eventstore/db"
	"github.com/mnemonic-nexus/mnx/internal/platform/httpclient"
)

// receivePayload is the wire shape the Projector SDK's /events handler
// expects (spec §4.3 step 2), mirrored here rather than imported to keep
// the publisher independent of any one lens's transport package.
type receivePayload struct {
	GlobalSeq   int64             `json:"global_seq"`
	EventID     string            `json:"event_id"`
	Envelope    envelope.Envelope `json:"envelope"`
	PayloadHash string            `json:"payload_hash"`
}

// Subscriber is one projector (or the EMO translator) registered to
// receive every event on its own /events endpoint.
type Subscriber struct {
	Name string
	URL  string
}

// Publisher owns the poll/deliver/commit pipeline for one Gateway's
// event log.
type Publisher struct {
	store        *eventstore.Store
	subscribers  []Subscriber
	client       *httpclient.Client
	logger       *zap.Logger
	metrics      *Metrics
	publisherID  string
	workerCount  int
	batchSize    int32
	pollInterval time.Duration
}

// Config collects the tunables spec §6 recognizes for the publisher.
type Config struct {
	PublisherID  string
	WorkerCount  int
	BatchSize    int32
	PollInterval time.Duration
	RequestTimeout time.Duration
}

// New constructs a Publisher. Zero-valued Config fields fall back to the
// same conservative defaults discovery-service's ScanPoller applies to
// its own interval.
func New(store *eventstore.Store, subscribers []Subscriber, cfg Config, metrics *Metrics, logger *zap.Logger) *Publisher {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PublisherID == "" {
		cfg.PublisherID = "publisher-1"
	}
	return &Publisher{
		store:        store,
		subscribers:  subscribers,
		client:       httpclient.New(cfg.RequestTimeout),
		logger:       logger,
		metrics:      metrics,
		publisherID:  cfg.PublisherID,
		workerCount:  cfg.WorkerCount,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
	}
}

type deliveryResult struct {
	event    eventstore.ClaimedEvent
	duration time.Duration
	err      error
}

// Run starts the poll/deliver/commit pipeline and blocks until ctx is
// cancelled, matching discovery-service's "go poller.Run(ctx)" idiom so
// cmd/publisher can launch it as a single background goroutine.
func (p *Publisher) Run(ctx context.Context) {
	claimed := make(chan eventstore.ClaimedEvent, p.workerCount*2)
	results := make(chan deliveryResult, p.workerCount*2)

	var workers sync.WaitGroup
	workers.Add(p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		go func() {
			defer workers.Done()
			p.deliveryWorker(ctx, claimed, results)
		}()
	}

	committerDone := make(chan struct{})
	go func() {
		defer close(committerDone)
		p.committer(ctx, results)
	}()

	p.logger.Info("publisher started",
		zap.String("publisher_id", p.publisherID),
		zap.Int("workers", p.workerCount),
		zap.Duration("poll_interval", p.pollInterval),
		zap.Int("subscribers", len(p.subscribers)),
	)

	p.poll(ctx, claimed)

	close(claimed)
	workers.Wait()
	close(results)
	<-committerDone
	p.logger.Info("publisher stopped")
}

// poll is the ticker-driven loop that claims due outbox rows and hands
// them to the delivery workers, directly mirroring ScanPoller.Run's
// select-on-ticker-or-ctx.Done shape.
func (p *Publisher) poll(ctx context.Context, claimed chan<- eventstore.ClaimedEvent) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := p.store.ClaimBatch(ctx, p.batchSize)
			if err != nil {
				p.logger.Error("claim batch failed", zap.Error(err))
				continue
			}
			for _, c := range batch {
				select {
				case claimed <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// deliveryWorker reads claimed events and fans each one out to every
// subscriber, reusing webhook.go's http.Client-timeout-plus-status-
// classification shape without the HMAC signature since subscribers are
// internal, trusted endpoints (spec §4.3).
func (p *Publisher) deliveryWorker(ctx context.Context, claimed <-chan eventstore.ClaimedEvent, results chan<- deliveryResult) {
	for c := range claimed {
		start := time.Now()
		err := p.deliverToAll(ctx, c.Event)
		duration := time.Since(start)
		p.metrics.RecordPublishDuration(ctx, duration.Seconds())

		select {
		case results <- deliveryResult{event: c, duration: duration, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// deliverToAll posts event to every subscriber. A subscriber failure
// fails the whole delivery attempt — the event's attempts counter is
// shared across all subscribers rather than tracked per-subscriber, so a
// retry resends to every subscriber even if some already received it;
// subscriber-side UPSERT idempotency (spec §4.4) makes that safe.
func (p *Publisher) deliverToAll(ctx context.Context, event db.EventLogRow) error {
	claimed := eventstore.ClaimedEvent{Event: event}
	var errs []error
	for _, sub := range p.subscribers {
		if err := p.deliverOne(ctx, sub, claimed); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("delivery failed for %d/%d subscribers: %w", len(errs), len(p.subscribers), errs[0])
}

// committer serializes mark_published/mark_retry/move_to_dlq calls back
// onto the event store so concurrent delivery workers never race on the
// same outbox row's status transition.
func (p *Publisher) committer(ctx context.Context, results <-chan deliveryResult) {
	for res := range results {
		globalSeq := res.event.Event.GlobalSeq
		if res.err == nil {
			p.metrics.RecordPublished(ctx, 1)
			if err := p.store.MarkPublished(ctx, globalSeq); err != nil {
				p.logger.Error("mark published failed", zap.Int64("global_seq", globalSeq), zap.Error(err))
			}
			continue
		}

		p.metrics.RecordFailed(ctx, "delivery_error")
		p.logger.Warn("delivery failed",
			zap.Int64("global_seq", globalSeq),
			zap.Int32("attempts", res.event.Attempts),
			zap.Error(res.err),
		)
		if err := p.store.MarkFailed(ctx, globalSeq, res.event.Attempts, res.err); err != nil {
			p.logger.Error("mark failed/dlq transition failed", zap.Int64("global_seq", globalSeq), zap.Error(err))
		}
	}
}

// deliverOne posts the event to a single subscriber's /events endpoint.
func (p *Publisher) deliverOne(ctx context.Context, sub Subscriber, event eventstore.ClaimedEvent) error {
	enriched := eventstore.ToEnriched(event.Event)
	body := receivePayload{
		GlobalSeq:   enriched.GlobalSeq,
		EventID:     enriched.EventID.String(),
		Envelope:    enriched.Envelope,
		PayloadHash: enriched.PayloadHash,
	}
	resp, err := p.client.PostJSON(ctx, sub.URL+"/events", body, map[string]string{
		"X-Publisher-ID": p.publisherID,
	})
	if err != nil {
		return fmt.Errorf("subscriber %s: %w", sub.Name, err)
	}
	if resp.StatusCode != 200 && resp.StatusCode != 202 {
		return fmt.Errorf("subscriber %s returned %d: %s", sub.Name, resp.StatusCode, resp.Body)
	}
	return nil
}
