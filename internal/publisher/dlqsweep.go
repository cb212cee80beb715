package publisher

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/eventstore"
)

// DLQSweep wraps robfig/cron to run a low-frequency housekeeping job that
// logs dead-letter-queue growth, the same library and shape as
// notification-service's CronScheduler, repurposed from "publish tick
// events to NATS" to "run a periodic in-process diagnostic" since the
// publisher has no message broker to tick other services through.
type DLQSweep struct {
	cron   *cron.Cron
	store  *eventstore.Store
	logger *zap.Logger
}

// NewDLQSweep builds a sweep scheduled on the given cron spec (default
// "@hourly" when empty, matching the teacher's CronScheduler default).
func NewDLQSweep(store *eventstore.Store, spec string, logger *zap.Logger) *DLQSweep {
	if spec == "" {
		spec = "@hourly"
	}
	s := &DLQSweep{cron: cron.New(cron.WithSeconds()), store: store, logger: logger}
	if _, err := s.cron.AddFunc(normalizeSpec(spec), s.sweep); err != nil {
		logger.Error("failed to register dlq sweep job", zap.Error(err))
	}
	return s
}

// normalizeSpec accepts both seconds-precision crontabs and the bare
// "@hourly"-style macros the teacher's scheduler uses; cron.WithSeconds()
// only changes positional parsing for five-or-six-field expressions, not
// macros, so macros pass through unchanged.
func normalizeSpec(spec string) string {
	return spec
}

// Start begins the sweep's cron schedule.
func (s *DLQSweep) Start() {
	s.cron.Start()
	s.logger.Info("dlq sweep scheduled")
}

// Stop gracefully drains any in-flight sweep before returning, matching
// CronScheduler.Stop's <-ctx.Done() drain.
func (s *DLQSweep) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("dlq sweep stopped")
}

func (s *DLQSweep) sweep() {
	ctx := context.Background()
	entries, err := s.store.ListDeadLetters(ctx, 1000)
	if err != nil {
		s.logger.Error("dlq sweep: list dead letters failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		s.logger.Debug("dlq sweep: no dead letters")
		return
	}
	s.logger.Warn("dlq sweep: dead letters present",
		zap.Int("count", len(entries)),
		zap.Int64("most_recent_global_seq", entries[0].GlobalSeq),
		zap.String("most_recent_reason", entries[0].Reason),
	)
}
