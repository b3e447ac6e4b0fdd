package event

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/db"
	"github.com/porterapp/porter/internal/metrics"
)

// TxBeginner opens the per-batch transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Acker is the acknowledgment handle for one delivered batch. Ack commits
// the whole batch's offsets; Nack schedules redelivery after a delay.
type Acker interface {
	Ack()
	Nack(delay time.Duration)
}

// Outcome is the result of one batch attempt.
type Outcome int

const (
	// OutcomeCommitted: the batch transaction committed and was acknowledged.
	OutcomeCommitted Outcome = iota
	// OutcomeRetry: the transaction rolled back and the batch will be
	// redelivered after the throttling delay.
	OutcomeRetry
)

// BatchProcessor processes one partition-ordered batch of events inside a
// single store transaction. Either every event's projected effect lands, or
// none does and the batch is retried as a unit (at-least-once, unbounded
// retry, no dead-lettering).
type BatchProcessor struct {
	db        TxBeginner
	parties   *db.PartyRepository
	projector *Projector
	throttle  time.Duration
	logger    *zap.Logger
}

// NewBatchProcessor creates a batch processor. throttle is the redelivery
// pause after a failed batch.
func NewBatchProcessor(database TxBeginner, parties *db.PartyRepository, projector *Projector, throttle time.Duration, logger *zap.Logger) *BatchProcessor {
	return &BatchProcessor{
		db:        database,
		parties:   parties,
		projector: projector,
		throttle:  throttle,
		logger:    logger,
	}
}

// HandleBatch runs the batch and resolves the ack. On success the whole
// batch is acknowledged at once; on any failure the transaction is rolled
// back, the batch is negatively acknowledged with the throttling delay, and
// the error is returned so the runtime surfaces the failure.
func (p *BatchProcessor) HandleBatch(ctx context.Context, batch []Envelope, ack Acker) (Outcome, error) {
	if len(batch) == 0 {
		ack.Ack()
		return OutcomeCommitted, nil
	}

	if err := p.processBatch(ctx, batch); err != nil {
		p.logger.Error("batch processing failed, scheduling redelivery",
			zap.Error(err),
			zap.Int("batch_size", len(batch)),
			zap.Duration("throttle", p.throttle),
		)
		metrics.RecordBatchRetried()
		ack.Nack(p.throttle)
		return OutcomeRetry, err
	}

	ack.Ack()
	metrics.RecordBatchCommitted(len(batch))
	p.logger.Info("batch committed", zap.Int("batch_size", len(batch)))
	return OutcomeCommitted, nil
}

func (p *BatchProcessor) processBatch(ctx context.Context, batch []Envelope) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := p.projector.ProjectBatch(ctx, p.parties.WithTx(tx), batch); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
