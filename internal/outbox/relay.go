// Package outbox relays candidate events from the outbox table to the broker.
package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resume-intake/internal/storage"
	"resume-intake/internal/storage/models"
	"resume-intake/internal/tracing"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	maxRetryCount          = 5
)

// Relay polls pending outbox rows and publishes them.
type Relay struct {
	db              *gorm.DB
	publisher       storage.Publisher
	log             zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	tracer          trace.Tracer
	now             func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize sets how many rows one poll claims.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) {
		r.log = l
	}
}

// NewRelay returns a relay publishing through publisher.
func NewRelay(db *gorm.DB, publisher storage.Publisher, opts ...Option) *Relay {
	r := &Relay{
		db:              db,
		publisher:       publisher,
		log:             zerolog.Nop(),
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		tracer:          otel.Tracer("resume-intake/outbox"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info().Dur("interval", r.pollingInterval).Msg("outbox relay started")
	ticker := time.NewTicker(r.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
			if err := r.processPending(ctx); err != nil {
				r.log.Error().Err(err).Msg("process pending outbox messages")
			}
		}
	}
}

// processPending claims a batch of pending rows, publishes them and records
// the outcome in the same transaction.
func (r *Relay) processPending(ctx context.Context) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	q := tx.Where("status = ?", models.OutboxPending).Order("created_at asc").Limit(r.batchSize)
	// SKIP LOCKED lets several instances drain the table. SQLite has no row locks.
	if r.db.Dialector.Name() == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var messages []models.OutboxMessage
	if err := q.Find(&messages).Error; err != nil {
		return err
	}
	if len(messages) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))))
	defer span.End()

	for _, msg := range messages {
		err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		if err != nil {
			msg.RetryCount++
			msg.ErrorMessage = err.Error()
			if msg.RetryCount >= maxRetryCount {
				msg.Status = models.OutboxFailed
			}
			tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
			r.log.Warn().Err(err).
				Uint64("message_id", msg.ID).
				Str("aggregate_id", msg.AggregateID).
				Int("retries", msg.RetryCount).
				Msg("publish outbox message")
		} else {
			now := r.now()
			msg.Status = models.OutboxSent
			msg.ProcessedAt = &now
			msg.ErrorMessage = ""
		}

		// A failed status write rolls back the batch; the rows are picked up again.
		if err := tx.Save(&msg).Error; err != nil {
			return err
		}
	}
	return tx.Commit().Error
}
