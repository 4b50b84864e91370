// Package mailbox polls an IMAP folder for unseen messages and feeds their
// resume attachments into the ingestion pipeline.
package mailbox

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"resume-intake/internal/ingest"
	"resume-intake/internal/storage/models"
	"resume-intake/internal/tracing"
)

const DefaultPollInterval = 20 * time.Second

var tracer = otel.Tracer("resume-intake/mailbox")

// Ingester runs one ingestion. *ingest.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, att ingest.Attachment) (*ingest.Result, error)
}

// Watcher owns the poll loop. It is meant to run in a single goroutine.
type Watcher struct {
	dial     Dialer
	ingester Ingester
	filter   Filter
	interval time.Duration
	log      zerolog.Logger
}

// Stats summarizes one poll.
type Stats struct {
	Messages int
	Ingested int
	Failed   int
	Skipped  int
}

type Option func(*Watcher)

// WithInterval sets the delay between polls.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithExtensions sets the accepted attachment extensions.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) {
		w.filter = NewFilter(exts)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) {
		w.log = l
	}
}

func NewWatcher(dial Dialer, ingester Ingester, opts ...Option) *Watcher {
	w := &Watcher{
		dial:     dial,
		ingester: ingester,
		filter:   NewFilter(nil),
		interval: DefaultPollInterval,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled. Errors are logged and never stop the
// loop; the fixed delay applies after every iteration, failed or not.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("mailbox watcher started")
	for {
		if _, err := w.Poll(ctx); err != nil {
			w.log.Error().Err(err).Msg("mailbox poll failed")
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("mailbox watcher stopped")
			return
		case <-time.After(w.interval):
		}
	}
}

// Poll runs one connect, search, ingest, logout cycle. Attachments are ingested
// sequentially; a failed ingestion is counted and the cycle continues.
func (w *Watcher) Poll(ctx context.Context) (Stats, error) {
	ctx, span := tracer.Start(ctx, "Watcher.Poll")
	defer span.End()

	var stats Stats
	sess, err := w.dial(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeMailbox)
		return stats, err
	}
	defer func() {
		if err := sess.Logout(); err != nil {
			w.log.Warn().Err(err).Msg("mailbox logout failed")
		}
	}()

	messages, err := sess.FetchUnseen(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeMailbox)
		// Messages read before the error are still processed.
		w.log.Error().Err(err).Int("fetched", len(messages)).Msg("fetch unseen failed")
	}
	stats.Messages = len(messages)

	for i, raw := range messages {
		if ctx.Err() != nil {
			break
		}
		attachments, skipped, perr := w.filter.Extract(bytes.NewReader(raw))
		stats.Skipped += skipped
		if perr != nil {
			w.log.Warn().Err(perr).Int("message", i).Msg("malformed message")
		}
		for _, att := range attachments {
			w.log.Info().Str("file", att.Filename).Msg("attachment found")
			_, ierr := w.ingester.Ingest(ctx, ingest.Attachment{
				Filename: att.Filename,
				Data:     att.Data,
				Source:   models.SourceEmail,
			})
			if ierr != nil {
				stats.Failed++
				w.log.Error().Err(ierr).Str("file", att.Filename).Msg("attachment ingestion failed")
				continue
			}
			stats.Ingested++
		}
	}

	span.SetAttributes(
		attribute.Int("mailbox.messages", stats.Messages),
		attribute.Int("mailbox.ingested", stats.Ingested),
		attribute.Int("mailbox.failed", stats.Failed),
		attribute.Int("mailbox.skipped", stats.Skipped),
	)
	if stats.Messages > 0 {
		w.log.Info().
			Int("messages", stats.Messages).
			Int("ingested", stats.Ingested).
			Int("failed", stats.Failed).
			Int("skipped", stats.Skipped).
			Msg("mailbox poll done")
	}
	return stats, err
}
