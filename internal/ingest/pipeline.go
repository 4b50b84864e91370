// Package ingest runs one document through extraction, parsing, normalization
// and persistence. The mailbox watcher and the upload handler share it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-intake/internal/llm"
	"resume-intake/internal/normalize"
	"resume-intake/internal/storage"
	"resume-intake/internal/storage/models"
	"resume-intake/internal/tracing"
)

var tracer = otel.Tracer("resume-intake/ingest")

// Attachment is one raw document handed to the pipeline.
type Attachment struct {
	Filename string
	Data     []byte
	Source   string // models.SourceEmail or models.SourceUpload
}

// Result describes a successful run.
type Result struct {
	ID            string
	FilePath      string
	Candidate     normalize.Candidate
	HasCategories bool
}

// TextExtractor turns a document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// FieldExtractor asks the model for candidate fields and topic categories.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text string) (string, error)
	ExtractCategories(ctx context.Context, fieldsJSON string) (string, error)
}

// CandidateWriter persists runs and queues their events.
type CandidateWriter interface {
	Persist(ctx context.Context, in storage.Ingestion) error
	EnqueueEvent(ctx context.Context, exchange, routingKey string, evt storage.CandidateIngestedEvent) error
}

// Deduper records content digests. CheckAndAddDigest reports whether the
// digest was already known.
type Deduper interface {
	CheckAndAddDigest(ctx context.Context, digest string) (bool, error)
	RemoveDigest(ctx context.Context, digest string) error
}

// Pipeline is safe for sequential use; it holds no per-run state.
type Pipeline struct {
	attachments AttachmentStore
	text        TextExtractor
	fields      FieldExtractor
	store       CandidateWriter

	deduper    Deduper
	categories bool
	exchange   string
	routingKey string

	log   zerolog.Logger
	newID func() (string, error)
	now   func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDeduper turns on content dedupe.
func WithDeduper(d Deduper) Option {
	return func(p *Pipeline) {
		p.deduper = d
	}
}

// WithCategories turns the topic categories request on or off.
func WithCategories(enabled bool) Option {
	return func(p *Pipeline) {
		p.categories = enabled
	}
}

// WithEvents sets where candidate.ingested events are routed. Without it no
// outbox row is written.
func WithEvents(exchange, routingKey string) Option {
	return func(p *Pipeline) {
		p.exchange = exchange
		p.routingKey = routingKey
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(f func() (string, error)) Option {
	return func(p *Pipeline) {
		p.newID = f
	}
}

func newV7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// New assembles a pipeline from its stages.
func New(attachments AttachmentStore, text TextExtractor, fields FieldExtractor, store CandidateWriter, opts ...Option) *Pipeline {
	p := &Pipeline{
		attachments: attachments,
		text:        text,
		fields:      fields,
		store:       store,
		categories:  true,
		log:         zerolog.Nop(),
		newID:       newV7,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest runs one attachment end to end. Every failure is a *StageError. A
// failure after the compact record was written leaves that record in place.
func (p *Pipeline) Ingest(ctx context.Context, att Attachment) (*Result, error) {
	if att.Source == "" {
		att.Source = models.SourceEmail
	}

	ctx, span := tracer.Start(ctx, "Pipeline.Ingest", trace.WithAttributes(
		attribute.String("attachment.name", att.Filename),
		attribute.String("attachment.source", att.Source),
		attribute.Int("attachment.size", len(att.Data)),
	))
	defer span.End()

	log := p.log.With().Str("file", att.Filename).Logger()
	runID, err := p.newID()
	if err != nil {
		err = fmt.Errorf("generate run id: %w", err)
		tracing.RecordError(span, err, tracing.ErrorTypeInternal, attribute.String("ingest.stage", StageAssignID))
		log.Error().Err(err).Str("stage", StageAssignID).Msg("ingestion failed")
		return nil, stageErr("", StageAssignID, att.Filename, err)
	}
	span.SetAttributes(attribute.String("run.id", runID))
	log = log.With().Str("run_id", runID).Logger()

	fail := func(stage string, kind tracing.ErrorType, err error) (*Result, error) {
		tracing.RecordError(span, err, kind, attribute.String("ingest.stage", stage))
		log.Error().Err(err).Str("stage", stage).Msg("ingestion failed")
		return nil, stageErr(runID, stage, att.Filename, err)
	}

	if len(att.Data) == 0 {
		return fail(StageSave, tracing.ErrorTypeValidation, ErrEmptyDocument)
	}

	// Dedupe runs before the save so a rejected duplicate never touches the
	// attachment store.
	digest := storage.ContentDigest(att.Data)
	marked := false
	if p.deduper != nil {
		exists, err := p.deduper.CheckAndAddDigest(ctx, digest)
		if err != nil {
			return fail(StageDedupe, tracing.ErrorTypeRedis, err)
		}
		if exists {
			log.Info().Str("digest", digest).Msg("duplicate document skipped")
			return nil, stageErr(runID, StageDedupe, att.Filename, ErrDuplicateDocument)
		}
		marked = true
	}
	// Forget the digest when the run dies before anything was written, so the
	// same document can be retried.
	unmark := func() {
		if !marked {
			return
		}
		if err := p.deduper.RemoveDigest(context.WithoutCancel(ctx), digest); err != nil {
			log.Warn().Err(err).Msg("failed to roll back content digest")
		}
	}

	filePath, err := p.attachments.Save(ctx, runID, att.Filename, att.Data)
	if err != nil {
		unmark()
		return fail(StageSave, tracing.ErrorTypeStorage, err)
	}
	log.Debug().Str("path", filePath).Msg("attachment saved")

	text, err := p.text.Extract(ctx, att.Filename, att.Data)
	if err != nil {
		unmark()
		return fail(StageExtract, tracing.ErrorTypeExtraction, err)
	}
	span.SetAttributes(attribute.Int("text.length", len(text)))

	reply, err := p.fields.ExtractFields(ctx, text)
	if err != nil {
		unmark()
		return fail(StageFields, tracing.ErrorTypeLLM, err)
	}
	fields, err := llm.DecodeReply(reply)
	if err != nil {
		unmark()
		log.Debug().Str("reply", tracing.SafeText(reply)).Msg("undecodable model reply")
		return fail(StageDecode, tracing.ErrorTypeLLM, err)
	}

	var categories map[string]any
	if p.categories {
		categories = extractCategories(ctx, p.fields, log, fields)
	}

	candidate := normalize.Normalize(fields, text)

	in := storage.Ingestion{
		ID:         runID,
		FileName:   att.Filename,
		FilePath:   filePath,
		Source:     att.Source,
		Digest:     digest,
		Candidate:  candidate,
		Categories: categories,
	}
	if err := p.store.Persist(ctx, in); err != nil {
		if !errors.Is(err, storage.ErrRichWrite) {
			unmark()
		}
		return fail(StagePersist, tracing.ErrorTypeDB, err)
	}

	if p.exchange != "" {
		evt := storage.CandidateIngestedEvent{
			CandidateID: runID,
			FileName:    att.Filename,
			Source:      att.Source,
			FullName:    candidate.FullName,
			Email:       candidate.Email,
			Skills:      candidate.Skills,
			IngestedAt:  p.now().UTC(),
		}
		if err := p.store.EnqueueEvent(ctx, p.exchange, p.routingKey, evt); err != nil {
			log.Warn().Err(err).Msg("failed to enqueue ingested event")
		}
	}

	log.Info().
		Str("candidate", tracing.MaskPII(candidate.FullName)).
		Int("skills", len(candidate.Skills)).
		Bool("categories", categories != nil).
		Msg("candidate ingested")

	return &Result{
		ID:            runID,
		FilePath:      filePath,
		Candidate:     candidate,
		HasCategories: categories != nil,
	}, nil
}

// extractCategories is best-effort: any failure yields nil and the run goes on.
func extractCategories(ctx context.Context, extractor FieldExtractor, log zerolog.Logger, fields map[string]any) map[string]any {
	reply, err := extractor.ExtractCategories(ctx, normalize.JSON(fields))
	if err != nil {
		log.Warn().Err(err).Str("stage", StageCategories).Msg("category extraction failed")
		return nil
	}
	categories, err := llm.DecodeReply(reply)
	if err != nil {
		log.Warn().Err(err).Str("stage", StageCategories).Msg("category reply not decodable")
		return nil
	}
	return categories
}
