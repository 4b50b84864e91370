package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"resume-intake/internal/tracing"
)

const fieldsPrompt = `You are an AI bot designed to act as a professional for parsing resumes.
You are given the resume and your job is to extract the following information:
1. full name
2. email id
3. github portfolio
4. linkedin id
5. Education
6. Skills
7. Key Projects
8. Internships
Give the extracted information in JSON format.`

const categoriesPrompt = `You are an AI assistant that prepares personalized technical interviews based on a candidate's resume.

Below is a JSON object containing a candidate's extracted resume data.

Your task:
1. Carefully analyze all sections (skills, frameworks, projects, internships, etc.).
2. Identify and group interview-relevant topics into clear categories.
3. Avoid duplicates and keep each topic concise and specific (e.g. "Python", "TensorFlow", "REST APIs").
4. Return the output in clean JSON format with the following structure:

{
  "technical_skills": ["Python", "Java", ...],
  "frameworks_libraries": ["Flask", "Django", ...],
  "projects_topics": ["..."],
  "conceptual_topics": ["Machine Learning", ...],
  "databases_cloud": ["MySQL", "Docker", ...],
  "roles_experience": ["Backend Development", ...]
}

Important notes:
- Do not repeat the same topic in multiple lists.
- Only include items that are relevant for interview question generation.
- Keep the final JSON clean, without extra text or commentary.`

const (
	DefaultMaxTokens = 2500
)

// ErrEmptyModelReply is returned when the model answers with no content.
var ErrEmptyModelReply = errors.New("model returned an empty reply")

var tracer = otel.Tracer("resume-intake/llm")

// FieldExtractor asks the chat model for candidate fields. Replies are
// returned as text and never schema-validated here.
type FieldExtractor struct {
	model       model.BaseChatModel
	temperature float32
	maxTokens   int
	log         zerolog.Logger
}

// ExtractorOption configures a FieldExtractor.
type ExtractorOption func(*FieldExtractor)

// WithTemperature overrides the sampling temperature (default 0).
func WithTemperature(t float32) ExtractorOption {
	return func(f *FieldExtractor) {
		f.temperature = t
	}
}

// WithMaxTokens overrides the reply budget.
func WithMaxTokens(n int) ExtractorOption {
	return func(f *FieldExtractor) {
		if n > 0 {
			f.maxTokens = n
		}
	}
}

// WithExtractorLogger sets the extractor logger.
func WithExtractorLogger(l zerolog.Logger) ExtractorOption {
	return func(f *FieldExtractor) {
		f.log = l
	}
}

// NewFieldExtractor wraps m.
func NewFieldExtractor(m model.BaseChatModel, opts ...ExtractorOption) *FieldExtractor {
	f := &FieldExtractor{
		model:     m,
		maxTokens: DefaultMaxTokens,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ExtractFields returns the model's reply for the resume text.
func (f *FieldExtractor) ExtractFields(ctx context.Context, text string) (string, error) {
	return f.ask(ctx, "ExtractFields", fieldsPrompt, text)
}

// ExtractCategories groups interview topics from the JSON-encoded fields.
func (f *FieldExtractor) ExtractCategories(ctx context.Context, fieldsJSON string) (string, error) {
	return f.ask(ctx, "ExtractCategories", categoriesPrompt, fieldsJSON)
}

// ask runs one system+user turn.
func (f *FieldExtractor) ask(ctx context.Context, op, system, user string) (string, error) {
	ctx, span := tracer.Start(ctx, "FieldExtractor."+op)
	defer span.End()
	span.SetAttributes(attribute.Int("llm.input_length", len(user)))

	start := time.Now()
	msg, err := f.model.Generate(ctx,
		[]*schema.Message{schema.SystemMessage(system), schema.UserMessage(user)},
		model.WithTemperature(f.temperature),
		model.WithMaxTokens(f.maxTokens),
	)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if msg == nil || msg.Content == "" {
		tracing.RecordError(span, ErrEmptyModelReply, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("%s: %w", op, ErrEmptyModelReply)
	}

	span.SetAttributes(attribute.Int("llm.reply_length", len(msg.Content)))
	f.log.Debug().
		Str("op", op).
		Dur("took", time.Since(start)).
		Str("reply", tracing.SafeText(msg.Content)).
		Msg("model replied")
	return msg.Content, nil
}
