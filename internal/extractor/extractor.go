// Package extractor turns an attachment into plain text, dispatching on the
// file extension.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoparser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"resume-intake/internal/tracing"
)

var tracer = otel.Tracer("resume-intake/extractor")

// Kind is the extraction strategy chosen for an extension.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPDF
	KindWord
	KindImage
)

var kinds = map[string]Kind{
	".pdf":  KindPDF,
	".doc":  KindWord,
	".docx": KindWord,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".bmp":  KindImage,
	".webp": KindImage,
}

// KindOf classifies filename by its extension, case-insensitively.
func KindOf(filename string) Kind {
	return kinds[strings.ToLower(filepath.Ext(filename))]
}

// SupportedExtensions lists every extension Extract accepts, sorted.
func SupportedExtensions() []string {
	out := make([]string, 0, len(kinds))
	for ext := range kinds {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// OCR detects text in an image.
type OCR interface {
	DetectText(ctx context.Context, image []byte) (string, error)
}

// wordConverter converts a Word document to text.
type wordConverter func(data []byte, mimeType string) (string, error)

// Extractor extracts text from PDF, Word and image attachments.
type Extractor struct {
	pdf  einoparser.Parser
	word wordConverter
	ocr  OCR
	log  zerolog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR sets the image text detector. Without one, images fail with
// ErrMissingCredentials.
func WithOCR(ocr OCR) Option {
	return func(e *Extractor) {
		e.ocr = ocr
	}
}

// WithLogger sets the extractor logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Extractor) {
		e.log = l
	}
}

// WithPDFParser replaces the PDF parser.
func WithPDFParser(p einoparser.Parser) Option {
	return func(e *Extractor) {
		e.pdf = p
	}
}

// New builds an Extractor. The PDF parser splits documents into pages.
func New(ctx context.Context, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		word: convertWord,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pdf == nil {
		p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: true})
		if err != nil {
			return nil, fmt.Errorf("create pdf parser: %w", err)
		}
		e.pdf = p
	}
	return e, nil
}

// Extract returns the trimmed text of data, interpreted according to the
// extension of filename.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Extractor.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("file.name", filename), attribute.Int("file.size", len(data)))

	start := time.Now()
	var (
		text string
		err  error
	)
	switch KindOf(filename) {
	case KindPDF:
		text, err = e.extractPDF(ctx, filename, data)
	case KindWord:
		text, err = e.extractWord(filename, data)
	case KindImage:
		text, err = e.extractImage(ctx, data)
	default:
		err = NewValidationError(filename)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return "", err
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		return "", err
	}

	span.SetAttributes(attribute.Int("text.length", len(text)))
	e.log.Debug().Str("file", filename).Int("chars", len(text)).Dur("took", time.Since(start)).Msg("text extracted")
	return text, nil
}

// extractPDF joins the page texts with newlines.
func (e *Extractor) extractPDF(ctx context.Context, filename string, data []byte) (string, error) {
	docs, err := e.pdf.Parse(ctx, bytes.NewReader(data), einoparser.WithURI(filename))
	if err != nil {
		return "", fmt.Errorf("%w: parse pdf %s: %w", ErrExtraction, filename, err)
	}

	var sb strings.Builder
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		sb.WriteString(doc.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

func (e *Extractor) extractWord(filename string, data []byte) (string, error) {
	mimeType := "application/msword"
	if strings.EqualFold(filepath.Ext(filename), ".docx") {
		mimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	text, err := e.word(data, mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: convert %s: %w", ErrExtraction, filename, err)
	}
	return strings.TrimSpace(text), nil
}

func (e *Extractor) extractImage(ctx context.Context, data []byte) (string, error) {
	if e.ocr == nil {
		return "", ErrMissingCredentials
	}
	text, err := e.ocr.DetectText(ctx, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func convertWord(data []byte, mimeType string) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}
