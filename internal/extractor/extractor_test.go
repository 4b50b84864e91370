package extractor

import (
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	einoparser "github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakePDF struct {
	pages []string
	err   error
}

func (f *fakePDF) Parse(_ context.Context, r io.Reader, _ ...einoparser.Option) ([]*schema.Document, error) {
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	docs := make([]*schema.Document, 0, len(f.pages))
	for _, p := range f.pages {
		docs = append(docs, &schema.Document{Content: p})
	}
	return docs, nil
}

type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) DetectText(context.Context, []byte) (string, error) {
	return f.text, f.err
}

func newTestExtractor(t *testing.T, opts ...Option) *Extractor {
	t.Helper()
	opts = append([]Option{WithPDFParser(&fakePDF{pages: []string{"  Ada Lovelace", "Python, C++  "}})}, opts...)
	e, err := New(context.Background(), opts...)
	require.NoError(t, err)
	return e
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPDF, KindOf("resume.PDF"))
	assert.Equal(t, KindWord, KindOf("cv.docx"))
	assert.Equal(t, KindWord, KindOf("cv.Doc"))
	assert.Equal(t, KindImage, KindOf("scan.JPeG"))
	assert.Equal(t, KindUnsupported, KindOf("payload.exe"))
	assert.Equal(t, KindUnsupported, KindOf("README"))
}

func TestExtractPDFJoinsPages(t *testing.T) {
	e := newTestExtractor(t)
	text, err := e.Extract(context.Background(), "resume.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace\nPython, C++", text)
}

func TestExtractPDFParserFailure(t *testing.T) {
	e := newTestExtractor(t, WithPDFParser(&fakePDF{err: errors.New("malformed xref")}))
	_, err := e.Extract(context.Background(), "resume.pdf", []byte("junk"))
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractWord(t *testing.T) {
	e := newTestExtractor(t)
	var gotMime string
	e.word = func(data []byte, mimeType string) (string, error) {
		gotMime = mimeType
		return "  word body \n", nil
	}

	text, err := e.Extract(context.Background(), "cv.docx", []byte("PK"))
	require.NoError(t, err)
	assert.Equal(t, "word body", text)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", gotMime)

	_, err = e.Extract(context.Background(), "cv.doc", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "application/msword", gotMime)
}

func TestExtractImageWithoutOCR(t *testing.T) {
	e := newTestExtractor(t)
	_, err := e.Extract(context.Background(), "scan.png", []byte{0x89})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestExtractImage(t *testing.T) {
	e := newTestExtractor(t, WithOCR(&fakeOCR{text: " scanned text \n"}))
	text, err := e.Extract(context.Background(), "scan.png", []byte{0x89})
	require.NoError(t, err)
	assert.Equal(t, "scanned text", text)
}

func TestExtractImageEmptyDetection(t *testing.T) {
	e := newTestExtractor(t, WithOCR(&fakeOCR{}))
	text, err := e.Extract(context.Background(), "scan.jpg", []byte{0xff})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractUnsupported(t *testing.T) {
	e := newTestExtractor(t)
	_, err := e.Extract(context.Background(), "payload.exe", []byte("MZ"))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ".exe", verr.Ext)
	assert.Contains(t, verr.Error(), ".pdf")
	assert.Contains(t, verr.Error(), ".png")
}

type fakeAnnotator struct {
	resp *visionpb.BatchAnnotateImagesResponse
	err  error
}

func (f *fakeAnnotator) BatchAnnotateImages(context.Context, *visionpb.BatchAnnotateImagesRequest, ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	return f.resp, f.err
}

func (f *fakeAnnotator) Close() error { return nil }

func TestNewVisionOCRRequiresCredentials(t *testing.T) {
	_, err := NewVisionOCR(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestVisionDetectText(t *testing.T) {
	v := &VisionOCR{client: &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			TextAnnotations: []*visionpb.EntityAnnotation{
				{Description: "Ada Lovelace\nPython"},
				{Description: "Ada"},
			},
		}},
	}}}
	text, err := v.DetectText(context.Background(), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace\nPython", text)
}

func TestVisionDetectTextNothingFound(t *testing.T) {
	v := &VisionOCR{client: &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{}},
	}}}
	text, err := v.DetectText(context.Background(), []byte{1})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestVisionErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		resp    *visionpb.BatchAnnotateImagesResponse
		billing bool
	}{
		{
			name:    "permission denied",
			err:     status.Error(codes.PermissionDenied, "caller lacks permission"),
			billing: true,
		},
		{
			name:    "billing disabled message",
			err:     status.Error(codes.FailedPrecondition, "BILLING_DISABLED: enable billing"),
			billing: true,
		},
		{
			name: "unavailable",
			err:  status.Error(codes.Unavailable, "connection reset"),
		},
		{
			name: "per-image billing error",
			resp: &visionpb.BatchAnnotateImagesResponse{Responses: []*visionpb.AnnotateImageResponse{{
				Error: &rpcstatus.Status{Code: int32(codes.PermissionDenied), Message: "This API method requires billing to be enabled"},
			}}},
			billing: true,
		},
		{
			name: "per-image generic error",
			resp: &visionpb.BatchAnnotateImagesResponse{Responses: []*visionpb.AnnotateImageResponse{{
				Error: &rpcstatus.Status{Code: int32(codes.InvalidArgument), Message: "bad image data"},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &VisionOCR{client: &fakeAnnotator{resp: tt.resp, err: tt.err}}
			_, err := v.DetectText(context.Background(), []byte{1})
			require.Error(t, err)

			var be *BillingError
			if tt.billing {
				require.ErrorAs(t, err, &be)
				assert.Contains(t, err.Error(), BillingHint)
				assert.NotNil(t, errors.Unwrap(err))
			} else {
				assert.False(t, errors.As(err, &be))
				assert.ErrorIs(t, err, ErrExtraction)
			}
		})
	}
}
