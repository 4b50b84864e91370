package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"resume-intake/internal/api/handler"
	"resume-intake/internal/api/router"
	"resume-intake/internal/ingest"
	"resume-intake/internal/lifecycle"
	"resume-intake/internal/normalize"
	"resume-intake/internal/storage"
	"resume-intake/internal/storage/models"
)

type fakeIngester struct {
	got ingest.Attachment
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, att ingest.Attachment) (*ingest.Result, error) {
	f.got = att
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{
		ID: "0190a0b0-0000-7000-8000-000000000001",
		Candidate: normalize.Normalize(map[string]any{
			"full_name": "Ada Lovelace",
			"skills":    "Python, C++",
		}, "Ada Lovelace"),
	}, nil
}

type fakeReader struct {
	records []models.CompactRecord
	limit   int
	offset  int
}

func (f *fakeReader) ListActive(_ context.Context, limit, offset int) ([]models.CompactRecord, int64, error) {
	f.limit, f.offset = limit, offset
	return f.records, int64(len(f.records)), nil
}

func (f *fakeReader) GetRich(_ context.Context, id string) (*models.RichRecord, error) {
	if id != "ada" {
		return nil, storage.ErrNotFound
	}
	return &models.RichRecord{ResumeID: "ada", FullName: "Ada Lovelace", Skills: datatypes.JSON(`["Python","C++"]`)}, nil
}

type emptyBin struct{}

func (emptyBin) SoftDelete(context.Context, string, int) bool {
	return false
}

func (emptyBin) Restore(context.Context, string) bool {
	return false
}

func (emptyBin) PermanentlyDelete(context.Context, string) bool {
	return false
}

func (emptyBin) ListDeleted(context.Context) []lifecycle.DeletedRecord {
	return []lifecycle.DeletedRecord{}
}

func newServer(ing *fakeIngester, reader *fakeReader, keys []string) *server.Hertz {
	h := server.New()
	router.RegisterRoutes(h,
		handler.NewResumeHandler(ing, reader, 1, zerolog.Nop()),
		handler.NewBinHandler(emptyBin{}, 2, zerolog.Nop()),
		keys,
	)
	return h
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealthIsOpen(t *testing.T) {
	h := newServer(&fakeIngester{}, &fakeReader{}, []string{"secret"})
	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())
}

func TestAPIKeyRequired(t *testing.T) {
	h := newServer(&fakeIngester{}, &fakeReader{}, []string{"secret"})

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/bin", nil)
	assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/bin", nil,
		ut.Header{Key: router.APIKeyHeader, Value: "wrong"})
	assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/bin", nil,
		ut.Header{Key: router.APIKeyHeader, Value: "secret"})
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())
}

func TestBinRoutesReturn404OnFalse(t *testing.T) {
	h := newServer(&fakeIngester{}, &fakeReader{}, nil)

	for _, tc := range []struct{ method, path string }{
		{consts.MethodPost, "/api/v1/bin/delete/nope"},
		{consts.MethodPost, "/api/v1/bin/restore/nope"},
		{consts.MethodDelete, "/api/v1/bin/permanent/nope"},
	} {
		w := ut.PerformRequest(h.Engine, tc.method, tc.path, nil)
		assert.Equal(t, consts.StatusNotFound, w.Result().StatusCode(), tc.path)
	}
}

func TestUpload(t *testing.T) {
	ing := &fakeIngester{}
	h := newServer(ing, &fakeReader{}, nil)

	body, contentType := multipartBody(t, "resume.pdf", []byte("%PDF-1.4"))
	w := ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType})

	resp := w.Result()
	require.Equal(t, consts.StatusOK, resp.StatusCode(), string(resp.Body()))
	assert.Equal(t, "resume.pdf", ing.got.Filename)
	assert.Equal(t, models.SourceUpload, ing.got.Source)
	assert.Equal(t, "%PDF-1.4", string(ing.got.Data))

	var got handler.UploadResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &got))
	assert.Equal(t, "Ada Lovelace", got.FullName)
	assert.Equal(t, []string{"Python", "C++"}, got.Skills)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	ing := &fakeIngester{}
	h := newServer(ing, &fakeReader{}, nil)

	body, contentType := multipartBody(t, "payload.exe", []byte("MZ"))
	w := ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType})

	assert.Equal(t, consts.StatusBadRequest, w.Result().StatusCode())
	assert.Empty(t, ing.got.Filename)
}

func TestUploadErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "duplicate", err: &ingest.StageError{Stage: ingest.StageDedupe, Err: ingest.ErrDuplicateDocument}, status: consts.StatusConflict},
		{name: "model", err: &ingest.StageError{Stage: ingest.StageFields, Err: errors.New("timeout")}, status: consts.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newServer(&fakeIngester{err: tt.err}, &fakeReader{}, nil)
			body, contentType := multipartBody(t, "resume.pdf", []byte("%PDF"))
			w := ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/resumes/upload",
				&ut.Body{Body: body, Len: body.Len()},
				ut.Header{Key: "Content-Type", Value: contentType})
			assert.Equal(t, tt.status, w.Result().StatusCode())
		})
	}
}

func TestListResumesPagination(t *testing.T) {
	reader := &fakeReader{records: []models.CompactRecord{{ID: "a", Name: "Ada"}}}
	h := newServer(&fakeIngester{}, reader, nil)

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/resumes?page=3&size=10", nil)
	require.Equal(t, consts.StatusOK, w.Result().StatusCode())
	assert.Equal(t, 10, reader.limit)
	assert.Equal(t, 20, reader.offset)

	var page handler.ResumePage
	require.NoError(t, json.Unmarshal(w.Result().Body(), &page))
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Resumes, 1)
	assert.Equal(t, "Ada", page.Resumes[0].Name)
}

func TestGetResume(t *testing.T) {
	h := newServer(&fakeIngester{}, &fakeReader{}, nil)

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/resumes/ada", nil)
	require.Equal(t, consts.StatusOK, w.Result().StatusCode())
	var detail map[string]any
	require.NoError(t, json.Unmarshal(w.Result().Body(), &detail))
	assert.Equal(t, "Ada Lovelace", detail["full_name"])
	assert.Equal(t, []any{"Python", "C++"}, detail["skills"])
	assert.Equal(t, []any{}, detail["education"])
	_, hasCategories := detail["key_categories"]
	assert.False(t, hasCategories)

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/resumes/other", nil)
	assert.Equal(t, consts.StatusNotFound, w.Result().StatusCode())
}
