package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"resume-intake/internal/extractor"
	"resume-intake/internal/ingest"
	"resume-intake/internal/storage"
	"resume-intake/internal/storage/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ResumeReader is the read side of the candidate store.
type ResumeReader interface {
	ListActive(ctx context.Context, limit, offset int) ([]models.CompactRecord, int64, error)
	GetRich(ctx context.Context, id string) (*models.RichRecord, error)
}

// Ingester runs one ingestion. *ingest.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, att ingest.Attachment) (*ingest.Result, error)
}

// ResumeHandler serves uploads and candidate reads.
type ResumeHandler struct {
	ingester      Ingester
	reader        ResumeReader
	maxUploadSize int64
	log           zerolog.Logger
}

func NewResumeHandler(ingester Ingester, reader ResumeReader, maxUploadMB int, log zerolog.Logger) *ResumeHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &ResumeHandler{
		ingester:      ingester,
		reader:        reader,
		maxUploadSize: int64(maxUploadMB) << 20,
		log:           log,
	}
}

// UploadResponse is returned for a successful upload.
type UploadResponse struct {
	ID             string   `json:"id"`
	FullName       string   `json:"full_name"`
	Email          string   `json:"email"`
	Skills         []string `json:"skills"`
	HasCategories  bool     `json:"has_categories"`
	ParsedTextSize int      `json:"parsed_text_length"`
}

// ResumeSummary is one compact record in a listing.
type ResumeSummary struct {
	ID              string    `json:"id"`
	FileName        string    `json:"file_name"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	Skills          string    `json:"skills"`
	YearsExperience int       `json:"experience"`
	Education       string    `json:"education"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// ResumePage is a page of active candidates.
type ResumePage struct {
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
	Resumes []ResumeSummary `json:"resumes"`
}

// ResumeDetail is the rich record of one candidate.
type ResumeDetail struct {
	ID               string          `json:"id"`
	FullName         string          `json:"full_name"`
	EmailID          string          `json:"email_id"`
	GithubPortfolio  string          `json:"github_portfolio"`
	LinkedinID       string          `json:"linkedin_id"`
	Skills           json.RawMessage `json:"skills"`
	Education        json.RawMessage `json:"education"`
	KeyProjects      json.RawMessage `json:"key_projects"`
	Internships      json.RawMessage `json:"internships"`
	KeyCategories    json.RawMessage `json:"key_categories,omitempty"`
	ParsedTextLength int             `json:"parsed_text_length"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HandleUpload POST /resumes/upload, multipart field "file".
func (h *ResumeHandler) HandleUpload(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "file not found in form"})
		return
	}
	if fileHeader.Size > h.maxUploadSize {
		c.JSON(consts.StatusRequestEntityTooLarge, utils.H{"error": "file too large"})
		return
	}
	if extractor.KindOf(fileHeader.Filename) == extractor.KindUnsupported {
		c.JSON(consts.StatusBadRequest, utils.H{"error": extractor.NewValidationError(fileHeader.Filename).Error()})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "failed to open upload"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "failed to read upload"})
		return
	}

	res, err := h.ingester.Ingest(ctx, ingest.Attachment{
		Filename: fileHeader.Filename,
		Data:     data,
		Source:   models.SourceUpload,
	})
	if err != nil {
		status, body := uploadError(err)
		h.log.Warn().Err(err).Str("file", fileHeader.Filename).Int("status", status).Msg("upload ingestion failed")
		c.JSON(status, body)
		return
	}

	skills := res.Candidate.Skills
	if skills == nil {
		skills = []string{}
	}
	c.JSON(consts.StatusOK, UploadResponse{
		ID:             res.ID,
		FullName:       res.Candidate.FullName,
		Email:          res.Candidate.Email,
		Skills:         skills,
		HasCategories:  res.HasCategories,
		ParsedTextSize: res.Candidate.RawTextLength,
	})
}

func uploadError(err error) (int, utils.H) {
	var verr *extractor.ValidationError
	var berr *extractor.BillingError
	stage := ingest.StageOf(err)
	switch {
	case errors.Is(err, ingest.ErrDuplicateDocument):
		return consts.StatusConflict, utils.H{"error": "document already ingested", "stage": stage}
	case errors.Is(err, ingest.ErrEmptyDocument), errors.As(err, &verr):
		return consts.StatusBadRequest, utils.H{"error": err.Error(), "stage": stage}
	case errors.As(err, &berr):
		return consts.StatusBadGateway, utils.H{"error": berr.Error(), "stage": stage}
	case errors.Is(err, extractor.ErrMissingCredentials):
		return consts.StatusServiceUnavailable, utils.H{"error": "image extraction is not configured", "stage": stage}
	default:
		return consts.StatusInternalServerError, utils.H{"error": "ingestion failed", "stage": stage}
	}
}

// HandleList GET /resumes?page=1&size=20
func (h *ResumeHandler) HandleList(ctx context.Context, c *app.RequestContext) {
	page := 1
	size := defaultPageSize
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("size")); err == nil && v > 0 && v <= maxPageSize {
		size = v
	}

	records, total, err := h.reader.ListActive(ctx, size, (page-1)*size)
	if err != nil {
		h.log.Error().Err(err).Msg("list resumes failed")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "failed to list resumes"})
		return
	}

	out := ResumePage{Total: total, Page: page, Size: size, Resumes: make([]ResumeSummary, 0, len(records))}
	for _, r := range records {
		out.Resumes = append(out.Resumes, ResumeSummary{
			ID:              r.ID,
			FileName:        r.FileName,
			Name:            r.Name,
			Email:           r.Email,
			Phone:           r.Phone,
			Skills:          r.Skills,
			YearsExperience: r.YearsExperience,
			Education:       r.Education,
			Source:          r.Source,
			CreatedAt:       r.CreatedAt,
		})
	}
	c.JSON(consts.StatusOK, out)
}

// HandleGet GET /resumes/:id
func (h *ResumeHandler) HandleGet(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	rec, err := h.reader.GetRich(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(consts.StatusNotFound, utils.H{"error": "resume not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("get resume failed")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "failed to load resume"})
		return
	}

	c.JSON(consts.StatusOK, ResumeDetail{
		ID:               rec.ResumeID,
		FullName:         rec.FullName,
		EmailID:          rec.EmailID,
		GithubPortfolio:  rec.GithubPortfolio,
		LinkedinID:       rec.LinkedinID,
		Skills:           rawOrEmpty(rec.Skills),
		Education:        rawOrEmpty(rec.Education),
		KeyProjects:      rawOrEmpty(rec.KeyProjects),
		Internships:      rawOrEmpty(rec.Internships),
		KeyCategories:    json.RawMessage(rec.KeyCategories),
		ParsedTextLength: rec.ParsedTextLength,
		UpdatedAt:        rec.UpdatedAt,
	})
}

func rawOrEmpty(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("[]")
	}
	return json.RawMessage(b)
}
