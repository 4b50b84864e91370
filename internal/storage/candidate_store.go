package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resume-intake/internal/normalize"
	"resume-intake/internal/storage/models"
	"resume-intake/internal/tracing"
)

const categoriesColumn = "key_categories"

// richUpdateColumns are overwritten when a rich record is re-ingested.
var richUpdateColumns = []string{
	"full_name",
	"email_id",
	"github_portfolio",
	"linkedin_id",
	"skills",
	"education",
	"key_projects",
	"internships",
	"parsed_text_length",
	"updated_at",
}

var (
	// ErrCompactWrite marks a failure of the first persistence step. Nothing was written.
	ErrCompactWrite = errors.New("compact record write failed")
	// ErrRichWrite marks a failure of the second step. The compact record exists
	// without a rich record.
	ErrRichWrite = errors.New("rich record write failed")
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("record not found")
)

// Ingestion is everything the store needs for one ingestion run.
type Ingestion struct {
	ID        string
	FileName  string
	FilePath  string
	Source    string
	Digest    string
	Candidate normalize.Candidate
	// Categories is the optional topic classification. nil skips the write.
	Categories map[string]any
}

// CandidateStore writes and reads candidate records.
type CandidateStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

// StoreOption configures a CandidateStore.
type StoreOption func(*CandidateStore)

// WithStoreLogger sets the store logger.
func WithStoreLogger(l zerolog.Logger) StoreOption {
	return func(s *CandidateStore) {
		s.log = l
	}
}

// NewCandidateStore wraps db.
func NewCandidateStore(db *gorm.DB, opts ...StoreOption) *CandidateStore {
	s := &CandidateStore{db: db, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Persist inserts the compact record and upserts the rich record on a single
// connection, then attempts the optional categories write. The two writes
// are separate statements: a failure of the second leaves the compact record
// in place and is reported as ErrRichWrite.
func (s *CandidateStore) Persist(ctx context.Context, in Ingestion) error {
	ctx, span := mysqlTracer.Start(ctx, "CandidateStore.Persist",
		trace.WithAttributes(attribute.String("candidate.id", in.ID)))
	defer span.End()

	err := s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		conn = conn.Session(&gorm.Session{})
		compact := toCompact(in)
		if err := conn.Create(&compact).Error; err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCompactWrite, in.ID, err)
		}
		if err := upsertRich(conn, toRich(in.ID, in.Candidate)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRichWrite, in.ID, err)
		}
		if in.Categories != nil {
			s.writeCategories(conn, in.ID, in.Categories)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}
	return nil
}

// UpsertRich writes the rich record for id, overwriting every column and
// bumping updated_at when it already exists.
func (s *CandidateStore) UpsertRich(ctx context.Context, id string, c normalize.Candidate) error {
	if err := upsertRich(s.db.WithContext(ctx), toRich(id, c)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRichWrite, id, err)
	}
	return nil
}

// WriteCategories stores the topic classification for id when the optional
// column exists. Failures are logged, never returned.
func (s *CandidateStore) WriteCategories(ctx context.Context, id string, categories map[string]any) {
	s.writeCategories(s.db.WithContext(ctx), id, categories)
}

func upsertRich(db *gorm.DB, rich models.RichRecord) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resume_id"}},
		DoUpdates: clause.AssignmentColumns(richUpdateColumns),
	}).Create(&rich).Error
}

func (s *CandidateStore) writeCategories(db *gorm.DB, id string, categories map[string]any) {
	if !db.Migrator().HasColumn(&models.RichRecord{}, categoriesColumn) {
		s.log.Debug().Str("id", id).Msg("key_categories column absent, skipping")
		return
	}
	err := db.Table(models.RichRecord{}.TableName()).
		Where("resume_id = ?", id).
		Updates(map[string]any{
			categoriesColumn: normalize.JSON(categories),
			"updated_at":     db.NowFunc(),
		}).Error
	if err != nil {
		s.log.Warn().Err(err).Str("id", id).Msg("key_categories write failed")
	}
}

// ListActive returns non-deleted compact records, newest first, and the total
// number of such records.
func (s *CandidateStore) ListActive(ctx context.Context, limit, offset int) ([]models.CompactRecord, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.CompactRecord{}).Where("is_deleted = ?", false).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count active records: %w", err)
	}

	var records []models.CompactRecord
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list active records: %w", err)
	}
	return records, total, nil
}

// GetRich returns the rich record for id or ErrNotFound.
func (s *CandidateStore) GetRich(ctx context.Context, id string) (*models.RichRecord, error) {
	var rich models.RichRecord
	err := s.db.WithContext(ctx).Where("resume_id = ?", id).Take(&rich).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rich record %s: %w", id, err)
	}
	return &rich, nil
}

// FindMissingRich returns compact records that have no rich record, oldest
// first. These are the residue of an interrupted Persist.
func (s *CandidateStore) FindMissingRich(ctx context.Context, limit int) ([]models.CompactRecord, error) {
	var records []models.CompactRecord
	err := s.db.WithContext(ctx).
		Model(&models.CompactRecord{}).
		Joins("LEFT JOIN parsed_resumes ON parsed_resumes.resume_id = resumes.id").
		Where("parsed_resumes.resume_id IS NULL").
		Order("resumes.created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("find compact records without rich record: %w", err)
	}
	return records, nil
}

func toCompact(in Ingestion) models.CompactRecord {
	source := in.Source
	if source == "" {
		source = models.SourceEmail
	}
	return models.CompactRecord{
		ID:              in.ID,
		FileName:        in.FileName,
		FilePath:        in.FilePath,
		Name:            in.Candidate.FullName,
		Email:           in.Candidate.Email,
		Phone:           in.Candidate.Phone,
		Skills:          in.Candidate.SkillsText(),
		YearsExperience: in.Candidate.YearsExperience,
		Education:       in.Candidate.Education,
		RawText:         in.Candidate.RawText,
		Source:          source,
		ContentDigest:   in.Digest,
	}
}

func toRich(id string, c normalize.Candidate) models.RichRecord {
	return models.RichRecord{
		ResumeID:         id,
		FullName:         c.FullName,
		EmailID:          c.Email,
		GithubPortfolio:  c.GitHub,
		LinkedinID:       c.LinkedIn,
		Skills:           datatypes.JSON(normalize.JSON(c.Skills)),
		Education:        datatypes.JSON(normalize.JSON(c.EducationList)),
		KeyProjects:      datatypes.JSON(normalize.JSON(c.KeyProjects)),
		Internships:      datatypes.JSON(normalize.JSON(c.Internships)),
		ParsedTextLength: c.RawTextLength,
	}
}
