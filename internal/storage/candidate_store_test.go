package storage

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"resume-intake/internal/normalize"
	"resume-intake/internal/storage/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func openTestDB(t *testing.T, clock *fakeClock) *gorm.DB {
	t.Helper()
	cfg := GormConfig(1)
	if clock != nil {
		cfg.NowFunc = clock.Now
	}
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "intake.db")), cfg)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func openMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), GormConfig(1))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db, mock
}

func adaIngestion(id string) Ingestion {
	return Ingestion{
		ID:       id,
		FileName: "ada.pdf",
		FilePath: "uploads/ada.pdf",
		Source:   models.SourceEmail,
		Candidate: normalize.Normalize(map[string]any{
			"full_name": "Ada Lovelace",
			"skills":    "Python, C++",
		}, "Ada Lovelace resume"),
	}
}

func TestPersistWritesCompactAndRich(t *testing.T) {
	db := openTestDB(t, nil)
	store := NewCandidateStore(db)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, adaIngestion("id-1")))

	var compact models.CompactRecord
	require.NoError(t, db.Take(&compact, "id = ?", "id-1").Error)
	assert.Equal(t, "Ada Lovelace", compact.Name)
	assert.Equal(t, "Python, C++", compact.Skills)
	assert.Equal(t, 0, compact.YearsExperience)
	assert.Equal(t, "Ada Lovelace resume", compact.RawText)
	assert.Equal(t, models.SourceEmail, compact.Source)
	assert.False(t, compact.IsDeleted)
	assert.Nil(t, compact.DeletedAt)

	rich, err := store.GetRich(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", rich.FullName)
	assert.JSONEq(t, `["Python","C++"]`, string(rich.Skills))
	assert.JSONEq(t, `[]`, string(rich.Education))
	assert.JSONEq(t, `[]`, string(rich.KeyProjects))
	assert.JSONEq(t, `[]`, string(rich.Internships))
	assert.Equal(t, len("Ada Lovelace resume"), rich.ParsedTextLength)
	assert.Empty(t, rich.KeyCategories)
}

func TestPersistWritesCategoriesWhenColumnExists(t *testing.T) {
	db := openTestDB(t, nil)
	store := NewCandidateStore(db)

	in := adaIngestion("id-cat")
	in.Categories = map[string]any{"backend": []any{"Python"}}
	require.NoError(t, store.Persist(context.Background(), in))

	rich, err := store.GetRich(context.Background(), "id-cat")
	require.NoError(t, err)
	assert.JSONEq(t, `{"backend":["Python"]}`, string(rich.KeyCategories))
}

func TestPersistSkipsCategoriesWithoutColumn(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "legacy.db")), GormConfig(1))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CompactRecord{}, &models.RichRecord{}))
	require.False(t, db.Migrator().HasColumn(&models.RichRecord{}, categoriesColumn))
	store := NewCandidateStore(db)

	in := adaIngestion("id-nocol")
	in.Categories = map[string]any{"backend": []any{"Python"}}
	require.NoError(t, store.Persist(context.Background(), in))

	var count int64
	require.NoError(t, db.Model(&models.RichRecord{}).Where("resume_id = ?", "id-nocol").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWriteCategoriesOnExistingRichRecord(t *testing.T) {
	db := openTestDB(t, nil)
	store := NewCandidateStore(db)
	ctx := context.Background()
	require.NoError(t, store.Persist(ctx, adaIngestion("id-late")))

	store.WriteCategories(ctx, "id-late", map[string]any{"databases_cloud": []any{"MySQL"}})

	rich, err := store.GetRich(ctx, "id-late")
	require.NoError(t, err)
	assert.JSONEq(t, `{"databases_cloud":["MySQL"]}`, string(rich.KeyCategories))
}

func TestUpsertRichIsIdempotent(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	db := openTestDB(t, clock)
	store := NewCandidateStore(db)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, adaIngestion("id-2")))

	clock.now = t0.Add(time.Hour)
	updated := normalize.Normalize(map[string]any{"full_name": "Augusta Ada King"}, "new text")
	require.NoError(t, store.UpsertRich(ctx, "id-2", updated))

	var count int64
	require.NoError(t, db.Model(&models.RichRecord{}).Where("resume_id = ?", "id-2").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	rich, err := store.GetRich(ctx, "id-2")
	require.NoError(t, err)
	assert.Equal(t, "Augusta Ada King", rich.FullName)
	assert.JSONEq(t, `[]`, string(rich.Skills))
	assert.WithinDuration(t, t0, rich.CreatedAt, time.Second)
	assert.WithinDuration(t, t0.Add(time.Hour), rich.UpdatedAt, time.Second)
}

func TestPersistDuplicateIDFailsCompactWrite(t *testing.T) {
	db := openTestDB(t, nil)
	store := NewCandidateStore(db)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, adaIngestion("id-dup")))
	err := store.Persist(ctx, adaIngestion("id-dup"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompactWrite)
}

func TestPersistRichFailureLeavesCompactRecord(t *testing.T) {
	db, mock := openMockDB(t)
	store := NewCandidateStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `resumes`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `parsed_resumes`")).
		WillReturnError(errors.New("lock wait timeout"))

	err := store.Persist(context.Background(), adaIngestion("id-3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRichWrite)
	assert.NotErrorIs(t, err, ErrCompactWrite)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistCompactFailureStopsBeforeRich(t *testing.T) {
	db, mock := openMockDB(t)
	store := NewCandidateStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `resumes`")).
		WillReturnError(errors.New("connection refused"))

	err := store.Persist(context.Background(), adaIngestion("id-4"))
	assert.ErrorIs(t, err, ErrCompactWrite)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRichNotFound(t *testing.T) {
	store := NewCandidateStore(openTestDB(t, nil))
	_, err := store.GetRich(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListActiveSkipsDeleted(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	db := openTestDB(t, clock)
	store := NewCandidateStore(db)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		clock.now = t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Persist(ctx, adaIngestion(id)))
	}
	require.NoError(t, db.Model(&models.CompactRecord{}).Where("id = ?", "b").Update("is_deleted", true).Error)

	records, total, err := store.ListActive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "a", records[1].ID)

	page, total, err := store.ListActive(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestFindMissingRich(t *testing.T) {
	db := openTestDB(t, nil)
	store := NewCandidateStore(db)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, adaIngestion("complete")))
	require.NoError(t, db.Create(&models.CompactRecord{ID: "orphan", Name: "Half Written", RawText: "text"}).Error)

	orphans, err := store.FindMissingRich(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "orphan", orphans[0].ID)
	assert.Equal(t, "text", orphans[0].RawText)
}
