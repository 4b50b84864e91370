// Package lifecycle moves candidates between the active list and the recycle
// bin and removes them permanently.
package lifecycle

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"resume-intake/internal/storage/models"
)

// DaysPerMonth is the month length used to compute the permanent-delete horizon.
const DaysPerMonth = 30

// DefaultRetentionMonths applies when a caller passes a non-positive retention.
const DefaultRetentionMonths = 2

// MaxRetentionMonths caps the horizon at one hundred years.
const MaxRetentionMonths = 1200

// DeletedRecord is one entry of the recycle bin.
type DeletedRecord struct {
	ID                       string     `json:"id"`
	Name                     string     `json:"name"`
	Email                    string     `json:"email"`
	Phone                    string     `json:"phone"`
	Skills                   string     `json:"skills"`
	YearsExperience          int        `json:"experience"`
	Education                string     `json:"education"`
	DeletedAt                *time.Time `json:"deleted_at"`
	PermanentDeleteAt        *time.Time `json:"permanent_delete_at"`
	DaysUntilPermanentDelete int        `json:"days_until_permanent_delete"`
}

// Manager performs lifecycle transitions. Every operation reports failure as
// false or an empty list and logs the cause.
type Manager struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a Manager over db.
func NewManager(db *gorm.DB, opts ...Option) *Manager {
	m := &Manager{
		db:  db,
		log: zerolog.Nop(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SoftDelete moves an active or already deleted candidate to the bin and sets
// its permanent-delete horizon to now + retentionMonths*30 days, with
// retentionMonths capped at MaxRetentionMonths. It returns false when the
// candidate does not exist.
func (m *Manager) SoftDelete(ctx context.Context, id string, retentionMonths int) bool {
	if retentionMonths <= 0 {
		retentionMonths = DefaultRetentionMonths
	}
	if retentionMonths > MaxRetentionMonths {
		retentionMonths = MaxRetentionMonths
	}
	db := m.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.CompactRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		m.log.Error().Err(err).Str("id", id).Msg("soft delete: existence check failed")
		return false
	}
	if count == 0 {
		m.log.Debug().Str("id", id).Msg("soft delete: candidate not found")
		return false
	}

	now := m.now()
	horizon := now.AddDate(0, 0, retentionMonths*DaysPerMonth)
	err := db.Model(&models.CompactRecord{}).Where("id = ?", id).Updates(map[string]any{
		"is_deleted":          true,
		"deleted_at":          now,
		"permanent_delete_at": horizon,
	}).Error
	if err != nil {
		m.log.Error().Err(err).Str("id", id).Msg("soft delete failed")
		return false
	}

	m.log.Info().Str("id", id).Time("permanent_delete_at", horizon).Msg("candidate moved to bin")
	return true
}

// Restore returns a soft-deleted candidate to the active list. Active or
// unknown candidates yield false.
func (m *Manager) Restore(ctx context.Context, id string) bool {
	res := m.db.WithContext(ctx).
		Model(&models.CompactRecord{}).
		Where("id = ? AND is_deleted = ?", id, true).
		Updates(map[string]any{
			"is_deleted":          false,
			"deleted_at":          nil,
			"permanent_delete_at": nil,
		})
	if res.Error != nil {
		m.log.Error().Err(res.Error).Str("id", id).Msg("restore failed")
		return false
	}
	if res.RowsAffected == 0 {
		m.log.Debug().Str("id", id).Msg("restore: no soft-deleted candidate")
		return false
	}

	m.log.Info().Str("id", id).Msg("candidate restored")
	return true
}

var errNoCompactRecord = errors.New("no compact record")

// PermanentlyDelete removes both records of a candidate regardless of its
// deletion state. It returns false when no compact record existed.
func (m *Manager) PermanentlyDelete(ctx context.Context, id string) bool {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resume_id = ?", id).Delete(&models.RichRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.CompactRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNoCompactRecord
		}
		return nil
	})
	switch {
	case errors.Is(err, errNoCompactRecord):
		m.log.Debug().Str("id", id).Msg("permanent delete: candidate not found")
		return false
	case err != nil:
		m.log.Error().Err(err).Str("id", id).Msg("permanent delete failed")
		return false
	}

	m.log.Info().Str("id", id).Msg("candidate permanently deleted")
	return true
}

// ListDeleted returns the bin, most recently deleted first.
func (m *Manager) ListDeleted(ctx context.Context) []DeletedRecord {
	var rows []models.CompactRecord
	err := m.db.WithContext(ctx).
		Where("is_deleted = ?", true).
		Order("deleted_at DESC").
		Find(&rows).Error
	if err != nil {
		m.log.Error().Err(err).Msg("list deleted failed")
		return []DeletedRecord{}
	}

	now := m.now()
	out := make([]DeletedRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, DeletedRecord{
			ID:                       r.ID,
			Name:                     r.Name,
			Email:                    r.Email,
			Phone:                    r.Phone,
			Skills:                   r.Skills,
			YearsExperience:          r.YearsExperience,
			Education:                r.Education,
			DeletedAt:                r.DeletedAt,
			PermanentDeleteAt:        r.PermanentDeleteAt,
			DaysUntilPermanentDelete: DaysRemaining(r.PermanentDeleteAt, now),
		})
	}
	return out
}

// DaysRemaining is the whole number of days from now until horizon, floored
// at zero. A missing horizon counts as zero.
func DaysRemaining(horizon *time.Time, now time.Time) int {
	if horizon == nil {
		return 0
	}
	days := math.Floor(horizon.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return int(days)
}
