package models

import (
	"time"

	"gorm.io/datatypes"
)

// Record sources.
const (
	SourceEmail  = "email"
	SourceUpload = "upload"
)

// CompactRecord is the flattened row written once per ingestion run. It also
// carries the soft-delete state of the candidate.
type CompactRecord struct {
	ID                string     `gorm:"column:id;type:char(36);primaryKey"`
	FileName          string     `gorm:"type:varchar(255)"`
	FilePath          string     `gorm:"type:varchar(1024)"`
	Name              string     `gorm:"type:varchar(255)"`
	Email             string     `gorm:"type:varchar(255);index:idx_resumes_email"`
	Phone             string     `gorm:"type:varchar(64)"`
	Skills            string     `gorm:"type:text"`
	YearsExperience   int        `gorm:"not null;default:0"`
	Education         string     `gorm:"type:text"`
	RawText           string     `gorm:"type:longtext"`
	Source            string     `gorm:"type:varchar(32);not null;default:'email'"`
	ContentDigest     string     `gorm:"type:char(64);index:idx_resumes_content_digest"`
	IsDeleted         bool       `gorm:"not null;default:false;index:idx_resumes_deleted"`
	DeletedAt         *time.Time `gorm:"index:idx_resumes_deleted"`
	PermanentDeleteAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (CompactRecord) TableName() string {
	return "resumes"
}

// RichRecord is the structured candidate row, upserted by resume_id.
// KeyCategories is read-only here: the column is optional and written by a
// separate schema-checked update.
type RichRecord struct {
	ResumeID         string         `gorm:"column:resume_id;type:char(36);primaryKey"`
	FullName         string         `gorm:"type:varchar(255)"`
	EmailID          string         `gorm:"column:email_id;type:varchar(255)"`
	GithubPortfolio  string         `gorm:"type:varchar(512)"`
	LinkedinID       string         `gorm:"column:linkedin_id;type:varchar(512)"`
	Skills           datatypes.JSON `gorm:"column:skills"`
	Education        datatypes.JSON `gorm:"column:education"`
	KeyProjects      datatypes.JSON `gorm:"column:key_projects"`
	Internships      datatypes.JSON `gorm:"column:internships"`
	ParsedTextLength int            `gorm:"not null;default:0"`
	KeyCategories    datatypes.JSON `gorm:"column:key_categories;->;-:migration"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (RichRecord) TableName() string {
	return "parsed_resumes"
}
