package tryon

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/gengenie/internal/credits"
)

type Kind = credits.Kind

const (
	KindImage = credits.KindImage
	KindVideo = credits.KindVideo
)

type Status string

const (
	StatusGenerating Status = "generating"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type AspectRatio string

const (
	Ratio1x1  AspectRatio = "1:1"
	Ratio9x16 AspectRatio = "9:16"
	Ratio16x9 AspectRatio = "16:9"
	Ratio4x5  AspectRatio = "4:5"
)

func (r AspectRatio) Valid() bool {
	switch r {
	case Ratio1x1, Ratio9x16, Ratio16x9, Ratio4x5:
		return true
	}
	return false
}

// Job is one try-on generation request. PersonRef and GarmentRef are the
// ordered inputs (subject first). ResultRef is set iff Status is succeeded and
// Error iff failed; both are only ever written through an Outcome.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID

	OwnerID string `gorm:"size:64;not null;index:idx_tryon_owner_created,priority:1;index:uniq_tryon_owner_idempo,unique,priority:1"`
	Kind    Kind   `gorm:"type:varchar(16);not null"`
	Status  Status `gorm:"type:varchar(16);index;not null"`

	PersonRef    string      `gorm:"type:text;not null"`
	GarmentRef   string      `gorm:"type:text;not null"`
	Prompt       *string     `gorm:"type:text"`
	AspectRatio  AspectRatio `gorm:"type:varchar(8);not null"`
	ProductLabel *string     `gorm:"type:varchar(120)"`

	// Filled when succeeded
	ResultRef *string `gorm:"type:text"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_tryon_owner_idempo,unique,priority:2"`

	CreatedAt   time.Time `gorm:"index:idx_tryon_owner_created,priority:2"`
	UpdatedAt   time.Time
	CompletedAt *time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (Job) TableName() string { return "tryon_jobs" }

func (j *Job) Inputs() []string {
	return []string{j.PersonRef, j.GarmentRef}
}

// Outcome returns the terminal outcome, or nil while the job is generating.
func (j *Job) Outcome() Outcome {
	switch j.Status {
	case StatusSucceeded:
		return Succeeded{ResultRef: deref(j.ResultRef)}
	case StatusFailed:
		return Failed{Reason: deref(j.Error)}
	}
	return nil
}

// Outcome is how a job leaves the generating state: Succeeded or Failed.
type Outcome interface {
	Status() Status
	outcome()
}

type Succeeded struct {
	ResultRef string
}

func (Succeeded) Status() Status { return StatusSucceeded }
func (Succeeded) outcome()       {}

type Failed struct {
	Reason string
}

func (Failed) Status() Status { return StatusFailed }
func (Failed) outcome()       {}

// normalizeOutcome turns an empty success into a failure and guarantees a
// failure always carries a reason.
func normalizeOutcome(o Outcome) Outcome {
	switch v := o.(type) {
	case Succeeded:
		if strings.TrimSpace(v.ResultRef) == "" {
			return Failed{Reason: "synthesis returned no output"}
		}
		return Succeeded{ResultRef: strings.TrimSpace(v.ResultRef)}
	case Failed:
		if strings.TrimSpace(v.Reason) == "" {
			return Failed{Reason: "generation failed"}
		}
		return v
	case nil:
		return Failed{Reason: "generation failed"}
	}
	return o
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
