package credits

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the resource a credit buys: one image or one video generation.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

func (k Kind) column() (string, error) {
	switch k {
	case KindImage:
		return "image_credits", nil
	case KindVideo:
		return "video_credits", nil
	}
	return "", fmt.Errorf("unknown kind %q", string(k))
}

type Balance struct {
	UserID       string    `gorm:"primaryKey;size:64" json:"-"`
	ImageCredits int       `gorm:"not null;default:0" json:"image_credits"`
	VideoCredits int       `gorm:"not null;default:0" json:"video_credits"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Balance) TableName() string { return "credit_balances" }

func (b Balance) Of(k Kind) int {
	if k == KindVideo {
		return b.VideoCredits
	}
	return b.ImageCredits
}

type EntryReason string

const (
	ReasonDebit  EntryReason = "debit"
	ReasonRefund EntryReason = "refund"
	ReasonGrant  EntryReason = "grant"
)

// Entry is the append-only audit trail of every balance mutation. A job can
// own at most one entry per reason, so a second refund for the same job is
// rejected by the unique index.
type Entry struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string      `gorm:"size:64;index;not null" json:"-"`
	Kind      Kind        `gorm:"type:varchar(16);not null" json:"kind"`
	Delta     int         `gorm:"not null" json:"delta"`
	Reason    EntryReason `gorm:"type:varchar(16);not null;index:uniq_credit_entry_job_reason,unique,priority:2" json:"reason"`
	JobID     *string     `gorm:"size:26;index:uniq_credit_entry_job_reason,unique,priority:1" json:"job_id,omitempty"`
	Note      string      `gorm:"type:varchar(255)" json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func (Entry) TableName() string { return "credit_entries" }

// Grant is a starting allowance for a freshly created account.
type Grant struct {
	Image int
	Video int
}
