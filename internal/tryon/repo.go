package tryon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) WithTx(tx *gorm.DB) *Repo {
	return &Repo{db: tx}
}

func (r *Repo) Create(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Get returns a live (not deleted) job.
func (r *Repo) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *Repo) getAny(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).Unscoped().First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *Repo) GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*Job, error) {
	var j Job
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND idempotency_key = ?", ownerID, key).
		First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// Transition moves a generating job to the outcome's terminal state. It is a
// compare-and-set on status: only the first caller wins, every later caller
// gets ErrAlreadyTerminal together with the stored job and changes nothing.
// Soft-deleted jobs still transition so that their refund is not lost.
func (r *Repo) Transition(ctx context.Context, id string, outcome Outcome, at time.Time) (*Job, error) {
	updates := map[string]any{
		"status":       outcome.Status(),
		"result_ref":   nil,
		"error":        nil,
		"completed_at": at,
		"updated_at":   at,
	}
	switch o := outcome.(type) {
	case Succeeded:
		updates["result_ref"] = o.ResultRef
	case Failed:
		updates["error"] = o.Reason
	default:
		return nil, fmt.Errorf("unsupported outcome %T", outcome)
	}

	res := r.db.WithContext(ctx).Unscoped().Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusGenerating).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("transition job %s: %w", id, res.Error)
	}

	j, err := r.getAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return j, ErrAlreadyTerminal
	}
	return j, nil
}

// KindFilter narrows a listing to one kind; KindAll keeps everything.
type KindFilter string

const (
	KindAll       KindFilter = "all"
	KindOnlyImage KindFilter = "image"
	KindOnlyVideo KindFilter = "video"
)

type ListFilter struct {
	Kind   KindFilter
	Limit  int
	Before string // job id cursor, exclusive
}

// ListByOwner returns the owner's live jobs, newest first.
func (r *Repo) ListByOwner(ctx context.Context, ownerID string, f ListFilter) ([]Job, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	q := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(f.Limit)

	switch f.Kind {
	case KindOnlyImage:
		q = q.Where("kind = ?", KindImage)
	case KindOnlyVideo:
		q = q.Where("kind = ?", KindVideo)
	}

	if f.Before != "" {
		cursor, err := r.getAny(ctx, f.Before)
		if err != nil {
			return nil, err
		}
		if cursor.OwnerID != ownerID {
			return nil, ErrForbidden
		}
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var jobs []Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Delete soft-deletes the job. The ledger is not touched.
func (r *Repo) Delete(ctx context.Context, id, ownerID string) error {
	j, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.OwnerID != ownerID {
		return ErrForbidden
	}
	res := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&Job{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStale returns generating jobs (deleted ones included) created before
// the cutoff, oldest first.
func (r *Repo) ListStale(ctx context.Context, before time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []Job
	if err := r.db.WithContext(ctx).Unscoped().
		Where("status = ? AND created_at < ?", StatusGenerating, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
