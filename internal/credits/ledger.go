package credits

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientBalance is an expected outcome of Debit, not a fault.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx binds the ledger to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// EnsureAccount creates the balance row with the starting grant when the user
// has none yet. Existing balances are left untouched.
func (l *Ledger) EnsureAccount(ctx context.Context, userID string, g Grant) (Balance, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b := Balance{UserID: userID, ImageCredits: max(g.Image, 0), VideoCredits: max(g.Video, 0)}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&b)
		if res.Error != nil {
			return fmt.Errorf("create credit account: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		for _, e := range []Entry{
			{UserID: userID, Kind: KindImage, Delta: b.ImageCredits, Reason: ReasonGrant, Note: "starting grant"},
			{UserID: userID, Kind: KindVideo, Delta: b.VideoCredits, Reason: ReasonGrant, Note: "starting grant"},
		} {
			if e.Delta == 0 {
				continue
			}
			if err := tx.Create(&e).Error; err != nil {
				return fmt.Errorf("record starting grant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return l.Balance(ctx, userID)
}

func (l *Ledger) Balance(ctx context.Context, userID string) (Balance, error) {
	var b Balance
	if err := l.db.WithContext(ctx).First(&b, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Balance{}, ErrAccountNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

// Debit takes amount credits of kind from the user for jobID. The check and the
// decrement are one conditional UPDATE, so two concurrent debits can never both
// succeed against a balance that covers only one of them.
func (l *Ledger) Debit(ctx context.Context, userID string, kind Kind, amount int, jobID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	col, err := kind.column()
	if err != nil {
		return err
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Balance{}).
			Where("user_id = ? AND "+col+" >= ?", userID, amount).
			Update(col, gorm.Expr(col+" - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("debit %s credits: %w", kind, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
		return tx.Create(&Entry{
			UserID: userID,
			Kind:   kind,
			Delta:  -amount,
			Reason: ReasonDebit,
			JobID:  optional(jobID),
		}).Error
	})
}

// Refund gives back credits debited for jobID. The ledger itself refuses a
// second refund entry for the same job, but callers must still only refund a
// job once.
func (l *Ledger) Refund(ctx context.Context, userID string, kind Kind, amount int, jobID string) error {
	return l.credit(ctx, userID, kind, amount, ReasonRefund, optional(jobID), "")
}

// Grant is an operator top-up. It creates the account if needed.
func (l *Ledger) Grant(ctx context.Context, userID string, kind Kind, amount int, note string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txl := l.WithTx(tx)
		if _, err := txl.EnsureAccount(ctx, userID, Grant{}); err != nil {
			return err
		}
		return txl.credit(ctx, userID, kind, amount, ReasonGrant, nil, note)
	})
}

// Entries returns the user's audit trail, newest first.
func (l *Ledger) Entries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Entry
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) credit(ctx context.Context, userID string, kind Kind, amount int, reason EntryReason, jobID *string, note string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	col, err := kind.column()
	if err != nil {
		return err
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Balance{}).
			Where("user_id = ?", userID).
			Update(col, gorm.Expr(col+" + ?", amount))
		if res.Error != nil {
			return fmt.Errorf("%s %s credits: %w", reason, kind, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		if err := tx.Create(&Entry{
			UserID: userID,
			Kind:   kind,
			Delta:  amount,
			Reason: reason,
			JobID:  jobID,
			Note:   note,
		}).Error; err != nil {
			return fmt.Errorf("record %s entry: %w", reason, err)
		}
		return nil
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
