// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the credit
// ledger: accounts plus their append-only transaction log.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Concurrency contract: balance mutations never read-modify-write. Every
// decrement is a single guarded UPDATE whose WHERE clause re-checks the
// precondition (balance >= amount), so two concurrent debits against a
// balance of 1 resolve to exactly one success at the storage layer. The
// paired transaction row is appended inside the same DB transaction.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrInsufficientBalance is returned by DebitCredit when the guarded update
// matched no row, i.e. the account balance was already zero.
var ErrInsufficientBalance = errors.New("insufficient balance")

// IsInsufficientBalance reports whether err is the guard failure returned by
// DebitCredit. Exposed as a function so the service layer can recognize it
// without importing this package's sentinel directly.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

// GetAccount fetches the credit account for ownerKey, or ErrNotFound.
func GetAccount(ctx context.Context, db *gorm.DB, ownerKey string) (*domain.CreditAccount, error) {
	var acc domain.CreditAccount
	err := db.WithContext(ctx).
		Where("owner_key = ?", ownerKey).
		First(&acc).Error
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateAccount inserts a new account with its starting grant and appends the
// matching SIGNUP_BONUS transaction, atomically. The grant is recorded as a
// transaction so that the reconciliation invariant (balance == sum of
// transaction amounts) holds from the very first row.
func CreateAccount(ctx context.Context, db *gorm.DB, ownerKey string, kind domain.OwnerKind, grant int) (*domain.CreditAccount, error) {
	now := time.Now().UTC()
	acc := &domain.CreditAccount{
		OwnerKey:  ownerKey,
		OwnerKind: kind,
		Balance:   grant,
		CreatedAt: now,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(acc).Error; err != nil {
			return err
		}
		if grant == 0 {
			return nil
		}
		return tx.Create(&domain.CreditTransaction{
			ID:        uuid.NewString(),
			OwnerKey:  ownerKey,
			Amount:    grant,
			Reason:    domain.ReasonSignupBonus,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// DebitCredit atomically decrements the balance by one, provided the balance
// is at least one, and appends a -1 GENERATION transaction referencing jobID.
// It returns the new balance, or ErrInsufficientBalance when the guard
// matched no row. The decrement and the appended row commit together.
func DebitCredit(ctx context.Context, db *gorm.DB, ownerKey, jobID string) (int, error) {
	var newBalance int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.CreditAccount{}).
			Where("owner_key = ? AND balance >= ?", ownerKey, 1).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", 1),
				"total_used": gorm.Expr("total_used + ?", 1),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
		if err := tx.Create(&domain.CreditTransaction{
			ID:        uuid.NewString(),
			OwnerKey:  ownerKey,
			Amount:    -1,
			Reason:    domain.ReasonGeneration,
			JobID:     &jobID,
			CreatedAt: time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		var acc domain.CreditAccount
		if err := tx.Where("owner_key = ?", ownerKey).First(&acc).Error; err != nil {
			return err
		}
		newBalance = acc.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// RefundCredit returns the job's spent credit: it increments the balance by
// one and appends a +1 REFUND transaction referencing jobID. The operation is
// idempotent per job; when a REFUND row for jobID already exists, the balance
// is returned unchanged and nothing is appended.
func RefundCredit(ctx context.Context, db *gorm.DB, ownerKey, jobID string) (int, error) {
	var newBalance int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior int64
		if err := tx.Model(&domain.CreditTransaction{}).
			Where("job_id = ? AND reason = ?", jobID, domain.ReasonRefund).
			Count(&prior).Error; err != nil {
			return err
		}
		if prior == 0 {
			res := tx.Model(&domain.CreditAccount{}).
				Where("owner_key = ?", ownerKey).
				Update("balance", gorm.Expr("balance + ?", 1))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
			if err := tx.Create(&domain.CreditTransaction{
				ID:        uuid.NewString(),
				OwnerKey:  ownerKey,
				Amount:    1,
				Reason:    domain.ReasonRefund,
				JobID:     &jobID,
				CreatedAt: time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
		}
		var acc domain.CreditAccount
		if err := tx.Where("owner_key = ?", ownerKey).First(&acc).Error; err != nil {
			return err
		}
		newBalance = acc.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// MigrateBalance moves the remaining balance of fromOwner into toOwner as a
// matched pair of MIGRATION transactions, atomically. The source side is a
// guarded decrement of the exact balance read inside the transaction, so a
// concurrent debit against fromOwner cannot be lost or double-counted.
// A zero or missing source balance is a no-op returning 0.
func MigrateBalance(ctx context.Context, db *gorm.DB, fromOwner, toOwner string) (int, error) {
	var moved int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var from domain.CreditAccount
		if err := tx.Where("owner_key = ?", fromOwner).First(&from).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if from.Balance == 0 {
			return nil
		}
		amount := from.Balance
		now := time.Now().UTC()

		// Zero the source, guarded on the balance we just read.
		res := tx.Model(&domain.CreditAccount{}).
			Where("owner_key = ? AND balance = ?", fromOwner, amount).
			Update("balance", 0)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race with a concurrent debit inside the same window.
			return gorm.ErrInvalidTransaction
		}

		res = tx.Model(&domain.CreditAccount{}).
			Where("owner_key = ?", toOwner).
			Update("balance", gorm.Expr("balance + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		pair := []domain.CreditTransaction{
			{ID: uuid.NewString(), OwnerKey: fromOwner, Amount: -amount, Reason: domain.ReasonMigration, CreatedAt: now},
			{ID: uuid.NewString(), OwnerKey: toOwner, Amount: amount, Reason: domain.ReasonMigration, CreatedAt: now},
		}
		if err := tx.Create(&pair).Error; err != nil {
			return err
		}
		moved = amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// SumTransactions returns the sum of all transaction amounts for ownerKey.
// Used by reconciliation checks: the result must equal the account balance.
func SumTransactions(ctx context.Context, db *gorm.DB, ownerKey string) (int, error) {
	var total *int
	err := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("owner_key = ?", ownerKey).
		Select("SUM(amount)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// ListTransactions returns the transaction log for ownerKey, newest first.
func ListTransactions(ctx context.Context, db *gorm.DB, ownerKey string) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("owner_key = ?", ownerKey).
		Order("created_at desc, id desc").
		Find(&out).Error
	return out, err
}

// RefundExists reports whether a REFUND transaction referencing jobID exists.
func RefundExists(ctx context.Context, db *gorm.DB, jobID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("job_id = ? AND reason = ?", jobID, domain.ReasonRefund).
		Count(&n).Error
	return n > 0, err
}
