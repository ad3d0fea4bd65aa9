// Package services – LedgerService
//
// This file implements the LedgerService, the only component allowed to move
// credit. It creates accounts lazily with a kind-dependent starting grant,
// debits and refunds single credits against jobs, and merges a guest
// account's remaining balance into a registered account on signup.
//
// All balance mutations delegate to guarded single-statement updates in the
// repository; the service layer adds lazy account creation, grant policy, and
// error mapping, never a read-modify-write of the balance itself.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lumistory/go-studio-backend/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Owner identifies a credit account holder: a guest session or a registered
// user, never both for the same request.
type Owner struct {
	Key  string
	Kind domain.OwnerKind
}

// LedgerRepo defines the repository contract required by LedgerService.
// Implementations are responsible for atomic, guarded persistence of balance
// movements and their paired transaction rows.
type LedgerRepo interface {
	// GetAccount fetches an account or gorm.ErrRecordNotFound.
	GetAccount(ctx context.Context, db *gorm.DB, ownerKey string) (*domain.CreditAccount, error)

	// CreateAccount inserts an account with its starting grant and the
	// matching SIGNUP_BONUS transaction.
	CreateAccount(ctx context.Context, db *gorm.DB, ownerKey string, kind domain.OwnerKind, grant int) (*domain.CreditAccount, error)

	// DebitCredit decrements the balance by one iff it is >= 1, appending a
	// -1 GENERATION transaction, and returns the new balance.
	DebitCredit(ctx context.Context, db *gorm.DB, ownerKey, jobID string) (int, error)

	// RefundCredit increments the balance by one and appends a +1 REFUND
	// transaction, idempotently per jobID, returning the new balance.
	RefundCredit(ctx context.Context, db *gorm.DB, ownerKey, jobID string) (int, error)

	// MigrateBalance moves the source balance into the target account as a
	// matched MIGRATION pair, returning the moved amount.
	MigrateBalance(ctx context.Context, db *gorm.DB, fromOwner, toOwner string) (int, error)
}

// isInsufficient reports whether err is the repo-level guard failure. Kept as
// a seam so the service does not import the repo package directly.
type insufficientChecker func(error) bool

// LedgerService owns credit accounts and their transaction logs.
type LedgerService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the ledger repository used by this service.
	Repo LedgerRepo

	// GuestGrant and UserGrant are the starting balances per owner kind.
	GuestGrant int
	UserGrant  int

	// IsInsufficient recognizes the repository's guard-failure error.
	IsInsufficient insufficientChecker
}

// grantFor returns the starting grant for an owner kind.
func (s *LedgerService) grantFor(kind domain.OwnerKind) int {
	if kind == domain.OwnerUser {
		return s.UserGrant
	}
	return s.GuestGrant
}

// ensureAccount fetches the owner's account, creating it with its starting
// grant when absent.
func (s *LedgerService) ensureAccount(ctx context.Context, owner Owner) (*domain.CreditAccount, error) {
	acc, err := s.Repo.GetAccount(ctx, s.DB, owner.Key)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return s.Repo.CreateAccount(ctx, s.DB, owner.Key, owner.Kind, s.grantFor(owner.Kind))
}

// CheckBalance reports whether the owner has spendable credit and the exact
// balance. The account is created lazily with its starting grant on the first
// check.
func (s *LedgerService) CheckBalance(ctx context.Context, owner Owner) (hasCredits bool, balance int, err error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "CheckBalance",
		trace.WithAttributes(attribute.String("owner.key", owner.Key)),
	)
	defer span.End()

	acc, err := s.ensureAccount(ctx, owner)
	if err != nil {
		return false, 0, err
	}
	return acc.Balance > 0, acc.Balance, nil
}

// Debit spends one credit against jobID. It returns ErrInsufficientCredits
// when the balance is zero; two concurrent debits against a balance of one
// resolve to exactly one success.
func (s *LedgerService) Debit(ctx context.Context, owner Owner, jobID string) (int, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "Debit",
		trace.WithAttributes(
			attribute.String("owner.key", owner.Key),
			attribute.String("job.id", jobID),
		),
	)
	defer span.End()

	newBalance, err := s.Repo.DebitCredit(ctx, s.DB, owner.Key, jobID)
	if err != nil {
		if s.IsInsufficient != nil && s.IsInsufficient(err) {
			return 0, ErrInsufficientCredits
		}
		return 0, err
	}
	return newBalance, nil
}

// Refund returns the credit spent on jobID. Refunding the same job twice
// credits only once; the repeated call reports the unchanged balance.
func (s *LedgerService) Refund(ctx context.Context, owner Owner, jobID string) (int, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "Refund",
		trace.WithAttributes(
			attribute.String("owner.key", owner.Key),
			attribute.String("job.id", jobID),
		),
	)
	defer span.End()

	return s.Repo.RefundCredit(ctx, s.DB, owner.Key, jobID)
}

// InitialGrant creates the owner's account with its signup grant if it does
// not exist yet, and returns the resulting balance. Used by the signup path;
// everyday requests rely on the lazy creation in CheckBalance instead.
func (s *LedgerService) InitialGrant(ctx context.Context, owner Owner) (int, error) {
	acc, err := s.ensureAccount(ctx, owner)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Migrate moves a guest session's remaining balance into a registered user's
// account, creating the user account (with its signup grant) when needed.
// A zero or missing session balance is a no-op returning 0.
func (s *LedgerService) Migrate(ctx context.Context, sessionKey, userKey string) (int, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "Migrate",
		trace.WithAttributes(
			attribute.String("owner.from", sessionKey),
			attribute.String("owner.to", userKey),
		),
	)
	defer span.End()

	if _, err := s.ensureAccount(ctx, Owner{Key: userKey, Kind: domain.OwnerUser}); err != nil {
		return 0, err
	}
	return s.Repo.MigrateBalance(ctx, s.DB, sessionKey, userKey)
}
