// Package domain defines the persistence models for credit accounts, credit
// transactions, and generation jobs. These types are mapped with GORM and form
// the core data layer of the generation backend.
package domain

import (
	"time"
)

// OwnerKind distinguishes guest sessions from registered users. Exactly one
// kind is active per owner key; a guest account is merged into a user account
// on signup (see CreditTransaction ReasonMigration).
type OwnerKind string

const (
	OwnerGuest OwnerKind = "guest"
	OwnerUser  OwnerKind = "user"
)

// JobKind is the type of generation a job performs.
type JobKind string

const (
	JobImage JobKind = "IMAGE"
	JobStory JobKind = "STORY"
)

// JobStatus is the lifecycle state of a generation job. The only legal path is
// PENDING -> PROCESSING -> {COMPLETED | FAILED}; a job never skips PROCESSING
// because the concurrency limiter and the status reader key off that state.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// TransactionReason is the business reason for a credit movement.
type TransactionReason string

const (
	ReasonGeneration  TransactionReason = "GENERATION"
	ReasonRefund      TransactionReason = "REFUND"
	ReasonSignupBonus TransactionReason = "SIGNUP_BONUS"
	ReasonMigration   TransactionReason = "MIGRATION"
)

// CreditAccount holds the spendable balance for one owner key (guest session
// id or registered user id). The balance is never negative and is mutated only
// through guarded updates paired with an appended CreditTransaction, so that
// balance == initial grant + sum of transaction amounts at all times.
//
// Accounts are created lazily on the first balance check and never deleted;
// a guest account is zeroed (not removed) when its balance migrates to a
// registered account.
type CreditAccount struct {
	OwnerKey  string    `json:"owner_key"  gorm:"type:varchar(64);primaryKey"`
	OwnerKind OwnerKind `json:"owner_kind" gorm:"type:varchar(16);not null;check:owner_kind IN ('guest','user')"`
	Balance   int       `json:"balance"    gorm:"not null;default:0;check:balance >= 0"`
	TotalUsed int       `json:"total_used" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CreditAccount.
func (CreditAccount) TableName() string { return "credit_accounts" }

// CreditTransaction is one append-only row in the credit ledger. Rows are
// never updated or deleted; refund idempotence is enforced by checking for an
// existing REFUND row with the same JobID before crediting.
type CreditTransaction struct {
	ID        string            `json:"id"         gorm:"type:char(36);primaryKey"`
	OwnerKey  string            `json:"owner_key"  gorm:"type:varchar(64);not null;index:idx_owner_txns,priority:1"`
	Amount    int               `json:"amount"     gorm:"not null"`
	Reason    TransactionReason `json:"reason"     gorm:"type:varchar(16);not null;check:reason IN ('GENERATION','REFUND','SIGNUP_BONUS','MIGRATION')"`
	JobID     *string           `json:"job_id,omitempty" gorm:"type:char(36);index"`
	CreatedAt time.Time         `json:"created_at" gorm:"index:idx_owner_txns,priority:2"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// GenerationJob is one generation request driven through the orchestrator.
// Input and Output are opaque JSON blobs: the pipeline routes them but does
// not interpret them beyond validation at the boundary.
//
// Write ownership: only the orchestrator mutates job rows. The status reader
// consumes them read-only.
type GenerationJob struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	OwnerKey     string     `json:"owner_key"     gorm:"type:varchar(64);not null;index:idx_owner_jobs,priority:1"`
	Kind         JobKind    `json:"kind"          gorm:"type:varchar(8);not null;check:kind IN ('IMAGE','STORY')"`
	Status       JobStatus  `json:"status"        gorm:"type:varchar(12);not null;index;check:status IN ('PENDING','PROCESSING','COMPLETED','FAILED')"`
	Provider     string     `json:"provider,omitempty"      gorm:"type:varchar(32)"`
	RemoteID     string     `json:"remote_id,omitempty"     gorm:"type:varchar(64)"`
	Input        string     `json:"input"         gorm:"type:text;not null"`
	Output       string     `json:"output,omitempty"        gorm:"type:text"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" gorm:"index:idx_owner_jobs,priority:2"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for GenerationJob.
func (GenerationJob) TableName() string { return "generation_jobs" }

// Terminal reports whether the job has reached a final state.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// IdempotencyRecord maps a client-supplied Idempotency-Key to the generation
// job it produced, so retried POSTs replay the original job instead of
// creating (and charging for) a second one.
type IdempotencyRecord struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	OwnerKey  string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_owner_key,priority:1"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_owner_key,priority:2"`
	JobID     string    `gorm:"type:char(36);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"index"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }
