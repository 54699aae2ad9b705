/**
 * @description
 * Store layer contract for the wallet service. A single Repository interface
 * covers every persistence concern so the app layer can be exercised against
 * stub implementations in tests.
 *
 * Sentinel errors let callers branch on business conditions without parsing
 * driver errors.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vendapay/wallet-service/internal/domain"
)

var (
	// ErrNotFound is the generic missing-row error.
	ErrNotFound = errors.New("record not found")
	// ErrWalletNotFound is returned when a wallet lookup misses.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientFunds is returned when available balance cannot cover a
	// debit or lock.
	ErrInsufficientFunds = errors.New("insufficient available balance")
	// ErrInsufficientLocked is returned when locked balance cannot cover an
	// unlock or spend. It usually means the lock was already released.
	ErrInsufficientLocked = errors.New("insufficient locked balance")
	// ErrLockNotFound is returned when an unlock or spend names a reference
	// with no matching LOCK entry.
	ErrLockNotFound = errors.New("no lock entry for reference")
	// ErrLockReleased is returned when a lock reference was already unlocked
	// or spent.
	ErrLockReleased = errors.New("lock already released")
	// ErrNotReversible is returned when a reversal targets an entry kind
	// that has no inverse.
	ErrNotReversible = errors.New("entry kind is not reversible")
	// ErrFundingNotPending is returned when a webhook matches a funding row
	// that is no longer PENDING.
	ErrFundingNotPending = errors.New("pending funding is not in PENDING state")
	// ErrScheduleInactive is returned when a run targets a deactivated
	// schedule.
	ErrScheduleInactive = errors.New("schedule is not active")
)

// Repository is the persistence surface of the wallet service.
type Repository interface {
	// Wallet and ledger.
	EnsureWallet(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error)
	GetWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
	Credit(ctx context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error)
	Debit(ctx context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error)
	Lock(ctx context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error)
	Unlock(ctx context.Context, walletID uuid.UUID, reference, description string) (*domain.LedgerEntry, error)
	SpendLocked(ctx context.Context, walletID uuid.UUID, reference, description string) (*domain.LedgerEntry, error)
	Reverse(ctx context.Context, reference string, kind domain.EntryKind, description string) (*domain.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)

	// Users and transaction PIN.
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	SetTransactionPIN(ctx context.Context, userID uuid.UUID, pinHash string) error
	RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) (attempts int, lockedUntil *time.Time, err error)
	ResetPINAttempts(ctx context.Context, userID uuid.UUID) error

	// Deposit funding.
	CreatePendingFunding(ctx context.Context, pf *domain.PendingFunding) error
	GetPendingFundingByReference(ctx context.Context, paymentReference string) (*domain.PendingFunding, error)
	LockPendingFundingForProcessing(ctx context.Context, paymentReference string, expiredGrace time.Duration) (*domain.PendingFunding, error)
	CompletePendingFunding(ctx context.Context, id uuid.UUID, gatewayReference string) error
	FailPendingFunding(ctx context.Context, id uuid.UUID) error
	ExpireStaleFundings(ctx context.Context, olderThan time.Duration) (int64, error)

	// Auto top-up schedules.
	CreateAutoTopUpWithLock(ctx context.Context, s *domain.AutoTopUp, lockReference, lockDescription string) (*domain.AutoTopUp, error)
	GetAutoTopUp(ctx context.Context, id uuid.UUID) (*domain.AutoTopUp, error)
	ListAutoTopUps(ctx context.Context, userID uuid.UUID) ([]domain.AutoTopUp, error)
	CancelAutoTopUp(ctx context.Context, id, userID uuid.UUID) (*domain.AutoTopUp, error)
	ReactivateAutoTopUp(ctx context.Context, id, userID uuid.UUID, nextRunAt time.Time, lockReference, lockDescription string) (*domain.AutoTopUp, error)
	DeleteAutoTopUp(ctx context.Context, id, userID uuid.UUID) error
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.AutoTopUp, error)
	ClaimScheduleRun(ctx context.Context, id uuid.UUID, now time.Time) (claimed *domain.AutoTopUp, nextRunAt time.Time, err error)
	CompleteScheduleRun(ctx context.Context, id uuid.UUID, nextLockReference, lockDescription string) (locked bool, err error)
	FailScheduleRun(ctx context.Context, id uuid.UUID, maxFailures int) (failures int, deactivated bool, err error)

	// Vendor calls.
	CreateVendorCall(ctx context.Context, vc *domain.VendorCall) error
	GetVendorCall(ctx context.Context, requestID string) (*domain.VendorCall, error)
	SetVendorCallClassification(ctx context.Context, requestID string, class domain.Classification, rawStatus string) error
	MarkVendorCallIndeterminate(ctx context.Context, requestID string, rawStatus string, nextPollAt time.Time) error
	ListIndeterminateDue(ctx context.Context, now time.Time, limit int) ([]domain.VendorCall, error)
	BumpVendorCallPoll(ctx context.Context, requestID string, nextPollAt time.Time) (attempts int, err error)

	// Groups and group payments. CollectGroupContributions debits every
	// member in one transaction: either all debits land or none do, and on
	// an insufficiency it reports which member could not cover the share.
	CreateGroup(ctx context.Context, g *domain.Group, members []domain.GroupMember) error
	GetGroup(ctx context.Context, id uuid.UUID) (*domain.Group, []domain.GroupMember, error)
	CreateGroupPayment(ctx context.Context, gp *domain.GroupPayment, contributions []domain.GroupContribution) error
	CollectGroupContributions(ctx context.Context, contributions []domain.GroupContribution, description string) (failedUserID uuid.UUID, err error)
	GetGroupPayment(ctx context.Context, id uuid.UUID) (*domain.GroupPayment, []domain.GroupContribution, error)
	GetGroupPaymentByReference(ctx context.Context, reference string) (*domain.GroupPayment, []domain.GroupContribution, error)
	UpdateGroupPaymentStatus(ctx context.Context, id uuid.UUID, status domain.GroupPaymentStatus) error
	UpdateContributionStatus(ctx context.Context, id uuid.UUID, status domain.ContributionStatus) error
}
