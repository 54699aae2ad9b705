/**
 * @description
 * PostgreSQL implementation of the `Repository` interface: base plumbing
 * plus the wallet ledger operations. Every ledger operation runs in its own
 * transaction, takes a row lock on the wallet, and is idempotent on the
 * (reference, kind) pair: replaying an operation returns the entry written
 * the first time without touching balances again.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/domain: domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendapay/wallet-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const walletColumns = `id, owner_id, available_balance, locked_balance, active, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.AvailableBalance, &w.LockedBalance, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// EnsureWallet returns the owner's wallet, creating it on first use.
func (r *PostgresRepository) EnsureWallet(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	w, err := r.GetWalletByOwner(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	query := `INSERT INTO wallets (id, owner_id, available_balance, locked_balance, active)
	          VALUES ($1, $2, 0, 0, TRUE)
	          ON CONFLICT (owner_id) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, uuid.New(), ownerID); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return r.GetWalletByOwner(ctx, ownerID)
}

// GetWalletByOwner retrieves a wallet by its owning user id.
func (r *PostgresRepository) GetWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, ownerID))
}

// GetWalletByID retrieves a wallet by its primary key.
func (r *PostgresRepository) GetWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, walletID))
}

const entryColumns = `id, wallet_id, kind, amount, description, reference, status, created_at`

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.WalletID, &e.Kind, &e.Amount, &e.Description, &e.Reference, &e.Status, &e.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// findEntry looks up a ledger entry by its idempotency pair. Returns
// pgx.ErrNoRows untranslated so callers can branch on absence.
func findEntry(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, reference string, kind domain.EntryKind) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE reference = $1 AND kind = $2`
	var e domain.LedgerEntry
	err := q.QueryRow(ctx, query, reference, kind).Scan(&e.ID, &e.WalletID, &e.Kind, &e.Amount, &e.Description, &e.Reference, &e.Status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// lockWallet takes the row lock that serializes all balance mutations for a
// wallet within the current transaction.
func lockWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	return scanWallet(tx.QueryRow(ctx, query, walletID))
}

func insertEntry(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (id, wallet_id, kind, amount, description, reference, status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING created_at`
	return tx.QueryRow(ctx, query, e.ID, e.WalletID, e.Kind, e.Amount, e.Description, e.Reference, e.Status).Scan(&e.CreatedAt)
}

// Credit adds amount to the wallet's available balance.
func (r *PostgresRepository) Credit(ctx context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	return r.applyEntry(ctx, walletID, domain.EntryCredit, amount, reference, description)
}

// Debit removes amount from the wallet's available balance, failing with
// ErrInsufficientFunds when the balance cannot cover it.
func (r *PostgresRepository) Debit(ctx context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	return r.applyEntry(ctx, walletID, domain.EntryDebit, amount, reference, description)
}

// Lock moves amount from available to locked balance.
func (r *PostgresRepository) Lock(ctx context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	return r.applyEntry(ctx, walletID, domain.EntryLock, amount, reference, description)
}

// applyEntry is the shared path for CREDIT, DEBIT and LOCK. Amount-bearing
// reversal kinds go through Reverse instead.
func (r *PostgresRepository) applyEntry(ctx context.Context, walletID uuid.UUID, kind domain.EntryKind, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := applyEntryTx(ctx, tx, walletID, kind, amount, reference, description)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent replay of the same operation.
			return findEntry(ctx, r.db, reference, kind)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit ledger entry: %w", err)
	}
	return entry, nil
}

// applyEntryTx writes one amount-bearing entry and its balance update inside
// the caller's transaction. Replays return the previously written entry.
func applyEntryTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, kind domain.EntryKind, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	wallet, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}

	// Replay: the entry was written by an earlier attempt.
	if existing, err := findEntry(ctx, tx, reference, kind); err == nil {
		return existing, nil
	} else if err != pgx.ErrNoRows {
		return nil, err
	}

	var balanceUpdate string
	switch kind {
	case domain.EntryCredit:
		balanceUpdate = `UPDATE wallets SET available_balance = available_balance + $1, updated_at = NOW() WHERE id = $2`
	case domain.EntryDebit:
		if wallet.AvailableBalance.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		balanceUpdate = `UPDATE wallets SET available_balance = available_balance - $1, updated_at = NOW() WHERE id = $2`
	case domain.EntryLock:
		if wallet.AvailableBalance.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		balanceUpdate = `UPDATE wallets SET available_balance = available_balance - $1, locked_balance = locked_balance + $1, updated_at = NOW() WHERE id = $2`
	default:
		return nil, fmt.Errorf("unsupported entry kind %q", kind)
	}

	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    walletID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Reference:   reference,
		Status:      domain.EntryCompleted,
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if _, err := tx.Exec(ctx, balanceUpdate, amount, walletID); err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}
	return entry, nil
}

// Unlock returns a previously locked amount to the available balance. The
// amount comes from the LOCK entry carrying the same reference.
func (r *PostgresRepository) Unlock(ctx context.Context, walletID uuid.UUID, reference, description string) (*domain.LedgerEntry, error) {
	return r.releaseLock(ctx, walletID, domain.EntryUnlock, reference, description)
}

// SpendLocked consumes a previously locked amount: the locked balance drops
// and a DEBIT entry with the lock's reference records the spend.
func (r *PostgresRepository) SpendLocked(ctx context.Context, walletID uuid.UUID, reference, description string) (*domain.LedgerEntry, error) {
	return r.releaseLock(ctx, walletID, domain.EntryDebit, reference, description)
}

// releaseLock is the shared path for UNLOCK and locked-spend DEBIT. A lock
// can be released at most once: whichever of the two kinds lands first wins,
// the other gets ErrLockReleased.
func (r *PostgresRepository) releaseLock(ctx context.Context, walletID uuid.UUID, kind domain.EntryKind, reference, description string) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := releaseLockTx(ctx, tx, walletID, kind, reference, description)
	if err != nil {
		if isUniqueViolation(err) {
			return findEntry(ctx, r.db, reference, kind)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit ledger entry: %w", err)
	}
	return entry, nil
}

// releaseLockTx performs the UNLOCK / locked-spend DEBIT inside the caller's
// transaction.
func releaseLockTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, kind domain.EntryKind, reference, description string) (*domain.LedgerEntry, error) {
	wallet, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}

	lockEntry, err := findEntry(ctx, tx, reference, domain.EntryLock)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLockNotFound
		}
		return nil, err
	}
	if lockEntry.WalletID != walletID {
		return nil, ErrLockNotFound
	}

	// Replay of the same release.
	if existing, err := findEntry(ctx, tx, reference, kind); err == nil {
		return existing, nil
	} else if err != pgx.ErrNoRows {
		return nil, err
	}

	// Released the other way already.
	other := domain.EntryDebit
	if kind == domain.EntryDebit {
		other = domain.EntryUnlock
	}
	if _, err := findEntry(ctx, tx, reference, other); err == nil {
		return nil, ErrLockReleased
	} else if err != pgx.ErrNoRows {
		return nil, err
	}

	if wallet.LockedBalance.LessThan(lockEntry.Amount) {
		return nil, ErrInsufficientLocked
	}

	var balanceUpdate string
	if kind == domain.EntryUnlock {
		balanceUpdate = `UPDATE wallets SET locked_balance = locked_balance - $1, available_balance = available_balance + $1, updated_at = NOW() WHERE id = $2`
	} else {
		balanceUpdate = `UPDATE wallets SET locked_balance = locked_balance - $1, updated_at = NOW() WHERE id = $2`
	}

	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    walletID,
		Kind:        kind,
		Amount:      lockEntry.Amount,
		Description: description,
		Reference:   reference,
		Status:      domain.EntryCompleted,
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if _, err := tx.Exec(ctx, balanceUpdate, lockEntry.Amount, walletID); err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}
	return entry, nil
}

// Reverse writes the inverse entry for a completed ledger entry identified
// by (reference, kind). Reversing an already-reversed entry returns the
// reversal written the first time.
func (r *PostgresRepository) Reverse(ctx context.Context, reference string, kind domain.EntryKind, description string) (*domain.LedgerEntry, error) {
	inverse := domain.InverseKind(kind)
	if inverse == "" {
		return nil, ErrNotReversible
	}
	if kind == domain.EntryLock {
		// A lock's inverse is just the unlock path.
		orig, err := findEntry(ctx, r.db, reference, domain.EntryLock)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return r.Unlock(ctx, orig.WalletID, reference, description)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orig, err := findEntry(ctx, tx, reference, kind)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	wallet, err := lockWallet(ctx, tx, orig.WalletID)
	if err != nil {
		return nil, err
	}

	revRef := domain.ReversalReference(reference)
	if existing, err := findEntry(ctx, tx, revRef, inverse); err == nil {
		return existing, nil
	} else if err != pgx.ErrNoRows {
		return nil, err
	}

	var balanceUpdate string
	switch inverse {
	case domain.EntryReversalCredit:
		balanceUpdate = `UPDATE wallets SET available_balance = available_balance + $1, updated_at = NOW() WHERE id = $2`
	case domain.EntryReversalDebit:
		if wallet.AvailableBalance.LessThan(orig.Amount) {
			return nil, ErrInsufficientFunds
		}
		balanceUpdate = `UPDATE wallets SET available_balance = available_balance - $1, updated_at = NOW() WHERE id = $2`
	default:
		return nil, ErrNotReversible
	}

	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    orig.WalletID,
		Kind:        inverse,
		Amount:      orig.Amount,
		Description: description,
		Reference:   revRef,
		Status:      domain.EntryCompleted,
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return findEntry(ctx, r.db, revRef, inverse)
		}
		return nil, fmt.Errorf("failed to insert reversal entry: %w", err)
	}
	if _, err := tx.Exec(ctx, balanceUpdate, orig.Amount, orig.WalletID); err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reversal: %w", err)
	}
	return entry, nil
}

// ListLedgerEntries returns a wallet's entries, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Kind, &e.Amount, &e.Description, &e.Reference, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
