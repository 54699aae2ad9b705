package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vendapay/wallet-service/internal/domain"
)

// GetUser retrieves a user's credential row, creating it on first sight so
// upstream-issued identities do not need explicit provisioning here.
func (r *PostgresRepository) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT id, COALESCE(transaction_pin_hash, ''), failed_pin_attempts, pin_locked_until, created_at
	          FROM users WHERE id = $1`
	var u domain.User
	err := r.db.QueryRow(ctx, query, userID).Scan(&u.ID, &u.TransactionPINHash, &u.FailedPINAttempts, &u.PINLockedUntil, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		ins := `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
		if _, insErr := r.db.Exec(ctx, ins, userID); insErr != nil {
			return nil, fmt.Errorf("failed to provision user: %w", insErr)
		}
		err = r.db.QueryRow(ctx, query, userID).Scan(&u.ID, &u.TransactionPINHash, &u.FailedPINAttempts, &u.PINLockedUntil, &u.CreatedAt)
	}
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// SetTransactionPIN stores a new bcrypt hash and clears any lockout.
func (r *PostgresRepository) SetTransactionPIN(ctx context.Context, userID uuid.UUID, pinHash string) error {
	query := `UPDATE users
	          SET transaction_pin_hash = $1, failed_pin_attempts = 0, pin_locked_until = NULL, updated_at = NOW()
	          WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, pinHash, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordFailedPINAttempt bumps the failure counter under a row lock and, once
// it reaches maxAttempts, stamps pin_locked_until lockFor into the future.
func (r *PostgresRepository) RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var attempts int
	err = tx.QueryRow(ctx, `SELECT failed_pin_attempts FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&attempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil, ErrUserNotFound
		}
		return 0, nil, err
	}

	attempts++
	var lockedUntil *time.Time
	if attempts >= maxAttempts {
		t := time.Now().Add(lockFor)
		lockedUntil = &t
	}
	_, err = tx.Exec(ctx, `UPDATE users SET failed_pin_attempts = $1, pin_locked_until = $2, updated_at = NOW() WHERE id = $3`,
		attempts, lockedUntil, userID)
	if err != nil {
		return 0, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, err
	}
	return attempts, lockedUntil, nil
}

// ResetPINAttempts clears the failure counter after a correct entry.
func (r *PostgresRepository) ResetPINAttempts(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET failed_pin_attempts = 0, pin_locked_until = NULL, updated_at = NOW()
		 WHERE id = $1 AND (failed_pin_attempts <> 0 OR pin_locked_until IS NOT NULL)`, userID)
	return err
}
