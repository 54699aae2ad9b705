/**
 * @description
 * Auto top-up schedule persistence. The defining property of a schedule is
 * that money for the next run is locked in the same transaction that creates
 * or advances the schedule, so a due run never competes with other spenders
 * for the balance it is about to use.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vendapay/wallet-service/internal/domain"
)

const autoTopUpColumns = `id, user_id, wallet_id, service, network, plan_id, phone_number, amount, interval_hours, active,
	next_run_at, consecutive_failures, COALESCE(lock_reference, ''), last_run_at, total_runs, created_at, updated_at`

func scanAutoTopUp(row pgx.Row) (*domain.AutoTopUp, error) {
	var s domain.AutoTopUp
	err := row.Scan(&s.ID, &s.UserID, &s.WalletID, &s.Service, &s.Network, &s.PlanID, &s.PhoneNumber, &s.Amount, &s.IntervalHours,
		&s.Active, &s.NextRunAt, &s.ConsecutiveFailures, &s.LockReference, &s.LastRunAt, &s.TotalRuns, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CreateAutoTopUpWithLock inserts the schedule and locks the first run's
// funds in one transaction. If the wallet cannot cover the lock, nothing is
// created and ErrInsufficientFunds comes back.
func (r *PostgresRepository) CreateAutoTopUpWithLock(ctx context.Context, s *domain.AutoTopUp, lockReference, lockDescription string) (*domain.AutoTopUp, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := applyEntryTx(ctx, tx, s.WalletID, domain.EntryLock, s.Amount, lockReference, lockDescription); err != nil {
		return nil, err
	}

	query := `INSERT INTO auto_top_ups
	          (id, user_id, wallet_id, service, network, plan_id, phone_number, amount, interval_hours, active, next_run_at, consecutive_failures, lock_reference)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, 0, $11)
	          RETURNING created_at, updated_at`
	err = tx.QueryRow(ctx, query, s.ID, s.UserID, s.WalletID, s.Service, s.Network, s.PlanID, s.PhoneNumber, s.Amount,
		s.IntervalHours, s.NextRunAt, lockReference).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit schedule: %w", err)
	}
	s.Active = true
	s.LockReference = lockReference
	return s, nil
}

// GetAutoTopUp retrieves one schedule by id.
func (r *PostgresRepository) GetAutoTopUp(ctx context.Context, id uuid.UUID) (*domain.AutoTopUp, error) {
	query := `SELECT ` + autoTopUpColumns + ` FROM auto_top_ups WHERE id = $1`
	return scanAutoTopUp(r.db.QueryRow(ctx, query, id))
}

// ListAutoTopUps returns a user's schedules, newest first.
func (r *PostgresRepository) ListAutoTopUps(ctx context.Context, userID uuid.UUID) ([]domain.AutoTopUp, error) {
	query := `SELECT ` + autoTopUpColumns + ` FROM auto_top_ups WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AutoTopUp
	for rows.Next() {
		var s domain.AutoTopUp
		if err := rows.Scan(&s.ID, &s.UserID, &s.WalletID, &s.Service, &s.Network, &s.PlanID, &s.PhoneNumber, &s.Amount, &s.IntervalHours,
			&s.Active, &s.NextRunAt, &s.ConsecutiveFailures, &s.LockReference, &s.LastRunAt, &s.TotalRuns, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CancelAutoTopUp deactivates a user's schedule and returns any funds still
// locked for the next run, all in one transaction.
func (r *PostgresRepository) CancelAutoTopUp(ctx context.Context, id, userID uuid.UUID) (*domain.AutoTopUp, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + autoTopUpColumns + ` FROM auto_top_ups WHERE id = $1 AND user_id = $2 FOR UPDATE`
	s, err := scanAutoTopUp(tx.QueryRow(ctx, query, id, userID))
	if err != nil {
		return nil, err
	}

	if s.Active && s.LockReference != "" {
		_, err := releaseLockTx(ctx, tx, s.WalletID, domain.EntryUnlock, s.LockReference, "auto top-up cancelled")
		if err != nil && err != ErrLockReleased && err != ErrLockNotFound {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx, `UPDATE auto_top_ups SET active = FALSE, lock_reference = NULL, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.Active = false
	s.LockReference = ""
	return s, nil
}

// ReactivateAutoTopUp turns a cancelled or deactivated schedule back on,
// locking the next run's funds in the same transaction. Insufficient funds
// abort the reactivation.
func (r *PostgresRepository) ReactivateAutoTopUp(ctx context.Context, id, userID uuid.UUID, nextRunAt time.Time, lockReference, lockDescription string) (*domain.AutoTopUp, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + autoTopUpColumns + ` FROM auto_top_ups WHERE id = $1 AND user_id = $2 FOR UPDATE`
	s, err := scanAutoTopUp(tx.QueryRow(ctx, query, id, userID))
	if err != nil {
		return nil, err
	}
	if s.Active {
		return s, nil
	}

	if _, err := applyEntryTx(ctx, tx, s.WalletID, domain.EntryLock, s.Amount, lockReference, lockDescription); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE auto_top_ups SET active = TRUE, consecutive_failures = 0, next_run_at = $1, lock_reference = $2, updated_at = NOW() WHERE id = $3`,
		nextRunAt, lockReference, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.Active = true
	s.ConsecutiveFailures = 0
	s.NextRunAt = nextRunAt
	s.LockReference = lockReference
	return s, nil
}

// DeleteAutoTopUp removes a user's schedule, returning any held lock first.
func (r *PostgresRepository) DeleteAutoTopUp(ctx context.Context, id, userID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + autoTopUpColumns + ` FROM auto_top_ups WHERE id = $1 AND user_id = $2 FOR UPDATE`
	s, err := scanAutoTopUp(tx.QueryRow(ctx, query, id, userID))
	if err != nil {
		return err
	}

	if s.Active && s.LockReference != "" {
		_, err := releaseLockTx(ctx, tx, s.WalletID, domain.EntryUnlock, s.LockReference, "auto top-up deleted")
		if err != nil && err != ErrLockReleased && err != ErrLockNotFound {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM auto_top_ups WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DueSchedules returns active schedules whose next_run_at has passed.
func (r *PostgresRepository) DueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.AutoTopUp, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + autoTopUpColumns + ` FROM auto_top_ups
	          WHERE active = TRUE AND next_run_at <= $1
	          ORDER BY next_run_at ASC LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AutoTopUp
	for rows.Next() {
		var s domain.AutoTopUp
		if err := rows.Scan(&s.ID, &s.UserID, &s.WalletID, &s.Service, &s.Network, &s.PlanID, &s.PhoneNumber, &s.Amount, &s.IntervalHours,
			&s.Active, &s.NextRunAt, &s.ConsecutiveFailures, &s.LockReference, &s.LastRunAt, &s.TotalRuns, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClaimScheduleRun re-verifies a due schedule under a row lock and advances
// next_run_at so no other sweep fires the same run. The returned snapshot
// keeps the claimed run's original next_run_at, which the caller uses to
// derive the run's idempotent reference; the second return value is the
// advanced next_run_at now persisted on the row.
func (r *PostgresRepository) ClaimScheduleRun(ctx context.Context, id uuid.UUID, now time.Time) (*domain.AutoTopUp, time.Time, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + autoTopUpColumns + ` FROM auto_top_ups WHERE id = $1 FOR UPDATE`
	s, err := scanAutoTopUp(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, time.Time{}, err
	}
	if !s.Active {
		return nil, time.Time{}, ErrScheduleInactive
	}
	if s.NextRunAt.After(now) {
		// Another sweep claimed this run between listing and locking.
		return nil, time.Time{}, ErrScheduleInactive
	}

	// One-shot schedules carry interval zero; space any retry an hour out so
	// a failed run does not spin the sweep.
	interval := time.Duration(s.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = time.Hour
	}
	next := s.NextRunAt.Add(interval)
	if !next.After(now) {
		next = now.Add(interval)
	}
	_, err = tx.Exec(ctx, `UPDATE auto_top_ups SET next_run_at = $1, updated_at = NOW() WHERE id = $2`, next, id)
	if err != nil {
		return nil, time.Time{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, time.Time{}, err
	}
	return s, next, nil
}

// CompleteScheduleRun records the run (run counter, last_run_at), resets the
// failure counter, and locks funds for the next run under nextLockReference.
// One-shot schedules (interval zero) are retired instead of re-locked. When
// the wallet cannot cover the next lock the schedule is deactivated and
// locked=false comes back so the caller can publish the deactivation event.
func (r *PostgresRepository) CompleteScheduleRun(ctx context.Context, id uuid.UUID, nextLockReference, lockDescription string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + autoTopUpColumns + ` FROM auto_top_ups WHERE id = $1 FOR UPDATE`
	s, err := scanAutoTopUp(tx.QueryRow(ctx, query, id))
	if err != nil {
		return false, err
	}

	locked := false
	if s.Active && s.IntervalHours > 0 {
		if _, err := applyEntryTx(ctx, tx, s.WalletID, domain.EntryLock, s.Amount, nextLockReference, lockDescription); err != nil {
			if err != ErrInsufficientFunds {
				return false, err
			}
		} else {
			locked = true
		}
	}

	if locked {
		_, err = tx.Exec(ctx,
			`UPDATE auto_top_ups SET consecutive_failures = 0, lock_reference = $1, total_runs = total_runs + 1, last_run_at = NOW(), updated_at = NOW() WHERE id = $2`,
			nextLockReference, id)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE auto_top_ups SET consecutive_failures = 0, active = FALSE, lock_reference = NULL, total_runs = total_runs + 1, last_run_at = NOW(), updated_at = NOW() WHERE id = $1`,
			id)
	}
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return locked, nil
}

// FailScheduleRun bumps the consecutive-failure counter and deactivates the
// schedule when it reaches maxFailures.
func (r *PostgresRepository) FailScheduleRun(ctx context.Context, id uuid.UUID, maxFailures int) (int, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var failures int
	var active bool
	err = tx.QueryRow(ctx, `SELECT consecutive_failures, active FROM auto_top_ups WHERE id = $1 FOR UPDATE`, id).
		Scan(&failures, &active)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, ErrNotFound
		}
		return 0, false, err
	}

	failures++
	deactivated := false
	if active && failures >= maxFailures {
		active = false
		deactivated = true
	}
	_, err = tx.Exec(ctx,
		`UPDATE auto_top_ups SET consecutive_failures = $1, active = $2, lock_reference = NULL, updated_at = NOW() WHERE id = $3`,
		failures, active, id)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return failures, deactivated, nil
}
