/**
 * @description
 * Pending-funding persistence. A PendingFunding row is the replay shield for
 * deposit webhooks: completion is only reachable from a PENDING row (or an
 * EXPIRED one still inside the grace window), claimed under a row lock.
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

const fundingColumns = `id, user_id, amount, payment_reference, COALESCE(gateway_reference, ''), status, created_at, updated_at, completed_at`

func scanFunding(row pgx.Row) (*domain.PendingFunding, error) {
	var pf domain.PendingFunding
	err := row.Scan(&pf.ID, &pf.UserID, &pf.Amount, &pf.PaymentReference, &pf.GatewayReference, &pf.Status, &pf.CreatedAt, &pf.UpdatedAt, &pf.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pf, nil
}

// CreatePendingFunding inserts a new PENDING deposit intent.
func (r *PostgresRepository) CreatePendingFunding(ctx context.Context, pf *domain.PendingFunding) error {
	query := `INSERT INTO pending_fundings (id, user_id, amount, payment_reference, status)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING created_at, updated_at`
	pf.Status = domain.FundingPending
	err := r.db.QueryRow(ctx, query, pf.ID, pf.UserID, pf.Amount, pf.PaymentReference, pf.Status).Scan(&pf.CreatedAt, &pf.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment reference %s already exists", pf.PaymentReference)
		}
		return fmt.Errorf("failed to create pending funding: %w", err)
	}
	return nil
}

// GetPendingFundingByReference looks up a funding intent by its payment
// reference.
func (r *PostgresRepository) GetPendingFundingByReference(ctx context.Context, paymentReference string) (*domain.PendingFunding, error) {
	query := `SELECT ` + fundingColumns + ` FROM pending_fundings WHERE payment_reference = $1`
	return scanFunding(r.db.QueryRow(ctx, query, paymentReference))
}

// LockPendingFundingForProcessing claims a funding row for the webhook
// handler. Only PENDING rows, or EXPIRED rows younger than expiredGrace, can
// be claimed; anything else returns ErrFundingNotPending so the caller can
// acknowledge the replay without crediting twice.
func (r *PostgresRepository) LockPendingFundingForProcessing(ctx context.Context, paymentReference string, expiredGrace time.Duration) (*domain.PendingFunding, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + fundingColumns + ` FROM pending_fundings WHERE payment_reference = $1 FOR UPDATE`
	pf, err := scanFunding(tx.QueryRow(ctx, query, paymentReference))
	if err != nil {
		return nil, err
	}

	switch pf.Status {
	case domain.FundingPending:
	case domain.FundingExpired:
		if time.Since(pf.CreatedAt) > expiredGrace {
			return nil, ErrFundingNotPending
		}
	default:
		return nil, ErrFundingNotPending
	}

	_, err = tx.Exec(ctx, `UPDATE pending_fundings SET status = $1, updated_at = NOW() WHERE id = $2`,
		domain.FundingProcessing, pf.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	pf.Status = domain.FundingProcessing
	return pf, nil
}

// CompletePendingFunding marks a claimed row COMPLETED.
func (r *PostgresRepository) CompletePendingFunding(ctx context.Context, id uuid.UUID, gatewayReference string) error {
	query := `UPDATE pending_fundings
	          SET status = $1, gateway_reference = $2, completed_at = NOW(), updated_at = NOW()
	          WHERE id = $3 AND status = $4`
	tag, err := r.db.Exec(ctx, query, domain.FundingCompleted, gatewayReference, id, domain.FundingProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFundingNotPending
	}
	return nil
}

// FailPendingFunding marks a claimed row FAILED (gateway reported a failed
// or abandoned charge).
func (r *PostgresRepository) FailPendingFunding(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE pending_fundings SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, domain.FundingFailed, id)
	return err
}

// ExpireStaleFundings flips PENDING rows older than olderThan to EXPIRED and
// reports how many were touched. Run by the janitor sweep.
func (r *PostgresRepository) ExpireStaleFundings(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `UPDATE pending_fundings
	          SET status = $1, updated_at = NOW()
	          WHERE status = $2 AND created_at < $3`
	tag, err := r.db.Exec(ctx, query, domain.FundingExpired, domain.FundingPending, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
