/**
 * @description
 * Vendor call persistence. A row is written before the outbound HTTP request
 * leaves the process, so a crash mid-flight still leaves a request id the
 * reconciler can requery by.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vendapay/wallet-service/internal/domain"
)

const vendorCallColumns = `request_id, wallet_id, service, network, plan_id, phone_number, amount, reference,
	classification, raw_status, attempts, next_poll_at, created_at, updated_at`

func scanVendorCall(row pgx.Row) (*domain.VendorCall, error) {
	var vc domain.VendorCall
	err := row.Scan(&vc.RequestID, &vc.WalletID, &vc.Service, &vc.Network, &vc.PlanID, &vc.PhoneNumber, &vc.Amount, &vc.Reference,
		&vc.Classification, &vc.RawStatus, &vc.Attempts, &vc.NextPollAt, &vc.CreatedAt, &vc.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vc, nil
}

// CreateVendorCall persists the call record ahead of the HTTP request. The
// row lands as INDETERMINATE with a poll time already set, so a crash before
// the outcome is recorded leaves a row the reconciler will pick up.
func (r *PostgresRepository) CreateVendorCall(ctx context.Context, vc *domain.VendorCall) error {
	query := `INSERT INTO vendor_calls (request_id, wallet_id, service, network, plan_id, phone_number, amount, reference,
	                                    classification, raw_status, next_poll_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query, vc.RequestID, vc.WalletID, vc.Service, vc.Network, vc.PlanID, vc.PhoneNumber, vc.Amount, vc.Reference,
		vc.Classification, vc.RawStatus, vc.NextPollAt).
		Scan(&vc.CreatedAt, &vc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("request id %s already exists", vc.RequestID)
		}
		return fmt.Errorf("failed to create vendor call: %w", err)
	}
	return nil
}

// GetVendorCall retrieves one call by request id.
func (r *PostgresRepository) GetVendorCall(ctx context.Context, requestID string) (*domain.VendorCall, error) {
	query := `SELECT ` + vendorCallColumns + ` FROM vendor_calls WHERE request_id = $1`
	return scanVendorCall(r.db.QueryRow(ctx, query, requestID))
}

// SetVendorCallClassification records a terminal outcome and stops polling.
func (r *PostgresRepository) SetVendorCallClassification(ctx context.Context, requestID string, class domain.Classification, rawStatus string) error {
	query := `UPDATE vendor_calls
	          SET classification = $1, raw_status = $2, next_poll_at = NULL, updated_at = NOW()
	          WHERE request_id = $3`
	tag, err := r.db.Exec(ctx, query, class, rawStatus, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkVendorCallIndeterminate flags a call for reconciliation polling.
func (r *PostgresRepository) MarkVendorCallIndeterminate(ctx context.Context, requestID, rawStatus string, nextPollAt time.Time) error {
	query := `UPDATE vendor_calls
	          SET classification = $1, raw_status = $2, next_poll_at = $3, updated_at = NOW()
	          WHERE request_id = $4`
	tag, err := r.db.Exec(ctx, query, domain.ClassificationIndeterminate, rawStatus, nextPollAt, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIndeterminateDue returns indeterminate calls whose poll time has come.
func (r *PostgresRepository) ListIndeterminateDue(ctx context.Context, now time.Time, limit int) ([]domain.VendorCall, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + vendorCallColumns + ` FROM vendor_calls
	          WHERE classification = $1 AND next_poll_at IS NOT NULL AND next_poll_at <= $2
	          ORDER BY next_poll_at ASC LIMIT $3`
	rows, err := r.db.Query(ctx, query, domain.ClassificationIndeterminate, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.VendorCall
	for rows.Next() {
		var vc domain.VendorCall
		if err := rows.Scan(&vc.RequestID, &vc.WalletID, &vc.Service, &vc.Network, &vc.PlanID, &vc.PhoneNumber, &vc.Amount, &vc.Reference,
			&vc.Classification, &vc.RawStatus, &vc.Attempts, &vc.NextPollAt, &vc.CreatedAt, &vc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// BumpVendorCallPoll increments the poll counter and schedules the next one,
// returning the new attempt count so the caller can decide on escalation.
func (r *PostgresRepository) BumpVendorCallPoll(ctx context.Context, requestID string, nextPollAt time.Time) (int, error) {
	query := `UPDATE vendor_calls
	          SET attempts = attempts + 1, next_poll_at = $1, updated_at = NOW()
	          WHERE request_id = $2
	          RETURNING attempts`
	var attempts int
	err := r.db.QueryRow(ctx, query, nextPollAt, requestID).Scan(&attempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}
