package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vendapay/wallet-service/internal/domain"
)

const groupPaymentColumns = `id, group_id, initiator_id, service, phone_number, total_amount, split_type, status, reference, created_at, updated_at`

const contributionColumns = `id, group_payment_id, user_id, wallet_id, amount, percentage, status, reference, created_at, updated_at`

// CreateGroup persists a group and its membership atomically.
func (r *PostgresRepository) CreateGroup(ctx context.Context, g *domain.Group, members []domain.GroupMember) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO groups (id, owner_id, name) VALUES ($1, $2, $3) RETURNING created_at, updated_at`
	if err := tx.QueryRow(ctx, query, g.ID, g.OwnerID, g.Name).Scan(&g.CreatedAt, &g.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	for i := range members {
		m := &members[i]
		query := `INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3) RETURNING joined_at`
		if err := tx.QueryRow(ctx, query, m.GroupID, m.UserID, m.Role).Scan(&m.JoinedAt); err != nil {
			return fmt.Errorf("failed to add group member: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetGroup retrieves a group and its members, members ordered by user id.
func (r *PostgresRepository) GetGroup(ctx context.Context, id uuid.UUID) (*domain.Group, []domain.GroupMember, error) {
	var g domain.Group
	err := r.db.QueryRow(ctx, `SELECT id, owner_id, name, created_at, updated_at FROM groups WHERE id = $1`, id).
		Scan(&g.ID, &g.OwnerID, &g.Name, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = $1 ORDER BY user_id ASC`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var members []domain.GroupMember
	for rows.Next() {
		var m domain.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, nil, err
		}
		members = append(members, m)
	}
	return &g, members, rows.Err()
}

// CollectGroupContributions debits every member's share in one transaction.
// If any wallet cannot cover its share the whole transaction rolls back, no
// ledger entries persist, and the failing member's id comes back with
// ErrInsufficientFunds. Replayed debits (same reference, same kind) are
// absorbed by the ledger's idempotency and still count as collected.
func (r *PostgresRepository) CollectGroupContributions(ctx context.Context, contributions []domain.GroupContribution, description string) (uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range contributions {
		c := &contributions[i]
		if _, err := applyEntryTx(ctx, tx, c.WalletID, domain.EntryDebit, c.Amount, c.Reference, description); err != nil {
			return c.UserID, err
		}
		_, err = tx.Exec(ctx,
			`UPDATE group_contributions SET status = $1, updated_at = NOW() WHERE id = $2`,
			domain.ContributionDebited, c.ID)
		if err != nil {
			return uuid.Nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return uuid.Nil, nil
}

// CreateGroupPayment persists the payment header and its contribution rows
// atomically, all starting PENDING.
func (r *PostgresRepository) CreateGroupPayment(ctx context.Context, gp *domain.GroupPayment, contributions []domain.GroupContribution) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO group_payments (id, group_id, initiator_id, service, phone_number, total_amount, split_type, status, reference)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING created_at, updated_at`
	err = tx.QueryRow(ctx, query, gp.ID, gp.GroupID, gp.InitiatorID, gp.Service, gp.PhoneNumber, gp.TotalAmount, gp.SplitType, gp.Status, gp.Reference).
		Scan(&gp.CreatedAt, &gp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create group payment: %w", err)
	}

	for i := range contributions {
		c := &contributions[i]
		query := `INSERT INTO group_contributions (id, group_payment_id, user_id, wallet_id, amount, percentage, status, reference)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		          RETURNING created_at, updated_at`
		err = tx.QueryRow(ctx, query, c.ID, c.GroupPaymentID, c.UserID, c.WalletID, c.Amount, c.Percentage, c.Status, c.Reference).
			Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create contribution: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetGroupPayment retrieves the header and its contributions, contributions
// ordered by member id to match the debit order.
func (r *PostgresRepository) GetGroupPayment(ctx context.Context, id uuid.UUID) (*domain.GroupPayment, []domain.GroupContribution, error) {
	var gp domain.GroupPayment
	query := `SELECT ` + groupPaymentColumns + ` FROM group_payments WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&gp.ID, &gp.GroupID, &gp.InitiatorID, &gp.Service, &gp.PhoneNumber,
		&gp.TotalAmount, &gp.SplitType, &gp.Status, &gp.Reference, &gp.CreatedAt, &gp.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+contributionColumns+` FROM group_contributions WHERE group_payment_id = $1 ORDER BY user_id ASC`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var contributions []domain.GroupContribution
	for rows.Next() {
		var c domain.GroupContribution
		if err := rows.Scan(&c.ID, &c.GroupPaymentID, &c.UserID, &c.WalletID, &c.Amount, &c.Percentage,
			&c.Status, &c.Reference, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, nil, err
		}
		contributions = append(contributions, c)
	}
	return &gp, contributions, rows.Err()
}

// GetGroupPaymentByReference resolves a payment from its vendor-call
// reference. Used by reconciliation.
func (r *PostgresRepository) GetGroupPaymentByReference(ctx context.Context, reference string) (*domain.GroupPayment, []domain.GroupContribution, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM group_payments WHERE reference = $1`, reference).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return r.GetGroupPayment(ctx, id)
}

// UpdateGroupPaymentStatus advances the payment header's lifecycle state.
func (r *PostgresRepository) UpdateGroupPaymentStatus(ctx context.Context, id uuid.UUID, status domain.GroupPaymentStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE group_payments SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateContributionStatus advances one contribution's lifecycle state.
func (r *PostgresRepository) UpdateContributionStatus(ctx context.Context, id uuid.UUID, status domain.ContributionStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE group_contributions SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
