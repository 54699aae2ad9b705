/**
 * @description
 * Groups and group payment coordination: several wallets fund one vendor
 * purchase, all-or-nothing. The member set always comes from the stored
 * group, and only OWNER or ADMIN members may initiate a payment. Member
 * debits are collected in one transaction and act as the escrow; the vendor
 * call runs in escrow mode (no wallet lock of its own) and a rejected call
 * is compensated by reversing every member debit.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vendapay/wallet-service/internal/domain"
	"github.com/vendapay/wallet-service/internal/store"
)

func contributionReference(groupPaymentID, userID uuid.UUID) string {
	return fmt.Sprintf("GP:%s:%s", groupPaymentID, userID)
}

// CreateGroup creates a group owned by the caller. The creator is always an
// OWNER member; listed members default to MEMBER when no role is given.
func (s *Service) CreateGroup(ctx context.Context, ownerID uuid.UUID, req domain.CreateGroupRequest) (*domain.GroupResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("group name is required")
	}

	g := &domain.Group{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Name:    strings.TrimSpace(req.Name),
	}
	members := []domain.GroupMember{{GroupID: g.ID, UserID: ownerID, Role: domain.GroupRoleOwner}}
	for _, m := range req.Members {
		if m.UserID == ownerID {
			continue
		}
		role := m.Role
		if role == "" {
			role = domain.GroupRoleMember
		}
		if role != domain.GroupRoleAdmin && role != domain.GroupRoleMember {
			return nil, fmt.Errorf("unknown member role %q", m.Role)
		}
		members = append(members, domain.GroupMember{GroupID: g.ID, UserID: m.UserID, Role: role})
	}

	if err := s.repo.CreateGroup(ctx, g, members); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	log.Printf("level=info component=app op=create_group group_id=%s owner_id=%s members=%d", g.ID, ownerID, len(members))
	return &domain.GroupResponse{Group: *g, Members: members}, nil
}

// GetGroup returns a group visible to one of its members.
func (s *Service) GetGroup(ctx context.Context, id, userID uuid.UUID) (*domain.GroupResponse, error) {
	g, members, err := s.repo.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if findMember(members, userID) == nil {
		return nil, store.ErrNotFound
	}
	return &domain.GroupResponse{Group: *g, Members: members}, nil
}

func findMember(members []domain.GroupMember, userID uuid.UUID) *domain.GroupMember {
	for i := range members {
		if members[i].UserID == userID {
			return &members[i]
		}
	}
	return nil
}

// CreateGroupPayment runs the whole coordination: authorize against the
// group, split, collect, vendor call, settle or compensate.
func (s *Service) CreateGroupPayment(ctx context.Context, initiatorID uuid.UUID, req domain.CreateGroupPaymentRequest) (*domain.GroupPaymentResponse, error) {
	if !domain.ValidServiceKind(req.Service) {
		return nil, ErrInvalidService
	}
	if !req.TotalAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return nil, fmt.Errorf("phone number is required")
	}
	if req.Service == domain.ServiceData && strings.TrimSpace(req.PlanID) == "" {
		return nil, fmt.Errorf("plan_id is required for data purchases")
	}
	if err := s.authorizeTransactionPIN(ctx, initiatorID, req.TransactionPIN); err != nil {
		return nil, err
	}
	if err := s.consumeSpendRateLimit(ctx, initiatorID); err != nil {
		return nil, err
	}

	// The member set comes from the stored group, never from the request,
	// and only OWNER or ADMIN members may debit the others.
	_, members, err := s.repo.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	initiator := findMember(members, initiatorID)
	if initiator == nil || !initiator.Role.CanInitiatePayments() {
		return nil, ErrGroupForbidden
	}

	shares, err := s.computeShares(initiatorID, req, members)
	if err != nil {
		return nil, err
	}

	gp := &domain.GroupPayment{
		ID:          uuid.New(),
		GroupID:     req.GroupID,
		InitiatorID: initiatorID,
		Service:     req.Service,
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		TotalAmount: req.TotalAmount,
		SplitType:   req.SplitType,
		Status:      domain.GroupPaymentCollecting,
	}
	gp.Reference = "GP:" + gp.ID.String()

	percentages := make(map[uuid.UUID]*domain.Money, len(req.Percentages))
	for _, m := range req.Percentages {
		percentages[m.UserID] = m.Percentage
	}

	contributions := make([]domain.GroupContribution, 0, len(shares))
	for _, share := range shares {
		wallet, err := s.repo.EnsureWallet(ctx, share.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load wallet for member %s: %w", share.UserID, err)
		}
		contributions = append(contributions, domain.GroupContribution{
			ID:             uuid.New(),
			GroupPaymentID: gp.ID,
			UserID:         share.UserID,
			WalletID:       wallet.ID,
			Amount:         share.Amount,
			Percentage:     percentages[share.UserID],
			Status:         domain.ContributionPending,
			Reference:      contributionReference(gp.ID, share.UserID),
		})
	}

	if err := s.repo.CreateGroupPayment(ctx, gp, contributions); err != nil {
		return nil, fmt.Errorf("failed to create group payment: %w", err)
	}

	// Collection phase: all member debits land in one transaction. An
	// insufficiency rolls the whole transaction back, so no ledger entries
	// persist for an aborted payment.
	if failedUserID, err := s.repo.CollectGroupContributions(ctx, contributions, "group payment share"); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			log.Printf("level=warn component=app op=group_payment group_id=%s member=%s msg=\"member cannot cover share; payment aborted\"", gp.ID, failedUserID)
			for i := range contributions {
				if contributions[i].UserID == failedUserID {
					s.markContribution(ctx, contributions[i].ID, domain.ContributionFailed)
				}
			}
			if uErr := s.repo.UpdateGroupPaymentStatus(ctx, gp.ID, domain.GroupPaymentFailed); uErr != nil {
				log.Printf("level=error component=app op=group_payment group_id=%s msg=\"failed to mark failed\" err=%v", gp.ID, uErr)
			}
			return nil, fmt.Errorf("member %s: %w", failedUserID, store.ErrInsufficientFunds)
		}
		return nil, fmt.Errorf("failed to collect contributions: %w", err)
	}
	for i := range contributions {
		contributions[i].Status = domain.ContributionDebited
	}

	// Escrow-mode vendor call: the money is already out of member wallets,
	// so there is no single lock for the orchestrator to settle.
	vc := &domain.VendorCall{
		RequestID:   uuid.NewString(),
		Service:     gp.Service,
		Network:     req.Network,
		PlanID:      req.PlanID,
		PhoneNumber: gp.PhoneNumber,
		Amount:      gp.TotalAmount,
		Reference:   gp.Reference,
	}
	if err := s.createVendorCall(ctx, vc); err != nil {
		s.compensateGroup(ctx, gp, contributions)
		return nil, fmt.Errorf("failed to record vendor call: %w", err)
	}

	class := s.executeVendorCall(ctx, vc)
	switch class {
	case domain.ClassificationSuccess:
		s.settleGroup(ctx, gp)
	case domain.ClassificationFailure:
		s.compensateGroup(ctx, gp, contributions)
	case domain.ClassificationIndeterminate:
		log.Printf("level=warn component=app op=group_payment group_id=%s request_id=%s msg=\"vendor outcome unknown; deferred to reconciliation\"", gp.ID, vc.RequestID)
	}

	finalGP, finalContribs, err := s.repo.GetGroupPayment(ctx, gp.ID)
	if err != nil {
		return nil, err
	}
	return &domain.GroupPaymentResponse{
		ID:            finalGP.ID,
		Status:        finalGP.Status,
		Reference:     finalGP.Reference,
		Contributions: finalContribs,
	}, nil
}

// GetGroupPaymentStatus returns a payment visible to one of its members.
func (s *Service) GetGroupPaymentStatus(ctx context.Context, id, userID uuid.UUID) (*domain.GroupPaymentResponse, error) {
	gp, contribs, err := s.repo.GetGroupPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	member := gp.InitiatorID == userID
	for _, c := range contribs {
		if c.UserID == userID {
			member = true
			break
		}
	}
	if !member {
		return nil, store.ErrNotFound
	}
	return &domain.GroupPaymentResponse{
		ID:            gp.ID,
		Status:        gp.Status,
		Reference:     gp.Reference,
		Contributions: contribs,
	}, nil
}

func (s *Service) computeShares(initiatorID uuid.UUID, req domain.CreateGroupPaymentRequest, members []domain.GroupMember) ([]domain.MemberAmount, error) {
	switch req.SplitType {
	case domain.SplitEqual:
		ids := make([]uuid.UUID, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
		return domain.ComputeEqualSplit(req.TotalAmount, initiatorID, ids)
	case domain.SplitPercentage:
		// Percentages must name every group member exactly once, nobody
		// outside the group.
		if len(req.Percentages) != len(members) {
			return nil, fmt.Errorf("percentages must cover all %d group members", len(members))
		}
		seen := make(map[uuid.UUID]bool, len(req.Percentages))
		for _, p := range req.Percentages {
			if findMember(members, p.UserID) == nil {
				return nil, fmt.Errorf("user %s is not a member of the group", p.UserID)
			}
			if seen[p.UserID] {
				return nil, fmt.Errorf("user %s listed twice", p.UserID)
			}
			seen[p.UserID] = true
		}
		return domain.ComputePercentageSplit(req.TotalAmount, req.Percentages)
	default:
		return nil, fmt.Errorf("unknown split type %q", req.SplitType)
	}
}

func (s *Service) markContribution(ctx context.Context, id uuid.UUID, status domain.ContributionStatus) {
	if err := s.repo.UpdateContributionStatus(ctx, id, status); err != nil {
		log.Printf("level=error component=app op=group_payment contribution_id=%s msg=\"failed to update contribution status\" err=%v", id, err)
	}
}

func (s *Service) settleGroup(ctx context.Context, gp *domain.GroupPayment) {
	if err := s.repo.UpdateGroupPaymentStatus(ctx, gp.ID, domain.GroupPaymentSettled); err != nil {
		log.Printf("level=error component=app op=group_payment group_id=%s msg=\"failed to settle\" err=%v", gp.ID, err)
		return
	}
	log.Printf("level=info component=app op=group_payment group_id=%s msg=\"settled\"", gp.ID)
	s.publish(ctx, domain.EventGroupPaymentSettled, domain.GroupPaymentSettledEvent{
		GroupPaymentID: gp.ID,
		InitiatorID:    gp.InitiatorID,
		TotalAmount:    gp.TotalAmount,
		SettledAt:      time.Now(),
	})
}

// compensateGroup reverses every debited contribution. Reversals are
// idempotent, so a partial compensation can be resumed safely.
func (s *Service) compensateGroup(ctx context.Context, gp *domain.GroupPayment, contributions []domain.GroupContribution) {
	for i := range contributions {
		c := &contributions[i]
		if c.Status != domain.ContributionDebited {
			continue
		}
		if _, err := s.repo.Reverse(ctx, c.Reference, domain.EntryDebit, "group payment reversal"); err != nil {
			log.Printf("level=error component=app op=group_payment group_id=%s member=%s msg=\"reversal failed\" err=%v", gp.ID, c.UserID, err)
			continue
		}
		s.markContribution(ctx, c.ID, domain.ContributionReversed)
	}
	if err := s.repo.UpdateGroupPaymentStatus(ctx, gp.ID, domain.GroupPaymentReversed); err != nil {
		log.Printf("level=error component=app op=group_payment group_id=%s msg=\"failed to mark reversed\" err=%v", gp.ID, err)
		return
	}
	log.Printf("level=warn component=app op=group_payment group_id=%s msg=\"reversed\"", gp.ID)
	s.publish(ctx, domain.EventGroupPaymentReversed, domain.GroupPaymentSettledEvent{
		GroupPaymentID: gp.ID,
		InitiatorID:    gp.InitiatorID,
		TotalAmount:    gp.TotalAmount,
		Reversed:       true,
		SettledAt:      time.Now(),
	})
}

// resolveGroupOutcome propagates a reconciled escrow call onto its payment.
// Any terminal failure, escalation included, compensates the member debits.
func (s *Service) resolveGroupOutcome(ctx context.Context, vc *domain.VendorCall, class domain.Classification) {
	gp, contribs, err := s.repo.GetGroupPaymentByReference(ctx, vc.Reference)
	if err != nil {
		log.Printf("level=warn component=app op=reconcile reference=%s msg=\"group payment not found for resolved call\" err=%v", vc.Reference, err)
		return
	}
	switch class {
	case domain.ClassificationSuccess:
		s.settleGroup(ctx, gp)
	case domain.ClassificationFailure:
		s.compensateGroup(ctx, gp, contribs)
	}
}
