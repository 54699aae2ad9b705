/**
 * @description
 * Vendor call orchestration: the funds-safe path from an authorized purchase
 * request to a classified vendor outcome.
 *
 * Order of operations is fixed: persist the call record, lock the funds,
 * then make the HTTP call outside any database transaction. Whatever
 * happens to the process after that, the request id on disk plus the
 * idempotent ledger make the outcome recoverable.
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
	"github.com/vendapay/wallet-service/pkg/vtuclient"
)

// Purchase runs a single-wallet vendor purchase end to end.
func (s *Service) Purchase(ctx context.Context, userID uuid.UUID, service domain.ServiceKind, req domain.PurchaseRequest) (*domain.PurchaseResponse, error) {
	if !domain.ValidServiceKind(service) {
		return nil, ErrInvalidService
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return nil, fmt.Errorf("phone number is required")
	}
	if service == domain.ServiceData && strings.TrimSpace(req.PlanID) == "" {
		return nil, fmt.Errorf("plan_id is required for data purchases")
	}
	if err := s.authorizeTransactionPIN(ctx, userID, req.TransactionPIN); err != nil {
		return nil, err
	}
	if err := s.consumeSpendRateLimit(ctx, userID); err != nil {
		return nil, err
	}

	wallet, err := s.repo.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	requestID := uuid.NewString()
	reference := "VTU:" + requestID
	vc := &domain.VendorCall{
		RequestID:   requestID,
		WalletID:    &wallet.ID,
		Service:     service,
		Network:     req.Network,
		PlanID:      req.PlanID,
		PhoneNumber: req.PhoneNumber,
		Amount:      req.Amount,
		Reference:   reference,
	}

	// 1. Durable call record before anything leaves the process.
	if err := s.createVendorCall(ctx, vc); err != nil {
		return nil, fmt.Errorf("failed to record vendor call: %w", err)
	}

	// 2. Reserve the funds.
	if _, err := s.repo.Lock(ctx, wallet.ID, req.Amount, reference, "vtu purchase"); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			if mErr := s.repo.SetVendorCallClassification(ctx, requestID, domain.ClassificationFailure, "INSUFFICIENT_FUNDS"); mErr != nil {
				log.Printf("level=error component=app op=purchase request_id=%s msg=\"failed to mark call\" err=%v", requestID, mErr)
			}
			return nil, store.ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to lock funds: %w", err)
	}

	// 3. The vendor call itself, outside any transaction.
	class := s.executeVendorCall(ctx, vc)
	return &domain.PurchaseResponse{
		RequestID:      requestID,
		Classification: class,
		Reference:      reference,
	}, nil
}

// createVendorCall persists the call record before any network I/O. The row
// lands already classified INDETERMINATE with its first poll time set, so a
// crash at any later point leaves a call reconciliation will pick up.
func (s *Service) createVendorCall(ctx context.Context, vc *domain.VendorCall) error {
	vc.Classification = domain.ClassificationIndeterminate
	nextPoll := time.Now().Add(domain.ReconcileBackoff(1))
	vc.NextPollAt = &nextPoll
	return s.repo.CreateVendorCall(ctx, vc)
}

// executeVendorCall submits the purchase, classifies the response and
// settles the funds accordingly. Callers have already locked the funds (or,
// for escrow calls, debited the members).
func (s *Service) executeVendorCall(ctx context.Context, vc *domain.VendorCall) domain.Classification {
	result, err := s.vendor.Purchase(ctx, vtuclient.PurchaseRequest{
		RequestID:   vc.RequestID,
		ServiceID:   strings.ToLower(string(vc.Service)),
		Network:     vc.Network,
		PlanID:      vc.PlanID,
		PhoneNumber: vc.PhoneNumber,
		AmountKobo:  vc.Amount.Kobo(),
	})
	class, raw := classifyVendorResult(result, err)
	s.settleVendorCall(ctx, vc, class, raw)
	return class
}

// classifyVendorResult maps a vendor exchange onto the three-way outcome.
// Only the vendor's exact success text is a success; an explicit rejection
// (HTTP 4xx, or a parsed non-success description) is a failure; everything
// else, transport faults and 5xx included, is unknown.
//
// A parsed rejection body is treated as terminal even when it arrives with a
// 4xx status: the vendor named the rejection, so the order did not run.
// Only unparsed bodies and 5xx responses stay unknown.
func classifyVendorResult(result *vtuclient.Result, err error) (domain.Classification, string) {
	if err != nil {
		return domain.ClassificationIndeterminate, err.Error()
	}
	if result.Delivered() {
		return domain.ClassificationSuccess, result.ResponseDescription
	}
	if result.HTTPStatus >= 500 {
		return domain.ClassificationIndeterminate, fmt.Sprintf("http %d: %s", result.HTTPStatus, result.ResponseDescription)
	}
	if result.ResponseDescription == "" && result.HTTPStatus >= 200 && result.HTTPStatus < 300 {
		// 2xx with no recognizable status text proves nothing either way.
		return domain.ClassificationIndeterminate, fmt.Sprintf("http %d: empty status", result.HTTPStatus)
	}
	return domain.ClassificationFailure, result.ResponseDescription
}

// settleVendorCall applies the funds movement for a classification and
// persists it. The ledger operations are idempotent, so this is safe to
// repeat for the same call.
func (s *Service) settleVendorCall(ctx context.Context, vc *domain.VendorCall, class domain.Classification, raw string) {
	switch class {
	case domain.ClassificationSuccess:
		if vc.WalletID != nil {
			if _, err := s.repo.SpendLocked(ctx, *vc.WalletID, vc.Reference, "vtu purchase delivered"); err != nil {
				if errors.Is(err, store.ErrLockReleased) {
					log.Printf("level=info component=app op=settle request_id=%s msg=\"lock already settled\"", vc.RequestID)
				} else {
					log.Printf("level=error component=app op=settle request_id=%s msg=\"spend of locked funds failed\" err=%v", vc.RequestID, err)
					return
				}
			}
		}
		if err := s.repo.SetVendorCallClassification(ctx, vc.RequestID, class, raw); err != nil {
			log.Printf("level=error component=app op=settle request_id=%s msg=\"failed to persist classification\" err=%v", vc.RequestID, err)
		}
		log.Printf("level=info component=app op=settle request_id=%s classification=SUCCESS", vc.RequestID)

	case domain.ClassificationFailure:
		if vc.WalletID != nil {
			if _, err := s.repo.Unlock(ctx, *vc.WalletID, vc.Reference, "vtu purchase rejected"); err != nil {
				if errors.Is(err, store.ErrLockReleased) || errors.Is(err, store.ErrLockNotFound) {
					log.Printf("level=info component=app op=settle request_id=%s msg=\"lock already settled\"", vc.RequestID)
				} else {
					log.Printf("level=error component=app op=settle request_id=%s msg=\"unlock failed\" err=%v", vc.RequestID, err)
					return
				}
			}
		}
		if err := s.repo.SetVendorCallClassification(ctx, vc.RequestID, class, raw); err != nil {
			log.Printf("level=error component=app op=settle request_id=%s msg=\"failed to persist classification\" err=%v", vc.RequestID, err)
		}
		log.Printf("level=warn component=app op=settle request_id=%s classification=FAILURE raw=%q", vc.RequestID, raw)

	case domain.ClassificationIndeterminate:
		// Funds stay locked; reconciliation owns this call now.
		nextPoll := time.Now().Add(domain.ReconcileBackoff(1))
		if err := s.repo.MarkVendorCallIndeterminate(ctx, vc.RequestID, raw, nextPoll); err != nil {
			log.Printf("level=error component=app op=settle request_id=%s msg=\"failed to mark indeterminate\" err=%v", vc.RequestID, err)
		}
		log.Printf("level=warn component=app op=settle request_id=%s classification=INDETERMINATE raw=%q next_poll=%s", vc.RequestID, raw, nextPoll.Format(time.RFC3339))
	}
}
