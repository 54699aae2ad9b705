/**
 * @description
 * Reconciliation loop for vendor calls with unknown outcomes. Each pass
 * requeries due calls, settles the ones the vendor can now answer for, and
 * backs off the rest until the poll budget runs out, at which point the call
 * is escalated: closed as FAILURE with the funds released, and an alert
 * event published so operators can chase the vendor side.
 */

package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/vendapay/wallet-service/internal/domain"
)

// ReconcileIndeterminateCalls runs one reconciliation pass. Invoked on a
// schedule; safe to run concurrently with purchases because every settle
// path is idempotent.
func (s *Service) ReconcileIndeterminateCalls(ctx context.Context) {
	now := time.Now()
	calls, err := s.repo.ListIndeterminateDue(ctx, now, 50)
	if err != nil {
		log.Printf("level=error component=app op=reconcile msg=\"failed to list due calls\" err=%v", err)
		return
	}
	for i := range calls {
		s.reconcileCall(ctx, &calls[i], now)
	}
}

func (s *Service) reconcileCall(ctx context.Context, vc *domain.VendorCall, now time.Time) {
	result, err := s.vendor.Requery(ctx, vc.RequestID)
	class, raw := classifyVendorResult(result, err)

	switch class {
	case domain.ClassificationSuccess, domain.ClassificationFailure:
		s.settleVendorCall(ctx, vc, class, raw)
		s.applyReferenceOutcome(ctx, vc, class)

	case domain.ClassificationIndeterminate:
		nextPoll := now.Add(domain.ReconcileBackoff(vc.Attempts + 2))
		attempts, bumpErr := s.repo.BumpVendorCallPoll(ctx, vc.RequestID, nextPoll)
		if bumpErr != nil {
			log.Printf("level=error component=app op=reconcile request_id=%s msg=\"failed to bump poll\" err=%v", vc.RequestID, bumpErr)
			return
		}
		if attempts < domain.MaxReconcilePolls {
			log.Printf("level=info component=app op=reconcile request_id=%s attempts=%d next_poll=%s msg=\"still indeterminate\"",
				vc.RequestID, attempts, nextPoll.Format(time.RFC3339))
			return
		}
		s.escalateCall(ctx, vc, attempts, raw)
	}
}

// escalateCall gives up on polling. The call settles as FAILURE, which
// releases the locked funds, and the alert event routes the vendor-side
// question to an operator.
func (s *Service) escalateCall(ctx context.Context, vc *domain.VendorCall, attempts int, raw string) {
	s.settleVendorCall(ctx, vc, domain.ClassificationFailure, "ESCALATED: "+raw)
	log.Printf("level=error component=app op=reconcile request_id=%s attempts=%d msg=\"poll budget exhausted; escalated\"", vc.RequestID, attempts)
	s.publish(ctx, domain.EventVendorCallEscalated, domain.VendorCallEscalatedEvent{
		RequestID:   vc.RequestID,
		WalletID:    vc.WalletID,
		Amount:      vc.Amount,
		Attempts:    attempts,
		EscalatedAt: time.Now(),
	})
	s.applyReferenceOutcome(ctx, vc, domain.ClassificationFailure)
}

// applyReferenceOutcome propagates a resolved vendor call back to the flow
// that issued it, keyed by reference prefix.
func (s *Service) applyReferenceOutcome(ctx context.Context, vc *domain.VendorCall, class domain.Classification) {
	switch {
	case strings.HasPrefix(vc.Reference, "ATU:"):
		s.resolveScheduleOutcome(ctx, vc, class)
	case strings.HasPrefix(vc.Reference, "GP:"):
		s.resolveGroupOutcome(ctx, vc, class)
	}
}
