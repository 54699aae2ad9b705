/**
 * @description
 * Auto top-up schedules: CRUD plus the due-run execution path invoked by the
 * scheduler sweep. A run's ledger references are derived deterministically
 * from the schedule id and the run's own next_run_at, so a crashed or
 * replayed sweep lands on the same LOCK and DEBIT rows instead of minting
 * new ones.
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

// scheduleRunReference builds the idempotent ledger reference for one run.
func scheduleRunReference(scheduleID uuid.UUID, runAt time.Time) string {
	return fmt.Sprintf("ATU:%s:%s", scheduleID, runNonce(scheduleID.String(), runAt))
}

// CreateAutoTopUp validates, authorizes and creates a schedule with the
// first run's funds locked up front.
func (s *Service) CreateAutoTopUp(ctx context.Context, userID uuid.UUID, req domain.CreateAutoTopUpRequest) (*domain.AutoTopUp, error) {
	if !domain.ValidServiceKind(req.Service) {
		return nil, ErrInvalidService
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.IntervalHours < 0 {
		return nil, fmt.Errorf("interval cannot be negative")
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return nil, fmt.Errorf("phone number is required")
	}
	if req.Service == domain.ServiceData && strings.TrimSpace(req.PlanID) == "" {
		return nil, fmt.Errorf("plan_id is required for data schedules")
	}
	if err := s.authorizeTransactionPIN(ctx, userID, req.TransactionPIN); err != nil {
		return nil, err
	}

	wallet, err := s.repo.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	// A one-shot schedule (interval zero) without an explicit first run is
	// due at the next sweep.
	firstRun := time.Now().Add(time.Duration(req.IntervalHours) * time.Hour)
	if req.FirstRunAt != nil && req.FirstRunAt.After(time.Now()) {
		firstRun = *req.FirstRunAt
	}

	sched := &domain.AutoTopUp{
		ID:            uuid.New(),
		UserID:        userID,
		WalletID:      wallet.ID,
		Service:       req.Service,
		Network:       req.Network,
		PlanID:        req.PlanID,
		PhoneNumber:   strings.TrimSpace(req.PhoneNumber),
		Amount:        req.Amount,
		IntervalHours: req.IntervalHours,
		NextRunAt:     firstRun,
	}
	lockRef := scheduleRunReference(sched.ID, firstRun)
	created, err := s.repo.CreateAutoTopUpWithLock(ctx, sched, lockRef, "auto top-up reserve")
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=app op=create_schedule schedule_id=%s user_id=%s amount=%s next_run=%s",
		created.ID, userID, created.Amount, created.NextRunAt.Format(time.RFC3339))
	return created, nil
}

// ListSchedules returns the caller's schedules.
func (s *Service) ListSchedules(ctx context.Context, userID uuid.UUID) ([]domain.AutoTopUp, error) {
	return s.repo.ListAutoTopUps(ctx, userID)
}

// CancelSchedule deactivates a schedule and returns its held funds.
func (s *Service) CancelSchedule(ctx context.Context, id, userID uuid.UUID) (*domain.AutoTopUp, error) {
	return s.repo.CancelAutoTopUp(ctx, id, userID)
}

// ReactivateSchedule turns a deactivated schedule back on, locking the next
// run's funds.
func (s *Service) ReactivateSchedule(ctx context.Context, id, userID uuid.UUID) (*domain.AutoTopUp, error) {
	sched, err := s.repo.GetAutoTopUp(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.UserID != userID {
		return nil, store.ErrNotFound
	}
	nextRun := time.Now().Add(time.Duration(sched.IntervalHours) * time.Hour)
	lockRef := scheduleRunReference(id, nextRun)
	return s.repo.ReactivateAutoTopUp(ctx, id, userID, nextRun, lockRef, "auto top-up reserve")
}

// DeleteSchedule removes a schedule after returning its held funds.
func (s *Service) DeleteSchedule(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.DeleteAutoTopUp(ctx, id, userID)
}

// DueScheduleIDs lists schedules ready to run, for the sweep to fan out.
func (s *Service) DueScheduleIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	due, err := s.repo.DueSchedules(ctx, time.Now(), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// ExecuteScheduleRun performs one due run: claim under a row lock, make sure
// the run's funds are locked, fire the vendor call, then advance or fail the
// schedule according to the classification.
func (s *Service) ExecuteScheduleRun(ctx context.Context, scheduleID uuid.UUID) {
	now := time.Now()
	claimed, _, err := s.repo.ClaimScheduleRun(ctx, scheduleID, now)
	if err != nil {
		if errors.Is(err, store.ErrScheduleInactive) || errors.Is(err, store.ErrNotFound) {
			return
		}
		log.Printf("level=error component=app op=schedule_run schedule_id=%s msg=\"claim failed\" err=%v", scheduleID, err)
		return
	}

	// The funds for this run were locked when the previous run completed
	// (or at creation). A missing lock means the reserve failed earlier;
	// try once at execution time.
	reference := claimed.LockReference
	if reference == "" {
		reference = scheduleRunReference(claimed.ID, claimed.NextRunAt)
		if _, err := s.repo.Lock(ctx, claimed.WalletID, claimed.Amount, reference, "auto top-up reserve"); err != nil {
			if errors.Is(err, store.ErrInsufficientFunds) {
				s.recordScheduleFailure(ctx, claimed, "insufficient funds at run time")
				return
			}
			log.Printf("level=error component=app op=schedule_run schedule_id=%s msg=\"lock failed\" err=%v", scheduleID, err)
			return
		}
	}

	vc := &domain.VendorCall{
		RequestID:   uuid.NewString(),
		WalletID:    &claimed.WalletID,
		Service:     claimed.Service,
		Network:     claimed.Network,
		PlanID:      claimed.PlanID,
		PhoneNumber: claimed.PhoneNumber,
		Amount:      claimed.Amount,
		Reference:   reference,
	}
	if err := s.createVendorCall(ctx, vc); err != nil {
		log.Printf("level=error component=app op=schedule_run schedule_id=%s msg=\"failed to record vendor call\" err=%v", scheduleID, err)
		return
	}

	class := s.executeVendorCall(ctx, vc)
	switch class {
	case domain.ClassificationSuccess:
		s.advanceSchedule(ctx, claimed.ID, claimed.UserID)
	case domain.ClassificationFailure:
		s.recordScheduleFailure(ctx, claimed, "vendor rejected purchase")
	case domain.ClassificationIndeterminate:
		// Reconciliation resolves the schedule when the call settles.
		log.Printf("level=warn component=app op=schedule_run schedule_id=%s request_id=%s msg=\"run outcome unknown; deferred to reconciliation\"", scheduleID, vc.RequestID)
	}
}

// advanceSchedule records the run, resets failures and locks the next run.
// One-shot schedules retire quietly after their run; a recurring schedule
// that cannot fund its next run is deactivated with an event.
func (s *Service) advanceSchedule(ctx context.Context, scheduleID, userID uuid.UUID) {
	sched, err := s.repo.GetAutoTopUp(ctx, scheduleID)
	if err != nil {
		log.Printf("level=error component=app op=schedule_run schedule_id=%s msg=\"failed to reload schedule\" err=%v", scheduleID, err)
		return
	}
	nextLockRef := scheduleRunReference(scheduleID, sched.NextRunAt)
	locked, err := s.repo.CompleteScheduleRun(ctx, scheduleID, nextLockRef, "auto top-up reserve")
	if err != nil {
		log.Printf("level=error component=app op=schedule_run schedule_id=%s msg=\"failed to complete run\" err=%v", scheduleID, err)
		return
	}
	if sched.IntervalHours == 0 {
		log.Printf("level=info component=app op=schedule_run schedule_id=%s msg=\"one-shot schedule retired after run\"", scheduleID)
		return
	}
	if !locked {
		log.Printf("level=warn component=app op=schedule_run schedule_id=%s msg=\"next run reserve failed; schedule deactivated\"", scheduleID)
		s.publish(ctx, domain.EventScheduleDeactivated, domain.ScheduleDeactivatedEvent{
			ScheduleID:    scheduleID,
			UserID:        userID,
			Failures:      0,
			DeactivatedAt: time.Now(),
		})
		return
	}
	log.Printf("level=info component=app op=schedule_run schedule_id=%s next_run=%s msg=\"run complete\"", scheduleID, sched.NextRunAt.Format(time.RFC3339))
}

func (s *Service) recordScheduleFailure(ctx context.Context, sched *domain.AutoTopUp, reason string) {
	failures, deactivated, err := s.repo.FailScheduleRun(ctx, sched.ID, domain.MaxConsecutiveScheduleFailures)
	if err != nil {
		log.Printf("level=error component=app op=schedule_run schedule_id=%s msg=\"failed to record failure\" err=%v", sched.ID, err)
		return
	}
	log.Printf("level=warn component=app op=schedule_run schedule_id=%s failures=%d deactivated=%t reason=%q", sched.ID, failures, deactivated, reason)
	if deactivated {
		s.publish(ctx, domain.EventScheduleDeactivated, domain.ScheduleDeactivatedEvent{
			ScheduleID:    sched.ID,
			UserID:        sched.UserID,
			Failures:      failures,
			DeactivatedAt: time.Now(),
		})
	}
}

// resolveScheduleOutcome propagates a reconciled vendor call back onto its
// schedule. The schedule id is the middle segment of the ATU reference.
func (s *Service) resolveScheduleOutcome(ctx context.Context, vc *domain.VendorCall, class domain.Classification) {
	parts := strings.Split(vc.Reference, ":")
	if len(parts) != 3 {
		return
	}
	scheduleID, err := uuid.Parse(parts[1])
	if err != nil {
		return
	}
	sched, err := s.repo.GetAutoTopUp(ctx, scheduleID)
	if err != nil {
		log.Printf("level=warn component=app op=reconcile schedule_id=%s msg=\"schedule not found for resolved call\" err=%v", scheduleID, err)
		return
	}
	switch class {
	case domain.ClassificationSuccess:
		s.advanceSchedule(ctx, scheduleID, sched.UserID)
	case domain.ClassificationFailure:
		s.recordScheduleFailure(ctx, sched, "reconciled as failure")
	}
}
