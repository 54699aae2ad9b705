/**
 * @description
 * Deposit funding flow: initiating a hosted checkout, reconciling the signed
 * gateway webhook into a wallet credit, and expiring abandoned intents.
 *
 * The PendingFunding row is the single replay shield. A webhook can only
 * credit through a row it claimed PENDING -> PROCESSING under a row lock, so
 * replays and concurrent deliveries of the same reference are acknowledged
 * without a second credit.
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

// PaystackWebhookEvent is the decoded webhook body, after the API layer has
// verified the HMAC signature over the raw bytes.
type PaystackWebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference  string `json:"reference"`
		AmountKobo int64  `json:"amount"`
		Status     string `json:"status"`
		ID         int64  `json:"id"`
	} `json:"data"`
}

// amountMismatchTolerance absorbs sub-kobo representation drift between the
// stored intent and the gateway's webhook amount.
var amountMismatchTolerance = domain.NewMoney(0, 1)

// InitiateFunding records a deposit intent and opens a gateway checkout
// session for it.
func (s *Service) InitiateFunding(ctx context.Context, userID uuid.UUID, req domain.FundWalletRequest) (*domain.FundWalletResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	if _, err := s.repo.EnsureWallet(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	pf := &domain.PendingFunding{
		ID:               uuid.New(),
		UserID:           userID,
		Amount:           req.Amount,
		PaymentReference: "FUND:" + uuid.NewString(),
	}
	if err := s.repo.CreatePendingFunding(ctx, pf); err != nil {
		return nil, err
	}

	authURL, err := s.gateway.InitializeTransaction(ctx, email, req.Amount.Kobo(), pf.PaymentReference, s.cfg.PaystackCallbackURL)
	if err != nil {
		// The intent stays PENDING; the janitor expires it if checkout never opens.
		log.Printf("level=error component=app op=initiate_funding reference=%s msg=\"gateway initialize failed\" err=%v", pf.PaymentReference, err)
		return nil, fmt.Errorf("failed to initialize checkout: %w", err)
	}

	log.Printf("level=info component=app op=initiate_funding user_id=%s reference=%s amount=%s", userID, pf.PaymentReference, req.Amount)
	return &domain.FundWalletResponse{
		AuthorizationURL: authURL,
		PaymentReference: pf.PaymentReference,
	}, nil
}

// ProcessDepositWebhook applies one verified gateway event. It always
// returns nil for conditions the gateway should not retry (unknown
// reference, replays, mismatches); errors mean a transient fault worth a
// gateway redelivery.
func (s *Service) ProcessDepositWebhook(ctx context.Context, event PaystackWebhookEvent) error {
	reference := strings.TrimSpace(event.Data.Reference)
	if reference == "" {
		log.Printf("level=warn component=app op=deposit_webhook msg=\"event without reference\" event=%s", event.Event)
		return nil
	}

	switch event.Event {
	case "charge.success":
	case "charge.failed":
		return s.failDeposit(ctx, reference)
	default:
		log.Printf("level=info component=app op=deposit_webhook reference=%s msg=\"ignoring event\" event=%s", reference, event.Event)
		return nil
	}

	grace := time.Duration(s.cfg.FundingGraceHours) * time.Hour
	pf, err := s.repo.LockPendingFundingForProcessing(ctx, reference, grace)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("level=warn component=app op=deposit_webhook reference=%s msg=\"no funding intent for reference\"", reference)
			return nil
		}
		if errors.Is(err, store.ErrFundingNotPending) {
			log.Printf("level=info component=app op=deposit_webhook reference=%s msg=\"replay or settled intent; acknowledged\"", reference)
			return nil
		}
		return fmt.Errorf("failed to claim funding intent: %w", err)
	}

	webhookAmount := domain.MoneyFromKobo(event.Data.AmountKobo)
	if pf.Amount.Sub(webhookAmount).Abs().Cmp(amountMismatchTolerance) > 0 {
		log.Printf("level=error component=app op=deposit_webhook reference=%s stored=%s received=%s msg=\"amount mismatch; intent failed\"",
			reference, pf.Amount, webhookAmount)
		if err := s.repo.FailPendingFunding(ctx, pf.ID); err != nil {
			return fmt.Errorf("failed to fail mismatched intent: %w", err)
		}
		return nil
	}

	wallet, err := s.repo.EnsureWallet(ctx, pf.UserID)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	// The gateway's settled amount is what lands in the wallet, not the
	// intent's. A within-tolerance delta still gets logged.
	if !pf.Amount.Equal(webhookAmount) {
		log.Printf("level=warn component=app op=deposit_webhook reference=%s stored=%s received=%s msg=\"crediting settled amount despite delta\"",
			reference, pf.Amount, webhookAmount)
	}

	// Credit is idempotent on the reference, so a crash between credit and
	// completion is safe to replay.
	if _, err := s.repo.Credit(ctx, wallet.ID, webhookAmount, pf.PaymentReference, "wallet deposit"); err != nil {
		return fmt.Errorf("failed to credit deposit: %w", err)
	}
	gatewayRef := fmt.Sprintf("%d", event.Data.ID)
	if err := s.repo.CompletePendingFunding(ctx, pf.ID, gatewayRef); err != nil {
		return fmt.Errorf("failed to complete funding intent: %w", err)
	}

	s.publish(ctx, domain.EventDepositCompleted, domain.DepositCompletedEvent{
		UserID:           pf.UserID,
		WalletID:         wallet.ID,
		Amount:           webhookAmount,
		PaymentReference: pf.PaymentReference,
		CompletedAt:      time.Now(),
	})
	log.Printf("level=info component=app op=deposit_webhook reference=%s user_id=%s amount=%s msg=\"deposit credited\"", reference, pf.UserID, webhookAmount)
	return nil
}

func (s *Service) failDeposit(ctx context.Context, reference string) error {
	grace := time.Duration(s.cfg.FundingGraceHours) * time.Hour
	pf, err := s.repo.LockPendingFundingForProcessing(ctx, reference, grace)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrFundingNotPending) {
			return nil
		}
		return fmt.Errorf("failed to claim funding intent: %w", err)
	}
	if err := s.repo.FailPendingFunding(ctx, pf.ID); err != nil {
		return fmt.Errorf("failed to fail funding intent: %w", err)
	}
	log.Printf("level=info component=app op=deposit_webhook reference=%s msg=\"charge failed; intent failed\"", reference)
	return nil
}

// ExpireAbandonedFundings flips stale PENDING intents to EXPIRED. Run daily
// by the scheduler.
func (s *Service) ExpireAbandonedFundings(ctx context.Context) {
	maxAge := time.Duration(s.cfg.FundingMaxAgeHours) * time.Hour
	n, err := s.repo.ExpireStaleFundings(ctx, maxAge)
	if err != nil {
		log.Printf("level=error component=app op=funding_janitor msg=\"expire sweep failed\" err=%v", err)
		return
	}
	if n > 0 {
		log.Printf("level=info component=app op=funding_janitor expired=%d", n)
	}
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, routingKey, body); err != nil {
		log.Printf("level=warn component=app op=publish routing_key=%s msg=\"event publish failed\" err=%v", routingKey, err)
	}
}
