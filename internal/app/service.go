/**
 * @description
 * Core application service for the wallet engine. Composes the store layer,
 * the VTU vendor client, the payment gateway, Redis rate limiting and the
 * event producer behind one Service type the API layer and scheduler call
 * into.
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vendapay/wallet-service/internal/config"
	"github.com/vendapay/wallet-service/internal/domain"
	"github.com/vendapay/wallet-service/internal/store"
	"github.com/vendapay/wallet-service/pkg/rabbitmq"
	"github.com/vendapay/wallet-service/pkg/vtuclient"
)

var (
	// ErrInvalidPIN is returned when the transaction PIN does not match.
	ErrInvalidPIN = errors.New("invalid transaction pin")
	// ErrPINNotSet is returned when spending is attempted before a PIN exists.
	ErrPINNotSet = errors.New("transaction pin not set")
	// ErrPINLocked is returned while the PIN is locked out after repeated failures.
	ErrPINLocked = errors.New("transaction pin locked")
	// ErrRateLimited is returned when the spend rate limit is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidService is returned for unknown vendor services.
	ErrInvalidService = errors.New("unknown service")
	// ErrInvalidSignature is returned for webhook payloads that fail HMAC verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrGroupForbidden is returned when the caller's group role does not
	// permit the requested group operation.
	ErrGroupForbidden = errors.New("group role does not permit this operation")
)

// VendorAPI is the subset of the VTU client the service depends on.
// Satisfied by *vtuclient.Client and by test doubles.
type VendorAPI interface {
	Purchase(ctx context.Context, purchase vtuclient.PurchaseRequest) (*vtuclient.Result, error)
	Requery(ctx context.Context, requestID string) (*vtuclient.Result, error)
}

// PaymentGateway initiates hosted deposit sessions with the card processor.
type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, email string, amountKobo int64, reference, callbackURL string) (authorizationURL string, err error)
}

// RateLimiter is the distributed limiter guarding spend endpoints.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service is the application core wired by cmd/api/main.go.
type Service struct {
	repo        store.Repository
	vendor      VendorAPI
	gateway     PaymentGateway
	producer    rabbitmq.Publisher
	rateLimiter RateLimiter
	cfg         config.Config
}

// NewService creates a new wallet service instance.
func NewService(repo store.Repository, vendor VendorAPI, gateway PaymentGateway, producer rabbitmq.Publisher, limiter RateLimiter, cfg config.Config) *Service {
	return &Service{
		repo:        repo,
		vendor:      vendor,
		gateway:     gateway,
		producer:    producer,
		rateLimiter: limiter,
		cfg:         cfg,
	}
}

// GetBalance returns the caller's wallet balances, provisioning the wallet
// on first use.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*domain.WalletBalance, error) {
	w, err := s.repo.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &domain.WalletBalance{Available: w.AvailableBalance, Locked: w.LockedBalance}, nil
}

// ListTransactions returns the caller's ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	w, err := s.repo.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return s.repo.ListLedgerEntries(ctx, w.ID, limit, offset)
}

// runNonce derives the deterministic per-run token that makes a schedule
// run's references stable across sweeper crashes and replays.
func runNonce(scheduleID string, runAt time.Time) string {
	sum := sha256.Sum256([]byte(scheduleID + "|" + runAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:12]
}
