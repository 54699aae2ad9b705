package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SetTransactionPIN hashes and stores a user's transaction PIN, clearing any
// lockout state left from prior failures.
func (s *Service) SetTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	if len(pin) < 4 || len(pin) > 6 {
		return fmt.Errorf("%w: pin must be 4 to 6 digits", ErrInvalidPIN)
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: pin must be numeric", ErrInvalidPIN)
		}
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}
	return s.repo.SetTransactionPIN(ctx, userID, string(hash))
}

// authorizeTransactionPIN verifies the PIN ahead of any spend. Wrong entries
// count toward the lockout threshold; a correct entry resets the counter.
func (s *Service) authorizeTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TransactionPINHash == "" {
		return ErrPINNotSet
	}
	if user.PINLockedUntil != nil && user.PINLockedUntil.After(time.Now()) {
		return ErrPINLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.TransactionPINHash), []byte(pin)); err != nil {
		lockFor := time.Duration(s.cfg.PINLockoutSeconds) * time.Second
		attempts, lockedUntil, recErr := s.repo.RecordFailedPINAttempt(ctx, userID, s.cfg.PINMaxAttempts, lockFor)
		if recErr != nil {
			log.Printf("level=error component=app op=authorize_pin user_id=%s msg=\"failed to record pin attempt\" err=%v", userID, recErr)
		}
		if lockedUntil != nil {
			log.Printf("level=warn component=app op=authorize_pin user_id=%s attempts=%d msg=\"pin locked\"", userID, attempts)
			return ErrPINLocked
		}
		return ErrInvalidPIN
	}

	if user.FailedPINAttempts > 0 || user.PINLockedUntil != nil {
		if err := s.repo.ResetPINAttempts(ctx, userID); err != nil {
			log.Printf("level=warn component=app op=authorize_pin user_id=%s msg=\"failed to reset pin attempts\" err=%v", userID, err)
		}
	}
	return nil
}

// consumeSpendRateLimit applies the per-user spend limiter. Redis being down
// fails open: spending is not blocked by limiter availability.
func (s *Service) consumeSpendRateLimit(ctx context.Context, userID uuid.UUID) error {
	if s.rateLimiter == nil || s.cfg.SpendRateLimitPerMinute <= 0 {
		return nil
	}
	count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, "spend", userID.String(), s.cfg.SpendRateLimitPerMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=app op=rate_limit user_id=%s msg=\"limiter unavailable; allowing\" err=%v", userID, err)
		return nil
	}
	if count > s.cfg.SpendRateLimitPerMinute {
		return ErrRateLimited
	}
	return nil
}
