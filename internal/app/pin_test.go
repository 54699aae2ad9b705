package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSetTransactionPINValidation(t *testing.T) {
	svc, _, _ := newTestService(&scriptedVendor{})
	userID := uuid.New()

	tests := []struct {
		name string
		pin  string
		ok   bool
	}{
		{name: "four digits", pin: "1234", ok: true},
		{name: "six digits", pin: "123456", ok: true},
		{name: "too short", pin: "123", ok: false},
		{name: "too long", pin: "1234567", ok: false},
		{name: "non numeric", pin: "12a4", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SetTransactionPIN(context.Background(), userID, tt.pin)
			if tt.ok && err != nil {
				t.Fatalf("expected pin accepted, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidPIN) {
				t.Fatalf("expected ErrInvalidPIN, got %v", err)
			}
		})
	}
}

func TestAuthorizePINLockoutAfterRepeatedFailures(t *testing.T) {
	svc, repo, _ := newTestService(&scriptedVendor{})
	userID := uuid.New()
	if _, err := repo.GetUser(context.Background(), userID); err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	seedPIN(t, repo, userID, testPIN)

	maxAttempts := testConfig().PINMaxAttempts
	for attempt := 1; attempt < maxAttempts; attempt++ {
		if err := svc.authorizeTransactionPIN(context.Background(), userID, "0000"); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("attempt %d: expected ErrInvalidPIN, got %v", attempt, err)
		}
	}
	// The final wrong entry trips the lockout.
	if err := svc.authorizeTransactionPIN(context.Background(), userID, "0000"); !errors.Is(err, ErrPINLocked) {
		t.Fatalf("expected ErrPINLocked on final attempt, got %v", err)
	}
	// Even the right PIN is refused while locked.
	if err := svc.authorizeTransactionPIN(context.Background(), userID, testPIN); !errors.Is(err, ErrPINLocked) {
		t.Fatalf("expected ErrPINLocked for correct pin during lockout, got %v", err)
	}

	// Once the lockout lapses, a correct entry clears the counter.
	repo.mu.Lock()
	past := time.Now().Add(-time.Second)
	repo.users[userID].PINLockedUntil = &past
	repo.mu.Unlock()

	if err := svc.authorizeTransactionPIN(context.Background(), userID, testPIN); err != nil {
		t.Fatalf("expected authorization after lockout lapsed, got %v", err)
	}
	user, err := repo.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if user.FailedPINAttempts != 0 || user.PINLockedUntil != nil {
		t.Fatalf("expected counters reset, got attempts=%d locked=%v", user.FailedPINAttempts, user.PINLockedUntil)
	}
}

func TestAuthorizePINCorrectEntryResetsCounter(t *testing.T) {
	svc, repo, _ := newTestService(&scriptedVendor{})
	userID := uuid.New()
	if _, err := repo.GetUser(context.Background(), userID); err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	seedPIN(t, repo, userID, testPIN)

	if err := svc.authorizeTransactionPIN(context.Background(), userID, "0000"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
	if err := svc.authorizeTransactionPIN(context.Background(), userID, testPIN); err != nil {
		t.Fatalf("expected authorization, got %v", err)
	}
	user, _ := repo.GetUser(context.Background(), userID)
	if user.FailedPINAttempts != 0 {
		t.Fatalf("expected failure counter reset, got %d", user.FailedPINAttempts)
	}
}

func TestAuthorizePINLockoutThresholdFollowsConfig(t *testing.T) {
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.PINMaxAttempts = 2
	svc := NewService(repo, &scriptedVendor{}, &stubGateway{}, &capturePublisher{}, nil, cfg)

	userID := uuid.New()
	if _, err := repo.GetUser(context.Background(), userID); err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	seedPIN(t, repo, userID, testPIN)

	if err := svc.authorizeTransactionPIN(context.Background(), userID, "0000"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("first attempt: expected ErrInvalidPIN, got %v", err)
	}
	if err := svc.authorizeTransactionPIN(context.Background(), userID, "0000"); !errors.Is(err, ErrPINLocked) {
		t.Fatalf("second attempt: expected ErrPINLocked, got %v", err)
	}
}

func TestSetTransactionPINClearsLockout(t *testing.T) {
	svc, repo, _ := newTestService(&scriptedVendor{})
	userID := uuid.New()
	if _, err := repo.GetUser(context.Background(), userID); err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	seedPIN(t, repo, userID, testPIN)

	for attempt := 0; attempt < testConfig().PINMaxAttempts; attempt++ {
		_ = svc.authorizeTransactionPIN(context.Background(), userID, "0000")
	}
	if err := svc.SetTransactionPIN(context.Background(), userID, "4321"); err != nil {
		t.Fatalf("SetTransactionPIN returned error: %v", err)
	}
	if err := svc.authorizeTransactionPIN(context.Background(), userID, "4321"); err != nil {
		t.Fatalf("expected new pin to authorize, got %v", err)
	}
}
