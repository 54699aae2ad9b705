package domain

import (
	"time"

	"github.com/google/uuid"
)

// User carries the credential fields the wallet service needs. Identity
// itself (signup, KYC) lives upstream; this service only verifies spend
// authorization.
type User struct {
	ID                 uuid.UUID  `json:"id"`
	TransactionPINHash string     `json:"-"`
	FailedPINAttempts  int        `json:"-"`
	PINLockedUntil     *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
}
