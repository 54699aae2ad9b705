package domain

import (
	"time"

	"github.com/google/uuid"
)

// Classification is the terminal (or pending-terminal) outcome of a vendor
// purchase attempt.
type Classification string

const (
	ClassificationNone          Classification = ""
	ClassificationSuccess       Classification = "SUCCESS"
	ClassificationFailure       Classification = "FAILURE"
	ClassificationIndeterminate Classification = "INDETERMINATE"
)

// VendorCall is the durable record of one outbound purchase attempt. The
// RequestID is generated before the HTTP call leaves the process, so a crash
// mid-flight still leaves a row the reconciler can requery by.
//
// WalletID is nil for escrow-mode calls (group payments), where the funds
// were already debited from member wallets and there is no single lock to
// settle.
type VendorCall struct {
	RequestID      string         `json:"request_id"`
	WalletID       *uuid.UUID     `json:"wallet_id,omitempty"`
	Service        ServiceKind    `json:"service"`
	Network        string         `json:"network,omitempty"`
	PlanID         string         `json:"plan_id,omitempty"`
	PhoneNumber    string         `json:"phone_number"`
	Amount         Money          `json:"amount"`
	Reference      string         `json:"reference"`
	Classification Classification `json:"classification"`
	RawStatus      string         `json:"raw_status,omitempty"`
	Attempts       int            `json:"attempts"`
	NextPollAt     *time.Time     `json:"next_poll_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MaxReconcilePolls bounds requeries of an indeterminate call before the
// call is escalated: closed as FAILURE, the lock released, and an alert
// event published for operator review.
const MaxReconcilePolls = 5

// ReconcileBackoff returns the delay before poll number attempt (1-based).
// The sequence is 60s, 2m, 4m, 8m, then 15m for every poll after that.
func ReconcileBackoff(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return 60 * time.Second
	case attempt == 2:
		return 2 * time.Minute
	case attempt == 3:
		return 4 * time.Minute
	case attempt == 4:
		return 8 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// PurchaseRequest is the DTO for POST /payments/{service}. PlanID selects
// the bundle for DATA purchases and is required there.
type PurchaseRequest struct {
	PhoneNumber    string `json:"phone_number"`
	Network        string `json:"network,omitempty"`
	PlanID         string `json:"plan_id,omitempty"`
	Amount         Money  `json:"amount"`
	TransactionPIN string `json:"transaction_pin"`
}

// PurchaseResponse reports the outcome of a synchronous purchase attempt.
type PurchaseResponse struct {
	RequestID      string         `json:"request_id"`
	Classification Classification `json:"status"`
	Reference      string         `json:"reference"`
}
