package domain

import (
	"time"

	"github.com/google/uuid"
)

// ServiceKind identifies the vendor product a purchase targets.
type ServiceKind string

const (
	ServiceAirtime ServiceKind = "AIRTIME"
	ServiceData    ServiceKind = "DATA"
)

// ValidServiceKind reports whether k is a known service.
func ValidServiceKind(k ServiceKind) bool {
	return k == ServiceAirtime || k == ServiceData
}

// AutoTopUp is a scheduled purchase. Funds for the next run are locked at
// creation time and each time a run completes successfully, so a due
// schedule never races other spenders for the same balance.
//
// IntervalHours of zero makes the schedule one-shot: it deactivates after
// its first successful run instead of re-locking.
type AutoTopUp struct {
	ID                  uuid.UUID   `json:"id"`
	UserID              uuid.UUID   `json:"user_id"`
	WalletID            uuid.UUID   `json:"wallet_id"`
	Service             ServiceKind `json:"service"`
	Network             string      `json:"network,omitempty"`
	PlanID              string      `json:"plan_id,omitempty"`
	PhoneNumber         string      `json:"phone_number"`
	Amount              Money       `json:"amount"`
	IntervalHours       int         `json:"interval_hours"`
	Active              bool        `json:"active"`
	NextRunAt           time.Time   `json:"next_run_at"`
	LastRunAt           *time.Time  `json:"last_run_at,omitempty"`
	TotalRuns           int         `json:"total_runs"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LockReference       string      `json:"lock_reference,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// CreateAutoTopUpRequest is the DTO for POST /autotopup. IntervalHours 0
// creates a one-shot schedule; PlanID is required for DATA.
type CreateAutoTopUpRequest struct {
	Service        ServiceKind `json:"service"`
	Network        string      `json:"network,omitempty"`
	PlanID         string      `json:"plan_id,omitempty"`
	PhoneNumber    string      `json:"phone_number"`
	Amount         Money       `json:"amount"`
	IntervalHours  int         `json:"interval_hours"`
	FirstRunAt     *time.Time  `json:"first_run_at,omitempty"`
	TransactionPIN string      `json:"transaction_pin"`
}

// MaxConsecutiveScheduleFailures is the deactivation threshold for a
// schedule: the third straight failed run turns the schedule off.
const MaxConsecutiveScheduleFailures = 3
