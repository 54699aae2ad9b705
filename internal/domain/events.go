package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event routing keys published on the vendapay.events exchange.
const (
	EventDepositCompleted     = "wallet.deposit.completed"
	EventScheduleDeactivated  = "autotopup.schedule.deactivated"
	EventGroupPaymentSettled  = "payments.group.settled"
	EventGroupPaymentReversed = "payments.group.reversed"
	EventVendorCallEscalated  = "payments.vendor.escalated"
)

// DepositCompletedEvent is published after a webhook deposit credits a wallet.
type DepositCompletedEvent struct {
	UserID           uuid.UUID `json:"user_id"`
	WalletID         uuid.UUID `json:"wallet_id"`
	Amount           Money     `json:"amount"`
	PaymentReference string    `json:"payment_reference"`
	CompletedAt      time.Time `json:"completed_at"`
}

// ScheduleDeactivatedEvent is published when a schedule hits the
// consecutive-failure threshold and is turned off.
type ScheduleDeactivatedEvent struct {
	ScheduleID    uuid.UUID `json:"schedule_id"`
	UserID        uuid.UUID `json:"user_id"`
	Failures      int       `json:"failures"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

// GroupPaymentSettledEvent is published after a group payment's vendor call
// succeeds (or, with Reversed=true, after all member debits were returned).
type GroupPaymentSettledEvent struct {
	GroupPaymentID uuid.UUID `json:"group_payment_id"`
	InitiatorID    uuid.UUID `json:"initiator_id"`
	TotalAmount    Money     `json:"total_amount"`
	Reversed       bool      `json:"reversed"`
	SettledAt      time.Time `json:"settled_at"`
}

// VendorCallEscalatedEvent is published when reconciliation exhausts its
// polls and a call is closed as FAILURE. The lock has already been released
// by the time the event goes out; operators review the vendor side.
type VendorCallEscalatedEvent struct {
	RequestID   string     `json:"request_id"`
	WalletID    *uuid.UUID `json:"wallet_id,omitempty"`
	Amount      Money      `json:"amount"`
	Attempts    int        `json:"attempts"`
	EscalatedAt time.Time  `json:"escalated_at"`
}
