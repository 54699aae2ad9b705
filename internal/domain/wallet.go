/**
 * @description
 * Core wallet and ledger domain models. A Wallet carries a spendable
 * available_balance plus a locked_balance reserved for scheduled spend and
 * in-flight vendor calls. Every balance-affecting event is recorded as an
 * append-only LedgerEntry; the ledger, not the vendor, is the source of truth.
 *
 * @notes
 * - Amounts are Money (fixed two-place decimals), never floats.
 * - A ledger entry is immutable after insert except for the
 *   PENDING -> COMPLETED | FAILED status transition.
 * - (reference, kind) is unique across the whole ledger and is the only
 *   idempotency mechanism: retrying an operation with the same reference is a
 *   no-op that returns the original entry.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a user's single internal wallet.
type Wallet struct {
	ID               uuid.UUID `json:"id"`
	OwnerID          uuid.UUID `json:"owner_id"`
	AvailableBalance Money     `json:"available_balance"`
	LockedBalance    Money     `json:"locked_balance"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EntryKind classifies the balance effect of a ledger entry.
type EntryKind string

const (
	EntryCredit         EntryKind = "CREDIT"
	EntryDebit          EntryKind = "DEBIT"
	EntryLock           EntryKind = "LOCK"
	EntryUnlock         EntryKind = "UNLOCK"
	EntryReversalCredit EntryKind = "REVERSAL_CREDIT"
	EntryReversalDebit  EntryKind = "REVERSAL_DEBIT"
)

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "PENDING"
	EntryCompleted EntryStatus = "COMPLETED"
	EntryFailed    EntryStatus = "FAILED"
)

// LedgerEntry is one immutable balance-affecting record.
type LedgerEntry struct {
	ID          uuid.UUID   `json:"id"`
	WalletID    uuid.UUID   `json:"wallet_id"`
	Kind        EntryKind   `json:"kind"`
	Amount      Money       `json:"amount"`
	Description string      `json:"description"`
	Reference   string      `json:"reference"`
	Status      EntryStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// InverseKind returns the compensating entry kind for a reversal, or "" when
// the kind has no inverse (credits are reversed by REVERSAL_DEBIT, debits by
// REVERSAL_CREDIT, locks by UNLOCK; unlocks and reversals are terminal).
func InverseKind(k EntryKind) EntryKind {
	switch k {
	case EntryDebit:
		return EntryReversalCredit
	case EntryCredit:
		return EntryReversalDebit
	case EntryLock:
		return EntryUnlock
	default:
		return ""
	}
}

// ReversalReference derives the idempotent reference for the inverse of an
// entry, e.g. "REV:GP:<payment>:<member>".
func ReversalReference(original string) string {
	return "REV:" + original
}

// WalletBalance is the read model returned by the balance endpoint.
type WalletBalance struct {
	Available Money `json:"available"`
	Locked    Money `json:"locked"`
}
