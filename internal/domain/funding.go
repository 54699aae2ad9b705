package domain

import (
	"time"

	"github.com/google/uuid"
)

// FundingStatus is the lifecycle state of a pending deposit.
type FundingStatus string

const (
	FundingPending    FundingStatus = "PENDING"
	FundingProcessing FundingStatus = "PROCESSING"
	FundingCompleted  FundingStatus = "COMPLETED"
	FundingFailed     FundingStatus = "FAILED"
	FundingExpired    FundingStatus = "EXPIRED"
)

// PendingFunding is created before a gateway deposit is initiated and is the
// idempotency record against webhook replay: the webhook may only credit a
// wallet through a PENDING row matched by payment_reference.
type PendingFunding struct {
	ID               uuid.UUID     `json:"id"`
	UserID           uuid.UUID     `json:"user_id"`
	Amount           Money         `json:"amount"`
	PaymentReference string        `json:"payment_reference"`
	GatewayReference string        `json:"gateway_reference"`
	Status           FundingStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// FundWalletRequest is the DTO for POST /wallet/fund. Email goes to the
// gateway's hosted checkout; it is not stored here.
type FundWalletRequest struct {
	Amount Money  `json:"amount"`
	Email  string `json:"email"`
}

// FundWalletResponse carries the gateway hand-off back to the client.
type FundWalletResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	PaymentReference string `json:"payment_reference"`
}
