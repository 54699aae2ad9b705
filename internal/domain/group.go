package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupRole is a member's standing inside a group. Only OWNER and ADMIN
// members may start group payments that debit the others.
type GroupRole string

const (
	GroupRoleOwner  GroupRole = "OWNER"
	GroupRoleAdmin  GroupRole = "ADMIN"
	GroupRoleMember GroupRole = "MEMBER"
)

// CanInitiatePayments reports whether the role may spend on the group's
// behalf.
func (r GroupRole) CanInitiatePayments() bool {
	return r == GroupRoleOwner || r == GroupRoleAdmin
}

// Group is the durable membership aggregate behind group payments. A payment
// may only debit wallets that belong to the named group.
type Group struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupMember is one user's membership row.
type GroupMember struct {
	GroupID  uuid.UUID `json:"group_id"`
	UserID   uuid.UUID `json:"user_id"`
	Role     GroupRole `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// CreateGroupRequest is the DTO for POST /groups. The creator becomes the
// OWNER; listed members join with the given role (MEMBER when blank).
type CreateGroupRequest struct {
	Name    string `json:"name"`
	Members []struct {
		UserID uuid.UUID `json:"user_id"`
		Role   GroupRole `json:"role,omitempty"`
	} `json:"members"`
}

// GroupResponse returns a group with its member list.
type GroupResponse struct {
	Group   Group         `json:"group"`
	Members []GroupMember `json:"members"`
}

// SplitType selects how a group payment's total is divided among members.
type SplitType string

const (
	SplitEqual      SplitType = "EQUAL"
	SplitPercentage SplitType = "PERCENTAGE"
)

// GroupPaymentStatus is the lifecycle state of a group payment.
type GroupPaymentStatus string

const (
	GroupPaymentPending    GroupPaymentStatus = "PENDING"
	GroupPaymentCollecting GroupPaymentStatus = "COLLECTING"
	GroupPaymentSettled    GroupPaymentStatus = "SETTLED"
	GroupPaymentReversed   GroupPaymentStatus = "REVERSED"
	GroupPaymentFailed     GroupPaymentStatus = "FAILED"
)

// ContributionStatus tracks one member's share of a group payment.
type ContributionStatus string

const (
	ContributionPending  ContributionStatus = "PENDING"
	ContributionDebited  ContributionStatus = "DEBITED"
	ContributionReversed ContributionStatus = "REVERSED"
	ContributionFailed   ContributionStatus = "FAILED"
)

// GroupPayment is a single all-or-nothing purchase funded by several
// wallets. Member debits form the escrow; the vendor call runs in escrow
// mode with no wallet lock of its own.
type GroupPayment struct {
	ID          uuid.UUID          `json:"id"`
	GroupID     uuid.UUID          `json:"group_id"`
	InitiatorID uuid.UUID          `json:"initiator_id"`
	Service     ServiceKind        `json:"service"`
	PhoneNumber string             `json:"phone_number"`
	TotalAmount Money              `json:"total_amount"`
	SplitType   SplitType          `json:"split_type"`
	Status      GroupPaymentStatus `json:"status"`
	Reference   string             `json:"reference"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// GroupContribution is one member's debited (or to-be-debited) share.
type GroupContribution struct {
	ID             uuid.UUID          `json:"id"`
	GroupPaymentID uuid.UUID          `json:"group_payment_id"`
	UserID         uuid.UUID          `json:"user_id"`
	WalletID       uuid.UUID          `json:"wallet_id"`
	Amount         Money              `json:"amount"`
	Percentage     *Money             `json:"percentage,omitempty"`
	Status         ContributionStatus `json:"status"`
	Reference      string             `json:"reference"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// GroupMemberShare assigns a percentage to one group member. Used only for
// PERCENTAGE splits; EQUAL splits divide across the whole membership.
type GroupMemberShare struct {
	UserID     uuid.UUID `json:"user_id"`
	Percentage *Money    `json:"percentage,omitempty"`
}

// CreateGroupPaymentRequest is the DTO for POST /payments/group. The member
// set comes from the stored group, never from the request: Percentages must
// cover exactly the group's members for a PERCENTAGE split and is ignored
// for EQUAL.
type CreateGroupPaymentRequest struct {
	GroupID        uuid.UUID          `json:"group_id"`
	Service        ServiceKind        `json:"service"`
	Network        string             `json:"network,omitempty"`
	PlanID         string             `json:"plan_id,omitempty"`
	PhoneNumber    string             `json:"phone_number"`
	TotalAmount    Money              `json:"total_amount"`
	SplitType      SplitType          `json:"split_type"`
	Percentages    []GroupMemberShare `json:"percentages,omitempty"`
	TransactionPIN string             `json:"transaction_pin"`
}

// GroupPaymentResponse reports the settled (or reversed) group payment.
type GroupPaymentResponse struct {
	ID            uuid.UUID           `json:"id"`
	Status        GroupPaymentStatus  `json:"status"`
	Reference     string              `json:"reference"`
	Contributions []GroupContribution `json:"contributions"`
}
