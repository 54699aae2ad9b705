package domain

import (
	"bytes"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyGroup is returned when a split has no members.
	ErrEmptyGroup = errors.New("group payment requires at least one member")
	// ErrBadPercentages is returned when percentage shares do not sum to 100.
	ErrBadPercentages = errors.New("percentages must sum to 100")
	// ErrMissingPercentage is returned when a PERCENTAGE member has no share.
	ErrMissingPercentage = errors.New("member percentage is required for percentage split")
	// ErrDuplicateMember is returned when the same user appears twice.
	ErrDuplicateMember = errors.New("duplicate member in group payment")
)

// percentageTolerance allows for caller-side rounding of shares.
var percentageTolerance = decimal.New(5, -3) // 0.005

// MemberAmount is one member's computed share of a group total.
type MemberAmount struct {
	UserID uuid.UUID
	Amount Money
}

// ComputeEqualSplit divides total evenly across members. The division
// rounds half-even to two places; any residue from rounding is absorbed by
// the initiator so the shares always sum exactly to total. Output order is
// ascending by member UUID, which is also the debit order the coordinator
// uses.
func ComputeEqualSplit(total Money, initiator uuid.UUID, members []uuid.UUID) ([]MemberAmount, error) {
	if len(members) == 0 {
		return nil, ErrEmptyGroup
	}
	seen := make(map[uuid.UUID]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			return nil, ErrDuplicateMember
		}
		seen[m] = struct{}{}
	}
	if _, ok := seen[initiator]; !ok {
		return nil, errors.New("initiator must be a group member")
	}

	ordered := append([]uuid.UUID(nil), members...)
	sortUUIDs(ordered)

	share := total.DivInt(int64(len(members)))
	out := make([]MemberAmount, 0, len(members))
	assigned := NewMoney(0, 0)
	for _, m := range ordered {
		out = append(out, MemberAmount{UserID: m, Amount: share})
		assigned = assigned.Add(share)
	}
	residue := total.Sub(assigned)
	if !residue.IsZero() {
		for i := range out {
			if out[i].UserID == initiator {
				out[i].Amount = out[i].Amount.Add(residue)
				break
			}
		}
	}
	return out, nil
}

// ComputePercentageSplit divides total by the supplied percentage shares.
// Shares must sum to 100 within a 0.005 tolerance. Each share rounds
// half-even to two places and the total rounding residue, positive or
// negative, goes to the member with the largest fractional remainder
// (ties broken by ascending UUID). Output order is ascending by UUID.
func ComputePercentageSplit(total Money, members []GroupMemberShare) ([]MemberAmount, error) {
	if len(members) == 0 {
		return nil, ErrEmptyGroup
	}
	seen := make(map[uuid.UUID]struct{}, len(members))
	sum := decimal.Zero
	for _, m := range members {
		if _, ok := seen[m.UserID]; ok {
			return nil, ErrDuplicateMember
		}
		seen[m.UserID] = struct{}{}
		if m.Percentage == nil {
			return nil, ErrMissingPercentage
		}
		if m.Percentage.IsNegative() || m.Percentage.IsZero() {
			return nil, ErrBadPercentages
		}
		sum = sum.Add(m.Percentage.Decimal())
	}
	if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(percentageTolerance) {
		return nil, ErrBadPercentages
	}

	ordered := append([]GroupMemberShare(nil), members...)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].UserID[:], ordered[j].UserID[:]) < 0
	})

	hundred := decimal.NewFromInt(100)
	out := make([]MemberAmount, 0, len(ordered))
	assigned := decimal.Zero
	largestRem := decimal.NewFromInt(-1)
	largestIdx := 0
	for i, m := range ordered {
		exact := total.Decimal().Mul(m.Percentage.Decimal()).Div(hundred)
		rounded := exact.RoundBank(2)
		rem := exact.Sub(rounded).Abs()
		if rem.GreaterThan(largestRem) {
			largestRem = rem
			largestIdx = i
		}
		out = append(out, MemberAmount{UserID: m.UserID, Amount: MoneyFromDecimal(rounded)})
		assigned = assigned.Add(rounded)
	}
	residue := total.Decimal().Sub(assigned)
	if !residue.IsZero() {
		out[largestIdx].Amount = MoneyFromDecimal(out[largestIdx].Amount.Decimal().Add(residue))
	}
	return out, nil
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
