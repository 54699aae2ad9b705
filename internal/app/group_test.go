package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/vendapay/wallet-service/internal/domain"
	"github.com/vendapay/wallet-service/internal/store"
)

// seedGroup creates a group owned by the first user with everyone else a
// plain MEMBER.
func seedGroup(t *testing.T, svc *Service, owner uuid.UUID, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	req := domain.CreateGroupRequest{Name: "test crew"}
	for _, m := range members {
		req.Members = append(req.Members, struct {
			UserID uuid.UUID        `json:"user_id"`
			Role   domain.GroupRole `json:"role,omitempty"`
		}{UserID: m})
	}
	resp, err := svc.CreateGroup(context.Background(), owner, req)
	if err != nil {
		t.Fatalf("CreateGroup returned error: %v", err)
	}
	return resp.Group.ID
}

func groupReq(groupID uuid.UUID, total domain.Money) domain.CreateGroupPaymentRequest {
	return domain.CreateGroupPaymentRequest{
		GroupID:        groupID,
		Service:        domain.ServiceData,
		Network:        "MTN",
		PlanID:         "mtn-2gb-30d",
		PhoneNumber:    "08030000001",
		TotalAmount:    total,
		SplitType:      domain.SplitEqual,
		TransactionPIN: testPIN,
	}
}

func TestCreateGroupAndVisibility(t *testing.T) {
	svc, repo, _ := newTestService(&scriptedVendor{})
	owner, _ := seedUser(t, repo, domain.NewMoney(100, 0))
	memberB, _ := seedUser(t, repo, domain.NewMoney(100, 0))

	groupID := seedGroup(t, svc, owner, memberB)

	resp, err := svc.GetGroup(context.Background(), groupID, memberB)
	if err != nil {
		t.Fatalf("GetGroup returned error: %v", err)
	}
	if len(resp.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(resp.Members))
	}
	for _, m := range resp.Members {
		want := domain.GroupRoleMember
		if m.UserID == owner {
			want = domain.GroupRoleOwner
		}
		if m.Role != want {
			t.Fatalf("member %s: expected role %s, got %s", m.UserID, want, m.Role)
		}
	}

	if _, err := svc.GetGroup(context.Background(), groupID, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for outsider, got %v", err)
	}
}

func TestGroupPaymentEqualSplitSettles(t *testing.T) {
	vendor := &scriptedVendor{purchases: []vendorStep{{result: successResult()}}}
	svc, repo, pub := newTestService(vendor)

	initiator, initiatorWallet := seedUser(t, repo, domain.NewMoney(500, 0))
	memberB, walletB := seedUser(t, repo, domain.NewMoney(500, 0))
	memberC, walletC := seedUser(t, repo, domain.NewMoney(500, 0))
	groupID := seedGroup(t, svc, initiator, memberB, memberC)

	resp, err := svc.CreateGroupPayment(context.Background(), initiator, groupReq(groupID, domain.NewMoney(300, 0)))
	if err != nil {
		t.Fatalf("CreateGroupPayment returned error: %v", err)
	}
	if resp.Status != domain.GroupPaymentSettled {
		t.Fatalf("expected SETTLED, got %s", resp.Status)
	}
	if len(resp.Contributions) != 3 {
		t.Fatalf("expected 3 contributions, got %d", len(resp.Contributions))
	}
	for _, c := range resp.Contributions {
		if c.Status != domain.ContributionDebited {
			t.Fatalf("expected contribution DEBITED, got %s", c.Status)
		}
		if c.Amount.String() != "100.00" {
			t.Fatalf("expected equal share 100.00, got %s", c.Amount)
		}
	}

	for _, wid := range []uuid.UUID{initiatorWallet, walletB, walletC} {
		available, locked := walletBalances(t, repo, wid)
		if available.String() != "400.00" || !locked.IsZero() {
			t.Fatalf("expected each member down one share, got available=%s locked=%s", available, locked)
		}
	}
	if got := pub.count(domain.EventGroupPaymentSettled); got != 1 {
		t.Fatalf("expected one settled event, got %d", got)
	}
}

// TestGroupPaymentRequiresPrivilegedRole: a plain MEMBER cannot debit the
// group, and neither can an outsider.
func TestGroupPaymentRequiresPrivilegedRole(t *testing.T) {
	vendor := &scriptedVendor{purchases: []vendorStep{{result: successResult()}}}
	svc, repo, _ := newTestService(vendor)

	owner, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	memberB, walletB := seedUser(t, repo, domain.NewMoney(500, 0))
	outsider, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	groupID := seedGroup(t, svc, owner, memberB)

	if _, err := svc.CreateGroupPayment(context.Background(), memberB, groupReq(groupID, domain.NewMoney(200, 0))); !errors.Is(err, ErrGroupForbidden) {
		t.Fatalf("expected ErrGroupForbidden for MEMBER initiator, got %v", err)
	}
	if _, err := svc.CreateGroupPayment(context.Background(), outsider, groupReq(groupID, domain.NewMoney(200, 0))); !errors.Is(err, ErrGroupForbidden) {
		t.Fatalf("expected ErrGroupForbidden for outsider, got %v", err)
	}

	// Nobody was charged for the refused attempts.
	available, locked := walletBalances(t, repo, walletB)
	if available.String() != "500.00" || !locked.IsZero() {
		t.Fatalf("expected member untouched, got available=%s locked=%s", available, locked)
	}

	// An ADMIN member may initiate.
	admin, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	req := domain.CreateGroupRequest{Name: "admin crew"}
	req.Members = append(req.Members, struct {
		UserID uuid.UUID        `json:"user_id"`
		Role   domain.GroupRole `json:"role,omitempty"`
	}{UserID: admin, Role: domain.GroupRoleAdmin})
	created, err := svc.CreateGroup(context.Background(), owner, req)
	if err != nil {
		t.Fatalf("CreateGroup returned error: %v", err)
	}
	if _, err := svc.CreateGroupPayment(context.Background(), admin, groupReq(created.Group.ID, domain.NewMoney(200, 0))); err != nil {
		t.Fatalf("expected ADMIN initiator allowed, got %v", err)
	}
}

// TestGroupPaymentMemberInsufficiencyAborts: one member cannot cover their
// share, so the collection transaction rolls back and no ledger entries
// persist anywhere.
func TestGroupPaymentMemberInsufficiencyAborts(t *testing.T) {
	vendor := &scriptedVendor{}
	svc, repo, pub := newTestService(vendor)

	initiator, initiatorWallet := seedUser(t, repo, domain.NewMoney(500, 0))
	poor, poorWallet := seedUser(t, repo, domain.NewMoney(10, 0))
	groupID := seedGroup(t, svc, initiator, poor)

	_, err := svc.CreateGroupPayment(context.Background(), initiator, groupReq(groupID, domain.NewMoney(300, 0)))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	available, _ := walletBalances(t, repo, initiatorWallet)
	if available.String() != "500.00" {
		t.Fatalf("expected initiator untouched, got %s", available)
	}
	available, _ = walletBalances(t, repo, poorWallet)
	if available.String() != "10.00" {
		t.Fatalf("expected poor member untouched, got %s", available)
	}
	if got := len(repo.entriesByKind(domain.EntryDebit)); got != 0 {
		t.Fatalf("expected no DEBIT entries, got %d", got)
	}
	if got := len(repo.entriesByKind(domain.EntryReversalCredit)); got != 0 {
		t.Fatalf("expected no reversal entries, got %d", got)
	}

	// No vendor call was created; the payment record ends FAILED.
	repo.mu.Lock()
	calls := len(repo.calls)
	var gp *domain.GroupPayment
	for _, g := range repo.payments {
		gp = g
	}
	repo.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no vendor call, got %d", calls)
	}
	if gp == nil || gp.Status != domain.GroupPaymentFailed {
		t.Fatalf("expected payment FAILED, got %+v", gp)
	}
	if got := pub.count(domain.EventGroupPaymentSettled); got != 0 {
		t.Fatalf("expected no settled event, got %d", got)
	}
	if got := pub.count(domain.EventGroupPaymentReversed); got != 0 {
		t.Fatalf("expected no reversed event, got %d", got)
	}
}

// TestGroupPaymentVendorFailureCompensates debits everyone, has the vendor
// reject the purchase, and expects every debit reversed.
func TestGroupPaymentVendorFailureCompensates(t *testing.T) {
	vendor := &scriptedVendor{purchases: []vendorStep{{result: failureResult("TRANSACTION FAILED")}}}
	svc, repo, pub := newTestService(vendor)

	initiator, walletA := seedUser(t, repo, domain.NewMoney(500, 0))
	memberB, walletB := seedUser(t, repo, domain.NewMoney(500, 0))
	groupID := seedGroup(t, svc, initiator, memberB)

	resp, err := svc.CreateGroupPayment(context.Background(), initiator, groupReq(groupID, domain.NewMoney(200, 0)))
	if err != nil {
		t.Fatalf("CreateGroupPayment returned error: %v", err)
	}
	if resp.Status != domain.GroupPaymentReversed {
		t.Fatalf("expected REVERSED, got %s", resp.Status)
	}
	for _, c := range resp.Contributions {
		if c.Status != domain.ContributionReversed {
			t.Fatalf("expected contribution REVERSED, got %s", c.Status)
		}
	}

	for _, wid := range []uuid.UUID{walletA, walletB} {
		available, _ := walletBalances(t, repo, wid)
		if available.String() != "500.00" {
			t.Fatalf("expected balance restored, got %s", available)
		}
	}
	if got := len(repo.entriesByKind(domain.EntryReversalCredit)); got != 2 {
		t.Fatalf("expected 2 reversal credits, got %d", got)
	}
	if got := pub.count(domain.EventGroupPaymentReversed); got != 1 {
		t.Fatalf("expected one reversed event, got %d", got)
	}
}

// TestGroupPaymentEscalationCompensates runs the escrow call through the
// full poll budget. Escalation closes the call as FAILURE, reverses every
// member debit and raises the alert event for the vendor side.
func TestGroupPaymentEscalationCompensates(t *testing.T) {
	vendor := &scriptedVendor{
		purchases: []vendorStep{{result: indeterminateResult()}},
		requeries: []vendorStep{{result: indeterminateResult()}},
	}
	svc, repo, pub := newTestService(vendor)

	initiator, walletA := seedUser(t, repo, domain.NewMoney(500, 0))
	memberB, walletB := seedUser(t, repo, domain.NewMoney(500, 0))
	groupID := seedGroup(t, svc, initiator, memberB)

	resp, err := svc.CreateGroupPayment(context.Background(), initiator, groupReq(groupID, domain.NewMoney(200, 0)))
	if err != nil {
		t.Fatalf("CreateGroupPayment returned error: %v", err)
	}
	if resp.Status != domain.GroupPaymentCollecting {
		t.Fatalf("expected payment left COLLECTING, got %s", resp.Status)
	}

	repo.mu.Lock()
	var requestID string
	for id := range repo.calls {
		requestID = id
	}
	repo.mu.Unlock()

	for poll := 1; poll <= domain.MaxReconcilePolls; poll++ {
		repo.forcePollDue(requestID)
		svc.ReconcileIndeterminateCalls(context.Background())
	}

	gp, contribs, err := repo.GetGroupPayment(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("GetGroupPayment returned error: %v", err)
	}
	if gp.Status != domain.GroupPaymentReversed {
		t.Fatalf("expected REVERSED after escalation, got %s", gp.Status)
	}
	for _, c := range contribs {
		if c.Status != domain.ContributionReversed {
			t.Fatalf("expected contribution REVERSED, got %s", c.Status)
		}
	}
	for _, wid := range []uuid.UUID{walletA, walletB} {
		available, _ := walletBalances(t, repo, wid)
		if available.String() != "500.00" {
			t.Fatalf("expected balance restored after escalation, got %s", available)
		}
	}
	if got := pub.count(domain.EventVendorCallEscalated); got != 1 {
		t.Fatalf("expected one escalation event, got %d", got)
	}
	if got := pub.count(domain.EventGroupPaymentReversed); got != 1 {
		t.Fatalf("expected one reversed event, got %d", got)
	}
}

// TestGroupPaymentReconciledToSuccess confirms a deferred escrow call that a
// later requery resolves positively.
func TestGroupPaymentReconciledToSuccess(t *testing.T) {
	vendor := &scriptedVendor{
		purchases: []vendorStep{{result: indeterminateResult()}},
		requeries: []vendorStep{{result: successResult()}},
	}
	svc, repo, pub := newTestService(vendor)

	initiator, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	memberB, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	groupID := seedGroup(t, svc, initiator, memberB)

	resp, err := svc.CreateGroupPayment(context.Background(), initiator, groupReq(groupID, domain.NewMoney(200, 0)))
	if err != nil {
		t.Fatalf("CreateGroupPayment returned error: %v", err)
	}

	repo.mu.Lock()
	var requestID string
	for id := range repo.calls {
		requestID = id
	}
	repo.mu.Unlock()
	repo.forcePollDue(requestID)
	svc.ReconcileIndeterminateCalls(context.Background())

	gp, _, err := repo.GetGroupPayment(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("GetGroupPayment returned error: %v", err)
	}
	if gp.Status != domain.GroupPaymentSettled {
		t.Fatalf("expected SETTLED after reconcile, got %s", gp.Status)
	}
	if got := pub.count(domain.EventGroupPaymentSettled); got != 1 {
		t.Fatalf("expected one settled event, got %d", got)
	}
}

func TestGroupPaymentPercentageSplit(t *testing.T) {
	vendor := &scriptedVendor{purchases: []vendorStep{{result: successResult()}}}
	svc, repo, _ := newTestService(vendor)

	initiator, walletA := seedUser(t, repo, domain.NewMoney(500, 0))
	memberB, walletB := seedUser(t, repo, domain.NewMoney(500, 0))
	groupID := seedGroup(t, svc, initiator, memberB)

	seventy, _ := domain.MoneyFromString("70")
	thirty, _ := domain.MoneyFromString("30")
	req := groupReq(groupID, domain.NewMoney(200, 0))
	req.SplitType = domain.SplitPercentage
	req.Percentages = []domain.GroupMemberShare{
		{UserID: initiator, Percentage: &seventy},
		{UserID: memberB, Percentage: &thirty},
	}
	resp, err := svc.CreateGroupPayment(context.Background(), initiator, req)
	if err != nil {
		t.Fatalf("CreateGroupPayment returned error: %v", err)
	}
	if resp.Status != domain.GroupPaymentSettled {
		t.Fatalf("expected SETTLED, got %s", resp.Status)
	}

	availableA, _ := walletBalances(t, repo, walletA)
	availableB, _ := walletBalances(t, repo, walletB)
	if availableA.String() != "360.00" {
		t.Fatalf("expected 70%% debit from initiator, got %s", availableA)
	}
	if availableB.String() != "440.00" {
		t.Fatalf("expected 30%% debit from member, got %s", availableB)
	}
}

// TestGroupPaymentPercentagesMustCoverMembers rejects a PERCENTAGE split
// that leaves a group member out or names a non-member.
func TestGroupPaymentPercentagesMustCoverMembers(t *testing.T) {
	svc, repo, _ := newTestService(&scriptedVendor{})

	initiator, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	memberB, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	groupID := seedGroup(t, svc, initiator, memberB)

	hundred, _ := domain.MoneyFromString("100")
	req := groupReq(groupID, domain.NewMoney(200, 0))
	req.SplitType = domain.SplitPercentage
	req.Percentages = []domain.GroupMemberShare{{UserID: initiator, Percentage: &hundred}}
	if _, err := svc.CreateGroupPayment(context.Background(), initiator, req); err == nil {
		t.Fatal("expected error for percentages missing a member")
	}

	fifty, _ := domain.MoneyFromString("50")
	req.Percentages = []domain.GroupMemberShare{
		{UserID: initiator, Percentage: &fifty},
		{UserID: uuid.New(), Percentage: &fifty},
	}
	if _, err := svc.CreateGroupPayment(context.Background(), initiator, req); err == nil {
		t.Fatal("expected error for percentages naming a non-member")
	}
}

func TestGetGroupPaymentStatusVisibility(t *testing.T) {
	vendor := &scriptedVendor{purchases: []vendorStep{{result: successResult()}}}
	svc, repo, _ := newTestService(vendor)

	initiator, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	memberB, _ := seedUser(t, repo, domain.NewMoney(500, 0))
	groupID := seedGroup(t, svc, initiator, memberB)

	resp, err := svc.CreateGroupPayment(context.Background(), initiator, groupReq(groupID, domain.NewMoney(200, 0)))
	if err != nil {
		t.Fatalf("CreateGroupPayment returned error: %v", err)
	}

	if _, err := svc.GetGroupPaymentStatus(context.Background(), resp.ID, memberB); err != nil {
		t.Fatalf("expected member visibility, got %v", err)
	}
	if _, err := svc.GetGroupPaymentStatus(context.Background(), resp.ID, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for outsider, got %v", err)
	}
}
