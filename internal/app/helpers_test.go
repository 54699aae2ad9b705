package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vendapay/wallet-service/internal/config"
	"github.com/vendapay/wallet-service/internal/domain"
	"github.com/vendapay/wallet-service/internal/store"
	"github.com/vendapay/wallet-service/pkg/vtuclient"
)

// fakeRepo is an in-memory store.Repository that mirrors the balance and
// idempotency rules of the Postgres implementation, so service flows can be
// exercised end to end without a database.
type fakeRepo struct {
	mu            sync.Mutex
	wallets       map[uuid.UUID]*domain.Wallet
	walletByOwner map[uuid.UUID]uuid.UUID
	entries       []domain.LedgerEntry
	users         map[uuid.UUID]*domain.User
	fundings      map[string]*domain.PendingFunding
	schedules     map[uuid.UUID]*domain.AutoTopUp
	calls         map[string]*domain.VendorCall
	groupDefs     map[uuid.UUID]*domain.Group
	groupMembers  map[uuid.UUID][]domain.GroupMember
	payments      map[uuid.UUID]*domain.GroupPayment
	contribs      map[uuid.UUID][]domain.GroupContribution
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		wallets:       make(map[uuid.UUID]*domain.Wallet),
		walletByOwner: make(map[uuid.UUID]uuid.UUID),
		users:         make(map[uuid.UUID]*domain.User),
		fundings:      make(map[string]*domain.PendingFunding),
		schedules:     make(map[uuid.UUID]*domain.AutoTopUp),
		calls:         make(map[string]*domain.VendorCall),
		groupDefs:     make(map[uuid.UUID]*domain.Group),
		groupMembers:  make(map[uuid.UUID][]domain.GroupMember),
		payments:      make(map[uuid.UUID]*domain.GroupPayment),
		contribs:      make(map[uuid.UUID][]domain.GroupContribution),
	}
}

// Wallet and ledger.

func (f *fakeRepo) EnsureWallet(_ context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureWalletLocked(ownerID), nil
}

func (f *fakeRepo) ensureWalletLocked(ownerID uuid.UUID) *domain.Wallet {
	if id, ok := f.walletByOwner[ownerID]; ok {
		w := *f.wallets[id]
		return &w
	}
	w := &domain.Wallet{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Active:  true,
	}
	f.wallets[w.ID] = w
	f.walletByOwner[ownerID] = w.ID
	out := *w
	return &out
}

func (f *fakeRepo) GetWalletByOwner(_ context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.walletByOwner[ownerID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	w := *f.wallets[id]
	return &w, nil
}

func (f *fakeRepo) GetWalletByID(_ context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	out := *w
	return &out, nil
}

func (f *fakeRepo) findEntryLocked(reference string, kind domain.EntryKind) *domain.LedgerEntry {
	for i := range f.entries {
		if f.entries[i].Reference == reference && f.entries[i].Kind == kind {
			e := f.entries[i]
			return &e
		}
	}
	return nil
}

// applyEntryLocked enforces the same replay and balance rules as the real
// ledger: one entry per (reference, kind), balances never negative.
func (f *fakeRepo) applyEntryLocked(walletID uuid.UUID, kind domain.EntryKind, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	if existing := f.findEntryLocked(reference, kind); existing != nil {
		return existing, nil
	}
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	switch kind {
	case domain.EntryCredit, domain.EntryReversalCredit:
		w.AvailableBalance = w.AvailableBalance.Add(amount)
	case domain.EntryDebit, domain.EntryReversalDebit:
		if w.AvailableBalance.LessThan(amount) {
			return nil, store.ErrInsufficientFunds
		}
		w.AvailableBalance = w.AvailableBalance.Sub(amount)
	case domain.EntryLock:
		if w.AvailableBalance.LessThan(amount) {
			return nil, store.ErrInsufficientFunds
		}
		w.AvailableBalance = w.AvailableBalance.Sub(amount)
		w.LockedBalance = w.LockedBalance.Add(amount)
	case domain.EntryUnlock:
		if w.LockedBalance.LessThan(amount) {
			return nil, store.ErrInsufficientLocked
		}
		w.LockedBalance = w.LockedBalance.Sub(amount)
		w.AvailableBalance = w.AvailableBalance.Add(amount)
	}
	e := domain.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    walletID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Reference:   reference,
		Status:      domain.EntryCompleted,
		CreatedAt:   time.Now(),
	}
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeRepo) Credit(_ context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyEntryLocked(walletID, domain.EntryCredit, amount, reference, description)
}

func (f *fakeRepo) Debit(_ context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyEntryLocked(walletID, domain.EntryDebit, amount, reference, description)
}

func (f *fakeRepo) Lock(_ context.Context, walletID uuid.UUID, amount domain.Money, reference, description string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyEntryLocked(walletID, domain.EntryLock, amount, reference, description)
}

// releaseLockLocked settles a LOCK as either an UNLOCK or a DEBIT. Whichever
// lands first wins; the other path sees ErrLockReleased.
func (f *fakeRepo) releaseLockLocked(walletID uuid.UUID, reference string, kind domain.EntryKind, description string) (*domain.LedgerEntry, error) {
	lock := f.findEntryLocked(reference, domain.EntryLock)
	if lock == nil {
		return nil, store.ErrLockNotFound
	}
	if existing := f.findEntryLocked(reference, kind); existing != nil {
		return existing, nil
	}
	other := domain.EntryUnlock
	if kind == domain.EntryUnlock {
		other = domain.EntryDebit
	}
	if f.findEntryLocked(reference, other) != nil {
		return nil, store.ErrLockReleased
	}
	w := f.wallets[walletID]
	if w.LockedBalance.LessThan(lock.Amount) {
		return nil, store.ErrInsufficientLocked
	}
	w.LockedBalance = w.LockedBalance.Sub(lock.Amount)
	if kind == domain.EntryUnlock {
		w.AvailableBalance = w.AvailableBalance.Add(lock.Amount)
	}
	e := domain.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    walletID,
		Kind:        kind,
		Amount:      lock.Amount,
		Description: description,
		Reference:   reference,
		Status:      domain.EntryCompleted,
		CreatedAt:   time.Now(),
	}
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeRepo) Unlock(_ context.Context, walletID uuid.UUID, reference, description string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releaseLockLocked(walletID, reference, domain.EntryUnlock, description)
}

func (f *fakeRepo) SpendLocked(_ context.Context, walletID uuid.UUID, reference, description string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releaseLockLocked(walletID, reference, domain.EntryDebit, description)
}

func (f *fakeRepo) Reverse(_ context.Context, reference string, kind domain.EntryKind, description string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orig := f.findEntryLocked(reference, kind)
	if orig == nil {
		return nil, store.ErrNotFound
	}
	if kind == domain.EntryLock {
		return f.releaseLockLocked(orig.WalletID, reference, domain.EntryUnlock, description)
	}
	inverse := domain.InverseKind(kind)
	if inverse == "" {
		return nil, store.ErrNotReversible
	}
	return f.applyEntryLocked(orig.WalletID, inverse, orig.Amount, domain.ReversalReference(reference), description)
}

func (f *fakeRepo) ListLedgerEntries(_ context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].WalletID == walletID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

// entriesByKind counts ledger entries of one kind for assertions.
func (f *fakeRepo) entriesByKind(kind domain.EntryKind) []domain.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range f.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Users and transaction PIN.

func (f *fakeRepo) GetUser(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		u = &domain.User{ID: userID, CreatedAt: time.Now()}
		f.users[userID] = u
	}
	out := *u
	return &out, nil
}

func (f *fakeRepo) SetTransactionPIN(_ context.Context, userID uuid.UUID, pinHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	u.TransactionPINHash = pinHash
	u.FailedPINAttempts = 0
	u.PINLockedUntil = nil
	return nil
}

func (f *fakeRepo) RecordFailedPINAttempt(_ context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return 0, nil, store.ErrUserNotFound
	}
	u.FailedPINAttempts++
	if u.FailedPINAttempts >= maxAttempts {
		until := time.Now().Add(lockFor)
		u.PINLockedUntil = &until
	}
	return u.FailedPINAttempts, u.PINLockedUntil, nil
}

func (f *fakeRepo) ResetPINAttempts(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.FailedPINAttempts = 0
		u.PINLockedUntil = nil
	}
	return nil
}

// Deposit funding.

func (f *fakeRepo) CreatePendingFunding(_ context.Context, pf *domain.PendingFunding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *pf
	cp.Status = domain.FundingPending
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	f.fundings[cp.PaymentReference] = &cp
	return nil
}

func (f *fakeRepo) GetPendingFundingByReference(_ context.Context, paymentReference string) (*domain.PendingFunding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pf, ok := f.fundings[paymentReference]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *pf
	return &out, nil
}

func (f *fakeRepo) LockPendingFundingForProcessing(_ context.Context, paymentReference string, expiredGrace time.Duration) (*domain.PendingFunding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pf, ok := f.fundings[paymentReference]
	if !ok {
		return nil, store.ErrNotFound
	}
	switch pf.Status {
	case domain.FundingPending:
	case domain.FundingExpired:
		if time.Since(pf.CreatedAt) > expiredGrace {
			return nil, store.ErrFundingNotPending
		}
	default:
		return nil, store.ErrFundingNotPending
	}
	pf.Status = domain.FundingProcessing
	out := *pf
	return &out, nil
}

func (f *fakeRepo) CompletePendingFunding(_ context.Context, id uuid.UUID, gatewayReference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pf := range f.fundings {
		if pf.ID == id {
			if pf.Status != domain.FundingProcessing {
				return store.ErrFundingNotPending
			}
			pf.Status = domain.FundingCompleted
			pf.GatewayReference = gatewayReference
			now := time.Now()
			pf.CompletedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRepo) FailPendingFunding(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pf := range f.fundings {
		if pf.ID == id {
			pf.Status = domain.FundingFailed
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRepo) ExpireStaleFundings(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, pf := range f.fundings {
		if pf.Status == domain.FundingPending && pf.CreatedAt.Before(cutoff) {
			pf.Status = domain.FundingExpired
			n++
		}
	}
	return n, nil
}

// Auto top-up schedules.

func (f *fakeRepo) CreateAutoTopUpWithLock(_ context.Context, s *domain.AutoTopUp, lockReference, lockDescription string) (*domain.AutoTopUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.applyEntryLocked(s.WalletID, domain.EntryLock, s.Amount, lockReference, lockDescription); err != nil {
		return nil, err
	}
	cp := *s
	cp.Active = true
	cp.LockReference = lockReference
	cp.CreatedAt = time.Now()
	f.schedules[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRepo) GetAutoTopUp(_ context.Context, id uuid.UUID) (*domain.AutoTopUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (f *fakeRepo) ListAutoTopUps(_ context.Context, userID uuid.UUID) ([]domain.AutoTopUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AutoTopUp
	for _, s := range f.schedules {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) CancelAutoTopUp(_ context.Context, id, userID uuid.UUID) (*domain.AutoTopUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok || s.UserID != userID {
		return nil, store.ErrNotFound
	}
	if s.LockReference != "" {
		if _, err := f.releaseLockLocked(s.WalletID, s.LockReference, domain.EntryUnlock, "schedule cancelled"); err != nil && err != store.ErrLockReleased && err != store.ErrLockNotFound {
			return nil, err
		}
	}
	s.Active = false
	s.LockReference = ""
	out := *s
	return &out, nil
}

func (f *fakeRepo) ReactivateAutoTopUp(_ context.Context, id, userID uuid.UUID, nextRunAt time.Time, lockReference, lockDescription string) (*domain.AutoTopUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok || s.UserID != userID {
		return nil, store.ErrNotFound
	}
	if s.Active {
		out := *s
		return &out, nil
	}
	if _, err := f.applyEntryLocked(s.WalletID, domain.EntryLock, s.Amount, lockReference, lockDescription); err != nil {
		return nil, err
	}
	s.Active = true
	s.NextRunAt = nextRunAt
	s.LockReference = lockReference
	s.ConsecutiveFailures = 0
	out := *s
	return &out, nil
}

func (f *fakeRepo) DeleteAutoTopUp(_ context.Context, id, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok || s.UserID != userID {
		return store.ErrNotFound
	}
	if s.LockReference != "" {
		if _, err := f.releaseLockLocked(s.WalletID, s.LockReference, domain.EntryUnlock, "schedule deleted"); err != nil && err != store.ErrLockReleased && err != store.ErrLockNotFound {
			return err
		}
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeRepo) DueSchedules(_ context.Context, now time.Time, limit int) ([]domain.AutoTopUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AutoTopUp
	for _, s := range f.schedules {
		if s.Active && !s.NextRunAt.After(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) ClaimScheduleRun(_ context.Context, id uuid.UUID, now time.Time) (*domain.AutoTopUp, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, time.Time{}, store.ErrNotFound
	}
	if !s.Active || s.NextRunAt.After(now) {
		return nil, time.Time{}, store.ErrScheduleInactive
	}
	snapshot := *s
	interval := time.Duration(s.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = time.Hour
	}
	next := s.NextRunAt.Add(interval)
	if !next.After(now) {
		next = now.Add(interval)
	}
	s.NextRunAt = next
	return &snapshot, next, nil
}

func (f *fakeRepo) CompleteScheduleRun(_ context.Context, id uuid.UUID, nextLockReference, lockDescription string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return false, store.ErrNotFound
	}
	locked := false
	if s.Active && s.IntervalHours > 0 {
		if _, err := f.applyEntryLocked(s.WalletID, domain.EntryLock, s.Amount, nextLockReference, lockDescription); err != nil {
			if err != store.ErrInsufficientFunds {
				return false, err
			}
		} else {
			locked = true
		}
	}
	s.ConsecutiveFailures = 0
	s.TotalRuns++
	now := time.Now()
	s.LastRunAt = &now
	if locked {
		s.LockReference = nextLockReference
	} else {
		s.Active = false
		s.LockReference = ""
	}
	return locked, nil
}

func (f *fakeRepo) FailScheduleRun(_ context.Context, id uuid.UUID, maxFailures int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return 0, false, store.ErrNotFound
	}
	s.ConsecutiveFailures++
	deactivated := false
	if s.Active && s.ConsecutiveFailures >= maxFailures {
		s.Active = false
		deactivated = true
	}
	s.LockReference = ""
	return s.ConsecutiveFailures, deactivated, nil
}

// Vendor calls.

func (f *fakeRepo) CreateVendorCall(_ context.Context, vc *domain.VendorCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *vc
	cp.CreatedAt = time.Now()
	f.calls[cp.RequestID] = &cp
	return nil
}

func (f *fakeRepo) GetVendorCall(_ context.Context, requestID string) (*domain.VendorCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vc, ok := f.calls[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *vc
	return &out, nil
}

func (f *fakeRepo) SetVendorCallClassification(_ context.Context, requestID string, class domain.Classification, rawStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	vc, ok := f.calls[requestID]
	if !ok {
		return store.ErrNotFound
	}
	vc.Classification = class
	vc.RawStatus = rawStatus
	vc.NextPollAt = nil
	return nil
}

func (f *fakeRepo) MarkVendorCallIndeterminate(_ context.Context, requestID, rawStatus string, nextPollAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	vc, ok := f.calls[requestID]
	if !ok {
		return store.ErrNotFound
	}
	vc.Classification = domain.ClassificationIndeterminate
	vc.RawStatus = rawStatus
	vc.NextPollAt = &nextPollAt
	return nil
}

func (f *fakeRepo) ListIndeterminateDue(_ context.Context, now time.Time, limit int) ([]domain.VendorCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.VendorCall
	for _, vc := range f.calls {
		if vc.Classification == domain.ClassificationIndeterminate && vc.NextPollAt != nil && !vc.NextPollAt.After(now) {
			out = append(out, *vc)
		}
	}
	return out, nil
}

func (f *fakeRepo) BumpVendorCallPoll(_ context.Context, requestID string, nextPollAt time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vc, ok := f.calls[requestID]
	if !ok {
		return 0, store.ErrNotFound
	}
	vc.Attempts++
	vc.NextPollAt = &nextPollAt
	return vc.Attempts, nil
}

// forcePollDue makes an indeterminate call immediately eligible for the next
// reconciliation pass.
func (f *fakeRepo) forcePollDue(requestID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vc, ok := f.calls[requestID]; ok && vc.NextPollAt != nil {
		past := time.Now().Add(-time.Second)
		vc.NextPollAt = &past
	}
}

// Groups and group payments.

func (f *fakeRepo) CreateGroup(_ context.Context, g *domain.Group, members []domain.GroupMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	cp.CreatedAt = time.Now()
	f.groupDefs[cp.ID] = &cp
	f.groupMembers[cp.ID] = append([]domain.GroupMember(nil), members...)
	return nil
}

func (f *fakeRepo) GetGroup(_ context.Context, id uuid.UUID) (*domain.Group, []domain.GroupMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groupDefs[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	out := *g
	members := append([]domain.GroupMember(nil), f.groupMembers[id]...)
	return &out, members, nil
}

func (f *fakeRepo) CreateGroupPayment(_ context.Context, gp *domain.GroupPayment, contributions []domain.GroupContribution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *gp
	cp.CreatedAt = time.Now()
	f.payments[cp.ID] = &cp
	f.contribs[cp.ID] = append([]domain.GroupContribution(nil), contributions...)
	return nil
}

// CollectGroupContributions mirrors the all-or-nothing collection: every
// member's balance is checked before any debit lands, so an insufficiency
// leaves the ledger untouched.
func (f *fakeRepo) CollectGroupContributions(_ context.Context, contributions []domain.GroupContribution, description string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range contributions {
		c := &contributions[i]
		if f.findEntryLocked(c.Reference, domain.EntryDebit) != nil {
			continue
		}
		w, ok := f.wallets[c.WalletID]
		if !ok {
			return uuid.Nil, store.ErrWalletNotFound
		}
		if w.AvailableBalance.LessThan(c.Amount) {
			return c.UserID, store.ErrInsufficientFunds
		}
	}
	for i := range contributions {
		c := &contributions[i]
		if _, err := f.applyEntryLocked(c.WalletID, domain.EntryDebit, c.Amount, c.Reference, description); err != nil {
			return uuid.Nil, err
		}
		for j := range f.contribs[c.GroupPaymentID] {
			if f.contribs[c.GroupPaymentID][j].ID == c.ID {
				f.contribs[c.GroupPaymentID][j].Status = domain.ContributionDebited
			}
		}
	}
	return uuid.Nil, nil
}

func (f *fakeRepo) GetGroupPayment(_ context.Context, id uuid.UUID) (*domain.GroupPayment, []domain.GroupContribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gp, ok := f.payments[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	out := *gp
	contribs := append([]domain.GroupContribution(nil), f.contribs[id]...)
	return &out, contribs, nil
}

func (f *fakeRepo) GetGroupPaymentByReference(_ context.Context, reference string) (*domain.GroupPayment, []domain.GroupContribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, gp := range f.payments {
		if gp.Reference == reference {
			out := *gp
			contribs := append([]domain.GroupContribution(nil), f.contribs[id]...)
			return &out, contribs, nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (f *fakeRepo) UpdateGroupPaymentStatus(_ context.Context, id uuid.UUID, status domain.GroupPaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	gp, ok := f.payments[id]
	if !ok {
		return store.ErrNotFound
	}
	gp.Status = status
	return nil
}

func (f *fakeRepo) UpdateContributionStatus(_ context.Context, id uuid.UUID, status domain.ContributionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for gpID := range f.contribs {
		for i := range f.contribs[gpID] {
			if f.contribs[gpID][i].ID == id {
				f.contribs[gpID][i].Status = status
				return nil
			}
		}
	}
	return store.ErrNotFound
}

// scriptedVendor returns queued results in order, then repeats the last one.
type scriptedVendor struct {
	mu        sync.Mutex
	purchases []vendorStep
	requeries []vendorStep
}

type vendorStep struct {
	result *vtuclient.Result
	err    error
}

func (v *scriptedVendor) Purchase(_ context.Context, req vtuclient.PurchaseRequest) (*vtuclient.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return takeStep(&v.purchases)
}

func (v *scriptedVendor) Requery(_ context.Context, requestID string) (*vtuclient.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return takeStep(&v.requeries)
}

func takeStep(steps *[]vendorStep) (*vtuclient.Result, error) {
	if len(*steps) == 0 {
		return nil, context.DeadlineExceeded
	}
	s := (*steps)[0]
	if len(*steps) > 1 {
		*steps = (*steps)[1:]
	}
	return s.result, s.err
}

func successResult() *vtuclient.Result {
	return &vtuclient.Result{ResponseDescription: vtuclient.SuccessDescription, Code: "00", HTTPStatus: 200}
}

func failureResult(desc string) *vtuclient.Result {
	return &vtuclient.Result{ResponseDescription: desc, Code: "16", HTTPStatus: 400}
}

func indeterminateResult() *vtuclient.Result {
	return &vtuclient.Result{HTTPStatus: 502}
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	routingKey string
	body       interface{}
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.routingKey == routingKey {
			n++
		}
	}
	return n
}

// stubGateway hands back a fixed checkout URL.
type stubGateway struct {
	initErr error
}

func (g *stubGateway) InitializeTransaction(_ context.Context, email string, amountKobo int64, reference, callbackURL string) (string, error) {
	if g.initErr != nil {
		return "", g.initErr
	}
	return "https://checkout.example/" + reference, nil
}

func testConfig() config.Config {
	return config.Config{
		FundingMaxAgeHours:      24,
		FundingGraceHours:       48,
		SpendRateLimitPerMinute: 30,
		PINMaxAttempts:          5,
		PINLockoutSeconds:       900,
	}
}

func newTestService(vendor VendorAPI) (*Service, *fakeRepo, *capturePublisher) {
	repo := newFakeRepo()
	pub := &capturePublisher{}
	svc := NewService(repo, vendor, &stubGateway{}, pub, nil, testConfig())
	return svc, repo, pub
}

// seedUser provisions a funded wallet and a usable PIN, returning the user
// and wallet ids.
func seedUser(t *testing.T, repo *fakeRepo, balance domain.Money) (uuid.UUID, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	w, err := repo.EnsureWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("EnsureWallet returned error: %v", err)
	}
	if balance.IsPositive() {
		if _, err := repo.Credit(context.Background(), w.ID, balance, "SEED:"+userID.String(), "test seed"); err != nil {
			t.Fatalf("seed credit returned error: %v", err)
		}
	}
	seedPIN(t, repo, userID, testPIN)
	return userID, w.ID
}

const testPIN = "1234"

// seedPIN writes a low-cost hash straight into the fake user so tests skip
// the expensive default bcrypt cost.
func seedPIN(t *testing.T, repo *fakeRepo, userID uuid.UUID, pin string) {
	t.Helper()
	if _, err := repo.GetUser(context.Background(), userID); err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test pin: %v", err)
	}
	if err := repo.SetTransactionPIN(context.Background(), userID, string(hash)); err != nil {
		t.Fatalf("SetTransactionPIN returned error: %v", err)
	}
}

func walletBalances(t *testing.T, repo *fakeRepo, walletID uuid.UUID) (available, locked domain.Money) {
	t.Helper()
	w, err := repo.GetWalletByID(context.Background(), walletID)
	if err != nil {
		t.Fatalf("GetWalletByID returned error: %v", err)
	}
	return w.AvailableBalance, w.LockedBalance
}
