package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps the ledger in process memory. It is not durable; it backs the
// tests and local runs without DB_SOURCE.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[int64]*domain.User
	withdrawals map[int64]*domain.WithdrawalRequest
	tickets     map[int64]*domain.SupportTicket
	methods     map[string]domain.PayoutMethod
	nextID      int64
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]*domain.User),
		withdrawals: make(map[int64]*domain.WithdrawalRequest),
		tickets:     make(map[int64]*domain.SupportTicket),
		methods:     make(map[string]domain.PayoutMethod),
		now:         time.Now,
	}
}

var _ Repository = (*MemoryStore)(nil)

// ensure must be called with mu held.
func (s *MemoryStore) ensure(id int64, displayName string) *domain.User {
	u, ok := s.users[id]
	if !ok {
		u = &domain.User{
			ID:               id,
			ReferralEarnings: decimal.Zero,
			Wallet:           make(map[domain.Currency]decimal.Decimal),
			CreatedAt:        s.now(),
		}
		s.users[id] = u
	}
	if displayName != "" {
		u.DisplayName = displayName
	}
	return u
}

func (s *MemoryStore) EnsureUser(ctx context.Context, id int64, displayName string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.ensure(id, displayName)), nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &domain.Stats{Users: len(s.users), ReferralEarnings: decimal.Zero}
	for _, u := range s.users {
		if u.IsRegistered {
			st.Registered++
		}
		st.ReferralEarnings = st.ReferralEarnings.Add(u.ReferralEarnings)
	}
	for _, w := range s.withdrawals {
		if w.Status == domain.WithdrawalPending {
			st.PendingPayouts++
		}
	}
	for _, t := range s.tickets {
		if t.Status == domain.TicketOpen {
			st.OpenTickets++
		}
	}
	return st, nil
}

func (s *MemoryStore) Register(ctx context.Context, p RegisterParams) (*RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ensure(p.UserID, p.DisplayName)
	res := &RegisterResult{}
	if u.IsRegistered {
		return res, nil
	}
	res.NewlyRegistered = true

	if p.ReferrerID != nil && *p.ReferrerID != p.UserID && u.ReferredBy == nil {
		ref := s.ensure(*p.ReferrerID, "")
		ref.ReferralEarnings = ref.ReferralEarnings.Add(p.Bonus)
		referrer := *p.ReferrerID
		u.ReferredBy = &referrer
		res.Credited = true
		res.ReferrerEarnings = ref.ReferralEarnings
	}
	u.IsRegistered = true
	return res, nil
}

func (s *MemoryStore) CreditWallet(ctx context.Context, userID int64, currency domain.Currency, amount decimal.Decimal) (*domain.User, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u.Wallet[currency] = u.Balance(currency).Add(amount)
	return copyUser(u), nil
}

func (s *MemoryStore) FileReferralPayout(ctx context.Context, userID int64, minimum decimal.Decimal, address string) (*domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if !u.ReferralEarnings.IsPositive() || u.ReferralEarnings.LessThan(minimum) {
		return nil, domain.ErrBelowMinimum
	}
	w := s.newWithdrawal(userID, domain.ReferralPayout, domain.USDT, u.ReferralEarnings, address)
	u.ReferralEarnings = decimal.Zero
	return copyWithdrawal(w), nil
}

func (s *MemoryStore) FileWalletPayout(ctx context.Context, userID int64, currency domain.Currency, amount decimal.Decimal, address string) (*domain.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	balance := u.Balance(currency)
	if balance.LessThan(amount) {
		return nil, domain.ErrInsufficientFunds
	}
	u.Wallet[currency] = balance.Sub(amount)
	w := s.newWithdrawal(userID, domain.WalletPayout, currency, amount, address)
	return copyWithdrawal(w), nil
}

// newWithdrawal must be called with mu held.
func (s *MemoryStore) newWithdrawal(userID int64, kind domain.WithdrawalKind, currency domain.Currency, amount decimal.Decimal, address string) *domain.WithdrawalRequest {
	s.nextID++
	w := &domain.WithdrawalRequest{
		ID:                 s.nextID,
		UserID:             userID,
		Kind:               kind,
		Currency:           currency,
		Amount:             amount,
		DestinationAddress: address,
		Status:             domain.WithdrawalPending,
		CreatedAt:          s.now(),
	}
	s.withdrawals[w.ID] = w
	return w
}

// refund must be called with mu held.
func (s *MemoryStore) refund(w *domain.WithdrawalRequest, restoreReferral bool) {
	u, ok := s.users[w.UserID]
	if !ok {
		return
	}
	switch w.Kind {
	case domain.WalletPayout:
		u.Wallet[w.Currency] = u.Balance(w.Currency).Add(w.Amount)
	case domain.ReferralPayout:
		if restoreReferral {
			u.ReferralEarnings = u.ReferralEarnings.Add(w.Amount)
		}
	}
}

func (s *MemoryStore) RevokeWithdrawal(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalPending {
		return domain.ErrNotPending
	}
	s.refund(w, true)
	delete(s.withdrawals, id)
	return nil
}

func (s *MemoryStore) ApproveWithdrawal(ctx context.Context, id int64) (*domain.WithdrawalRequest, error) {
	return s.decide(id, domain.WithdrawalApproved, false)
}

func (s *MemoryStore) RejectWithdrawal(ctx context.Context, id int64, restoreReferral bool) (*domain.WithdrawalRequest, error) {
	return s.decide(id, domain.WithdrawalRejected, restoreReferral)
}

func (s *MemoryStore) decide(id int64, status domain.WithdrawalStatus, restoreReferral bool) (*domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalPending {
		return nil, domain.ErrNotPending
	}
	if status == domain.WithdrawalRejected {
		s.refund(w, restoreReferral)
	}
	now := s.now()
	w.Status = status
	w.DecidedAt = &now
	return copyWithdrawal(w), nil
}

func (s *MemoryStore) GetWithdrawal(ctx context.Context, id int64) (*domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, domain.ErrNotPending
	}
	return copyWithdrawal(w), nil
}

func (s *MemoryStore) NextPendingWithdrawal(ctx context.Context, afterID int64) (*domain.WithdrawalRequest, error) {
	list, _ := s.ListWithdrawals(ctx, WithdrawalFilter{Status: domain.WithdrawalPending})
	if len(list) == 0 {
		return nil, nil
	}
	for _, w := range list {
		if w.ID > afterID {
			return w, nil
		}
	}
	return list[0], nil
}

func (s *MemoryStore) ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]*domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.WithdrawalRequest
	for _, w := range s.withdrawals {
		if f.UserID != 0 && w.UserID != f.UserID {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		out = append(out, copyWithdrawal(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateTicket(ctx context.Context, userID int64, message string) (*domain.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < ticketIDAttempts; i++ {
		id := ticketIDMin + rand.Int63n(ticketIDMax-ticketIDMin+1)
		if _, taken := s.tickets[id]; taken {
			continue
		}
		t := &domain.SupportTicket{
			ID:        id,
			UserID:    userID,
			Message:   message,
			Status:    domain.TicketOpen,
			CreatedAt: s.now(),
		}
		s.tickets[id] = t
		c := *t
		return &c, nil
	}
	return nil, fmt.Errorf("no free ticket id after %d attempts", ticketIDAttempts)
}

func (s *MemoryStore) GetTicket(ctx context.Context, id int64) (*domain.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	c := *t
	return &c, nil
}

// NextOpenTicket orders tickets by creation time since their ids are random.
func (s *MemoryStore) NextOpenTicket(ctx context.Context, afterID int64) (*domain.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*domain.SupportTicket
	for _, t := range s.tickets {
		if t.Status == domain.TicketOpen {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return nil, nil
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].ID < open[j].ID
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	pick := open[0]
	for i, t := range open {
		if t.ID == afterID && i+1 < len(open) {
			pick = open[i+1]
			break
		}
	}
	c := *pick
	return &c, nil
}

func (s *MemoryStore) ResolveTicket(ctx context.Context, id int64) (*domain.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.Status != domain.TicketOpen {
		return nil, domain.ErrTicketNotFound
	}
	t.Status = domain.TicketResolved
	c := *t
	return &c, nil
}

func (s *MemoryStore) ListPayoutMethods(ctx context.Context) ([]domain.PayoutMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PayoutMethod, 0, len(s.methods))
	for _, m := range s.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) SavePayoutMethod(ctx context.Context, m domain.PayoutMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.Name] = m
	return nil
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	c.Wallet = make(map[domain.Currency]decimal.Decimal, len(u.Wallet))
	for k, v := range u.Wallet {
		c.Wallet[k] = v
	}
	if u.ReferredBy != nil {
		r := *u.ReferredBy
		c.ReferredBy = &r
	}
	return &c
}

func copyWithdrawal(w *domain.WithdrawalRequest) *domain.WithdrawalRequest {
	c := *w
	if w.DecidedAt != nil {
		d := *w.DecidedAt
		c.DecidedAt = &d
	}
	return &c
}
