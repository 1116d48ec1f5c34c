package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	referralsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usdtdesk_referrals_total",
		Help: "First registrations, labeled by referral outcome",
	}, []string{"outcome"})

	withdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usdtdesk_withdrawals_total",
		Help: "Withdrawal request transitions, labeled by kind and outcome",
	}, []string{"kind", "outcome"})
)

// ReferralPrefix starts the /start payload of a referral link.
const ReferralPrefix = "ref_"

// Policy holds the money rules the ledger enforces.
type Policy struct {
	ReferralBonus         decimal.Decimal
	MinReferralWithdrawal decimal.Decimal
	MinAddressLength      int
	// RestoreRejectedReferral puts a rejected referral payout back into earnings.
	// When false the earnings stay forfeited.
	RestoreRejectedReferral bool
}

func DefaultPolicy() Policy {
	return Policy{
		ReferralBonus:         decimal.RequireFromString("1.50"),
		MinReferralWithdrawal: decimal.RequireFromString("50.00"),
		MinAddressLength:      30,
	}
}

// Ledger applies the business rules on top of a Repository.
type Ledger struct {
	repo   store.Repository
	policy Policy
	logger *zap.Logger
}

func NewLedger(repo store.Repository, policy Policy, logger *zap.Logger) *Ledger {
	return &Ledger{repo: repo, policy: policy, logger: logger}
}

func (l *Ledger) Policy() Policy {
	return l.policy
}

// ParseReferralPayload extracts the referrer id from a "ref_<id>" payload.
func ParseReferralPayload(payload string) (int64, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, ReferralPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, ReferralPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ReferralLink builds the deep link that attributes new users to userID.
func ReferralLink(botUsername string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%d", botUsername, ReferralPrefix, userID)
}

// Register handles a /start. Repeated calls are harmless: only the first one for a
// user can credit a referrer.
func (l *Ledger) Register(ctx context.Context, userID int64, displayName, payload string) (*store.RegisterResult, *int64, error) {
	p := store.RegisterParams{UserID: userID, DisplayName: displayName, Bonus: l.policy.ReferralBonus}
	if ref, ok := ParseReferralPayload(payload); ok && ref != userID {
		p.ReferrerID = &ref
	}

	res, err := l.repo.Register(ctx, p)
	if err != nil {
		return nil, nil, fmt.Errorf("register user %d: %w", userID, err)
	}

	switch {
	case !res.NewlyRegistered:
		referralsTotal.WithLabelValues("returning").Inc()
	case res.Credited:
		referralsTotal.WithLabelValues("credited").Inc()
		l.logger.Info("referral credited",
			zap.Int64("user_id", userID),
			zap.Int64("referrer_id", *p.ReferrerID),
			zap.String("referrer_earnings", res.ReferrerEarnings.StringFixed(2)))
	default:
		referralsTotal.WithLabelValues("organic").Inc()
	}
	if !res.Credited {
		p.ReferrerID = nil
	}
	return res, p.ReferrerID, nil
}

func (l *Ledger) Touch(ctx context.Context, userID int64, displayName string) (*domain.User, error) {
	return l.repo.EnsureUser(ctx, userID, displayName)
}

func (l *Ledger) User(ctx context.Context, userID int64) (*domain.User, error) {
	return l.repo.GetUser(ctx, userID)
}

func (l *Ledger) Stats(ctx context.Context) (*domain.Stats, error) {
	return l.repo.Stats(ctx)
}

// CanWithdrawReferral reports whether u may file a referral payout.
func (l *Ledger) CanWithdrawReferral(u *domain.User) bool {
	return u.ReferralEarnings.IsPositive() && u.ReferralEarnings.GreaterThanOrEqual(l.policy.MinReferralWithdrawal)
}

// ValidateAddress only checks the length; no chain format is verified.
func (l *Ledger) ValidateAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if len(address) < l.policy.MinAddressLength {
		return "", domain.ErrInvalidAddress
	}
	return address, nil
}

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseAmount accepts plain decimal numbers only: no sign, exponent or separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	return d, nil
}

// RequestReferralPayout files a payout of all referral earnings and zeroes them.
func (l *Ledger) RequestReferralPayout(ctx context.Context, userID int64, address string) (*domain.WithdrawalRequest, error) {
	address, err := l.ValidateAddress(address)
	if err != nil {
		return nil, err
	}
	w, err := l.repo.FileReferralPayout(ctx, userID, l.policy.MinReferralWithdrawal, address)
	if err != nil {
		withdrawalsTotal.WithLabelValues(string(domain.ReferralPayout), "refused").Inc()
		return nil, err
	}
	withdrawalsTotal.WithLabelValues(string(domain.ReferralPayout), "filed").Inc()
	l.logger.Info("referral payout filed",
		zap.Int64("withdrawal_id", w.ID),
		zap.Int64("user_id", userID),
		zap.String("amount", w.Amount.StringFixed(2)))
	return w, nil
}

// RequestWalletPayout escrows amount from the wallet into a pending request.
func (l *Ledger) RequestWalletPayout(ctx context.Context, userID int64, currency domain.Currency, amount decimal.Decimal, address string) (*domain.WithdrawalRequest, error) {
	address, err := l.ValidateAddress(address)
	if err != nil {
		return nil, err
	}
	w, err := l.repo.FileWalletPayout(ctx, userID, currency, amount, address)
	if err != nil {
		withdrawalsTotal.WithLabelValues(string(domain.WalletPayout), "refused").Inc()
		return nil, err
	}
	withdrawalsTotal.WithLabelValues(string(domain.WalletPayout), "filed").Inc()
	l.logger.Info("wallet payout filed",
		zap.Int64("withdrawal_id", w.ID),
		zap.Int64("user_id", userID),
		zap.String("currency", string(currency)),
		zap.String("amount", amount.String()))
	return w, nil
}

// RevokePayout undoes a request whose filing could not be completed.
func (l *Ledger) RevokePayout(ctx context.Context, w *domain.WithdrawalRequest) error {
	if err := l.repo.RevokeWithdrawal(ctx, w.ID); err != nil {
		return fmt.Errorf("revoke withdrawal %d: %w", w.ID, err)
	}
	withdrawalsTotal.WithLabelValues(string(w.Kind), "revoked").Inc()
	l.logger.Warn("withdrawal revoked", zap.Int64("withdrawal_id", w.ID), zap.Int64("user_id", w.UserID))
	return nil
}

func (l *Ledger) Approve(ctx context.Context, id int64) (*domain.WithdrawalRequest, error) {
	w, err := l.repo.ApproveWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	withdrawalsTotal.WithLabelValues(string(w.Kind), "approved").Inc()
	l.logger.Info("withdrawal approved", zap.Int64("withdrawal_id", id), zap.Int64("user_id", w.UserID))
	return w, nil
}

// Reject refunds wallet payouts; referral payouts follow the policy.
func (l *Ledger) Reject(ctx context.Context, id int64) (*domain.WithdrawalRequest, error) {
	w, err := l.repo.RejectWithdrawal(ctx, id, l.policy.RestoreRejectedReferral)
	if err != nil {
		return nil, err
	}
	withdrawalsTotal.WithLabelValues(string(w.Kind), "rejected").Inc()
	l.logger.Info("withdrawal rejected", zap.Int64("withdrawal_id", id), zap.Int64("user_id", w.UserID))
	return w, nil
}

// Refunded reports whether rejecting w returned the funds to the user.
func (l *Ledger) Refunded(w *domain.WithdrawalRequest) bool {
	return w.Kind == domain.WalletPayout || l.policy.RestoreRejectedReferral
}

// NextPending returns nil when nothing is pending.
func (l *Ledger) NextPending(ctx context.Context, afterID int64) (*domain.WithdrawalRequest, error) {
	return l.repo.NextPendingWithdrawal(ctx, afterID)
}

func (l *Ledger) Withdrawal(ctx context.Context, id int64) (*domain.WithdrawalRequest, error) {
	return l.repo.GetWithdrawal(ctx, id)
}

func (l *Ledger) Withdrawals(ctx context.Context, f store.WithdrawalFilter) ([]*domain.WithdrawalRequest, error) {
	return l.repo.ListWithdrawals(ctx, f)
}

// Credit funds a wallet. Used by the admin console.
func (l *Ledger) Credit(ctx context.Context, userID int64, currency domain.Currency, amount decimal.Decimal) (*domain.User, error) {
	u, err := l.repo.CreditWallet(ctx, userID, currency, amount)
	if err != nil {
		return nil, err
	}
	l.logger.Info("wallet credited",
		zap.Int64("user_id", userID),
		zap.String("currency", string(currency)),
		zap.String("amount", amount.String()))
	return u, nil
}

func (l *Ledger) OpenTicket(ctx context.Context, userID int64, message string) (*domain.SupportTicket, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.ErrEmptyMessage
	}
	t, err := l.repo.CreateTicket(ctx, userID, message)
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	l.logger.Info("ticket opened", zap.Int64("ticket_id", t.ID), zap.Int64("user_id", userID))
	return t, nil
}

func (l *Ledger) Ticket(ctx context.Context, id int64) (*domain.SupportTicket, error) {
	return l.repo.GetTicket(ctx, id)
}

// NextTicket returns nil when no ticket is open.
func (l *Ledger) NextTicket(ctx context.Context, afterID int64) (*domain.SupportTicket, error) {
	return l.repo.NextOpenTicket(ctx, afterID)
}

func (l *Ledger) ResolveTicket(ctx context.Context, id int64) (*domain.SupportTicket, error) {
	t, err := l.repo.ResolveTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.Info("ticket resolved", zap.Int64("ticket_id", id), zap.Int64("user_id", t.UserID))
	return t, nil
}

func (l *Ledger) PayoutMethods(ctx context.Context) ([]domain.PayoutMethod, error) {
	return l.repo.ListPayoutMethods(ctx)
}

func (l *Ledger) AddPayoutMethod(ctx context.Context, name, details string) error {
	m := domain.PayoutMethod{Name: strings.TrimSpace(name), Details: strings.TrimSpace(details)}
	if m.Name == "" || m.Details == "" {
		return domain.ErrEmptyMessage
	}
	return l.repo.SavePayoutMethod(ctx, m)
}
