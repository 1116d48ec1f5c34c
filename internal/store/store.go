package store

import (
	"context"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/shopspring/decimal"
)

// RegisterParams describes a first-contact event.
type RegisterParams struct {
	UserID      int64
	DisplayName string
	ReferrerID  *int64
	Bonus       decimal.Decimal
}

// RegisterResult reports what Register changed.
type RegisterResult struct {
	NewlyRegistered  bool
	Credited         bool
	ReferrerEarnings decimal.Decimal
}

// WithdrawalFilter narrows ListWithdrawals. Zero values match everything.
type WithdrawalFilter struct {
	UserID int64
	Status domain.WithdrawalStatus
}

// Repository is the Ledger Store. Every method that reads and then writes is atomic
// per the record it is keyed by; callers never need their own locking.
type Repository interface {
	EnsureUser(ctx context.Context, id int64, displayName string) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	Stats(ctx context.Context) (*domain.Stats, error)

	// Register marks the user registered. The referral bonus is credited only on the
	// call that flips IsRegistered, and never for a self-referral.
	Register(ctx context.Context, p RegisterParams) (*RegisterResult, error)

	CreditWallet(ctx context.Context, userID int64, currency domain.Currency, amount decimal.Decimal) (*domain.User, error)

	FileReferralPayout(ctx context.Context, userID int64, minimum decimal.Decimal, address string) (*domain.WithdrawalRequest, error)
	FileWalletPayout(ctx context.Context, userID int64, currency domain.Currency, amount decimal.Decimal, address string) (*domain.WithdrawalRequest, error)
	RevokeWithdrawal(ctx context.Context, id int64) error
	ApproveWithdrawal(ctx context.Context, id int64) (*domain.WithdrawalRequest, error)
	RejectWithdrawal(ctx context.Context, id int64, restoreReferral bool) (*domain.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, id int64) (*domain.WithdrawalRequest, error)
	NextPendingWithdrawal(ctx context.Context, afterID int64) (*domain.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]*domain.WithdrawalRequest, error)

	CreateTicket(ctx context.Context, userID int64, message string) (*domain.SupportTicket, error)
	GetTicket(ctx context.Context, id int64) (*domain.SupportTicket, error)
	NextOpenTicket(ctx context.Context, afterID int64) (*domain.SupportTicket, error)
	ResolveTicket(ctx context.Context, id int64) (*domain.SupportTicket, error)

	ListPayoutMethods(ctx context.Context) ([]domain.PayoutMethod, error)
	SavePayoutMethod(ctx context.Context, m domain.PayoutMethod) error
}

const (
	ticketIDMin = 100000
	ticketIDMax = 999999
	// ticketIDAttempts bounds the retries on a random id collision.
	ticketIDAttempts = 8
)
