package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is a custodial wallet asset.
type Currency string

const (
	USDT Currency = "USDT"
	BTC  Currency = "BTC"
	ETH  Currency = "ETH"
)

// WalletCurrencies lists the wallet assets in display order.
var WalletCurrencies = []Currency{USDT, BTC, ETH}

func ParseCurrency(s string) (Currency, bool) {
	for _, c := range WalletCurrencies {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Fiat is a payout currency offered by the sell wizard.
type Fiat string

const (
	USD Fiat = "USD"
	EUR Fiat = "EUR"
	GBP Fiat = "GBP"
)

var FiatCurrencies = []Fiat{USD, EUR, GBP}

func ParseFiat(s string) (Fiat, bool) {
	for _, f := range FiatCurrencies {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// User is the ledger record kept per chat identity.
type User struct {
	ID               int64                        `json:"id"`
	DisplayName      string                       `json:"display_name"`
	IsRegistered     bool                         `json:"is_registered"`
	ReferredBy       *int64                       `json:"referred_by,omitempty"`
	ReferralEarnings decimal.Decimal              `json:"referral_earnings"`
	Wallet           map[Currency]decimal.Decimal `json:"wallet"`
	CreatedAt        time.Time                    `json:"created_at"`
}

// Balance returns the wallet balance for c, zero when the user never held it.
func (u *User) Balance(c Currency) decimal.Decimal {
	if u.Wallet == nil {
		return decimal.Zero
	}
	return u.Wallet[c]
}

type WithdrawalKind string

const (
	ReferralPayout WithdrawalKind = "referral_payout"
	WalletPayout   WithdrawalKind = "wallet_payout"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// WithdrawalRequest is terminal once Approved or Rejected.
// For WalletPayout the Amount left the wallet when the request was created.
type WithdrawalRequest struct {
	ID                 int64            `json:"id"`
	UserID             int64            `json:"user_id"`
	Kind               WithdrawalKind   `json:"kind"`
	Currency           Currency         `json:"currency"`
	Amount             decimal.Decimal  `json:"amount"`
	DestinationAddress string           `json:"destination_address"`
	Status             WithdrawalStatus `json:"status"`
	CreatedAt          time.Time        `json:"created_at"`
	DecidedAt          *time.Time       `json:"decided_at,omitempty"`
}

type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketResolved TicketStatus = "resolved"
)

type SupportTicket struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	Message   string       `json:"message"`
	Status    TicketStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// PayoutMethod is an entry of the admin settlement directory.
type PayoutMethod struct {
	Name    string `json:"name"`
	Details string `json:"details"`
}

// Stats summarises the ledger for the admin panel.
type Stats struct {
	Users            int             `json:"users"`
	Registered       int             `json:"registered"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`
	PendingPayouts   int             `json:"pending_payouts"`
	OpenTickets      int             `json:"open_tickets"`
}
