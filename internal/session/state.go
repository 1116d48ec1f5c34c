package session

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Step is the position of a user inside a conversation flow. The zero value is Idle.
type Step string

const (
	Idle Step = ""

	// sell wizard
	AwaitingFiat           Step = "awaiting_fiat"
	AwaitingNetwork        Step = "awaiting_network"
	AwaitingPaymentMethod  Step = "awaiting_payment_method"
	AwaitingBankRegion     Step = "awaiting_bank_region"
	AwaitingPaymentDetails Step = "awaiting_payment_details"
	AwaitingAmount         Step = "awaiting_amount"
	AwaitingConfirmation   Step = "awaiting_confirmation"

	// withdrawals and support
	AwaitingReferralAddress Step = "awaiting_ref_withdraw_address"
	AwaitingWalletCurrency  Step = "awaiting_wallet_currency"
	AwaitingWalletAmount    Step = "awaiting_wallet_amount"
	AwaitingWalletAddress   Step = "awaiting_wallet_address"
	AwaitingSupportMessage  Step = "awaiting_support_message"

	// admin console
	AwaitingTicketReply   Step = "admin_awaiting_ticket_reply"
	AwaitingMethodName    Step = "admin_awaiting_method_name"
	AwaitingMethodDetails Step = "admin_awaiting_method_details"
)

// IsAdmin reports whether the step belongs to the admin console.
func (s Step) IsAdmin() bool {
	switch s {
	case AwaitingTicketReply, AwaitingMethodName, AwaitingMethodDetails:
		return true
	}
	return false
}

// State is the accumulator for the flow a user is currently in. Only the fields of
// that flow are meaningful.
type State struct {
	Step Step `json:"step"`

	Fiat           string          `json:"fiat,omitempty"`
	Network        string          `json:"network,omitempty"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	PaymentDetails string          `json:"payment_details,omitempty"`
	USDTAmount     decimal.Decimal `json:"usdt_amount"`
	FiatAmount     decimal.Decimal `json:"fiat_amount"`
	Rate           decimal.Decimal `json:"rate"`

	WithdrawCurrency string          `json:"withdraw_currency,omitempty"`
	WithdrawAmount   decimal.Decimal `json:"withdraw_amount"`

	TicketID   int64  `json:"ticket_id,omitempty"`
	MethodName string `json:"method_name,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

var ErrNotFound = errors.New("no conversation state")

// Store holds at most one State per user. Put replaces whatever was there.
type Store interface {
	Get(ctx context.Context, userID int64) (*State, error)
	Put(ctx context.Context, userID int64, st *State) error
	Delete(ctx context.Context, userID int64) error
}
