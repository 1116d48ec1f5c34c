package models

import (
	"strconv"
	"strings"
)

// EventKind says which of the Event payload fields is set.
type EventKind string

const (
	KindCommand EventKind = "command"
	KindButton  EventKind = "button"
	KindText    EventKind = "text"
)

// Event is one decoded inbound chat update. The transport builds it once; nothing
// downstream looks at raw updates.
type Event struct {
	UserID      int64
	DisplayName string
	Kind        EventKind

	Command string // without the slash, e.g. "start"
	Args    string // everything after the command
	Action  Action
	Text    string

	TraceID string
}

// Commands recognised by the bot.
const (
	CmdStart       = "start"
	CmdCancel      = "cancel"
	CmdDashboard   = "dashboard"
	CmdSell        = "sell"
	CmdReferral    = "referral"
	CmdWallet      = "wallet"
	CmdSupport     = "support"
	CmdWithdrawRef = "withdrawref"

	CmdAdmin  = "admin"
	CmdCredit = "credit"
)

// ActionType names a button. Buttons that belong to a wizard step are listed in the
// conversation transition table.
type ActionType string

const (
	// sell wizard
	ActStartSale   ActionType = "sell_start"
	ActFiat        ActionType = "fiat"
	ActNetwork     ActionType = "network"
	ActMethod      ActionType = "method"
	ActMethodGroup ActionType = "method_group"
	ActBankRegion  ActionType = "bank_region"
	ActConfirm     ActionType = "confirm"
	ActCancel      ActionType = "cancel"

	// withdrawals
	ActWithdrawReferral ActionType = "withdraw_ref"
	ActWithdrawWallet   ActionType = "withdraw_wallet"
	ActWalletCurrency   ActionType = "wallet_currency"

	// admin console
	ActAdminPanel     ActionType = "adm_panel"
	ActPendingPayouts ActionType = "adm_payouts"
	ActApprove        ActionType = "adm_approve"
	ActReject         ActionType = "adm_reject"
	ActSkipPayout     ActionType = "adm_skip_payout"
	ActOpenTickets    ActionType = "adm_tickets"
	ActTicketReply    ActionType = "adm_ticket_reply"
	ActTicketResolve  ActionType = "adm_ticket_resolve"
	ActSkipTicket     ActionType = "adm_skip_ticket"
	ActRefreshRates   ActionType = "adm_rates"
	ActPayoutMethods  ActionType = "adm_methods"
	ActAddMethod      ActionType = "adm_method_add"
)

// IsAdmin reports whether the action belongs to the admin console.
func (t ActionType) IsAdmin() bool {
	return strings.HasPrefix(string(t), "adm_")
}

// Action is the structured payload of a button press. It is carried over the wire as
// "type", "type:value" or "type:value:id".
type Action struct {
	Type  ActionType
	Value string
	ID    int64
}

// Token encodes the action for callback data. Telegram limits it to 64 bytes.
func (a Action) Token() string {
	var b strings.Builder
	b.WriteString(string(a.Type))
	if a.Value != "" || a.ID != 0 {
		b.WriteByte(':')
		b.WriteString(a.Value)
	}
	if a.ID != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(a.ID, 10))
	}
	return b.String()
}

// ParseAction is the inverse of Token. Malformed tokens report false.
func ParseAction(token string) (Action, bool) {
	if token == "" {
		return Action{}, false
	}
	parts := strings.SplitN(token, ":", 3)
	a := Action{Type: ActionType(parts[0])}
	if a.Type == "" {
		return Action{}, false
	}
	if len(parts) > 1 {
		a.Value = parts[1]
	}
	if len(parts) > 2 {
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Action{}, false
		}
		a.ID = id
	}
	return a, true
}
