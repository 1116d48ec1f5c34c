package models

import "context"

// Button is one inline keyboard key.
type Button struct {
	Label  string
	Action Action
}

// Reply is an outbound message. Photo, when set, is sent instead of a plain text
// message with Text as its caption; PhotoURL is tried before Photo bytes.
type Reply struct {
	ChatID   int64
	Text     string
	Buttons  [][]Button
	Markdown bool
	// Menu attaches the persistent main-menu keyboard.
	Menu bool

	PhotoURL string
	Photo    []byte
}

// Row is a convenience for building single-row keyboards.
func Row(buttons ...Button) []Button {
	return buttons
}

// Messenger delivers replies. Send errors are for logging; callers never retry.
type Messenger interface {
	Send(ctx context.Context, r Reply) error
}

// Main menu labels, shared by the transport (to map taps to commands) and the engine.
const (
	MenuDashboard = "📊 Dashboard"
	MenuSell      = "💰 SELL USDT"
	MenuReferral  = "🔗 Referral"
	MenuWallet    = "👛 Wallet"
	MenuSupport   = "🆘 Support"
)

// MenuCommands maps main menu labels to the command they stand for.
var MenuCommands = map[string]string{
	MenuDashboard: CmdDashboard,
	MenuSell:      CmdSell,
	MenuReferral:  CmdReferral,
	MenuWallet:    CmdWallet,
	MenuSupport:   CmdSupport,
}

// MenuLayout is the row layout of the persistent keyboard.
var MenuLayout = [][]string{
	{MenuDashboard, MenuSell},
	{MenuReferral, MenuWallet},
	{MenuSupport},
}
