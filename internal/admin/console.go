package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/rates"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/session"
	"go.uber.org/zap"
)

const accessDenied = "🚫 Access Denied. This command is for administrators only."

// Console is the privileged side of the bot. Only AdminID may drive it; anybody
// else gets an explicit denial. Its sessions store holds console modes only and must
// not be the store of the conversation engine.
type Console struct {
	adminID  int64
	ledger   *service.Ledger
	rates    *rates.Provider
	sessions session.Store
	out      models.Messenger
	logger   *zap.Logger
	now      func() time.Time
}

func NewConsole(adminID int64, ledger *service.Ledger, rp *rates.Provider, sessions session.Store,
	out models.Messenger, logger *zap.Logger) *Console {
	return &Console{
		adminID:  adminID,
		ledger:   ledger,
		rates:    rp,
		sessions: sessions,
		out:      out,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Console) IsAdmin(userID int64) bool {
	return userID == c.adminID
}

// Handle runs an admin command, button or relay text. Non-admin callers are told so
// and get domain.ErrAccessDenied back; nothing else is touched.
func (c *Console) Handle(ctx context.Context, ev models.Event) error {
	if !c.IsAdmin(ev.UserID) {
		c.logger.Warn("admin access denied", zap.Int64("user_id", ev.UserID),
			zap.String("command", ev.Command), zap.String("action", ev.Action.Token()))
		c.send(ctx, models.Reply{ChatID: ev.UserID, Text: accessDenied})
		return domain.ErrAccessDenied
	}

	switch ev.Kind {
	case models.KindCommand:
		switch ev.Command {
		case models.CmdAdmin:
			return c.panel(ctx)
		case models.CmdCredit:
			return c.credit(ctx, ev.Args)
		case models.CmdCancel:
			return c.cancel(ctx)
		}
	case models.KindButton:
		return c.handleButton(ctx, ev.Action)
	case models.KindText:
		return c.handleText(ctx, ev.Text)
	}
	return nil
}

func (c *Console) handleButton(ctx context.Context, a models.Action) error {
	switch a.Type {
	case models.ActAdminPanel:
		return c.panel(ctx)
	case models.ActPendingPayouts:
		return c.nextPayout(ctx, 0)
	case models.ActApprove:
		return c.approve(ctx, a.ID)
	case models.ActReject:
		return c.reject(ctx, a.ID)
	case models.ActSkipPayout:
		return c.nextPayout(ctx, a.ID)
	case models.ActOpenTickets:
		return c.nextTicket(ctx, 0)
	case models.ActTicketReply:
		return c.beginReply(ctx, a.ID)
	case models.ActTicketResolve:
		return c.resolve(ctx, a.ID)
	case models.ActSkipTicket:
		return c.nextTicket(ctx, a.ID)
	case models.ActRefreshRates:
		return c.refreshRates(ctx)
	case models.ActPayoutMethods:
		return c.methods(ctx)
	case models.ActAddMethod:
		return c.beginAddMethod(ctx)
	}
	return nil
}

func (c *Console) handleText(ctx context.Context, text string) error {
	st, err := c.sessions.Get(ctx, c.adminID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load admin session: %w", err)
	}
	switch st.Step {
	case session.AwaitingTicketReply:
		return c.relayReply(ctx, st.TicketID, text)
	case session.AwaitingMethodName:
		return c.enterMethodName(ctx, st, text)
	case session.AwaitingMethodDetails:
		return c.enterMethodDetails(ctx, st, text)
	}
	return nil
}

func (c *Console) cancel(ctx context.Context) error {
	if err := c.sessions.Delete(ctx, c.adminID); err != nil {
		return fmt.Errorf("clear admin session: %w", err)
	}
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: "❌ Admin action cancelled."})
	return nil
}

func (c *Console) panel(ctx context.Context) error {
	stats, err := c.ledger.Stats(ctx)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("*👑 Admin Panel - %s*\n\n"+
		"*Total Registered Users:* %d\n"+
		"*Known Accounts:* %d\n"+
		"*Outstanding Referral Earnings:* %s USDT\n"+
		"*Pending Payouts:* %d\n"+
		"*Open Tickets:* %d\n\n"+
		"Welcome, Administrator. Select an action:",
		c.now().Format("02/01/2006 15:04:05"),
		stats.Registered, stats.Users, stats.ReferralEarnings.StringFixed(2), stats.PendingPayouts, stats.OpenTickets)

	c.send(ctx, models.Reply{
		ChatID:   c.adminID,
		Text:     text,
		Markdown: true,
		Buttons: [][]models.Button{
			{{Label: fmt.Sprintf("View Payout Requests (%d)", stats.PendingPayouts), Action: models.Action{Type: models.ActPendingPayouts}}},
			{{Label: fmt.Sprintf("Open Tickets (%d)", stats.OpenTickets), Action: models.Action{Type: models.ActOpenTickets}}},
			{{Label: "Refresh Rates", Action: models.Action{Type: models.ActRefreshRates}}},
			{{Label: "Payout Methods", Action: models.Action{Type: models.ActPayoutMethods}}},
		},
	})
	return nil
}

// nextPayout shows the oldest pending request after afterID, wrapping around.
func (c *Console) nextPayout(ctx context.Context, afterID int64) error {
	w, err := c.ledger.NextPending(ctx, afterID)
	if err != nil {
		return err
	}
	if w == nil {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: "✅ No pending withdrawal requests."})
		return nil
	}
	c.send(ctx, WithdrawalCard(c.adminID, w, c.userName(ctx, w.UserID), true))
	return nil
}

func (c *Console) approve(ctx context.Context, id int64) error {
	w, err := c.ledger.Approve(ctx, id)
	if errors.Is(err, domain.ErrNotPending) {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("⚠️ Withdrawal #%d not found or already processed.", id)})
		return c.nextPayout(ctx, 0)
	}
	if err != nil {
		return err
	}
	c.send(ctx, models.Reply{ChatID: w.UserID, Markdown: true, Text: fmt.Sprintf(
		"✅ Your withdrawal #%d of *%s %s* has been approved. The funds are on their way to `%s`.",
		w.ID, amountText(w), w.Currency, models.CodeSafe(w.DestinationAddress))})
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("✅ Withdrawal #%d approved.", w.ID)})
	return c.nextPayout(ctx, 0)
}

func (c *Console) reject(ctx context.Context, id int64) error {
	w, err := c.ledger.Reject(ctx, id)
	if errors.Is(err, domain.ErrNotPending) {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("⚠️ Withdrawal #%d not found or already processed.", id)})
		return c.nextPayout(ctx, 0)
	}
	if err != nil {
		return err
	}

	var outcome string
	switch {
	case w.Kind == domain.WalletPayout:
		outcome = fmt.Sprintf("%s %s has been returned to your wallet.", w.Amount.String(), w.Currency)
	case c.ledger.Refunded(w):
		outcome = fmt.Sprintf("%s USDT has been returned to your referral earnings.", w.Amount.StringFixed(2))
	default:
		outcome = "Please contact support if you have questions."
	}
	c.send(ctx, models.Reply{ChatID: w.UserID, Text: fmt.Sprintf("❌ Your withdrawal #%d was rejected. %s", w.ID, outcome)})
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("❌ Withdrawal #%d rejected.", w.ID)})
	return c.nextPayout(ctx, 0)
}

func (c *Console) nextTicket(ctx context.Context, afterID int64) error {
	t, err := c.ledger.NextTicket(ctx, afterID)
	if err != nil {
		return err
	}
	if t == nil {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: "✅ No open support tickets."})
		return nil
	}
	c.send(ctx, TicketCard(c.adminID, t, c.userName(ctx, t.UserID), true))
	return nil
}

func (c *Console) beginReply(ctx context.Context, ticketID int64) error {
	t, err := c.ledger.Ticket(ctx, ticketID)
	if errors.Is(err, domain.ErrTicketNotFound) || (err == nil && t.Status != domain.TicketOpen) {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("⚠️ Ticket #%d not found or already resolved.", ticketID)})
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.sessions.Put(ctx, c.adminID, &session.State{Step: session.AwaitingTicketReply, TicketID: t.ID}); err != nil {
		return fmt.Errorf("save admin session: %w", err)
	}
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf(
		"✉️ Send your reply for ticket #%d as one message. /cancel to abort.", t.ID)})
	return nil
}

// relayReply forwards the admin text verbatim to the ticket owner.
func (c *Console) relayReply(ctx context.Context, ticketID int64, text string) error {
	if err := c.sessions.Delete(ctx, c.adminID); err != nil {
		return fmt.Errorf("clear admin session: %w", err)
	}
	t, err := c.ledger.Ticket(ctx, ticketID)
	if errors.Is(err, domain.ErrTicketNotFound) || (err == nil && t.Status != domain.TicketOpen) {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("⚠️ Ticket #%d not found or already resolved.", ticketID)})
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.out.Send(ctx, models.Reply{ChatID: t.UserID, Text: fmt.Sprintf("📩 Support reply (ticket #%d):\n\n%s", t.ID, text)}); err != nil {
		c.logger.Warn("ticket reply not delivered", zap.Int64("ticket_id", t.ID), zap.Error(err))
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("❌ Could not deliver the reply for ticket #%d.", t.ID)})
		return nil
	}
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("✅ Reply sent for ticket #%d.", t.ID)})
	return nil
}

func (c *Console) resolve(ctx context.Context, ticketID int64) error {
	t, err := c.ledger.ResolveTicket(ctx, ticketID)
	if errors.Is(err, domain.ErrTicketNotFound) {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("⚠️ Ticket #%d not found or already resolved.", ticketID)})
		return c.nextTicket(ctx, 0)
	}
	if err != nil {
		return err
	}
	c.send(ctx, models.Reply{ChatID: t.UserID, Text: fmt.Sprintf("✅ Your support ticket #%d has been resolved.", t.ID)})
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("✅ Ticket #%d resolved.", t.ID)})
	return c.nextTicket(ctx, 0)
}

func (c *Console) refreshRates(ctx context.Context) error {
	snap, err := c.rates.Refresh(ctx)
	if err != nil {
		c.logger.Warn("rate refresh failed", zap.Error(err))
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: "⚠️ Rate refresh failed; the previous rates stay in effect."})
		return nil
	}
	var b strings.Builder
	b.WriteString("✅ Rates refreshed! New rates:")
	for _, f := range domain.FiatCurrencies {
		fmt.Fprintf(&b, "\n%s: %s", f, snap.Rate(f).StringFixed(3))
	}
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: b.String()})
	return nil
}

func (c *Console) methods(ctx context.Context) error {
	list, err := c.ledger.PayoutMethods(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("*🏦 Payout Methods*\n")
	if len(list) == 0 {
		b.WriteString("\nNo payout methods configured yet.")
	}
	for _, m := range list {
		fmt.Fprintf(&b, "\n*%s*\n%s\n", models.EscapeMarkdown(m.Name), models.EscapeMarkdown(m.Details))
	}
	c.send(ctx, models.Reply{
		ChatID:   c.adminID,
		Text:     b.String(),
		Markdown: true,
		Buttons:  [][]models.Button{{{Label: "➕ Add Method", Action: models.Action{Type: models.ActAddMethod}}}},
	})
	return nil
}

func (c *Console) beginAddMethod(ctx context.Context) error {
	if err := c.sessions.Put(ctx, c.adminID, &session.State{Step: session.AwaitingMethodName}); err != nil {
		return fmt.Errorf("save admin session: %w", err)
	}
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: "Send the name of the new payout method."})
	return nil
}

func (c *Console) enterMethodName(ctx context.Context, st *session.State, text string) error {
	name := strings.TrimSpace(text)
	if name == "" {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: "⚠️ The name cannot be empty. Send the name of the new payout method."})
		return nil
	}
	st.MethodName = name
	st.Step = session.AwaitingMethodDetails
	if err := c.sessions.Put(ctx, c.adminID, st); err != nil {
		return fmt.Errorf("save admin session: %w", err)
	}
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("Now send the settlement details for %s.", name)})
	return nil
}

func (c *Console) enterMethodDetails(ctx context.Context, st *session.State, text string) error {
	err := c.ledger.AddPayoutMethod(ctx, st.MethodName, text)
	if errors.Is(err, domain.ErrEmptyMessage) {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: "⚠️ The details cannot be empty. Send the settlement details."})
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.sessions.Delete(ctx, c.adminID); err != nil {
		return fmt.Errorf("clear admin session: %w", err)
	}
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("✅ Payout method %s saved.", st.MethodName)})
	return c.methods(ctx)
}

const creditUsage = "Usage: /credit <user_id> <USDT|BTC|ETH> <amount>"

// credit funds a user's wallet: /credit <user_id> <currency> <amount>.
func (c *Console) credit(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: creditUsage})
		return nil
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: creditUsage})
		return nil
	}
	currency, ok := domain.ParseCurrency(strings.ToUpper(fields[1]))
	if !ok {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: creditUsage})
		return nil
	}
	amount, err := service.ParseAmount(fields[2])
	if err != nil || !amount.IsPositive() {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: creditUsage})
		return nil
	}

	u, err := c.ledger.Credit(ctx, userID, currency, amount)
	if errors.Is(err, domain.ErrUserNotFound) {
		c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf("⚠️ User %d not found.", userID)})
		return nil
	}
	if err != nil {
		return err
	}
	c.send(ctx, models.Reply{ChatID: userID, Text: fmt.Sprintf("💰 Your wallet was credited with %s %s.", amount.String(), currency)})
	c.send(ctx, models.Reply{ChatID: c.adminID, Text: fmt.Sprintf(
		"✅ Credited %s %s to %d. New balance: %s %s.", amount.String(), currency, userID, u.Balance(currency).String(), currency)})
	return nil
}

func (c *Console) userName(ctx context.Context, userID int64) string {
	u, err := c.ledger.User(ctx, userID)
	if err != nil || u.DisplayName == "" {
		return "User"
	}
	return u.DisplayName
}

func (c *Console) send(ctx context.Context, r models.Reply) {
	if err := c.out.Send(ctx, r); err != nil {
		c.logger.Warn("send failed", zap.Int64("chat_id", r.ChatID), zap.Error(err))
	}
}
