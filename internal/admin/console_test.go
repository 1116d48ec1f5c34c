package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/rates"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/session"
	"github.com/punchamoorthee/usdtdesk/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminID      = int64(999)
	validAddress = "TXYZ1234567890abcdefghijklmnopqrs"
)

type recorder struct {
	mu      sync.Mutex
	replies []models.Reply
}

func (r *recorder) Send(ctx context.Context, rep models.Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, rep)
	return nil
}

func (r *recorder) to(chatID int64) []models.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Reply
	for _, rep := range r.replies {
		if rep.ChatID == chatID {
			out = append(out, rep)
		}
	}
	return out
}

func (r *recorder) texts(chatID int64) []string {
	var out []string
	for _, rep := range r.to(chatID) {
		out = append(out, rep.Text)
	}
	return out
}

func (r *recorder) last(t *testing.T, chatID int64) models.Reply {
	t.Helper()
	got := r.to(chatID)
	require.NotEmpty(t, got)
	return got[len(got)-1]
}

type fixture struct {
	t        *testing.T
	console  *Console
	ledger   *service.Ledger
	sessions *session.MemoryStore
	out      *recorder
	failRate bool
}

func newFixture(t *testing.T, policy service.Policy) *fixture {
	t.Helper()
	f := &fixture{t: t, sessions: session.NewMemoryStore(0), out: &recorder{}}
	f.ledger = service.NewLedger(store.NewMemoryStore(), policy, zap.NewNop())
	rp := rates.NewProvider(func(ctx context.Context) (map[domain.Fiat]decimal.Decimal, error) {
		if f.failRate {
			return nil, errors.New("upstream down")
		}
		return map[domain.Fiat]decimal.Decimal{domain.USD: decimal.RequireFromString("1.054")}, nil
	})
	f.console = NewConsole(adminID, f.ledger, rp, f.sessions, f.out, zap.NewNop())
	return f
}

func (f *fixture) handle(ev models.Event) error {
	return f.console.Handle(context.Background(), ev)
}

func (f *fixture) press(t models.ActionType, id int64) {
	f.t.Helper()
	require.NoError(f.t, f.handle(models.Event{UserID: adminID, Kind: models.KindButton, Action: models.Action{Type: t, ID: id}}))
}

func (f *fixture) text(s string) {
	f.t.Helper()
	require.NoError(f.t, f.handle(models.Event{UserID: adminID, Kind: models.KindText, Text: s}))
}

func (f *fixture) command(cmd, args string) {
	f.t.Helper()
	require.NoError(f.t, f.handle(models.Event{UserID: adminID, Kind: models.KindCommand, Command: cmd, Args: args}))
}

// walletPayout funds userID and files a pending payout of amount USDT.
func (f *fixture) walletPayout(userID int64, amount int64) *domain.WithdrawalRequest {
	f.t.Helper()
	ctx := context.Background()
	_, err := f.ledger.Touch(ctx, userID, "Payee")
	require.NoError(f.t, err)
	_, err = f.ledger.Credit(ctx, userID, domain.USDT, decimal.NewFromInt(amount))
	require.NoError(f.t, err)
	w, err := f.ledger.RequestWalletPayout(ctx, userID, domain.USDT, decimal.NewFromInt(amount), validAddress)
	require.NoError(f.t, err)
	return w
}

func buttonTypes(r models.Reply) []models.ActionType {
	var out []models.ActionType
	for _, row := range r.Buttons {
		for _, b := range row {
			out = append(out, b.Action.Type)
		}
	}
	return out
}

func TestNonAdminIsDenied(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	w := f.walletPayout(7, 40)

	events := []models.Event{
		{UserID: 7, Kind: models.KindCommand, Command: models.CmdAdmin},
		{UserID: 7, Kind: models.KindCommand, Command: models.CmdCredit, Args: "7 USDT 1000"},
		{UserID: 7, Kind: models.KindButton, Action: models.Action{Type: models.ActApprove, ID: w.ID}},
		{UserID: 7, Kind: models.KindButton, Action: models.Action{Type: models.ActReject, ID: w.ID}},
	}
	for _, ev := range events {
		err := f.handle(ev)
		assert.ErrorIs(t, err, domain.ErrAccessDenied)
		assert.Equal(t, accessDenied, f.out.last(t, 7).Text)
	}

	got, err := f.ledger.Withdrawal(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalPending, got.Status)
	u, err := f.ledger.User(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, u.Balance(domain.USDT).IsZero())
	assert.Empty(t, f.out.to(adminID))
}

func TestPanel(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	f.walletPayout(7, 40)
	_, _, err := f.ledger.Register(context.Background(), 8, "Eve", "")
	require.NoError(t, err)

	f.command(models.CmdAdmin, "")
	panel := f.out.last(t, adminID)
	assert.Contains(t, panel.Text, "*Total Registered Users:* 1")
	assert.Contains(t, panel.Text, "*Known Accounts:* 2")
	assert.Contains(t, panel.Text, "*Pending Payouts:* 1")
	assert.Equal(t, []models.ActionType{
		models.ActPendingPayouts, models.ActOpenTickets, models.ActRefreshRates, models.ActPayoutMethods,
	}, buttonTypes(panel))
}

func TestApprove(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	w := f.walletPayout(7, 40)

	f.press(models.ActPendingPayouts, 0)
	card := f.out.last(t, adminID)
	assert.Contains(t, card.Text, fmt.Sprintf("*Request:* #%d", w.ID))
	assert.Equal(t, []models.ActionType{models.ActApprove, models.ActReject, models.ActSkipPayout}, buttonTypes(card))

	f.press(models.ActApprove, w.ID)
	assert.Contains(t, f.out.last(t, 7).Text, fmt.Sprintf("✅ Your withdrawal #%d of *40 USDT* has been approved.", w.ID))
	texts := f.out.texts(adminID)
	assert.Contains(t, texts, fmt.Sprintf("✅ Withdrawal #%d approved.", w.ID))
	assert.Equal(t, "✅ No pending withdrawal requests.", texts[len(texts)-1])

	f.press(models.ActApprove, w.ID)
	texts = f.out.texts(adminID)
	assert.Contains(t, texts, fmt.Sprintf("⚠️ Withdrawal #%d not found or already processed.", w.ID))

	f.press(models.ActReject, w.ID)
	got, err := f.ledger.Withdrawal(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalApproved, got.Status)
}

func TestApproveKeepsCryptoPrecision(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	_, err := f.ledger.Touch(ctx, 12, "Payee")
	require.NoError(t, err)
	_, err = f.ledger.Credit(ctx, 12, domain.BTC, decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	w, err := f.ledger.RequestWalletPayout(ctx, 12, domain.BTC, decimal.RequireFromString("0.004"), validAddress)
	require.NoError(t, err)

	f.press(models.ActPendingPayouts, 0)
	assert.Contains(t, f.out.last(t, adminID).Text, "*Amount:* *0.004 BTC*")

	f.press(models.ActApprove, w.ID)
	assert.Contains(t, f.out.last(t, 12).Text, fmt.Sprintf("✅ Your withdrawal #%d of *0.004 BTC* has been approved.", w.ID))
}

func TestRejectWalletPayoutRefunds(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	w := f.walletPayout(7, 40)

	f.press(models.ActReject, w.ID)
	assert.Equal(t, fmt.Sprintf("❌ Your withdrawal #%d was rejected. 40 USDT has been returned to your wallet.", w.ID), f.out.last(t, 7).Text)

	u, err := f.ledger.User(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "40", u.Balance(domain.USDT).String())
}

func referralPayout(t *testing.T, f *fixture, userID int64) *domain.WithdrawalRequest {
	t.Helper()
	ctx := context.Background()
	for i := int64(0); i < 34; i++ {
		_, _, err := f.ledger.Register(ctx, userID*100+i, "", fmt.Sprintf("ref_%d", userID))
		require.NoError(t, err)
	}
	w, err := f.ledger.RequestReferralPayout(ctx, userID, validAddress)
	require.NoError(t, err)
	return w
}

func TestRejectReferralPayout(t *testing.T) {
	t.Run("forfeit", func(t *testing.T) {
		f := newFixture(t, service.DefaultPolicy())
		w := referralPayout(t, f, 8)

		f.press(models.ActReject, w.ID)
		assert.Contains(t, f.out.last(t, 8).Text, "Please contact support")
		u, err := f.ledger.User(context.Background(), 8)
		require.NoError(t, err)
		assert.True(t, u.ReferralEarnings.IsZero())
	})

	t.Run("restore", func(t *testing.T) {
		policy := service.DefaultPolicy()
		policy.RestoreRejectedReferral = true
		f := newFixture(t, policy)
		w := referralPayout(t, f, 8)

		f.press(models.ActReject, w.ID)
		assert.Contains(t, f.out.last(t, 8).Text, "51.00 USDT has been returned to your referral earnings.")
		u, err := f.ledger.User(context.Background(), 8)
		require.NoError(t, err)
		assert.Equal(t, "51.00", u.ReferralEarnings.StringFixed(2))
	})
}

func TestSkipPayoutWrapsAround(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	first := f.walletPayout(7, 10)
	second := f.walletPayout(8, 20)

	f.press(models.ActSkipPayout, first.ID)
	assert.Contains(t, f.out.last(t, adminID).Text, fmt.Sprintf("#%d", second.ID))

	f.press(models.ActSkipPayout, second.ID)
	assert.Contains(t, f.out.last(t, adminID).Text, fmt.Sprintf("#%d", first.ID))
}

func TestTicketReplyAndResolve(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	_, err := f.ledger.Touch(ctx, 4, "Dana")
	require.NoError(t, err)
	tk, err := f.ledger.OpenTicket(ctx, 4, "where is my money")
	require.NoError(t, err)

	f.press(models.ActOpenTickets, 0)
	card := f.out.last(t, adminID)
	assert.Contains(t, card.Text, fmt.Sprintf("SUPPORT TICKET #%d", tk.ID))
	assert.Contains(t, card.Text, "Dana")
	assert.Equal(t, []models.ActionType{models.ActTicketReply, models.ActTicketResolve, models.ActSkipTicket}, buttonTypes(card))

	f.press(models.ActTicketReply, tk.ID)
	st, err := f.sessions.Get(ctx, adminID)
	require.NoError(t, err)
	assert.Equal(t, session.AwaitingTicketReply, st.Step)
	assert.Equal(t, tk.ID, st.TicketID)

	f.text("It was sent *today*.")
	assert.Equal(t, fmt.Sprintf("📩 Support reply (ticket #%d):\n\nIt was sent *today*.", tk.ID), f.out.last(t, 4).Text)
	_, err = f.sessions.Get(ctx, adminID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	f.press(models.ActTicketResolve, tk.ID)
	assert.Equal(t, fmt.Sprintf("✅ Your support ticket #%d has been resolved.", tk.ID), f.out.last(t, 4).Text)
	assert.Equal(t, "✅ No open support tickets.", f.out.last(t, adminID).Text)

	f.press(models.ActTicketResolve, tk.ID)
	assert.Contains(t, f.out.texts(adminID), fmt.Sprintf("⚠️ Ticket #%d not found or already resolved.", tk.ID))

	f.press(models.ActTicketReply, tk.ID)
	_, err = f.sessions.Get(ctx, adminID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCancelLeavesConsoleMode(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	f.press(models.ActAddMethod, 0)
	_, err := f.sessions.Get(context.Background(), adminID)
	require.NoError(t, err)

	f.command(models.CmdCancel, "")
	assert.Equal(t, "❌ Admin action cancelled.", f.out.last(t, adminID).Text)
	_, err = f.sessions.Get(context.Background(), adminID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestPayoutMethods(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()

	f.press(models.ActPayoutMethods, 0)
	assert.Contains(t, f.out.last(t, adminID).Text, "No payout methods configured yet.")

	f.press(models.ActAddMethod, 0)
	st, err := f.sessions.Get(ctx, adminID)
	require.NoError(t, err)
	assert.Equal(t, session.AwaitingMethodName, st.Step)

	f.text("  ")
	assert.Contains(t, f.out.last(t, adminID).Text, "cannot be empty")

	f.text("Wise_EUR")
	st, err = f.sessions.Get(ctx, adminID)
	require.NoError(t, err)
	assert.Equal(t, session.AwaitingMethodDetails, st.Step)

	f.text("desk@example.com")
	listing := f.out.last(t, adminID).Text
	assert.Contains(t, listing, `*Wise\_EUR*`)
	assert.Contains(t, listing, "desk@example.com")

	methods, err := f.ledger.PayoutMethods(ctx)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
	_, err = f.sessions.Get(ctx, adminID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCredit(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()

	for _, args := range []string{"", "5 USDT", "x USDT 1", "5 XRP 1", "5 USDT -1", "5 USDT 0", "5 USDT 1 2"} {
		f.command(models.CmdCredit, args)
		assert.Equal(t, creditUsage, f.out.last(t, adminID).Text, args)
	}

	f.command(models.CmdCredit, "5 USDT 10")
	assert.Equal(t, "⚠️ User 5 not found.", f.out.last(t, adminID).Text)

	_, err := f.ledger.Touch(ctx, 5, "")
	require.NoError(t, err)
	f.command(models.CmdCredit, "5 usdt 10.5")
	assert.Equal(t, "💰 Your wallet was credited with 10.5 USDT.", f.out.last(t, 5).Text)
	assert.True(t, strings.HasSuffix(f.out.last(t, adminID).Text, "New balance: 10.5 USDT."))
}

func TestRefreshRates(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())

	f.press(models.ActRefreshRates, 0)
	assert.Equal(t, "✅ Rates refreshed! New rates:\nUSD: 1.054\nEUR: 0.890\nGBP: 0.790", f.out.last(t, adminID).Text)

	f.failRate = true
	f.press(models.ActRefreshRates, 0)
	assert.Contains(t, f.out.last(t, adminID).Text, "previous rates stay in effect")
}

func TestAdminTextWithoutSessionIsIgnored(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	f.text("hello")
	assert.Empty(t, f.out.to(adminID))
}

func TestWithdrawalCard(t *testing.T) {
	w := &domain.WithdrawalRequest{
		ID: 3, UserID: 7, Kind: domain.ReferralPayout, Currency: domain.USDT,
		Amount: decimal.RequireFromString("51"), DestinationAddress: "T`x", Status: domain.WithdrawalPending,
	}
	card := WithdrawalCard(adminID, w, "a_b", false)
	assert.Equal(t, adminID, card.ChatID)
	assert.True(t, card.Markdown)
	assert.Contains(t, card.Text, "REFERRAL WITHDRAWAL REQUEST")
	assert.Contains(t, card.Text, `a\_b`)
	assert.Contains(t, card.Text, "`T'x`")
	assert.Contains(t, card.Text, "*51.00 USDT*")
	assert.Contains(t, card.Text, "PENDING MANUAL REVIEW")
	assert.Equal(t, []models.ActionType{models.ActApprove, models.ActReject}, buttonTypes(card))
	assert.Equal(t, int64(3), card.Buttons[0][0].Action.ID)
}
