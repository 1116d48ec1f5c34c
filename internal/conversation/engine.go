package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/payments"
	"github.com/punchamoorthee/usdtdesk/internal/rates"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/session"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var depositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "usdtdesk_deposits_total",
	Help: "Deposit address requests, labeled by outcome",
}, []string{"outcome"})

// Config holds the engine's presentation and limit settings.
type Config struct {
	AdminChatID  int64
	BotUsername  string
	BuyerContact string
	MinSell      decimal.Decimal
	MaxSell      decimal.Decimal
}

// Engine runs the per-user conversation flows. It expects events of one user to be
// delivered one at a time.
type Engine struct {
	cfg      Config
	ledger   *service.Ledger
	rates    *rates.Provider
	deposits payments.DepositCreator
	sessions session.Store
	out      models.Messenger
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(cfg Config, ledger *service.Ledger, rp *rates.Provider, deposits payments.DepositCreator,
	sessions session.Store, out models.Messenger, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		ledger:   ledger,
		rates:    rp,
		deposits: deposits,
		sessions: sessions,
		out:      out,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one event. Returned errors are infrastructure failures; user
// mistakes are answered in chat and return nil.
func (e *Engine) Handle(ctx context.Context, ev models.Event) error {
	if _, err := e.ledger.Touch(ctx, ev.UserID, ev.DisplayName); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	switch ev.Kind {
	case models.KindCommand:
		return e.handleCommand(ctx, ev)
	case models.KindButton:
		return e.handleButton(ctx, ev)
	case models.KindText:
		return e.handleText(ctx, ev)
	}
	return nil
}

func (e *Engine) handleCommand(ctx context.Context, ev models.Event) error {
	switch ev.Command {
	case models.CmdStart:
		return e.start(ctx, ev)
	case models.CmdCancel:
		return e.cancel(ctx, ev.UserID)
	case models.CmdDashboard:
		return e.dashboard(ctx, ev.UserID)
	case models.CmdSell:
		return e.sellIntro(ctx, ev.UserID)
	case models.CmdReferral:
		return e.referral(ctx, ev.UserID)
	case models.CmdWithdrawRef:
		return e.beginReferralWithdrawal(ctx, ev.UserID)
	case models.CmdWallet:
		return e.wallet(ctx, ev.UserID)
	case models.CmdSupport:
		return e.beginSupport(ctx, ev.UserID)
	}
	e.send(ctx, models.Reply{ChatID: ev.UserID, Text: "Unknown command. Please use the menu buttons below.", Menu: true})
	return nil
}

func (e *Engine) handleButton(ctx context.Context, ev models.Event) error {
	st, err := e.state(ctx, ev.UserID)
	if err != nil {
		return err
	}
	a := ev.Action

	if a.Type == models.ActConfirm && st.Step != session.AwaitingConfirmation {
		e.send(ctx, models.Reply{ChatID: ev.UserID, Markdown: true,
			Text: "⚠️ Error: Please start a new transaction using the *💰 SELL USDT* button."})
		return e.clear(ctx, ev.UserID)
	}
	if !Accepts(st.Step, a.Type) {
		e.logger.Debug("stale button dropped",
			zap.Int64("user_id", ev.UserID),
			zap.String("step", string(st.Step)),
			zap.String("action", a.Token()))
		return nil
	}

	switch a.Type {
	case models.ActStartSale:
		return e.startSale(ctx, ev.UserID)
	case models.ActCancel:
		return e.cancel(ctx, ev.UserID)
	case models.ActFiat:
		return e.chooseFiat(ctx, ev.UserID, st, a.Value)
	case models.ActNetwork:
		return e.chooseNetwork(ctx, ev.UserID, st, a.Value)
	case models.ActMethodGroup:
		return e.chooseMethodGroup(ctx, ev.UserID, a.Value)
	case models.ActMethod:
		return e.chooseMethod(ctx, ev.UserID, st, a.Value)
	case models.ActBankRegion:
		return e.chooseBankRegion(ctx, ev.UserID, st, a.Value)
	case models.ActConfirm:
		return e.confirm(ctx, ev.UserID, st)
	case models.ActWithdrawReferral:
		return e.beginReferralWithdrawal(ctx, ev.UserID)
	case models.ActWithdrawWallet:
		return e.beginWalletWithdrawal(ctx, ev.UserID)
	case models.ActWalletCurrency:
		return e.chooseWalletCurrency(ctx, ev.UserID, st, a.Value)
	}
	e.logger.Debug("unknown button", zap.Int64("user_id", ev.UserID), zap.String("action", a.Token()))
	return nil
}

func (e *Engine) handleText(ctx context.Context, ev models.Event) error {
	st, err := e.state(ctx, ev.UserID)
	if err != nil {
		return err
	}
	switch st.Step {
	case session.AwaitingPaymentDetails:
		return e.enterPaymentDetails(ctx, ev.UserID, st, ev.Text)
	case session.AwaitingAmount:
		return e.enterAmount(ctx, ev.UserID, st, ev.Text)
	case session.AwaitingReferralAddress:
		return e.enterReferralAddress(ctx, ev, ev.Text)
	case session.AwaitingWalletAmount:
		return e.enterWalletAmount(ctx, ev.UserID, st, ev.Text)
	case session.AwaitingWalletAddress:
		return e.enterWalletAddress(ctx, ev, st, ev.Text)
	case session.AwaitingSupportMessage:
		return e.enterSupportMessage(ctx, ev, ev.Text)
	}
	return nil
}

// state returns the user's state, or an Idle state when there is none.
func (e *Engine) state(ctx context.Context, userID int64) (*session.State, error) {
	st, err := e.sessions.Get(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return &session.State{Step: session.Idle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return st, nil
}

func (e *Engine) save(ctx context.Context, userID int64, st *session.State) error {
	if err := e.sessions.Put(ctx, userID, st); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (e *Engine) clear(ctx context.Context, userID int64) error {
	if err := e.sessions.Delete(ctx, userID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// send delivers best-effort; failures are only logged.
func (e *Engine) send(ctx context.Context, r models.Reply) {
	if err := e.out.Send(ctx, r); err != nil {
		e.logger.Warn("send failed", zap.Int64("chat_id", r.ChatID), zap.Error(err))
	}
}

// notifyAdmin reports delivery failures to the caller, which decides what they mean.
func (e *Engine) notifyAdmin(ctx context.Context, r models.Reply) error {
	r.ChatID = e.cfg.AdminChatID
	if err := e.out.Send(ctx, r); err != nil {
		e.logger.Warn("admin notification failed", zap.Error(err))
		return err
	}
	return nil
}

func (e *Engine) cancel(ctx context.Context, userID int64) error {
	st, err := e.state(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.clear(ctx, userID); err != nil {
		return err
	}
	if st.Step == session.Idle || isSellStep(st.Step) {
		e.send(ctx, models.Reply{ChatID: userID, Markdown: true,
			Text: "Transaction cancelled. Press *💰 SELL USDT* to start a new sale."})
		return nil
	}
	e.send(ctx, models.Reply{ChatID: userID, Text: "❌ Cancelled. Use the menu below to continue.", Menu: true})
	return nil
}

func (e *Engine) timestamp() string {
	return e.now().Format("02/01/2006 15:04:05")
}
