package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/usdtdesk/internal/admin"
	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/session"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (e *Engine) beginReferralWithdrawal(ctx context.Context, userID int64) error {
	u, err := e.ledger.User(ctx, userID)
	if err != nil {
		return err
	}
	if !e.ledger.CanWithdrawReferral(u) {
		e.send(ctx, models.Reply{ChatID: userID, Markdown: true, Text: fmt.Sprintf(
			"⚠️ You need at least *%s USDT* to withdraw. Your current balance is *%s USDT*.",
			e.ledger.Policy().MinReferralWithdrawal.StringFixed(2), u.ReferralEarnings.StringFixed(2))})
		return nil
	}
	if err := e.save(ctx, userID, &session.State{Step: session.AwaitingReferralAddress}); err != nil {
		return err
	}
	e.send(ctx, models.Reply{ChatID: userID, Markdown: true, Text: fmt.Sprintf(
		"Great! You are eligible to withdraw *%s USDT*.\n\nPlease provide your *USDT TRC20 wallet address* where you would like to receive the funds.",
		u.ReferralEarnings.StringFixed(2))})
	return nil
}

// enterReferralAddress files the payout and zeroes the earnings, then tells the
// admin. If the admin cannot be told the request is revoked and the user stays in
// this step to retry.
func (e *Engine) enterReferralAddress(ctx context.Context, ev models.Event, text string) error {
	userID := ev.UserID
	w, err := e.ledger.RequestReferralPayout(ctx, userID, text)
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		e.send(ctx, models.Reply{ChatID: userID, Text: "⚠️ That doesn't look like a valid TRC20 wallet address. Please try again."})
		return nil
	case errors.Is(err, domain.ErrBelowMinimum):
		e.send(ctx, models.Reply{ChatID: userID, Markdown: true, Text: fmt.Sprintf(
			"⚠️ Your referral balance is below the *%s USDT* minimum.", e.ledger.Policy().MinReferralWithdrawal.StringFixed(2))})
		return e.clear(ctx, userID)
	case err != nil:
		return err
	}

	card := admin.WithdrawalCard(e.cfg.AdminChatID, w, displayName(ev), false)
	if nerr := e.notifyAdmin(ctx, card); nerr != nil {
		if rerr := e.ledger.RevokePayout(ctx, w); rerr != nil {
			e.logger.Error("revoke after failed notification", zap.Int64("withdrawal_id", w.ID), zap.Error(rerr))
		}
		e.send(ctx, models.Reply{ChatID: userID, Text: "❌ An error occurred while submitting your withdrawal request. Please try again later."})
		return nil
	}

	e.send(ctx, models.Reply{ChatID: userID, Markdown: true, Text: fmt.Sprintf(
		"✅ Withdrawal request for *%s USDT* has been submitted to the admin.\n\nFunds will be sent to your TRC20 address (`%s`) shortly. Your referral balance is now *0.00 USDT*.",
		w.Amount.StringFixed(2), models.CodeSafe(w.DestinationAddress))})
	return e.clear(ctx, userID)
}

func (e *Engine) beginWalletWithdrawal(ctx context.Context, userID int64) error {
	u, err := e.ledger.User(ctx, userID)
	if err != nil {
		return err
	}
	var row []models.Button
	for _, c := range domain.WalletCurrencies {
		if u.Balance(c).IsPositive() {
			row = append(row, models.Button{
				Label:  fmt.Sprintf("%s (%s)", c, u.Balance(c).String()),
				Action: models.Action{Type: models.ActWalletCurrency, Value: string(c)},
			})
		}
	}
	if len(row) == 0 {
		e.send(ctx, models.Reply{ChatID: userID, Text: "⚠️ You have no funds to withdraw."})
		return nil
	}
	if err := e.save(ctx, userID, &session.State{Step: session.AwaitingWalletCurrency}); err != nil {
		return err
	}
	e.send(ctx, models.Reply{
		ChatID:  userID,
		Text:    "Which currency would you like to withdraw?",
		Buttons: [][]models.Button{row, {{Label: "❌ Cancel", Action: models.Action{Type: models.ActCancel}}}},
	})
	return nil
}

func (e *Engine) chooseWalletCurrency(ctx context.Context, userID int64, st *session.State, value string) error {
	c, ok := domain.ParseCurrency(value)
	if !ok {
		return nil
	}
	u, err := e.ledger.User(ctx, userID)
	if err != nil {
		return err
	}
	bal := u.Balance(c)
	if !bal.IsPositive() {
		e.send(ctx, models.Reply{ChatID: userID, Text: fmt.Sprintf("⚠️ Your %s balance is empty. Please choose another currency.", c)})
		return nil
	}
	st.WithdrawCurrency = string(c)
	st.Step = session.AwaitingWalletAmount
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}
	e.send(ctx, models.Reply{ChatID: userID, Text: fmt.Sprintf(
		"Please enter the amount of %s to withdraw.\n\n(Available: %s %s)", c, bal.String(), c)})
	return nil
}

func (e *Engine) enterWalletAmount(ctx context.Context, userID int64, st *session.State, text string) error {
	c := domain.Currency(st.WithdrawCurrency)
	u, err := e.ledger.User(ctx, userID)
	if err != nil {
		return err
	}
	bal := u.Balance(c)
	amount, perr := parseWalletAmount(text)
	if perr != nil || amount.GreaterThan(bal) {
		e.send(ctx, models.Reply{ChatID: userID, Text: fmt.Sprintf(
			"⚠️ Invalid amount. Please enter a number greater than 0 and at most %s.", bal.String())})
		return nil
	}
	st.WithdrawAmount = amount
	st.Step = session.AwaitingWalletAddress
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}
	e.send(ctx, models.Reply{ChatID: userID, Text: fmt.Sprintf(
		"Please provide the %s wallet address where you would like to receive the funds.", c)})
	return nil
}

// enterWalletAddress escrows the amount. The admin notification is best-effort
// here: the request is already pending in the queue.
func (e *Engine) enterWalletAddress(ctx context.Context, ev models.Event, st *session.State, text string) error {
	userID := ev.UserID
	c := domain.Currency(st.WithdrawCurrency)
	w, err := e.ledger.RequestWalletPayout(ctx, userID, c, st.WithdrawAmount, text)
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		e.send(ctx, models.Reply{ChatID: userID, Text: "⚠️ That doesn't look like a valid wallet address. Please try again."})
		return nil
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInvalidAmount):
		e.send(ctx, models.Reply{ChatID: userID, Text: "⚠️ Your balance changed and no longer covers this withdrawal. Please start again."})
		return e.clear(ctx, userID)
	case err != nil:
		return err
	}

	_ = e.notifyAdmin(ctx, admin.WithdrawalCard(e.cfg.AdminChatID, w, displayName(ev), false))

	e.send(ctx, models.Reply{ChatID: userID, Markdown: true, Text: fmt.Sprintf(
		"✅ Withdrawal request #%d for *%s %s* has been submitted.\n\nThe amount is reserved from your wallet until the admin reviews it.",
		w.ID, w.Amount.String(), w.Currency)})
	return e.clear(ctx, userID)
}

func (e *Engine) beginSupport(ctx context.Context, userID int64) error {
	if err := e.save(ctx, userID, &session.State{Step: session.AwaitingSupportMessage}); err != nil {
		return err
	}
	e.send(ctx, models.Reply{
		ChatID:  userID,
		Text:    "🆘 Please describe your issue in a single message. Our team will reply here.",
		Buttons: [][]models.Button{{{Label: "❌ Cancel", Action: models.Action{Type: models.ActCancel}}}},
	})
	return nil
}

func (e *Engine) enterSupportMessage(ctx context.Context, ev models.Event, text string) error {
	userID := ev.UserID
	t, err := e.ledger.OpenTicket(ctx, userID, text)
	if errors.Is(err, domain.ErrEmptyMessage) {
		e.send(ctx, models.Reply{ChatID: userID, Text: "⚠️ Please send your issue as a text message."})
		return nil
	}
	if err != nil {
		return err
	}
	_ = e.notifyAdmin(ctx, admin.TicketCard(e.cfg.AdminChatID, t, displayName(ev), false))
	e.send(ctx, models.Reply{ChatID: userID, Text: fmt.Sprintf(
		"✅ Your ticket #%d has been submitted. We will get back to you shortly.", t.ID), Menu: true})
	return e.clear(ctx, userID)
}

func parseWalletAmount(text string) (decimal.Decimal, error) {
	amount, err := service.ParseAmount(text)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	return amount, nil
}
