package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/rates"
	"github.com/punchamoorthee/usdtdesk/internal/service"
)

func (e *Engine) start(ctx context.Context, ev models.Event) error {
	res, referrer, err := e.ledger.Register(ctx, ev.UserID, ev.DisplayName, ev.Args)
	if err != nil {
		return err
	}
	name := models.EscapeMarkdown(displayName(ev))
	policy := e.ledger.Policy()

	if referrer != nil {
		e.send(ctx, models.Reply{ChatID: *referrer, Markdown: true, Text: fmt.Sprintf(
			"🎉 *Referral Success!*\n\nUser %s has joined using your link. You earned *%s USDT*! Your new total earnings are: *%s USDT*.",
			name, policy.ReferralBonus.StringFixed(2), res.ReferrerEarnings.StringFixed(2))})
		e.send(ctx, models.Reply{ChatID: ev.UserID, Markdown: true,
			Text: fmt.Sprintf("Welcome! You were referred by user `%d`.", *referrer)})
	}

	if res.NewlyRegistered {
		referredBy := "None"
		if referrer != nil {
			referredBy = fmt.Sprintf("%d", *referrer)
		}
		_ = e.notifyAdmin(ctx, models.Reply{Markdown: true, Text: fmt.Sprintf(
			"*🚨 NEW USER STARTED BOT*\n*ID:* `%d`\n*Name:* %s\n*Referred By:* %s",
			ev.UserID, name, referredBy)})
	}

	welcome := fmt.Sprintf("*Welcome to the USDT Selling Bot!* 🤖\n\n"+
		"Hello *%s*! I'm here to help you sell your USDT for fiat currency quickly and securely.\n\n"+
		"*Current Time:* `%s`\n\n---\n"+
		"*Getting Started Instructions:*\n"+
		"1. *%s*: Check the current exchange rates and your referral earnings.\n"+
		"2. *%s*: Initiate a new transaction to exchange your USDT for USD, EUR, or GBP.\n"+
		"3. *%s*: Share your unique link to earn *%s USDT* for every successful referral!\n"+
		"4. *%s*: Check your balances and request a withdrawal.\n"+
		"5. *%s*: Send a message to our team.\n\n"+
		"Let's begin! Please use the menu buttons below to navigate the service.",
		name, e.timestamp(),
		models.MenuDashboard, models.MenuSell, models.MenuReferral, policy.ReferralBonus.StringFixed(2),
		models.MenuWallet, models.MenuSupport)
	e.send(ctx, models.Reply{ChatID: ev.UserID, Text: welcome, Markdown: true, Menu: true})
	return nil
}

func (e *Engine) dashboard(ctx context.Context, userID int64) error {
	u, err := e.ledger.User(ctx, userID)
	if err != nil {
		return err
	}
	snap := e.refreshRates(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "*📊 Exchange Dashboard*\n\n*Current Time:* `%s`\n*Your Telegram ID:* `%d`\n*Referral Earnings:* *%s USDT*\n\n---\n",
		e.timestamp(), userID, u.ReferralEarnings.StringFixed(2))
	b.WriteString("*Current Exchange Rates (USDT to Fiat):*\n")
	var floors []string
	for _, f := range domain.FiatCurrencies {
		fmt.Fprintf(&b, "1 USDT = *%s %s*\n", snap.Rate(f).StringFixed(3), f)
		floors = append(floors, fmt.Sprintf("%s %s", rates.Floors[f].StringFixed(2), f))
	}
	fmt.Fprintf(&b, "\n*Note:* These rates are real-time, guaranteed to be equal to or better than the floor rates (%s).",
		strings.Join(floors, ", "))

	e.send(ctx, models.Reply{ChatID: userID, Text: b.String(), Markdown: true})
	return nil
}

func (e *Engine) referral(ctx context.Context, userID int64) error {
	u, err := e.ledger.User(ctx, userID)
	if err != nil {
		return err
	}
	policy := e.ledger.Policy()
	link := service.ReferralLink(e.cfg.BotUsername, userID)

	text := fmt.Sprintf("*🔗 Your Referral Dashboard*\n\n"+
		"*Current Earnings:* *%s USDT*\n"+
		"*Minimum Withdrawal:* *%s USDT*\n"+
		"*Bonus per Referral:* *%s USDT*\n\n"+
		"*Share this link to earn:*\n`%s`\n\n"+
		"When your friends click this link and start the bot, you will automatically receive a bonus!",
		u.ReferralEarnings.StringFixed(2), policy.MinReferralWithdrawal.StringFixed(2),
		policy.ReferralBonus.StringFixed(2), link)

	reply := models.Reply{ChatID: userID, Text: text, Markdown: true}
	if e.ledger.CanWithdrawReferral(u) {
		reply.Buttons = [][]models.Button{{{
			Label:  fmt.Sprintf("💸 Withdraw %s USDT", u.ReferralEarnings.StringFixed(2)),
			Action: models.Action{Type: models.ActWithdrawReferral},
		}}}
	}
	e.send(ctx, reply)
	return nil
}

func (e *Engine) wallet(ctx context.Context, userID int64) error {
	u, err := e.ledger.User(ctx, userID)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("*👛 Your Wallet*\n\n")
	funded := false
	for _, c := range domain.WalletCurrencies {
		bal := u.Balance(c)
		fmt.Fprintf(&b, "*%s:* `%s`\n", c, bal.String())
		if bal.IsPositive() {
			funded = true
		}
	}
	reply := models.Reply{ChatID: userID, Markdown: true}
	if funded {
		reply.Buttons = [][]models.Button{{{Label: "💸 Withdraw", Action: models.Action{Type: models.ActWithdrawWallet}}}}
	} else {
		b.WriteString("\nYour wallet is empty.")
	}
	reply.Text = b.String()
	e.send(ctx, reply)
	return nil
}

func displayName(ev models.Event) string {
	if ev.DisplayName != "" {
		return ev.DisplayName
	}
	return "User"
}
