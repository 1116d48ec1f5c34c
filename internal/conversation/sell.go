package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/payments"
	"github.com/punchamoorthee/usdtdesk/internal/rates"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/session"
	"go.uber.org/zap"
)

const (
	methodBank           = "Bank Transfer"
	methodSkrillNeteller = "Skrill/Neteller"

	regionEU = "EU"
	regionUS = "US"
)

// Networks maps the network button value to the gateway currency code.
var Networks = map[string]string{
	"TRC20": "USDT.TRC20",
	"ERC20": "USDT.ERC20",
}

// methodPrompts is keyed by concrete payout method.
var methodPrompts = map[string]string{
	"Wise":            "Please enter your *Wise email address* or *Wise Tag*.",
	"Revolut":         "Please enter your *Revolut Revtag*.",
	"PayPal":          "Please enter your *PayPal email address*.",
	"Skrill":          "Please enter your *Skrill email address*.",
	"Neteller":        "Please enter your *Neteller email address*.",
	"Visa/Mastercard": "Please enter your *Visa/Mastercard number*.\n\n⚠️ _For security, never share your full card details with untrusted parties. This is for demonstration purposes only._",
	"Payeer":          "Please enter your *Payeer account number*.",
	"Alipay":          "Please enter your *Alipay email address*.",
}

const defaultMethodPrompt = "Please provide your payment details."

// MethodPrompt returns the details prompt for a payout method.
func MethodPrompt(method string) string {
	if p, ok := methodPrompts[method]; ok {
		return p
	}
	return defaultMethodPrompt
}

var methodMenu = [][]string{
	{"Wise", "Revolut"},
	{"PayPal", methodBank},
	{methodSkrillNeteller, "Visa/Mastercard"},
	{"Payeer", "Alipay"},
}

var methodGroups = map[string][]string{
	methodSkrillNeteller: {"Skrill", "Neteller"},
}

var bankRegions = map[string]struct {
	label  string
	prompt string
}{
	regionEU: {
		label:  "European Bank Transfer",
		prompt: "*Please provide your European bank account details:*\n\n" +
			"`Your First and Last Name`\n`IBAN`\n`SWIFT CODE`\n\n" +
			"Please send all three fields in a single message.",
	},
	regionUS: {
		label:  "US Bank Transfer",
		prompt: "*Please provide your US bank account details:*\n\n" +
			"`Your First and Last Name`\n`Routing Number`\n`Account Number`\n\n" +
			"Please send all three fields in a single message.",
	},
}

func isConcreteMethod(m string) bool {
	if m == methodBank {
		return true
	}
	if _, ok := methodPrompts[m]; ok {
		return true
	}
	return false
}

func (e *Engine) sellIntro(ctx context.Context, userID int64) error {
	e.send(ctx, models.Reply{
		ChatID: userID,
		Text:   "This is your transaction wallet. Do you want to start selling your USDT now?",
		Buttons: [][]models.Button{
			{{Label: "Start Sale", Action: models.Action{Type: models.ActStartSale}}},
			{{Label: "Cancel", Action: models.Action{Type: models.ActCancel}}},
		},
	})
	return nil
}

// startSale replaces whatever flow the user was in.
func (e *Engine) startSale(ctx context.Context, userID int64) error {
	if err := e.save(ctx, userID, &session.State{Step: session.AwaitingFiat}); err != nil {
		return err
	}
	snap := e.refreshRates(ctx)

	var b strings.Builder
	b.WriteString("*Select Fiat Currency*\n")
	for _, f := range domain.FiatCurrencies {
		fmt.Fprintf(&b, "1 USDT = %s %s\n", snap.Rate(f).StringFixed(3), f)
	}
	b.WriteString("\nPlease select your preferred fiat currency:")

	e.send(ctx, models.Reply{
		ChatID:   userID,
		Text:     b.String(),
		Markdown: true,
		Buttons: [][]models.Button{
			{{Label: "🇺🇸 USD", Action: models.Action{Type: models.ActFiat, Value: string(domain.USD)}}},
			{{Label: "🇪🇺 EUR", Action: models.Action{Type: models.ActFiat, Value: string(domain.EUR)}}},
			{{Label: "🇬🇧 GBP", Action: models.Action{Type: models.ActFiat, Value: string(domain.GBP)}}},
		},
	})
	return nil
}

func (e *Engine) chooseFiat(ctx context.Context, userID int64, st *session.State, value string) error {
	fiat, ok := domain.ParseFiat(value)
	if !ok {
		return nil
	}
	st.Fiat = string(fiat)
	st.Step = session.AwaitingNetwork
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}
	e.send(ctx, models.Reply{
		ChatID: userID,
		Text:   "Please select the deposit network for your USDT:",
		Buttons: [][]models.Button{
			{{Label: "USDT TRC20 (Tron)", Action: models.Action{Type: models.ActNetwork, Value: "TRC20"}}},
			{{Label: "USDT ERC20 (Ethereum)", Action: models.Action{Type: models.ActNetwork, Value: "ERC20"}}},
		},
	})
	return nil
}

func (e *Engine) chooseNetwork(ctx context.Context, userID int64, st *session.State, value string) error {
	network, ok := Networks[value]
	if !ok {
		return nil
	}
	st.Network = network
	st.Step = session.AwaitingPaymentMethod
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}

	keyboard := make([][]models.Button, 0, len(methodMenu))
	for _, row := range methodMenu {
		var buttons []models.Button
		for _, m := range row {
			t := models.ActMethod
			if _, group := methodGroups[m]; group {
				t = models.ActMethodGroup
			}
			buttons = append(buttons, models.Button{Label: m, Action: models.Action{Type: t, Value: m}})
		}
		keyboard = append(keyboard, buttons)
	}
	e.send(ctx, models.Reply{
		ChatID:  userID,
		Text:    "How would you like to receive your funds? Select a payment method:",
		Buttons: keyboard,
	})
	return nil
}

// chooseMethodGroup shows a sub-menu; the step stays AwaitingPaymentMethod.
func (e *Engine) chooseMethodGroup(ctx context.Context, userID int64, group string) error {
	members, ok := methodGroups[group]
	if !ok {
		return nil
	}
	keyboard := make([][]models.Button, 0, len(members))
	for _, m := range members {
		keyboard = append(keyboard, []models.Button{{Label: m, Action: models.Action{Type: models.ActMethod, Value: m}}})
	}
	names := strings.Join(members, " or ")
	e.send(ctx, models.Reply{
		ChatID:  userID,
		Text:    fmt.Sprintf("Do you want to receive funds via %s?", names),
		Buttons: keyboard,
	})
	return nil
}

func (e *Engine) chooseMethod(ctx context.Context, userID int64, st *session.State, method string) error {
	if !isConcreteMethod(method) {
		return nil
	}
	if method == methodBank {
		st.Step = session.AwaitingBankRegion
		if err := e.save(ctx, userID, st); err != nil {
			return err
		}
		e.send(ctx, models.Reply{
			ChatID:   userID,
			Text:     "Is this bank account for a *European (IBAN/SWIFT)* or *US (Routing/Account)* transfer?",
			Markdown: true,
			Buttons: [][]models.Button{
				{{Label: "🇪🇺 European Bank", Action: models.Action{Type: models.ActBankRegion, Value: regionEU}}},
				{{Label: "🇺🇸 US Bank", Action: models.Action{Type: models.ActBankRegion, Value: regionUS}}},
			},
		})
		return nil
	}

	st.PaymentMethod = method
	st.Step = session.AwaitingPaymentDetails
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}
	e.send(ctx, models.Reply{ChatID: userID, Text: MethodPrompt(method), Markdown: true})
	return nil
}

func (e *Engine) chooseBankRegion(ctx context.Context, userID int64, st *session.State, value string) error {
	region, ok := bankRegions[value]
	if !ok {
		e.send(ctx, models.Reply{ChatID: userID, Text: "⚠️ Invalid selection. Please try again or cancel the transaction."})
		return e.clear(ctx, userID)
	}
	st.PaymentMethod = region.label
	st.Step = session.AwaitingPaymentDetails
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}
	e.send(ctx, models.Reply{ChatID: userID, Text: region.prompt, Markdown: true})
	return nil
}

// enterPaymentDetails keeps the text verbatim; only emptiness is rejected.
func (e *Engine) enterPaymentDetails(ctx context.Context, userID int64, st *session.State, text string) error {
	if strings.TrimSpace(text) == "" {
		e.send(ctx, models.Reply{ChatID: userID, Text: defaultMethodPrompt})
		return nil
	}
	st.PaymentDetails = text
	st.Step = session.AwaitingAmount
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}
	e.send(ctx, models.Reply{ChatID: userID, Text: fmt.Sprintf(
		"Excellent. Now, please enter the amount of USDT you want to sell.\n\n(Minimum: %s USDT, Maximum: %s USDT)",
		groupThousands(e.cfg.MinSell.String()), groupThousands(e.cfg.MaxSell.String()))})
	return nil
}

func (e *Engine) enterAmount(ctx context.Context, userID int64, st *session.State, text string) error {
	amount, err := service.ParseAmount(text)
	if err != nil || amount.LessThan(e.cfg.MinSell) || amount.GreaterThan(e.cfg.MaxSell) {
		e.send(ctx, models.Reply{ChatID: userID, Text: fmt.Sprintf(
			"⚠️ Invalid amount. Please enter a number between %s and %s.",
			groupThousands(e.cfg.MinSell.String()), groupThousands(e.cfg.MaxSell.String()))})
		return nil
	}

	fiat := domain.Fiat(st.Fiat)
	snap := e.refreshRates(ctx)
	rate := snap.Rate(fiat)

	st.USDTAmount = amount
	st.Rate = rate
	st.FiatAmount = rates.Convert(amount, rate)
	st.Step = session.AwaitingConfirmation
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}

	summary := fmt.Sprintf("*Transaction Summary - Please Review*\n"+
		"*Current Time:* `%s`\n---\n"+
		"- *Selling:* `%s USDT`\n"+
		"- *Network:* `%s`\n"+
		"- *Receiving:* `%s %s`\n"+
		"- *Rate Used:* `1 USDT = %s %s`\n"+
		"- *Payment Method:* `%s`\n"+
		"- *Your Details:* ```\n%s\n```\n---\n"+
		"*Please review all details carefully. Are you sure you want to proceed and generate the deposit address?*",
		e.timestamp(),
		amount.String(),
		st.Network,
		st.FiatAmount.StringFixed(2), fiat,
		rate.StringFixed(3), fiat,
		st.PaymentMethod,
		models.CodeSafe(st.PaymentDetails))

	e.send(ctx, models.Reply{
		ChatID:   userID,
		Text:     summary,
		Markdown: true,
		Buttons: [][]models.Button{
			{{Label: "✅ Confirm & Get Deposit Address", Action: models.Action{Type: models.ActConfirm}}},
			{{Label: "❌ Cancel Transaction", Action: models.Action{Type: models.ActCancel}}},
		},
	})
	return nil
}

// confirm asks the gateway for a deposit address. The state is cleared whatever
// the outcome; a failed sale is restarted from the menu.
func (e *Engine) confirm(ctx context.Context, userID int64, st *session.State) (err error) {
	defer func() {
		if cerr := e.clear(ctx, userID); cerr != nil && err == nil {
			err = cerr
		}
	}()

	dep, derr := e.deposits.CreateDeposit(ctx, payments.DepositRequest{
		SourceCurrency:     string(domain.USDT),
		DestinationNetwork: st.Network,
		Amount:             st.USDTAmount,
		BuyerContact:       e.cfg.BuyerContact,
		CorrelationID:      strconv.FormatInt(userID, 10),
	})
	if derr != nil {
		depositsTotal.WithLabelValues("failed").Inc()
		e.logger.Error("deposit creation failed", zap.Int64("user_id", userID), zap.Error(derr))
		e.send(ctx, models.Reply{ChatID: userID, Text: "❌ An error occurred while creating your transaction. Please try again later."})
		return nil
	}
	depositsTotal.WithLabelValues("created").Inc()

	text := fmt.Sprintf("✅ *Deposit Request Created!*\n\n"+
		"To complete the transaction, please send exactly `%s` USDT to the address below.\n\n"+
		"*Address:*\n`%s`\n\n"+
		"*Network:* `%s`\n\n"+
		"This address is valid for *%d hours*. Do not send funds after it has expired.\n\n"+
		"Once your deposit is confirmed, the payout will proceed automatically, and you can expect to receive your funds within *5 minutes*.",
		dep.Amount.String(), models.CodeSafe(dep.Address), st.Network, dep.ExpiryHours())

	reply := models.Reply{ChatID: userID, Text: text, Markdown: true, PhotoURL: dep.QRImageURL}
	if reply.PhotoURL == "" {
		png, qerr := payments.RenderQR(dep.Address)
		if qerr != nil {
			e.logger.Warn("qr render failed", zap.Int64("user_id", userID), zap.Error(qerr))
		} else {
			reply.Photo = png
		}
	}
	e.send(ctx, reply)
	return nil
}

func (e *Engine) refreshRates(ctx context.Context) rates.Snapshot {
	snap, err := e.rates.Refresh(ctx)
	if err != nil {
		e.logger.Warn("rate refresh failed, serving previous snapshot", zap.Error(err))
	}
	return snap
}

// groupThousands formats the integer part with commas: 50000 -> 50,000.
func groupThousands(s string) string {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
