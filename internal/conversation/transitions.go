package conversation

import (
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/session"
)

// stepOf names the only step in which a step-bound button is accepted. Buttons that
// are missing here start or abort a flow and are accepted from any step.
var stepOf = map[models.ActionType]session.Step{
	models.ActFiat:           session.AwaitingFiat,
	models.ActNetwork:        session.AwaitingNetwork,
	models.ActMethodGroup:    session.AwaitingPaymentMethod,
	models.ActMethod:         session.AwaitingPaymentMethod,
	models.ActBankRegion:     session.AwaitingBankRegion,
	models.ActConfirm:        session.AwaitingConfirmation,
	models.ActWalletCurrency: session.AwaitingWalletCurrency,
}

// Accepts reports whether a button of type t may act on a user in step.
func Accepts(step session.Step, t models.ActionType) bool {
	want, bound := stepOf[t]
	if !bound {
		return true
	}
	return want == step
}

var sellSteps = map[session.Step]bool{
	session.AwaitingFiat:           true,
	session.AwaitingNetwork:        true,
	session.AwaitingPaymentMethod:  true,
	session.AwaitingBankRegion:     true,
	session.AwaitingPaymentDetails: true,
	session.AwaitingAmount:         true,
	session.AwaitingConfirmation:   true,
}

func isSellStep(s session.Step) bool {
	return sellSteps[s]
}
