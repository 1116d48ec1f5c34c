package admin

import (
	"fmt"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/models"
)

// WithdrawalCard renders a withdrawal request for the admin chat, with the decision
// buttons. skip adds a Skip button for the pending-queue view.
func WithdrawalCard(adminID int64, w *domain.WithdrawalRequest, userName string, skip bool) models.Reply {
	title := "💸 *WALLET WITHDRAWAL REQUEST*"
	if w.Kind == domain.ReferralPayout {
		title = "💸 *REFERRAL WITHDRAWAL REQUEST*"
	}
	text := fmt.Sprintf("%s\n*Request:* #%d\n*User:* %s (`%d`)\n*Amount:* *%s %s*\n*Address:* `%s`\n*Created:* %s\n*Status:* %s",
		title, w.ID, models.EscapeMarkdown(userName), w.UserID,
		amountText(w), w.Currency,
		models.CodeSafe(w.DestinationAddress),
		w.CreatedAt.Format("02/01/2006 15:04:05"),
		statusLabel(w.Status))

	row := models.Row(
		models.Button{Label: "✅ Approve", Action: models.Action{Type: models.ActApprove, ID: w.ID}},
		models.Button{Label: "❌ Reject", Action: models.Action{Type: models.ActReject, ID: w.ID}},
	)
	if skip {
		row = append(row, models.Button{Label: "⏭ Skip", Action: models.Action{Type: models.ActSkipPayout, ID: w.ID}})
	}
	return models.Reply{ChatID: adminID, Text: text, Markdown: true, Buttons: [][]models.Button{row}}
}

// TicketCard renders an open support ticket for the admin chat.
func TicketCard(adminID int64, t *domain.SupportTicket, userName string, skip bool) models.Reply {
	text := fmt.Sprintf("🆘 *SUPPORT TICKET #%d*\n*User:* %s (`%d`)\n*Opened:* %s\n\n%s",
		t.ID, models.EscapeMarkdown(userName), t.UserID,
		t.CreatedAt.Format("02/01/2006 15:04:05"),
		models.EscapeMarkdown(t.Message))

	row := models.Row(
		models.Button{Label: "✉️ Reply", Action: models.Action{Type: models.ActTicketReply, ID: t.ID}},
		models.Button{Label: "✅ Resolve", Action: models.Action{Type: models.ActTicketResolve, ID: t.ID}},
	)
	if skip {
		row = append(row, models.Button{Label: "⏭ Skip", Action: models.Action{Type: models.ActSkipTicket, ID: t.ID}})
	}
	return models.Reply{ChatID: adminID, Text: text, Markdown: true, Buttons: [][]models.Button{row}}
}

// amountText keeps the escrowed precision of wallet payouts; referral earnings are
// always cents.
func amountText(w *domain.WithdrawalRequest) string {
	if w.Kind == domain.ReferralPayout {
		return w.Amount.StringFixed(2)
	}
	return w.Amount.String()
}

func statusLabel(s domain.WithdrawalStatus) string {
	switch s {
	case domain.WithdrawalApproved:
		return "APPROVED"
	case domain.WithdrawalRejected:
		return "REJECTED"
	default:
		return "PENDING MANUAL REVIEW"
	}
}
