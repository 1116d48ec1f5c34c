package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/punchamoorthee/usdtdesk/internal/models"
)

// DecodeUpdate turns a raw update into an Event. It reports false for updates the
// bot does not act on (edits, channel posts, malformed callback data).
func DecodeUpdate(u tgbotapi.Update) (models.Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil {
			return models.Event{}, false
		}
		a, ok := models.ParseAction(q.Data)
		if !ok {
			return models.Event{}, false
		}
		return models.Event{
			UserID:      q.From.ID,
			DisplayName: fullName(q.From),
			Kind:        models.KindButton,
			Action:      a,
		}, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.Chat == nil || !m.Chat.IsPrivate() {
			return models.Event{}, false
		}
		ev := models.Event{UserID: m.From.ID, DisplayName: fullName(m.From)}
		if m.IsCommand() {
			ev.Kind = models.KindCommand
			ev.Command = strings.ToLower(m.Command())
			ev.Args = strings.TrimSpace(m.CommandArguments())
			return ev, true
		}
		text := strings.TrimSpace(m.Text)
		if cmd, ok := models.MenuCommands[text]; ok {
			ev.Kind = models.KindCommand
			ev.Command = cmd
			return ev, true
		}
		ev.Kind = models.KindText
		ev.Text = m.Text
		return ev, true
	}
	return models.Event{}, false
}

func fullName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return ""
}
