package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	sent      []tgbotapi.Chattable
	requests  []tgbotapi.Chattable
	failPhoto bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if _, ok := c.(tgbotapi.PhotoConfig); ok && f.failPhoto {
		return tgbotapi.Message{}, errors.New("wrong file identifier")
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func privateMessage(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, FirstName: "Ann", LastName: "Lee"},
		Chat: &tgbotapi.Chat{ID: userID, Type: "private"},
		Text: text,
	}}
}

func commandMessage(userID int64, text string, length int) tgbotapi.Update {
	u := privateMessage(userID, text)
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return u
}

func TestDecodeCommand(t *testing.T) {
	ev, ok := DecodeUpdate(commandMessage(42, "/START  ref_7 ", 6))
	require.True(t, ok)
	assert.Equal(t, models.KindCommand, ev.Kind)
	assert.Equal(t, "start", ev.Command)
	assert.Equal(t, "ref_7", ev.Args)
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, "Ann Lee", ev.DisplayName)
}

func TestDecodeMenuLabel(t *testing.T) {
	ev, ok := DecodeUpdate(privateMessage(42, models.MenuSell))
	require.True(t, ok)
	assert.Equal(t, models.KindCommand, ev.Kind)
	assert.Equal(t, models.CmdSell, ev.Command)
}

func TestDecodeText(t *testing.T) {
	ev, ok := DecodeUpdate(privateMessage(42, "  IBAN DE89 3704  "))
	require.True(t, ok)
	assert.Equal(t, models.KindText, ev.Kind)
	assert.Equal(t, "  IBAN DE89 3704  ", ev.Text)
}

func TestDecodeIgnoresGroupsAndEdits(t *testing.T) {
	u := privateMessage(42, "hello")
	u.Message.Chat.Type = "group"
	_, ok := DecodeUpdate(u)
	assert.False(t, ok)

	_, ok = DecodeUpdate(tgbotapi.Update{EditedMessage: &tgbotapi.Message{Text: "x"}})
	assert.False(t, ok)
}

func TestDecodeCallback(t *testing.T) {
	ev, ok := DecodeUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 42, UserName: "ann"},
		Data: "adm_approve::12",
	}})
	require.True(t, ok)
	assert.Equal(t, models.KindButton, ev.Kind)
	assert.Equal(t, models.Action{Type: models.ActApprove, ID: 12}, ev.Action)
	assert.Equal(t, "@ann", ev.DisplayName)

	_, ok = DecodeUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb2", From: &tgbotapi.User{ID: 42}, Data: "adm_approve::abc",
	}})
	assert.False(t, ok)
}

func TestAcceptAcksCallbacks(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, 10, 5, zap.NewNop())

	_, ok := b.accept(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb1", From: &tgbotapi.User{ID: 42}, Data: "confirm",
	}})
	assert.True(t, ok)
	require.Len(t, api.requests, 1)
	ack, isCallback := api.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, isCallback)
	assert.Equal(t, "cb1", ack.CallbackQueryID)
	assert.Empty(t, ack.Text)
}

func TestAcceptRateLimits(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, 0.001, 1, zap.NewNop())

	_, ok := b.accept(privateMessage(42, "one"))
	assert.True(t, ok)
	_, ok = b.accept(privateMessage(42, "two"))
	assert.False(t, ok)
	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, tooManyRequests, msg.Text)

	_, ok = b.accept(privateMessage(43, "other user"))
	assert.True(t, ok)

	_, ok = b.accept(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb9", From: &tgbotapi.User{ID: 42}, Data: "confirm",
	}})
	assert.False(t, ok)
	ack := api.requests[len(api.requests)-1].(tgbotapi.CallbackConfig)
	assert.Equal(t, tooManyRequests, ack.Text)
}

func TestIdleLimitersAreSwept(t *testing.T) {
	b := newBot(&fakeAPI{}, 10, 5, zap.NewNop())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	b.sweepSize = 2

	b.limiter(1)
	kept := b.limiter(2)
	now = now.Add(limiterIdle + time.Minute)
	assert.Same(t, kept, b.limiter(2))

	b.limiter(3)
	assert.Len(t, b.limiters, 2)
	assert.NotContains(t, b.limiters, int64(1))
	assert.Contains(t, b.limiters, int64(2))
	assert.Equal(t, minSweepSize, b.sweepSize)
}

func TestSendInlineButtons(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, 10, 5, zap.NewNop())

	err := b.Send(context.Background(), models.Reply{
		ChatID:   42,
		Text:     "*hi*",
		Markdown: true,
		Menu:     true,
		Buttons:  [][]models.Button{{{Label: "EUR", Action: models.Action{Type: models.ActFiat, Value: "EUR"}}}},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, tgbotapi.ModeMarkdown, msg.ParseMode)

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	btn := markup.InlineKeyboard[0][0]
	assert.Equal(t, "EUR", btn.Text)
	require.NotNil(t, btn.CallbackData)
	assert.Equal(t, "fiat:EUR", *btn.CallbackData)
}

func TestSendMenuKeyboard(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, 10, 5, zap.NewNop())

	require.NoError(t, b.Send(context.Background(), models.Reply{ChatID: 42, Text: "menu", Menu: true}))
	msg := api.sent[0].(tgbotapi.MessageConfig)
	kb, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, kb.ResizeKeyboard)
	assert.Equal(t, models.MenuDashboard, kb.Keyboard[0][0].Text)
	assert.Len(t, kb.Keyboard, len(models.MenuLayout))
}

func TestSendPhotoFallsBackToText(t *testing.T) {
	api := &fakeAPI{failPhoto: true}
	b := newBot(api, 10, 5, zap.NewNop())

	err := b.Send(context.Background(), models.Reply{ChatID: 42, Text: "deposit", PhotoURL: "https://qr.example/1.png"})
	require.NoError(t, err)
	require.Len(t, api.sent, 2)
	photo := api.sent[0].(tgbotapi.PhotoConfig)
	assert.Equal(t, "deposit", photo.Caption)
	msg := api.sent[1].(tgbotapi.MessageConfig)
	assert.Equal(t, "deposit", msg.Text)
}

func TestSendPhotoBytes(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, 10, 5, zap.NewNop())

	require.NoError(t, b.Send(context.Background(), models.Reply{ChatID: 42, Text: "qr", Photo: []byte{1, 2, 3}}))
	require.Len(t, api.sent, 1)
	photo := api.sent[0].(tgbotapi.PhotoConfig)
	file, ok := photo.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "qr.png", file.Name)
}

func TestSendHonoursContext(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, 10, 5, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, b.Send(ctx, models.Reply{ChatID: 42, Text: "x"}))
	assert.Empty(t, api.sent)
}
