package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	pollTimeout = 60
	// workers bounds how many users are served in parallel. Updates of one user
	// always land on the same worker, so their order is kept.
	workers    = 8
	queueDepth = 64

	// A limiter untouched for longer than its refill time is full again and can be
	// dropped. The sweep runs once the map reaches sweepSize, which then doubles.
	limiterIdle  = 10 * time.Minute
	minSweepSize = 1024

	tooManyRequests = "Too many requests. Please wait a moment..."
)

// api is the part of tgbotapi.BotAPI the transport uses.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot is the Telegram side of the desk: it polls updates, decodes them once and
// implements models.Messenger.
type Bot struct {
	botAPI   *tgbotapi.BotAPI
	api      api
	username string
	logger   *zap.Logger

	limit     rate.Limit
	burst     int
	rateMu    sync.Mutex
	limiters  map[int64]*userLimiter
	idle      time.Duration
	sweepSize int
	now       func() time.Time
}

type userLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

func New(token string, limit float64, burst int, logger *zap.Logger) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	b := newBot(botAPI, limit, burst, logger)
	b.botAPI = botAPI
	b.username = botAPI.Self.UserName
	return b, nil
}

func newBot(a api, limit float64, burst int, logger *zap.Logger) *Bot {
	idle := limiterIdle
	if limit > 0 {
		idle = max(idle, time.Duration(float64(burst)/limit*float64(time.Second)))
	}
	return &Bot{
		api:       a,
		logger:    logger,
		limit:     rate.Limit(limit),
		burst:     burst,
		limiters:  make(map[int64]*userLimiter),
		idle:      idle,
		sweepSize: minSweepSize,
		now:       time.Now,
	}
}

func (b *Bot) Username() string {
	return b.username
}

func (b *Bot) limiter(userID int64) *rate.Limiter {
	b.rateMu.Lock()
	defer b.rateMu.Unlock()
	now := b.now()
	l, ok := b.limiters[userID]
	if !ok {
		if len(b.limiters) >= b.sweepSize {
			b.sweepLimiters(now)
		}
		l = &userLimiter{Limiter: rate.NewLimiter(b.limit, b.burst)}
		b.limiters[userID] = l
	}
	l.lastSeen = now
	return l.Limiter
}

// sweepLimiters drops idle limiters. Caller holds rateMu.
func (b *Bot) sweepLimiters(now time.Time) {
	for id, l := range b.limiters {
		if now.Sub(l.lastSeen) >= b.idle {
			delete(b.limiters, id)
		}
	}
	b.sweepSize = max(minSweepSize, 2*len(b.limiters))
}

// Run long-polls until ctx is done, handing each decoded event to dispatch.
func (b *Bot) Run(ctx context.Context, dispatch func(context.Context, models.Event)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.botAPI.GetUpdatesChan(u)
	defer b.botAPI.StopReceivingUpdates()

	queues := make([]chan models.Event, workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan models.Event, queueDepth)
		wg.Add(1)
		go func(q <-chan models.Event) {
			defer wg.Done()
			for ev := range q {
				dispatch(ctx, ev)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	b.logger.Info("polling telegram updates", zap.String("bot", b.username))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			ev, accepted := b.accept(upd)
			if !accepted {
				continue
			}
			shard := ev.UserID % workers
			if shard < 0 {
				shard = -shard
			}
			select {
			case queues[shard] <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// accept decodes, acknowledges and rate-limits one update.
func (b *Bot) accept(upd tgbotapi.Update) (models.Event, bool) {
	ev, ok := DecodeUpdate(upd)
	if upd.CallbackQuery != nil {
		text := ""
		if ok && !b.limiter(ev.UserID).Allow() {
			text, ok = tooManyRequests, false
		}
		if _, err := b.api.Request(tgbotapi.NewCallback(upd.CallbackQuery.ID, text)); err != nil {
			b.logger.Debug("callback ack failed", zap.Error(err))
		}
		return ev, ok
	}
	if !ok {
		return ev, false
	}
	if !b.limiter(ev.UserID).Allow() {
		b.logger.Debug("rate limited", zap.Int64("user_id", ev.UserID))
		if _, err := b.api.Send(tgbotapi.NewMessage(ev.UserID, tooManyRequests)); err != nil {
			b.logger.Debug("send failed", zap.Error(err))
		}
		return ev, false
	}
	return ev, true
}

// Send implements models.Messenger. A photo that cannot be sent falls back to a
// plain text message so the caption still arrives.
func (b *Bot) Send(ctx context.Context, r models.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.PhotoURL != "" || len(r.Photo) > 0 {
		_, err := b.api.Send(buildPhoto(r))
		if err == nil {
			return nil
		}
		b.logger.Warn("photo send failed, falling back to text", zap.Int64("chat_id", r.ChatID), zap.Error(err))
	}
	if _, err := b.api.Send(buildMessage(r)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", r.ChatID, err)
	}
	return nil
}

func buildMessage(r models.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(r.ChatID, r.Text)
	if r.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if markup := replyMarkup(r); markup != nil {
		msg.ReplyMarkup = markup
	}
	return msg
}

func buildPhoto(r models.Reply) tgbotapi.PhotoConfig {
	var file tgbotapi.RequestFileData
	if r.PhotoURL != "" {
		file = tgbotapi.FileURL(r.PhotoURL)
	} else {
		file = tgbotapi.FileBytes{Name: "qr.png", Bytes: r.Photo}
	}
	photo := tgbotapi.NewPhoto(r.ChatID, file)
	photo.Caption = r.Text
	if r.Markdown {
		photo.ParseMode = tgbotapi.ModeMarkdown
	}
	if markup := replyMarkup(r); markup != nil {
		photo.ReplyMarkup = markup
	}
	return photo
}

// replyMarkup prefers inline buttons over the menu keyboard; Telegram takes one.
func replyMarkup(r models.Reply) interface{} {
	if len(r.Buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(r.Buttons))
		for _, row := range r.Buttons {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, btn := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Action.Token()))
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
		return tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if r.Menu {
		rows := make([][]tgbotapi.KeyboardButton, 0, len(models.MenuLayout))
		for _, row := range models.MenuLayout {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.ResizeKeyboard = true
		return kb
	}
	return nil
}
