package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/usdtdesk/internal/admin"
	"github.com/punchamoorthee/usdtdesk/internal/conversation"
	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/payments"
	"github.com/punchamoorthee/usdtdesk/internal/rates"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/session"
	"github.com/punchamoorthee/usdtdesk/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminID = int64(999)

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

func (r *recorder) texts(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rep := range r.replies {
		if rep.ChatID == chatID {
			out = append(out, rep.Text)
		}
	}
	return out
}

type noDeposits struct{}

func (noDeposits) CreateDeposit(ctx context.Context, req payments.DepositRequest) (*payments.Deposit, error) {
	return nil, payments.ErrGateway
}

// stubHandler records the events it sees and returns err.
type stubHandler struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (s *stubHandler) Handle(ctx context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *stubHandler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newDesk(t *testing.T) (*Dispatcher, *service.Ledger, *recorder) {
	t.Helper()
	logger := zap.NewNop()
	ledger := service.NewLedger(store.NewMemoryStore(), service.DefaultPolicy(), logger)
	rp := rates.NewProvider(rates.StaticSource(nil))
	sessions := session.NewMemoryStore(0)
	consoleSessions := session.NewMemoryStore(0)
	out := &recorder{}

	engine := conversation.NewEngine(conversation.Config{
		AdminChatID: adminID,
		BotUsername: "TestBot",
		MinSell:     decimal.NewFromInt(25),
		MaxSell:     decimal.NewFromInt(50000),
	}, ledger, rp, noDeposits{}, sessions, out, logger)
	console := admin.NewConsole(adminID, ledger, rp, consoleSessions, out, logger)
	return NewDispatcher(engine, console, adminID, consoleSessions, out, logger), ledger, out
}

func start(userID int64, payload string) models.Event {
	return models.Event{UserID: userID, DisplayName: "User", Kind: models.KindCommand, Command: models.CmdStart, Args: payload}
}

func TestReferralScenario(t *testing.T) {
	ctx := context.Background()
	d, ledger, _ := newDesk(t)

	d.Dispatch(ctx, start(1, ""))
	u1, err := ledger.User(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u1.IsRegistered)
	assert.True(t, u1.ReferralEarnings.IsZero())

	d.Dispatch(ctx, start(2, "ref_1"))
	u1, err = ledger.User(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1.50", u1.ReferralEarnings.StringFixed(2))

	d.Dispatch(ctx, start(2, "ref_1"))
	u1, err = ledger.User(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1.50", u1.ReferralEarnings.StringFixed(2))

	u2, err := ledger.User(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, u2.ReferredBy)
	assert.Equal(t, int64(1), *u2.ReferredBy)
}

func TestConcurrentReplaysCreditOnce(t *testing.T) {
	ctx := context.Background()
	d, ledger, _ := newDesk(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(ctx, start(2, "ref_1"))
		}()
	}
	wg.Wait()

	u1, err := ledger.User(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1.50", u1.ReferralEarnings.StringFixed(2))
	assert.Equal(t, 0, d.locks.size())
}

func TestAdminCommandFromUserIsDenied(t *testing.T) {
	ctx := context.Background()
	d, ledger, out := newDesk(t)

	d.Dispatch(ctx, models.Event{UserID: 5, Kind: models.KindCommand, Command: models.CmdCredit, Args: "5 USDT 100"})
	assert.Equal(t, []string{"🚫 Access Denied. This command is for administrators only."}, out.texts(5))

	_, err := ledger.User(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestRouting(t *testing.T) {
	ctx := context.Background()
	sessions := session.NewMemoryStore(0)
	engine, console := &stubHandler{}, &stubHandler{}
	d := NewDispatcher(engine, console, adminID, sessions, &recorder{}, zap.NewNop())

	d.Dispatch(ctx, models.Event{UserID: 1, Kind: models.KindCommand, Command: models.CmdAdmin})
	d.Dispatch(ctx, models.Event{UserID: 1, Kind: models.KindButton, Action: models.Action{Type: models.ActApprove, ID: 1}})
	assert.Equal(t, 2, console.count())

	d.Dispatch(ctx, models.Event{UserID: adminID, Kind: models.KindText, Text: "hi"})
	d.Dispatch(ctx, models.Event{UserID: 1, Kind: models.KindButton, Action: models.Action{Type: models.ActConfirm}})
	assert.Equal(t, 2, engine.count())

	require.NoError(t, sessions.Put(ctx, adminID, &session.State{Step: session.AwaitingTicketReply, TicketID: 100001}))
	d.Dispatch(ctx, models.Event{UserID: adminID, Kind: models.KindText, Text: "reply"})
	assert.Equal(t, 3, console.count())

	require.NoError(t, sessions.Put(ctx, 1, &session.State{Step: session.AwaitingTicketReply}))
	d.Dispatch(ctx, models.Event{UserID: 1, Kind: models.KindText, Text: "spoof"})
	assert.Equal(t, 3, engine.count())

	assert.NotEmpty(t, engine.events[0].TraceID)
}

func press(userID int64, t models.ActionType, value string, id int64) models.Event {
	return models.Event{UserID: userID, Kind: models.KindButton, Action: models.Action{Type: t, Value: value, ID: id}}
}

func TestAdminConsoleKeepsOwnSellWizard(t *testing.T) {
	ctx := context.Background()
	d, ledger, out := newDesk(t)

	d.Dispatch(ctx, press(adminID, models.ActStartSale, "", 0))
	_, err := ledger.Touch(ctx, 4, "Dana")
	require.NoError(t, err)
	tk, err := ledger.OpenTicket(ctx, 4, "where is my money")
	require.NoError(t, err)

	d.Dispatch(ctx, press(adminID, models.ActTicketReply, "", tk.ID))
	d.Dispatch(ctx, models.Event{UserID: adminID, Kind: models.KindText, Text: "On its way."})
	assert.Contains(t, out.texts(4), fmt.Sprintf("📩 Support reply (ticket #%d):\n\nOn its way.", tk.ID))

	d.Dispatch(ctx, press(adminID, models.ActFiat, "USD", 0))
	texts := out.texts(adminID)
	assert.Equal(t, "Please select the deposit network for your USDT:", texts[len(texts)-1])
}

func TestAdminCancelLeavesConsoleModeOnly(t *testing.T) {
	ctx := context.Background()
	d, _, out := newDesk(t)

	d.Dispatch(ctx, press(adminID, models.ActStartSale, "", 0))
	d.Dispatch(ctx, press(adminID, models.ActAddMethod, "", 0))
	d.Dispatch(ctx, models.Event{UserID: adminID, Kind: models.KindCommand, Command: models.CmdCancel})
	texts := out.texts(adminID)
	assert.Equal(t, "❌ Admin action cancelled.", texts[len(texts)-1])

	d.Dispatch(ctx, models.Event{UserID: adminID, Kind: models.KindText, Text: "Wise"})
	d.Dispatch(ctx, press(adminID, models.ActFiat, "EUR", 0))
	texts = out.texts(adminID)
	assert.Equal(t, "Please select the deposit network for your USDT:", texts[len(texts)-1])

	d.Dispatch(ctx, models.Event{UserID: adminID, Kind: models.KindCommand, Command: models.CmdCancel})
	texts = out.texts(adminID)
	assert.Equal(t, "Transaction cancelled. Press *💰 SELL USDT* to start a new sale.", texts[len(texts)-1])
}

func TestHandlerErrorIsReported(t *testing.T) {
	ctx := context.Background()
	out := &recorder{}
	engine := &stubHandler{err: errors.New("db down")}
	console := &stubHandler{err: domain.ErrAccessDenied}
	d := NewDispatcher(engine, console, adminID, session.NewMemoryStore(0), out, zap.NewNop())

	d.Dispatch(ctx, models.Event{UserID: 1, Kind: models.KindCommand, Command: models.CmdDashboard})
	assert.Equal(t, []string{"❌ Something went wrong. Please try again later."}, out.texts(1))

	d.Dispatch(ctx, models.Event{UserID: 2, Kind: models.KindCommand, Command: models.CmdAdmin})
	assert.Empty(t, out.texts(2))
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(7)
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock(1)
	done := make(chan struct{})
	go func() {
		unlock := k.Lock(2)
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
	assert.Equal(t, 1, k.size())
	unlockA()
	assert.Equal(t, 0, k.size())
}
