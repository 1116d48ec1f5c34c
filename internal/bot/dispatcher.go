package bot

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/models"
	"github.com/punchamoorthee/usdtdesk/internal/session"
	"go.uber.org/zap"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usdtdesk_events_total",
		Help: "Inbound chat events, labeled by kind",
	}, []string{"kind"})

	eventErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usdtdesk_event_errors_total",
		Help: "Events whose handler failed, labeled by route",
	}, []string{"route"})
)

// Handler consumes one event. Both the conversation engine and the admin console
// satisfy it.
type Handler interface {
	Handle(ctx context.Context, ev models.Event) error
}

// Dispatcher runs events of the same user strictly one after another and sends each
// to the engine or the admin console. consoleSessions is the admin console's own
// store; while it holds a mode for the admin, their text and /cancel go there.
type Dispatcher struct {
	engine       Handler
	admin        Handler
	adminID      int64
	consoleState session.Store
	out          models.Messenger
	logger       *zap.Logger
	locks        *keyedMutex
}

func NewDispatcher(engine, console Handler, adminID int64, consoleSessions session.Store, out models.Messenger, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		engine:       engine,
		admin:        console,
		adminID:      adminID,
		consoleState: consoleSessions,
		out:          out,
		logger:       logger,
		locks:        newKeyedMutex(),
	}
}

// Dispatch is safe to call from many goroutines.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) {
	unlock := d.locks.Lock(ev.UserID)
	defer unlock()

	if ev.TraceID == "" {
		ev.TraceID = uuid.NewString()
	}
	eventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	log := d.logger.With(zap.String("trace_id", ev.TraceID), zap.Int64("user_id", ev.UserID))

	route, h := "engine", d.engine
	if d.isAdminEvent(ctx, ev) {
		route, h = "admin", d.admin
	}
	log.Debug("event", zap.String("kind", string(ev.Kind)), zap.String("route", route),
		zap.String("command", ev.Command), zap.String("action", ev.Action.Token()))

	err := h.Handle(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAccessDenied):
		// already answered
	default:
		eventErrorsTotal.WithLabelValues(route).Inc()
		log.Error("event handling failed", zap.String("route", route), zap.Error(err))
		if serr := d.out.Send(ctx, models.Reply{ChatID: ev.UserID, Text: "❌ Something went wrong. Please try again later."}); serr != nil {
			log.Warn("send failed", zap.Error(serr))
		}
	}
}

func (d *Dispatcher) isAdminEvent(ctx context.Context, ev models.Event) bool {
	switch ev.Kind {
	case models.KindCommand:
		if ev.Command == models.CmdCancel {
			return d.inConsoleMode(ctx, ev.UserID)
		}
		return ev.Command == models.CmdAdmin || ev.Command == models.CmdCredit
	case models.KindButton:
		return ev.Action.Type.IsAdmin()
	case models.KindText:
		return d.inConsoleMode(ctx, ev.UserID)
	}
	return false
}

func (d *Dispatcher) inConsoleMode(ctx context.Context, userID int64) bool {
	if userID != d.adminID {
		return false
	}
	st, err := d.consoleState.Get(ctx, userID)
	return err == nil && st.Step.IsAdmin()
}
