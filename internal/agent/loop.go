package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

const defaultConcurrency = 10

// Loop consumes inbound messages and hands each one to the relay on its
// user's lane.
type Loop struct {
	bus         domain.MessageBus
	relay       *Relay
	events      *bus.EventBus
	lanes       *laneSet
	concurrency int
	logger      *slog.Logger
}

// LoopConfig holds all dependencies and tuning parameters for the relay loop.
type LoopConfig struct {
	Bus         domain.MessageBus
	Relay       *Relay
	Events      *bus.EventBus // optional
	Concurrency int           // max users handled in parallel
	Logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Loop{
		bus:         cfg.Bus,
		relay:       cfg.Relay,
		events:      cfg.Events,
		lanes:       newLaneSet(cfg.Concurrency),
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run blocks until ctx is done or the inbound channel closes, then waits for
// every lane to finish.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("relay loop started", "concurrency", l.concurrency)
	defer l.lanes.Wait()

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("relay loop stopping", "pending", l.lanes.Pending())
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, relay loop stopping")
				return
			}
			l.Submit(ctx, msg)
		}
	}
}

// Submit queues msg behind earlier messages from the same user.
func (l *Loop) Submit(ctx context.Context, msg domain.InboundMessage) {
	if msg.FromSelf {
		return
	}
	if !msg.HasAttachment() && strings.TrimSpace(msg.Content) == "" {
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	l.logger.Debug("message received",
		"msg_id", msg.ID,
		"channel", msg.Channel,
		"user", msg.UserKey(),
		"attachment", msg.HasAttachment(),
	)
	if l.events != nil {
		l.events.Emit(bus.MessageReceived(msg.Channel, msg.ID))
	}

	l.lanes.Submit(msg.UserKey(), func() { l.handle(ctx, msg) })
}

// Wait blocks until all queued messages are handled.
func (l *Loop) Wait() { l.lanes.Wait() }

func (l *Loop) handle(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("relay panicked", "msg_id", msg.ID, "user", msg.UserKey(), "err", fmt.Errorf("panic: %v", r))
		}
	}()
	if ctx.Err() != nil {
		l.logger.Warn("dropping queued message on shutdown", "msg_id", msg.ID, "user", msg.UserKey())
		return
	}
	// A started message finishes and is answered even if shutdown begins;
	// every external call is still bounded by its own timeout.
	l.relay.Handle(context.WithoutCancel(ctx), msg)
}
