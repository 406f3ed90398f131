package agent

import (
	"context"
	"log/slog"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/history"
	"relaybot/internal/metrics"
)

type RelayConfig struct {
	Router     *Router
	Text       *TextGateway
	Vision     *VisionGateway
	Audio      *AudioGateway
	Dispatcher *Dispatcher
	History    *history.Store
	Events     *bus.EventBus // optional
	Metrics    *metrics.Collector
	Commands   bool   // answer /reset and /help locally
	ResetReply string // sent after /reset
	Logger     *slog.Logger
}

// Relay handles one inbound message end to end: route, call a gateway,
// dispatch the reply, report the outcome.
type Relay struct {
	router     *Router
	text       *TextGateway
	vision     *VisionGateway
	audio      *AudioGateway
	dispatcher *Dispatcher
	history    *history.Store
	events     *bus.EventBus
	metrics    *metrics.Collector
	commands   bool
	resetReply string
	logger     *slog.Logger
}

func NewRelay(cfg RelayConfig) *Relay {
	return &Relay{
		router:     cfg.Router,
		text:       cfg.Text,
		vision:     cfg.Vision,
		audio:      cfg.Audio,
		dispatcher: cfg.Dispatcher,
		history:    cfg.History,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		commands:   cfg.Commands,
		resetReply: cfg.ResetReply,
		logger:     cfg.Logger,
	}
}

// Handle always sends exactly one reply attempt and returns what happened.
func (r *Relay) Handle(ctx context.Context, msg domain.InboundMessage) domain.RelayRecord {
	start := time.Now()
	r.metrics.Begin()
	defer r.metrics.End()

	userID := msg.UserKey()
	pipeline, reply := r.reply(ctx, msg, userID)
	delivered := r.dispatcher.Send(ctx, msg, reply.Text)

	rec := domain.RelayRecord{
		ID:        msg.ID,
		Channel:   msg.Channel,
		UserID:    userID,
		Pipeline:  pipeline,
		Outcome:   reply.Outcome,
		Delivered: delivered,
		LatencyMs: time.Since(start).Milliseconds(),
		CreatedAt: start,
	}

	r.logger.Info("message relayed",
		"msg_id", msg.ID,
		"user", userID,
		"pipeline", pipeline,
		"outcome", reply.Outcome,
		"delivered", delivered,
		"latency_ms", rec.LatencyMs,
	)

	if r.events != nil {
		// Subscribers may write to a database; keep them off the user's lane.
		r.events.EmitAsync(bus.RelayCompleted(rec))
	}
	return rec
}

func (r *Relay) reply(ctx context.Context, msg domain.InboundMessage, userID string) (domain.Pipeline, Reply) {
	if r.commands && !msg.HasAttachment() {
		if cmd := ParseCommand(msg.Content); cmd != nil {
			if res := r.HandleCommand(cmd, userID); res.Handled {
				r.logger.Debug("command handled", "msg_id", msg.ID, "user", userID, "command", cmd.Name)
				if r.events != nil && res.Reset {
					r.events.Emit(bus.HistoryReset(msg.Channel, userID))
				}
				return domain.PipelineCommand, Reply{Text: res.Response, Outcome: domain.OutcomeOK}
			}
		}
	}

	d := r.router.Route(ctx, msg)
	switch d.Pipeline {
	case domain.PipelineText:
		return d.Pipeline, r.text.Reply(ctx, userID, d.Text)
	case domain.PipelineVision:
		return d.Pipeline, r.vision.Reply(ctx, userID, *d.Media, d.Caption)
	case domain.PipelineTranscription:
		return d.Pipeline, r.audio.Reply(ctx, userID, *d.Media)
	default:
		return domain.PipelineNone, Reply{Text: d.Reply, Outcome: d.Outcome}
	}
}
