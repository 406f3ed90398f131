package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/domain"
)

type DispatcherConfig struct {
	Bus     domain.MessageBus
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher makes exactly one delivery attempt per handled message.
type Dispatcher struct {
	bus     domain.MessageBus
	timeout time.Duration
	logger  *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	return &Dispatcher{bus: cfg.Bus, timeout: cfg.Timeout, logger: cfg.Logger}
}

// Send relays text back to the conversation the inbound message came from.
// Errors and panics in the channel are logged and reported as not delivered.
func (d *Dispatcher) Send(ctx context.Context, in domain.InboundMessage, text string) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("reply send panicked",
				"msg_id", in.ID,
				"channel", in.Channel,
				"chat", in.ChatID,
				"err", fmt.Errorf("panic: %v", r),
			)
			delivered = false
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.bus.SendOutbound(sendCtx, domain.OutboundMessage{
		Channel: in.Channel,
		ChatID:  in.ChatID,
		ReplyTo: in.MessageID,
		Content: text,
		Format:  "markdown",
	})
	if err != nil {
		d.logger.Error("reply send failed",
			"msg_id", in.ID,
			"channel", in.Channel,
			"chat", in.ChatID,
			"err", err,
		)
		return false
	}
	return true
}
