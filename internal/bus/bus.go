package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"relaybot/internal/domain"
)

const publishTimeout = 10 * time.Second

// ErrNoHandler is returned by SendOutbound when no channel registered for the message.
var ErrNoHandler = errors.New("no outbound handler registered")

// InMemoryBus carries inbound messages from the channels to the relay loop
// and routes replies to the channel that registered for them.
type InMemoryBus struct {
	inbound        chan domain.InboundMessage
	handlers       map[string]domain.OutboundHandler
	mu             sync.RWMutex
	closed         bool
	publishTimeout time.Duration
	dropped        atomic.Int64
	logger         *slog.Logger
}

// Stats is a snapshot of the inbound queue.
type Stats struct {
	Queued  int   `json:"queued"`
	Dropped int64 `json:"dropped"`
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:        make(chan domain.InboundMessage, bufferSize),
		handlers:       make(map[string]domain.OutboundHandler),
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// Publish enqueues an inbound message. It blocks up to publishTimeout when
// the buffer is full, then drops the message with an error log.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
		case <-timer.C:
			b.dropped.Add(1)
			b.logger.Error("message dropped: bus full",
				"channel", msg.Channel,
				"sender", msg.SenderID,
				"waited", b.publishTimeout,
			)
		}
	}
}

func (b *InMemoryBus) Stats() Stats {
	return Stats{Queued: len(b.inbound), Dropped: b.dropped.Load()}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound hands the reply to the handler registered for its channel.
func (b *InMemoryBus) SendOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("channel %s: %w", msg.Channel, ErrNoHandler)
	}
	return handler(ctx, msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler domain.OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
