package domain

import "context"

// OutboundHandler delivers a reply through one channel.
type OutboundHandler func(ctx context.Context, msg OutboundMessage) error

// MessageBus routes messages between channels and the relay.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(ctx context.Context, msg OutboundMessage) error
	OnOutbound(channelName string, handler OutboundHandler)
	Close()
}
