// Package bus carries messages between the channel adapter and the
// gateway. Buffered channels decouple the two: the channel's polling loop
// never blocks on agent latency.
package bus

import (
	"context"
	"log"
	"time"
)

// InboundMessage is a user message arriving from the messaging front end.
type InboundMessage struct {
	ChatID    string
	Content   string
	Timestamp time.Time
}

// OutboundMessage is a reply or notification headed back to the front end.
type OutboundMessage struct {
	ChatID  string
	Content string
}

// Sender delivers an outbound message. Delivery is best effort; failures
// are logged and dropped.
type Sender func(msg OutboundMessage) error

type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	sender Sender
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 100
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
	}
}

// SetSender registers the delivery function. Call before DispatchOutbound.
func (b *MessageBus) SetSender(s Sender) {
	b.sender = s
}

// DispatchOutbound drains the outbound channel until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			if b.sender == nil {
				log.Printf("[bus] dropping outbound to %s: no sender registered", msg.ChatID)
				continue
			}
			if err := b.sender(msg); err != nil {
				log.Printf("[bus] send to %s warning: %v", msg.ChatID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
