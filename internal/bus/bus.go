package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus carries messages from channels to the gateway (Inbound) and
// replies back to the channel they belong to (Outbound).
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string][]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string][]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers fn for outbound messages addressed to channel.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], fn)
}

// DispatchOutbound delivers outbound messages to their channel subscribers
// until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			subs := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if len(subs) == 0 {
				log.Printf("[bus] no subscriber for channel %q, dropping reply", msg.Channel)
				continue
			}
			for _, fn := range subs {
				fn(msg)
			}
		}
	}
}
