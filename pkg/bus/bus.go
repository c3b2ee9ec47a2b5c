package bus

import (
	"context"
	"sync"

	"github.com/ykute07/agentconnect/pkg/message"
)

// MessageBus carries agent messages between the transport layer and the
// agent loop within a single process. Inbound messages come from peers or
// humans; outbound messages are responses the agent wants delivered.
type MessageBus struct {
	inbound  chan *message.Message
	outbound chan *message.Message
	closed   bool
	mu       sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *message.Message, 100),
		outbound: make(chan *message.Message, 100),
	}
}

func (mb *MessageBus) PublishInbound(msg *message.Message) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.inbound <- msg
}

// ConsumeInbound returns the next inbound message and whether the read
// succeeded. The bool is false when the context is cancelled or the
// channel is closed.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (*message.Message, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-ctx.Done():
		return nil, false
	}
}

func (mb *MessageBus) PublishOutbound(msg *message.Message) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.outbound <- msg
}

// SubscribeOutbound returns the next outbound message and whether the read
// succeeded. The bool is false when the context is cancelled or the
// channel is closed.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (*message.Message, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-ctx.Done():
		return nil, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}
