package bus

import (
	"sync"

	"github.com/ykute07/agentconnect/pkg/message"
)

const dispatchQueueDepth = 64

// PeerDispatcher fans inbound messages out to per-sender workers. Messages
// from the same sender are handled one at a time in arrival order, so turn
// accounting and checkpointed conversation state advance in the order the
// peer sent them. Messages from different senders run concurrently.
type PeerDispatcher struct {
	handle func(*message.Message)

	mu     sync.Mutex
	queues map[string]chan *message.Message
	closed bool
	wg     sync.WaitGroup
}

func NewPeerDispatcher(handle func(*message.Message)) *PeerDispatcher {
	return &PeerDispatcher{
		handle: handle,
		queues: make(map[string]chan *message.Message),
	}
}

// Dispatch enqueues the message on its sender's queue, creating the queue
// and its worker on first sight. Returns false after Close.
func (d *PeerDispatcher) Dispatch(msg *message.Message) bool {
	if msg == nil {
		return false
	}

	// The send stays under the lock so Close can never close a queue with
	// a send in flight. Workers drain without the lock, so a full queue
	// only stalls dispatch, it cannot deadlock.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	q, ok := d.queues[msg.Sender]
	if !ok {
		q = make(chan *message.Message, dispatchQueueDepth)
		d.queues[msg.Sender] = q
		d.wg.Add(1)
		go d.worker(q)
	}
	q <- msg
	return true
}

func (d *PeerDispatcher) worker(q <-chan *message.Message) {
	defer d.wg.Done()
	for msg := range q {
		d.handle(msg)
	}
}

// Close stops accepting messages, drains every queue, and waits for the
// workers to finish their in-flight handlers.
func (d *PeerDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
