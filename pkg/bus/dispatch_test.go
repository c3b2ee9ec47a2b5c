package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/ykute07/agentconnect/pkg/message"
)

func TestDispatcherSameSenderInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := NewPeerDispatcher(func(msg *message.Message) {
		mu.Lock()
		got = append(got, msg.Content)
		mu.Unlock()
	})

	for _, content := range []string{"one", "two", "three", "four"} {
		d.Dispatch(&message.Message{Sender: "peer-1", Content: content})
	}
	d.Close()

	want := []string{"one", "two", "three", "four"}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("handled %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q; same-sender messages must stay ordered", i, got[i], want[i])
		}
	}
}

func TestDispatcherDifferentSendersConcurrent(t *testing.T) {
	// The slow sender's handler blocks until the fast sender's handler has
	// run. If senders shared one worker this would deadlock, so a timeout
	// guards the wait.
	fastRan := make(chan struct{})
	slowDone := make(chan struct{})
	d := NewPeerDispatcher(func(msg *message.Message) {
		switch msg.Sender {
		case "slow":
			<-fastRan
			close(slowDone)
		case "fast":
			close(fastRan)
		}
	})
	defer d.Close()

	d.Dispatch(&message.Message{Sender: "slow", Content: "blocks"})
	d.Dispatch(&message.Message{Sender: "fast", Content: "unblocks"})

	select {
	case <-slowDone:
	case <-time.After(2 * time.Second):
		t.Fatal("senders were serialized against each other; different senders must run concurrently")
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := NewPeerDispatcher(func(msg *message.Message) {})
	d.Dispatch(&message.Message{Sender: "peer-1", Content: "hi"})
	d.Close()
	d.Close()

	if d.Dispatch(&message.Message{Sender: "peer-1", Content: "late"}) {
		t.Error("Dispatch after Close must report false")
	}
	if d.Dispatch(nil) {
		t.Error("nil message must not be accepted")
	}
}
