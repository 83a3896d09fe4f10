package transport

import (
	"testing"
	"time"

	"github.com/processwarp/core/internal/addr"
)

func TestMemTransportDeliversInOrder(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint(addr.NewNID())
	bNID := addr.NewNID()
	b := hub.Endpoint(bNID)

	received := make(chan []byte, 16)
	b.OnRecv(func(src addr.NID, msg []byte) { received <- msg })

	for i := byte(0); i < 5; i++ {
		if err := a.Send(bNID, []byte{i}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for i := byte(0); i < 5; i++ {
		select {
		case msg := <-received:
			if msg[0] != i {
				t.Fatalf("out-of-order delivery: got %d, want %d", msg[0], i)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestMemTransportUnreachablePeerIsSilent(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint(addr.NewNID())
	if err := a.Send(addr.NewNID(), []byte{1}); err != nil {
		t.Fatalf("Send to unknown peer should not error, got %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	b := Envelope(ChannelWarp, []byte("hello"))
	ch, payload := Unwrap(b)
	if ch != ChannelWarp || string(payload) != "hello" {
		t.Fatalf("Unwrap(%v) = %v, %q", b, ch, payload)
	}
}
