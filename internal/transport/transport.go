// Package transport defines the abstract messaging contract nodes use to
// exchange both DVM coherence traffic and warp/scheduler control-plane
// traffic: a minimal send(dst, bytes) / on_recv(src, bytes) pair.
//
// The core module ships exactly one concrete Transport (MemTransport
// below, an in-process implementation) and leaves any real network
// binding to the embedder; prescribing a wire transport is explicitly
// out of scope for this core.
package transport

import "github.com/processwarp/core/internal/addr"

// Transport is the minimal send/receive contract a node needs. It must
// deliver messages FIFO per (src, dst) ordered pair, but may reorder or
// deliver out of order across different pairs, and may drop or
// duplicate under partition (callers are expected to retry with
// backoff; see internal/memory's use of golang.org/x/time/rate).
type Transport interface {
	// Send delivers b to dst. It may return before dst has received it.
	Send(dst addr.NID, b []byte) error
	// OnRecv adds a handler invoked for every message arriving at this
	// node, regardless of which logical protocol framed it (the first
	// byte of b is a channel tag; see Envelope). Every registered handler
	// sees every message and filters by channel itself.
	OnRecv(handler func(src addr.NID, b []byte))
}

// Channel tags the first byte of every message so a single Transport can
// carry both coherence and warp/control-plane traffic without the two
// protocols needing to agree on anything else.
type Channel byte

const (
	ChannelCoherence Channel = 1
	ChannelWarp       Channel = 2
	ChannelControl    Channel = 3
)

// Envelope wraps a payload with its channel tag for framing on the wire.
func Envelope(ch Channel, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(ch)
	copy(out[1:], payload)
	return out
}

// Unwrap splits a received message back into its channel tag and payload.
func Unwrap(b []byte) (Channel, []byte) {
	if len(b) == 0 {
		return 0, nil
	}
	return Channel(b[0]), b[1:]
}
