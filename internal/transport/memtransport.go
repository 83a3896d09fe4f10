package transport

import (
	"sync"

	"github.com/processwarp/core/internal/addr"
)

type pairKey struct{ src, dst addr.NID }

// hub is the shared switchboard every MemTransport endpoint attaches to.
type hub struct {
	mu    sync.Mutex
	nodes map[addr.NID]*MemTransport
	pipes map[pairKey]chan []byte
}

// Hub models one process hosting a simulated multi-node cluster.
type Hub struct{ h *hub }

// NewHub creates an empty switchboard.
func NewHub() *Hub {
	return &Hub{h: &hub{nodes: make(map[addr.NID]*MemTransport), pipes: make(map[pairKey]chan []byte)}}
}

// Endpoint creates a new node's Transport attached to this hub.
func (hb *Hub) Endpoint(nid addr.NID) *MemTransport {
	mt := &MemTransport{hub: hb.h, nid: nid}
	hb.h.mu.Lock()
	hb.h.nodes[nid] = mt
	hb.h.mu.Unlock()
	return mt
}

// MemTransport is an in-process Transport connecting any number of nodes
// registered on the same Hub. Each ordered (src, dst) pair gets its own
// buffered channel pumped by a single goroutine, giving the FIFO-per-pair
// delivery requires without needing a real socket. It is the
// only concrete Transport this module ships; anything beyond a single
// process is the embedder's responsibility.
type MemTransport struct {
	hub *hub
	nid addr.NID

	handlerMu sync.RWMutex
	handlers  []func(src addr.NID, b []byte)
}

func (mt *MemTransport) Send(dst addr.NID, b []byte) error {
	mt.hub.mu.Lock()
	_, ok := mt.hub.nodes[dst]
	key := pairKey{src: mt.nid, dst: dst}
	pipe, exists := mt.hub.pipes[key]
	if ok && !exists {
		pipe = make(chan []byte, 256)
		mt.hub.pipes[key] = pipe
		go mt.pump(dst, pipe)
	}
	mt.hub.mu.Unlock()
	if !ok {
		return nil // unreachable peer: permits silent drop under partition
	}
	cp := append([]byte(nil), b...)
	select {
	case pipe <- cp:
	default:
		// Buffer full: drop, same as a lossy network link (§6 permits drops).
	}
	return nil
}

// pump delivers one (src, dst) pair's messages in FIFO order on a
// dedicated goroutine, so concurrent Send calls from src to different
// peers never block each other nor reorder relative to this one peer.
func (mt *MemTransport) pump(dst addr.NID, pipe chan []byte) {
	for b := range pipe {
		mt.hub.mu.Lock()
		peer := mt.hub.nodes[dst]
		mt.hub.mu.Unlock()
		if peer == nil {
			continue
		}
		peer.handlerMu.RLock()
		hs := peer.handlers
		peer.handlerMu.RUnlock()
		for _, h := range hs {
			h(mt.nid, b)
		}
	}
}

func (mt *MemTransport) OnRecv(handler func(src addr.NID, b []byte)) {
	mt.handlerMu.Lock()
	mt.handlers = append(mt.handlers, handler)
	mt.handlerMu.Unlock()
}
