// Package memory implements the DVM's Accessor: typed
// reads/writes against virtual addresses, and the page coherence protocol
// (READ-REQ/READ-REPLY/INVALIDATE/INVALIDATE-ACK/OWNERSHIP-REQ/
// OWNERSHIP-REPLY/UPDATE) that keeps a page's content single-writer or
// multi-reader across the cluster.
//
// Grounded on racedetector's internal/race/detector.Detector: a small
// struct owning a shadow map plus request bookkeeping, exposing two hot
// entry points (OnRead/OnWrite there, EnsureReadable/EnsureWritable here)
// that take a documented fast path when the caller already holds the
// right local state, and fall back to a slower, mutex- and
// network-involving path otherwise.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/diag"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/transport"
)

var (
	// ErrBadAccess is BAD-ACCESS from a null/none/ out of
	// range vaddr, or a type/width mismatch.
	ErrBadAccess = errors.New("memory: bad access")
	// ErrCoherenceFault is COHERENCE-FAULT: the protocol couldn't resolve
	// ownership/freshness within the retry budget.
	ErrCoherenceFault = errors.New("memory: coherence fault")
)

// Accessor is one node's gateway to the DVM: it resolves a vaddr to a
// local page, running the coherence protocol against the page's copy_set
// or home node when the local copy isn't sufficient for the requested
// access.
type Accessor struct {
	self      addr.NID
	pages     *page.Store
	transport transport.Transport

	// Diag is optional: when set, repeated coherence-fault exhaustion for
	// the same vaddr is reported once (deduplicated) instead of spamming
	// stderr on every retry storm. Nil is a valid, silent default.
	Diag *diag.Sink

	allocCounters allocCounters

	reqCounter atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan Message

	// limiter paces retransmission of a coherence request that hasn't
	// been answered yet, the same role golang.org/x/time/rate plays for
	// ethereum-go-ethereum's peer request throttling — grounded on that
	// pack member's go.mod listing golang.org/x/time as a direct dep.
	limiter *rate.Limiter

	retryTimeout time.Duration
	maxRetries   int
}

// New creates an Accessor for a local node.
func New(self addr.NID, pages *page.Store, tp transport.Transport) *Accessor {
	a := &Accessor{
		self:         self,
		pages:        pages,
		transport:    tp,
		pending:      make(map[uint64]chan Message),
		limiter:      rate.NewLimiter(rate.Limit(50), 10),
		retryTimeout: 200 * time.Millisecond,
		maxRetries:   5,
	}
	tp.OnRecv(a.onRecv)
	return a
}

func (a *Accessor) onRecv(src addr.NID, b []byte) {
	ch, payload := transport.Unwrap(b)
	if ch != transport.ChannelCoherence {
		return
	}
	m, err := Decode(payload)
	if err != nil {
		return
	}
	switch m.Kind {
	case KindReadReq:
		a.handleReadReq(src, m)
	case KindOwnershipReq:
		a.handleOwnershipReq(src, m)
	case KindInvalidate:
		a.handleInvalidate(src, m)
	case KindReadReply, KindOwnershipReply, KindInvalidateAck:
		a.deliverReply(m)
	case KindUpdate:
		a.handleUpdate(m)
	}
}

func (a *Accessor) deliverReply(m Message) {
	a.pendingMu.Lock()
	ch, ok := a.pending[m.ReqID]
	a.pendingMu.Unlock()
	if ok {
		select {
		case ch <- m:
		default:
		}
	}
}

func (a *Accessor) send(dst addr.NID, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	return a.transport.Send(dst, transport.Envelope(transport.ChannelCoherence, b))
}

func (a *Accessor) await(ctx context.Context, reqID uint64) (Message, error) {
	ch := make(chan Message, 1)
	a.pendingMu.Lock()
	a.pending[reqID] = ch
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, reqID)
		a.pendingMu.Unlock()
	}()
	select {
	case m := <-ch:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// EnsureReadable resolves index to a readable page, running READ-REQ/
// READ-REPLY against the page's home hint if the local copy is Invalid.
// This is the hot-path check behind every Accessor.Read call and the
// interpreter's FAULT-READ suspension point.
func (a *Accessor) EnsureReadable(ctx context.Context, index uintptr, homeHint addr.NID) (*page.Page, error) {
	p := a.pages.GetOrCreate(index, homeHint)
	// Fast path: already resident in any non-Invalid state.
	if p.State() != page.Invalid {
		return p, nil
	}
	return p, a.faultIn(ctx, p, index, homeHint, false)
}

// EnsureWritable resolves index to an OwnedWritable page, requesting
// ownership (and invalidating the copy_set) if necessary.
func (a *Accessor) EnsureWritable(ctx context.Context, index uintptr, homeHint addr.NID) (*page.Page, error) {
	p := a.pages.GetOrCreate(index, homeHint)
	if p.State() == page.OwnedWritable {
		return p, nil
	}
	return p, a.faultIn(ctx, p, index, homeHint, true)
}

func (a *Accessor) faultIn(ctx context.Context, p *page.Page, index uintptr, homeHint addr.NID, wantWrite bool) error {
	target := homeHint
	if cur := p.HomeHint(); !cur.IsNone() {
		target = cur
	}
	if target.IsNone() || target == a.self {
		// No known owner and we don't have it: this is a first-touch
		// allocation gap, not resolvable by the network. Treat as
		// BAD-ACCESS rather than spinning forever.
		return fmt.Errorf("%w: vaddr index %#x has no known home", ErrBadAccess, index)
	}

	kind := KindReadReq
	if wantWrite {
		kind = KindOwnershipReq
	}

	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		reqID := a.reqCounter.Add(1)
		if err := a.send(target, Message{Kind: kind, From: a.self, To: target, Addr: uint64(index), ReqID: reqID}); err != nil {
			lastErr = err
			continue
		}
		waitCtx, cancel := context.WithTimeout(ctx, a.retryTimeout)
		reply, err := a.await(waitCtx, reqID)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		var content [page.Size]byte
		copy(content[:], reply.Content)
		newState := page.CachedReadonly
		if wantWrite {
			newState = page.OwnedWritable
			a.pages.ForgetCached(index) // an owned page leaves read-cache tracking
		}
		p.ApplyUpdate(content, newState, reply.Epoch)
		p.BeginOwnership(newState, reply.CopySet)
		if newState == page.CachedReadonly {
			p.SetHomeHint(target) // the replying owner stays this copy's home
			a.pages.NoteCachedReadonly(index)
		} else {
			p.SetHomeHint(a.self)
		}
		return nil
	}
	if lastErr == nil {
		lastErr = ErrCoherenceFault
	}
	if a.Diag != nil {
		a.Diag.Notice(fmt.Sprintf("coherence-fault:%#x", index),
			"memory: coherence fault on vaddr index %#x after %d retries: %v", index, a.maxRetries, lastErr)
	}
	return fmt.Errorf("%w: %v", ErrCoherenceFault, lastErr)
}

func (a *Accessor) handleReadReq(src addr.NID, m Message) {
	p, err := a.pages.Get(uintptr(m.Addr))
	if err != nil || p.State() == page.Invalid {
		return
	}
	if p.State() == page.OwnedWritable {
		p.Downgrade()
	}
	content := p.ReadCopy()
	p.AddReader(src)
	_ = a.send(src, Message{
		Kind: KindReadReply, From: a.self, To: src, Addr: m.Addr,
		Epoch: p.Epoch(), Content: content[:], ReqID: m.ReqID, CopySet: p.CopySet(),
	})
}

// handleOwnershipReq services an OWNERSHIP-REQ: invalidate every reader in
// the copy_set (fanned out concurrently and awaited together, grounded on
// golang.org/x/sync/errgroup's typical peer-broadcast usage in
// ethereum-go-ethereum), then reply with the page body and relinquish
// local ownership.
func (a *Accessor) handleOwnershipReq(src addr.NID, m Message) {
	p, err := a.pages.Get(uintptr(m.Addr))
	if err != nil || (p.State() != page.OwnedWritable && p.State() != page.OwnedReadonly) {
		return
	}
	copySet := p.CopySet()
	g, gctx := errgroup.WithContext(context.Background())
	for _, nid := range copySet {
		nid := nid
		if nid == src {
			continue
		}
		g.Go(func() error {
			reqID := a.reqCounter.Add(1)
			if err := a.send(nid, Message{Kind: KindInvalidate, From: a.self, To: nid, Addr: m.Addr, ReqID: reqID}); err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(gctx, a.retryTimeout)
			defer cancel()
			_, err := a.await(waitCtx, reqID)
			return err
		})
	}
	_ = g.Wait() // best-effort: a timed-out ack doesn't block the transfer, matching §6's "may drop" delivery model

	content := p.ReadCopy()
	epoch := p.Epoch()
	p.ClearCopySet()
	a.pages.ForgetCached(uintptr(m.Addr))
	p.Invalidate()
	_ = a.send(src, Message{
		Kind: KindOwnershipReply, From: a.self, To: src, Addr: m.Addr,
		Epoch: epoch, Content: content[:], ReqID: m.ReqID,
	})
}

func (a *Accessor) handleInvalidate(src addr.NID, m Message) {
	p, err := a.pages.Get(uintptr(m.Addr))
	if err == nil {
		a.pages.ForgetCached(uintptr(m.Addr))
		p.Invalidate()
	}
	_ = a.send(src, Message{Kind: KindInvalidateAck, From: a.self, To: src, Addr: m.Addr, ReqID: m.ReqID})
}

// handleUpdate applies an unsolicited UPDATE (e.g. a periodic owner
// broadcast, or the tail end of a warp handoff) idempotently.
func (a *Accessor) handleUpdate(m Message) {
	p, err := a.pages.Get(uintptr(m.Addr))
	if err != nil {
		return
	}
	var content [page.Size]byte
	copy(content[:], m.Content)
	p.ApplyUpdate(content, page.CachedReadonly, m.Epoch)
}

// Read performs a typed load: the caller must already have ensured the
// page is readable (EnsureReadable) — Read itself only does the bounds
// check and copy, matching Accessor.read being a pure local
// operation once the page fault (if any) has been resolved.
func (a *Accessor) Read(p *page.Page, offset, size int) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > page.Size {
		return nil, fmt.Errorf("%w: read [%d,%d) exceeds page", ErrBadAccess, offset, offset+size)
	}
	content := p.ReadCopy()
	out := make([]byte, size)
	copy(out, content[offset:offset+size])
	return out, nil
}

// Write performs a typed store; the caller must already hold
// OwnedWritable (EnsureWritable).
func (a *Accessor) Write(p *page.Page, offset int, data []byte) error {
	if err := p.WriteAt(offset, data); err != nil {
		return fmt.Errorf("%w: %v", ErrBadAccess, err)
	}
	return nil
}
