package warp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/diag"
	"github.com/processwarp/core/internal/memory"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/transport"
)

// kind tags a warp-channel message, the ChannelWarp counterpart to
// internal/memory.Kind.
type kind byte

const (
	kindRequest kind = iota + 1
	kindAccept
	kindReject
	kindBody
	kindDone
)

// ErrWarpRejected is WARP-REJECTED from the destination
// refused the migration; the source restores the thread to NORMAL.
var ErrWarpRejected = errors.New("warp: destination rejected the migration")

// envelope is the wire framing for one ChannelWarp message: kind, vpid
// length-prefixed, vtid, then a kind-specific payload.
type envelope struct {
	Kind kind
	VPID addr.VPID
	VTID addr.VTID
	Body []byte
}

func encodeEnvelope(e envelope) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Kind))
	vpid := []byte(e.VPID)
	binary.Write(&buf, binary.LittleEndian, uint32(len(vpid)))
	buf.Write(vpid)
	binary.Write(&buf, binary.LittleEndian, uint64(e.VTID))
	binary.Write(&buf, binary.LittleEndian, uint32(len(e.Body)))
	buf.Write(e.Body)
	return buf.Bytes()
}

func decodeEnvelope(b []byte) (envelope, error) {
	r := bytes.NewReader(b)
	var e envelope
	kb, err := r.ReadByte()
	if err != nil {
		return e, err
	}
	e.Kind = kind(kb)
	var vpidLen uint32
	if err := binary.Read(r, binary.LittleEndian, &vpidLen); err != nil {
		return e, err
	}
	vpidBuf := make([]byte, vpidLen)
	if _, err := r.Read(vpidBuf); err != nil {
		return e, err
	}
	e.VPID = addr.VPID(vpidBuf)
	var vtid uint64
	if err := binary.Read(r, binary.LittleEndian, &vtid); err != nil {
		return e, err
	}
	e.VTID = addr.VTID(vtid)
	var bodyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &bodyLen); err != nil {
		return e, err
	}
	e.Body = make([]byte, bodyLen)
	if _, err := r.Read(e.Body); err != nil {
		return e, err
	}
	return e, nil
}

// Coordinator drives the source and destination halves of the six-step
// warp handshake for every process this node hosts.
// Grounded on original_source/src/core/vmachine.hpp's warp_begin (source
// half: freeze, serialize, send) / warp_end (destination half: receive,
// install, ack) pairing, adapted to Go's explicit request/reply
// correlation instead of callback continuations.
type Coordinator struct {
	self      addr.NID
	transport transport.Transport
	sched     *Scheduler

	// AcceptPolicy is consulted on an inbound WARP-REQUEST to decide
	// whether this node takes the thread; defaults to Scheduler.AcceptWarp.
	AcceptPolicy func(vpid addr.VPID, dst addr.NID) bool

	// Install is called once a warp body has been fully decoded and its
	// pages re-owned locally, to hand the thread to its Process.
	Install func(vpid addr.VPID, ts ThreadSet)

	// Resolve looks up the live Process for a vpid so the source half can
	// read its threads' stacks and memory.
	Resolve func(vpid addr.VPID) (*process.Process, bool)

	// Diag is optional: when set, a rejected or timed-out warp is reported
	// once per thread instead of on every retry.
	Diag *diag.Sink

	pendingMu sync.Mutex
	pending   map[addr.VTID]chan envelope

	timeout time.Duration
}

func NewCoordinator(self addr.NID, tp transport.Transport, sched *Scheduler) *Coordinator {
	c := &Coordinator{
		self: self, transport: tp, sched: sched,
		pending: make(map[addr.VTID]chan envelope),
		timeout: 2 * time.Second,
	}
	c.AcceptPolicy = func(vpid addr.VPID, dst addr.NID) bool { return sched.AcceptWarp(vpid, dst, self) }
	tp.OnRecv(c.onRecv)
	return c
}

func (c *Coordinator) onRecv(src addr.NID, b []byte) {
	ch, payload := transport.Unwrap(b)
	if ch != transport.ChannelWarp {
		return
	}
	e, err := decodeEnvelope(payload)
	if err != nil {
		return
	}
	switch e.Kind {
	case kindRequest:
		c.handleRequest(src, e)
	case kindBody:
		c.handleBody(src, e)
	case kindAccept, kindReject, kindDone:
		c.deliver(e)
	}
}

func (c *Coordinator) deliver(e envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[e.VTID]
	c.pendingMu.Unlock()
	if ok {
		select {
		case ch <- e:
		default:
		}
	}
}

func (c *Coordinator) send(dst addr.NID, e envelope) error {
	return c.transport.Send(dst, transport.Envelope(transport.ChannelWarp, encodeEnvelope(e)))
}

func (c *Coordinator) await(ctx context.Context, vtid addr.VTID) (envelope, error) {
	ch := make(chan envelope, 1)
	c.pendingMu.Lock()
	c.pending[vtid] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, vtid)
		c.pendingMu.Unlock()
	}()
	select {
	case e := <-ch:
		return e, nil
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

// Send runs the source half of the warp protocol for one thread: mark it WAIT-WARP, enumerate and serialize its
// warp set, request the migration, and on accept ship the body and await
// WARP-DONE before deleting the local Thread record.
func (c *Coordinator) Send(ctx context.Context, vpid addr.VPID, t *process.Thread, mem *memory.Accessor, dst addr.NID) error {
	t.Status = process.WaitWarp // step 1

	ts := ThreadSet{VTID: t.VTID, Status: process.AfterWarp, TLS: t.TLS, Stack: t.Stack}
	ts.Pages = collectWarpSet(t.Stack, t.TLS, mem) // step 2

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.send(dst, envelope{Kind: kindRequest, VPID: vpid, VTID: t.VTID}); err != nil {
		t.Status = process.Normal
		return err
	}
	reply, err := c.await(reqCtx, t.VTID) // step 3
	if err != nil || reply.Kind == kindReject {
		t.Status = process.Normal
		if c.Diag != nil {
			c.Diag.Notice(fmt.Sprintf("warp-rejected:%d", t.VTID),
				"warp: thread %d of %s rejected by %s: %v", t.VTID, vpid, dst, err)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWarpRejected, err)
		}
		return ErrWarpRejected
	}

	body := EncodeThreadSet(ts)
	if err := c.send(dst, envelope{Kind: kindBody, VPID: vpid, VTID: t.VTID, Body: body}); err != nil {
		t.Status = process.Normal
		return err
	}
	for _, pr := range ts.Pages { // step 4: release ownership, invalidate locally
		mem.Free(addr.NewVAddr(pr.Class, uint64(pr.Index)))
	}

	doneCtx, cancel2 := context.WithTimeout(ctx, c.timeout)
	defer cancel2()
	if _, err := c.await(doneCtx, t.VTID); err != nil { // step 6 (WARP-DONE)
		return fmt.Errorf("warp: no WARP-DONE from %v: %w", dst, err)
	}
	return nil
}

func (c *Coordinator) handleRequest(src addr.NID, e envelope) {
	if !c.AcceptPolicy(e.VPID, c.self) {
		_ = c.send(src, envelope{Kind: kindReject, VPID: e.VPID, VTID: e.VTID})
		return
	}
	_ = c.send(src, envelope{Kind: kindAccept, VPID: e.VPID, VTID: e.VTID})
}

// handleBody implements the destination half: decode the warp body,
// install every page as locally owned, and only then flip the thread
// BEFORE-WARP→NORMAL — all referenced pages must be resident first, so
// there's no window where a NORMAL thread could fault on one still in
// flight.
func (c *Coordinator) handleBody(src addr.NID, e envelope) {
	ts, err := DecodeThreadSet(e.Body)
	if err != nil {
		return
	}
	ts.Status = process.AfterWarp

	if c.Resolve != nil {
		if p, ok := c.Resolve(e.VPID); ok {
			for _, pr := range ts.Pages {
				p.Mem.Adopt(addr.NewVAddr(pr.Class, uint64(pr.Index)), pr.Bytes, pr.Epoch)
			}
			// Every referenced page is now resident and owned: safe to flip
			// straight to NORMAL rather than leaving a separate AFTER-WARP
			// tick to discover that.
			ts.Status = process.Normal
		}
	}
	if c.Install != nil {
		c.Install(e.VPID, ts)
	}
	_ = c.send(src, envelope{Kind: kindDone, VPID: e.VPID, VTID: e.VTID})
}

// collectWarpSet gathers the page bodies reachable from a thread's call
// stack and TLS: the TLS page (if any) and every StackInfo's stack-data
// page. Operand vaddrs held on a frame are not included. Process-wide
// pages (function/type tables) are deliberately excluded; the
// destination demand-fetches those through its own Accessor.
func collectWarpSet(stack []process.StackInfo, tls addr.VAddr, mem *memory.Accessor) []PageRecord {
	seen := make(map[uintptr]bool)
	var out []PageRecord
	add := func(v addr.VAddr) {
		if v.IsNone() || v.IsNull() {
			return
		}
		if seen[uintptr(v.Index())] {
			return
		}
		seen[uintptr(v.Index())] = true
		content, epoch, ok := mem.Snapshot(v)
		if !ok {
			return
		}
		out = append(out, PageRecord{Index: uintptr(v.Index()), Class: v.Class(), Epoch: epoch, Bytes: content})
	}
	add(tls)
	for _, f := range stack {
		add(f.StackAddr)
	}
	return out
}
