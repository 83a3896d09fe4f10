// Package page implements the distributed page store: the
// per-node table of resident pages backing the DVM, their coherence state,
// and the copy-set of readers a writer must invalidate before taking
// ownership.
//
// The ownership bookkeeping is grounded on racedetector's
// internal/race/shadowmem.VarState: an explicit state enum rather than
// separate boolean flags. Unlike VarState, every mutable field of a Page,
// the state included, is guarded by one per-page mutex; nothing is
// updated with atomics.
package page

import (
	"fmt"
	"sync"
)

// State is a page's coherence state.
type State uint8

const (
	Invalid State = iota
	OwnedWritable
	OwnedReadonly
	CachedReadonly
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "INVALID"
	case OwnedWritable:
		return "OWNED-WRITABLE"
	case OwnedReadonly:
		return "OWNED-READONLY"
	case CachedReadonly:
		return "CACHED-READONLY"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Size is the fixed page granularity. Chosen to match a typical guest
// struct/array allocation unit; content smaller than this is padded, never
// split across pages.
const Size = 4096

// Page is one page-granular unit of the DVM.
//
// State, content, copy set, home hint and epoch are all guarded by mu,
// because nearly every coherence transition reads and modifies several of
// them together; even the State() check behind every local load/store
// takes mu.
type Page struct {
	Addr uintptr // vaddr.Index() this page backs; see internal/memory

	mu      sync.Mutex
	state   State
	content [Size]byte
	copySet map[[16]byte]struct{} // NID bytes -> present; nil when state != OwnedWritable/OwnedReadonly
	home    [16]byte              // home_hint: last known owner, used to route a miss
	epoch   uint64                // plain per-page counter: WriteAt bumps it, ApplyUpdate raises it to a newer incoming epoch
}

// New creates a page in the Invalid state with a home hint (the node
// believed to currently own it, used to target the first READ-REQ).
func New(vaddrIndex uintptr, homeHint [16]byte) *Page {
	return &Page{Addr: vaddrIndex, state: Invalid, home: homeHint}
}

// NewOwned creates a page already owned (writable) locally, e.g. freshly
// allocated by this node.
func NewOwned(vaddrIndex uintptr, selfNID [16]byte) *Page {
	p := &Page{Addr: vaddrIndex, state: OwnedWritable, home: selfNID}
	return p
}

func (p *Page) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Page) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *Page) HomeHint() [16]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.home
}

func (p *Page) SetHomeHint(nid [16]byte) {
	p.mu.Lock()
	p.home = nid
	p.mu.Unlock()
}

// ReadCopy returns a copy of the page content for a local read. Callers
// must have already ensured State() != Invalid.
func (p *Page) ReadCopy() [Size]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

// WriteAt mutates the page content locally. Callers must hold
// OwnedWritable before calling this.
func (p *Page) WriteAt(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > Size {
		return fmt.Errorf("page: write [%d,%d) out of bounds for page size %d", offset, offset+len(data), Size)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != OwnedWritable {
		return fmt.Errorf("page: write requires OWNED-WRITABLE, have %s", p.state)
	}
	copy(p.content[offset:], data)
	p.epoch++
	return nil
}

// ApplyUpdate installs full page content received from an UPDATE/
// READ-REPLY message and transitions to the given resulting state.
// Applying the same (epoch, content) twice is a no-op: a stale or
// duplicate UPDATE whose epoch is not newer than the page's current
// epoch is ignored.
func (p *Page) ApplyUpdate(content [Size]byte, newState State, epoch uint64) (applied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != 0 && epoch <= p.epoch && p.state != Invalid {
		return false
	}
	p.content = content
	p.state = newState
	if epoch > p.epoch {
		p.epoch = epoch
	}
	return true
}

// BeginOwnership transitions a page to state after a local allocation or
// a fault-in: OwnedWritable (after Alloc or an OWNERSHIP-REPLY) or
// CachedReadonly (after a READ-REPLY). For the two owned states it records
// the copy_set the new owner must track; for any other state it clears it.
func (p *Page) BeginOwnership(state State, copySet [][16]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	if state == OwnedWritable || state == OwnedReadonly {
		p.copySet = make(map[[16]byte]struct{}, len(copySet))
		for _, n := range copySet {
			p.copySet[n] = struct{}{}
		}
	} else {
		p.copySet = nil
	}
}

// AddReader records a node that just received a READ-REPLY copy of this
// page, so a future writer knows whom to INVALIDATE.
func (p *Page) AddReader(nid [16]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.copySet == nil {
		p.copySet = make(map[[16]byte]struct{}, 1)
	}
	p.copySet[nid] = struct{}{}
}

// CopySet returns a snapshot of the current copy set (nodes holding a
// CACHED-READONLY copy), for fanning out INVALIDATE.
func (p *Page) CopySet() [][16]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][16]byte, 0, len(p.copySet))
	for n := range p.copySet {
		out = append(out, n)
	}
	return out
}

// ClearCopySet empties the copy set once every INVALIDATE-ACK has been
// collected and ownership is about to move (or has moved) elsewhere.
func (p *Page) ClearCopySet() {
	p.mu.Lock()
	p.copySet = nil
	p.mu.Unlock()
}

// Downgrade moves an OwnedWritable page to OwnedReadonly in place, used
// when this node grants read access to another node without fully
// relinquishing ownership.
func (p *Page) Downgrade() {
	p.mu.Lock()
	if p.state == OwnedWritable {
		p.state = OwnedReadonly
	}
	p.mu.Unlock()
}

// Invalidate drops local content and marks the page Invalid, in response
// to an INVALIDATE message or after ownership transfers away.
func (p *Page) Invalidate() {
	p.mu.Lock()
	p.state = Invalid
	p.copySet = nil
	p.mu.Unlock()
}
