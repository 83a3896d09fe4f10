package memory

import (
	"context"
	"sync/atomic"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/page"
)

// allocCounters tracks the next free index per allocation class, giving
// Accessor.Alloc its "atomically reserves an address, monotonic per
// process" guarantee. One Accessor is scoped to one process's address
// space (see internal/process.Process.Mem), so a process-wide monotonic
// counter is exactly a per-Accessor one.
type allocCounters struct {
	next [4]atomic.Uint64 // indexed by addr.AllocClass; index 0 reserved unused for AllocNone
}

// Alloc reserves a fresh vaddr in class and creates a locally owned,
// writable page for it. size is currently advisory: every page is the
// fixed page.Size; a larger allocation would span multiple pages, which
// this core does not yet implement.
func (a *Accessor) Alloc(class addr.AllocClass, size int) addr.VAddr {
	idx := a.allocCounters.next[class].Add(1)
	v := addr.NewVAddr(class, idx)
	p := a.pages.GetOrCreate(v.Index(), a.self)
	p.BeginOwnership(page.OwnedWritable, nil)
	return v
}

// Free marks an allocation as unreferenced: it drops v's page from
// read-cache tracking and invalidates the local copy at once. The page
// record stays in the store, no INVALIDATE is sent to the nodes in its
// copy_set, and no memory is reclaimed.
func (a *Accessor) Free(v addr.VAddr) {
	p, err := a.pages.Get(uintptr(v.Index()))
	if err != nil {
		return
	}
	a.pages.ForgetCached(v.Index())
	p.Invalidate()
}

// Own pulls ownership of v to this node; it may suspend while the
// coherence protocol runs.
func (a *Accessor) Own(ctx context.Context, v addr.VAddr, homeHint addr.NID) (*page.Page, error) {
	return a.EnsureWritable(ctx, uintptr(v.Index()), homeHint)
}

// Snapshot returns v's current page content and epoch without running
// the coherence protocol, for the warp path's step-2 warp-set
// enumeration: a thread only ever names a page in its
// warp set if it's already resident locally, since the interpreter
// would otherwise have faulted on it first.
func (a *Accessor) Snapshot(v addr.VAddr) (content [page.Size]byte, epoch uint64, ok bool) {
	p, err := a.pages.Get(uintptr(v.Index()))
	if err != nil || p.State() == page.Invalid {
		return content, 0, false
	}
	return p.ReadCopy(), p.Epoch(), true
}

// Adopt installs an inbound warp page as locally owned, the destination
// half's counterpart to the source's release-on-send in Free.
func (a *Accessor) Adopt(v addr.VAddr, content [page.Size]byte, epoch uint64) {
	p := a.pages.GetOrCreate(v.Index(), a.self)
	p.ApplyUpdate(content, page.OwnedWritable, epoch)
	p.BeginOwnership(page.OwnedWritable, nil)
	p.SetHomeHint(a.self)
}

// Publish broadcasts an UPDATE to v's copy_set after a write batch.
func (a *Accessor) Publish(v addr.VAddr) error {
	p, err := a.pages.Get(uintptr(v.Index()))
	if err != nil {
		return err
	}
	if p.State() != page.OwnedWritable && p.State() != page.OwnedReadonly {
		return nil // nothing to publish: we don't own it
	}
	content := p.ReadCopy()
	epoch := p.Epoch()
	for _, nid := range p.CopySet() {
		nidAddr := addr.NID(nid)
		_ = a.send(nidAddr, Message{
			Kind: KindUpdate, From: a.self, To: nidAddr,
			Addr: uint64(v.Index()), Epoch: epoch, Content: content[:],
		})
	}
	return nil
}
