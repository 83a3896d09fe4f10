package page

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotResident is returned when a caller asks for a page this store has
// never heard of (neither resident nor known-invalid placeholder).
var ErrNotResident = errors.New("page: address not resident in this store")

// cachedCapacity bounds how many CACHED-READONLY pages a single node keeps
// around before evicting the least-recently-used one back to Invalid.
// OWNED-* pages are never evicted: eviction only ever drops a read-only
// copy that the true owner can always resend.
const cachedCapacity = 4096

// Store is one node's page table: every vaddr index this node has ever
// touched, mapped to its Page.
//
// Grounded on racedetector's shadowmem.ShadowMemory: a sync.Map keyed by
// address, with a fast Load-first / LoadOrStore-fallback GetOrCreate. The
// addition here — an LRU over the CACHED-READONLY subset — answers
// Non-goal "page eviction policy is unspecified" with a
// concrete, boundedly-memoried mechanism.
type Store struct {
	cells sync.Map // uintptr (vaddr index) -> *Page

	cacheMu sync.Mutex
	cache   *lru.Cache[uintptr, struct{}] // tracks CACHED-READONLY residency for eviction
	evict   func(index uintptr)           // unused: eviction runs through the callback NewStore passes to lru.NewWithEvict
}

// NewStore creates an empty page store.
func NewStore() *Store {
	s := &Store{}
	c, _ := lru.NewWithEvict(cachedCapacity, func(index uintptr, _ struct{}) {
		if v, ok := s.cells.Load(index); ok {
			v.(*Page).Invalidate()
		}
	})
	s.cache = c
	return s
}

// GetOrCreate returns the Page for a vaddr index, creating an Invalid
// placeholder with the given home hint if this is the first time the
// store has seen this address.
func (s *Store) GetOrCreate(index uintptr, homeHint [16]byte) *Page {
	if v, ok := s.cells.Load(index); ok {
		return v.(*Page)
	}
	p := New(index, homeHint)
	actual, loaded := s.cells.LoadOrStore(index, p)
	if loaded {
		return actual.(*Page)
	}
	return p
}

// Get returns the Page for a vaddr index if this store already knows
// about it.
func (s *Store) Get(index uintptr) (*Page, error) {
	v, ok := s.cells.Load(index)
	if !ok {
		return nil, ErrNotResident
	}
	return v.(*Page), nil
}

// Put installs a fully formed page directly (used for process/thread
// control-block pages created locally, and in tests).
func (s *Store) Put(p *Page) {
	s.cells.Store(p.Addr, p)
}

// NoteCachedReadonly records that index now holds a CACHED-READONLY copy,
// feeding the LRU that bounds total read-cache residency. Call this right
// after a page transitions into CachedReadonly.
func (s *Store) NoteCachedReadonly(index uintptr) {
	s.cacheMu.Lock()
	s.cache.Add(index, struct{}{})
	s.cacheMu.Unlock()
}

// ForgetCached removes index from LRU tracking, e.g. because it was
// invalidated or promoted to ownership through a path other than eviction.
func (s *Store) ForgetCached(index uintptr) {
	s.cacheMu.Lock()
	s.cache.Remove(index)
	s.cacheMu.Unlock()
}

// Len reports how many addresses this store has ever touched (resident or
// Invalid placeholder), mainly for diagnostics and tests.
func (s *Store) Len() int {
	n := 0
	s.cells.Range(func(_, _ any) bool { n++; return true })
	return n
}
