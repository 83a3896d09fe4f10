package page

import "testing"

func TestStateTransitions(t *testing.T) {
	home := [16]byte{1}
	p := New(0x10, home)
	if got := p.State(); got != Invalid {
		t.Fatalf("new page state = %s, want INVALID", got)
	}

	var content [Size]byte
	content[0] = 0xAB
	if !p.ApplyUpdate(content, OwnedReadonly, 1) {
		t.Fatal("first ApplyUpdate should apply")
	}
	if p.State() != OwnedReadonly {
		t.Fatalf("state after ApplyUpdate = %s, want OWNED-READONLY", p.State())
	}

	// Duplicate/stale UPDATE at the same epoch must be a no-op (property 6).
	var other [Size]byte
	other[0] = 0xFF
	if p.ApplyUpdate(other, OwnedReadonly, 1) {
		t.Fatal("stale ApplyUpdate at same epoch must not apply")
	}
	got := p.ReadCopy()
	if got[0] != 0xAB {
		t.Fatalf("stale update mutated content: got %x, want ab", got[0])
	}
}

func TestWriteRequiresOwnership(t *testing.T) {
	p := New(0x20, [16]byte{})
	if err := p.WriteAt(0, []byte{1}); err == nil {
		t.Fatal("expected error writing to a non-owned page")
	}
	p.BeginOwnership(OwnedWritable, nil)
	if err := p.WriteAt(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	c := p.ReadCopy()
	if c[0] != 1 || c[1] != 2 || c[2] != 3 {
		t.Fatalf("write did not land: %v", c[:3])
	}
}

func TestCopySetAndInvalidate(t *testing.T) {
	p := New(0x30, [16]byte{})
	p.BeginOwnership(OwnedWritable, nil)
	r1 := [16]byte{1}
	r2 := [16]byte{2}
	p.AddReader(r1)
	p.AddReader(r2)
	cs := p.CopySet()
	if len(cs) != 2 {
		t.Fatalf("CopySet len = %d, want 2", len(cs))
	}
	p.ClearCopySet()
	if len(p.CopySet()) != 0 {
		t.Fatal("ClearCopySet did not clear")
	}
	p.Invalidate()
	if p.State() != Invalid {
		t.Fatalf("state after Invalidate = %s, want INVALID", p.State())
	}
}

func TestStoreGetOrCreateIsIdempotent(t *testing.T) {
	s := NewStore()
	home := [16]byte{9}
	p1 := s.GetOrCreate(0x40, home)
	p2 := s.GetOrCreate(0x40, home)
	if p1 != p2 {
		t.Fatal("GetOrCreate returned distinct pages for the same address")
	}
	if _, err := s.Get(0x41); err != ErrNotResident {
		t.Fatalf("Get on unknown address: err = %v, want ErrNotResident", err)
	}
}

func TestStoreCacheEviction(t *testing.T) {
	s := NewStore()
	for i := 0; i < cachedCapacity+10; i++ {
		idx := uintptr(i + 1)
		p := s.GetOrCreate(idx, [16]byte{})
		p.BeginOwnership(CachedReadonly, nil)
		s.NoteCachedReadonly(idx)
	}
	evicted, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if evicted.State() != Invalid {
		t.Fatalf("oldest cached page should have been evicted to INVALID, got %s", evicted.State())
	}
}
