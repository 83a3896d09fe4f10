package builtin

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/memory"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/transport"
)

func newTestCall(t *testing.T, args []byte) (*Call, *page.Page) {
	t.Helper()
	self := addr.NewNID()
	hub := transport.NewHub()
	store := page.NewStore()
	mem := memory.New(self, store, hub.Endpoint(self))
	out := addr.NewVAddr(addr.AllocHeap, 1)
	p := store.GetOrCreate(out.Index(), [16]byte{})
	p.BeginOwnership(page.OwnedWritable, nil)
	return &Call{Ctx: context.Background(), Mem: mem, Args: args, Output: out}, p
}

// TestOverflowE2 is scenario E2.
func TestOverflowE2(t *testing.T) {
	r := NewRegistry(nil)

	args := make([]byte, 4)
	binary.LittleEndian.PutUint16(args[0:2], 0x7FFF)
	binary.LittleEndian.PutUint16(args[2:4], 1)
	call, p := newTestCall(t, args)
	rc, err := r.Invoke("llvm.sadd.with.overflow.i16", call)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if rc != Normal {
		t.Fatalf("return code = %v, want Normal", rc)
	}
	got := p.ReadCopy()
	if got[0] != 0x00 || got[1] != 0x80 || got[2] != 0xff {
		t.Fatalf("0x7FFF+1 i16 = % x, want 00 80 ff", got[:3])
	}

	binary.LittleEndian.PutUint16(args[0:2], 1)
	binary.LittleEndian.PutUint16(args[2:4], 1)
	call2, p2 := newTestCall(t, args)
	if _, err := r.Invoke("llvm.sadd.with.overflow.i16", call2); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	got2 := p2.ReadCopy()
	if got2[0] != 0x02 || got2[1] != 0x00 || got2[2] != 0x00 {
		t.Fatalf("1+1 i16 = % x, want 02 00 00", got2[:3])
	}
}

// TestOverflowUnsignedAddAgreesWithTruncation is property 5 for uadd.i32
// over a handful of edge cases: the result must equal the sum computed in
// uint64 and truncated to 32 bits, and the flag must be set exactly when
// that sum does not fit.
func TestOverflowUnsignedAddAgreesWithTruncation(t *testing.T) {
	r := NewRegistry(nil)
	cases := []struct{ a, b uint32 }{
		{0, 0}, {1, 1}, {math.MaxUint32, 1}, {math.MaxUint32, 0}, {1 << 30, 1 << 30}, {1<<31 - 1, 2},
	}
	for _, c := range cases {
		args := make([]byte, 8)
		binary.LittleEndian.PutUint32(args[0:4], c.a)
		binary.LittleEndian.PutUint32(args[4:8], c.b)
		call, p := newTestCall(t, args)
		if _, err := r.Invoke("llvm.uadd.with.overflow.i32", call); err != nil {
			t.Fatalf("invoke: %v", err)
		}
		want := uint64(c.a) + uint64(c.b)
		wantOverflow := want > math.MaxUint32
		got := p.ReadCopy()
		gotResult := binary.LittleEndian.Uint32(got[:4])
		gotFlag := got[4]
		if gotResult != uint32(want) {
			t.Fatalf("%d+%d result = %d, want %d", c.a, c.b, gotResult, uint32(want))
		}
		wantFlag := byte(0x00)
		if wantOverflow {
			wantFlag = 0xff
		}
		if gotFlag != wantFlag {
			t.Fatalf("%d+%d flag = %#x, want %#x", c.a, c.b, gotFlag, wantFlag)
		}
	}
}

// TestOverflowSignedAddSubDetectsOverflowAtWidth64 guards against a
// regression where sadd/ssub at width 64 computed the result in native
// int64 arithmetic (silently wrapping) and then range-checked it against
// the full int64 range — a check that can never fail.
func TestOverflowSignedAddSubDetectsOverflowAtWidth64(t *testing.T) {
	r := NewRegistry(nil)

	args := make([]byte, 16)
	binary.LittleEndian.PutUint64(args[0:8], uint64(math.MaxInt64))
	binary.LittleEndian.PutUint64(args[8:16], uint64(int64(1)))
	call, p := newTestCall(t, args)
	if _, err := r.Invoke("llvm.sadd.with.overflow.i64", call); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	got := p.ReadCopy()
	if got[8] != 0xff {
		t.Fatalf("MaxInt64+1 i64 flag = %#x, want overflow", got[8])
	}

	args2 := make([]byte, 16)
	binary.LittleEndian.PutUint64(args2[0:8], uint64(math.MinInt64))
	binary.LittleEndian.PutUint64(args2[8:16], uint64(int64(1)))
	call2, p2 := newTestCall(t, args2)
	if _, err := r.Invoke("llvm.ssub.with.overflow.i64", call2); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	got2 := p2.ReadCopy()
	if got2[8] != 0xff {
		t.Fatalf("MinInt64-1 i64 flag = %#x, want overflow", got2[8])
	}

	args3 := make([]byte, 16)
	binary.LittleEndian.PutUint64(args3[0:8], uint64(int64(5)))
	binary.LittleEndian.PutUint64(args3[8:16], uint64(int64(3)))
	call3, p3 := newTestCall(t, args3)
	if _, err := r.Invoke("llvm.sadd.with.overflow.i64", call3); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	got3 := p3.ReadCopy()
	if got3[8] != 0x00 {
		t.Fatalf("5+3 i64 flag = %#x, want no overflow", got3[8])
	}
	if gotResult := binary.LittleEndian.Uint64(got3[:8]); gotResult != 8 {
		t.Fatalf("5+3 i64 result = %d, want 8", gotResult)
	}
}

func TestOverflowSignedMulDetectsOverflow(t *testing.T) {
	r := NewRegistry(nil)
	args := make([]byte, 16)
	binary.LittleEndian.PutUint64(args[0:8], uint64(int64(1)<<40))
	binary.LittleEndian.PutUint64(args[8:16], uint64(int64(1)<<40))
	call, p := newTestCall(t, args)
	if _, err := r.Invoke("llvm.smul.with.overflow.i64", call); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	got := p.ReadCopy()
	if got[8] != 0xff {
		t.Fatalf("(1<<40)*(1<<40) i64 flag = %#x, want overflow", got[8])
	}
}
