package warp

import (
	"reflect"
	"testing"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/process"
)

// TestThreadSetRoundTrip is property 4: encoding then decoding a
// ThreadSet reproduces it field for field, frames and page table
// included.
func TestThreadSetRoundTrip(t *testing.T) {
	var content [page.Size]byte
	content[0] = 0xAB
	content[page.Size-1] = 0xCD

	ts := ThreadSet{
		VTID:   7,
		Status: process.AfterWarp,
		TLS:    addr.NewVAddr(addr.AllocHeap, 3),
		Stack: []process.StackInfo{
			{
				FuncAddr: addr.NewVAddr(addr.AllocMeta, 1),
				RetAddr:  addr.NewVAddr(addr.AllocHeap, 2),
				NormalPC: 0x10,
				UnwindPC: 0x20,
				StackAddr: addr.NewVAddr(addr.AllocStack, 4),
				VarArg:   addr.VAddrNone,
				PC:       0x0000000a_0000000b,
				Phi0:     1,
				Phi1:     2,
			},
		},
		Pages: []PageRecord{
			{Index: 4, Class: addr.AllocStack, Epoch: 5, Bytes: content},
		},
	}

	encoded := EncodeThreadSet(ts)
	decoded, err := DecodeThreadSet(encoded)
	if err != nil {
		t.Fatalf("DecodeThreadSet: %v", err)
	}
	if !reflect.DeepEqual(ts, decoded) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", decoded, ts)
	}
}

// TestThreadSetRoundTripEmpty exercises the zero-frame, zero-page case
// (a thread with no stack-reachable pages yet, e.g. right after entry).
func TestThreadSetRoundTripEmpty(t *testing.T) {
	ts := ThreadSet{VTID: 1, Status: process.Normal, TLS: addr.VAddrNull}
	decoded, err := DecodeThreadSet(EncodeThreadSet(ts))
	if err != nil {
		t.Fatalf("DecodeThreadSet: %v", err)
	}
	if len(decoded.Stack) != 0 || len(decoded.Pages) != 0 {
		t.Fatalf("expected empty stack/pages, got %+v", decoded)
	}
	if decoded.VTID != ts.VTID || decoded.Status != ts.Status {
		t.Fatalf("decoded = %+v, want %+v", decoded, ts)
	}
}

// TestPageRecordEpochMonotonic checks the codec's share of property 3: a
// page's epoch survives encode/decode unchanged, so of two warp bodies for
// the same vaddr the later one's higher epoch is still higher once decoded.
func TestPageRecordEpochMonotonic(t *testing.T) {
	var content [page.Size]byte
	first := ThreadSet{Pages: []PageRecord{{Index: 1, Class: addr.AllocHeap, Epoch: 3, Bytes: content}}}
	second := ThreadSet{Pages: []PageRecord{{Index: 1, Class: addr.AllocHeap, Epoch: 4, Bytes: content}}}

	d1, err := DecodeThreadSet(EncodeThreadSet(first))
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	d2, err := DecodeThreadSet(EncodeThreadSet(second))
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if !(d2.Pages[0].Epoch > d1.Pages[0].Epoch) {
		t.Fatalf("epoch did not advance across warps: %d -> %d", d1.Pages[0].Epoch, d2.Pages[0].Epoch)
	}
}
