package warp

import (
	"context"
	"testing"
	"time"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/memory"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/transport"
)

// TestWarpSingleThread is scenario E5: a thread with two frames
// warps from A to B and resumes at the same pc with the same frame
// contents; A has no record of it after WARP-DONE.
func TestWarpSingleThread(t *testing.T) {
	hub := transport.NewHub()
	nidA, nidB := addr.NewNID(), addr.NewNID()
	vpid := addr.NewVPID()

	storeA := page.NewStore()
	memA := memory.New(nidA, storeA, hub.Endpoint(nidA))
	pA := process.New(vpid, nidA, memA)

	storeB := page.NewStore()
	memB := memory.New(nidB, storeB, hub.Endpoint(nidB))
	pB := process.New(vpid, nidB, memB)

	stackPage := memA.Alloc(addr.AllocStack, page.Size)
	th := process.NewThread(pA.NewVTID(), addr.NewVAddr(addr.AllocMeta, 1), stackPage)
	th.Stack[0].PC = 0x00000001_00000002 // mid-function, nonzero offset
	th.PushFrame(process.StackInfo{
		FuncAddr: addr.NewVAddr(addr.AllocMeta, 2),
		RetAddr:  addr.NewVAddr(addr.AllocHeap, 9),
		StackAddr: stackPage,
		VarArg:   addr.VAddrNone,
		PC:       0x0000000a_0000000b,
	})
	pA.AddThread(th, true)

	schedB := NewScheduler()
	schedB.Learn(vpid, nidB, true)
	coordA := NewCoordinator(nidA, hub.Endpoint(nidA), NewScheduler())

	var installed ThreadSet
	coordB := NewCoordinator(nidB, hub.Endpoint(nidB), schedB)
	coordB.Resolve = func(v addr.VPID) (*process.Process, bool) {
		if v != vpid {
			return nil, false
		}
		return pB, true
	}
	coordB.Install = func(v addr.VPID, ts ThreadSet) {
		installed = ts
		installedThread := &process.Thread{
			VTID: ts.VTID, Status: ts.Status, Stack: ts.Stack, TLS: ts.TLS,
		}
		pB.AddThread(installedThread, false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := coordA.Send(ctx, vpid, th, memA, nidB); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pA.RemoveThread(th.VTID) // step 6, performed by the node once Send succeeds

	if installed.VTID != th.VTID {
		t.Fatalf("installed vtid = %v, want %v", installed.VTID, th.VTID)
	}
	if len(installed.Stack) != 2 {
		t.Fatalf("installed frame count = %d, want 2", len(installed.Stack))
	}
	if installed.Stack[0].PC != 0x00000001_00000002 || installed.Stack[1].PC != 0x0000000a_0000000b {
		t.Fatalf("frame PCs not preserved: %+v", installed.Stack)
	}
	if installed.Status != process.Normal {
		t.Fatalf("installed status = %v, want Normal (all pages were resident)", installed.Status)
	}

	if _, ok := pA.Thread(th.VTID); ok {
		t.Fatal("A still has a record of the warped thread")
	}
	gotB, ok := pB.Thread(th.VTID)
	if !ok {
		t.Fatal("B has no record of the warped thread")
	}
	if gotB.Stack[1].StackAddr != stackPage {
		t.Fatalf("resumed frame lost its stack vaddr: got %v, want %v", gotB.Stack[1].StackAddr, stackPage)
	}
}
