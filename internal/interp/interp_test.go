package interp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/builtin"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/memory"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/transport"
)

func newTestProcess(t *testing.T) *process.Process {
	t.Helper()
	self := addr.NewNID()
	hub := transport.NewHub()
	store := page.NewStore()
	mem := memory.New(self, store, hub.Endpoint(self))
	return process.New(addr.NewVPID(), self, mem)
}

func writeU32(t *testing.T, p *process.Process, v addr.VAddr, value uint32) {
	t.Helper()
	pg, err := p.Mem.EnsureWritable(context.Background(), uintptr(v.Index()), p.Master)
	if err != nil {
		t.Fatalf("EnsureWritable: %v", err)
	}
	buf := []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	if err := p.Mem.Write(pg, 0, buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// TestInterpreterLocalAdd is scenario E1: a program whose entry
// computes int32 add(5, 7) and returns; the thread must reach FINISH
// with exit code 12.
func TestInterpreterLocalAdd(t *testing.T) {
	p := newTestProcess(t)

	five := p.Mem.Alloc(addr.AllocHeap, 4)
	seven := p.Mem.Alloc(addr.AllocHeap, 4)
	sum := p.Mem.Alloc(addr.AllocHeap, 4)
	writeU32(t, p, five, 5)
	writeU32(t, p, seven, 7)

	entry := addr.NewVAddr(addr.AllocMeta, 1)
	fn := &code.Function{
		Addr: entry,
		Name: "add_entry",
		BasicBlocks: []code.BasicBlock{{
			Instructions: []code.Instruction{
				{Op: code.OpAddI32, Width: code.Width32, Value: five, Addr: seven, Output: sum},
				{Op: code.OpRet, Width: code.Width32, Value: sum},
			},
		}},
	}
	p.LoadFunction(fn)

	stackPage := p.Mem.Alloc(addr.AllocStack, page.Size)
	th := process.NewThread(p.NewVTID(), entry, stackPage)
	th.Status = process.Normal
	p.AddThread(th, true)

	in := New(builtin.NewRegistry(nil))
	outcome, err := p.Tick(context.Background(), in.Step)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if outcome != process.FinishOutcome {
		t.Fatalf("outcome = %v, want FinishOutcome", outcome)
	}
	if th.Status != process.Finish {
		t.Fatalf("thread status = %v, want Finish", th.Status)
	}
	if th.ExitCode != 12 {
		t.Fatalf("exit code = %d, want 12", th.ExitCode)
	}
}

// TestInterpreterBrCondTakesTrueBranch exercises execBrCond and the
// quantum loop spanning two basic blocks.
func TestInterpreterBrCondTakesTrueBranch(t *testing.T) {
	p := newTestProcess(t)

	cond := p.Mem.Alloc(addr.AllocHeap, 1)
	trueVal := p.Mem.Alloc(addr.AllocHeap, 4)
	falseVal := p.Mem.Alloc(addr.AllocHeap, 4)
	writeU32(t, p, cond, 1)
	writeU32(t, p, trueVal, 99)
	writeU32(t, p, falseVal, 0)

	entry := addr.NewVAddr(addr.AllocMeta, 1)
	fn := &code.Function{
		Addr: entry,
		BasicBlocks: []code.BasicBlock{
			{Instructions: []code.Instruction{
				{Op: code.OpBrCond, Value: cond, Targets: []int{1, 2}},
			}},
			{Instructions: []code.Instruction{ // true branch: result = 99
				{Op: code.OpRet, Width: code.Width32, Value: trueVal},
			}},
			{Instructions: []code.Instruction{ // false branch: result = 0
				{Op: code.OpRet, Width: code.Width32, Value: falseVal},
			}},
		},
	}
	p.LoadFunction(fn)

	stackPage := p.Mem.Alloc(addr.AllocStack, page.Size)
	th := process.NewThread(p.NewVTID(), entry, stackPage)
	th.Status = process.Normal
	p.AddThread(th, true)

	in := New(builtin.NewRegistry(nil))
	outcome, err := p.Tick(context.Background(), in.Step)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if outcome != process.FinishOutcome {
		t.Fatalf("outcome = %v, want FinishOutcome", outcome)
	}
	if th.ExitCode != 99 {
		t.Fatalf("exit code = %d, want 99 (true branch taken)", th.ExitCode)
	}
}

// TestInterpreterExtractInsertValue exercises the aggregate family:
// extractvalue reads a struct field out of memory, insertvalue writes a
// replacement field back in place.
func TestInterpreterExtractInsertValue(t *testing.T) {
	p := newTestProcess(t)

	// { i32, i32 } laid out at offsets 0 and 4.
	structType := addr.NewVAddr(addr.AllocMeta, 2)
	p.LoadType(&code.TypeDesc{
		Addr:   structType,
		Kind:   code.TypeStruct,
		Size:   8,
		Fields: []uint32{0, 4},
	})

	// A VAddr names one page; the struct's two i32 fields live at byte
	// offsets 0 and 4 within that single page, per Fields above.
	agg := p.Mem.Alloc(addr.AllocHeap, 8)
	aggPage, err := p.Mem.EnsureWritable(context.Background(), uintptr(agg.Index()), p.Master)
	if err != nil {
		t.Fatalf("EnsureWritable: %v", err)
	}
	if err := p.Mem.Write(aggPage, 0, []byte{11, 0, 0, 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Mem.Write(aggPage, 4, []byte{22, 0, 0, 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	extracted := p.Mem.Alloc(addr.AllocHeap, 4)
	newField := p.Mem.Alloc(addr.AllocHeap, 4)
	writeU32(t, p, newField, 77)
	result := p.Mem.Alloc(addr.AllocHeap, 4)

	entry := addr.NewVAddr(addr.AllocMeta, 1)
	fn := &code.Function{
		Addr: entry,
		Name: "aggregate_entry",
		BasicBlocks: []code.BasicBlock{{
			Instructions: []code.Instruction{
				// extracted = agg.1 (want 22)
				{Op: code.OpExtractValue, Width: code.Width32, Type: structType, Addr: agg, Output: extracted, Imm: 1},
				// agg.0 = 77
				{Op: code.OpInsertValue, Width: code.Width32, Type: structType, Addr: agg, Value: newField, Imm: 0},
				// result = agg.0 (want 77, confirming the in-place write)
				{Op: code.OpExtractValue, Width: code.Width32, Type: structType, Addr: agg, Output: result, Imm: 0},
				{Op: code.OpRet, Width: code.Width32, Value: result},
			},
		}},
	}
	p.LoadFunction(fn)

	stackPage := p.Mem.Alloc(addr.AllocStack, page.Size)
	th := process.NewThread(p.NewVTID(), entry, stackPage)
	th.Status = process.Normal
	p.AddThread(th, true)

	in := New(builtin.NewRegistry(nil))
	outcome, err := p.Tick(context.Background(), in.Step)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if outcome != process.FinishOutcome {
		t.Fatalf("outcome = %v, want FinishOutcome", outcome)
	}
	if th.ExitCode != 77 {
		t.Fatalf("exit code = %d, want 77 (insertvalue wrote in place)", th.ExitCode)
	}

	pg, err := p.Mem.EnsureReadable(context.Background(), uintptr(extracted.Index()), p.Master)
	if err != nil {
		t.Fatalf("EnsureReadable: %v", err)
	}
	data, err := p.Mem.Read(pg, 0, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	if got != 22 {
		t.Fatalf("extractvalue field 1 = %d, want 22", got)
	}
}

// TestInterpreterCoherenceFaultRaisesError is the counterpart to the
// blocked-vs-fault fix in readOperand/writeOperand: an operand vaddr
// whose home is unreachable must exhaust EnsureReadable's retries and
// surface a terminal ErrCoherenceFault as a thread error, not spin
// forever reinterpreting it as WOULD-BLOCK.
func TestInterpreterCoherenceFaultRaisesError(t *testing.T) {
	p := newTestProcess(t)

	// A vaddr homed at a peer nobody is listening for: Hub silently
	// drops sends to unknown NIDs, so every fault-in round times out and
	// EnsureReadable exhausts its retries into ErrCoherenceFault.
	unreachable := addr.NewNID()
	stale := addr.NewVAddr(addr.AllocHeap, 0xdead)
	p.Master = unreachable

	sum := p.Mem.Alloc(addr.AllocHeap, 4)

	entry := addr.NewVAddr(addr.AllocMeta, 1)
	fn := &code.Function{
		Addr: entry,
		Name: "fault_entry",
		BasicBlocks: []code.BasicBlock{{
			Instructions: []code.Instruction{
				{Op: code.OpAddI32, Width: code.Width32, Value: stale, Addr: stale, Output: sum},
				{Op: code.OpRet, Width: code.Width32, Value: sum},
			},
		}},
	}
	p.LoadFunction(fn)

	stackPage := p.Mem.Alloc(addr.AllocStack, page.Size)
	th := process.NewThread(p.NewVTID(), entry, stackPage)
	th.Status = process.Normal
	p.AddThread(th, true)

	in := New(builtin.NewRegistry(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := p.Tick(ctx, in.Step)
	if err == nil {
		t.Fatal("expected a coherence-fault error, got nil")
	}
	if !errors.Is(err, memory.ErrCoherenceFault) {
		t.Fatalf("error = %v, want wrapped ErrCoherenceFault", err)
	}
	if outcome != process.ErrorOutcome {
		t.Fatalf("outcome = %v, want ErrorOutcome", outcome)
	}
}
