package interp

import (
	"context"
	"errors"

	"github.com/processwarp/core/internal/builtin"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/memory"
	"github.com/processwarp/core/internal/process"
)

// argBytes reads up to maxLen bytes of a builtin/FFI call's packed
// argument block starting at v, or nil if v is addr.VAddrNone (a
// zero-argument call like nop/abort). Blocked is true at the Accessor's
// FAULT-READ suspension point.
func (in *Interpreter) argBytes(ctx context.Context, p *process.Process, v interface {
	IsNone() bool
	Index() uint64
}, maxLen int) ([]byte, bool, error) {
	if v.IsNone() {
		return nil, false, nil
	}
	pg, err := p.Mem.EnsureReadable(ctx, uintptr(v.Index()), p.Master)
	if err != nil {
		// Same distinction readOperand makes: a bare context.DeadlineExceeded
		// is the caller's own budget running out, not the coherence protocol
		// giving up (EnsureReadable already exhausted its retries before a
		// wrapped ErrCoherenceFault is ever returned).
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, memory.ErrCoherenceFault) {
			return nil, true, nil
		}
		return nil, false, err
	}
	data, err := p.Mem.Read(pg, 0, maxLen)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// applyReturnCode folds a builtin's return code into an
// interpreter outcome: Normal/Retry advance or retry the current
// instruction, Wait suspends the thread without consuming the quantum,
// FinishThread ends the thread, and ErrorCode either unwinds to a
// landing pad or, failing that, faults the thread.
func applyReturnCode(t *process.Thread, rc builtin.ReturnCode, callErr error, advance func()) (process.Outcome, bool, error) {
	switch rc {
	case builtin.Normal:
		advance()
		return process.Running, false, nil
	case builtin.Retry:
		return process.Running, true, nil
	case builtin.Wait:
		t.Status = process.WaitBuiltin
		return process.Running, true, nil
	case builtin.FinishThread:
		return process.FinishOutcome, false, nil
	default: // builtin.ErrorCode
		if t.Unwind() {
			return process.Running, false, nil
		}
		return process.ErrorOutcome, false, callErr
	}
}

// argBlockSize bounds how much of an argument page a builtin call reads;
// every builtin this core ships with needs far less than one page.
const argBlockSize = 256

// execBuiltin bridges OpBuiltinCall/OpFFICall to the builtin registry.
// instr.Str names the builtin (BuiltinCall) or the application-visible
// FFI name (FFICall, where the registry's single "ffi_call" entry point
// re-splits name from payload per its own calling convention).
func (in *Interpreter) execBuiltin(ctx context.Context, p *process.Process, t *process.Thread, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
	args, blocked, err := in.argBytes(ctx, p, instr.Value, argBlockSize)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}

	name := instr.Str
	if instr.Op == code.OpFFICall {
		name = "ffi_call"
		args = append([]byte(instr.Str+"\x00"), args...)
	}

	rc, callErr := in.Builtins.Invoke(name, &builtin.Call{
		Ctx: ctx, Process: p, Thread: t, Mem: p.Mem, Args: args, Output: instr.Output,
	})
	return applyReturnCode(t, rc, callErr, advance)
}
