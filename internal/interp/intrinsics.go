package interp

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/processwarp/core/internal/builtin"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/process"
)

// overflowName maps an overflow opcode plus the instruction's operand
// width to the registry's llvm.<op>.with.overflow.i<width> name.
func overflowName(op code.Opcode, w code.Width) (string, error) {
	var base string
	switch op {
	case code.OpOverflowSAdd:
		base = "llvm.sadd.with.overflow"
	case code.OpOverflowSSub:
		base = "llvm.ssub.with.overflow"
	case code.OpOverflowSMul:
		base = "llvm.smul.with.overflow"
	case code.OpOverflowUAdd:
		base = "llvm.uadd.with.overflow"
	case code.OpOverflowUSub:
		base = "llvm.usub.with.overflow"
	case code.OpOverflowUMul:
		base = "llvm.umul.with.overflow"
	default:
		return "", fmt.Errorf("%w: not an overflow opcode %d", ErrInvalidOpcode, op)
	}
	switch w {
	case code.Width16:
		return base + ".i16", nil
	case code.Width32:
		return base + ".i32", nil
	case code.Width64:
		return base + ".i64", nil
	default:
		return "", fmt.Errorf("%w: overflow op needs a 16/32/64-bit width, got %d", ErrInvalidOpcode, w)
	}
}

// execIntrinsic bridges the OpMemcpy/OpMemset/OpMemmove/OpOverflow*
// family to the builtin registry. memcpy/memset/memmove carry plain
// vaddr indices and a length (the registry reads/writes through the
// Accessor itself); the overflow family carries the two raw operand
// values the registry's {result,flag} builtins expect concatenated
// little-endian.
func (in *Interpreter) execIntrinsic(ctx context.Context, p *process.Process, t *process.Thread, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
	switch instr.Op {
	case code.OpMemcpy, code.OpMemmove:
		args := make([]byte, 24)
		binary.LittleEndian.PutUint64(args[0:8], instr.Addr.Index())
		binary.LittleEndian.PutUint64(args[8:16], instr.Value.Index())
		binary.LittleEndian.PutUint64(args[16:24], uint64(instr.Imm))
		name := "llvm.memcpy"
		if instr.Op == code.OpMemmove {
			name = "llvm.memmove"
		}
		rc, err := in.Builtins.Invoke(name, &builtin.Call{Ctx: ctx, Process: p, Thread: t, Mem: p.Mem, Args: args})
		return applyReturnCode(t, rc, err, advance)

	case code.OpMemset:
		if len(instr.Values) < 1 {
			return process.ErrorOutcome, false, fmt.Errorf("%w: memset needs a length in Values[0]", ErrInvalidOpcode)
		}
		args := make([]byte, 17)
		binary.LittleEndian.PutUint64(args[0:8], instr.Addr.Index())
		args[8] = byte(instr.Imm)
		binary.LittleEndian.PutUint64(args[9:17], instr.Values[0])
		rc, err := in.Builtins.Invoke("llvm.memset", &builtin.Call{Ctx: ctx, Process: p, Thread: t, Mem: p.Mem, Args: args})
		return applyReturnCode(t, rc, err, advance)

	default: // the six OpOverflow* opcodes
		lhs, blocked, err := in.readOperand(ctx, p, frame, instr.Value, instr.Width)
		if err != nil {
			return 0, false, err
		}
		if blocked {
			return process.Running, true, nil
		}
		rhs, blocked, err := in.readOperand(ctx, p, frame, instr.Addr, instr.Width)
		if err != nil {
			return 0, false, err
		}
		if blocked {
			return process.Running, true, nil
		}

		name, err := overflowName(instr.Op, instr.Width)
		if err != nil {
			return process.ErrorOutcome, false, err
		}
		n := widthBytes(instr.Width)
		args := make([]byte, 2*n)
		copy(args[0:n], uintToLE(lhs, n))
		copy(args[n:2*n], uintToLE(rhs, n))

		rc, callErr := in.Builtins.Invoke(name, &builtin.Call{
			Ctx: ctx, Process: p, Thread: t, Mem: p.Mem, Args: args, Output: instr.Output,
		})
		return applyReturnCode(t, rc, callErr, advance)
	}
}
