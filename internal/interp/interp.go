// Package interp implements the C5 Interpreter: decoding
// and executing the instruction set against a Process's function/type
// tables, through the Accessor, with φ resolution, exception
// propagation, and the four suspension points.
//
// Grounded on racedetector's cmd/racedetector/instrument package for its
// "walk a structured program representation, dispatch per node kind"
// shape (there: an AST visitor; here: a flat basic-block/opcode
// dispatch loop) and on internal/race/detector.Detector for the
// two-tier "try the fast path, fall back to a slower path that can
// suspend" structure already adapted for coherence in
// internal/memory.Accessor.
package interp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/builtin"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/memory"
	"github.com/processwarp/core/internal/process"
)

// Error kinds from not already defined by a lower component.
var (
	ErrInvalidOpcode  = errors.New("interp: invalid opcode")
	ErrInvalidType    = errors.New("interp: invalid type")
	ErrArithmeticTrap = errors.New("interp: arithmetic trap")
)

// quantum bounds how many instructions a single Step call executes
// before yielding back to the scheduler.
const quantum = 4096

// Interpreter executes one Process's instruction stream.
type Interpreter struct {
	Builtins *builtin.Registry
}

// New creates an Interpreter bound to a builtin registry.
func New(b *builtin.Registry) *Interpreter { return &Interpreter{Builtins: b} }

// Step implements process.StepFunc: run thread t for up to one quantum.
func (in *Interpreter) Step(ctx context.Context, p *process.Process, t *process.Thread) (process.Outcome, error) {
	for i := 0; i < quantum; i++ {
		if t.Status != process.Normal {
			return process.Running, nil
		}
		outcome, yield, err := in.execOne(ctx, p, t)
		if err != nil {
			t.Status = process.Error
			t.Fault = err
			return process.ErrorOutcome, err
		}
		if yield {
			return outcome, nil
		}
		if outcome == process.FinishOutcome {
			t.Status = process.Finish
			return process.FinishOutcome, nil
		}
	}
	return process.Running, nil // quantum expired: suspension point (d)
}

// execOne decodes and executes a single instruction. yield is true at
// any of the four suspension points, in which case the frame's pc is
// left unchanged so the same instruction re-executes on resume.
func (in *Interpreter) execOne(ctx context.Context, p *process.Process, t *process.Thread) (outcome process.Outcome, yield bool, err error) {
	frame := t.Top()
	fn, ok := p.Function(frame.FuncAddr)
	if !ok {
		return process.ErrorOutcome, false, fmt.Errorf("%w: function %v not in table", ErrInvalidOpcode, frame.FuncAddr)
	}
	block, offset := code.DecodePC(frame.PC)
	if block >= len(fn.BasicBlocks) || offset >= len(fn.BasicBlocks[block].Instructions) {
		return process.ErrorOutcome, false, fmt.Errorf("%w: pc out of range", ErrInvalidOpcode)
	}
	instr := fn.BasicBlocks[block].Instructions[offset]

	advance := func() { frame.PC = code.PC(block, offset+1) }

	switch instr.Op {
	case code.OpNop:
		advance()
		return process.Running, false, nil

	case code.OpAddI32, code.OpSubI32, code.OpMulI32, code.OpDivI32,
		code.OpAddI64, code.OpSubI64, code.OpMulI64, code.OpDivI64,
		code.OpAnd, code.OpOr, code.OpXor, code.OpShl, code.OpLShr, code.OpAShr,
		code.OpICmpEq, code.OpICmpLt:
		return in.execArith(ctx, p, t, frame, instr, advance)

	case code.OpLoad:
		return in.execLoad(ctx, p, frame, instr, advance)
	case code.OpStore:
		return in.execStore(ctx, p, frame, instr, advance)
	case code.OpAlloca:
		return in.execAlloca(ctx, p, frame, instr, advance)

	case code.OpBr:
		takePhi(frame, block)
		frame.PC = code.PC(int(instr.Imm), 0)
		return process.Running, false, nil
	case code.OpBrCond:
		return in.execBrCond(ctx, p, frame, block, instr)
	case code.OpPhi:
		return in.execPhi(ctx, p, frame, instr, advance)

	case code.OpCall:
		return in.execCall(p, t, frame, block, offset, instr)
	case code.OpRet:
		return in.execRet(ctx, p, t, frame, instr)
	case code.OpInvoke:
		return in.execCall(p, t, frame, block, offset, instr) // landing pad recorded by the caller via UnwindPC
	case code.OpResume:
		if t.Unwind() {
			return process.Running, false, nil
		}
		return process.ErrorOutcome, false, fmt.Errorf("%w: resume with no landing pad", ErrArithmeticTrap)
	case code.OpSwitch:
		return in.execSwitch(ctx, p, frame, block, instr)

	case code.OpExtractValue:
		return in.execExtractValue(ctx, p, frame, instr, advance)
	case code.OpInsertValue:
		return in.execInsertValue(ctx, p, frame, instr, advance)

	case code.OpMemcpy, code.OpMemset, code.OpMemmove,
		code.OpOverflowSAdd, code.OpOverflowSSub, code.OpOverflowSMul,
		code.OpOverflowUAdd, code.OpOverflowUSub, code.OpOverflowUMul:
		return in.execIntrinsic(ctx, p, t, frame, instr, advance)

	case code.OpBuiltinCall, code.OpFFICall:
		return in.execBuiltin(ctx, p, t, frame, instr, advance)

	default:
		return process.ErrorOutcome, false, fmt.Errorf("%w: opcode %d", ErrInvalidOpcode, instr.Op)
	}
}

func widthBytes(w code.Width) int {
	switch w {
	case code.Width8:
		return 1
	case code.Width16:
		return 2
	case code.Width32:
		return 4
	case code.Width64:
		return 8
	default:
		return 8
	}
}

func (in *Interpreter) readOperand(ctx context.Context, p *process.Process, frame *process.StackInfo, v addr.VAddr, w code.Width) (uint64, bool, error) {
	return in.readOperandAt(ctx, p, v, 0, w)
}

// readOperandAt is readOperand generalized to a byte offset within the
// page backing v, for the aggregate instructions (extractvalue reads a
// field that isn't at the page's start).
func (in *Interpreter) readOperandAt(ctx context.Context, p *process.Process, v addr.VAddr, offset int, w code.Width) (uint64, bool, error) {
	pg, err := p.Mem.EnsureReadable(ctx, uintptr(v.Index()), p.Master)
	if err != nil {
		// A bare context.DeadlineExceeded here means the *caller's* ctx
		// (this quantum's budget) ran out mid-request, not that the
		// coherence protocol gave up — that's still worth a fresh attempt
		// next quantum. EnsureReadable already exhausts its own retries
		// before ever returning, so a wrapped ErrCoherenceFault is
		// terminal: surface it so the thread transitions to ERROR instead
		// of re-executing the same instruction forever.
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, memory.ErrCoherenceFault) {
			return 0, true, nil
		}
		return 0, false, err
	}
	data, err := p.Mem.Read(pg, offset, widthBytes(w))
	if err != nil {
		return 0, false, err
	}
	return leToUint(data), false, nil
}

func (in *Interpreter) writeOperand(ctx context.Context, p *process.Process, v addr.VAddr, w code.Width, value uint64) (bool, error) {
	return in.writeOperandAt(ctx, p, v, 0, w, value)
}

// writeOperandAt is writeOperand generalized to a byte offset within the
// page backing v, for insertvalue writing a field in place.
func (in *Interpreter) writeOperandAt(ctx context.Context, p *process.Process, v addr.VAddr, offset int, w code.Width, value uint64) (bool, error) {
	pg, err := p.Mem.EnsureWritable(ctx, uintptr(v.Index()), p.Master)
	if err != nil {
		// See readOperand: only the caller's own ctx expiring is transient.
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, memory.ErrCoherenceFault) {
			return true, nil
		}
		return false, err
	}
	buf := uintToLE(value, widthBytes(w))
	if err := p.Mem.Write(pg, offset, buf); err != nil {
		return false, err
	}
	return false, nil
}

func leToUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func uintToLE(v uint64, n int) []byte {
	buf := make([]byte, n)
	switch n {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	default:
		binary.LittleEndian.PutUint64(buf, v)
	}
	return buf
}
