package interp

import (
	"context"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/process"
)

// execLoad implements typed memory load: read the value
// at instr.Addr, write it to instr.Output.
func (in *Interpreter) execLoad(ctx context.Context, p *process.Process, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
	val, blocked, err := in.readOperand(ctx, p, frame, instr.Addr, instr.Width)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	blocked, err = in.writeOperand(ctx, p, instr.Output, instr.Width, val)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	advance()
	return process.Running, false, nil
}

// execStore implements the typed memory store: write instr.Value to the
// address named by instr.Addr.
func (in *Interpreter) execStore(ctx context.Context, p *process.Process, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
	val, blocked, err := in.readOperand(ctx, p, frame, instr.Value, instr.Width)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	blocked, err = in.writeOperand(ctx, p, instr.Addr, instr.Width, val)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	advance()
	return process.Running, false, nil
}

// execAlloca implements `alloca`: reserves a fresh stack-class vaddr with
// a page of its own (not space inside the frame's StackAddr page), passing
// instr.Imm as the size, and writes the new vaddr itself (as a 64-bit
// value) to instr.Output.
func (in *Interpreter) execAlloca(ctx context.Context, p *process.Process, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
	v := p.Mem.Alloc(addr.AllocStack, int(instr.Imm))
	blocked, err := in.writeOperand(ctx, p, instr.Output, code.Width64, uint64(v))
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	advance()
	return process.Running, false, nil
}
