package interp

import (
	"context"
	"fmt"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/process"
)

// execBrCond implements conditional branch: instr.Value is the i1
// condition, instr.Targets = [trueBlock, falseBlock].
func (in *Interpreter) execBrCond(ctx context.Context, p *process.Process, frame *process.StackInfo, block int, instr code.Instruction) (process.Outcome, bool, error) {
	cond, blocked, err := in.readOperand(ctx, p, frame, instr.Value, code.Width8)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	if len(instr.Targets) != 2 {
		return process.ErrorOutcome, false, fmt.Errorf("%w: br.cond needs 2 targets, got %d", ErrInvalidOpcode, len(instr.Targets))
	}
	dest := instr.Targets[1]
	if cond != 0 {
		dest = instr.Targets[0]
	}
	takePhi(frame, block)
	frame.PC = code.PC(dest, 0)
	return process.Running, false, nil
}

// execSwitch implements multi-way branch over instr.Values/Targets,
// falling back to the Imm-encoded default block.
func (in *Interpreter) execSwitch(ctx context.Context, p *process.Process, frame *process.StackInfo, block int, instr code.Instruction) (process.Outcome, bool, error) {
	val, blocked, err := in.readOperand(ctx, p, frame, instr.Value, instr.Width)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	takePhi(frame, block)
	for i, c := range instr.Values {
		if c == val {
			frame.PC = code.PC(instr.Targets[i], 0)
			return process.Running, false, nil
		}
	}
	frame.PC = code.PC(int(instr.Imm), 0)
	return process.Running, false, nil
}

// execCall pushes a new frame for the callee, with NormalPC set to the
// return site (the instruction after this call) and, for `invoke`,
// UnwindPC set to the landing pad named by Targets[0] (an "invoke" is a
// call plus a registered landing pad, per the exception-propagation
// instruction family).
func (in *Interpreter) execCall(p *process.Process, t *process.Thread, frame *process.StackInfo, block, offset int, instr code.Instruction) (process.Outcome, bool, error) {
	callee := addr.VAddr(uint64(instr.Imm))
	fn, ok := p.Function(callee)
	if !ok {
		return process.ErrorOutcome, false, fmt.Errorf("%w: call to unknown function %v", ErrInvalidOpcode, callee)
	}

	var unwindPC uint64
	if instr.Op == code.OpInvoke && len(instr.Targets) > 0 {
		unwindPC = code.PC(instr.Targets[0], 0)
	}

	t.PushFrame(process.StackInfo{
		FuncAddr:  fn.Addr,
		RetAddr:   instr.Output,
		NormalPC:  code.PC(block, offset+1),
		UnwindPC:  unwindPC,
		StackAddr: frame.StackAddr,
		VarArg:    addr.VAddrNone,
	})
	return process.Running, false, nil
}

// execRet pops the current frame and, unless it was the thread's root
// frame (in which case the thread is finished), resumes the caller at
// NormalPC with the return value written into the caller-supplied
// RetAddr slot.
func (in *Interpreter) execRet(ctx context.Context, p *process.Process, t *process.Thread, frame *process.StackInfo, instr code.Instruction) (process.Outcome, bool, error) {
	var retVal uint64
	if !instr.Value.IsNone() {
		v, blocked, err := in.readOperand(ctx, p, frame, instr.Value, instr.Width)
		if err != nil {
			return 0, false, err
		}
		if blocked {
			return process.Running, true, nil
		}
		retVal = v
	}

	retAddr := frame.RetAddr
	normalPC := frame.NormalPC
	savedFrame := *frame

	if !t.PopFrame() {
		// The root frame has no caller slot (its RetAddr is VAddrNone), so
		// its return value becomes the thread's exit code.
		t.ExitCode = int64(retVal)
		return process.FinishOutcome, false, nil
	}

	if !retAddr.IsNone() {
		blocked, err := in.writeOperand(ctx, p, retAddr, instr.Width, retVal)
		if err != nil {
			return 0, false, err
		}
		if blocked {
			// Undo the pop so `ret` re-executes whole on resume instead of
			// losing the return value and the caller frame both.
			t.PushFrame(savedFrame)
			return process.Running, true, nil
		}
	}
	t.Top().PC = normalPC
	return process.Running, false, nil
}
