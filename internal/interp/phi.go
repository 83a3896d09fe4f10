package interp

import (
	"context"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/process"
)

// takePhi records the block a branch is leaving as the new predecessor
// in the frame's two-slot φ history, displacing the previous entry into
// Phi1 (the Open Question on deeper φ chains is resolved in favor of
// this fixed two-slot history; nothing this interpreter emits needs a
// third).
func takePhi(frame *process.StackInfo, fromBlock int) {
	frame.Phi1 = frame.Phi0
	frame.Phi0 = uint32(fromBlock)
}

// execPhi resolves a phi instruction against the frame's predecessor
// history: instr.Targets holds the candidate predecessor block ids and
// instr.Values the parallel incoming-value vaddrs (packed as plain
// uint64, since addr.VAddr is itself a uint64). The predecessor that
// actually branched here is frame.Phi0.
func (in *Interpreter) execPhi(ctx context.Context, p *process.Process, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
	for i, pred := range instr.Targets {
		if uint32(pred) != frame.Phi0 {
			continue
		}
		v := addr.VAddr(instr.Values[i])
		val, blocked, err := in.readOperand(ctx, p, frame, v, instr.Width)
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
	return process.ErrorOutcome, false, ErrInvalidOpcode
}
