package interp

import (
	"context"
	"fmt"

	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/process"
)

// execArith handles "Arithmetic / logical" and
// "Comparison" instruction families: two operands read from Value/Addr
// (reused here as the left/right operand slots), result written to
// Output.
func (in *Interpreter) execArith(ctx context.Context, p *process.Process, t *process.Thread, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
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

	result, trap := evalArith(instr, lhs, rhs)
	if trap {
		if t.Unwind() {
			return process.Running, false, nil
		}
		return process.ErrorOutcome, false, fmt.Errorf("%w: division by zero", ErrArithmeticTrap)
	}

	blocked, err = in.writeOperand(ctx, p, instr.Output, instr.Width, result)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	advance()
	return process.Running, false, nil
}

func evalArith(instr code.Instruction, lhs, rhs uint64) (result uint64, trap bool) {
	switch instr.Op {
	case code.OpAddI32, code.OpAddI64:
		return lhs + rhs, false
	case code.OpSubI32, code.OpSubI64:
		return lhs - rhs, false
	case code.OpMulI32, code.OpMulI64:
		return lhs * rhs, false
	case code.OpDivI32, code.OpDivI64:
		if rhs == 0 {
			return 0, true
		}
		return lhs / rhs, false
	case code.OpAnd:
		return lhs & rhs, false
	case code.OpOr:
		return lhs | rhs, false
	case code.OpXor:
		return lhs ^ rhs, false
	case code.OpShl:
		return lhs << (rhs & 63), false
	case code.OpLShr:
		return lhs >> (rhs & 63), false
	case code.OpAShr:
		return uint64(int64(lhs) >> (rhs & 63)), false
	case code.OpICmpEq:
		if lhs == rhs {
			return 1, false
		}
		return 0, false
	case code.OpICmpLt:
		if lhs < rhs {
			return 1, false
		}
		return 0, false
	default:
		return 0, false
	}
}
