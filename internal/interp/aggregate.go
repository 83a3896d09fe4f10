package interp

import (
	"context"
	"fmt"

	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/process"
)

// fieldOffset resolves a struct field index or array element index to a
// byte offset within the aggregate, using the type table entry named by
// the instruction's Type operand.
func fieldOffset(t *code.TypeDesc, index int) (int, error) {
	switch t.Kind {
	case code.TypeStruct:
		if index < 0 || index >= len(t.Fields) {
			return 0, fmt.Errorf("%w: struct field index %d out of range (%d fields)", ErrInvalidType, index, len(t.Fields))
		}
		return int(t.Fields[index]), nil
	case code.TypeArray:
		if len(t.Fields) == 0 {
			return 0, fmt.Errorf("%w: array type has no element stride", ErrInvalidType)
		}
		return int(t.Fields[0]) * index, nil
	default:
		return 0, fmt.Errorf("%w: extractvalue/insertvalue on a non-aggregate type", ErrInvalidType)
	}
}

// execExtractValue reads the field named by instr.Imm out of the
// aggregate at instr.Addr (laid out per the type table entry instr.Type)
// and writes it to instr.Output.
func (in *Interpreter) execExtractValue(ctx context.Context, p *process.Process, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
	t, ok := p.Type(instr.Type)
	if !ok {
		return process.ErrorOutcome, false, fmt.Errorf("%w: type %v not in table", ErrInvalidType, instr.Type)
	}
	offset, err := fieldOffset(t, int(instr.Imm))
	if err != nil {
		return process.ErrorOutcome, false, err
	}
	val, blocked, err := in.readOperandAt(ctx, p, instr.Addr, offset, instr.Width)
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

// execInsertValue reads instr.Value and writes it into the field named
// by instr.Imm of the aggregate at instr.Addr, in place — the same
// "mutate the addressed memory" idiom execStore uses, since aggregates
// here are memory-resident rather than SSA values.
func (in *Interpreter) execInsertValue(ctx context.Context, p *process.Process, frame *process.StackInfo, instr code.Instruction, advance func()) (process.Outcome, bool, error) {
	t, ok := p.Type(instr.Type)
	if !ok {
		return process.ErrorOutcome, false, fmt.Errorf("%w: type %v not in table", ErrInvalidType, instr.Type)
	}
	offset, err := fieldOffset(t, int(instr.Imm))
	if err != nil {
		return process.ErrorOutcome, false, err
	}
	val, blocked, err := in.readOperand(ctx, p, frame, instr.Value, instr.Width)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	blocked, err = in.writeOperandAt(ctx, p, instr.Addr, offset, instr.Width, val)
	if err != nil {
		return 0, false, err
	}
	if blocked {
		return process.Running, true, nil
	}
	advance()
	return process.Running, false, nil
}
