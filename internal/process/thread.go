package process

import "github.com/processwarp/core/internal/addr"

// Status is a Thread's position in the warp/run state machine.
type Status uint8

const (
	BeforeWarp Status = iota
	Normal
	WaitWarp
	AfterWarp
	Finish
	Error

	// WaitBuiltin is a thread parked by a builtin that returned Wait (e.g.
	// a GUI create awaiting its ack) — distinct from WaitWarp so the warp
	// Coordinator's own reject/timeout handling never mistakes a builtin
	// wait for a stalled migration, or vice versa. Resumed explicitly via
	// Thread.ResumeFromBuiltinWait.
	WaitBuiltin
)

func (s Status) String() string {
	switch s {
	case BeforeWarp:
		return "BEFORE-WARP"
	case Normal:
		return "NORMAL"
	case WaitWarp:
		return "WAIT-WARP"
	case AfterWarp:
		return "AFTER-WARP"
	case Finish:
		return "FINISH"
	case Error:
		return "ERROR"
	case WaitBuiltin:
		return "WAIT-BUILTIN"
	default:
		return "UNKNOWN"
	}
}

// Runnable reports whether the scheduler's round-robin should consider
// this thread for its next quantum.
func (s Status) Runnable() bool { return s == Normal }

// Thread holds one logical thread of execution within a Process.
type Thread struct {
	VTID   addr.VTID
	Status Status
	Stack  []StackInfo
	TLS    addr.VAddr

	// WarpDest/WarpParams are populated by request_warp and consumed by
	// the C7 warp protocol; nil/zero when the thread isn't mid-warp.
	WarpDest   addr.NID
	WarpParams []byte

	// ExitCode is set on FINISH from the root frame's output slot,
	// giving E1 ("Local add") somewhere concrete to assert against.
	ExitCode int64
	// Fault, when Status == Error, names which error kind
	// drove the thread to ERROR.
	Fault error
}

// NewThread creates a thread with a single frame pointing at fn's entry
// basic block — the shape process startup uses.
func NewThread(vtid addr.VTID, fn addr.VAddr, stackPage addr.VAddr) *Thread {
	return &Thread{
		VTID:   vtid,
		Status: BeforeWarp,
		Stack: []StackInfo{{
			FuncAddr:  fn,
			RetAddr:   addr.VAddrNone,
			StackAddr: stackPage,
			VarArg:    addr.VAddrNone,
		}},
		TLS: addr.VAddrNone,
	}
}

// Top returns the thread's current (innermost) frame. Panics if the call
// stack is empty — a thread with no frames is a programming error, never
// a runtime condition (an empty stack after the last `ret` means the
// thread already transitioned to FINISH and Top is no longer called).
func (t *Thread) Top() *StackInfo { return &t.Stack[len(t.Stack)-1] }

// PushFrame enters a new call by appending a frame.
func (t *Thread) PushFrame(f StackInfo) { t.Stack = append(t.Stack, f) }

// PopFrame returns from the current call, discarding its frame. Reports
// false if the stack was already down to the root frame (the caller
// should transition the thread to Finish instead of popping further).
func (t *Thread) PopFrame() bool {
	if len(t.Stack) <= 1 {
		return false
	}
	t.Stack = t.Stack[:len(t.Stack)-1]
	return true
}

// ResumeFromBuiltinWait transitions a thread parked by a Wait-returning
// builtin back to Normal so the next tick's round-robin scan picks it up
// again. A no-op if the thread isn't currently WaitBuiltin.
func (t *Thread) ResumeFromBuiltinWait() {
	if t.Status == WaitBuiltin {
		t.Status = Normal
	}
}

// Unwind searches outward from the current frame for one with a non-zero
// UnwindPC, popping every frame it skips, per exception
// propagation rule. Returns false if no frame in the stack catches (the
// caller should transition the thread to Error).
func (t *Thread) Unwind() bool {
	for len(t.Stack) > 0 {
		top := t.Top()
		if top.UnwindPC != 0 {
			top.PC = top.UnwindPC
			top.UnwindPC = 0
			return true
		}
		t.Stack = t.Stack[:len(t.Stack)-1]
	}
	return false
}
