package builtin

// registerProcessControl installs exit/abort/nop and the longjmp family
//.
func registerProcessControl(r *Registry) {
	r.Register("nop", func(c *Call) (ReturnCode, error) {
		return Normal, nil
	})

	r.Register("exit", func(c *Call) (ReturnCode, error) {
		if len(c.Args) >= 8 {
			c.Thread.ExitCode = int64(le64(c.Args))
		}
		return FinishThread, nil
	})

	r.Register("abort", func(c *Call) (ReturnCode, error) {
		return ErrorCode, errAborted
	})

	// longjmp unwinds the call stack back to the frame with a landing
	// pad, mirroring setjmp/longjmp by reusing the same unwind_pc
	// mechanism uses for exception propagation — the source
	// family's "manipulating the call stack" is exactly Thread.Unwind().
	r.Register("longjmp", func(c *Call) (ReturnCode, error) {
		if !c.Thread.Unwind() {
			return ErrorCode, errNoLandingPad
		}
		return Normal, nil
	})
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
