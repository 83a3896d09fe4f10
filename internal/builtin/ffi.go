package builtin

// FFIFilter maps application-visible FFI names to host-visible names
//. Argument marshalling is host-specific and
// out of scope; anything absent from the table surfaces
// UNSUPPORTED, per Open Question resolution rather than
// guessing at a marshalling convention the source doesn't specify.
type FFIFilter struct {
	allowed map[string]string
}

func NewFFIFilter(allowed map[string]string) *FFIFilter {
	f := &FFIFilter{allowed: make(map[string]string, len(allowed))}
	for k, v := range allowed {
		f.allowed[k] = v
	}
	return f
}

func (f *FFIFilter) Resolve(name string) (hostName string, ok bool) {
	hostName, ok = f.allowed[name]
	return
}

// RegisterFFI installs a single builtin, "ffi_call", that resolves a
// requested name through filter and otherwise reports ErrorCode with
// errFFIUnsupported — the interpreter's OpFFICall path always goes
// through this one entry point rather than the registry's normal
// call-by-name dispatch, since an FFI name is data carried on the
// instruction, not known at registration time.
func RegisterFFI(r *Registry, filter *FFIFilter, dispatch func(hostName string, c *Call) (ReturnCode, error)) {
	r.Register("ffi_call", func(c *Call) (ReturnCode, error) {
		// The requested application-visible name travels as the leading
		// NUL-free ASCII prefix of Args in this core's calling
		// convention; callers needing a richer marshalling scheme should
		// override this builtin entirely, per 
		name, rest := splitFFIName(c.Args)
		host, ok := filter.Resolve(name)
		if !ok {
			return ErrorCode, errFFIUnsupported
		}
		sub := *c
		sub.Args = rest
		return dispatch(host, &sub)
	})
}

func splitFFIName(args []byte) (name string, rest []byte) {
	for i, b := range args {
		if b == 0 {
			return string(args[:i]), args[i+1:]
		}
	}
	return string(args), nil
}
