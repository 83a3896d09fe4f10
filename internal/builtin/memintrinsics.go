package builtin

import "encoding/binary"

// registerMemIntrinsics installs memcpy/memset/memmove. Args layout: dst vaddr.Index() (8 bytes), src
// vaddr.Index() or fill byte, length (8 bytes) — all little-endian,
// matching the call-site convention the overflow builtins already use.
func registerMemIntrinsics(r *Registry) {
	r.Register("llvm.memcpy", func(c *Call) (ReturnCode, error) {
		if len(c.Args) < 24 {
			return ErrorCode, errShortIntrinsicArgs
		}
		dst := binary.LittleEndian.Uint64(c.Args[0:8])
		src := binary.LittleEndian.Uint64(c.Args[8:16])
		n := int(binary.LittleEndian.Uint64(c.Args[16:24]))

		srcPage, err := c.Mem.EnsureReadable(c.Ctx, uintptr(src), [16]byte{})
		if err != nil {
			return ErrorCode, err
		}
		data, err := c.Mem.Read(srcPage, 0, n)
		if err != nil {
			return ErrorCode, err
		}
		dstPage, err := c.Mem.EnsureWritable(c.Ctx, uintptr(dst), [16]byte{})
		if err != nil {
			return ErrorCode, err
		}
		if err := c.Mem.Write(dstPage, 0, data); err != nil {
			return ErrorCode, err
		}
		return Normal, nil
	})

	r.Register("llvm.memset", func(c *Call) (ReturnCode, error) {
		if len(c.Args) < 17 {
			return ErrorCode, errShortIntrinsicArgs
		}
		dst := binary.LittleEndian.Uint64(c.Args[0:8])
		fill := c.Args[8]
		n := int(binary.LittleEndian.Uint64(c.Args[9:17]))

		buf := make([]byte, n)
		for i := range buf {
			buf[i] = fill
		}
		dstPage, err := c.Mem.EnsureWritable(c.Ctx, uintptr(dst), [16]byte{})
		if err != nil {
			return ErrorCode, err
		}
		if err := c.Mem.Write(dstPage, 0, buf); err != nil {
			return ErrorCode, err
		}
		return Normal, nil
	})

	// memmove shares memcpy's implementation: both operate through the
	// Accessor on whole page-resident copies rather than raw pointers, so
	// there is no overlapping-region hazard to special-case the way a
	// true in-place memmove must.
	memcpyFn, _ := r.Lookup("llvm.memcpy")
	r.Register("llvm.memmove", memcpyFn)
}
