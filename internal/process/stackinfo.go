package process

import "github.com/processwarp/core/internal/addr"

// StackInfo is one activation record on a thread's call stack. The four
// operand vaddrs (*Addr) name a decoded instruction's type/output/value/
// address operands and their *cache companions hold a non-owning pointer
// to the page backing each operand — the same pairing
// original_source/src/core/stackinfo.cpp uses for its func_cache/
// type_cache/output_cache/value_cache/address_cache fields, here adapted
// to Go's pointer-or-nil idiom instead of a raw pointer default-initialized
// to null. The interpreter in this module neither sets the operand vaddrs
// nor fills or consults the caches; every operand access goes through the
// Accessor, so a re-executed instruction after a fault repeats its lookups.
type StackInfo struct {
	FuncAddr  addr.VAddr // function this frame is executing
	RetAddr   addr.VAddr // caller's output slot, filled in by `ret`
	NormalPC  uint64     // (basic-block, offset) packed, resumed on a normal return
	UnwindPC  uint64     // re-entered when propagating an exception-like condition; 0 = no landing pad
	StackAddr addr.VAddr // this frame's stack-data page
	VarArg    addr.VAddr // variadic-argument pointer; addr.VAddrNone when the callee isn't variadic

	PC uint64 // current (basic-block, offset), packed

	// Phi0/Phi1 are the two-slot φ-resolution history: predecessor
	// basic-block ids. Phi0 is updated on every branch; the value it
	// displaces is pushed into Phi1. Open Question notes
	// deeper φ chains would need a bounded stack instead — not
	// implemented here, since nothing in this codebase's instruction
	// encoding emits a chain deeper than 2.
	Phi0, Phi1 uint32

	TypeAddr    addr.VAddr
	OutputAddr  addr.VAddr
	ValueAddr   addr.VAddr
	AddressAddr addr.VAddr

	typeCache, outputCache, valueCache, addressCache any // *page.Page; kept as `any` to avoid a page-package import cycle with the interpreter's fault path
}

// CacheFor returns the cached page pointer for one of the frame's four
// instruction operands, or nil if nothing is cached yet.
func (s *StackInfo) CacheFor(slot OperandSlot) any {
	switch slot {
	case SlotType:
		return s.typeCache
	case SlotOutput:
		return s.outputCache
	case SlotValue:
		return s.valueCache
	case SlotAddress:
		return s.addressCache
	default:
		return nil
	}
}

// SetCache installs a resolved page pointer for one of the frame's four
// instruction operands. Nothing in this module calls it.
func (s *StackInfo) SetCache(slot OperandSlot, p any) {
	switch slot {
	case SlotType:
		s.typeCache = p
	case SlotOutput:
		s.outputCache = p
	case SlotValue:
		s.valueCache = p
	case SlotAddress:
		s.addressCache = p
	}
}

// ClearCaches drops every cached page pointer. Nothing in this module
// calls it.
func (s *StackInfo) ClearCaches() {
	s.typeCache, s.outputCache, s.valueCache, s.addressCache = nil, nil, nil, nil
}

// OperandSlot names one of a decoded instruction's four operand vaddrs.
type OperandSlot uint8

const (
	SlotType OperandSlot = iota
	SlotOutput
	SlotValue
	SlotAddress
)
