// Package warp implements the C7 Scheduler and thread-warp protocol: a
// directory of (vpid → nid/root) entries, the WARP-REQUEST/ACCEPT/
// REJECT/BODY/DONE handshake, and the bit-exact wire encoding of a warp
// set (a thread's call stack plus the stack-reachable pages it carries).
//
// Grounded on original_source/src/core/scheduler.hpp's routing table and
// original_source/src/core/vmachine.hpp's warp_begin/warp_end pairing of
// "freeze a thread, ship its frames and pages, thaw on the other side";
// the packed-integer wire layout below plays the role that original's
// packer.hpp serialization does, re-expressed with encoding/binary
// rather than a hand-rolled byte-cursor class.
package warp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/process"
)

// frameFields is the little-endian, fixed-field encoding of one StackInfo,
// matching the external-interface warp body format exactly: func vaddr,
// ret_addr, normal_pc, unwind_pc, stack vaddr, var_arg vaddr, pc, phi0,
// phi1, and the four operand vaddrs.
type frameFields struct {
	FuncAddr, RetAddr                       uint64
	NormalPC, UnwindPC                      uint64
	StackAddr, VarArg                       uint64
	PC                                      uint64
	Phi0, Phi1                              uint32
	TypeAddr, OutputAddr, ValueAddr, AddrAddr uint64
}

// PageRecord is one page-table entry in a warp body: address, its
// allocation-class tag, and its raw content.
type PageRecord struct {
	Index uintptr
	Class addr.AllocClass
	Epoch uint64
	Bytes [page.Size]byte
}

// ThreadSet is everything the warp-set enumeration step collects for one
// thread: the Thread record itself plus the pages
// every frame in its call stack reaches.
type ThreadSet struct {
	VTID   addr.VTID
	Status process.Status
	TLS    addr.VAddr
	Stack  []process.StackInfo
	Pages  []PageRecord
}

// EncodeThreadSet serializes a warp body: thread record then page table,
// integers little-endian with explicit widths, vaddrs 64-bit throughout.
func EncodeThreadSet(ts ThreadSet) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(ts.VTID))
	buf.WriteByte(byte(ts.Status))
	binary.Write(&buf, binary.LittleEndian, uint64(ts.TLS))
	binary.Write(&buf, binary.LittleEndian, uint32(len(ts.Stack)))
	for _, f := range ts.Stack {
		fw := frameFields{
			FuncAddr: uint64(f.FuncAddr), RetAddr: uint64(f.RetAddr),
			NormalPC: f.NormalPC, UnwindPC: f.UnwindPC,
			StackAddr: uint64(f.StackAddr), VarArg: uint64(f.VarArg),
			PC: f.PC, Phi0: f.Phi0, Phi1: f.Phi1,
			TypeAddr: uint64(f.TypeAddr), OutputAddr: uint64(f.OutputAddr),
			ValueAddr: uint64(f.ValueAddr), AddrAddr: uint64(f.AddressAddr),
		}
		binary.Write(&buf, binary.LittleEndian, fw)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(ts.Pages)))
	for _, pr := range ts.Pages {
		binary.Write(&buf, binary.LittleEndian, uint64(pr.Index))
		buf.WriteByte(byte(pr.Class))
		binary.Write(&buf, binary.LittleEndian, uint32(len(pr.Bytes)))
		buf.Write(pr.Bytes[:])
		binary.Write(&buf, binary.LittleEndian, pr.Epoch)
	}
	return buf.Bytes()
}

// DecodeThreadSet is EncodeThreadSet's inverse.
func DecodeThreadSet(b []byte) (ThreadSet, error) {
	r := bytes.NewReader(b)
	var ts ThreadSet
	var vtid uint64
	if err := binary.Read(r, binary.LittleEndian, &vtid); err != nil {
		return ts, fmt.Errorf("warp: decode vtid: %w", err)
	}
	ts.VTID = addr.VTID(vtid)
	statusByte, err := r.ReadByte()
	if err != nil {
		return ts, fmt.Errorf("warp: decode status: %w", err)
	}
	ts.Status = process.Status(statusByte)
	var tls uint64
	if err := binary.Read(r, binary.LittleEndian, &tls); err != nil {
		return ts, fmt.Errorf("warp: decode tls: %w", err)
	}
	ts.TLS = addr.VAddr(tls)

	var frameCount uint32
	if err := binary.Read(r, binary.LittleEndian, &frameCount); err != nil {
		return ts, fmt.Errorf("warp: decode frame count: %w", err)
	}
	ts.Stack = make([]process.StackInfo, frameCount)
	for i := range ts.Stack {
		var fw frameFields
		if err := binary.Read(r, binary.LittleEndian, &fw); err != nil {
			return ts, fmt.Errorf("warp: decode frame %d: %w", i, err)
		}
		ts.Stack[i] = process.StackInfo{
			FuncAddr: addr.VAddr(fw.FuncAddr), RetAddr: addr.VAddr(fw.RetAddr),
			NormalPC: fw.NormalPC, UnwindPC: fw.UnwindPC,
			StackAddr: addr.VAddr(fw.StackAddr), VarArg: addr.VAddr(fw.VarArg),
			PC: fw.PC, Phi0: fw.Phi0, Phi1: fw.Phi1,
			TypeAddr: addr.VAddr(fw.TypeAddr), OutputAddr: addr.VAddr(fw.OutputAddr),
			ValueAddr: addr.VAddr(fw.ValueAddr), AddressAddr: addr.VAddr(fw.AddrAddr),
		}
	}

	var pageCount uint32
	if err := binary.Read(r, binary.LittleEndian, &pageCount); err != nil {
		return ts, fmt.Errorf("warp: decode page count: %w", err)
	}
	ts.Pages = make([]PageRecord, pageCount)
	for i := range ts.Pages {
		var idx uint64
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return ts, fmt.Errorf("warp: decode page %d index: %w", i, err)
		}
		classByte, err := r.ReadByte()
		if err != nil {
			return ts, fmt.Errorf("warp: decode page %d class: %w", i, err)
		}
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return ts, fmt.Errorf("warp: decode page %d length: %w", i, err)
		}
		pr := PageRecord{Index: uintptr(idx), Class: addr.AllocClass(classByte)}
		if int(length) != len(pr.Bytes) {
			return ts, fmt.Errorf("warp: page %d length %d != page size %d", i, length, len(pr.Bytes))
		}
		if _, err := r.Read(pr.Bytes[:]); err != nil {
			return ts, fmt.Errorf("warp: decode page %d bytes: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &pr.Epoch); err != nil {
			return ts, fmt.Errorf("warp: decode page %d epoch: %w", i, err)
		}
		ts.Pages[i] = pr
	}
	return ts, nil
}
