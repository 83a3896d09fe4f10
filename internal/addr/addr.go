// Package addr defines the address space of a ProcessWarp cluster: node
// identifiers, virtual process/thread identifiers, and virtual addresses.
//
// All four types are deliberately small value types (no pointers, no
// allocation on the hot path) so they can be copied freely through
// channels and stored directly in maps keyed by value, the same way
// racedetector's epoch.Epoch and vectorclock indices are plain scalars
// rather than boxed objects.
package addr

import (
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// NID identifies a node in the cluster. 128 bits, opaque beyond equality
// and the three reserved values below.
type NID [16]byte

// Reserved node identifiers.
var (
	NIDNone      = NID{} // the zero value: "no node" / unset
	nidThisBytes = NID{0xff}
	nidBcastByte = NID{0xfe}
)

// NIDThis is a sentinel meaning "the local node"; resolved by callers that
// have a concrete local NID before it reaches the wire.
func NIDThis() NID { return nidThisBytes }

// NIDBroadcast is a sentinel meaning "all nodes" used only in control-plane
// commands, never as a Page home or a real Transport peer.
func NIDBroadcast() NID { return nidBcastByte }

// NewNID allocates a fresh, globally-unique node identifier.
//
// Grounded on ethereum-go-ethereum's use of github.com/google/uuid for
// peer/node identifiers: a v4 UUID's 16 bytes are copied directly into
// the fixed-size NID array, giving the same collision-free allocation
// the retrieved pack relies on elsewhere for identifier generation.
func NewNID() NID {
	u := uuid.New()
	var n NID
	copy(n[:], u[:])
	return n
}

// String renders a NID as lowercase hex, matching racedetector's habit of
// cheap, allocation-light String() methods used only for diagnostics.
func (n NID) String() string {
	return hex.EncodeToString(n[:])
}

func (n NID) IsNone() bool { return n == NIDNone }

// MarshalJSON renders a NID as a hex string, so control-plane commands
// carry node identifiers as readable JSON rather than a
// 16-element byte array.
func (n NID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.String() + `"`), nil
}

func (n *NID) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return ErrInvalidAddr
	}
	decoded, err := hex.DecodeString(string(b[1 : len(b)-1]))
	if err != nil || len(decoded) != len(n) {
		return ErrInvalidAddr
	}
	copy(n[:], decoded)
	return nil
}

// VPID is an opaque virtual process identifier, unique cluster-wide.
type VPID string

// NewVPID allocates a fresh virtual process identifier.
func NewVPID() VPID {
	return VPID(uuid.NewString())
}

// VTID is a virtual thread identifier: monotonically increasing within the
// owning process, starting at 1 (0 is reserved as "no thread").
type VTID uint64

const VTIDNone VTID = 0

// AllocClass is the tag carried in the top bits of a VAddr, identifying
// which allocator produced the address (so a fault handler can route a
// miss to the right page-table shard without a global lookup).
type AllocClass uint8

const (
	AllocNone AllocClass = iota
	AllocMeta            // process/thread control blocks, function & type tables
	AllocHeap            // heap allocations made by running code
	AllocStack           // stack-spilled frames
)

const (
	vaddrClassShift = 56
	vaddrClassMask  = uint64(0xff) << vaddrClassShift
	vaddrIndexMask  = ^vaddrClassMask
)

// VAddr is a 64-bit virtual address: an AllocClass tag in the top byte and
// a dense per-class index in the remaining 56 bits. VAddrNull (0) and
// VAddrNone (all-ones) are reserved, matching 
type VAddr uint64

const (
	VAddrNull VAddr = 0
	VAddrNone VAddr = ^VAddr(0)
)

// NewVAddr packs an allocation class and index into a virtual address.
func NewVAddr(class AllocClass, index uint64) VAddr {
	return VAddr(uint64(class)<<vaddrClassShift | (index & vaddrIndexMask))
}

// Class extracts the allocation-class tag from a virtual address.
func (v VAddr) Class() AllocClass {
	return AllocClass((uint64(v) & vaddrClassMask) >> vaddrClassShift)
}

// Index extracts the per-class dense index from a virtual address.
func (v VAddr) Index() uint64 {
	return uint64(v) & vaddrIndexMask
}

func (v VAddr) IsNull() bool { return v == VAddrNull }
func (v VAddr) IsNone() bool { return v == VAddrNone }

// ErrInvalidAddr is returned when decoding a malformed wire representation
// of a NID/VAddr (wrong length, reserved-but-misused pattern, ...).
var ErrInvalidAddr = errors.New("addr: invalid encoded address")

// NIDFromBytes decodes a NID from a 16-byte wire slice (used by
// internal/warp/wire.go when deserializing a warp body or page-table
// entry).
func NIDFromBytes(b []byte) (NID, error) {
	var n NID
	if len(b) != len(n) {
		return n, ErrInvalidAddr
	}
	copy(n[:], b)
	return n, nil
}
