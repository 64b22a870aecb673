// Package guest defines the CPU state the instrumentation engine keeps for
// every guest thread, and the provider interface through which the register
// transfer layer borrows it.
package guest

import (
	"fmt"
)

// ThreadID identifies a guest thread.
type ThreadID int

// View selects one of the value sets kept for a thread.
type View int

const (
	// Real is the architectural state of the thread.
	Real View = iota
	// Shadow1 is the first shadow value set, used by tools to track
	// validity or taint of the real values.
	Shadow1
	// Shadow2 is the second shadow value set.
	Shadow2

	numViews
)

// Views lists every view in protocol order.
var Views = [...]View{Real, Shadow1, Shadow2}

func (v View) String() string {
	switch v {
	case Real:
		return "real"
	case Shadow1:
		return "shadow1"
	case Shadow2:
		return "shadow2"
	}
	return fmt.Sprintf("view(%d)", int(v))
}

// Valid returns true if v is one of the known views.
func (v View) Valid() bool {
	return v >= Real && v < numViews
}

// AMD64State is the amd64 guest state. Its layout follows the engine rather
// than any debugger protocol: the flags register is kept as a lazy
// condition code thunk, the x87 stack as doubles and the vector registers as
// 512-bit little endian images.
type AMD64State struct {
	RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI uint64
	R8, R9, R10, R11, R12, R13, R14, R15   uint64

	// Condition code thunk, see RFlags.
	CCOp   CCOp
	CCDep1 uint64
	CCDep2 uint64
	CCNDep uint64

	// DFlag is 1 or -1 (all bits set) for the direction flag.
	DFlag  uint64
	RIP    uint64
	ACFlag uint64
	IDFlag uint64

	FSConst uint64
	GSConst uint64

	// ZMM holds zmm0 through zmm31. Bytes 0-15 are the xmm part, 16-31 the
	// upper ymm half and 32-63 the upper zmm half.
	ZMM      [32][64]byte
	K        [8]uint64
	SSERound uint64

	// FTop is the x87 stack top, FPReg is indexed by physical slot.
	FTop    uint32
	FPReg   [8]uint64
	FPTag   [8]uint8
	FPRound uint64
	FC3210  uint64
}

// StateProvider gives access to the state of guest threads. The returned
// state is borrowed: callers must not retain it past the current request.
type StateProvider interface {
	State(tid ThreadID, view View) *AMD64State
}
