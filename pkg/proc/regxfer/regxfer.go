// Package regxfer moves register values between the guest state kept by the
// instrumentation engine and the register blob of the GDB remote protocol.
//
// Protocol register numbers cover every configured view: with live
// registers exposed per view, number n designates register n%live of view
// n/live. Each register is transferred according to a table computed when
// the Engine is built: most registers are plain byte copies, some are
// synthesised from several guest fields and can only be read, the x87 data
// registers are converted between the 80-bit format of the protocol and the
// doubles kept by the engine, and the rest are not available at all.
package regxfer

import (
	"encoding/binary"
	"fmt"

	"github.com/vgstub/vgregs/pkg/logflags"
	"github.com/vgstub/vgregs/pkg/proc/features"
	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/proc/x87"
	"github.com/vgstub/vgregs/pkg/regdef"
)

// Direction of a transfer.
type Direction uint8

const (
	// ToProtocol copies a guest state value into the buffer.
	ToProtocol Direction = iota
	// FromProtocol copies the buffer into the guest state.
	FromProtocol
)

func (d Direction) String() string {
	switch d {
	case ToProtocol:
		return "read"
	case FromProtocol:
		return "write"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// ContractViolation is the value the Engine panics with when it is called
// with arguments no well behaved caller would pass: a register number out
// of range, a buffer of the wrong size or an unknown thread.
type ContractViolation struct {
	Op  string
	Msg string
}

func (cv *ContractViolation) Error() string {
	return fmt.Sprintf("%s: %s", cv.Op, cv.Msg)
}

func violation(op, format string, args ...interface{}) *ContractViolation {
	return &ContractViolation{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Engine transfers registers of the threads of a StateProvider. An Engine
// has no mutable state of its own: calls for distinct threads may run
// concurrently, calls for the same thread must be serialized by the caller.
type Engine struct {
	cfg    features.Config
	states guest.StateProvider
	table  []entry
	pc     int
}

// NewEngine returns an engine exposing the registers described by cfg for
// the threads of states.
func NewEngine(cfg features.Config, states guest.StateProvider) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("register configuration without catalog")
	}
	if cfg.Live < 0 || cfg.Live > cfg.Catalog.Len() {
		return nil, fmt.Errorf("live register count %d out of range for %d registers", cfg.Live, cfg.Catalog.Len())
	}
	if cfg.Views < 1 || cfg.Views > len(guest.Views) {
		return nil, fmt.Errorf("invalid number of register views %d", cfg.Views)
	}
	table, err := buildTable(cfg.Catalog.Registers(cfg.Live))
	if err != nil {
		return nil, err
	}
	pc, err := cfg.Catalog.Lookup("rip", cfg.Live)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, states: states, table: table, pc: pc}, nil
}

// Config returns the register configuration of e.
func (e *Engine) Config() features.Config {
	return e.cfg
}

// Locate splits a protocol register number into the view it belongs to
// and the register it designates inside that view.
func (e *Engine) Locate(n int) (guest.View, regdef.Register) {
	if n < 0 || n >= e.cfg.NumRegs() {
		panic(violation("locate", "register number %d out of range [0, %d)", n, e.cfg.NumRegs()))
	}
	return guest.View(n / e.cfg.Live), e.table[n%e.cfg.Live].reg
}

func (e *Engine) state(op string, tid guest.ThreadID, view guest.View) *guest.AMD64State {
	s := e.states.State(tid, view)
	if s == nil {
		panic(violation(op, "no %s state for thread %d", view, tid))
	}
	return s
}

// Transfer copies register n of thread tid in direction dir, buf being the
// protocol side of the transfer. It returns true if the register was
// transferred, false if it is not available or, for writes, not writable.
// After a false read the contents of buf are unspecified, after a false
// write the guest state is unchanged.
//
// len(buf) must be the protocol size of the register.
func (e *Engine) Transfer(tid guest.ThreadID, n int, buf []byte, dir Direction) bool {
	if dir != ToProtocol && dir != FromProtocol {
		panic(violation("transfer", "invalid direction %d", dir))
	}
	if n < 0 || n >= e.cfg.NumRegs() {
		panic(violation("transfer", "register number %d out of range [0, %d)", n, e.cfg.NumRegs()))
	}
	view := guest.View(n / e.cfg.Live)
	ent := &e.table[n%e.cfg.Live]
	if len(buf) != ent.size() {
		panic(violation("transfer", "register %s of %d bytes transferred with a %d byte buffer", ent.reg.Name, ent.size(), len(buf)))
	}
	s := e.state("transfer", tid, view)

	ok := e.transfer(ent, s, view, buf, dir)

	if logflags.Transfer() {
		logflags.TransferLogger().WithFields(logflags.Fields{
			"tid":  tid,
			"view": view,
			"kind": ent.kind,
		}).Debugf("%s %s %x: %v", dir, ent.reg.Name, buf, ok)
	}
	return ok
}

func (e *Engine) transfer(ent *entry, s *guest.AMD64State, view guest.View, buf []byte, dir Direction) bool {
	switch ent.kind {
	case kindDirect:
		if ent.vector != nil {
			if dir == ToProtocol {
				copy(buf, ent.vector(s))
			} else {
				copy(ent.vector(s), buf)
			}
			return true
		}
		p := ent.scalar(s)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], *p)
		if dir == ToProtocol {
			copy(buf, tmp[:])
		} else {
			copy(tmp[:], buf)
			*p = binary.LittleEndian.Uint64(tmp[:])
		}
		return true

	case kindComposite:
		if dir == FromProtocol {
			// Composite registers can not be decomposed back into the
			// fields they are computed from.
			return false
		}
		if ent.realOnly && view != guest.Real {
			return false
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], ent.composite(s))
		copy(buf, tmp[:])
		return true

	case kindFloat80:
		var f64 [8]byte
		if dir == ToProtocol {
			binary.LittleEndian.PutUint64(f64[:], s.FPReg[ent.slot])
			x87.F64ToF80(f64[:], buf)
		} else {
			x87.F80ToF64(buf, f64[:])
			s.FPReg[ent.slot] = binary.LittleEndian.Uint64(f64[:])
		}
		return true
	}
	return false
}

// Read is Transfer in the ToProtocol direction.
func (e *Engine) Read(tid guest.ThreadID, n int, buf []byte) bool {
	return e.Transfer(tid, n, buf, ToProtocol)
}

// Write is Transfer in the FromProtocol direction.
func (e *Engine) Write(tid guest.ThreadID, n int, buf []byte) bool {
	return e.Transfer(tid, n, buf, FromProtocol)
}

// Size returns the protocol size in bytes of register n.
func (e *Engine) Size(n int) int {
	_, reg := e.Locate(n)
	return reg.Size()
}

// PC returns the program counter of tid.
func (e *Engine) PC(tid guest.ThreadID) uint64 {
	var buf [8]byte
	e.Transfer(tid, e.pc, buf[:], ToProtocol)
	return binary.LittleEndian.Uint64(buf[:])
}

// SetPC changes the program counter of tid to pc, returning true if the
// program counter changed.
func (e *Engine) SetPC(tid guest.ThreadID, pc uint64) bool {
	s := e.state("setpc", tid, guest.Real)
	log := logflags.TransferLogger()
	if s.RIP == pc {
		log.Debugf("thread %d pc already at %#x", tid, pc)
		return false
	}
	log.Debugf("thread %d pc changed from %#x to %#x", tid, s.RIP, pc)
	s.RIP = pc
	return true
}
