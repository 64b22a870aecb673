package regxfer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/regdef"
)

type kind uint8

const (
	kindUnsupported kind = iota
	kindDirect
	kindComposite
	kindFloat80
)

func (k kind) String() string {
	switch k {
	case kindDirect:
		return "direct"
	case kindComposite:
		return "composite"
	case kindFloat80:
		return "float80"
	}
	return "unsupported"
}

// entry describes how one catalog register maps onto the guest state.
// Exactly one of scalar, vector and composite is set, depending on kind.
type entry struct {
	reg  regdef.Register
	kind kind

	// scalar returns the integer field backing a direct register, whose
	// low reg.Size() bytes are transferred.
	scalar func(*guest.AMD64State) *uint64

	// vector returns the bytes backing a direct vector register.
	vector func(*guest.AMD64State) []byte

	// composite synthesises a read-only register.
	composite func(*guest.AMD64State) uint64
	// realOnly composite registers have no meaning in shadow views.
	realOnly bool

	// slot is the FPReg index of a float80 register.
	slot int
}

// size returns the number of bytes the peer exchanges for the register.
func (ent *entry) size() int {
	return ent.reg.Size()
}

var gprFields = map[string]func(*guest.AMD64State) *uint64{
	"rax": func(s *guest.AMD64State) *uint64 { return &s.RAX },
	"rbx": func(s *guest.AMD64State) *uint64 { return &s.RBX },
	"rcx": func(s *guest.AMD64State) *uint64 { return &s.RCX },
	"rdx": func(s *guest.AMD64State) *uint64 { return &s.RDX },
	"rsi": func(s *guest.AMD64State) *uint64 { return &s.RSI },
	"rdi": func(s *guest.AMD64State) *uint64 { return &s.RDI },
	"rbp": func(s *guest.AMD64State) *uint64 { return &s.RBP },
	"rsp": func(s *guest.AMD64State) *uint64 { return &s.RSP },
	"r8":  func(s *guest.AMD64State) *uint64 { return &s.R8 },
	"r9":  func(s *guest.AMD64State) *uint64 { return &s.R9 },
	"r10": func(s *guest.AMD64State) *uint64 { return &s.R10 },
	"r11": func(s *guest.AMD64State) *uint64 { return &s.R11 },
	"r12": func(s *guest.AMD64State) *uint64 { return &s.R12 },
	"r13": func(s *guest.AMD64State) *uint64 { return &s.R13 },
	"r14": func(s *guest.AMD64State) *uint64 { return &s.R14 },
	"r15": func(s *guest.AMD64State) *uint64 { return &s.R15 },
	"rip": func(s *guest.AMD64State) *uint64 { return &s.RIP },
	"gs":  func(s *guest.AMD64State) *uint64 { return &s.GSConst },
}

var composites = map[string]func(*guest.AMD64State) uint64{
	"eflags": (*guest.AMD64State).RFlags,
	"fctrl": func(s *guest.AMD64State) uint64 {
		return 0x037f | s.FPRound<<10
	},
	"fstat": func(s *guest.AMD64State) uint64 {
		return s.FC3210 | uint64(s.FTop&7)<<11
	},
	"ftag": func(s *guest.AMD64State) uint64 {
		var tags uint64
		for i, tag := range s.FPTag {
			if tag == 0 {
				tags |= 3 << (2 * uint(i))
			}
		}
		return tags
	},
	"mxcsr": func(s *guest.AMD64State) uint64 {
		return 0x1f80 | s.SSERound<<13
	},
}

var unsupported = map[string]bool{
	"cs": true, "ss": true, "ds": true, "es": true, "fs": true,
	"fiseg": true, "fioff": true, "foseg": true, "fooff": true, "fop": true,
	"orig_rax": true,
}

// vectorPart maps the name of a vector register to the zmm register that
// holds it and the byte range it covers.
func vectorPart(name string) (n, lo, hi int, ok bool) {
	var prefix, half string
	switch {
	case strings.HasPrefix(name, "xmm"):
		prefix, lo, hi = "xmm", 0, 16
	case strings.HasPrefix(name, "ymm"):
		prefix, half, lo, hi = "ymm", "h", 16, 32
	case strings.HasPrefix(name, "zmm"):
		prefix, half, lo, hi = "zmm", "h", 32, 64
	default:
		return 0, 0, 0, false
	}
	digits := strings.TrimPrefix(name, prefix)
	if !strings.HasSuffix(digits, half) {
		return 0, 0, 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(digits, half))
	if err != nil || n < 0 || n >= 32 {
		return 0, 0, 0, false
	}
	return n, lo, hi, true
}

func indexed(name, prefix string, max int) (int, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil || n < 0 || n >= max {
		return 0, false
	}
	return n, true
}

// newEntry classifies reg. It fails for names the guest state has no
// knowledge of, which means the catalog and this table went out of sync.
func newEntry(reg regdef.Register) (entry, error) {
	ent := entry{reg: reg}
	name := reg.Name

	if unsupported[name] {
		ent.kind = kindUnsupported
		return ent, nil
	}
	if f, ok := gprFields[name]; ok {
		ent.kind, ent.scalar = kindDirect, f
		return ent, nil
	}
	if f, ok := composites[name]; ok {
		ent.kind, ent.composite = kindComposite, f
		ent.realOnly = name == "eflags"
		return ent, nil
	}
	if n, ok := indexed(name, "st", 8); ok {
		ent.kind, ent.slot = kindFloat80, n
		return ent, nil
	}
	if n, ok := indexed(name, "k", 8); ok {
		ent.kind = kindDirect
		ent.scalar = func(s *guest.AMD64State) *uint64 { return &s.K[n] }
		return ent, nil
	}
	if n, lo, hi, ok := vectorPart(name); ok {
		if hi-lo != reg.Size() {
			return ent, fmt.Errorf("register %s is %d bytes wide, state holds %d", reg, reg.Size(), hi-lo)
		}
		ent.kind = kindDirect
		ent.vector = func(s *guest.AMD64State) []byte { return s.ZMM[n][lo:hi] }
		return ent, nil
	}
	return ent, fmt.Errorf("register %s has no guest state counterpart", reg)
}

func buildTable(regs []regdef.Register) ([]entry, error) {
	table := make([]entry, len(regs))
	for i, reg := range regs {
		ent, err := newEntry(reg)
		if err != nil {
			return nil, err
		}
		if ent.scalar != nil && reg.Size() > 8 {
			return nil, fmt.Errorf("register %s too wide for an integer field", reg)
		}
		table[i] = ent
	}
	return table, nil
}
