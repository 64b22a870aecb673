// Package target puts together the register configuration, transfer
// engine and register cache of an amd64 guest, and describes the result to
// the peer.
package target

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/vgstub/vgregs/pkg/logflags"
	"github.com/vgstub/vgregs/pkg/proc/features"
	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/proc/regcache"
	"github.com/vgstub/vgregs/pkg/proc/regxfer"
	"github.com/vgstub/vgregs/pkg/regdef"
)

// OSFamily selects the register catalog and target descriptions of a
// guest. Only linux guests expose orig_rax.
type OSFamily uint8

const (
	Linux OSFamily = iota
	Other
)

func (os OSFamily) String() string {
	if os == Linux {
		return "linux"
	}
	return "other"
}

// ParseOSFamily parses the name of an OS family. Any GOOS value is accepted
// as well as "other".
func ParseOSFamily(s string) (OSFamily, error) {
	switch strings.ToLower(s) {
	case "linux":
		return Linux, nil
	case "other", "darwin", "freebsd", "netbsd", "openbsd", "solaris", "illumos", "windows":
		return Other, nil
	}
	return Linux, fmt.Errorf("unknown OS family %q", s)
}

// HostOS returns the OS family of the machine we are running on.
func HostOS() OSFamily {
	if runtime.GOOS == "linux" {
		return Linux
	}
	return Other
}

// Catalog returns the register catalog of guests of the OS family.
func (os OSFamily) Catalog() *regdef.Catalog {
	if os == Linux {
		return regdef.AMD64Linux
	}
	return regdef.AMD64
}

// Config describes how to build a Target.
type Config struct {
	OS OSFamily
	// Shadow exposes the two shadow views after the real one.
	Shadow bool
	// Detector reports the vector tiers, features.Host when nil.
	Detector features.Detector
	States   guest.StateProvider
	// CacheSize is the number of register blobs cached, see regcache.New.
	CacheSize int
}

// Target is the register side of a guest, as seen by the gdbserver.
type Target struct {
	OS       OSFamily
	Features features.Config
	Engine   *regxfer.Engine
	Cache    *regcache.Cache

	states     guest.StateProvider
	descriptor string
	described  bool
}

// Arch is the architecture name of every Target.
const Arch = "amd64"

// New returns a Target built according to cfg. The number of live
// registers is decided here, once, from the tiers reported by the detector.
func New(cfg Config) (*Target, error) {
	if cfg.States == nil {
		return nil, fmt.Errorf("no guest state provider")
	}
	d := cfg.Detector
	if d == nil {
		d = features.Host
	}
	views := 1
	if cfg.Shadow {
		views = features.MaxViews
	}
	fcfg, err := features.NewConfig(cfg.OS.Catalog(), d, views)
	if err != nil {
		return nil, err
	}
	engine, err := regxfer.NewEngine(fcfg, cfg.States)
	if err != nil {
		return nil, err
	}
	cache, err := regcache.New(engine, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	t := &Target{
		OS:       cfg.OS,
		Features: fcfg,
		Engine:   engine,
		Cache:    cache,
		states:   cfg.States,
	}
	t.descriptor, t.described = SelectDescriptor(fcfg.Tiers.AVX, cfg.Shadow, cfg.OS)

	log := logflags.TargetLogger()
	if t.described {
		log.Infof("%s %s target, %d registers in %d views, described by %s", Arch, cfg.OS, fcfg.Live, fcfg.Views, t.descriptor)
	} else {
		log.Infof("%s %s target, %d registers in %d views, no target description", Arch, cfg.OS, fcfg.Live, fcfg.Views)
	}
	return t, nil
}

// Descriptor returns the name of the target description document, if the
// peer must be sent one.
func (t *Target) Descriptor() (string, bool) {
	return t.descriptor, t.described
}

// NumRegs returns the number of protocol registers.
func (t *Target) NumRegs() int {
	return t.Features.NumRegs()
}

// StackPointerRegno returns the protocol number of the stack pointer.
func (t *Target) StackPointerRegno() int {
	return regdef.AMD64Rsp
}

// ExpeditedRegisters returns the names of the registers sent along with
// every stop reply.
func (t *Target) ExpeditedRegisters() []string {
	return append([]string(nil), regdef.AMD64ExpeditedRegs...)
}

// PC returns the program counter of tid.
func (t *Target) PC(tid guest.ThreadID) uint64 {
	return t.Engine.PC(tid)
}

// SetPC changes the program counter of tid, returning true if it changed.
func (t *Target) SetPC(tid guest.ThreadID, pc uint64) bool {
	return t.Cache.SetPC(tid, pc)
}

// TLSVectorAddr returns the address of the slot holding the dynamic thread
// vector pointer of tid, from which the peer resolves thread local
// variables.
func (t *Target) TLSVectorAddr(tid guest.ThreadID) (uint64, error) {
	s := t.states.State(tid, guest.Real)
	if s == nil {
		return 0, fmt.Errorf("unknown thread %d", tid)
	}
	return s.FSConst + 8, nil
}
