// Package features decides which vector extension registers a target
// exposes, based on the capabilities of the host CPU.
package features

import (
	"fmt"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/vgstub/vgregs/pkg/logflags"
	"github.com/vgstub/vgregs/pkg/regdef"
)

// Tiers describes the vector extension tiers available on top of the
// baseline SSE register set.
type Tiers struct {
	AVX    bool
	AVX512 bool
}

// Normalize returns t with AVX512 cleared when AVX is absent: the AVX-512
// register block sits after the AVX one and can not be exposed without it.
func (t Tiers) Normalize() Tiers {
	if !t.AVX {
		t.AVX512 = false
	}
	return t
}

func (t Tiers) String() string {
	switch {
	case t.AVX512:
		return "avx512"
	case t.AVX:
		return "avx"
	default:
		return "baseline"
	}
}

// Detector reports the vector extension tiers of a host.
type Detector interface {
	Detect() Tiers
}

// Static is a Detector always reporting the same tiers.
type Static Tiers

// Detect implements Detector.
func (s Static) Detect() Tiers {
	return Tiers(s).Normalize()
}

type host struct {
	once  sync.Once
	tiers Tiers
}

// Host is the Detector of the machine we are running on. The result is
// computed on first use and cached.
var Host Detector = &host{}

func (h *host) Detect() Tiers {
	h.once.Do(func() {
		// cpu.X86 is only filled in on x86 hosts, everywhere else every
		// capability reads as absent.
		h.tiers = Tiers{
			AVX:    cpu.X86.HasOSXSAVE && cpu.X86.HasAVX,
			AVX512: cpu.X86.HasAVX512F,
		}.Normalize()
		logflags.FeaturesLogger().Debugf("host vector tier %s", h.tiers)
	})
	return h.tiers
}

// Override wraps a Detector replacing the tiers for which a value is set.
type Override struct {
	Base   Detector
	AVX    *bool
	AVX512 *bool
}

// Detect implements Detector.
func (o Override) Detect() Tiers {
	tiers := o.Base.Detect()
	if o.AVX != nil {
		tiers.AVX = *o.AVX
	}
	if o.AVX512 != nil {
		tiers.AVX512 = *o.AVX512
	}
	return tiers.Normalize()
}

// LiveCount returns how many registers of a catalog of full registers are
// exposed with the given tiers.
func LiveCount(full int, tiers Tiers) int {
	tiers = tiers.Normalize()
	live := full
	if !tiers.AVX512 {
		live -= regdef.AMD64AVX512Regs
	}
	if !tiers.AVX {
		live -= regdef.AMD64AVXRegs
	}
	return live
}

// MaxViews is the number of views every thread carries: the real register
// values plus two shadow sets.
const MaxViews = 3

// Config is the immutable register configuration of a target. It is
// computed once when the target is initialized.
type Config struct {
	Catalog *regdef.Catalog
	Tiers   Tiers
	// Live is the number of registers of Catalog that are exposed in each
	// view.
	Live int
	// Views is the number of views exposed to the peer, 1 when shadow
	// registers are disabled.
	Views int
}

// NewConfig returns the configuration for catalog on a host with the tiers
// reported by d.
func NewConfig(catalog *regdef.Catalog, d Detector, views int) (Config, error) {
	if views < 1 || views > MaxViews {
		return Config{}, fmt.Errorf("invalid number of register views %d (must be between 1 and %d)", views, MaxViews)
	}
	tiers := d.Detect()
	cfg := Config{
		Catalog: catalog,
		Tiers:   tiers,
		Live:    LiveCount(catalog.Len(), tiers),
		Views:   views,
	}
	logflags.FeaturesLogger().Debugf("%d of %d %s registers live (%s), %d views", cfg.Live, catalog.Len(), catalog.Arch(), tiers, views)
	return cfg, nil
}

// Shadow returns true if shadow views are exposed.
func (cfg Config) Shadow() bool {
	return cfg.Views > 1
}

// NumRegs returns the total number of protocol registers, across all views.
func (cfg Config) NumRegs() int {
	return cfg.Live * cfg.Views
}
