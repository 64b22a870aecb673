package guest

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"math"

	"gopkg.in/yaml.v2"
)

// Snapshot files describe the state of a set of threads in YAML, for
// example:
//
//	threads:
//	- id: 1
//	  real:
//	    rip: 0x401000
//	    rsp: 0x7ffc0000
//	    fpreg: [1.5]
//	    fptag: [1]
//	    zmm:
//	      0: "000102030405060708090a0b0c0d0e0f"
//	  shadow1:
//	    rax: 0xffffffffffffffff
//
// Missing fields keep the value given to new threads, vector registers are
// little endian hex images of up to 64 bytes.
type snapshotFile struct {
	Threads []snapshotThread `yaml:"threads"`
}

type snapshotThread struct {
	ID      ThreadID       `yaml:"id"`
	Real    *snapshotState `yaml:"real,omitempty"`
	Shadow1 *snapshotState `yaml:"shadow1,omitempty"`
	Shadow2 *snapshotState `yaml:"shadow2,omitempty"`
}

type snapshotState struct {
	RAX *uint64 `yaml:"rax,omitempty"`
	RBX *uint64 `yaml:"rbx,omitempty"`
	RCX *uint64 `yaml:"rcx,omitempty"`
	RDX *uint64 `yaml:"rdx,omitempty"`
	RSI *uint64 `yaml:"rsi,omitempty"`
	RDI *uint64 `yaml:"rdi,omitempty"`
	RBP *uint64 `yaml:"rbp,omitempty"`
	RSP *uint64 `yaml:"rsp,omitempty"`
	R8  *uint64 `yaml:"r8,omitempty"`
	R9  *uint64 `yaml:"r9,omitempty"`
	R10 *uint64 `yaml:"r10,omitempty"`
	R11 *uint64 `yaml:"r11,omitempty"`
	R12 *uint64 `yaml:"r12,omitempty"`
	R13 *uint64 `yaml:"r13,omitempty"`
	R14 *uint64 `yaml:"r14,omitempty"`
	R15 *uint64 `yaml:"r15,omitempty"`
	RIP *uint64 `yaml:"rip,omitempty"`

	CCOp   *uint64 `yaml:"ccop,omitempty"`
	CCDep1 *uint64 `yaml:"ccdep1,omitempty"`
	CCDep2 *uint64 `yaml:"ccdep2,omitempty"`
	CCNDep *uint64 `yaml:"ccndep,omitempty"`
	DFlag  *uint64 `yaml:"dflag,omitempty"`
	ACFlag *uint64 `yaml:"acflag,omitempty"`
	IDFlag *uint64 `yaml:"idflag,omitempty"`

	FSConst *uint64 `yaml:"fsconst,omitempty"`
	GSConst *uint64 `yaml:"gsconst,omitempty"`

	ZMM      map[int]string `yaml:"zmm,omitempty"`
	K        []uint64       `yaml:"k,omitempty"`
	SSERound *uint64        `yaml:"sseround,omitempty"`

	FTop    *uint32   `yaml:"ftop,omitempty"`
	FPReg   []float64 `yaml:"fpreg,omitempty"`
	FPTag   []int     `yaml:"fptag,omitempty"`
	FPRound *uint64   `yaml:"fpround,omitempty"`
	FC3210  *uint64   `yaml:"fc3210,omitempty"`
}

// LoadSnapshot reads a snapshot file and returns the threads it describes.
func LoadSnapshot(r io.Reader) (*Threads, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var f snapshotFile
	if err := yaml.UnmarshalStrict(buf, &f); err != nil {
		return nil, fmt.Errorf("could not parse snapshot: %w", err)
	}
	ts := NewThreads()
	for _, st := range f.Threads {
		if _, dup := ts.Thread(st.ID); dup {
			return nil, fmt.Errorf("thread %d described twice", st.ID)
		}
		t := ts.Add(st.ID)
		for v, ss := range []*snapshotState{st.Real, st.Shadow1, st.Shadow2} {
			if ss == nil {
				continue
			}
			if err := ss.apply(t.View(View(v))); err != nil {
				return nil, fmt.Errorf("thread %d, %s view: %w", st.ID, View(v), err)
			}
		}
	}
	return ts, nil
}

func setu64(dst *uint64, src *uint64) {
	if src != nil {
		*dst = *src
	}
}

func (ss *snapshotState) apply(s *AMD64State) error {
	for _, f := range []struct {
		dst *uint64
		src *uint64
	}{
		{&s.RAX, ss.RAX}, {&s.RBX, ss.RBX}, {&s.RCX, ss.RCX}, {&s.RDX, ss.RDX},
		{&s.RSI, ss.RSI}, {&s.RDI, ss.RDI}, {&s.RBP, ss.RBP}, {&s.RSP, ss.RSP},
		{&s.R8, ss.R8}, {&s.R9, ss.R9}, {&s.R10, ss.R10}, {&s.R11, ss.R11},
		{&s.R12, ss.R12}, {&s.R13, ss.R13}, {&s.R14, ss.R14}, {&s.R15, ss.R15},
		{&s.RIP, ss.RIP},
		{&s.CCDep1, ss.CCDep1}, {&s.CCDep2, ss.CCDep2}, {&s.CCNDep, ss.CCNDep},
		{&s.DFlag, ss.DFlag}, {&s.ACFlag, ss.ACFlag}, {&s.IDFlag, ss.IDFlag},
		{&s.FSConst, ss.FSConst}, {&s.GSConst, ss.GSConst},
		{&s.SSERound, ss.SSERound}, {&s.FPRound, ss.FPRound}, {&s.FC3210, ss.FC3210},
	} {
		setu64(f.dst, f.src)
	}
	if ss.CCOp != nil {
		s.CCOp = CCOp(*ss.CCOp)
	}
	if ss.FTop != nil {
		s.FTop = *ss.FTop
	}
	for n, h := range ss.ZMM {
		if n < 0 || n >= len(s.ZMM) {
			return fmt.Errorf("no such vector register zmm%d", n)
		}
		b, err := hex.DecodeString(h)
		if err != nil {
			return fmt.Errorf("zmm%d: %w", n, err)
		}
		if len(b) > len(s.ZMM[n]) {
			return fmt.Errorf("zmm%d: value is %d bytes long", n, len(b))
		}
		copy(s.ZMM[n][:], b)
	}
	if len(ss.K) > len(s.K) || len(ss.FPReg) > len(s.FPReg) || len(ss.FPTag) > len(s.FPTag) {
		return fmt.Errorf("too many k, fpreg or fptag values")
	}
	copy(s.K[:], ss.K)
	for i, f := range ss.FPReg {
		s.FPReg[i] = math.Float64bits(f)
	}
	for i, tag := range ss.FPTag {
		s.FPTag[i] = uint8(tag)
	}
	return nil
}

// WriteSnapshot writes the state of every thread of ts to w, in the format
// read by LoadSnapshot.
func WriteSnapshot(w io.Writer, ts *Threads) error {
	var f snapshotFile
	for _, tid := range ts.IDs() {
		t, _ := ts.Thread(tid)
		f.Threads = append(f.Threads, snapshotThread{
			ID:      tid,
			Real:    snapshotOf(t.View(Real)),
			Shadow1: snapshotOf(t.View(Shadow1)),
			Shadow2: snapshotOf(t.View(Shadow2)),
		})
	}
	buf, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func snapshotOf(s *AMD64State) *snapshotState {
	u := func(v uint64) *uint64 { return &v }
	ss := &snapshotState{
		RAX: u(s.RAX), RBX: u(s.RBX), RCX: u(s.RCX), RDX: u(s.RDX),
		RSI: u(s.RSI), RDI: u(s.RDI), RBP: u(s.RBP), RSP: u(s.RSP),
		R8: u(s.R8), R9: u(s.R9), R10: u(s.R10), R11: u(s.R11),
		R12: u(s.R12), R13: u(s.R13), R14: u(s.R14), R15: u(s.R15),
		RIP: u(s.RIP),

		CCOp: u(uint64(s.CCOp)), CCDep1: u(s.CCDep1), CCDep2: u(s.CCDep2), CCNDep: u(s.CCNDep),
		DFlag: u(s.DFlag), ACFlag: u(s.ACFlag), IDFlag: u(s.IDFlag),
		FSConst: u(s.FSConst), GSConst: u(s.GSConst),

		K:        append([]uint64(nil), s.K[:]...),
		SSERound: u(s.SSERound),

		FTop:    &s.FTop,
		FPRound: u(s.FPRound),
		FC3210:  u(s.FC3210),
	}
	for i, f := range s.FPReg {
		ss.FPReg = append(ss.FPReg, math.Float64frombits(f))
		ss.FPTag = append(ss.FPTag, int(s.FPTag[i]))
	}
	var zero [64]byte
	for n := range s.ZMM {
		if s.ZMM[n] != zero {
			if ss.ZMM == nil {
				ss.ZMM = make(map[int]string)
			}
			ss.ZMM[n] = hex.EncodeToString(s.ZMM[n][:])
		}
	}
	return ss
}
