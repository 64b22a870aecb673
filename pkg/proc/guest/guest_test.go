package guest

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateFlags(t *testing.T) {
	testCases := []struct {
		name             string
		op               CCOp
		dep1, dep2, ndep uint64
		flags            uint64
	}{
		{"copy", CCOpCopy, 0xffffffff, 0, 0, FlagCF | FlagPF | FlagAF | FlagZF | FlagSF | FlagOF},
		{"addb carry", CCOpAddB, 0xff, 1, 0, FlagCF | FlagPF | FlagAF | FlagZF},
		{"addl overflow", CCOpAddL, 0x7fffffff, 1, 0, FlagPF | FlagAF | FlagSF | FlagOF},
		{"addq", CCOpAddQ, 1, 2, 0, FlagPF},
		{"subq borrow", CCOpSubQ, 1, 2, 0, FlagCF | FlagPF | FlagAF | FlagSF},
		{"subw equal", CCOpSubW, 0x1234, 0x1234, 0, FlagPF | FlagZF},
		{"adcb with carry", CCOpAdcB, 0xff, 0 ^ 1, 1, FlagCF | FlagPF | FlagAF | FlagZF},
		{"sbbb with carry", CCOpSbbB, 0, 0 ^ 1, 1, FlagCF | FlagPF | FlagAF | FlagSF},
		{"logicq zero", CCOpLogicQ, 0, 0, 0, FlagPF | FlagZF},
		{"logicb ignores high bits", CCOpLogicB, 0x100, 0, 0, FlagPF | FlagZF},
		{"incb overflow keeps carry", CCOpIncB, 0x80, 0, FlagCF, FlagCF | FlagAF | FlagSF | FlagOF},
		{"decl to zero", CCOpDecL, 0, 0, 0, FlagPF | FlagZF},
		{"decb underflow", CCOpDecB, 0x7f, 0, 0, FlagAF | FlagOF},
		{"shlb out of top", CCOpShlB, 0x00, 0x80, 0, FlagCF | FlagPF | FlagZF | FlagOF},
		{"shrq low bit", CCOpShrQ, 0x1, 0x3, 0, FlagCF},
		{"rolb keeps other flags", CCOpRolB, 0x81, 0, FlagZF | FlagOF, FlagCF | FlagZF},
		{"rolq overflow", CCOpRolQ, 0x1, 0, 0, FlagCF | FlagOF},
		{"rorb", CCOpRorB, 0x80, 0, FlagPF | FlagCF, FlagCF | FlagPF | FlagOF},
		{"rorl no carry", CCOpRorL, 0x40000000, 0, FlagCF, FlagOF},
		{"umulb high part", CCOpUmulB, 0x10, 0x10, 0, FlagCF | FlagPF | FlagZF | FlagOF},
		{"umulq high part", CCOpUmulQ, 1 << 63, 2, 0, FlagCF | FlagPF | FlagZF | FlagOF},
		{"umulq fits", CCOpUmulQ, 3, 5, 0, FlagPF},
		{"smulb negative fits", CCOpSmulB, 0xff, 0x02, 0, FlagSF},
		{"smulb overflow", CCOpSmulB, 0x40, 0x02, 0, FlagCF | FlagSF | FlagOF},
		{"smulq negative operands", CCOpSmulQ, ^uint64(0), ^uint64(0), 0, 0},
		{"smulq overflow", CCOpSmulQ, 1 << 62, 2, 0, FlagCF | FlagPF | FlagSF | FlagOF},
		{"andnl zero clears parity", CCOpAndnL, 0, 0, 0, FlagZF},
		{"andnq sign", CCOpAndnQ, 1 << 63, 0, 0, FlagSF},
		{"blsil nonzero source", CCOpBlsiL, 2, 6, 0, FlagCF},
		{"blsiq zero source", CCOpBlsiQ, 0, 0, 0, FlagZF},
		{"blsmskb zero source", CCOpBlsmskB, 0xff, 0, 0, FlagCF | FlagSF},
		{"blsrq to zero", CCOpBlsrQ, 0, 8, 0, FlagZF},
		{"blsrl zero source", CCOpBlsrL, 0, 0, 0, FlagCF | FlagZF},
		{"adcxq carry out", CCOpAdcxQ, ^uint64(0), 1, FlagOF, FlagCF | FlagOF},
		{"adoxl carry in", CCOpAdoxL, 0xffffffff, 0 ^ 1, FlagOF | FlagCF, FlagCF | FlagOF},
		{"adoxq clears overflow", CCOpAdoxQ, 1, 1 ^ 1, FlagOF | FlagZF, FlagZF},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			flags, ok := calculateFlags(tc.op, tc.dep1, tc.dep2, tc.ndep)
			require.True(t, ok)
			assert.Equal(t, tc.flags, flags, "got %#x expected %#x", flags, tc.flags)
		})
	}
}

func TestCalculateFlagsUnknownOp(t *testing.T) {
	flags, ok := calculateFlags(CCOpAdoxQ+1, 0xff, 0xff, 0xff)
	assert.False(t, ok)
	assert.Zero(t, flags)
}

func TestRFlags(t *testing.T) {
	var s AMD64State
	InitAMD64State(&s)
	assert.Zero(t, s.RFlags())

	s.CCOp = CCOpLogicL
	s.CCDep1 = 0
	s.DFlag = ^uint64(0)
	s.IDFlag = 1
	s.ACFlag = 1
	assert.Equal(t, uint64(FlagPF|FlagZF|FlagDF|FlagID|FlagAC), s.RFlags())
}

func TestThreads(t *testing.T) {
	ts := NewThreads()
	th := ts.Add(3)
	ts.Add(1)
	assert.Equal(t, []ThreadID{1, 3}, ts.IDs())

	th.View(Real).RAX = 42
	th.View(Shadow2).RAX = 7
	assert.Equal(t, uint64(42), ts.State(3, Real).RAX)
	assert.Equal(t, uint64(7), ts.State(3, Shadow2).RAX)
	assert.Equal(t, uint64(1), ts.State(3, Real).DFlag)
	assert.Zero(t, ts.State(3, Shadow1).DFlag)

	assert.Nil(t, ts.State(2, Real))
	assert.Nil(t, ts.State(3, View(3)))

	ts.Add(3)
	assert.Zero(t, ts.State(3, Real).RAX)
	ts.Remove(3)
	assert.Equal(t, []ThreadID{1}, ts.IDs())
}

const testSnapshot = `
threads:
- id: 1
  real:
    rip: 0x401000
    rsp: 0x7ffc0000
    dflag: 0xffffffffffffffff
    fpreg: [1.5, -2]
    fptag: [1, 1]
    ftop: 6
    zmm:
      2: "000102030405060708090a0b0c0d0e0f10"
  shadow1:
    rax: 0xffffffffffffffff
- id: 2
`

func TestLoadSnapshot(t *testing.T) {
	ts, err := LoadSnapshot(strings.NewReader(testSnapshot))
	require.NoError(t, err)
	assert.Equal(t, []ThreadID{1, 2}, ts.IDs())

	s := ts.State(1, Real)
	assert.Equal(t, uint64(0x401000), s.RIP)
	assert.Equal(t, uint64(0x7ffc0000), s.RSP)
	assert.Equal(t, ^uint64(0), s.DFlag)
	assert.Equal(t, math.Float64bits(1.5), s.FPReg[0])
	assert.Equal(t, math.Float64bits(-2), s.FPReg[1])
	assert.Equal(t, [8]uint8{1, 1}, s.FPTag)
	assert.Equal(t, uint32(6), s.FTop)
	assert.Equal(t, byte(0x10), s.ZMM[2][16])
	assert.Equal(t, ^uint64(0), ts.State(1, Shadow1).RAX)
	assert.Equal(t, CCOpCopy, ts.State(2, Real).CCOp)
	assert.Equal(t, uint64(1), ts.State(2, Real).DFlag)

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, ts))
	again, err := LoadSnapshot(&buf)
	require.NoError(t, err)
	for _, tid := range ts.IDs() {
		for _, v := range Views {
			assert.Equal(t, *ts.State(tid, v), *again.State(tid, v), "thread %d view %s", tid, v)
		}
	}
}

func TestLoadSnapshotErrors(t *testing.T) {
	for _, src := range []string{
		"threads:\n- id: 1\n- id: 1\n",
		"threads:\n- id: 1\n  real:\n    zmm:\n      32: \"00\"\n",
		"threads:\n- id: 1\n  real:\n    zmm:\n      0: \"zz\"\n",
		"threads:\n- id: 1\n  real:\n    nosuchfield: 1\n",
		"threads:\n- id: 1\n  real:\n    k: [1, 2, 3, 4, 5, 6, 7, 8, 9]\n",
	} {
		_, err := LoadSnapshot(strings.NewReader(src))
		assert.Error(t, err, src)
	}
}
