package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vgstub/vgregs/pkg/regdef"
)

func TestLiveCount(t *testing.T) {
	full := regdef.AMD64Linux.Len()
	testCases := []struct {
		tiers Tiers
		live  int
	}{
		{Tiers{}, full - regdef.AMD64AVX512Regs - regdef.AMD64AVXRegs},
		{Tiers{AVX: true}, full - regdef.AMD64AVX512Regs},
		{Tiers{AVX: true, AVX512: true}, full},
		// AVX-512 without AVX can not be expressed by truncation.
		{Tiers{AVX512: true}, full - regdef.AMD64AVX512Regs - regdef.AMD64AVXRegs},
	}
	for _, tc := range testCases {
		if live := LiveCount(full, tc.tiers); live != tc.live {
			t.Errorf("LiveCount(%d, %+v) = %d, expected %d", full, tc.tiers, live, tc.live)
		}
	}
}

func TestLiveCountEndsOnBlockBoundary(t *testing.T) {
	c := regdef.AMD64Linux
	assert.Equal(t, "mxcsr", c.At(LiveCount(c.Len(), Tiers{})-2).Name)
	assert.Equal(t, "orig_rax", c.At(LiveCount(c.Len(), Tiers{})-1).Name)
	assert.Equal(t, "ymm15h", c.At(LiveCount(c.Len(), Tiers{AVX: true})-1).Name)
}

func TestOverride(t *testing.T) {
	yes, no := true, false
	base := Static{AVX: true, AVX512: true}

	assert.Equal(t, Tiers{AVX: true}, Override{Base: base, AVX512: &no}.Detect())
	assert.Equal(t, Tiers{}, Override{Base: base, AVX: &no}.Detect())
	assert.Equal(t, Tiers{AVX: true, AVX512: true}, Override{Base: Static{}, AVX: &yes, AVX512: &yes}.Detect())
	assert.Equal(t, Tiers{AVX: true, AVX512: true}, Override{Base: base}.Detect())
}

func TestHostIsStable(t *testing.T) {
	first := Host.Detect()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, Host.Detect())
	}
	assert.Equal(t, first, first.Normalize())
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(regdef.AMD64, Static{AVX: true}, 3)
	require.NoError(t, err)
	assert.Equal(t, regdef.AMD64.Len()-regdef.AMD64AVX512Regs, cfg.Live)
	assert.True(t, cfg.Shadow())
	assert.Equal(t, cfg.Live*3, cfg.NumRegs())

	_, err = NewConfig(regdef.AMD64, Static{}, 0)
	assert.Error(t, err)
	_, err = NewConfig(regdef.AMD64, Static{}, 4)
	assert.Error(t, err)
}
