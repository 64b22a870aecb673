package target

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vgstub/vgregs/pkg/proc/features"
	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/regdef"
)

func TestSelectDescriptor(t *testing.T) {
	testCases := []struct {
		os     OSFamily
		shadow bool
		avx    bool
		name   string
	}{
		{Linux, true, true, "amd64-avx-linux-valgrind.xml"},
		{Linux, true, false, "amd64-linux-valgrind.xml"},
		{Linux, false, true, "amd64-avx-linux.xml"},
		{Linux, false, false, ""},
		{Other, true, true, "amd64-avx-coresse-valgrind.xml"},
		{Other, true, false, "amd64-coresse-valgrind.xml"},
		{Other, false, true, "amd64-avx-coresse.xml"},
		{Other, false, false, ""},
	}
	for _, tc := range testCases {
		name, ok := SelectDescriptor(tc.avx, tc.shadow, tc.os)
		assert.Equal(t, tc.name != "", ok, "%s shadow=%v avx=%v", tc.os, tc.shadow, tc.avx)
		assert.Equal(t, tc.name, name, "%s shadow=%v avx=%v", tc.os, tc.shadow, tc.avx)
	}
}

func TestParseOSFamily(t *testing.T) {
	family, err := ParseOSFamily("Linux")
	require.NoError(t, err)
	assert.Equal(t, Linux, family)
	family, err = ParseOSFamily("darwin")
	require.NoError(t, err)
	assert.Equal(t, Other, family)
	_, err = ParseOSFamily("plan10")
	assert.Error(t, err)
}

func newTarget(t *testing.T, family OSFamily, shadow bool, tiers features.Tiers) (*Target, *guest.Threads) {
	t.Helper()
	ts := guest.NewThreads()
	ts.Add(1)
	tgt, err := New(Config{OS: family, Shadow: shadow, Detector: features.Static(tiers), States: ts})
	require.NoError(t, err)
	return tgt, ts
}

// The scenario of a baseline linux host with shadow registers enabled.
func TestNewBaselineShadow(t *testing.T) {
	tgt, ts := newTarget(t, Linux, true, features.Tiers{})
	assert.Equal(t, 58, tgt.Features.Live)
	assert.Equal(t, 3, tgt.Features.Views)
	assert.Equal(t, 174, tgt.NumRegs())
	name, ok := tgt.Descriptor()
	assert.True(t, ok)
	assert.Equal(t, "amd64-linux-valgrind.xml", name)
	assert.Equal(t, 7, tgt.StackPointerRegno())
	assert.Equal(t, "rsp", tgt.Features.Catalog.At(tgt.StackPointerRegno()).Name)
	assert.Equal(t, []string{"rbp", "rsp", "rip"}, tgt.ExpeditedRegisters())

	s := ts.State(1, guest.Real)
	s.RIP = 0x401000
	s.FSConst = 0x7f0000000000
	assert.Equal(t, uint64(0x401000), tgt.PC(1))
	assert.True(t, tgt.SetPC(1, 0x401008))
	assert.False(t, tgt.SetPC(1, 0x401008))
	assert.Equal(t, uint64(0x401008), s.RIP)

	dtv, err := tgt.TLSVectorAddr(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7f0000000008), dtv)
	_, err = tgt.TLSVectorAddr(2)
	assert.Error(t, err)
}

func TestNewTiers(t *testing.T) {
	tgt, _ := newTarget(t, Other, false, features.Tiers{AVX: true, AVX512: true})
	assert.Equal(t, 145, tgt.NumRegs())
	name, _ := tgt.Descriptor()
	assert.Equal(t, "amd64-avx-coresse.xml", name)

	tgt, _ = newTarget(t, Linux, false, features.Tiers{})
	_, ok := tgt.Descriptor()
	assert.False(t, ok)
	assert.Equal(t, 58, tgt.NumRegs())

	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHostOS(t *testing.T) {
	assert.Equal(t, HostOS() == Linux, HostOS().Catalog() == regdef.AMD64Linux)
}

func memReader(docs map[string]string) DescriptorReader {
	return func(annex string) ([]byte, error) {
		doc, ok := docs[annex]
		if !ok {
			return nil, fmt.Errorf("no such annex %q", annex)
		}
		return []byte(doc), nil
	}
}

func TestWriteThenVerifyDescriptor(t *testing.T) {
	for _, tiers := range []features.Tiers{{}, {AVX: true}, {AVX: true, AVX512: true}} {
		for _, views := range []int{1, 3} {
			cfg, err := features.NewConfig(regdef.AMD64Linux, features.Static(tiers), views)
			require.NoError(t, err)
			var buf bytes.Buffer
			require.NoError(t, WriteDescriptor(&buf, cfg))

			regs, err := ReadDescriptor(memReader(map[string]string{"target.xml": buf.String()}), "target.xml")
			require.NoError(t, err)
			assert.NoError(t, VerifyDescriptor(regs, cfg), "%s, %d views", tiers, views)
		}
	}
}

const (
	testTarget = `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target>
  <architecture>i386:x86-64</architecture>
  <xi:include href="core.xml"/>
  <xi:include href="core-s1.xml"/>
</target>`
	testCore = `<?xml version="1.0"?>
<feature name="org.gnu.gdb.i386.core">
  <reg name="rax" bitsize="64" type="int64"/>
  <reg name="rbx" bitsize="64" type="int64"/>
</feature>`
	testCoreS1 = `<?xml version="1.0"?>
<feature name="org.gnu.gdb.i386.core.valgrind.s1">
  <reg name="raxs1" bitsize="64" type="int64" regnum="2"/>
  <reg name="rbxs1" bitsize="64" type="int64"/>
</feature>`
)

func TestReadDescriptorIncludes(t *testing.T) {
	docs := map[string]string{"target.xml": testTarget, "core.xml": testCore, "core-s1.xml": testCoreS1}
	regs, err := ReadDescriptor(memReader(docs), "target.xml")
	require.NoError(t, err)
	assert.Equal(t, []DescriptorRegister{
		{"rax", 64, 0}, {"rbx", 64, 1}, {"raxs1", 64, 2}, {"rbxs1", 64, 3},
	}, regs)

	cfg := features.Config{Catalog: regdef.AMD64Linux, Live: 2, Views: 2}
	assert.NoError(t, VerifyDescriptor(regs, cfg))

	regs[3].Bitsize = 32
	assert.True(t, errors.Is(VerifyDescriptor(regs, cfg), ErrDescriptorMismatch))
	regs[3].Bitsize, regs[3].Name = 64, "rcxs1"
	assert.True(t, errors.Is(VerifyDescriptor(regs, cfg), ErrDescriptorMismatch))
	regs[3].Name, regs[3].Regnum = "rbxs1", 4
	assert.True(t, errors.Is(VerifyDescriptor(regs, cfg), ErrDescriptorMismatch))
	assert.True(t, errors.Is(VerifyDescriptor(regs[:3], cfg), ErrDescriptorMismatch))

	delete(docs, "core-s1.xml")
	_, err = ReadDescriptor(memReader(docs), "target.xml")
	assert.Error(t, err)

	docs["loop.xml"] = `<target><xi:include href="loop.xml"/></target>`
	_, err = ReadDescriptor(memReader(docs), "loop.xml")
	assert.Error(t, err)
}

func TestDirReader(t *testing.T) {
	dir, err := ioutil.TempDir("", "vgregs-descriptor")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	for name, doc := range map[string]string{"target.xml": testTarget, "core.xml": testCore, "core-s1.xml": testCoreS1} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(doc), 0644))
	}
	regs, err := ReadDescriptor(DirReader(dir), "target.xml")
	require.NoError(t, err)
	assert.Len(t, regs, 4)

	_, err = DirReader(dir)("../target.xml")
	assert.Error(t, err)
}
