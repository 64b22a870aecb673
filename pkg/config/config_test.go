package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vgstub/vgregs/pkg/proc/features"
	"github.com/vgstub/vgregs/pkg/proc/target"
)

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "vgregs-config")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestLoadConfigMissing(t *testing.T) {
	c, err := LoadConfig(filepath.Join(tempDir(t), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, c)
	assert.Zero(t, c.CacheSize())

	family, err := c.OSFamily()
	require.NoError(t, err)
	assert.Equal(t, target.HostOS(), family)

	host := features.Static{AVX: true}
	assert.Equal(t, features.Detector(host), c.Detector(host))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(tempDir(t), configFile)
	require.NoError(t, ioutil.WriteFile(path, []byte(`
aliases:
  regs: ["r"]
avx: true
avx512: false
shadow-registers: true
os: other
log-output: transfer,regcache
register-cache-size: 8
`), 0600))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, c.Aliases["regs"])
	assert.True(t, c.ShadowRegisters)
	assert.Equal(t, "transfer,regcache", c.LogOutput)
	assert.Equal(t, 8, c.CacheSize())

	family, err := c.OSFamily()
	require.NoError(t, err)
	assert.Equal(t, target.Other, family)

	tiers := c.Detector(features.Static{AVX: false, AVX512: true}).Detect()
	assert.Equal(t, features.Tiers{AVX: true, AVX512: false}, tiers)

	require.NoError(t, SaveConfig(c, path))
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestLoadConfigErrors(t *testing.T) {
	path := filepath.Join(tempDir(t), configFile)
	require.NoError(t, ioutil.WriteFile(path, []byte("avx: maybe\n"), 0600))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, ioutil.WriteFile(path, []byte("no-such-option: 1\n"), 0600))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	c := &Config{OS: "plan10"}
	_, err = c.OSFamily()
	assert.Error(t, err)
}

func TestDefaultConfigParses(t *testing.T) {
	path := filepath.Join(tempDir(t), configFile)
	require.NoError(t, createDefaultConfig(path))
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, c.ShadowRegisters)
	assert.Nil(t, c.AVX)
}
