package cmds

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baseline selects a linux guest on a host without AVX, regardless of the
// machine running the tests.
var baseline = []string{"--os", "linux", "--avx=false", "--avx512=false"}

func run(t *testing.T, configFile string, args ...string) (string, error) {
	t.Helper()
	if configFile == "" {
		configFile = filepath.Join(t.TempDir(), "config.yml")
	}
	cmd := New()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config", configFile}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, "", args...)
	require.NoError(t, err, out)
	return out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))
	return path
}

func TestCatalog(t *testing.T) {
	out := mustRun(t, append([]string{"catalog"}, baseline...)...)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 147)
	assert.Equal(t, []string{"0", "rax", "0", "64"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"57", "orig_rax"}, strings.Fields(lines[58])[:2], lines[58])
	assert.Contains(t, lines[59], "not live")
	assert.NotContains(t, lines[58], "not live")
}

func TestFeatures(t *testing.T) {
	out := mustRun(t, append([]string{"features", "--shadow"}, baseline...)...)
	assert.Contains(t, out, "live:        58 of 146\n")
	assert.Contains(t, out, "views:       3\n")
	assert.Contains(t, out, "registers:   174\n")
	assert.Contains(t, out, "sp regno:    7\n")
	assert.Contains(t, out, "expedited:   rbp rsp rip\n")

	out = mustRun(t, "features", "--os", "other", "--avx", "--avx512=false")
	assert.Contains(t, out, "vector:      avx\n")
	assert.Contains(t, out, "live:        73 of 145\n")
	assert.Contains(t, out, "views:       1\n")
}

func TestFeaturesFromConfig(t *testing.T) {
	configFile := writeFile(t, "config.yml", "shadow-registers: true\nos: linux\navx: true\navx512: false\n")
	out, err := run(t, configFile, "features")
	require.NoError(t, err, out)
	assert.Contains(t, out, "live:        74 of 146\n")
	assert.Contains(t, out, "views:       3\n")

	// Command line flags win over the configuration file.
	out, err = run(t, configFile, "features", "--shadow=false")
	require.NoError(t, err, out)
	assert.Contains(t, out, "views:       1\n")

	_, err = run(t, writeFile(t, "config.yml", "nosuchkey: 1\n"), "features")
	assert.Error(t, err)
}

func TestDescriptor(t *testing.T) {
	assert.Equal(t, "amd64-linux-valgrind.xml\n", mustRun(t, append([]string{"descriptor", "--shadow"}, baseline...)...))
	assert.Equal(t, "amd64-avx-linux.xml\n", mustRun(t, "descriptor", "--os", "linux", "--avx", "--avx512=false"))

	_, err := run(t, "", append([]string{"descriptor"}, baseline...)...)
	assert.Equal(t, errNoDescriptor, err)
}

func TestDescriptorVerify(t *testing.T) {
	xml := mustRun(t, append([]string{"descriptor", "--shadow", "--xml"}, baseline...)...)
	assert.True(t, strings.HasPrefix(xml, "<?xml"))

	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "amd64-linux-valgrind.xml"), []byte(xml), 0600))
	out := mustRun(t, append([]string{"descriptor", "--shadow", "--verify", dir}, baseline...)...)
	assert.Equal(t, "amd64-linux-valgrind.xml: 174 registers ok\n", out)

	// A description of the single view configuration does not describe
	// the shadow registers.
	xml = mustRun(t, append([]string{"descriptor", "--xml"}, baseline...)...)
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "amd64-linux-valgrind.xml"), []byte(xml), 0600))
	_, err := run(t, "", append([]string{"descriptor", "--shadow", "--verify", dir}, baseline...)...)
	assert.Error(t, err)
}

const testState = `threads:
- id: 1
  real:
    rip: 0x401000
- id: 2
  real:
    rip: 0x402000
  shadow1:
    rax: 0xffffffffffffffff
`

func TestRegs(t *testing.T) {
	state := writeFile(t, "state.yml", testState)

	out := mustRun(t, append([]string{"regs", "--state", state}, baseline...)...)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 58)
	assert.Contains(t, out, "0x0000000000401000")

	out = mustRun(t, append([]string{"regs", "--state", state, "--thread", "2", "--shadow", "shadow1"}, baseline...)...)
	assert.Contains(t, out, "0xffffffffffffffff")
	assert.NotContains(t, out, "0x0000000000402000")

	_, err := run(t, "", append([]string{"regs", "--state", state, "shadow1"}, baseline...)...)
	assert.Error(t, err)

	_, err = run(t, "", append([]string{"regs", "--state", state, "--thread", "9"}, baseline...)...)
	assert.Error(t, err)

	_, err = run(t, "", append([]string{"regs", "--state", writeFile(t, "bad.yml", "threads: 3\n")}, baseline...)...)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "version")
	assert.True(t, strings.HasPrefix(out, "vgregs\nVersion: "), out)
}

func TestLogWithoutLogFlag(t *testing.T) {
	_, err := run(t, "", append([]string{"features", "--log-output", "target"}, baseline...)...)
	assert.Error(t, err)
}
