package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"

	"github.com/vgstub/vgregs/pkg/proc/features"
	"github.com/vgstub/vgregs/pkg/proc/target"
)

const (
	configDir  string = ".vgregs"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases of the shell.
	Aliases map[string][]string `yaml:"aliases"`

	// AVX and AVX512 force the availability of the corresponding vector
	// register tiers instead of asking the host CPU.
	AVX    *bool `yaml:"avx,omitempty"`
	AVX512 *bool `yaml:"avx512,omitempty"`

	// ShadowRegisters exposes the two shadow register views.
	ShadowRegisters bool `yaml:"shadow-registers"`

	// OS selects the guest OS family ("linux" or "other"), defaults to
	// the host's.
	OS string `yaml:"os,omitempty"`

	// LogOutput is the default list of log layers enabled by --log.
	LogOutput string `yaml:"log-output,omitempty"`

	// RegisterCacheSize is the number of register blobs kept in the
	// register cache.
	RegisterCacheSize *int `yaml:"register-cache-size,omitempty"`
}

// Detector returns base with the vector tiers forced by c applied.
func (c *Config) Detector(base features.Detector) features.Detector {
	if c.AVX == nil && c.AVX512 == nil {
		return base
	}
	return features.Override{Base: base, AVX: c.AVX, AVX512: c.AVX512}
}

// OSFamily returns the guest OS family selected by c.
func (c *Config) OSFamily() (target.OSFamily, error) {
	if c.OS == "" {
		return target.HostOS(), nil
	}
	return target.ParseOSFamily(c.OS)
}

// CacheSize returns the configured register cache size, 0 for the default.
func (c *Config) CacheSize() int {
	if c.RegisterCacheSize == nil {
		return 0
	}
	return *c.RegisterCacheSize
}

// LoadConfig attempts to populate a Config object from the config.yml file
// at path. An empty path selects the default location, where a commented
// default configuration is created on first use. A missing file yields the
// default configuration.
func LoadConfig(fullConfigFile string) (*Config, error) {
	if fullConfigFile == "" {
		if err := createConfigPath(); err != nil {
			return nil, fmt.Errorf("could not create config directory: %w", err)
		}
		var err error
		fullConfigFile, err = GetConfigFilePath(configFile)
		if err != nil {
			return nil, fmt.Errorf("unable to get config file path: %w", err)
		}
		if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
			if err := createDefaultConfig(fullConfigFile); err != nil {
				return nil, fmt.Errorf("error creating default config file: %w", err)
			}
		}
	}

	data, err := ioutil.ReadFile(fullConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}

	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %w", fullConfigFile, err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config, fullConfigFile string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %w", err)
	}
	defer f.Close()
	if err := writeDefaultConfig(f); err != nil {
		return fmt.Errorf("unable to write default configuration: %w", err)
	}
	return nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for vgregs.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given shell command.
aliases:
  # command: ["alias1", "alias2"]

# Force the availability of vector register tiers instead of asking the CPU.
# avx: false
# avx512: false

# Expose the two shadow register views after the real registers.
# shadow-registers: true

# Guest OS family, linux or other. Defaults to the host's.
# os: linux

# Log layers enabled by --log when --log-output is not given.
# log-output: target,transfer

# Number of register blobs kept in the register cache.
# register-cache-size: 64
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// DefaultConfigFile returns the path of the configuration file used when
// none is given.
func DefaultConfigFile() (string, error) {
	return GetConfigFilePath(configFile)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
