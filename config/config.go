package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the driver and monitor configuration
type Config struct {
	// Execution settings
	Execution struct {
		MemorySize       uint32 `toml:"memory_size"`
		MaxInstructions  int    `toml:"max_instructions"` // per execute call, -1 = unbounded
		SyscallTableSize int    `toml:"syscall_table_size"`
		EnableTrace      bool   `toml:"enable_trace"`
		EnableStats      bool   `toml:"enable_stats"`
	} `toml:"execution"`

	// Display settings for register and memory dumps
	Display struct {
		BytesPerLine int    `toml:"bytes_per_line"`
		NumberFormat string `toml:"number_format"` // hex, dec, both
		ColorOutput  bool   `toml:"color_output"`
	} `toml:"display"`

	// Monitor (TUI) settings
	Monitor struct {
		MemoryWindow  uint32 `toml:"memory_window"`  // bytes shown in the memory pane
		FollowStack   bool   `toml:"follow_stack"`   // keep the stack pane pinned to %stk
		OutputHistory int    `toml:"output_history"` // lines kept in the output pane
	} `toml:"monitor"`

	// Trace settings
	Trace struct {
		OutputFile string `toml:"output_file"`
		Format     string `toml:"format"` // text, json
		MaxEntries int    `toml:"max_entries"`
	} `toml:"trace"`

	// Statistics settings
	Statistics struct {
		OutputFile string `toml:"output_file"`
		Format     string `toml:"format"` // text, json, csv
	} `toml:"statistics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Execution defaults. The memory size default matches the reference
	// driver's 256-word image.
	cfg.Execution.MemorySize = 1024
	cfg.Execution.MaxInstructions = -1
	cfg.Execution.SyscallTableSize = 256
	cfg.Execution.EnableTrace = false
	cfg.Execution.EnableStats = false

	// Display defaults
	cfg.Display.BytesPerLine = 16
	cfg.Display.NumberFormat = "hex"
	cfg.Display.ColorOutput = true

	// Monitor defaults
	cfg.Monitor.MemoryWindow = 256
	cfg.Monitor.FollowStack = true
	cfg.Monitor.OutputHistory = 500

	// Trace defaults
	cfg.Trace.OutputFile = "trace.log"
	cfg.Trace.Format = "text"
	cfg.Trace.MaxEntries = 100000

	// Statistics defaults
	cfg.Statistics.OutputFile = "stats.json"
	cfg.Statistics.Format = "json"

	return cfg
}

// configFileName is looked up under the per-user config directory.
const configFileName = "config.toml"

// GetConfigPath returns where the user's config file lives:
// <os.UserConfigDir>/twine/config.toml on every supported platform. When the
// user config directory is unavailable, or its twine subdirectory cannot be
// made, the working directory is used instead.
func GetConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return configFileName
	}
	dir := filepath.Join(base, "twine")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return configFileName
	}
	return filepath.Join(dir, configFileName)
}

// Load reads the user's config file. A machine with no config file gets the
// defaults.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom decodes path over the defaults, so a partial file only overrides
// the sections it names. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to its default location.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo writes the config as TOML, making parent directories as needed.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path) // #nosec G304 -- path chosen by the operator
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}
