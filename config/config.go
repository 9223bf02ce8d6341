// Package config holds minivm's runtime tuning knobs: stack and call
// depth capacities, GC thresholds, and symbol table ceilings. Grounded
// on lookbusy1344-arm_emulator/config/config.go's nested-struct,
// toml-tagged Config plus a DefaultConfig/Load pair; minivm uses the
// same shape scaled down to the sections a bytecode VM actually needs.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is minivm's full set of tunables.
type Config struct {
	VM struct {
		StackSize int `toml:"stack_size"`
		CallDepth int `toml:"call_depth"`
	} `toml:"vm"`

	GC struct {
		InitialThreshold int `toml:"initial_threshold"`
	} `toml:"gc"`

	Limits struct {
		MaxGlobals int `toml:"max_globals"`
		MaxProcs   int `toml:"max_procs"`
		MaxForeign int `toml:"max_foreign"`
	} `toml:"limits"`
}

// DefaultConfig returns the configuration minivm runs with when no
// config file is given: the capacities spec.md §4.4/§4.5 names
// (4096-slot operand stack, 1024-deep call stack, GC threshold starting
// at 2) with unlimited symbol tables.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.VM.StackSize = 4096
	cfg.VM.CallDepth = 1024
	cfg.GC.InitialThreshold = 2
	cfg.Limits.MaxGlobals = 0
	cfg.Limits.MaxProcs = 0
	cfg.Limits.MaxForeign = 0
	return cfg
}

// Load reads a TOML config file, falling back to DefaultConfig if path
// does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %q", path)
	}
	return cfg, nil
}
