// Package config defines the CLI structure and configuration for portctrl.
package config

import (
	"github.com/Alia5/portctrl/internal/cmd"
)

type Log struct {
	Level string `help:"Log level: trace, debug, info, warn, error" default:"info" env:"PORTCTRL_LOG_LEVEL"`
	File  string `help:"Log file path (default: none; logs only to console)" env:"PORTCTRL_LOG_FILE"`
}

// CLI is the root command structure for Kong CLI parsing.
type CLI struct {
	Log `embed:"" prefix:"log."`

	Config  string `help:"Configuration file (.json, .yaml or .toml)" type:"path" env:"PORTCTRL_CONFIG"`
	Backend string `help:"Codec backend: auto, interpreter or native" default:"auto" enum:"auto,interpreter,interp,native,jit" env:"PORTCTRL_BACKEND"`

	Inspect  cmd.Inspect  `cmd:"" help:"Show the planned layout of a port"`
	Encode   cmd.Encode   `cmd:"" help:"Serialize a controller state to a movie line"`
	Decode   cmd.Decode   `cmd:"" help:"Parse movie lines into controller states"`
	Verify   cmd.Verify   `cmd:"" help:"Cross-check the native codec against the interpreter"`
	Dump     cmd.Dump     `cmd:"" help:"Write the generated machine code of a port"`
	Bindings cmd.Bindings `cmd:"" help:"Generate C and Rust definitions of a port's state layout"`
	Presets  cmd.Presets  `cmd:"" help:"List built-in port descriptors"`
}
