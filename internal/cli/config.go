// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyshard.
//
// go-keyshard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keyshard/internal/config"
)

// Settings holds the global CLI options resolved from flags and
// KEYSHARD_* environment variables.
type Settings struct {
	// ConfigFile is the YAML configuration used by serve and config show.
	ConfigFile string

	// OutputFormat is text or json
	OutputFormat string

	Verbose bool
}

// NewSettings returns the defaults used before flags are parsed.
func NewSettings() *Settings {
	return &Settings{
		OutputFormat: string(OutputFormatText),
	}
}

func (s *Settings) load(v *viper.Viper) error {
	s.ConfigFile = v.GetString("config")
	s.OutputFormat = strings.ToLower(v.GetString("output"))
	s.Verbose = v.GetBool("verbose")

	if !validFormat(s.OutputFormat) {
		return fmt.Errorf("unknown output format: %s (must be text or json)", s.OutputFormat)
	}
	return nil
}

// LoadConfig reads the server configuration named by --config. Without a
// file the defaults and KEYSHARD_* overrides apply.
func (s *Settings) LoadConfig() (*config.Config, error) {
	return config.Load(s.ConfigFile)
}

// Printer returns a printer for the selected output format.
func (s *Settings) Printer(w io.Writer) *Printer {
	return NewPrinter(s.OutputFormat, w)
}
