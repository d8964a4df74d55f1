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


// Package cli implements the keyshard command line.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment prefix for global flags, for example
// KEYSHARD_OUTPUT=json.
const EnvPrefix = "KEYSHARD"

// NewRootCommand builds the keyshard command tree. Each call returns a fresh
// tree with its own flag state.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *Settings) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	settings := NewSettings()

	root := &cobra.Command{
		Use:   "keyshard",
		Short: "keyshard - Shamir secret sharing and sharded key custody",
		Long: `keyshard splits secrets into threshold shares over GF(2^8) and
recombines them. The serve command runs an HTTP service that seals files
under a random data key whose shares are held in storage until enough of
them are gathered to open the file again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return settings.load(v)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file for the serve command")
	flags.StringP("output", "o", string(OutputFormatText), "output format (text, json)")
	flags.BoolP("verbose", "v", false, "verbose output")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		newSplitCommand(settings),
		newCombineCommand(settings),
		newServeCommand(settings, v),
		newConfigCommand(settings),
		newVersionCommand(settings),
	)
	return root, settings
}

// Execute runs the root command and reports any error on stderr.
func Execute() int {
	root, settings := newRootCommand()
	if err := root.Execute(); err != nil {
		handleError(root.ErrOrStderr(), settings, err)
		return 1
	}
	return 0
}

// handleError prints err in the selected output format, falling back to
// text when the format itself was invalid.
func handleError(w io.Writer, s *Settings, err error) {
	format := s.OutputFormat
	if !validFormat(format) {
		format = string(OutputFormatText)
	}
	_ = NewPrinter(format, w).PrintError(err)
}

// verbosef prints to stderr when --verbose is set.
func verbosef(cmd *cobra.Command, s *Settings, format string, args ...any) {
	if s.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}
