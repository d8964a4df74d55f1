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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
)

func newCombineCommand(settings *Settings) *cobra.Command {
	var (
		dir string
		raw bool
	)

	cmd := &cobra.Command{
		Use:   "combine [SHARE...]",
		Short: "Recover a secret from shares",
		Long: `Recover a secret from at least threshold shares given as arguments or
read from the share-*.txt files in --dir. The secret is printed as hex
unless --raw is set.

Combining fewer shares than the threshold yields unrelated bytes, not an
error: shares carry no integrity check.`,
		Example: `  keyshard combine 01-a3f2... 03-77c1... 04-0b9e...
  keyshard combine --dir ./shares --raw > secret.bin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := collectShares(args, dir)
			if err != nil {
				return err
			}
			verbosef(cmd, settings, "combining %d shares", len(shares))

			secret, err := secretsharing.Combine(shares)
			if err != nil {
				return err
			}
			defer clear(secret)
			return settings.Printer(cmd.OutOrStdout()).PrintSecret(secret, len(shares), raw)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "read share-*.txt files from this directory")
	cmd.Flags().BoolVar(&raw, "raw", false, "write the secret as raw bytes instead of hex")
	return cmd
}

func collectShares(args []string, dir string) ([]secretsharing.Share, error) {
	texts := slices.Clone(args)
	if dir != "" {
		matches, err := filepath.Glob(filepath.Join(dir, "share-*.txt"))
		if err != nil {
			return nil, err
		}
		slices.Sort(matches)
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil {
				return nil, fmt.Errorf("read share: %w", err)
			}
			texts = append(texts, string(data))
		}
	}
	if len(texts) == 0 {
		return nil, errors.New("no shares given")
	}

	shares := make([]secretsharing.Share, len(texts))
	for i, t := range texts {
		s, err := secretsharing.ParseShare(t)
		if err != nil {
			return nil, fmt.Errorf("share %d: %w", i+1, err)
		}
		shares[i] = s
	}
	return shares, nil
}
