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
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-keyshard/pkg/custody"
)

// shareFilePattern names share files written by split --out-dir.
const shareFilePattern = "share-%02x.txt"

type splitOptions struct {
	shares    int
	threshold int
	in        string
	hex       string
	generate  int
	outDir    string
}

func newSplitCommand(settings *Settings) *cobra.Command {
	opts := &splitOptions{}

	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split a secret into threshold shares",
		Long: `Split a secret into N shares, any K of which recover it.

The secret comes from a file (--in, "-" for stdin), a hex string (--hex), or
is generated (--generate LEN) and printed alongside the shares. Shares are
printed one per line as "II-PAYLOAD" in hex, or written to --out-dir as
share-II.txt with 0600 permissions.`,
		Example: `  keyshard split --shares 5 --threshold 3 --generate 32
  keyshard split -n 3 -k 2 --hex deadbeef --out-dir ./shares
  echo -n secret | keyshard split --in -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplit(cmd, settings, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.shares, "shares", "n", custody.DefaultShares, "number of shares to create (1-255)")
	f.IntVarP(&opts.threshold, "threshold", "k", custody.DefaultThreshold, "shares required to recover the secret")
	f.StringVar(&opts.in, "in", "", `read the secret from a file ("-" for stdin)`)
	f.StringVar(&opts.hex, "hex", "", "secret as a hex string")
	f.IntVar(&opts.generate, "generate", 0, "generate a random secret of this many bytes")
	f.StringVar(&opts.outDir, "out-dir", "", "write each share to a file in this directory")
	cmd.MarkFlagsMutuallyExclusive("in", "hex", "generate")
	cmd.MarkFlagsOneRequired("in", "hex", "generate")

	return cmd
}

func runSplit(cmd *cobra.Command, settings *Settings, opts *splitOptions) error {
	secret, generated, err := readSecret(cmd.InOrStdin(), opts)
	if err != nil {
		return err
	}
	defer clear(secret)

	verbosef(cmd, settings, "splitting %d byte secret into %d shares, threshold %d",
		len(secret), opts.shares, opts.threshold)

	shares, err := secretsharing.Split(secret, opts.shares, opts.threshold)
	if err != nil {
		return err
	}

	res := &SplitResult{Threshold: opts.threshold, Shares: shares}
	if generated {
		res.Secret = secret
	}
	if opts.outDir != "" {
		files, err := writeShares(opts.outDir, shares)
		if err != nil {
			return err
		}
		res.Files = files
	}
	return settings.Printer(cmd.OutOrStdout()).PrintSplit(res)
}

func readSecret(stdin io.Reader, opts *splitOptions) (secret []byte, generated bool, err error) {
	switch {
	case opts.generate != 0:
		if opts.generate < 0 {
			return nil, false, fmt.Errorf("--generate must be positive, got %d", opts.generate)
		}
		secret = make([]byte, opts.generate)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			return nil, false, fmt.Errorf("generate secret: %w", err)
		}
		return secret, true, nil
	case opts.hex != "":
		secret, err = hex.DecodeString(strings.TrimSpace(opts.hex))
		if err != nil {
			return nil, false, fmt.Errorf("invalid --hex: %w", err)
		}
	case opts.in == "-":
		secret, err = io.ReadAll(stdin)
		if err != nil {
			return nil, false, fmt.Errorf("read stdin: %w", err)
		}
	case opts.in != "":
		secret, err = os.ReadFile(opts.in)
		if err != nil {
			return nil, false, fmt.Errorf("read secret: %w", err)
		}
	default:
		return nil, false, errors.New("one of --in, --hex or --generate is required")
	}
	if len(secret) == 0 {
		return nil, false, errors.New("secret is empty")
	}
	return secret, false, nil
}

func writeShares(dir string, shares []secretsharing.Share) ([]string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	files := make([]string, 0, len(shares))
	for _, s := range shares {
		text, err := s.MarshalText()
		if err != nil {
			return nil, err
		}
		name := filepath.Join(dir, fmt.Sprintf(shareFilePattern, s.Index))
		if err := os.WriteFile(name, append(text, '\n'), 0600); err != nil {
			return nil, fmt.Errorf("write share %d: %w", s.Index, err)
		}
		files = append(files, name)
	}
	return files, nil
}
