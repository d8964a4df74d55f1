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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

func validFormat(format string) bool {
	switch OutputFormat(format) {
	case OutputFormatText, OutputFormatJSON:
		return true
	}
	return false
}

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// SplitResult is what split reports. Secret is set only for generated
// secrets; Files only when shares were written to a directory.
type SplitResult struct {
	Threshold int
	Shares    []secretsharing.Share
	Secret    []byte
	Files     []string
}

// PrintSplit prints shares in their text form, one per line.
func (p *Printer) PrintSplit(res *SplitResult) error {
	encoded := make([]string, len(res.Shares))
	for i, s := range res.Shares {
		text, err := s.MarshalText()
		if err != nil {
			return err
		}
		encoded[i] = string(text)
	}

	switch p.format {
	case OutputFormatJSON:
		out := map[string]any{
			"threshold": res.Threshold,
			"total":     len(res.Shares),
		}
		if len(res.Files) > 0 {
			out["files"] = res.Files
		} else {
			out["shares"] = encoded
		}
		if res.Secret != nil {
			out["secret"] = hex.EncodeToString(res.Secret)
		}
		return p.printJSON(out)
	case OutputFormatText:
		if res.Secret != nil {
			fmt.Fprintf(p.writer, "Secret:    %s\n", hex.EncodeToString(res.Secret))
		}
		fmt.Fprintf(p.writer, "Threshold: %d of %d\n", res.Threshold, len(res.Shares))
		if len(res.Files) > 0 {
			for _, f := range res.Files {
				fmt.Fprintf(p.writer, "  %s\n", f)
			}
			return nil
		}
		for _, s := range encoded {
			fmt.Fprintln(p.writer, s)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSecret prints a recovered secret as hex, or the raw bytes when raw
// is set in text mode.
func (p *Printer) PrintSecret(secret []byte, shares int, raw bool) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"secret": hex.EncodeToString(secret),
			"shares": shares,
		})
	case OutputFormatText:
		if raw {
			_, err := p.writer.Write(secret)
			return err
		}
		fmt.Fprintln(p.writer, hex.EncodeToString(secret))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printJSON(data any) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
