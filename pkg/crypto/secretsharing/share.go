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

package secretsharing

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Share is one evaluation of the per-byte polynomials: Index is the x
// coordinate and Payload holds one y value per secret byte.
//
// JSON encodes the payload as base64:
//
//	{"index": 3, "payload": "q83v..."}
//
// The text form, used on the command line, is the index as two hex digits,
// a dash, and the payload in hex:
//
//	03-abcdef...
type Share struct {
	Index   byte   `json:"index"`
	Payload []byte `json:"payload"`
}

// Validate checks that the share has a usable index.
func (s Share) Validate() error {
	if s.Index == 0 {
		return fmt.Errorf("%w: index 0 is reserved", ErrInvalidIndex)
	}
	return nil
}

// Clone returns a deep copy of the share.
func (s Share) Clone() Share {
	return Share{
		Index:   s.Index,
		Payload: bytes.Clone(s.Payload),
	}
}

// String describes the share without revealing its payload.
func (s Share) String() string {
	return fmt.Sprintf("Share{Index: %d, Len: %d}", s.Index, len(s.Payload))
}

// MarshalJSON implements json.Marshaler. Without it the TextMarshaler
// implementation would turn the share into a JSON string.
func (s Share) MarshalJSON() ([]byte, error) {
	type alias Share
	return json.Marshal(alias(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Share) UnmarshalJSON(data []byte) error {
	type alias Share
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Share(a)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Share) MarshalText() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 3+hex.EncodedLen(len(s.Payload)))
	hex.Encode(buf[:2], []byte{s.Index})
	buf[2] = '-'
	hex.Encode(buf[3:], s.Payload)
	return buf, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Share) UnmarshalText(text []byte) error {
	text = bytes.TrimSpace(text)
	idx, payload, ok := bytes.Cut(text, []byte("-"))
	if !ok {
		return fmt.Errorf("%w: missing separator", ErrInvalidEncoding)
	}

	index, err := strconv.ParseUint(string(idx), 16, 8)
	if err != nil {
		return fmt.Errorf("%w: index %q: %v", ErrInvalidEncoding, idx, err)
	}
	if index == 0 {
		return fmt.Errorf("%w: index 0 is reserved", ErrInvalidIndex)
	}

	decoded := make([]byte, hex.DecodedLen(len(payload)))
	if _, err := hex.Decode(decoded, payload); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrInvalidEncoding, err)
	}

	s.Index = byte(index)
	s.Payload = decoded
	return nil
}

// ParseShare decodes a share from its text form.
func ParseShare(text string) (Share, error) {
	var s Share
	err := s.UnmarshalText([]byte(text))
	return s, err
}
