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

// Package gf256 implements arithmetic in GF(2^8), the 256 element finite
// field used by AES, defined by the irreducible polynomial
// x^8 + x^4 + x^3 + x + 1 (0x11B).
//
// Multiplication and division use precomputed logarithm and exponentiation
// tables. The tables are built once per process on first use and are
// read-only afterwards, so a *Field may be shared freely between goroutines.
package gf256

import (
	"errors"
	"sync"
)

const (
	// Polynomial is the AES reduction polynomial x^8 + x^4 + x^3 + x + 1.
	Polynomial = 0x11B

	// Generator is the primitive element used to build the tables. The
	// element 0x02 only has order 51 under 0x11B; 0x03 (x + 1) generates
	// all 255 nonzero elements.
	Generator = 0x03

	// Order is the size of the multiplicative group.
	Order = 255
)

// ErrDivisionByZero is returned when dividing by the zero element.
var ErrDivisionByZero = errors.New("gf256: division by zero")

// Field holds the log/exp tables for GF(2^8).
type Field struct {
	exp [256]byte
	log [256]byte
}

var (
	defaultOnce  sync.Once
	defaultField *Field
)

// Default returns the process-wide field. The tables are built exactly once,
// even under concurrent first use.
func Default() *Field {
	defaultOnce.Do(func() {
		defaultField = New()
	})
	return defaultField
}

// New builds an independent copy of the field tables.
func New() *Field {
	f := &Field{}
	x := 1
	for i := 0; i < Order; i++ {
		f.exp[i] = byte(x)
		f.log[x] = byte(i)

		// x *= 3, i.e. (x << 1) ^ x, reduced modulo the polynomial
		x = (x << 1) ^ x
		if x&0x100 != 0 {
			x ^= Polynomial
		}
	}
	// exp[255] wraps to exp[0] so Exp can index with i mod 255 or i == 255
	f.exp[Order] = f.exp[0]
	return f
}

// Add returns a + b. Addition in characteristic 2 is XOR.
func (f *Field) Add(a, b byte) byte {
	return a ^ b
}

// Sub returns a - b, which is identical to Add.
func (f *Field) Sub(a, b byte) byte {
	return a ^ b
}

// Mul returns a * b.
func (f *Field) Mul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return f.exp[(int(f.log[a])+int(f.log[b]))%Order]
}

// Div returns a / b, or ErrDivisionByZero when b is zero.
func (f *Field) Div(a, b byte) (byte, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	if a == 0 {
		return 0, nil
	}
	return f.exp[(int(f.log[a])-int(f.log[b])+Order)%Order], nil
}

// Inverse returns the multiplicative inverse of a.
func (f *Field) Inverse(a byte) (byte, error) {
	return f.Div(1, a)
}

// Exp returns Generator^i.
func (f *Field) Exp(i int) byte {
	i %= Order
	if i < 0 {
		i += Order
	}
	return f.exp[i]
}

// Log returns the discrete logarithm of a to base Generator. The logarithm
// of zero is undefined and reported with ok == false.
func (f *Field) Log(a byte) (l int, ok bool) {
	if a == 0 {
		return 0, false
	}
	return int(f.log[a]), true
}

// MulSlow multiplies a and b by carry-less shift-and-add with reduction
// modulo Polynomial. It does not touch the tables and serves as the reference
// implementation for them.
func MulSlow(a, b byte) byte {
	var p byte
	for i := 0; i < 8; i++ {
		if b&1 != 0 {
			p ^= a
		}
		carry := a & 0x80
		a <<= 1
		if carry != 0 {
			a ^= Polynomial & 0xFF
		}
		b >>= 1
	}
	return p
}
