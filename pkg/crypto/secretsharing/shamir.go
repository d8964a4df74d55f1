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
	"crypto/rand"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/gf256"
)

// MaxShares is the number of nonzero elements in GF(2^8), and therefore the
// largest number of distinct share indices.
const MaxShares = gf256.Order

// Shamir splits and combines secrets. The zero value is not usable; create
// instances with New. A Shamir is safe for concurrent use as long as its
// random source is.
type Shamir struct {
	field  *gf256.Field
	random io.Reader
}

// Option configures a Shamir instance.
type Option func(*Shamir)

// WithField overrides the field tables. Defaults to gf256.Default().
func WithField(f *gf256.Field) Option {
	return func(s *Shamir) {
		if f != nil {
			s.field = f
		}
	}
}

// WithRandom overrides the source of polynomial coefficients. Defaults to
// crypto/rand.Reader. The source must be cryptographically secure outside of
// tests.
func WithRandom(r io.Reader) Option {
	return func(s *Shamir) {
		if r != nil {
			s.random = r
		}
	}
}

// New creates a Shamir instance.
func New(opts ...Option) *Shamir {
	s := &Shamir{
		field:  gf256.Default(),
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split divides secret into n shares, any k of which reconstruct it.
// Shares are indexed 1..n and each carries len(secret) bytes.
func Split(secret []byte, n, k int) ([]Share, error) {
	return New().Split(secret, n, k)
}

// Combine reconstructs a secret from k or more shares.
func Combine(shares []Share) ([]byte, error) {
	return New().Combine(shares)
}

// Split divides secret into n shares, any k of which reconstruct it.
func (s *Shamir) Split(secret []byte, n, k int) ([]Share, error) {
	if n > MaxShares {
		return nil, fmt.Errorf("%w: requested %d, at most %d", ErrTooManyShares, n, MaxShares)
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: threshold %d with %d shares", ErrInvalidThreshold, k, n)
	}

	shares := make([]Share, n)
	for i := range shares {
		shares[i] = Share{
			Index:   byte(i + 1),
			Payload: make([]byte, len(secret)),
		}
	}

	// k-1 random coefficients per secret byte, drawn in one read
	degree := k - 1
	coeffs := make([]byte, len(secret)*degree)
	defer clear(coeffs)
	if len(coeffs) > 0 {
		if _, err := io.ReadFull(s.random, coeffs); err != nil {
			return nil, fmt.Errorf("secretsharing: failed to generate random coefficients: %w", err)
		}
	}

	for i, b := range secret {
		poly := coeffs[i*degree : (i+1)*degree]
		for j := range shares {
			shares[j].Payload[i] = s.evaluate(b, poly, shares[j].Index)
		}
	}

	return shares, nil
}

// evaluate computes constant + coeffs[0]*x + coeffs[1]*x^2 + ... at x using
// Horner's method.
func (s *Shamir) evaluate(constant byte, coeffs []byte, x byte) byte {
	var y byte
	for j := len(coeffs) - 1; j >= 0; j-- {
		y = s.field.Add(s.field.Mul(y, x), coeffs[j])
	}
	return s.field.Add(s.field.Mul(y, x), constant)
}

// Combine reconstructs the secret from shares by Lagrange interpolation at
// x = 0. Supplying fewer shares than the threshold used by Split returns a
// value that is not the secret, without error.
func (s *Shamir) Combine(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, ErrEmptyInput
	}

	size := len(shares[0].Payload)
	for i := 1; i < len(shares); i++ {
		if len(shares[i].Payload) != size {
			return nil, fmt.Errorf("%w: share %d has %d bytes, share 0 has %d",
				ErrInconsistentLength, i, len(shares[i].Payload), size)
		}
	}
	for i := range shares {
		if shares[i].Index == 0 {
			return nil, fmt.Errorf("%w: share %d has index 0", ErrInvalidIndex, i)
		}
	}

	basis, err := s.basisAtZero(shares)
	if err != nil {
		return nil, err
	}

	secret := make([]byte, size)
	for i := range secret {
		var v byte
		for j := range shares {
			v = s.field.Add(v, s.field.Mul(shares[j].Payload[i], basis[j]))
		}
		secret[i] = v
	}

	return secret, nil
}

// basisAtZero returns the Lagrange basis polynomials l_j evaluated at 0:
//
//	l_j(0) = prod_{m != j} x_m / (x_j - x_m)
//
// The values depend only on the share indices, so they are shared by every
// byte position.
func (s *Shamir) basisAtZero(shares []Share) ([]byte, error) {
	basis := make([]byte, len(shares))
	for j := range shares {
		xj := shares[j].Index
		num, den := byte(1), byte(1)
		for m := range shares {
			if m == j {
				continue
			}
			xm := shares[m].Index
			num = s.field.Mul(num, xm)
			den = s.field.Mul(den, s.field.Sub(xj, xm))
		}

		l, err := s.field.Div(num, den)
		if err != nil {
			return nil, fmt.Errorf("%w: duplicate share index %d", err, xj)
		}
		basis[j] = l
	}
	return basis, nil
}
