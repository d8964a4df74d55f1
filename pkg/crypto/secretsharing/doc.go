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

// Package secretsharing implements Shamir's Secret Sharing Scheme over
// GF(2^8).
//
// A secret of any length is divided into N shares so that any K of them
// reconstruct it exactly while K-1 or fewer reveal nothing about it. Every
// byte of the secret is shared independently: it becomes the constant term
// of a random polynomial of degree K-1,
//
//	p(x) = a0 + a1*x + a2*x^2 + ... + a(K-1)*x^(K-1)
//
// which is evaluated at the share indices x = 1..N. Reconstruction is a
// Lagrange interpolation of the supplied points at x = 0.
//
// # Usage
//
//	shares, err := secretsharing.Split(key, 5, 3)
//	if err != nil {
//	    return err
//	}
//
//	// Later, with any 3 of the 5 shares
//	key, err = secretsharing.Combine([]secretsharing.Share{shares[0], shares[2], shares[4]})
//
// # Threshold
//
// Combine has no way to know the threshold used at split time. Given fewer
// than K well-formed shares it still returns a value of the right length, but
// not the secret. Callers must record K next to the shares and refuse to
// combine below it (see package custody).
//
// # Integrity
//
// The scheme has no tamper detection. A corrupted share combines into a wrong
// secret without error, so callers that care should verify the result, for
// example with a MAC or a key check value.
//
// # Constraints
//
//   - 1 <= K <= N <= 255
//   - Share indices are 1..N, index 0 is reserved for the secret itself
//   - Split consumes exactly L*(K-1) bytes of randomness for an L byte secret
//
// # References
//
// - Shamir, Adi (1979). "How to Share a Secret"
// - FIPS-197, section 4: GF(2^8) with the AES polynomial (0x11B)
package secretsharing
