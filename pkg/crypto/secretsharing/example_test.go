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

package secretsharing_test

import (
	"fmt"
	"log"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
)

func Example() {
	secret := []byte("correct horse battery staple")

	// 5 shares, any 3 reconstruct
	shares, err := secretsharing.Split(secret, 5, 3)
	if err != nil {
		log.Fatal(err)
	}

	recovered, err := secretsharing.Combine([]secretsharing.Share{shares[4], shares[0], shares[2]})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(string(recovered))
	// Output: correct horse battery staple
}

func ExampleParseShare() {
	share, err := secretsharing.ParseShare("03-00ff")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(share.Index, share.Payload)
	// Output: 3 [0 255]
}
