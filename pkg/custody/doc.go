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

// Package custody seals data under a random AES-256-GCM key and keeps that
// key only as Shamir shares in a storage.Backend. Opening a sealed file
// requires at least the threshold number of live shares.
//
// Basic usage:
//
//	vault, err := custody.New(memory.New())
//	if err != nil {
//	    return err
//	}
//	env, err := vault.Seal(ctx, data, custody.SealOptions{Shares: 5, Threshold: 3})
//	...
//	plaintext, err := vault.Open(ctx, env)
//
// Destroy hard-deletes every shard of a file, after which no party can
// reconstruct its key. Revoke removes a single shard; once fewer than the
// threshold remain the file can no longer be opened.
//
// Records are stored under three prefixes:
//
//	files/<id>          FileRecord (JSON)
//	shards/<id>/<xx>    ShardRecord (JSON), xx is the hex share index
//	events/<id>/<seq>   Event (JSON)
//
// The envelope returned by Seal (nonce and ciphertext) is never stored by
// the vault. The file id is bound to the ciphertext as additional data.
package custody
