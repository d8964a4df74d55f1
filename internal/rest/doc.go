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

// Package rest exposes secret splitting, combining and the custody vault
// over a JSON HTTP API.
//
// Routes:
//
//	GET    /health
//	GET    /health/live
//	GET    /health/ready
//	GET    /health/startup
//	GET    /metrics
//	POST   /api/v1/split
//	POST   /api/v1/combine
//	POST   /api/v1/files
//	GET    /api/v1/files/{id}
//	DELETE /api/v1/files/{id}
//	POST   /api/v1/files/{id}/open
//	GET    /api/v1/files/{id}/shards
//	DELETE /api/v1/files/{id}/shards/{index}
//	GET    /api/v1/files/{id}/history
//
// Binary fields (secrets, payloads, nonces, ciphertext) are standard
// base64 in JSON.
package rest
