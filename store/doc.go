// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

// Package store persists finished run records and serves history queries.
//
// RunStore is the contract the API layer talks to. Four backends ship:
//
//   - MemoryStore for development and tests
//   - RedisStore for distributed deployments (JSON values indexed by
//     sorted sets on start time)
//   - SQLStore for durable history over gorm (sqlite, mysql, postgres)
//   - MongoStore for document-oriented deployments
//
// OpenFromConfig selects a backend from configuration. Lookups for
// unknown runs return a RUN_NOT_FOUND error from the types taxonomy so
// handlers can map them straight to HTTP 404.
package store
