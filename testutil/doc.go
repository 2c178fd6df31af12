// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

// Package testutil provides shared helpers for fluxwire's tests: bounded
// test contexts tied to t.Cleanup, a zaptest-backed logger, channel waits
// with timeouts, and JSON fixture helpers.
package testutil
