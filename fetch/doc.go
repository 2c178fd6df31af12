// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

// Package fetch provides the production flow.Network implementation that
// http nodes call through: a TLS-hardened client with per-call timeouts,
// optional outbound rate limiting and a response size cap.
//
// Errors are reported through the types taxonomy so the engine can
// classify node outcomes: deadline hits map to types.ErrTimeout, caller
// cancellation to types.ErrCancelled and transport failures to retryable
// types.ErrNetwork errors.
package fetch
