// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
Package handlers implements the fluxwire HTTP endpoints.

# Core types

  - RunService    — starting, listing, inspecting, cancelling and
    streaming workflow runs, plus definition validation and node type
    discovery
  - HealthHandler — liveness and readiness probes (/health, /healthz,
    /ready) with pluggable checks
  - Response      — the uniform JSON envelope (success + data + error +
    timestamp)
  - ErrorInfo     — structured error payload carrying code, message and
    the retryable flag
  - ResponseWriter — wraps http.ResponseWriter to capture status codes
    for middleware

# Conventions

WriteSuccess, WriteSuccessStatus, WriteError and WriteJSON produce every
response. DecodeJSONBody enforces a 1 MB body limit and rejects unknown
fields. Taxonomy error codes map to HTTP statuses in one place, so a
types.Error raised anywhere in the engine or store surfaces with the
right status and a machine-readable code.

Active runs are served from engine memory; finished runs come from the
run store once the background archiver has landed them. The WebSocket
stream endpoint bridges api.RunHub subscriptions onto the wire.
*/
package handlers
