// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
Package types defines the shared error taxonomy for the fluxwire engine.

types is the lowest-level package in the module. It depends on nothing but
the standard library so that flow, store, api and cmd can all share one
error contract without import cycles.

# Error model

Every failure the engine can surface carries an ErrorCode. Codes split into
three groups:

  - Graph validation (MISSING_STARTER, DANGLING_EDGE, CYCLE_DETECTED):
    returned synchronously before a run record exists.
  - Node execution (UNKNOWN_NODE_TYPE, NODE_EXECUTION, TIMEOUT, CANCELLED):
    recorded on the failing node's execution record, never raised past the
    run boundary.
  - API surface (INVALID_REQUEST, AUTHENTICATION, RATE_LIMITED,
    RUN_NOT_FOUND, STORE_UNAVAILABLE, INTERNAL_ERROR): used by the HTTP
    handlers and mapped to HTTP status codes.

Construct errors with NewError and the With* builders:

	err := types.NewError(types.ErrNodeExecution, "request failed").
		WithNode("fetch-user").
		WithCause(cause).
		WithRetryable(true)
*/
package types
