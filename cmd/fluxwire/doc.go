// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
The fluxwire command is the server and operations entry point.

Subcommands:

  - serve     starts the HTTP API and metrics listeners
  - run       executes a workflow definition file locally
  - validate  compiles a definition file and reports the verdict
  - migrate   manages the run store schema
  - token     mints an HS256 bearer token from the configured secret
  - health    probes a running server's /healthz endpoint
  - version   prints build metadata injected via ldflags

serve wires the full stack from configuration: run store, node registry,
engine with metrics/stream/trace observers, run API, config hot reload,
and a middleware chain (recovery, request IDs, security headers, request
logging, CORS, Prometheus metrics, optional OTel tracing, per-IP rate
limiting, optional JWT auth). Hot reload retunes the log level and rate
limits in place; anything else logged as requiring restart.

Shutdown drains in dependency order: listeners stop accepting, active
runs are cancelled and awaited, queued archive writes flush, then the
store and telemetry exporters close.
*/
package main
