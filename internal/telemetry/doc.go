// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
Package telemetry wires the OpenTelemetry SDK into fluxwire.

Init builds OTLP gRPC exporters for traces and metrics, installs the SDK
providers globally and returns a Providers handle whose Shutdown flushes
everything on exit. Disabled telemetry keeps the global providers noop so
instrumented call sites stay cheap.

TraceObserver adapts flow.Observer to spans: a root span per run, a child
span per node execution and execution log entries as span events, with
span boundaries taken from the engine's own transition timestamps.
*/
package telemetry
