// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
Package api defines the wire types of the fluxwire HTTP API and the event
hub behind the run streaming endpoint.

# Wire types

Every endpoint answers with the handlers.Response envelope; the payloads
inside it live here: StartRunRequest/StartRunResponse for submitting
workflows, RunSummary and ListRunsResponse for history queries,
RunLogsResponse, CancelRunResponse, ValidateWorkflowRequest/Response for
the dry-run validator and NodeTypesResponse for behavior discovery.

# Streaming

RunHub implements flow.Observer and fans the engine's log entries, node
status transitions and run outcomes out to per-run WebSocket subscribers
as StreamEvent values. Delivery is lossy by contract: a subscriber whose
buffer is full misses events rather than slowing the engine. The terminal
run event is the last message on every stream; the hub closes subscriber
channels right after delivering it.
*/
package api
