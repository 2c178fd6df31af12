// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
Package metrics provides Prometheus instrumentation for the engine and the
HTTP API.

# Overview

Collector registers every metric through promauto under one namespace, so
callers never manage a Registry by hand. Observer adapts a Collector to
flow.Observer, turning node status transitions and execution log entries
into counters and histograms as runs execute.

# Metrics

  - runs_total{status} / runs_active / run_duration_seconds{status}
  - node_executions_total{node_type,status} /
    node_duration_seconds{node_type}
  - engine_log_entries_total{level}
  - http_requests_total{method,path,status},
    http_request_duration_seconds, http_request_size_bytes,
    http_response_size_bytes — recorded by the HTTP middleware, status
    grouped as 2xx/3xx/4xx/5xx.
*/
package metrics
