// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

// Package nodes provides the built-in node behaviors of the workflow
// engine: starter, http, condition, transform, delay, log and ai. They
// form a fixed, statically registered operator set; conditional and
// transform logic runs through the sandboxed expression language in
// flow/dsl, never through caller-supplied code. Register the whole set on
// a flow.TypeRegistry with RegisterAll.
package nodes
