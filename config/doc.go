// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
Package config loads and manages the fluxwire configuration.

# Overview

Configuration resolves in three layers: DefaultConfig, then an optional
YAML file, then FLUXWIRE_* environment variables. Loader is the builder
entry point; MustLoad is the main-function shorthand.

# Hot reload

HotReloadManager owns the live configuration of a running server: it
watches the config file, applies partial updates from the config API,
keeps a bounded snapshot history, and rolls back when a validator or
reload callback rejects a change. ConfigAPIHandler exposes the manager
over HTTP under /api/v1/config.
*/
package config
