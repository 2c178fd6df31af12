// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
Package server manages the HTTP/HTTPS server lifecycle: non-blocking
startup, graceful shutdown and signal handling.

Manager wraps net/http.Server with a listener it owns, so ":0" addresses
resolve to real ports and concurrent connections can be capped with
netutil.LimitListener. Start and StartTLS serve in the background; serve
failures surface on the Errors channel. WaitForShutdown blocks until
SIGINT/SIGTERM or a serve error and then drains in-flight requests within
the configured timeout.
*/
package server
