package flow

import (
	"context"
	"net/http"
	"time"
)

// Request describes one outbound call made through a node's network
// capability. Timeout bounds this call only; zero means the capability's
// default applies.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is the result of an outbound call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Network is the engine's outbound-call capability. Implementations honor
// both the per-call timeout and the context's cancellation, surfacing
// types.ErrTimeout and types.ErrCancelled respectively.
type Network interface {
	Do(ctx context.Context, req Request) (*Response, error)
}
