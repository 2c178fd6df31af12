package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

// HTTPNode performs a single HTTP request through the engine's Network.
//
// Config:
//
//	url       request URL, supports {{expr}} placeholders (required)
//	method    HTTP method, default GET
//	headers   map of header name to value, values support placeholders
//	body      request body string, supports placeholders
//	timeoutMs per-request timeout in milliseconds
//
// Outputs: status (int), body (string) and, when the response decodes as
// JSON, json (the decoded value). Non-2xx responses are still published;
// deciding whether a status is an error belongs to downstream condition
// nodes.
type HTTPNode struct {
	logger *zap.Logger
}

func (h *HTTPNode) Run(ctx context.Context, nc *flow.NodeContext) (any, error) {
	if nc.Network == nil {
		return nil, types.NewError(types.ErrNodeExecution, "no network configured for http node").WithNode(nc.NodeID)
	}

	vars := exprVars(nc)

	rawURL := nc.ConfigString("url", "")
	if rawURL == "" {
		return nil, fmt.Errorf("http node requires a url")
	}
	url, err := renderTemplate(rawURL, vars)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(nc.ConfigString("method", http.MethodGet))

	req := flow.Request{
		Method: method,
		URL:    url,
		Header: make(http.Header),
	}

	if headers, ok := nc.Config["headers"].(map[string]any); ok {
		for name, raw := range headers {
			value, err := renderTemplate(fmt.Sprintf("%v", raw), vars)
			if err != nil {
				return nil, err
			}
			req.Header.Set(name, value)
		}
	}

	if body := nc.ConfigString("body", ""); body != "" {
		rendered, err := renderTemplate(body, vars)
		if err != nil {
			return nil, err
		}
		req.Body = []byte(rendered)
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	if timeoutMs := nc.ConfigInt("timeoutMs", 0); timeoutMs > 0 {
		req.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	nc.Logf("http %s %s", method, url)
	resp, err := nc.Network.Do(ctx, req)
	if err != nil {
		// Typed network errors (timeout, cancellation, rate limit)
		// carry their own classification.
		if types.AsError(err) != nil {
			return nil, err
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	h.logger.Debug("http response",
		zap.String("node_id", nc.NodeID),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode))

	nc.SetOutput("status", resp.StatusCode)
	nc.SetOutput("body", string(resp.Body))

	var decoded any
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &decoded) == nil {
		nc.SetOutput("json", decoded)
	}
	return nil, nil
}
