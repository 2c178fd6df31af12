package nodes

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

// fakeNetwork is a scripted flow.Network double recording the last request.
type fakeNetwork struct {
	mu   sync.Mutex
	last flow.Request
	resp *flow.Response
	err  error
}

func (f *fakeNetwork) Do(ctx context.Context, req flow.Request) (*flow.Response, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeNetwork) lastRequest() flow.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func jsonResponse(status int, body string) *flow.Response {
	return &flow.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
	}
}

func TestHTTPNode_PublishesStatusBodyAndJSON(t *testing.T) {
	network := &fakeNetwork{resp: jsonResponse(200, `{"temp": 21.5, "city": "Berlin"}`)}
	node := fixture{
		network: network,
		config:  map[string]any{"url": "https://api.example.com/weather"},
	}.runTarget(t, TypeHTTP)

	assert.Equal(t, flow.NodeStatusSuccess, node.Status)
	assert.Equal(t, 200, node.Outputs["status"])
	assert.Equal(t, `{"temp": 21.5, "city": "Berlin"}`, node.Outputs["body"])

	decoded, ok := node.Outputs["json"].(map[string]any)
	require.True(t, ok, "json output should decode to a map")
	assert.Equal(t, 21.5, decoded["temp"])

	req := network.lastRequest()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "https://api.example.com/weather", req.URL)
}

func TestHTTPNode_TemplatesURLHeadersAndBody(t *testing.T) {
	network := &fakeNetwork{resp: jsonResponse(201, `{}`)}
	node := fixture{
		network: network,
		payload: map[string]any{"city": "Berlin", "token": "abc123"},
		config: map[string]any{
			"url":    "https://api.example.com/weather?q={{start.city}}",
			"method": "post",
			"headers": map[string]any{
				"Authorization": "Bearer {{start.token}}",
			},
			"body": `{"city": "{{start.city}}"}`,
		},
	}.runTarget(t, TypeHTTP)

	assert.Equal(t, flow.NodeStatusSuccess, node.Status)

	req := network.lastRequest()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://api.example.com/weather?q=Berlin", req.URL)
	assert.Equal(t, "Bearer abc123", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"city": "Berlin"}`, string(req.Body))
}

func TestHTTPNode_Non2xxIsStillPublished(t *testing.T) {
	network := &fakeNetwork{resp: jsonResponse(503, `{"error": "overloaded"}`)}
	node := fixture{
		network: network,
		config:  map[string]any{"url": "https://api.example.com/weather"},
	}.runTarget(t, TypeHTTP)

	assert.Equal(t, flow.NodeStatusSuccess, node.Status)
	assert.Equal(t, 503, node.Outputs["status"])
}

func TestHTTPNode_NonJSONBodySkipsJSONOutput(t *testing.T) {
	network := &fakeNetwork{resp: &flow.Response{StatusCode: 200, Body: []byte("plain text")}}
	node := fixture{
		network: network,
		config:  map[string]any{"url": "https://api.example.com/ping"},
	}.runTarget(t, TypeHTTP)

	assert.Equal(t, flow.NodeStatusSuccess, node.Status)
	assert.Equal(t, "plain text", node.Outputs["body"])
	_, hasJSON := node.Outputs["json"]
	assert.False(t, hasJSON)
}

func TestHTTPNode_TypedNetworkErrorsPropagate(t *testing.T) {
	network := &fakeNetwork{
		err: types.NewError(types.ErrTimeout, "request exceeded timeout of 5s"),
	}
	node := fixture{
		network: network,
		config:  map[string]any{"url": "https://api.example.com/slow"},
	}.runTarget(t, TypeHTTP)

	assert.Equal(t, flow.NodeStatusError, node.Status)
	assert.Contains(t, node.Error, "timeout")
}

func TestHTTPNode_RequiresURL(t *testing.T) {
	node := fixture{
		network: &fakeNetwork{resp: jsonResponse(200, `{}`)},
		config:  map[string]any{},
	}.runTarget(t, TypeHTTP)

	assert.Equal(t, flow.NodeStatusError, node.Status)
	assert.Contains(t, node.Error, "url")
}

func TestHTTPNode_FailsWithoutNetwork(t *testing.T) {
	node := fixture{
		config: map[string]any{"url": "https://api.example.com/weather"},
	}.runTarget(t, TypeHTTP)

	assert.Equal(t, flow.NodeStatusError, node.Status)
	assert.Contains(t, node.Error, "network")
}

func TestHTTPNode_ForwardsPerRequestTimeout(t *testing.T) {
	network := &fakeNetwork{resp: jsonResponse(200, `{}`)}
	node := fixture{
		network: network,
		config: map[string]any{
			"url":       "https://api.example.com/weather",
			"timeoutMs": 250,
		},
	}.runTarget(t, TypeHTTP)

	assert.Equal(t, flow.NodeStatusSuccess, node.Status)
	assert.Equal(t, "250ms", network.lastRequest().Timeout.String())
}
