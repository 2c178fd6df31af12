package nodes

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

// Completer produces a text completion for a prompt. Implementations wrap
// an LLM provider; tests substitute a canned double.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is the provider-neutral completion input.
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionResponse carries the completion text and usage reported by the
// provider.
type CompletionResponse struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return f(ctx, req)
}

// AINode sends a rendered prompt to the configured Completer.
//
// Config:
//
//	prompt       prompt template, supports {{expr}} placeholders (required)
//	model        model name, default gpt-4o-mini
//	maxTokens    completion budget forwarded to the provider
//	temperature  sampling temperature forwarded to the provider
//
// Outputs: completion, model, promptTokens (estimated) and tokensUsed when
// the provider reports usage. Engines without a Completer fail ai nodes at
// execution time rather than at registration.
type AINode struct {
	completer Completer
	logger    *zap.Logger
}

func (a *AINode) Run(ctx context.Context, nc *flow.NodeContext) (any, error) {
	if a.completer == nil {
		return nil, types.NewError(types.ErrNodeExecution, "no completer configured for ai node").WithNode(nc.NodeID)
	}

	tmpl := nc.ConfigString("prompt", "")
	if tmpl == "" {
		return nil, fmt.Errorf("ai node requires a prompt")
	}
	prompt, err := renderTemplate(tmpl, exprVars(nc))
	if err != nil {
		return nil, err
	}

	req := CompletionRequest{
		Model:       nc.ConfigString("model", "gpt-4o-mini"),
		Prompt:      prompt,
		MaxTokens:   nc.ConfigInt("maxTokens", 0),
		Temperature: configFloat(nc.Config, "temperature"),
	}

	a.logger.Debug("ai completion request",
		zap.String("node_id", nc.NodeID),
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", estimateTokens(prompt)))

	resp, err := a.completer.Complete(ctx, req)
	if err != nil {
		if types.AsError(err) != nil {
			return nil, err
		}
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	out := map[string]any{
		"completion":   resp.Text,
		"model":        resp.Model,
		"promptTokens": estimateTokens(prompt),
	}
	if resp.TokensUsed > 0 {
		out["tokensUsed"] = resp.TokensUsed
	}
	return out, nil
}

func configFloat(config map[string]any, key string) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateTokens counts prompt tokens with the cl100k_base encoding,
// falling back to a bytes/4 heuristic when the encoding cannot load.
func estimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}
