package nodes

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/flow/dsl"
)

// Built-in node type names.
const (
	TypeStarter   = "starter"
	TypeHTTP      = "http"
	TypeCondition = "condition"
	TypeTransform = "transform"
	TypeDelay     = "delay"
	TypeLog       = "log"
	TypeAI        = "ai"
)

// Option configures the built-in behaviors registered by RegisterAll.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	completer Completer
}

// WithLogger sets the zap logger the behaviors log through.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCompleter wires the text-completion collaborator used by the ai
// node. Without one, ai nodes fail at execution time.
func WithCompleter(c Completer) Option {
	return func(o *options) { o.completer = c }
}

// RegisterAll registers every built-in behavior on reg.
func RegisterAll(reg *flow.TypeRegistry, opts ...Option) error {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	behaviors := []struct {
		name     string
		behavior flow.Behavior
	}{
		{TypeStarter, &StarterNode{}},
		{TypeHTTP, &HTTPNode{logger: o.logger}},
		{TypeCondition, &ConditionNode{logger: o.logger}},
		{TypeTransform, &TransformNode{}},
		{TypeDelay, &DelayNode{}},
		{TypeLog, &LogNode{}},
		{TypeAI, &AINode{completer: o.completer, logger: o.logger}},
	}
	for _, b := range behaviors {
		if err := reg.Register(b.name, b.behavior); err != nil {
			return err
		}
	}
	return nil
}

// exprVars assembles the variable scope expressions and templates resolve
// against: every published node slot under its node id, the caller's
// environment under "env" and the node's own configuration under
// "config". env and config are bound last, so they shadow colliding node
// ids.
func exprVars(nc *flow.NodeContext) map[string]any {
	vars := make(map[string]any)
	for nodeID, outputs := range nc.AllOutputs() {
		vars[nodeID] = outputs
	}
	env := make(map[string]any, len(nc.Env))
	for k, v := range nc.Env {
		env[k] = v
	}
	vars["env"] = env
	vars["config"] = nc.Config
	return vars
}

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// renderTemplate substitutes {{expression}} placeholders with evaluated
// values. A nil value renders empty; the first evaluation error aborts the
// render.
func renderTemplate(tmpl string, vars map[string]any) (string, error) {
	var renderErr error
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if renderErr != nil {
			return match
		}
		expr := strings.TrimSpace(match[2 : len(match)-2])
		v, err := dsl.Eval(expr, vars)
		if err != nil {
			renderErr = fmt.Errorf("render placeholder %q: %w", expr, err)
			return match
		}
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
	return out, renderErr
}
