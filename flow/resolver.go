package flow

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/types"
)

// Resolver maps a node type name to its executable behavior. The engine
// resolves a node's type when it first attempts to start that node; an
// unresolvable type fails the node with ErrUnknownNodeType.
type Resolver interface {
	Resolve(nodeType string) (Behavior, bool)
}

// TypeRegistry is the standard Resolver: a concurrency-safe map from type
// name to Behavior.
type TypeRegistry struct {
	mu        sync.RWMutex
	behaviors map[string]Behavior
	logger    *zap.Logger
}

// NewTypeRegistry creates an empty registry. logger may be nil.
func NewTypeRegistry(logger *zap.Logger) *TypeRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypeRegistry{
		behaviors: make(map[string]Behavior),
		logger:    logger.With(zap.String("component", "type_registry")),
	}
}

// Register binds a behavior to a type name. Empty names, nil behaviors and
// duplicate registrations are rejected.
func (r *TypeRegistry) Register(nodeType string, behavior Behavior) error {
	if nodeType == "" {
		return types.NewError(types.ErrInvalidRequest, "node type name cannot be empty")
	}
	if behavior == nil {
		return types.Errorf(types.ErrInvalidRequest, "behavior for type %q cannot be nil", nodeType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.behaviors[nodeType]; exists {
		return types.Errorf(types.ErrInvalidRequest, "node type %q already registered", nodeType)
	}
	r.behaviors[nodeType] = behavior

	r.logger.Debug("node type registered", zap.String("node_type", nodeType))
	return nil
}

// RegisterFunc binds a plain function as the behavior for a type name.
func (r *TypeRegistry) RegisterFunc(nodeType string, fn BehaviorFunc) error {
	return r.Register(nodeType, fn)
}

// Resolve implements Resolver.
func (r *TypeRegistry) Resolve(nodeType string) (Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.behaviors[nodeType]
	return b, ok
}

// Types returns the registered type names, sorted.
func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.behaviors))
	for name := range r.behaviors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
