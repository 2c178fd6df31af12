package flow

import "sync"

const (
	// WildcardNodeID is the reserved node id accepted by output queries to
	// search every published slot instead of one node's.
	WildcardNodeID = "*"

	// ValueKey is the reserved output key under which a node's non-record
	// result is stored.
	ValueKey = "value"
)

// OutputRegistry holds the results every node of a run has published,
// keyed by node id then output key. A slot is written only by its owning
// node while that node runs; once the node completes the slot is
// effectively immutable, so concurrent reads by dependents are safe.
type OutputRegistry struct {
	mu    sync.RWMutex
	slots map[string]map[string]any
	// order records node ids by first publication, the order wildcard key
	// searches walk.
	order []string
}

// NewOutputRegistry creates an empty registry for one run.
func NewOutputRegistry() *OutputRegistry {
	return &OutputRegistry{slots: make(map[string]map[string]any)}
}

// Get returns the value a node published under key. Passing WildcardNodeID
// searches all slots in publication order and returns the first match,
// which serves "first prior node that produced X" lookups.
func (r *OutputRegistry) Get(nodeID, key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if nodeID == WildcardNodeID {
		for _, id := range r.order {
			if v, ok := r.slots[id][key]; ok {
				return v, true
			}
		}
		return nil, false
	}
	v, ok := r.slots[nodeID][key]
	return v, ok
}

// Outputs returns a copy of one node's published outputs. The copy is
// never nil.
func (r *OutputRegistry) Outputs(nodeID string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyValues(r.slots[nodeID])
}

// Snapshot returns a copy of the entire registry, the dump-all form of the
// wildcard query.
func (r *OutputRegistry) Snapshot() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]map[string]any, len(r.slots))
	for id, slot := range r.slots {
		snap[id] = copyValues(slot)
	}
	return snap
}

// set writes one value into a node's own slot. Only the engine and the
// owning node's NodeContext call this.
func (r *OutputRegistry) set(nodeID, key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot(nodeID)[key] = value
}

// merge folds a node's returned result into its slot. Record results merge
// key by key so returned values win over earlier explicit writes; any other
// non-nil result lands under ValueKey.
func (r *OutputRegistry) merge(nodeID string, result any) {
	if result == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slot(nodeID)
	if record, ok := result.(map[string]any); ok {
		for k, v := range record {
			slot[k] = v
		}
		return
	}
	slot[ValueKey] = result
}

func (r *OutputRegistry) slot(nodeID string) map[string]any {
	slot, ok := r.slots[nodeID]
	if !ok {
		slot = make(map[string]any)
		r.slots[nodeID] = slot
		r.order = append(r.order, nodeID)
	}
	return slot
}

func copyValues(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
