package flow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// randomDAG builds a connected acyclic graph over nodeCount nodes: node 0
// is the starter and every other node gets at least one edge from an
// earlier node, plus extra forward edges drawn from rng.
func randomDAG(nodeCount int, rng *rand.Rand) *GraphBuilder {
	b := NewGraph("wf-prop", "random dag")
	for i := 0; i < nodeCount; i++ {
		typ := "work"
		if i == 0 {
			typ = "starter"
		}
		b.AddNode(nodeID(i), typ, nil)
	}
	for j := 1; j < nodeCount; j++ {
		b.AddEdge(nodeID(rng.Intn(j)), nodeID(j))
		for i := 0; i < j; i++ {
			if rng.Float64() < 0.25 {
				b.AddEdge(nodeID(i), nodeID(j))
			}
		}
	}
	return b.Starter(nodeID(0))
}

func nodeID(i int) string { return fmt.Sprintf("n%d", i) }

func TestProperty_NoNodeStartsBeforePredecessorsSucceed(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("dependency order holds on random DAGs", prop.ForAll(
		func(nodeCount int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			g, err := randomDAG(nodeCount, rng).Build()
			if err != nil {
				t.Logf("build failed: %v", err)
				return false
			}

			delays := make(map[string]time.Duration, nodeCount)
			for i := 0; i < nodeCount; i++ {
				delays[nodeID(i)] = time.Duration(rng.Intn(3)) * time.Millisecond
			}

			var mu sync.Mutex
			succeeded := map[string]bool{}
			violated := false

			behavior := BehaviorFunc(func(ctx context.Context, nc *NodeContext) (any, error) {
				mu.Lock()
				for _, e := range g.IncomingEdges(nc.NodeID) {
					if !succeeded[e.Source] {
						violated = true
					}
				}
				mu.Unlock()

				select {
				case <-time.After(delays[nc.NodeID]):
				case <-ctx.Done():
					return nil, ctx.Err()
				}

				mu.Lock()
				succeeded[nc.NodeID] = true
				mu.Unlock()
				return nil, nil
			})

			registry := NewTypeRegistry(nil)
			if err := registry.Register("starter", behavior); err != nil {
				return false
			}
			if err := registry.Register("work", behavior); err != nil {
				return false
			}

			handle, err := NewEngine(registry).Start(context.Background(), g, nil)
			if err != nil {
				t.Logf("start failed: %v", err)
				return false
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			rec, err := handle.Wait(ctx)
			if err != nil {
				t.Logf("wait failed: %v", err)
				return false
			}

			if rec.Status != RunStatusSuccess {
				t.Logf("expected success, got %s", rec.Status)
				return false
			}
			if violated {
				t.Logf("a node started before its predecessors succeeded")
				return false
			}
			return true
		},
		gen.IntRange(2, 12),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestProperty_FailureQuarantinesDescendants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("descendants of a failed node never run, the rest drain", prop.ForAll(
		func(nodeCount int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			g, err := randomDAG(nodeCount, rng).Build()
			if err != nil {
				t.Logf("build failed: %v", err)
				return false
			}

			// Fail one non-starter node; with fail-fast disabled every
			// branch not downstream of it must still complete.
			failID := nodeID(1 + rng.Intn(nodeCount-1))

			behavior := BehaviorFunc(func(ctx context.Context, nc *NodeContext) (any, error) {
				if nc.NodeID == failID {
					return nil, errors.New("induced failure")
				}
				return nil, nil
			})

			registry := NewTypeRegistry(nil)
			if err := registry.Register("starter", behavior); err != nil {
				return false
			}
			if err := registry.Register("work", behavior); err != nil {
				return false
			}

			handle, err := NewEngine(registry, WithFailFast(false)).Start(context.Background(), g, nil)
			if err != nil {
				t.Logf("start failed: %v", err)
				return false
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			rec, err := handle.Wait(ctx)
			if err != nil {
				t.Logf("wait failed: %v", err)
				return false
			}

			if rec.Status != RunStatusError {
				t.Logf("expected error status, got %s", rec.Status)
				return false
			}

			downstream := map[string]bool{}
			g.markReachable(failID, downstream)
			for id, nr := range rec.Nodes {
				switch {
				case id == failID:
					if nr.Status != NodeStatusError {
						t.Logf("failed node %s has status %s", id, nr.Status)
						return false
					}
				case downstream[id]:
					if nr.Status != NodeStatusPending {
						t.Logf("descendant %s of failed node ran: %s", id, nr.Status)
						return false
					}
				default:
					if nr.Status != NodeStatusSuccess {
						t.Logf("independent node %s should have drained: %s", id, nr.Status)
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(3, 12),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
