package cognitive

import (
	"context"
	"fmt"
	"sort"
)

// ActivatedMemory pairs a memory with the activation it accumulated during
// retrieval.
type ActivatedMemory struct {
	Memory     *Memory
	Activation float64
	Seed       bool
}

// ActivationResult is the output of one seed+spread pass. Core holds the
// top quartile by activation; Peripheral the remainder. The union never
// exceeds the configured activation cap.
type ActivationResult struct {
	Core       []ActivatedMemory
	Peripheral []ActivatedMemory
	byID       map[string]float64
}

// All iterates core then peripheral.
func (r *ActivationResult) All() []ActivatedMemory {
	out := make([]ActivatedMemory, 0, len(r.Core)+len(r.Peripheral))
	out = append(out, r.Core...)
	out = append(out, r.Peripheral...)
	return out
}

// Activation returns the activation for id, or 0 when id was not activated.
func (r *ActivationResult) Activation(id string) float64 {
	return r.byID[id]
}

// Activated reports whether id is in the activation set.
func (r *ActivationResult) Activated(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// ActivationEngine performs two-phase retrieval: per-collection similarity
// seeding, then breadth-first spreading over the connection graph.
type ActivationEngine struct {
	vectors VectorIndex
	meta    MetadataStore
	cfg     *Config
}

// NewActivationEngine wires the engine to its stores.
func NewActivationEngine(vectors VectorIndex, meta MetadataStore, cfg *Config) *ActivationEngine {
	return &ActivationEngine{vectors: vectors, meta: meta, cfg: cfg}
}

// Spread runs retrieval for the fused query vector.
//
// Seeding searches every collection for the top SeedFanout hits and keeps
// those at or above the activation threshold; if fewer than 3 survive, the
// effective threshold is lowered by 0.1 exactly once so small corpora do
// not produce empty recalls. Spreading propagates a_m = max(a_m, a_n*s)
// along outgoing edges, pushing nodes that reach 0.6*threshold, bounded by
// the activation cap and the depth limit.
func (e *ActivationEngine) Spread(ctx context.Context, query []float32) (*ActivationResult, error) {
	theta := e.cfg.ActivationThreshold

	hitsByLevel, err := e.vectors.BatchSearch(ctx, Levels, query, e.cfg.SeedFanout, nil)
	if err != nil {
		return nil, fmt.Errorf("seed search: %w", err)
	}

	var all []VectorHit
	for _, level := range Levels {
		all = append(all, hitsByLevel[level]...)
	}

	seeds := filterSeeds(all, theta)
	if len(seeds) < 3 && theta > 0.1 {
		seeds = filterSeeds(all, theta-0.1)
	}

	type frontierNode struct {
		id    string
		depth int
	}

	activation := make(map[string]float64, e.cfg.MaxActivations)
	seedSet := make(map[string]bool, len(seeds))
	var frontier []frontierNode
	for _, s := range seeds {
		if s.Score > activation[s.Ref] {
			activation[s.Ref] = s.Score
		}
		if !seedSet[s.Ref] {
			seedSet[s.Ref] = true
			frontier = append(frontier, frontierNode{id: s.Ref})
		}
	}

	visited := make(map[string]bool, e.cfg.MaxActivations)
	pushFloor := theta * 0.6

	for len(frontier) > 0 && len(visited) < e.cfg.MaxActivations {
		if err := timeoutErr(ctx); err != nil {
			return nil, err
		}
		n := frontier[0]
		frontier = frontier[1:]
		if visited[n.id] || n.depth >= e.cfg.MaxDepth {
			if n.depth >= e.cfg.MaxDepth {
				visited[n.id] = true
			}
			continue
		}
		visited[n.id] = true

		edges, err := e.meta.OutgoingConnections(ctx, n.id)
		if err != nil {
			return nil, fmt.Errorf("outgoing connections: %w", err)
		}
		an := activation[n.id]
		for _, edge := range edges {
			am := an * edge.Strength
			if am > activation[edge.TargetID] {
				activation[edge.TargetID] = am
			}
			if activation[edge.TargetID] >= pushFloor && !visited[edge.TargetID] {
				frontier = append(frontier, frontierNode{id: edge.TargetID, depth: n.depth + 1})
			}
		}
	}

	return e.classify(ctx, activation, seedSet)
}

// classify loads activated memories, bounds the set to the activation cap,
// and splits the top quartile into core.
func (e *ActivationEngine) classify(ctx context.Context, activation map[string]float64, seeds map[string]bool) (*ActivationResult, error) {
	items := make([]ActivatedMemory, 0, len(activation))
	for id, a := range activation {
		mem, err := e.meta.GetMemory(ctx, id)
		if err != nil {
			// A vector hit without a metadata row is treated as absent.
			continue
		}
		items = append(items, ActivatedMemory{Memory: mem, Activation: a, Seed: seeds[id]})
	}

	// Descending activation, ties by descending importance, then ascending id.
	sort.Slice(items, func(i, j int) bool {
		if items[i].Activation != items[j].Activation {
			return items[i].Activation > items[j].Activation
		}
		if items[i].Memory.Importance != items[j].Memory.Importance {
			return items[i].Memory.Importance > items[j].Memory.Importance
		}
		return items[i].Memory.ID < items[j].Memory.ID
	})

	if len(items) > e.cfg.MaxActivations {
		items = items[:e.cfg.MaxActivations]
	}

	result := &ActivationResult{byID: make(map[string]float64, len(items))}
	if len(items) == 0 {
		return result, nil
	}

	coreN := (len(items) + 3) / 4
	result.Core = items[:coreN]
	result.Peripheral = items[coreN:]
	for _, it := range items {
		result.byID[it.Memory.ID] = it.Activation
	}
	return result, nil
}

func filterSeeds(hits []VectorHit, theta float64) []VectorHit {
	out := make([]VectorHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= theta {
			out = append(out, h)
		}
	}
	return out
}
