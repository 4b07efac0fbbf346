package cognitive

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// decayFactor is the exponential time-decay term exp(-rate*days).
func decayFactor(rate, days float64) float64 {
	return math.Exp(-rate * days)
}

// DualMemoryManager applies decay, evicts dead episodic memories, and
// promotes frequently accessed episodic memories to semantic.
type DualMemoryManager struct {
	vectors VectorIndex
	meta    MetadataStore
	cfg     *Config
	now     func() time.Time
}

// NewDualMemoryManager wires the manager to its stores.
func NewDualMemoryManager(vectors VectorIndex, meta MetadataStore, cfg *Config) *DualMemoryManager {
	return &DualMemoryManager{vectors: vectors, meta: meta, cfg: cfg, now: time.Now}
}

// Run executes one consolidation pass over all memories. It is cooperative:
// cancellation is checked between memories, so a shutdown aborts cleanly
// with whatever progress was committed.
//
// Eviction requires all three conditions simultaneously: episodic type,
// effective importance below the floor, and zero accesses for longer than
// the idle window. Promotion requires the access-count threshold reached
// within the promote window plus at least two outgoing edges of strength
// 0.5 or more; it is irreversible.
func (d *DualMemoryManager) Run(ctx context.Context) (*ConsolidationReport, error) {
	memories, err := d.meta.AllMemories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	now := d.now()
	report := &ConsolidationReport{}

	for _, m := range memories {
		if err := timeoutErr(ctx); err != nil {
			return report, err
		}

		if m.Type == TypeEpisodic && d.shouldEvict(m, now) {
			if err := d.evict(ctx, m); err != nil {
				return report, err
			}
			report.Evicted++
			continue
		}

		if m.Type == TypeEpisodic {
			promoted, err := d.maybePromote(ctx, m, now)
			if err != nil {
				return report, err
			}
			if promoted {
				report.Promoted++
				continue
			}
		}

		report.Retained++
	}

	purged, err := d.meta.PurgeBridgeEntries(ctx, now.Add(-d.cfg.BridgeCacheTTL))
	if err != nil {
		return report, fmt.Errorf("purge bridge cache: %w", err)
	}
	if purged > 0 {
		log.Printf("[DUAL] purged %d expired bridge cache entries", purged)
	}

	log.Printf("[DUAL] consolidation: evicted=%d promoted=%d retained=%d",
		report.Evicted, report.Promoted, report.Retained)
	return report, nil
}

func (d *DualMemoryManager) shouldEvict(m *Memory, now time.Time) bool {
	if m.AccessCount != 0 {
		return false
	}
	if now.Sub(m.CreatedAt) <= d.cfg.EvictionIdle {
		return false
	}
	return m.EffectiveImportance(now) < d.cfg.EvictionFloor
}

// evict removes metadata first, then the vector (compensating delete).
func (d *DualMemoryManager) evict(ctx context.Context, m *Memory) error {
	if err := d.meta.DeleteMemories(ctx, m.ID); err != nil {
		return fmt.Errorf("evict metadata %s: %w", m.ID, err)
	}
	if err := d.vectors.Delete(ctx, m.Level, m.VectorRef); err != nil {
		// Orphan vector; the reconciliation sweep will reap it.
		log.Printf("[DUAL] evict vector %s: %v", m.VectorRef, err)
	}
	return nil
}

func (d *DualMemoryManager) maybePromote(ctx context.Context, m *Memory, now time.Time) (bool, error) {
	if m.AccessCount < d.cfg.PromoteAccessCount {
		return false, nil
	}
	if m.LastAccessed.Before(now.Add(-d.cfg.PromoteWindow)) {
		return false, nil
	}
	edges, err := d.meta.OutgoingConnections(ctx, m.ID)
	if err != nil {
		return false, fmt.Errorf("promotion edges %s: %w", m.ID, err)
	}
	strong := 0
	for _, e := range edges {
		if e.Strength >= 0.5 {
			strong++
		}
	}
	if strong < 2 {
		return false, nil
	}

	m.Type = TypeSemantic
	m.DecayRate = d.cfg.SemanticDecay
	m.Importance = math.Min(1, m.Importance+0.1)
	if err := d.meta.UpdateMemory(ctx, m); err != nil {
		return false, fmt.Errorf("promote %s: %w", m.ID, err)
	}
	log.Printf("[DUAL] promoted %s (access=%d, strong edges=%d)", m.ID, m.AccessCount, strong)
	return true, nil
}
