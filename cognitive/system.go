package cognitive

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func newEntropy() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// reinforceEta is the learning rate for co-retrieval reinforcement.
const reinforceEta = 0.1

// reinforcePairCap bounds how many top-activated memories participate in
// pairwise reinforcement after a recall.
const reinforcePairCap = 10

// StoreOptions carries optional context hints for Store.
type StoreOptions struct {
	// LevelHint places the memory at an explicit hierarchy level.
	// Default: episode (L2).
	LevelHint *Level

	// ParentID links the memory under an existing higher-level memory.
	ParentID string

	// SourcePath records the originating file for sync-driven memories.
	SourcePath string
}

// RecallOptions bounds a recall result.
type RecallOptions struct {
	KCore       int
	KPeripheral int
	KBridge     int
	Types       []MemoryType
}

// System is the cognitive memory façade composing the encoder, the two
// stores, the activation engine, bridge discovery, and the dual-memory
// manager into store, recall, consolidate, and stats operations.
type System struct {
	encoder    Encoder
	vectors    VectorIndex
	meta       MetadataStore
	activation *ActivationEngine
	bridges    *BridgeDiscovery
	dual       *DualMemoryManager
	cfg        *Config
	now        func() time.Time

	syncHealth func() SyncHealth

	ulidMu      sync.Mutex
	ulidEntropy *ulid.MonotonicEntropy

	maintenance struct {
		cancel context.CancelFunc
		done   chan struct{}
	}
}

// SystemOption configures the system.
type SystemOption func(*System)

// WithClock injects a clock, used by consolidation tests to simulate the
// passage of time.
func WithClock(now func() time.Time) SystemOption {
	return func(s *System) { s.now = now }
}

// WithSyncHealth wires the file sync engine's health probe into Stats.
func WithSyncHealth(probe func() SyncHealth) SystemOption {
	return func(s *System) { s.syncHealth = probe }
}

// NewSystem composes a System and reconciles the two stores.
func NewSystem(ctx context.Context, encoder Encoder, vectors VectorIndex, meta MetadataStore, cfg *Config, opts ...SystemOption) (*System, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Normalize()

	bridges, err := NewBridgeDiscovery(vectors, meta, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	s := &System{
		encoder:     encoder,
		vectors:     vectors,
		meta:        meta,
		activation:  NewActivationEngine(vectors, meta, cfg),
		bridges:     bridges,
		dual:        NewDualMemoryManager(vectors, meta, cfg),
		cfg:         cfg,
		now:         time.Now,
		ulidEntropy: ulid.Monotonic(newEntropy(), 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dual.now = s.now

	if err := s.Reconcile(ctx); err != nil {
		return nil, fmt.Errorf("startup reconciliation: %w", err)
	}
	return s, nil
}

// Store encodes the text and persists it through the write-ahead pattern:
// the vector is inserted first, then the metadata row referencing it; on
// metadata failure the vector is deleted as the compensating action.
func (s *System) Store(ctx context.Context, text string, opts *StoreOptions) (*Memory, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty experience text", ErrValidation)
	}
	if opts == nil {
		opts = &StoreOptions{}
	}

	level := LevelEpisode
	if opts.LevelHint != nil {
		if !opts.LevelHint.Valid() {
			return nil, fmt.Errorf("%w: level %d", ErrValidation, *opts.LevelHint)
		}
		level = *opts.LevelHint
	}

	var parent *Memory
	if opts.ParentID != "" {
		var err error
		parent, err = s.meta.GetMemory(ctx, opts.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent %s: %w", opts.ParentID, err)
		}
		if parent.Level >= level {
			return nil, fmt.Errorf("%w: parent level %d is not above %d", ErrValidation, parent.Level, level)
		}
	}

	vector, dims, err := s.encoder.Encode(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if opts.SourcePath != "" {
		dims["source_path"] = 1 // presence marker; the path itself is indexed
	}

	now := s.now()
	m := &Memory{
		ID:           uuid.New().String(),
		Level:        level,
		Content:      text,
		Dimensions:   dims,
		CreatedAt:    now,
		LastAccessed: now,
		Importance:   initialImportance(dims),
		ParentID:     opts.ParentID,
		Type:         TypeEpisodic,
		DecayRate:    s.cfg.EpisodicDecay,
		SourcePath:   opts.SourcePath,
	}
	m.VectorRef = m.ID

	payload := map[string]string{"level": level.String()}
	if opts.SourcePath != "" {
		payload["source_path"] = opts.SourcePath
	}
	if err := s.vectors.Insert(ctx, level, m.VectorRef, vector, payload); err != nil {
		return nil, fmt.Errorf("insert vector: %w", err)
	}
	if err := s.meta.InsertMemory(ctx, m); err != nil {
		// Compensating action: keep the stores aligned.
		if derr := s.vectors.Delete(ctx, level, m.VectorRef); derr != nil {
			log.Printf("[SYSTEM] compensating vector delete %s: %v", m.VectorRef, derr)
		}
		return nil, fmt.Errorf("insert metadata: %w", err)
	}

	if parent != nil {
		if _, err := s.meta.Reinforce(ctx, parent.ID, m.ID, KindHierarchical, 0.6, now); err != nil {
			log.Printf("[SYSTEM] hierarchical edge %s->%s: %v", parent.ID, m.ID, err)
		}
	}

	return m, nil
}

// Recall answers a query with core, peripheral, and bridge memories.
// Activated memories get their access statistics and importance updated;
// co-retrieved pairs reinforce their connecting edges.
func (s *System) Recall(ctx context.Context, query string, opts *RecallOptions) (*RecallResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}
	if opts == nil {
		opts = &RecallOptions{}
	}

	fused, _, err := s.encoder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	activated, err := s.activation.Spread(ctx, fused)
	if err != nil {
		return nil, fmt.Errorf("spread activation: %w", err)
	}

	bridgeEntries, err := s.bridges.Discover(ctx, fused, activated)
	if err != nil {
		return nil, fmt.Errorf("bridge discovery: %w", err)
	}

	if err := timeoutErr(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.updateActivated(ctx, activated, now); err != nil {
		return nil, err
	}
	s.reinforce(ctx, activated, now)

	result := &RecallResult{}
	typeOK := typeFilter(opts.Types)
	for _, am := range activated.Core {
		if !typeOK(am.Memory.Type) {
			continue
		}
		result.Core = append(result.Core, ScoredMemory{
			Memory: am.Memory,
			Score:  am.Activation,
			Why:    whyActivated(am),
		})
	}
	for _, am := range activated.Peripheral {
		if !typeOK(am.Memory.Type) {
			continue
		}
		result.Peripheral = append(result.Peripheral, ScoredMemory{
			Memory: am.Memory,
			Score:  am.Activation,
			Why:    whyActivated(am),
		})
	}
	for _, be := range bridgeEntries {
		mem, err := s.meta.GetMemory(ctx, be.MemoryID)
		if err != nil {
			continue
		}
		if !typeOK(mem.Type) {
			continue
		}
		result.Bridges = append(result.Bridges, ScoredMemory{
			Memory: mem,
			Score:  be.BridgeScore,
			Why: fmt.Sprintf("bridge: novelty %.2f, connection potential %.2f",
				be.NoveltyScore, be.ConnectionPotential),
		})
	}

	truncateResult(result, opts)
	s.logStats(ctx, s.bridges.Fingerprint(fused), result, now)
	return result, nil
}

// Consolidate runs one dual-memory maintenance pass.
func (s *System) Consolidate(ctx context.Context) (*ConsolidationReport, error) {
	return s.dual.Run(ctx)
}

// DeleteBySource removes every memory whose source_path equals path, from
// both stores, metadata first. Returns the number deleted.
func (s *System) DeleteBySource(ctx context.Context, path string) (int, error) {
	memories, err := s.meta.MemoriesBySource(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("query by source: %w", err)
	}
	if len(memories) == 0 {
		return 0, nil
	}
	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	if err := s.meta.DeleteMemories(ctx, ids...); err != nil {
		return 0, fmt.Errorf("delete metadata: %w", err)
	}
	for _, m := range memories {
		if err := s.vectors.Delete(ctx, m.Level, m.VectorRef); err != nil {
			log.Printf("[SYSTEM] delete vector %s: %v", m.VectorRef, err)
		}
	}
	return len(memories), nil
}

// Stats reports per-level counts, the edge count, bridge cache hit ratio,
// and sync health.
func (s *System) Stats(ctx context.Context) (*SystemStats, error) {
	counts, err := s.meta.CountByLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	edges, err := s.meta.ConnectionCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count edges: %w", err)
	}
	hits, misses := s.bridges.HitStats()
	stats := &SystemStats{
		MemoryCounts: counts,
		EdgeCount:    edges,
		BridgeHits:   hits,
		BridgeMisses: misses,
	}
	if total := hits + misses; total > 0 {
		stats.BridgeHitRate = float64(hits) / float64(total)
	}
	if s.syncHealth != nil {
		stats.Sync = s.syncHealth()
	}
	return stats, nil
}

// Reconcile intersects the vector-ref sets of the two stores. Vectors
// without metadata are removed; metadata without a vector is re-embedded
// from its content.
func (s *System) Reconcile(ctx context.Context) error {
	known, err := s.meta.VectorRefs(ctx)
	if err != nil {
		return fmt.Errorf("metadata refs: %w", err)
	}

	for _, level := range Levels {
		refs, err := s.vectors.Refs(ctx, level)
		if err != nil {
			return fmt.Errorf("vector refs L%d: %w", level, err)
		}
		var orphans []string
		for _, ref := range refs {
			if lvl, ok := known[ref]; !ok || lvl != level {
				orphans = append(orphans, ref)
			} else {
				delete(known, ref)
			}
		}
		if len(orphans) > 0 {
			log.Printf("[SYSTEM] reconcile: removing %d orphan vectors from L%d", len(orphans), level)
			if err := s.vectors.Delete(ctx, level, orphans...); err != nil {
				return fmt.Errorf("reap orphans L%d: %w", level, err)
			}
		}
	}

	// Remaining metadata entries have no vector: re-embed from content.
	for ref, level := range known {
		m, err := s.meta.GetMemory(ctx, ref)
		if err != nil {
			continue
		}
		vector, _, err := s.encoder.Encode(ctx, m.Content)
		if err != nil {
			return fmt.Errorf("re-embed %s: %w", ref, err)
		}
		payload := map[string]string{"level": level.String()}
		if m.SourcePath != "" {
			payload["source_path"] = m.SourcePath
		}
		log.Printf("[SYSTEM] reconcile: re-embedding %s into L%d", ref, level)
		if err := s.vectors.Insert(ctx, level, ref, vector, payload); err != nil {
			return fmt.Errorf("reinsert vector %s: %w", ref, err)
		}
	}
	return nil
}

// StartMaintenance begins the recurring consolidation task.
func (s *System) StartMaintenance(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.maintenance.cancel = cancel
	s.maintenance.done = make(chan struct{})
	go func() {
		defer close(s.maintenance.done)
		ticker := time.NewTicker(s.cfg.ConsolidateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.dual.Run(ctx); err != nil {
					log.Printf("[SYSTEM] maintenance pass: %v", err)
				}
			}
		}
	}()
}

// Close stops maintenance and releases store resources.
func (s *System) Close() error {
	if s.maintenance.cancel != nil {
		s.maintenance.cancel()
		<-s.maintenance.done
	}
	s.bridges.Close()
	if err := s.meta.Close(); err != nil {
		return err
	}
	return s.vectors.Close()
}

// updateActivated bumps access statistics and recomputes importance for
// every activated memory: 0.4*normalized access + 0.3*normalized recency +
// 0.3*mean incident edge strength.
func (s *System) updateActivated(ctx context.Context, activated *ActivationResult, now time.Time) error {
	for _, am := range activated.All() {
		m := am.Memory
		if err := s.meta.TouchAccess(ctx, m.ID, now); err != nil {
			return fmt.Errorf("touch access %s: %w", m.ID, err)
		}
		m.AccessCount++
		m.LastAccessed = now

		strengths, err := s.meta.IncidentStrengths(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("incident strengths %s: %w", m.ID, err)
		}
		var meanStrength float64
		for _, st := range strengths {
			meanStrength += st
		}
		if len(strengths) > 0 {
			meanStrength /= float64(len(strengths))
		}

		access := float64(m.AccessCount) / float64(m.AccessCount+10)
		days := now.Sub(m.CreatedAt).Hours() / 24
		recency := decayFactor(1.0/7, days)
		m.Importance = clamp(0.4*access+0.3*recency+0.3*meanStrength, 0, 1)
		if err := s.meta.UpdateMemory(ctx, m); err != nil {
			return fmt.Errorf("update importance %s: %w", m.ID, err)
		}
	}
	return nil
}

// reinforce strengthens edges between co-retrieved memories: for each pair
// among the top activated, the edge (winner -> loser) gains
// eta*min(a, b) strength. Best effort; failures are logged, not fatal.
func (s *System) reinforce(ctx context.Context, activated *ActivationResult, now time.Time) {
	top := activated.All()
	if len(top) > reinforcePairCap {
		top = top[:reinforcePairCap]
	}
	for i := 0; i < len(top); i++ {
		for j := i + 1; j < len(top); j++ {
			winner, loser := top[i], top[j]
			delta := reinforceEta * minf(winner.Activation, loser.Activation)
			if delta <= 0 {
				continue
			}
			if _, err := s.meta.Reinforce(ctx, winner.Memory.ID, loser.Memory.ID, KindAssociative, delta, now); err != nil {
				log.Printf("[SYSTEM] reinforce %s->%s: %v", winner.Memory.ID, loser.Memory.ID, err)
			}
		}
	}
}

// logStats appends the retrieval log rows for this recall.
func (s *System) logStats(ctx context.Context, fingerprint string, result *RecallResult, now time.Time) {
	var stats []*RetrievalStat
	add := func(items []ScoredMemory, kind StatKind) {
		for _, sm := range items {
			stats = append(stats, &RetrievalStat{
				ID:          s.newULID(now),
				Fingerprint: fingerprint,
				MemoryID:    sm.Memory.ID,
				Kind:        kind,
				Success:     sm.Score,
				CreatedAt:   now,
			})
		}
	}
	add(result.Core, StatCore)
	add(result.Peripheral, StatPeripheral)
	add(result.Bridges, StatBridge)
	if len(stats) == 0 {
		return
	}
	if err := s.meta.AppendRetrievalStats(ctx, stats); err != nil {
		log.Printf("[SYSTEM] append retrieval stats: %v", err)
	}
}

func (s *System) newULID(now time.Time) string {
	s.ulidMu.Lock()
	defer s.ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.ulidEntropy).String()
}

// initialImportance seeds importance from the extracted dimensions:
// emotionally or temporally loaded experiences start slightly higher.
func initialImportance(dims map[string]float64) float64 {
	base := 0.4
	base += 0.2 * dims["arousal"]
	base += 0.2 * dims["urgency"]
	base += 0.1 * math.Abs(dims["valence"])
	return clamp(base, 0, 1)
}

func whyActivated(am ActivatedMemory) string {
	if am.Seed {
		return fmt.Sprintf("direct similarity %.2f", am.Activation)
	}
	return fmt.Sprintf("spread activation %.2f", am.Activation)
}

func typeFilter(types []MemoryType) func(MemoryType) bool {
	if len(types) == 0 {
		return func(MemoryType) bool { return true }
	}
	set := make(map[MemoryType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(t MemoryType) bool {
		_, ok := set[t]
		return ok
	}
}

func truncateResult(r *RecallResult, opts *RecallOptions) {
	if opts.KCore > 0 && len(r.Core) > opts.KCore {
		r.Core = r.Core[:opts.KCore]
	}
	if opts.KPeripheral > 0 && len(r.Peripheral) > opts.KPeripheral {
		r.Peripheral = r.Peripheral[:opts.KPeripheral]
	}
	if opts.KBridge > 0 && len(r.Bridges) > opts.KBridge {
		r.Bridges = r.Bridges[:opts.KBridge]
	}
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
