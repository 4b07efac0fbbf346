package cognitive

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
)

// BridgeDiscovery surfaces memories that are semantically far from the
// query yet strongly connected to the activated set. Results are cached by
// query fingerprint, read-through: ristretto in front, the metadata store's
// bridge_cache table behind it.
type BridgeDiscovery struct {
	vectors VectorIndex
	meta    MetadataStore
	cfg     *Config
	cache   *ristretto.Cache
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64

	mu sync.Mutex // serializes cache fills per process
}

// NewBridgeDiscovery wires bridge discovery to its stores.
func NewBridgeDiscovery(vectors VectorIndex, meta MetadataStore, cfg *Config) (*BridgeDiscovery, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge cache: %w", err)
	}
	return &BridgeDiscovery{
		vectors: vectors,
		meta:    meta,
		cfg:     cfg,
		cache:   cache,
		now:     time.Now,
	}, nil
}

// Fingerprint deterministically summarizes a fused query plus the retrieval
// parameters that shape the bridge set. Used as the cache key.
func (b *BridgeDiscovery) Fingerprint(query []float32) string {
	h := xxhash.New()
	var buf [4]byte
	for _, v := range query {
		binary.LittleEndian.PutUint32(buf[:], uint32(int32(v*1e6)))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(b.cfg.BridgeK))
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(b.cfg.BridgeNoveltyMin*1e6)))
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(b.cfg.BridgeConnectionMin*1e6)))
	h.Write(buf[:])
	return fmt.Sprintf("%016x", h.Sum64())
}

// Discover returns up to BridgeK bridges for the query, given the
// just-activated set. Candidates are sampled stalest-first from L1 and L2
// outside the activation set; each is scored
// 0.6*novelty + 0.4*connection_potential, with both components floored.
func (b *BridgeDiscovery) Discover(ctx context.Context, query []float32, activated *ActivationResult) ([]*BridgeEntry, error) {
	fp := b.Fingerprint(query)

	if cached, ok := b.lookup(ctx, fp); ok {
		b.hits.Add(1)
		return cached, nil
	}
	b.misses.Add(1)

	exclude := make(map[string]struct{})
	for _, am := range activated.All() {
		exclude[am.Memory.ID] = struct{}{}
	}

	candidates, err := b.meta.SampleStale(ctx, []Level{LevelContext, LevelEpisode}, exclude, b.cfg.BridgeCandidates)
	if err != nil {
		return nil, fmt.Errorf("sample candidates: %w", err)
	}

	// Load vectors for the activated set once.
	type activatedVec struct {
		id  string
		vec []float32
	}
	actVecs := make([]activatedVec, 0, len(exclude))
	for _, am := range activated.All() {
		v, err := b.vectors.Fetch(ctx, am.Memory.Level, am.Memory.VectorRef)
		if err != nil {
			continue
		}
		actVecs = append(actVecs, activatedVec{id: am.Memory.ID, vec: v})
	}

	now := b.now()
	entries := make([]*BridgeEntry, 0, len(candidates))
	for _, c := range candidates {
		if err := timeoutErr(ctx); err != nil {
			return nil, err
		}
		vc, err := b.vectors.Fetch(ctx, c.Level, c.VectorRef)
		if err != nil {
			continue
		}

		novelty := 1 - Cosine(query, vc)
		if novelty < b.cfg.BridgeNoveltyMin {
			continue
		}

		var maxSim float64
		for _, av := range actVecs {
			if s := Cosine(av.vec, vc); s > maxSim {
				maxSim = s
			}
		}
		maxEdge, err := b.maxEdgeStrength(ctx, c.ID, activated)
		if err != nil {
			return nil, err
		}
		cp := maxf(maxSim, maxEdge)
		if cp < b.cfg.BridgeConnectionMin {
			continue
		}

		entries = append(entries, &BridgeEntry{
			Fingerprint:         fp,
			MemoryID:            c.ID,
			BridgeScore:         0.6*novelty + 0.4*cp,
			NoveltyScore:        novelty,
			ConnectionPotential: cp,
			CreatedAt:           now,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].BridgeScore != entries[j].BridgeScore {
			return entries[i].BridgeScore > entries[j].BridgeScore
		}
		return entries[i].MemoryID < entries[j].MemoryID
	})
	if len(entries) > b.cfg.BridgeK {
		entries = entries[:b.cfg.BridgeK]
	}

	b.fill(ctx, fp, entries)
	return entries, nil
}

// maxEdgeStrength returns the strongest edge between the candidate and any
// activated memory, in either direction.
func (b *BridgeDiscovery) maxEdgeStrength(ctx context.Context, candidateID string, activated *ActivationResult) (float64, error) {
	var best float64
	out, err := b.meta.OutgoingConnections(ctx, candidateID)
	if err != nil {
		return 0, fmt.Errorf("candidate edges: %w", err)
	}
	for _, c := range out {
		if activated.Activated(c.TargetID) && c.Strength > best {
			best = c.Strength
		}
	}
	for _, am := range activated.All() {
		c, err := b.meta.Connection(ctx, am.Memory.ID, candidateID)
		if err != nil || c == nil {
			continue
		}
		if c.Strength > best {
			best = c.Strength
		}
	}
	return best, nil
}

func (b *BridgeDiscovery) lookup(ctx context.Context, fp string) ([]*BridgeEntry, bool) {
	if v, ok := b.cache.Get(fp); ok {
		if entries, ok := v.([]*BridgeEntry); ok {
			return entries, true
		}
	}
	// Fall through to the persisted cache (survives restarts within TTL).
	notBefore := b.now().Add(-b.cfg.BridgeCacheTTL)
	entries, err := b.meta.BridgeEntries(ctx, fp, notBefore)
	if err != nil || len(entries) == 0 {
		return nil, false
	}
	b.cache.SetWithTTL(fp, entries, 1, b.cfg.BridgeCacheTTL)
	return entries, true
}

func (b *BridgeDiscovery) fill(ctx context.Context, fp string, entries []*BridgeEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.SetWithTTL(fp, entries, 1, b.cfg.BridgeCacheTTL)
	if len(entries) > 0 {
		if err := b.meta.PutBridgeEntries(ctx, entries); err != nil {
			log.Printf("[BRIDGE] persist cache entries: %v", err)
		}
	}
}

// HitStats returns cache hit/miss counters since startup.
func (b *BridgeDiscovery) HitStats() (hits, misses uint64) {
	return b.hits.Load(), b.misses.Load()
}

// Close releases the in-memory cache.
func (b *BridgeDiscovery) Close() {
	b.cache.Close()
}
