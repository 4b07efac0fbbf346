package cognitive_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/cognitive"
	"github.com/engramdb/engram/cognitive/embedder/mock"
	"github.com/engramdb/engram/cognitive/store/chromem"
	"github.com/engramdb/engram/cognitive/store/sqlite"
)

func newStores(t *testing.T) (*chromem.Store, *sqlite.Store) {
	t.Helper()
	vectors, err := chromem.New("")
	require.NoError(t, err)
	meta, err := sqlite.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	return vectors, meta
}

func newTestSystem(t *testing.T, cfg *cognitive.Config, opts ...cognitive.SystemOption) (*cognitive.System, *chromem.Store, *sqlite.Store) {
	t.Helper()
	vectors, meta := newStores(t)
	enc := cognitive.NewEncoder(mock.New(384), 0.5)
	sys, err := cognitive.NewSystem(context.Background(), enc, vectors, meta, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })
	return sys, vectors, meta
}

func TestStoreThenRecallIdenticalText(t *testing.T) {
	ctx := context.Background()
	sys, _, meta := newTestSystem(t, nil)

	stored, err := sys.Store(ctx, "transformer attention heads learn positional structure", nil)
	require.NoError(t, err)
	assert.Equal(t, cognitive.LevelEpisode, stored.Level)
	assert.Equal(t, cognitive.TypeEpisodic, stored.Type)

	result, err := sys.Recall(ctx, "transformer attention heads learn positional structure", nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Core)
	assert.Equal(t, stored.ID, result.Core[0].Memory.ID)
	assert.GreaterOrEqual(t, result.Core[0].Score, 0.95)

	// Retrieval bumps the access statistics.
	m, err := meta.GetMemory(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.AccessCount)
}

func TestRecallSeparatesRelatedFromUnrelated(t *testing.T) {
	ctx := context.Background()
	cfg := cognitive.DefaultConfig()
	cfg.ActivationThreshold = 0.3
	sys, _, _ := newTestSystem(t, cfg)

	a, err := sys.Store(ctx, "javascript async promises chain via then", nil)
	require.NoError(t, err)
	b, err := sys.Store(ctx, "python async coroutines use await", nil)
	require.NoError(t, err)
	c, err := sys.Store(ctx, "ocean tides follow the moon", nil)
	require.NoError(t, err)

	result, err := sys.Recall(ctx, "async programming promises await", nil)
	require.NoError(t, err)

	got := make(map[string]bool)
	for _, sm := range result.Core {
		got[sm.Memory.ID] = true
	}
	for _, sm := range result.Peripheral {
		got[sm.Memory.ID] = true
	}
	assert.True(t, got[a.ID], "related memory A should be activated")
	assert.True(t, got[b.ID], "related memory B should be activated")
	assert.False(t, got[c.ID], "unrelated memory C should not be activated")
	for _, sm := range result.Bridges {
		assert.NotEqual(t, c.ID, sm.Memory.ID,
			"C is novel but has no connection potential, so it is not a bridge")
	}

	// Activation stays within the configured cap.
	assert.LessOrEqual(t, len(result.Core)+len(result.Peripheral), cfg.MaxActivations)
}

func TestActivationSpreadsOverGraph(t *testing.T) {
	ctx := context.Background()
	sys, _, meta := newTestSystem(t, nil)

	a, err := sys.Store(ctx, "compiler optimizations for loop unrolling", nil)
	require.NoError(t, err)
	b, err := sys.Store(ctx, "garden irrigation schedule for tomatoes", nil)
	require.NoError(t, err)

	require.NoError(t, meta.PutConnection(ctx, &cognitive.Connection{
		SourceID: a.ID, TargetID: b.ID, Strength: 0.9,
		Kind: cognitive.KindAssociative, CreatedAt: a.CreatedAt, LastActivated: a.CreatedAt,
	}))

	result, err := sys.Recall(ctx, "compiler optimizations for loop unrolling", nil)
	require.NoError(t, err)

	require.NotEmpty(t, result.Core)
	assert.Equal(t, a.ID, result.Core[0].Memory.ID)

	var foundB bool
	for _, sm := range append(result.Core, result.Peripheral...) {
		if sm.Memory.ID == b.ID {
			foundB = true
			assert.InDelta(t, 0.9, sm.Score, 0.11, "spread activation is seed*strength")
		}
	}
	assert.True(t, foundB, "connected memory should be activated by spreading")
}

func TestBridgeDiscoveryAndCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	sys, _, meta := newTestSystem(t, nil)

	a, err := sys.Store(ctx, "profiling the query planner hot path", nil)
	require.NoError(t, err)
	c, err := sys.Store(ctx, "watercolor techniques for painting skies", nil)
	require.NoError(t, err)

	// Incoming-only edge: C is never activated by spread from A, but its
	// connection potential to the activated set is high.
	require.NoError(t, meta.PutConnection(ctx, &cognitive.Connection{
		SourceID: c.ID, TargetID: a.ID, Strength: 0.8,
		Kind: cognitive.KindAssociative, CreatedAt: c.CreatedAt, LastActivated: c.CreatedAt,
	}))

	first, err := sys.Recall(ctx, "profiling the query planner hot path", nil)
	require.NoError(t, err)
	require.Len(t, first.Bridges, 1)
	assert.Equal(t, c.ID, first.Bridges[0].Memory.ID)
	assert.GreaterOrEqual(t, first.Bridges[0].Score, 0.4*0.3)

	// Same query within the TTL: identical bridge set, served by the cache.
	second, err := sys.Recall(ctx, "profiling the query planner hot path", nil)
	require.NoError(t, err)
	require.Len(t, second.Bridges, 1)
	assert.Equal(t, first.Bridges[0].Memory.ID, second.Bridges[0].Memory.ID)
	assert.Equal(t, first.Bridges[0].Score, second.Bridges[0].Score)

	stats, err := sys.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.BridgeHits, uint64(1))
}

func TestDeleteBySource(t *testing.T) {
	ctx := context.Background()
	sys, vectors, _ := newTestSystem(t, nil)

	_, err := sys.Store(ctx, "note one from the watched file", &cognitive.StoreOptions{SourcePath: "notes.md"})
	require.NoError(t, err)
	_, err = sys.Store(ctx, "note two from the watched file", &cognitive.StoreOptions{SourcePath: "notes.md"})
	require.NoError(t, err)
	keep, err := sys.Store(ctx, "unrelated note", &cognitive.StoreOptions{SourcePath: "other.md"})
	require.NoError(t, err)

	n, err := sys.DeleteBySource(ctx, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := sys.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoryCounts[cognitive.LevelEpisode])

	count, err := vectors.Count(ctx, cognitive.LevelEpisode)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The survivor is untouched.
	result, err := sys.Recall(ctx, "unrelated note", nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Core)
	assert.Equal(t, keep.ID, result.Core[0].Memory.ID)
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t, nil)

	_, err := sys.Store(ctx, "   ", nil)
	assert.True(t, errors.Is(err, cognitive.ErrValidation))

	_, err = sys.Recall(ctx, "", nil)
	assert.True(t, errors.Is(err, cognitive.ErrValidation))

	_, err = sys.Store(ctx, "child", &cognitive.StoreOptions{ParentID: "missing"})
	assert.True(t, errors.Is(err, cognitive.ErrNotFound))

	// A parent must sit strictly above its child.
	l2 := cognitive.LevelEpisode
	parent, err := sys.Store(ctx, "an episode", &cognitive.StoreOptions{LevelHint: &l2})
	require.NoError(t, err)
	_, err = sys.Store(ctx, "another episode", &cognitive.StoreOptions{LevelHint: &l2, ParentID: parent.ID})
	assert.True(t, errors.Is(err, cognitive.ErrValidation))
}

func TestHierarchyLevelsMapToCollections(t *testing.T) {
	ctx := context.Background()
	sys, vectors, meta := newTestSystem(t, nil)

	l0, l1, l2 := cognitive.LevelConcept, cognitive.LevelContext, cognitive.LevelEpisode
	concept, err := sys.Store(ctx, "distributed systems", &cognitive.StoreOptions{LevelHint: &l0})
	require.NoError(t, err)
	contextMem, err := sys.Store(ctx, "consensus protocols in production", &cognitive.StoreOptions{LevelHint: &l1, ParentID: concept.ID})
	require.NoError(t, err)
	_, err = sys.Store(ctx, "debugged a raft election storm today", &cognitive.StoreOptions{LevelHint: &l2, ParentID: contextMem.ID})
	require.NoError(t, err)

	counts, err := meta.CountByLevel(ctx)
	require.NoError(t, err)
	for _, level := range cognitive.Levels {
		vc, err := vectors.Count(ctx, level)
		require.NoError(t, err)
		assert.Equal(t, counts[level], vc, "every memory has exactly one vector at its level")
		assert.Equal(t, 1, vc)
	}

	// Hierarchical linkage exists parent -> child.
	edge, err := meta.Connection(ctx, concept.ID, contextMem.ID)
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, cognitive.KindHierarchical, edge.Kind)
}

func TestReconcileRemovesOrphanVector(t *testing.T) {
	ctx := context.Background()
	vectors, meta := newStores(t)
	enc := cognitive.NewEncoder(mock.New(384), 0.5)

	// Simulate a crash between vector insert and metadata insert.
	orphanVec, _, err := enc.Encode(ctx, "half-written experience")
	require.NoError(t, err)
	require.NoError(t, vectors.Insert(ctx, cognitive.LevelEpisode, "orphan-ref", orphanVec, nil))

	sys, err := cognitive.NewSystem(ctx, enc, vectors, meta, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })

	refs, err := vectors.Refs(ctx, cognitive.LevelEpisode)
	require.NoError(t, err)
	assert.Empty(t, refs, "startup reconciliation reaps the orphan vector")

	stats, err := sys.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.MemoryCounts[cognitive.LevelEpisode])
}

func TestRecallLimits(t *testing.T) {
	ctx := context.Background()
	cfg := cognitive.DefaultConfig()
	cfg.ActivationThreshold = 0.2
	sys, _, _ := newTestSystem(t, cfg)

	for _, text := range []string{
		"release checklist for the api gateway",
		"release notes for the api gateway",
		"release plan for the api gateway",
		"release retro for the api gateway",
	} {
		_, err := sys.Store(ctx, text, nil)
		require.NoError(t, err)
	}

	result, err := sys.Recall(ctx, "release api gateway", &cognitive.RecallOptions{KCore: 1, KPeripheral: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Core), 1)
	assert.LessOrEqual(t, len(result.Peripheral), 2)
}
