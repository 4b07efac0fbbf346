package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/cognitive"
	"github.com/engramdb/engram/cognitive/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testMemory(id string, level cognitive.Level, at time.Time) *cognitive.Memory {
	return &cognitive.Memory{
		ID:           id,
		Level:        level,
		Content:      "content of " + id,
		Dimensions:   map[string]float64{"technical": 0.5, "valence": -0.25},
		VectorRef:    id,
		CreatedAt:    at,
		LastAccessed: at,
		Importance:   0.4,
		Type:         cognitive.TypeEpisodic,
		DecayRate:    0.1,
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Date(2026, 3, 1, 8, 30, 0, 123456789, time.UTC)

	m := testMemory("mem-1", cognitive.LevelContext, at)
	m.ParentID = "parent-1"
	m.SourcePath = "docs/notes.md"
	require.NoError(t, s.InsertMemory(ctx, m))

	got, err := s.GetMemory(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, cognitive.LevelContext, got.Level)
	assert.Equal(t, m.Dimensions, got.Dimensions)
	assert.Equal(t, "parent-1", got.ParentID)
	assert.Equal(t, "docs/notes.md", got.SourcePath)
	assert.True(t, got.CreatedAt.Equal(at), "timestamps survive with full precision")

	_, err = s.GetMemory(ctx, "missing")
	assert.True(t, errors.Is(err, cognitive.ErrNotFound))
}

func TestUpdateMemoryEnforcesOneWayTransitions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Now().UTC()

	m := testMemory("mem-1", cognitive.LevelEpisode, at)
	require.NoError(t, s.InsertMemory(ctx, m))

	m.Type = cognitive.TypeSemantic
	m.DecayRate = 0.01
	m.AccessCount = 3
	require.NoError(t, s.UpdateMemory(ctx, m))

	// Writing episodic again must not take effect, and access_count can
	// never decrease.
	m.Type = cognitive.TypeEpisodic
	m.AccessCount = 1
	require.NoError(t, s.UpdateMemory(ctx, m))

	got, err := s.GetMemory(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, cognitive.TypeSemantic, got.Type)
	assert.Equal(t, 3, got.AccessCount)
}

func TestTouchAccessIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Now().UTC()
	require.NoError(t, s.InsertMemory(ctx, testMemory("mem-1", cognitive.LevelEpisode, at)))

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.TouchAccess(ctx, "mem-1", at.Add(time.Duration(i)*time.Minute)))
		got, err := s.GetMemory(ctx, "mem-1")
		require.NoError(t, err)
		assert.Equal(t, i, got.AccessCount)
	}

	assert.Error(t, s.TouchAccess(ctx, "missing", at))
}

func TestReinforceConvergesToOne(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Now().UTC()
	require.NoError(t, s.InsertMemory(ctx, testMemory("a", cognitive.LevelEpisode, at)))
	require.NoError(t, s.InsertMemory(ctx, testMemory("b", cognitive.LevelEpisode, at)))

	c, err := s.Reinforce(ctx, "a", "b", cognitive.KindAssociative, 0.07, at)
	require.NoError(t, err)
	assert.InDelta(t, 0.07, c.Strength, 1e-9)
	assert.Equal(t, 1, c.ActivationCount)

	prev := c.Strength
	for i := 0; i < 50; i++ {
		c, err = s.Reinforce(ctx, "a", "b", cognitive.KindAssociative, 0.07, at.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c.Strength, prev, "reinforcement is monotonic")
		assert.LessOrEqual(t, c.Strength, 1.0)
		prev = c.Strength
	}
	assert.Equal(t, 1.0, c.Strength, "repeated reinforcement converges to strength 1")
	assert.Equal(t, 51, c.ActivationCount)

	// (a, b) and (b, a) are independent edges.
	back, err := s.Connection(ctx, "b", "a")
	require.NoError(t, err)
	assert.Nil(t, back)

	_, err = s.Reinforce(ctx, "a", "a", cognitive.KindAssociative, 0.1, at)
	assert.True(t, errors.Is(err, cognitive.ErrValidation))
}

func TestOutgoingAndIncidentConnections(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertMemory(ctx, testMemory(id, cognitive.LevelEpisode, at)))
	}
	put := func(src, dst string, strength float64) {
		require.NoError(t, s.PutConnection(ctx, &cognitive.Connection{
			SourceID: src, TargetID: dst, Strength: strength,
			Kind: cognitive.KindAssociative, CreatedAt: at, LastActivated: at,
		}))
	}
	put("a", "b", 0.9)
	put("a", "c", 0.4)
	put("c", "a", 0.2)

	out, err := s.OutgoingConnections(ctx, "a")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].TargetID, "strongest edge first")

	incident, err := s.IncidentStrengths(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{0.9, 0.4, 0.2}, incident)

	n, err := s.ConnectionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteMemoriesCascades(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Now().UTC()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.InsertMemory(ctx, testMemory(id, cognitive.LevelEpisode, at)))
	}
	_, err := s.Reinforce(ctx, "a", "b", cognitive.KindAssociative, 0.5, at)
	require.NoError(t, err)

	require.NoError(t, s.DeleteMemories(ctx, "a"))
	_, err = s.GetMemory(ctx, "a")
	assert.True(t, errors.Is(err, cognitive.ErrNotFound))

	n, err := s.ConnectionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "edges touching a deleted memory go with it")
}

func TestMemoriesBySourceAndLevel(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Now().UTC()

	m1 := testMemory("m1", cognitive.LevelEpisode, at)
	m1.SourcePath = "notes.md"
	m2 := testMemory("m2", cognitive.LevelEpisode, at)
	m2.SourcePath = "notes.md"
	m3 := testMemory("m3", cognitive.LevelConcept, at)
	for _, m := range []*cognitive.Memory{m1, m2, m3} {
		require.NoError(t, s.InsertMemory(ctx, m))
	}

	bySource, err := s.MemoriesBySource(ctx, "notes.md")
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	byLevel, err := s.MemoriesByLevel(ctx, cognitive.LevelConcept, 0)
	require.NoError(t, err)
	require.Len(t, byLevel, 1)
	assert.Equal(t, "m3", byLevel[0].ID)

	counts, err := s.CountByLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[cognitive.LevelEpisode])
	assert.Equal(t, 1, counts[cognitive.LevelConcept])
	assert.Equal(t, 0, counts[cognitive.LevelContext])

	refs, err := s.VectorRefs(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 3)
	assert.Equal(t, cognitive.LevelConcept, refs["m3"])
}

func TestSampleStaleOrdersAndExcludes(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"fresh", "older", "stalest"} {
		m := testMemory(id, cognitive.LevelEpisode, base.Add(-time.Duration(i)*24*time.Hour))
		require.NoError(t, s.InsertMemory(ctx, m))
	}

	got, err := s.SampleStale(ctx, []cognitive.Level{cognitive.LevelEpisode},
		map[string]struct{}{"older": {}}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "stalest", got[0].ID, "stalest first")
	assert.Equal(t, "fresh", got[1].ID)
}

func TestBridgeCacheTTLAndPurge(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now().UTC()

	entries := []*cognitive.BridgeEntry{
		{Fingerprint: "fp", MemoryID: "m1", BridgeScore: 0.9, NoveltyScore: 0.8, ConnectionPotential: 0.7, CreatedAt: now},
		{Fingerprint: "fp", MemoryID: "m2", BridgeScore: 0.5, NoveltyScore: 0.6, ConnectionPotential: 0.4, CreatedAt: now.Add(-10 * time.Minute)},
	}
	require.NoError(t, s.PutBridgeEntries(ctx, entries))

	fresh, err := s.BridgeEntries(ctx, "fp", now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, fresh, 1, "expired entries are not served")
	assert.Equal(t, "m1", fresh[0].MemoryID)

	purged, err := s.PurgeBridgeEntries(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestAppendRetrievalStats(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now().UTC()

	stats := []*cognitive.RetrievalStat{
		{ID: "01A", Fingerprint: "fp", MemoryID: "m1", Kind: cognitive.StatCore, Success: 0.9, CreatedAt: now},
		{ID: "01B", Fingerprint: "fp", MemoryID: "m2", Kind: cognitive.StatBridge, Success: 0.4, CreatedAt: now},
	}
	require.NoError(t, s.AppendRetrievalStats(ctx, stats))
	// Append-only: duplicate IDs are rejected rather than overwritten.
	assert.Error(t, s.AppendRetrievalStats(ctx, stats[:1]))
}
