package cognitive_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/cognitive"
)

func TestConsolidateEvictsStaleEpisodic(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	sys, vectors, _ := newTestSystem(t, nil, cognitive.WithClock(func() time.Time { return current }))

	for i := 0; i < 10; i++ {
		_, err := sys.Store(ctx, fmt.Sprintf("ephemeral observation number %d about the weather", i), nil)
		require.NoError(t, err)
	}

	// 31 simulated days with zero accesses.
	current = current.Add(31 * 24 * time.Hour)

	report, err := sys.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Evicted)
	assert.Equal(t, 0, report.Promoted)

	stats, err := sys.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.MemoryCounts[cognitive.LevelEpisode])

	count, err := vectors.Count(ctx, cognitive.LevelEpisode)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "eviction removes the vector too")
}

func TestConsolidateRetainsAccessedMemories(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	sys, _, _ := newTestSystem(t, nil, cognitive.WithClock(func() time.Time { return current }))

	_, err := sys.Store(ctx, "the deploy runbook lives in the ops wiki", nil)
	require.NoError(t, err)
	_, err = sys.Recall(ctx, "the deploy runbook lives in the ops wiki", nil)
	require.NoError(t, err)

	current = current.Add(31 * 24 * time.Hour)

	report, err := sys.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Evicted, "a memory with accesses is never evicted")
	assert.Equal(t, 1, report.Retained)
}

func TestConsolidatePromotesEpisodicToSemantic(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	sys, _, meta := newTestSystem(t, nil, cognitive.WithClock(func() time.Time { return current }))

	a, err := sys.Store(ctx, "the billing service owns invoice numbering", nil)
	require.NoError(t, err)
	x, err := sys.Store(ctx, "invoices are archived quarterly to cold storage", nil)
	require.NoError(t, err)
	y, err := sys.Store(ctx, "numbering gaps trigger a finance audit", nil)
	require.NoError(t, err)

	for _, target := range []string{x.ID, y.ID} {
		require.NoError(t, meta.PutConnection(ctx, &cognitive.Connection{
			SourceID: a.ID, TargetID: target, Strength: 0.6,
			Kind: cognitive.KindAssociative, CreatedAt: current, LastActivated: current,
		}))
	}

	// Five recalls within one simulated day.
	for i := 0; i < 5; i++ {
		current = current.Add(4 * time.Hour)
		_, err := sys.Recall(ctx, "the billing service owns invoice numbering", nil)
		require.NoError(t, err)
	}

	report, err := sys.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Promoted)

	m, err := meta.GetMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, cognitive.TypeSemantic, m.Type)
	assert.Equal(t, 0.01, m.DecayRate)
	assert.GreaterOrEqual(t, m.AccessCount, 5)

	// Promotion is irreversible: another pass keeps the memory semantic.
	_, err = sys.Consolidate(ctx)
	require.NoError(t, err)
	m, err = meta.GetMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, cognitive.TypeSemantic, m.Type)
}
