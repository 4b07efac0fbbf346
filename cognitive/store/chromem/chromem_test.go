package chromem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/cognitive"
	"github.com/engramdb/engram/cognitive/store/chromem"
)

func unit(components ...float32) []float32 {
	return components
}

func TestInsertSearchOrdering(t *testing.T) {
	ctx := context.Background()
	s, err := chromem.New("")
	require.NoError(t, err)

	level := cognitive.LevelConcept
	require.NoError(t, s.Insert(ctx, level, "far", unit(0, 1, 0, 0), nil))
	require.NoError(t, s.Insert(ctx, level, "near", unit(1, 0, 0, 0), nil))
	require.NoError(t, s.Insert(ctx, level, "mid", unit(0.7, 0.7, 0, 0), nil))

	hits, err := s.Search(ctx, level, unit(1, 0, 0, 0), 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "near", hits[0].Ref)
	assert.Equal(t, "mid", hits[1].Ref)
	assert.Equal(t, "far", hits[2].Ref)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchTieBreaksByAscendingRef(t *testing.T) {
	ctx := context.Background()
	s, err := chromem.New("")
	require.NoError(t, err)

	level := cognitive.LevelEpisode
	require.NoError(t, s.Insert(ctx, level, "bbb", unit(1, 0, 0, 0), nil))
	require.NoError(t, s.Insert(ctx, level, "aaa", unit(1, 0, 0, 0), nil))

	hits, err := s.Search(ctx, level, unit(1, 0, 0, 0), 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "aaa", hits[0].Ref)
	assert.Equal(t, "bbb", hits[1].Ref)
}

func TestSearchHonorsPayloadFilter(t *testing.T) {
	ctx := context.Background()
	s, err := chromem.New("")
	require.NoError(t, err)

	level := cognitive.LevelEpisode
	require.NoError(t, s.Insert(ctx, level, "m1", unit(1, 0, 0, 0), map[string]string{"source_path": "notes.md"}))
	require.NoError(t, s.Insert(ctx, level, "m2", unit(0.9, 0.1, 0, 0), map[string]string{"source_path": "other.md"}))

	hits, err := s.Search(ctx, level, unit(1, 0, 0, 0), 2, map[string]string{"source_path": "notes.md"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].Ref)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := chromem.New("")
	require.NoError(t, err)

	level := cognitive.LevelContext
	require.NoError(t, s.Insert(ctx, level, "m1", unit(1, 0, 0, 0), nil))
	require.NoError(t, s.Delete(ctx, level, "m1"))
	require.NoError(t, s.Delete(ctx, level, "m1"), "second delete is a no-op")
	require.NoError(t, s.Delete(ctx, level, "never-existed"))

	count, err := s.Count(ctx, level)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRefsAndFetch(t *testing.T) {
	ctx := context.Background()
	s, err := chromem.New("")
	require.NoError(t, err)

	level := cognitive.LevelEpisode
	vec := unit(0, 0, 1, 0)
	require.NoError(t, s.Insert(ctx, level, "m2", vec, nil))
	require.NoError(t, s.Insert(ctx, level, "m1", unit(0, 1, 0, 0), nil))

	refs, err := s.Refs(ctx, level)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, refs)

	got, err := s.Fetch(ctx, level, "m2")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(cognitive.Cosine(vec, got)), 1e-5)

	_, err = s.Fetch(ctx, level, "missing")
	assert.Error(t, err)
}

func TestBatchSearchCoversAllLevels(t *testing.T) {
	ctx := context.Background()
	s, err := chromem.New("myproject")
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, cognitive.LevelConcept, "c", unit(1, 0, 0, 0), nil))
	require.NoError(t, s.Insert(ctx, cognitive.LevelContext, "x", unit(1, 0, 0, 0), nil))
	require.NoError(t, s.Insert(ctx, cognitive.LevelEpisode, "e", unit(0, 1, 0, 0), nil))

	byLevel, err := s.BatchSearch(ctx, cognitive.Levels, unit(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	require.Len(t, byLevel[cognitive.LevelConcept], 1)
	require.Len(t, byLevel[cognitive.LevelContext], 1)
	require.Len(t, byLevel[cognitive.LevelEpisode], 1)
	assert.Equal(t, "c", byLevel[cognitive.LevelConcept][0].Ref)
}
