package cognitive_test

import (
	"context"
	"math"
	"testing"

	"github.com/engramdb/engram/cognitive"
	"github.com/engramdb/engram/cognitive/embedder/mock"
)

func TestEncoder_WidthAndNorm(t *testing.T) {
	ctx := context.Background()
	enc := cognitive.NewEncoder(mock.New(384), 0.5)

	if enc.Width() != 400 {
		t.Fatalf("expected fused width 400, got %d", enc.Width())
	}

	vec, dims, err := enc.Encode(ctx, "transformer attention heads learn positional structure")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(vec) != 400 {
		t.Fatalf("expected 400 components, got %d", len(vec))
	}
	if len(dims) != cognitive.DimensionWidth {
		t.Fatalf("expected %d dimensions, got %d", cognitive.DimensionWidth, len(dims))
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("fused vector not unit norm: %f", norm)
	}
}

func TestEncoder_Deterministic(t *testing.T) {
	ctx := context.Background()
	enc := cognitive.NewEncoder(mock.New(384), 0.5)

	a, _, err := enc.Encode(ctx, "the same experience text")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, _, err := enc.Encode(ctx, "the same experience text")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if sim := cognitive.Cosine(a, b); sim < 0.9999 {
		t.Errorf("identical text should encode identically, cosine %f", sim)
	}
}

func TestEncoder_SemanticDominates(t *testing.T) {
	ctx := context.Background()
	enc := cognitive.NewEncoder(mock.New(384), 0.5)

	// Shared wording should outweigh differing dimensional loads.
	a, _, _ := enc.Encode(ctx, "deploy pipeline configuration for the staging cluster")
	b, _, _ := enc.Encode(ctx, "urgent!! deploy pipeline configuration for the staging cluster asap")
	c, _, _ := enc.Encode(ctx, "ocean tides follow the moon")

	if cognitive.Cosine(a, b) <= cognitive.Cosine(a, c) {
		t.Errorf("overlapping texts should be closer than unrelated ones: %f <= %f",
			cognitive.Cosine(a, b), cognitive.Cosine(a, c))
	}
}

func TestEncoder_Batch(t *testing.T) {
	ctx := context.Background()
	enc := cognitive.NewEncoder(mock.New(384), 0.5)

	texts := []string{"first note", "second note", "third note"}
	vecs, dims, err := enc.EncodeBatch(ctx, texts)
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	if len(vecs) != 3 || len(dims) != 3 {
		t.Fatalf("expected 3 results, got %d/%d", len(vecs), len(dims))
	}
	single, _, _ := enc.Encode(ctx, texts[1])
	if sim := cognitive.Cosine(single, vecs[1]); sim < 0.9999 {
		t.Errorf("batch result differs from single encode, cosine %f", sim)
	}
}
