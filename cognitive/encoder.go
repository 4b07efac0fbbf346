package cognitive

import (
	"context"
	"fmt"
	"math"
)

// CognitiveEncoder fuses a semantic embedding with the dimensional vector.
// The fused vector is concat(normalize(semantic), alpha*dimensions),
// L2-normalized, so the semantic component dominates similarity while the
// dimensions provide secondary discrimination.
type CognitiveEncoder struct {
	embedder  Embedder
	extractor *DimensionExtractor
	alpha     float64
}

// NewEncoder creates a CognitiveEncoder. alpha in (0, 1] scales the
// dimensional component; 0 falls back to the default 0.5.
func NewEncoder(embedder Embedder, alpha float64) *CognitiveEncoder {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultConfig().FusionAlpha
	}
	return &CognitiveEncoder{
		embedder:  embedder,
		extractor: NewDimensionExtractor(),
		alpha:     alpha,
	}
}

// Width returns the fused vector width.
func (e *CognitiveEncoder) Width() int {
	return e.embedder.Dimensions() + DimensionWidth
}

// Encode returns the fused vector and the named dimension map.
func (e *CognitiveEncoder) Encode(ctx context.Context, text string) ([]float32, map[string]float64, error) {
	semantic, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("embed: %w", err)
	}
	dimVec, dims := e.extractor.Extract(text)
	return e.fuse(semantic, dimVec), dims, nil
}

// EncodeBatch encodes texts in input order.
func (e *CognitiveEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, []map[string]float64, error) {
	semantic, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("embed batch: %w", err)
	}
	vectors := make([][]float32, len(texts))
	maps := make([]map[string]float64, len(texts))
	for i, text := range texts {
		dimVec, dims := e.extractor.Extract(text)
		vectors[i] = e.fuse(semantic[i], dimVec)
		maps[i] = dims
	}
	return vectors, maps, nil
}

func (e *CognitiveEncoder) fuse(semantic, dimensional []float32) []float32 {
	fused := make([]float32, 0, len(semantic)+len(dimensional))
	fused = append(fused, normalizeVec(semantic)...)
	for _, v := range dimensional {
		fused = append(fused, float32(e.alpha)*v)
	}
	return normalizeVec(fused)
}

// normalizeVec converts a vector to unit norm. A zero vector is returned
// unchanged.
func normalizeVec(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// Cosine computes cosine similarity between two vectors of equal length.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
