package cognitive

import (
	"context"
	"time"
)

// Embedder converts text to semantic vectors.
// Implementations: mock (testing), ONNX (local, behind the onnx build tag).
type Embedder interface {
	// Embed converts a single text to an embedding vector. Oversize input
	// is truncated internally; callers always see a single vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the semantic vector width.
	Dimensions() int
}

// Encoder produces the fused vector and the named dimension map for a text.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, map[string]float64, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, []map[string]float64, error)

	// Width returns the fused vector width (semantic + dimensional).
	Width() int
}

// VectorHit is one similarity search result.
type VectorHit struct {
	Ref   string
	Score float64
}

// VectorIndex stores fused vectors across the three level collections with
// cosine similarity search. Inserts are atomic per call, deletes idempotent,
// searches sorted by descending score with ties broken by ascending ref.
type VectorIndex interface {
	Insert(ctx context.Context, level Level, ref string, vector []float32, payload map[string]string) error
	Delete(ctx context.Context, level Level, refs ...string) error
	Search(ctx context.Context, level Level, query []float32, k int, filter map[string]string) ([]VectorHit, error)

	// BatchSearch runs Search over multiple collections concurrently.
	BatchSearch(ctx context.Context, levels []Level, query []float32, k int, filter map[string]string) (map[Level][]VectorHit, error)

	// Fetch returns the stored vector for a ref.
	Fetch(ctx context.Context, level Level, ref string) ([]float32, error)

	// Refs lists all vector refs in a collection, for reconciliation.
	Refs(ctx context.Context, level Level) ([]string, error)

	Count(ctx context.Context, level Level) (int, error)
	Close() error
}

// MetadataStore is the source of truth for all non-vector state: memory
// records, the associative graph, the bridge cache, and retrieval stats.
// Writes follow a single-writer discipline; multi-statement operations run
// in transactions.
type MetadataStore interface {
	InsertMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, id string) (*Memory, error)
	UpdateMemory(ctx context.Context, m *Memory) error
	DeleteMemories(ctx context.Context, ids ...string) error

	MemoriesByLevel(ctx context.Context, level Level, limit int) ([]*Memory, error)
	MemoriesBySource(ctx context.Context, sourcePath string) ([]*Memory, error)
	AllMemories(ctx context.Context) ([]*Memory, error)

	// SampleStale returns up to n memories from the given levels, excluding
	// the given ids, ordered stalest-first by last access. Bridge discovery
	// uses it as its candidate pool.
	SampleStale(ctx context.Context, levels []Level, exclude map[string]struct{}, n int) ([]*Memory, error)

	// TouchAccess increments access_count and sets last_accessed.
	TouchAccess(ctx context.Context, id string, at time.Time) error

	// Reinforce upserts the directed edge and applies the monotonic
	// strength update s' = min(1, s + delta), bumping activation stats.
	Reinforce(ctx context.Context, sourceID, targetID string, kind ConnectionKind, delta float64, at time.Time) (*Connection, error)

	PutConnection(ctx context.Context, c *Connection) error
	Connection(ctx context.Context, sourceID, targetID string) (*Connection, error)
	OutgoingConnections(ctx context.Context, sourceID string) ([]*Connection, error)
	IncidentStrengths(ctx context.Context, id string) ([]float64, error)
	ConnectionCount(ctx context.Context) (int, error)

	PutBridgeEntries(ctx context.Context, entries []*BridgeEntry) error
	BridgeEntries(ctx context.Context, fingerprint string, notBefore time.Time) ([]*BridgeEntry, error)
	PurgeBridgeEntries(ctx context.Context, olderThan time.Time) (int, error)

	AppendRetrievalStats(ctx context.Context, stats []*RetrievalStat) error

	// VectorRefs maps every stored vector_ref to its level, for the
	// reconciliation sweep.
	VectorRefs(ctx context.Context) (map[string]Level, error)

	CountByLevel(ctx context.Context) (map[Level]int, error)
	Close() error
}
