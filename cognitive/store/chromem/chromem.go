// Package chromem adapts chromem-go, a pure Go embedded vector database,
// to the engine's three-level VectorIndex contract.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/engramdb/engram/cognitive"
)

// Collection names per hierarchy level. A project prefix scopes collections
// per repository.
var collectionNames = map[cognitive.Level]string{
	cognitive.LevelConcept: "concepts_L0",
	cognitive.LevelContext: "contexts_L1",
	cognitive.LevelEpisode: "episodes_L2",
}

// Retry policy for transient store errors.
const (
	retryInitial  = 100 * time.Millisecond
	retryFactor   = 2
	retryAttempts = 5
)

// Store implements cognitive.VectorIndex on chromem-go with cosine
// similarity. Inserts are atomic per call and deletions idempotent.
type Store struct {
	db          *chromem.DB
	collections map[cognitive.Level]*chromem.Collection

	mu   sync.RWMutex
	refs map[cognitive.Level]map[string]struct{}
}

// New creates an in-memory store. Pass a project name to scope collection
// names per repository, or empty for the default collections.
func New(project string) (*Store, error) {
	return open(chromem.NewDB(), project)
}

// NewPersistent creates a store backed by a directory.
func NewPersistent(path, project string) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	return open(db, project)
}

func open(db *chromem.DB, project string) (*Store, error) {
	s := &Store{
		db:          db,
		collections: make(map[cognitive.Level]*chromem.Collection, len(cognitive.Levels)),
		refs:        make(map[cognitive.Level]map[string]struct{}, len(cognitive.Levels)),
	}
	for _, level := range cognitive.Levels {
		name := collectionNames[level]
		if project != "" {
			name = fmt.Sprintf("%s_%s", project, name)
		}
		// No embedding func and no custom distance: we always provide
		// embeddings, and the default distance is cosine.
		col, err := db.GetOrCreateCollection(name, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", name, err)
		}
		s.collections[level] = col
		s.refs[level] = make(map[string]struct{})
	}
	return s, nil
}

// Insert stores a vector under ref in the level's collection.
func (s *Store) Insert(ctx context.Context, level cognitive.Level, ref string, vector []float32, payload map[string]string) error {
	col, err := s.collection(level)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        ref,
		Embedding: vector,
		Metadata:  payload,
		Content:   ref,
	}
	err = withRetry(ctx, func() error { return col.AddDocument(ctx, doc) })
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.refs[level][ref] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Delete removes refs from the level's collection. Unknown refs are ignored.
func (s *Store) Delete(ctx context.Context, level cognitive.Level, refs ...string) error {
	if len(refs) == 0 {
		return nil
	}
	col, err := s.collection(level)
	if err != nil {
		return err
	}
	s.mu.Lock()
	var present []string
	for _, ref := range refs {
		if _, ok := s.refs[level][ref]; ok {
			present = append(present, ref)
			delete(s.refs[level], ref)
		}
	}
	s.mu.Unlock()
	if len(present) == 0 {
		return nil
	}
	return withRetry(ctx, func() error { return col.Delete(ctx, nil, nil, present...) })
}

// Search returns up to k hits sorted by descending cosine similarity, ties
// broken by ascending ref.
func (s *Store) Search(ctx context.Context, level cognitive.Level, query []float32, k int, filter map[string]string) ([]cognitive.VectorHit, error) {
	col, err := s.collection(level)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults above the collection size.
	if n := col.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	var results []chromem.Result
	err = withRetry(ctx, func() error {
		var qerr error
		results, qerr = col.QueryEmbedding(ctx, query, k, filter, nil)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	hits := make([]cognitive.VectorHit, len(results))
	for i, r := range results {
		hits[i] = cognitive.VectorHit{Ref: r.ID, Score: float64(r.Similarity)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Ref < hits[j].Ref
	})
	return hits, nil
}

// BatchSearch runs the per-collection searches concurrently.
func (s *Store) BatchSearch(ctx context.Context, levels []cognitive.Level, query []float32, k int, filter map[string]string) (map[cognitive.Level][]cognitive.VectorHit, error) {
	type levelHits struct {
		level cognitive.Level
		hits  []cognitive.VectorHit
		err   error
	}
	ch := make(chan levelHits, len(levels))
	for _, level := range levels {
		go func(level cognitive.Level) {
			hits, err := s.Search(ctx, level, query, k, filter)
			ch <- levelHits{level: level, hits: hits, err: err}
		}(level)
	}
	out := make(map[cognitive.Level][]cognitive.VectorHit, len(levels))
	var firstErr error
	for range levels {
		r := <-ch
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		out[r.level] = r.hits
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Fetch returns the stored vector for ref.
func (s *Store) Fetch(ctx context.Context, level cognitive.Level, ref string) ([]float32, error) {
	col, err := s.collection(level)
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %v", ref, cognitive.ErrNotFound, err)
	}
	return doc.Embedding, nil
}

// Refs lists all vector refs in the level's collection.
func (s *Store) Refs(ctx context.Context, level cognitive.Level) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.refs[level]
	if !ok {
		return nil, fmt.Errorf("%w: level %d", cognitive.ErrValidation, level)
	}
	out := make([]string, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of vectors in the level's collection.
func (s *Store) Count(ctx context.Context, level cognitive.Level) (int, error) {
	col, err := s.collection(level)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close releases resources. chromem keeps state in memory (or flushed to
// its directory), so there is nothing to tear down.
func (s *Store) Close() error {
	return nil
}

func (s *Store) collection(level cognitive.Level) (*chromem.Collection, error) {
	col, ok := s.collections[level]
	if !ok {
		return nil, fmt.Errorf("%w: level %d", cognitive.ErrValidation, level)
	}
	return col, nil
}

// withRetry applies bounded exponential backoff, then surfaces the failure
// as store-unavailable.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryInitial
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}
		log.Printf("[VECTOR] attempt %d failed, retrying in %s: %v", attempt, delay, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", cognitive.ErrTimeout, ctx.Err())
		case <-time.After(delay):
		}
		delay *= retryFactor
	}
	return fmt.Errorf("%w: %v", cognitive.ErrStoreUnavailable, err)
}
