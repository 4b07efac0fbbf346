package sync

import (
	"context"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"github.com/engramdb/engram/cognitive"
)

// Retry policy for dirty paths.
const (
	retryInitial  = time.Second
	retryCap      = 60 * time.Second
	retryAttempts = 5
)

// Storer is the slice of the system façade the coordinator needs.
type Storer interface {
	Store(ctx context.Context, text string, opts *cognitive.StoreOptions) (*cognitive.Memory, error)
	DeleteBySource(ctx context.Context, path string) (int, error)
}

// Engine is the coordination layer: it consumes detector events with a
// bounded worker pool and performs atomic delete-and-reload per path.
type Engine struct {
	sys      Storer
	registry *Registry
	detector *Detector
	workers  int

	locks pathLocks

	mu    stdsync.Mutex
	dirty map[string]int // path -> failed attempts

	wg stdsync.WaitGroup
}

// NewEngine wires the coordinator.
func NewEngine(sys Storer, registry *Registry, detector *Detector, workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		sys:      sys,
		registry: registry,
		detector: detector,
		workers:  workers,
		dirty:    make(map[string]int),
	}
}

// Run starts the detector and the worker pool, blocking until the context
// is cancelled and all workers drained.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.detector.Run(ctx)
	}()

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ev := range e.detector.Events() {
				e.process(ctx, ev)
			}
		}()
	}
	e.wg.Wait()
}

// Health reports the engine's condition for the stats surface.
func (e *Engine) Health() cognitive.SyncHealth {
	lastTick, _ := e.detector.LastTick()
	e.mu.Lock()
	defer e.mu.Unlock()
	degraded := false
	for _, attempts := range e.dirty {
		if attempts >= retryAttempts {
			degraded = true
			break
		}
	}
	return cognitive.SyncHealth{
		Running:    true,
		QueueDepth: len(e.detector.Events()),
		DirtyPaths: len(e.dirty),
		LastTick:   lastTick,
		Degraded:   degraded,
	}
}

// process applies one event under the per-path mutex, retrying failures
// with bounded exponential backoff before surfacing a health degradation.
// Events for a single path arrive in order; interleaving across paths is
// unconstrained.
func (e *Engine) process(ctx context.Context, ev Event) {
	unlock := e.locks.lock(ev.Path)
	defer unlock()

	delay := retryInitial
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err := e.apply(ctx, ev)
		if err == nil {
			e.markClean(ev.Path)
			return
		}
		e.markDirty(ev.Path, attempt)
		if attempt == retryAttempts {
			log.Printf("[SYNC] %s %s failed after %d attempts, degraded: %v",
				ev.Kind, ev.Path, attempt, err)
			return
		}
		log.Printf("[SYNC] %s %s attempt %d failed, retrying in %s: %v",
			ev.Kind, ev.Path, attempt, delay, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryCap {
			delay = retryCap
		}
	}
}

// apply performs the delete-and-reload. Candidates are parsed before the
// deletion so a loader failure leaves the existing memories untouched; a
// failure after the deletion leaves the path dirty and the whole operation
// is retried, which is idempotent.
func (e *Engine) apply(ctx context.Context, ev Event) error {
	var candidates []Candidate
	if ev.Kind == Added || ev.Kind == Modified {
		loader, err := e.registry.Find(ev.Path)
		if err != nil {
			return err
		}
		candidates, err = loader.Load(ctx, ev.Path)
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}

	if ev.Kind == Modified || ev.Kind == Deleted {
		n, err := e.sys.DeleteBySource(ctx, ev.Path)
		if err != nil {
			return fmt.Errorf("delete by source: %w", err)
		}
		if n > 0 {
			log.Printf("[SYNC] %s: removed %d memories", ev.Path, n)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	idByKey := make(map[string]string, len(candidates))
	for _, c := range candidates {
		opts := &cognitive.StoreOptions{SourcePath: ev.Path}
		level := c.Level
		opts.LevelHint = &level
		if c.ParentKey != "" {
			parentID, ok := idByKey[c.ParentKey]
			if !ok {
				return fmt.Errorf("candidate %s: unknown parent %s", c.Key, c.ParentKey)
			}
			opts.ParentID = parentID
		}
		m, err := e.sys.Store(ctx, c.Text, opts)
		if err != nil {
			return fmt.Errorf("store candidate %s: %w", c.Key, err)
		}
		idByKey[c.Key] = m.ID
	}
	log.Printf("[SYNC] %s: loaded %d memories", ev.Path, len(candidates))
	return nil
}

func (e *Engine) markDirty(path string, attempts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty[path] = attempts
}

func (e *Engine) markClean(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.dirty, path)
}

// pathLocks provides one mutex per path.
type pathLocks struct {
	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
}

func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*stdsync.Mutex)
	}
	l, ok := p.locks[path]
	if !ok {
		l = &stdsync.Mutex{}
		p.locks[path] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l.Unlock
}
