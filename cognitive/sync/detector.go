// Package sync keeps the memory stores aligned with a watched content tree.
//
// A detection layer polls the tree on an interval, diffing per-path file
// state snapshots into ADDED/MODIFIED/DELETED events; fsnotify supplies
// change hints that pull the next poll forward. A coordination layer
// consumes the events and performs atomic delete-and-reload through
// pluggable loaders.
package sync

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// EventKind classifies a detected file change.
type EventKind int

const (
	Added EventKind = iota
	Modified
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event is one detected change.
type Event struct {
	Kind EventKind
	Path string
}

// FileState is the per-path snapshot entry.
type FileState struct {
	ModTime time.Time
	Size    int64
}

// DetectorConfig configures the polling detection layer.
type DetectorConfig struct {
	// Root is the watched directory.
	Root string

	// Interval is the poll period. Default 5s.
	Interval time.Duration

	// Extensions filters watched files. Default: markdown extensions.
	Extensions []string

	// Ignore holds glob patterns (matched against the path relative to
	// Root) that are skipped entirely.
	Ignore []string

	// QueueSize bounds the event channel. When a tick's events would not
	// fit, the whole tick is dropped and logged; the snapshot is kept so
	// the changes surface on a later tick. Default 256.
	QueueSize int

	// Hints enables fsnotify change hints that trigger an early poll.
	Hints bool
}

// Detector polls a directory and emits change events in a stable,
// lexicographic-by-path order.
type Detector struct {
	cfg      DetectorConfig
	ignore   []glob.Glob
	exts     map[string]struct{}
	events   chan Event
	snapshot map[string]FileState

	mu       stdsync.Mutex
	lastTick time.Time
	dropped  int
}

// NewDetector validates the config and prepares the detector.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".md", ".markdown", ".mdx"}
	}
	d := &Detector{
		cfg:      cfg,
		exts:     make(map[string]struct{}, len(cfg.Extensions)),
		events:   make(chan Event, cfg.QueueSize),
		snapshot: make(map[string]FileState),
	}
	for _, ext := range cfg.Extensions {
		d.exts[strings.ToLower(ext)] = struct{}{}
	}
	for _, pattern := range cfg.Ignore {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		d.ignore = append(d.ignore, g)
	}
	return d, nil
}

// Events returns the event channel. It is closed when Run returns.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// LastTick returns when the last poll completed and how many ticks have
// been dropped due to backpressure.
func (d *Detector) LastTick() (time.Time, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTick, d.dropped
}

// Run polls until the context is cancelled. fsnotify hints, when enabled,
// pull the next tick forward; polling remains the source of truth.
func (d *Detector) Run(ctx context.Context) {
	defer close(d.events)

	var hints chan struct{}
	if d.cfg.Hints {
		hints = d.startHints(ctx)
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		case <-hints:
			drainHints(hints)
			d.tick()
		}
	}
}

// tick scans the tree, diffs it against the previous snapshot, and emits
// the resulting events.
func (d *Detector) tick() {
	current := d.scan()

	paths := make([]string, 0, len(current)+len(d.snapshot))
	for p := range current {
		paths = append(paths, p)
	}
	for p := range d.snapshot {
		if _, ok := current[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var events []Event
	for _, p := range paths {
		cur, inCur := current[p]
		prev, inPrev := d.snapshot[p]
		switch {
		case inCur && !inPrev:
			events = append(events, Event{Kind: Added, Path: p})
		case !inCur && inPrev:
			events = append(events, Event{Kind: Deleted, Path: p})
		case cur.ModTime != prev.ModTime || cur.Size != prev.Size:
			events = append(events, Event{Kind: Modified, Path: p})
		}
	}

	d.mu.Lock()
	d.lastTick = time.Now()
	d.mu.Unlock()

	if len(events) == 0 {
		return
	}
	if len(events) > cap(d.events)-len(d.events) {
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		log.Printf("[SYNC] queue saturated, dropping tick with %d events", len(events))
		return
	}
	d.snapshot = current
	for _, ev := range events {
		d.events <- ev
	}
}

func (d *Detector) scan() map[string]FileState {
	current := make(map[string]FileState, len(d.snapshot))
	filepath.WalkDir(d.cfg.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(d.cfg.Root, path)
		if rerr != nil {
			return nil
		}
		for _, g := range d.ignore {
			if g.Match(rel) {
				if entry.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if entry.IsDir() {
			return nil
		}
		if _, ok := d.exts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		info, ierr := entry.Info()
		if ierr != nil {
			return nil
		}
		current[path] = FileState{ModTime: info.ModTime(), Size: info.Size()}
		return nil
	})
	return current
}

// startHints watches the tree with fsnotify. Hints are best effort: a
// failed watcher just means the detector falls back to pure polling.
func (d *Detector) startHints(ctx context.Context) chan struct{} {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[SYNC] fsnotify unavailable, polling only: %v", err)
		return nil
	}
	filepath.WalkDir(d.cfg.Root, func(path string, entry fs.DirEntry, err error) error {
		if err == nil && entry.IsDir() {
			watcher.Add(path)
		}
		return nil
	})
	hints := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						watcher.Add(ev.Name)
					}
				}
				select {
				case hints <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return hints
}

func drainHints(hints chan struct{}) {
	for {
		select {
		case <-hints:
		default:
			return
		}
	}
}
