package cognitive

import (
	"time"
)

// Level identifies a hierarchy collection. L0 holds broad concepts, L1
// mid-level contexts, L2 specific episodes.
type Level int

const (
	LevelConcept Level = 0
	LevelContext Level = 1
	LevelEpisode Level = 2
)

// Levels lists all hierarchy levels in order.
var Levels = []Level{LevelConcept, LevelContext, LevelEpisode}

func (l Level) String() string {
	switch l {
	case LevelConcept:
		return "concept"
	case LevelContext:
		return "context"
	case LevelEpisode:
		return "episode"
	}
	return "unknown"
}

// Valid reports whether l is one of the three defined levels.
func (l Level) Valid() bool {
	return l >= LevelConcept && l <= LevelEpisode
}

// MemoryType distinguishes short-lived episodic memories from stable
// semantic ones. The only permitted transition is episodic -> semantic.
type MemoryType string

const (
	TypeEpisodic MemoryType = "episodic"
	TypeSemantic MemoryType = "semantic"
)

// Memory is a single stored experience. Identity fields are immutable after
// creation; statistics (access count, importance, type) are mutated by
// retrieval and consolidation only.
type Memory struct {
	ID           string
	Level        Level
	Content      string
	Dimensions   map[string]float64
	VectorRef    string
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
	Importance   float64
	ParentID     string
	Type         MemoryType
	DecayRate    float64
	SourcePath   string
}

// EffectiveImportance applies time-based decay to the stored importance.
func (m *Memory) EffectiveImportance(now time.Time) float64 {
	days := now.Sub(m.LastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	return m.Importance * decayFactor(m.DecayRate, days)
}

// ConnectionKind classifies an edge of the associative graph.
type ConnectionKind string

const (
	KindAssociative  ConnectionKind = "associative"
	KindHierarchical ConnectionKind = "hierarchical"
	KindTemporal     ConnectionKind = "temporal"
	KindCausal       ConnectionKind = "causal"
)

// Connection is a directed edge of the associative graph. (a, b) and (b, a)
// are independent edges.
type Connection struct {
	SourceID        string
	TargetID        string
	Strength        float64
	Kind            ConnectionKind
	CreatedAt       time.Time
	LastActivated   time.Time
	ActivationCount int
}

// BridgeEntry is a cached bridge-discovery result, keyed by
// (query fingerprint, memory id).
type BridgeEntry struct {
	Fingerprint         string
	MemoryID            string
	BridgeScore         float64
	NoveltyScore        float64
	ConnectionPotential float64
	CreatedAt           time.Time
}

// StatKind records how a memory entered a retrieval result.
type StatKind string

const (
	StatCore       StatKind = "core"
	StatPeripheral StatKind = "peripheral"
	StatBridge     StatKind = "bridge"
)

// RetrievalStat is one row of the append-only retrieval log.
type RetrievalStat struct {
	ID          string
	Fingerprint string
	MemoryID    string
	Kind        StatKind
	Success     float64
	CreatedAt   time.Time
}

// ScoredMemory pairs a memory with its retrieval score and a short
// explanation of why it was included.
type ScoredMemory struct {
	Memory *Memory
	Score  float64
	Why    string
}

// RecallResult is the façade's retrieval output.
type RecallResult struct {
	Core       []ScoredMemory
	Peripheral []ScoredMemory
	Bridges    []ScoredMemory
}

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	Evicted  int
	Promoted int
	Retained int
}

// SyncHealth describes the file sync engine's current condition. A zero
// value means sync is not running.
type SyncHealth struct {
	Running    bool
	QueueDepth int
	DirtyPaths int
	LastTick   time.Time
	Degraded   bool
}

// SystemStats is the façade's status snapshot.
type SystemStats struct {
	MemoryCounts  map[Level]int
	EdgeCount     int
	BridgeHits    uint64
	BridgeMisses  uint64
	BridgeHitRate float64
	Sync          SyncHealth
}
