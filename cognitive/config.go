package cognitive

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engine tunables. Zero numeric and duration fields are
// replaced by defaults in Normalize; boolean fields keep the value they hold,
// so a zero SyncAtomic stays false although its default is true.
type Config struct {
	// Retrieval.
	ActivationThreshold float64 `yaml:"activation_threshold"`
	SeedFanout          int     `yaml:"seed_fanout"`
	MaxActivations      int     `yaml:"max_activations"`
	MaxDepth            int     `yaml:"max_depth"`

	// Bridge discovery.
	BridgeK             int           `yaml:"bridge_k"`
	BridgeNoveltyMin    float64       `yaml:"bridge_novelty_min"`
	BridgeConnectionMin float64       `yaml:"bridge_connection_min"`
	BridgeCandidates    int           `yaml:"bridge_candidates"`
	BridgeCacheTTL      time.Duration `yaml:"bridge_cache_ttl"`

	// Dual memory.
	EpisodicDecay       float64       `yaml:"episodic_decay"`
	SemanticDecay       float64       `yaml:"semantic_decay"`
	PromoteAccessCount  int           `yaml:"promote_access_count"`
	PromoteWindow       time.Duration `yaml:"promote_window"`
	EvictionFloor       float64       `yaml:"eviction_floor"`
	EvictionIdle        time.Duration `yaml:"eviction_idle"`
	ConsolidateInterval time.Duration `yaml:"consolidate_interval"`

	// Encoding.
	FusionAlpha float64 `yaml:"fusion_alpha"`

	// File sync.
	MonitoringEnabled  bool          `yaml:"monitoring_enabled"`
	MonitoringInterval time.Duration `yaml:"monitoring_interval"`
	SyncAtomic         bool          `yaml:"sync_atomic"`
	SyncWorkers        int           `yaml:"sync_workers"`
	SyncQueueSize      int           `yaml:"sync_queue_size"`

	// Storage.
	MetadataPath string `yaml:"metadata_path"`
	VectorPath   string `yaml:"vector_path"`
	Project      string `yaml:"project"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		ActivationThreshold: 0.7,
		SeedFanout:          10,
		MaxActivations:      50,
		MaxDepth:            3,
		BridgeK:             5,
		BridgeNoveltyMin:    0.4,
		BridgeConnectionMin: 0.3,
		BridgeCandidates:    200,
		BridgeCacheTTL:      5 * time.Minute,
		EpisodicDecay:       0.1,
		SemanticDecay:       0.01,
		PromoteAccessCount:  5,
		PromoteWindow:       7 * 24 * time.Hour,
		EvictionFloor:       0.05,
		EvictionIdle:        30 * 24 * time.Hour,
		ConsolidateInterval: time.Hour,
		FusionAlpha:         0.5,
		MonitoringEnabled:   false,
		MonitoringInterval:  5 * time.Second,
		SyncAtomic:          true,
		SyncWorkers:         4,
		SyncQueueSize:       256,
	}
}

// Normalize fills zero fields with defaults and replaces out-of-range values
// (ActivationThreshold and FusionAlpha outside (0, 1]) with their defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.ActivationThreshold <= 0 || c.ActivationThreshold > 1 {
		c.ActivationThreshold = d.ActivationThreshold
	}
	if c.SeedFanout <= 0 {
		c.SeedFanout = d.SeedFanout
	}
	if c.MaxActivations <= 0 {
		c.MaxActivations = d.MaxActivations
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.BridgeK <= 0 {
		c.BridgeK = d.BridgeK
	}
	if c.BridgeNoveltyMin <= 0 {
		c.BridgeNoveltyMin = d.BridgeNoveltyMin
	}
	if c.BridgeConnectionMin <= 0 {
		c.BridgeConnectionMin = d.BridgeConnectionMin
	}
	if c.BridgeCandidates <= 0 {
		c.BridgeCandidates = d.BridgeCandidates
	}
	if c.BridgeCacheTTL <= 0 {
		c.BridgeCacheTTL = d.BridgeCacheTTL
	}
	if c.EpisodicDecay <= 0 {
		c.EpisodicDecay = d.EpisodicDecay
	}
	if c.SemanticDecay <= 0 {
		c.SemanticDecay = d.SemanticDecay
	}
	if c.PromoteAccessCount <= 0 {
		c.PromoteAccessCount = d.PromoteAccessCount
	}
	if c.PromoteWindow <= 0 {
		c.PromoteWindow = d.PromoteWindow
	}
	if c.EvictionFloor <= 0 {
		c.EvictionFloor = d.EvictionFloor
	}
	if c.EvictionIdle <= 0 {
		c.EvictionIdle = d.EvictionIdle
	}
	if c.ConsolidateInterval <= 0 {
		c.ConsolidateInterval = d.ConsolidateInterval
	}
	if c.FusionAlpha <= 0 || c.FusionAlpha > 1 {
		c.FusionAlpha = d.FusionAlpha
	}
	if c.MonitoringInterval <= 0 {
		c.MonitoringInterval = d.MonitoringInterval
	}
	if c.SyncWorkers <= 0 {
		c.SyncWorkers = d.SyncWorkers
	}
	if c.SyncQueueSize <= 0 {
		c.SyncQueueSize = d.SyncQueueSize
	}
}

// FromEnv overlays the environment-variable surface onto the defaults.
func FromEnv() *Config {
	c := DefaultConfig()
	envFloat("ACTIVATION_THRESHOLD", &c.ActivationThreshold)
	envInt("MAX_ACTIVATIONS", &c.MaxActivations)
	envInt("BRIDGE_K", &c.BridgeK)
	envFloat("BRIDGE_NOVELTY_MIN", &c.BridgeNoveltyMin)
	envFloat("BRIDGE_CP_MIN", &c.BridgeConnectionMin)
	envFloat("EPISODIC_DECAY", &c.EpisodicDecay)
	envFloat("SEMANTIC_DECAY", &c.SemanticDecay)
	envInt("PROMOTE_ACCESS_COUNT", &c.PromoteAccessCount)
	envBool("MONITORING_ENABLED", &c.MonitoringEnabled)
	if v := os.Getenv("MONITORING_INTERVAL_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.MonitoringInterval = time.Duration(f * float64(time.Second))
		}
	}
	envBool("SYNC_ATOMIC_OPERATIONS", &c.SyncAtomic)
	if v := os.Getenv("METADATA_DB_PATH"); v != "" {
		c.MetadataPath = v
	}
	if v := os.Getenv("VECTOR_STORE_PATH"); v != "" {
		c.VectorPath = v
	}
	if v := os.Getenv("PROJECT_NAME"); v != "" {
		c.Project = v
	}
	c.Normalize()
	return c
}

// LoadFile reads a YAML config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w: %v", ErrValidation, err)
	}
	c.Normalize()
	return c, nil
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
