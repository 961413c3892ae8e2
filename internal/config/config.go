package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"

	configPathEnv      = "NEWSPULSE_CONFIG"
	databaseDSNEnv     = "DATABASE_DSN"
	inferenceURLEnv    = "INFERENCE_URL"
	inferenceAPIKeyEnv = "INFERENCE_API_KEY"
	algorithmEnv       = "CLUSTERING_ALGORITHM"
	distThresholdEnv   = "CLUSTERING_DISTANCE_THRESHOLD"
	minTopicsEnv       = "CLUSTERING_MIN_TOPICS"
	maxTopicsEnv       = "CLUSTERING_MAX_TOPICS"
	topNEnv            = "CLUSTERING_TOP_N"
	simThresholdEnv    = "INCREMENTAL_SIMILARITY_THRESHOLD"
	centroidWeightEnv  = "INCREMENTAL_CENTROID_UPDATE_WEIGHT"
)

// Config holds high-level settings required across the application.
// Engine tunables are passed into constructors explicitly; nothing reads
// the environment after Load returns.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Inference  InferenceConfig  `yaml:"inference"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Assignment AssignmentConfig `yaml:"assignment"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN
// selects the in-memory store (local/demo mode).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// SchedulerConfig defines how often the two recurring jobs run and how
// long a single run may take before it is abandoned.
type SchedulerConfig struct {
	AssignInterval  time.Duration  `yaml:"assignInterval"`
	ClusterInterval time.Duration  `yaml:"clusterInterval"`
	JobTimeout      time.Duration  `yaml:"jobTimeout"`
	LockWait        time.Duration  `yaml:"lockWait"`
	Timezone        string         `yaml:"timezone"`
	location        *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// InferenceConfig wires the remote inference service (embeddings and
// topic titles), consumed as a black box.
type InferenceConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"apiKey"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// ClusteringConfig carries the clustering-pass tunables.
type ClusteringConfig struct {
	Algorithm           string  `yaml:"algorithm"`
	DistanceThreshold   float64 `yaml:"distanceThreshold"`
	MinTopics           int     `yaml:"minTopics"`
	MaxTopics           int     `yaml:"maxTopics"`
	TopN                int     `yaml:"topN"`
	MinArticlesPerTopic int     `yaml:"minArticlesPerTopic"`
	RecencyDecayHours   float64 `yaml:"recencyDecayHours"`
}

// AssignmentConfig carries the incremental-assignment tunables.
type AssignmentConfig struct {
	SimilarityThreshold  float64       `yaml:"similarityThreshold"`
	CentroidUpdateWeight float64       `yaml:"centroidUpdateWeight"`
	Lookback             time.Duration `yaml:"lookback"`
}

// EmbeddingConfig pins the system-wide vector dimension.
type EmbeddingConfig struct {
	Dimension int `yaml:"dimension"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.clamp()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(inferenceURLEnv); v != "" {
		c.Inference.Endpoint = v
	}
	if v := os.Getenv(inferenceAPIKeyEnv); v != "" {
		c.Inference.APIKey = v
	}

	if v := os.Getenv(algorithmEnv); v != "" {
		c.Clustering.Algorithm = v
	}
	if f, ok := envFloat(distThresholdEnv); ok {
		c.Clustering.DistanceThreshold = f
	}
	if n, ok := envInt(minTopicsEnv); ok {
		c.Clustering.MinTopics = n
	}
	if n, ok := envInt(maxTopicsEnv); ok {
		c.Clustering.MaxTopics = n
	}
	if n, ok := envInt(topNEnv); ok {
		c.Clustering.TopN = n
	}

	if f, ok := envFloat(simThresholdEnv); ok {
		c.Assignment.SimilarityThreshold = f
	}
	if f, ok := envFloat(centroidWeightEnv); ok {
		c.Assignment.CentroidUpdateWeight = f
	}
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid %s=%q: %v (ignored)", name, v, err)
		return 0, false
	}
	return f, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q: %v (ignored)", name, v, err)
		return 0, false
	}
	return n, true
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// clamp pulls out-of-contract values back into range instead of failing.
func (c *Config) clamp() {
	defaults := defaultConfig()

	if c.Clustering.TopN < 1 {
		c.Clustering.TopN = 1
	}
	if c.Clustering.TopN > 10 {
		log.Printf("config: topN %d exceeds 10, clamping", c.Clustering.TopN)
		c.Clustering.TopN = 10
	}
	if c.Clustering.MinTopics < 1 {
		c.Clustering.MinTopics = 1
	}
	if c.Clustering.MaxTopics < c.Clustering.MinTopics {
		c.Clustering.MaxTopics = c.Clustering.MinTopics
	}
	if c.Assignment.SimilarityThreshold < 0 || c.Assignment.SimilarityThreshold > 1 {
		log.Printf("config: similarityThreshold %.3f outside [0,1], using default", c.Assignment.SimilarityThreshold)
		c.Assignment.SimilarityThreshold = defaults.Assignment.SimilarityThreshold
	}
	if c.Assignment.CentroidUpdateWeight < 0 || c.Assignment.CentroidUpdateWeight > 1 {
		log.Printf("config: centroidUpdateWeight %.3f outside [0,1], using default", c.Assignment.CentroidUpdateWeight)
		c.Assignment.CentroidUpdateWeight = defaults.Assignment.CentroidUpdateWeight
	}
	if c.Embedding.Dimension < 1 {
		c.Embedding.Dimension = defaults.Embedding.Dimension
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Scheduler.AssignInterval > 0 {
		base.Scheduler.AssignInterval = override.Scheduler.AssignInterval
	}
	if override.Scheduler.ClusterInterval > 0 {
		base.Scheduler.ClusterInterval = override.Scheduler.ClusterInterval
	}
	if override.Scheduler.JobTimeout > 0 {
		base.Scheduler.JobTimeout = override.Scheduler.JobTimeout
	}
	if override.Scheduler.LockWait > 0 {
		base.Scheduler.LockWait = override.Scheduler.LockWait
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Inference.Endpoint != "" {
		base.Inference.Endpoint = override.Inference.Endpoint
	}
	if override.Inference.APIKey != "" {
		base.Inference.APIKey = override.Inference.APIKey
	}
	if override.Inference.Timeout > 0 {
		base.Inference.Timeout = override.Inference.Timeout
	}
	if override.Inference.RequestsPerSecond > 0 {
		base.Inference.RequestsPerSecond = override.Inference.RequestsPerSecond
	}

	if override.Clustering.Algorithm != "" {
		base.Clustering.Algorithm = override.Clustering.Algorithm
	}
	if override.Clustering.DistanceThreshold > 0 {
		base.Clustering.DistanceThreshold = override.Clustering.DistanceThreshold
	}
	if override.Clustering.MinTopics > 0 {
		base.Clustering.MinTopics = override.Clustering.MinTopics
	}
	if override.Clustering.MaxTopics > 0 {
		base.Clustering.MaxTopics = override.Clustering.MaxTopics
	}
	if override.Clustering.TopN > 0 {
		base.Clustering.TopN = override.Clustering.TopN
	}
	if override.Clustering.MinArticlesPerTopic > 0 {
		base.Clustering.MinArticlesPerTopic = override.Clustering.MinArticlesPerTopic
	}
	if override.Clustering.RecencyDecayHours > 0 {
		base.Clustering.RecencyDecayHours = override.Clustering.RecencyDecayHours
	}

	if override.Assignment.SimilarityThreshold > 0 {
		base.Assignment.SimilarityThreshold = override.Assignment.SimilarityThreshold
	}
	if override.Assignment.CentroidUpdateWeight > 0 {
		base.Assignment.CentroidUpdateWeight = override.Assignment.CentroidUpdateWeight
	}
	if override.Assignment.Lookback > 0 {
		base.Assignment.Lookback = override.Assignment.Lookback
	}

	if override.Embedding.Dimension > 0 {
		base.Embedding.Dimension = override.Embedding.Dimension
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database: DatabaseConfig{DSN: ""},
		Scheduler: SchedulerConfig{
			AssignInterval:  time.Hour,
			ClusterInterval: 6 * time.Hour,
			JobTimeout:      10 * time.Minute,
			LockWait:        30 * time.Second,
			Timezone:        defaultTimezone,
			location:        tz,
		},
		Inference: InferenceConfig{
			Endpoint:          "http://localhost:8081",
			Timeout:           120 * time.Second,
			RequestsPerSecond: 4,
		},
		Clustering: ClusteringConfig{
			Algorithm:           "hierarchical",
			DistanceThreshold:   0.6,
			MinTopics:           5,
			MaxTopics:           10,
			TopN:                10,
			MinArticlesPerTopic: 1,
			RecencyDecayHours:   24,
		},
		Assignment: AssignmentConfig{
			SimilarityThreshold:  0.5,
			CentroidUpdateWeight: 0.1,
			Lookback:             30 * time.Minute,
		},
		Embedding: EmbeddingConfig{Dimension: 768},
		Logging:   LoggingConfig{Level: "info"},
	}
}
