// Package config loads settings from the environment with an optional YAML
// overlay. YAML fills gaps; environment variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int    `yaml:"port"`
	DBPath        string `yaml:"dbPath"`
	APIKey        string `yaml:"apiKey"`
	LogLevel      string `yaml:"logLevel"`
	OllamaBaseURL string `yaml:"ollamaBaseUrl"`

	// Enrichment collaborator
	EmbeddingModel     string `yaml:"embeddingModel"`
	EmbeddingDim       int    `yaml:"embeddingDim"`
	AnnotateModel      string `yaml:"annotateModel"`
	EnrichTimeoutSecs  int    `yaml:"enrichTimeoutSecs"`
	EvaluationTTLHours int    `yaml:"evaluationTtlHours"`
	SweepIntervalMins  int    `yaml:"sweepIntervalMins"`

	// Search tuning
	VectorWeight      float64 `yaml:"vectorWeight"`
	BM25Weight        float64 `yaml:"bm25Weight"`
	DefaultMaxResults int     `yaml:"defaultMaxResults"`
	SearchByteBudget  int     `yaml:"searchByteBudget"`
	SearchTimeoutMs   int     `yaml:"searchTimeoutMs"`

	// Consolidation
	ConsolidateCosine  float64 `yaml:"consolidateCosine"`
	ConsolidateJaccard float64 `yaml:"consolidateJaccard"`

	// Recalibration
	RecalSupersedeDelta int `yaml:"recalSupersedeDelta"`
	RecalLinkBoostMin   int `yaml:"recalLinkBoostMin"`
	RecalAccessBoostMin int `yaml:"recalAccessBoostMin"`
	RecalStaleDays      int `yaml:"recalStaleDays"`

	// Learner
	LearnerRateSession   float64 `yaml:"learnerRateSession"`
	LearnerRateProject   float64 `yaml:"learnerRateProject"`
	LearnerRateGlobal    float64 `yaml:"learnerRateGlobal"`
	LearnerMinConfidence float64 `yaml:"learnerMinConfidence"`
	LearnerBlend         bool    `yaml:"learnerBlend"`
}

// Load builds the configuration. Defaults, then the YAML file named by
// MNEMO_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("MNEMO_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:                 8741,
		DBPath:               "mnemo.db",
		LogLevel:             "info",
		OllamaBaseURL:        "http://localhost:11434",
		EmbeddingModel:       "nomic-embed-text",
		EmbeddingDim:         768,
		AnnotateModel:        "qwen2.5:1.5b",
		EnrichTimeoutSecs:    60,
		EvaluationTTLHours:   72,
		SweepIntervalMins:    30,
		VectorWeight:         0.7,
		BM25Weight:           0.3,
		DefaultMaxResults:    20,
		SearchByteBudget:     64 * 1024,
		SearchTimeoutMs:      2000,
		ConsolidateCosine:    0.85,
		ConsolidateJaccard:   0.60,
		RecalSupersedeDelta:  3,
		RecalLinkBoostMin:    3,
		RecalAccessBoostMin:  5,
		RecalStaleDays:       90,
		LearnerRateSession:   0.2,
		LearnerRateProject:   0.05,
		LearnerRateGlobal:    0.01,
		LearnerMinConfidence: 0.3,
	}
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envStr("MNEMO_DB_PATH", &c.DBPath)
	envStr("MNEMO_API_KEY", &c.APIKey)
	envStr("LOG_LEVEL", &c.LogLevel)
	envStr("OLLAMA_BASE_URL", &c.OllamaBaseURL)
	envStr("EMBEDDING_MODEL", &c.EmbeddingModel)
	envInt("EMBEDDING_DIM", &c.EmbeddingDim)
	envStr("ANNOTATE_MODEL", &c.AnnotateModel)
	envInt("ENRICH_TIMEOUT_SECS", &c.EnrichTimeoutSecs)
	envInt("EVALUATION_TTL_HOURS", &c.EvaluationTTLHours)
	envInt("SWEEP_INTERVAL_MINS", &c.SweepIntervalMins)
	envFloat("VECTOR_WEIGHT", &c.VectorWeight)
	envFloat("BM25_WEIGHT", &c.BM25Weight)
	envInt("DEFAULT_MAX_RESULTS", &c.DefaultMaxResults)
	envInt("SEARCH_BYTE_BUDGET", &c.SearchByteBudget)
	envInt("SEARCH_TIMEOUT_MS", &c.SearchTimeoutMs)
	envFloat("CONSOLIDATE_COSINE", &c.ConsolidateCosine)
	envFloat("CONSOLIDATE_THRESHOLD", &c.ConsolidateJaccard)
	envInt("RECAL_SUPERSEDE_DELTA", &c.RecalSupersedeDelta)
	envInt("RECAL_LINK_BOOST_MIN", &c.RecalLinkBoostMin)
	envInt("RECAL_ACCESS_BOOST_MIN", &c.RecalAccessBoostMin)
	envInt("RECAL_STALE_DAYS", &c.RecalStaleDays)
	envFloat("LEARNER_RATE_SESSION", &c.LearnerRateSession)
	envFloat("LEARNER_RATE_PROJECT", &c.LearnerRateProject)
	envFloat("LEARNER_RATE_GLOBAL", &c.LearnerRateGlobal)
	envFloat("LEARNER_MIN_CONFIDENCE", &c.LearnerMinConfidence)
	envBool("LEARNER_BLEND", &c.LearnerBlend)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("MNEMO_DB_PATH must not be empty")
	}
	if c.OllamaBaseURL == "" {
		return fmt.Errorf("OLLAMA_BASE_URL must not be empty")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	sum := c.VectorWeight + c.BM25Weight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("VECTOR_WEIGHT + BM25_WEIGHT must equal 1.0, got %f", sum)
	}
	if c.ConsolidateCosine <= 0 || c.ConsolidateCosine > 1 {
		return fmt.Errorf("CONSOLIDATE_COSINE must be in (0,1], got %f", c.ConsolidateCosine)
	}
	if c.ConsolidateJaccard <= 0 || c.ConsolidateJaccard > 1 {
		return fmt.Errorf("CONSOLIDATE_THRESHOLD must be in (0,1], got %f", c.ConsolidateJaccard)
	}
	for name, rate := range map[string]float64{
		"LEARNER_RATE_SESSION": c.LearnerRateSession,
		"LEARNER_RATE_PROJECT": c.LearnerRateProject,
		"LEARNER_RATE_GLOBAL":  c.LearnerRateGlobal,
	} {
		if rate <= 0 || rate > 0.25 {
			return fmt.Errorf("%s must be in (0, 0.25], got %f", name, rate)
		}
	}
	if c.LearnerMinConfidence < 0 || c.LearnerMinConfidence > 1 {
		return fmt.Errorf("LEARNER_MIN_CONFIDENCE must be in [0,1], got %f", c.LearnerMinConfidence)
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
