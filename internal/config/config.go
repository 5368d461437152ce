// Package config adapts the teacher's hot-reloading file configuration
// layer (ConfigManager in manager.go, unchanged fsnotify+yaml.v3 directory
// watcher) to this service's own tunables: RecallScorer's blend weights
// and the reranker toggle (spec §4.7, §4.4), rather than Shannon's
// budget/workflow/enforcement feature flags the teacher originally loaded
// here. Scoring config is still read with viper (the teacher's own choice
// for typed config-file decoding), just pointed at a different file and
// struct shape.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/shannon-memory/core/internal/memcore"
)

// ScoringConfig is scoring.yaml's content: RecallScorer's weight simplex
// plus the knobs spec §4.4/§4.7 call out as operator-tunable.
type ScoringConfig struct {
	Weights struct {
		Semantic   float64 `mapstructure:"semantic"`
		Recency    float64 `mapstructure:"recency"`
		Frequency  float64 `mapstructure:"frequency"`
		Graph      float64 `mapstructure:"graph"`
		Importance float64 `mapstructure:"importance"`
	} `mapstructure:"weights"`
	RerankEnabled *bool `mapstructure:"rerank_enabled"`
	RRFK          int   `mapstructure:"rrf_k"`
}

// ScorerWeights converts the decoded simplex into memcore's weight type,
// falling back to spec §4.7's default simplex when scoring.yaml sets
// nothing (every field is its zero value).
func (c ScoringConfig) ScorerWeights() memcore.ScorerWeights {
	w := memcore.ScorerWeights{
		Semantic:   c.Weights.Semantic,
		Recency:    c.Weights.Recency,
		Frequency:  c.Weights.Frequency,
		Graph:      c.Weights.Graph,
		Importance: c.Weights.Importance,
	}
	if w == (memcore.ScorerWeights{}) {
		return memcore.DefaultScorerWeights()
	}
	return w
}

// LoadScoringConfig reads path (YAML or JSON, whatever viper's extension
// sniffing detects) into a ScoringConfig. A missing file is not an error —
// callers get a ScoringConfig whose ScorerWeights() resolves to the spec
// default — since scoring.yaml is an optional tuning knob, not a required
// deployment artifact.
func LoadScoringConfig(path string) (*ScoringConfig, error) {
	var cfg ScoringConfig
	if _, err := os.Stat(path); err != nil {
		return &cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read scoring config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal scoring config: %w", err)
	}
	return &cfg, nil
}
