// Package config loads the TOML configuration shared by every snipvet
// subcommand.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the top-level application configuration.
type Config struct {
	Embedding EmbeddingConfig `toml:"embedding"`
	Detect    DetectConfig    `toml:"detect"`
	Trim      TrimConfig      `toml:"trim"`
	Score     ScoreConfig     `toml:"score"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Static    StaticConfig    `toml:"static"`
	Judge     JudgeConfig     `toml:"judge"`
	Mine      MineConfig      `toml:"mine"`
	Store     StoreConfig     `toml:"store"`
}

// EmbeddingConfig selects the embedding backend used for scoring and
// clustering.
type EmbeddingConfig struct {
	Backend      string `toml:"backend"` // "openai" or "hash"
	Model        string `toml:"model"`
	Dim          int    `toml:"dim"` // hash backend only
	APIKeySource string `toml:"api_key_source"`
	APIKey       string `toml:"api_key"`
}

// DetectConfig holds sink detection settings.
type DetectConfig struct {
	Radius       int    `toml:"radius"`
	RegistryPath string `toml:"registry_path"` // empty means built-in patterns
}

// TrimConfig holds window trimming targets.
type TrimConfig struct {
	MaxLines   int     `toml:"max_lines"`
	MinLines   int     `toml:"min_lines"`
	Depth      int     `toml:"depth"`
	MinDensity float64 `toml:"min_density"`
}

// ScoreConfig holds prototype scoring settings.
type ScoreConfig struct {
	Threshold     float64 `toml:"threshold"`
	PositivesPath string  `toml:"positives_path"`
	NegativesPath string  `toml:"negatives_path"`
}

// PipelineConfig holds batch execution settings.
type PipelineConfig struct {
	Concurrency    int     `toml:"concurrency"`
	DedupThreshold float64 `toml:"dedup_threshold"`
	ClusterCount   int     `toml:"cluster_count"`
	ClusterSeed    int64   `toml:"cluster_seed"`
}

// StaticConfig holds static tool settings. Timeouts are in seconds.
type StaticConfig struct {
	BanditTimeout  int      `toml:"bandit_timeout"`
	SemgrepTimeout int      `toml:"semgrep_timeout"`
	CodeQLTimeout  int      `toml:"codeql_timeout"`
	SemgrepPacks   []string `toml:"semgrep_packs"`
	CodeQLSuite    string   `toml:"codeql_suite"`
}

// JudgeConfig holds LLM judge settings.
type JudgeConfig struct {
	Model        string `toml:"model"`
	APIKeySource string `toml:"api_key_source"`
	APIKey       string `toml:"api_key"`
}

// MineConfig holds GitHub pair mining settings.
type MineConfig struct {
	TokenSource       string  `toml:"token_source"`
	Token             string  `toml:"token"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxPairs          int     `toml:"max_pairs"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `toml:"path"`
}

// DefaultConfig returns a Config populated with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Backend:      "hash",
			Dim:          64,
			APIKeySource: "env",
		},
		Detect: DetectConfig{Radius: 6},
		Trim: TrimConfig{
			MaxLines:   12,
			MinLines:   2,
			Depth:      3,
			MinDensity: 0.5,
		},
		Score: ScoreConfig{Threshold: 0.05},
		Pipeline: PipelineConfig{
			Concurrency:    4,
			DedupThreshold: 0.85,
			ClusterCount:   8,
			ClusterSeed:    1,
		},
		Static: StaticConfig{
			BanditTimeout:  120,
			SemgrepTimeout: 300,
			CodeQLTimeout:  1200,
		},
		Judge: JudgeConfig{APIKeySource: "env"},
		Mine: MineConfig{
			TokenSource:       "env",
			RequestsPerSecond: 1,
			MaxPairs:          200,
		},
		Store: StoreConfig{Path: "snipvet.db"},
	}
}

// Load reads a TOML config from path, layered over defaults. A missing file
// yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveAPIKey resolves an API key based on the given source.
// Supported sources: "env" (from environment variable) and "config"
// (from the config value itself).
func ResolveAPIKey(source, configValue, envVar string) (string, error) {
	switch source {
	case "env", "":
		if envVar == "" {
			return "", fmt.Errorf("no environment variable name specified")
		}
		val := os.Getenv(envVar)
		if val == "" {
			return "", fmt.Errorf("environment variable %s is not set", envVar)
		}
		return val, nil
	case "config":
		if configValue == "" {
			return "", fmt.Errorf("api_key_source is 'config' but no api_key value provided")
		}
		return configValue, nil
	default:
		return "", fmt.Errorf("unknown api_key_source: %q", source)
	}
}
