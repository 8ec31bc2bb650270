// Package config provides configuration loading, validation, and management
// for the support-chat orchestrator.
//
// A single global Config instance is maintained in memory behind a mutex.
// GetConfig returns the config BY VALUE so callers cannot mutate shared
// state; all detection thresholds are tunables here rather than constants,
// since the empirically-chosen defaults are expected to be adjusted in
// production.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"stibot/pkg/logx"
)

// Defaults for the anomaly-detection and confidence policy tunables.
const (
	DefaultDetectionWindow     = 6
	DefaultLoopThreshold       = 2
	DefaultApologyThreshold    = 2
	DefaultSimilarityThreshold = 0.85
	DefaultMaxNameAttempts     = 3
	DefaultTrustConfidence     = 0.6
	DefaultReviewConfidence    = 0.3
	DefaultNLPTimeoutSeconds   = 10
	DefaultWindowTokenBudget   = 1500
	DefaultListenAddr          = ":3001"
	DefaultStoragePath         = "data/stibot.db"
	DefaultFlowLogDir          = "data/logs"
)

// DetectorConfig holds the problem-detector tunables.
type DetectorConfig struct {
	WindowTurns         int     `json:"window_turns"`
	LoopThreshold       int     `json:"loop_threshold"`
	ApologyThreshold    int     `json:"apology_threshold"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// NLPConfig holds the intent-resolver settings.
type NLPConfig struct {
	Provider          string  `json:"provider"` // "openai", "anthropic", or "mock"
	Model             string  `json:"model,omitempty"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	TrustConfidence   float64 `json:"trust_confidence"`
	ReviewConfidence  float64 `json:"review_confidence"`
	WindowTokenBudget int     `json:"window_token_budget"`
}

// Timeout returns the resolver call timeout as a duration.
func (n *NLPConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// FlowConfig holds dialogue-flow tunables.
type FlowConfig struct {
	MaxNameAttempts int `json:"max_name_attempts"`
}

// Config is the full orchestrator configuration.
type Config struct {
	ListenAddr  string `json:"listen_addr"`
	StoragePath string `json:"storage_path"`
	FlowLogDir  string `json:"flow_log_dir"`
	CatalogPath string `json:"catalog_path,omitempty"`
	// PrometheusURL points /api/stats at a Prometheus server scraping
	// this process. Empty disables the stats endpoint.
	PrometheusURL string         `json:"prometheus_url,omitempty"`
	Detector      DetectorConfig `json:"detector"`
	NLP           NLPConfig      `json:"nlp"`
	Flow          FlowConfig     `json:"flow"`
}

//nolint:gochecknoglobals // intentional singleton behind a mutex
var (
	config *Config
	mu     sync.RWMutex
	logger *logx.Logger
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// Default returns a config populated with the built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:  DefaultListenAddr,
		StoragePath: DefaultStoragePath,
		FlowLogDir:  DefaultFlowLogDir,
		Detector: DetectorConfig{
			WindowTurns:         DefaultDetectionWindow,
			LoopThreshold:       DefaultLoopThreshold,
			ApologyThreshold:    DefaultApologyThreshold,
			SimilarityThreshold: DefaultSimilarityThreshold,
		},
		NLP: NLPConfig{
			Provider:          "mock",
			TimeoutSeconds:    DefaultNLPTimeoutSeconds,
			TrustConfidence:   DefaultTrustConfidence,
			ReviewConfidence:  DefaultReviewConfidence,
			WindowTokenBudget: DefaultWindowTokenBudget,
		},
		Flow: FlowConfig{
			MaxNameAttempts: DefaultMaxNameAttempts,
		},
	}
}

// Load reads the config file (if present), applies env overrides, validates,
// and installs the result as the global config. A missing file is not an
// error; defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			getLogger().Info("No config file at %s, using defaults", path)
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}

	mu.Lock()
	config = &cfg
	mu.Unlock()

	getLogger().Info("Config loaded (provider=%s, window=%d turns)", cfg.NLP.Provider, cfg.Detector.WindowTurns)
	return cfg, nil
}

// applyEnvOverrides lets deployment env vars win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STIBOT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("STIBOT_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("STIBOT_PROMETHEUS_URL"); v != "" {
		cfg.PrometheusURL = v
	}
	if v := os.Getenv("STIBOT_NLP_PROVIDER"); v != "" {
		cfg.NLP.Provider = v
	}
	if v := os.Getenv("STIBOT_NLP_MODEL"); v != "" {
		cfg.NLP.Model = v
	}
	if v := os.Getenv("STIBOT_NLP_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.NLP.TimeoutSeconds = secs
		}
	}
}

// Validate rejects configs that would break the turn pipeline.
func Validate(cfg *Config) error {
	if cfg.Detector.WindowTurns <= 0 {
		return fmt.Errorf("detector window_turns must be positive, got %d", cfg.Detector.WindowTurns)
	}
	if cfg.Detector.LoopThreshold <= 0 || cfg.Detector.ApologyThreshold <= 0 {
		return fmt.Errorf("detector thresholds must be positive")
	}
	if cfg.Detector.SimilarityThreshold <= 0 || cfg.Detector.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0,1], got %f", cfg.Detector.SimilarityThreshold)
	}
	if cfg.NLP.TrustConfidence <= cfg.NLP.ReviewConfidence {
		return fmt.Errorf("trust_confidence (%f) must exceed review_confidence (%f)",
			cfg.NLP.TrustConfidence, cfg.NLP.ReviewConfidence)
	}
	if cfg.NLP.TrustConfidence > 1 || cfg.NLP.ReviewConfidence < 0 {
		return fmt.Errorf("confidence thresholds must stay within [0,1]")
	}
	if cfg.NLP.TimeoutSeconds <= 0 {
		return fmt.Errorf("nlp timeout_seconds must be positive, got %d", cfg.NLP.TimeoutSeconds)
	}
	if cfg.Flow.MaxNameAttempts <= 0 {
		return fmt.Errorf("max_name_attempts must be positive, got %d", cfg.Flow.MaxNameAttempts)
	}
	switch cfg.NLP.Provider {
	case "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("unknown nlp provider %q", cfg.NLP.Provider)
	}
	return nil
}

// GetConfig returns the loaded config by value. Falls back to defaults if
// Load was never called (tests, tooling).
func GetConfig() Config {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Default()
	}
	return *config
}

// SetForTest installs a config directly. Test helper only.
func SetForTest(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	config = &cfg
}
