package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the on-disk coherence.yaml structure. Every section
// is optional; anything left unset falls back to the built-in default via
// mergo.Merge(..., mergo.WithOverride).
type YAMLConfig struct {
	Length    *LengthDefaults     `yaml:"length"`
	Queue     *QueueConfig        `yaml:"queue"`
	Enforcer  *EnforcerConfig     `yaml:"enforcer"`
	Retention *RetentionConfig    `yaml:"retention"`
	Stream    *StreamConfig       `yaml:"stream"`
	LLM       *LLMProviderConfig  `yaml:"llm"`
}

// Initialize loads, merges, and validates configuration from configDir/coherence.yaml.
//
// Steps:
//  1. Read coherence.yaml (missing file is not an error — built-ins apply)
//  2. Expand environment variables ($VAR / ${VAR})
//  3. Parse YAML
//  4. Merge onto built-in defaults (user config overrides)
//  5. Validate
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	yamlCfg, err := loadYAML(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	length := DefaultLengthDefaults()
	queue := DefaultQueueConfig()
	enforcer := DefaultEnforcerConfig()
	retention := DefaultRetentionConfig()
	stream := DefaultStreamConfig()

	if yamlCfg.Length != nil {
		if err := mergo.Merge(length, yamlCfg.Length, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge length config: %w", err)
		}
	}
	if yamlCfg.Queue != nil {
		if err := mergo.Merge(queue, yamlCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge queue config: %w", err)
		}
	}
	if yamlCfg.Enforcer != nil {
		if err := mergo.Merge(enforcer, yamlCfg.Enforcer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge enforcer config: %w", err)
		}
	}
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retention, yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge retention config: %w", err)
		}
	}
	if yamlCfg.Stream != nil {
		if err := mergo.Merge(stream, yamlCfg.Stream, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge stream config: %w", err)
		}
	}

	llm := yamlCfg.LLM
	if llm == nil {
		llm = &LLMProviderConfig{}
	}
	applyLLMEnvDefaults(llm)

	cfg := &Config{
		configDir: configDir,
		Length:    length,
		Queue:     queue,
		Enforcer:  enforcer,
		Retention: retention,
		Stream:    stream,
		LLM:       llm,
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"workers", cfg.Queue.WorkerCount,
		"llm_provider", cfg.LLM.Name,
		"llm_model", cfg.LLM.Model)
	return cfg, nil
}

func loadYAML(configDir string) (*YAMLConfig, error) {
	path := filepath.Join(configDir, "coherence.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No coherence.yaml found, using built-in defaults", "path", path)
			return &YAMLConfig{}, nil
		}
		return nil, NewLoadError("coherence.yaml", err)
	}

	data = ExpandEnv(data)

	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError("coherence.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &cfg, nil
}

// applyLLMEnvDefaults fills in LLM provider fields not set in YAML from
// environment variables, mirroring how the teacher resolves DB credentials.
func applyLLMEnvDefaults(cfg *LLMProviderConfig) {
	if cfg.Name == "" {
		cfg.Name = envOr("LLM_PROVIDER_NAME", "default")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("LLM_BASE_URL")
	}
	if cfg.Model == "" {
		cfg.Model = envOr("LLM_MODEL", "coherence-1")
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "LLM_API_KEY"
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// validate runs structural validation across the merged configuration.
func validate(cfg *Config) error {
	if cfg.LLM.BaseURL == "" {
		return &ValidationError{Field: "llm.base_url", Err: fmt.Errorf("required")}
	}
	if cfg.Length.MinInputWords >= cfg.Length.MaxInputWords {
		return &ValidationError{Field: "length", Err: fmt.Errorf("min_input_words must be < max_input_words")}
	}
	if cfg.Length.ChunkTargetMin >= cfg.Length.ChunkTargetMax {
		return &ValidationError{Field: "length", Err: fmt.Errorf("chunk_target_min must be < chunk_target_max")}
	}
	if cfg.Queue.WorkerCount < 1 {
		return &ValidationError{Field: "queue.worker_count", Err: fmt.Errorf("must be at least 1")}
	}
	if cfg.Enforcer.MaxAttempts < 1 {
		return &ValidationError{Field: "enforcer.max_attempts", Err: fmt.Errorf("must be at least 1")}
	}
	if cfg.Enforcer.CompletionRatio <= 0 || cfg.Enforcer.CompletionRatio > 1 {
		return &ValidationError{Field: "enforcer.completion_ratio", Err: fmt.Errorf("must be in (0, 1]")}
	}
	return nil
}
