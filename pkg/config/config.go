package config

// Config is the umbrella configuration object returned by Initialize and
// threaded through the job controller, worker pool, length enforcer, stream
// hub, and cleanup sweeper.
type Config struct {
	configDir string

	Length   *LengthDefaults
	Queue    *QueueConfig
	Enforcer *EnforcerConfig
	Retention *RetentionConfig
	Stream   *StreamConfig
	LLM      *LLMProviderConfig
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes the loaded configuration for health/logging output.
type Stats struct {
	ChunkTargetRange string
	Worker           int
	MaxConcurrentJobs int
	LLMProvider      string
}

// Stats returns a snapshot of the loaded configuration for logging or the
// health endpoint.
func (c *Config) Stats() Stats {
	return Stats{
		Worker:            c.Queue.WorkerCount,
		MaxConcurrentJobs: c.Queue.MaxConcurrentJobs,
		LLMProvider:       c.LLM.Name,
	}
}
