// Package config loads and validates the reconstruction service's
// configuration: length defaults, the LLM provider, worker/queue tuning,
// stream tuning, and retention policy.
package config

import "time"

// LengthDefaults holds the length bounds that pkg/job applies at submission
// and chunk planning and that pkg/expansion reads for its section plan.
// pkg/wordutil and pkg/directive do not read it.
type LengthDefaults struct {
	// MinInputWords/MaxInputWords bound acceptable job submissions (spec §6).
	MinInputWords int `yaml:"min_input_words"`
	MaxInputWords int `yaml:"max_input_words"`

	// ChunkTargetMin/ChunkTargetMax clamp the per-chunk word target (spec §4.A).
	ChunkTargetMin int `yaml:"chunk_target_min"`
	ChunkTargetMax int `yaml:"chunk_target_max"`

	// ThesisWords/DissertationWords are configurable document sizes. The
	// keyword defaults that ParseTargetLength applies come from pkg/wordutil's
	// own constants, not from these fields. DissertationWords is the target
	// pkg/expansion.BuildSections falls back to when a directive names no
	// size; ThesisWords is not read by any component.
	ThesisWords       int `yaml:"thesis_words"`
	DissertationWords int `yaml:"dissertation_words"`

	// DefaultNumChunks is loaded but not read: the Job Controller derives its
	// chunk count from ChunkTargetMax and the chunker's split.
	DefaultNumChunks int `yaml:"default_num_chunks"`
}

// DefaultLengthDefaults returns the built-in length heuristics.
func DefaultLengthDefaults() *LengthDefaults {
	return &LengthDefaults{
		MinInputWords:     501,
		MaxInputWords:      50000,
		ChunkTargetMin:    600,
		ChunkTargetMax:    4000,
		ThesisWords:       20000,
		DissertationWords: 40000,
		DefaultNumChunks:  0, // 0 = derive from chunk target
	}
}

// QueueConfig controls how the job worker pool polls, claims, and processes jobs.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per process.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the global limit of jobs being processed across
	// ALL replicas, enforced by a database COUNT(*) check.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// PollInterval is the base interval for checking pending jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// HeartbeatInterval is how often a running job updates its liveness marker.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often to scan for jobs with a stale heartbeat.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a job can go without a heartbeat before
	// it is considered orphaned and released back to the queue.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// InterChunkPauseMin/Max bound the jittered pause the Job Controller
	// takes between chunks to avoid provider throttling (spec §5/§9).
	InterChunkPauseMin time.Duration `yaml:"inter_chunk_pause_min"`
	InterChunkPauseMax time.Duration `yaml:"inter_chunk_pause_max"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentJobs:       5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		HeartbeatInterval:       15 * time.Second,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		InterChunkPauseMin:      500 * time.Millisecond,
		InterChunkPauseMax:      2 * time.Second,
	}
}

// EnforcerConfig controls the Length Enforcer's continuation loop (spec §4.G).
type EnforcerConfig struct {
	MaxAttempts           int           `yaml:"max_attempts"`
	CompletionRatio       float64       `yaml:"completion_ratio"` // 0.95 per spec
	MaxContinuationWords  int           `yaml:"max_continuation_words"`
	RateLimitPause        time.Duration `yaml:"rate_limit_pause"`
}

// DefaultEnforcerConfig returns the built-in length enforcer defaults.
func DefaultEnforcerConfig() *EnforcerConfig {
	return &EnforcerConfig{
		MaxAttempts:          20,
		CompletionRatio:      0.95,
		MaxContinuationWords: 4000,
		RateLimitPause:       300 * time.Millisecond,
	}
}

// RetentionConfig controls data retention and cleanup behavior (spec §3).
type RetentionConfig struct {
	// TerminalJobTTL is how long a complete/aborted job is retained before
	// the periodic sweep deletes it.
	TerminalJobTTL time.Duration `yaml:"terminal_job_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// TransientEventGracePeriod is loaded but not read by any component; the
	// Stream Hub is live-only and keeps no catchup rows.
	TransientEventGracePeriod time.Duration `yaml:"transient_event_grace_period"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TerminalJobTTL:            24 * time.Hour,
		CleanupInterval:           1 * time.Hour,
		TransientEventGracePeriod: 60 * time.Second,
	}
}

// LLMProviderConfig describes how to reach the external completion service
// (spec §1: "a text-in/text-out completion service returning a stop-reason").
type LLMProviderConfig struct {
	Name       string `yaml:"name" validate:"required"`
	BaseURL    string `yaml:"base_url" validate:"required"`
	Model      string `yaml:"model" validate:"required"`
	APIKeyEnv  string `yaml:"api_key_env,omitempty"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the configured request timeout, defaulting to the
// 10-minute transport timeout named in spec §4.F.
func (c LLMProviderConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// StreamConfig controls the Stream Hub's websocket behavior (spec §4.J/§9).
type StreamConfig struct {
	SendBufferSize int           `yaml:"send_buffer_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	CatchupLimit   int           `yaml:"catchup_limit"`
}

// DefaultStreamConfig returns the built-in stream hub defaults.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		SendBufferSize: 64,
		WriteTimeout:   5 * time.Second,
		CatchupLimit:   200,
	}
}
