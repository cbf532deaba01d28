package api

import "github.com/longformai/coherence/pkg/model"

// JobResponse is returned by POST /jobs and GET /jobs/:id.
type JobResponse struct {
	ID            string                `json:"id"`
	Kind          model.JobKind         `json:"kind"`
	Status        model.JobStatus       `json:"status"`
	NumChunks     int                   `json:"num_chunks"`
	CurrentChunk  int                   `json:"current_chunk"`
	TargetWords   int                   `json:"target_words"`
	FinalOutput   string                `json:"final_output,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
	Skeleton      *model.GlobalSkeleton `json:"skeleton,omitempty"`
}

func newJobResponse(j *model.Job) JobResponse {
	return JobResponse{
		ID:            j.ID,
		Kind:          j.Kind,
		Status:        j.Status,
		NumChunks:     j.NumChunks,
		CurrentChunk:  j.CurrentChunk,
		TargetWords:   j.TargetWords,
		FinalOutput:   j.FinalOutput,
		FailureReason: j.FailureReason,
		Skeleton:      j.GlobalSkeleton,
	}
}

// ErrorResponse is the JSON body of any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string        `json:"status"`
	DBReachable   bool          `json:"db_reachable"`
	WorkerPool    any           `json:"worker_pool,omitempty"`
	Configuration ConfigSummary `json:"configuration"`
}

// ConfigSummary mirrors config.Stats for the health endpoint.
type ConfigSummary struct {
	WorkerCount       int    `json:"worker_count"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
	LLMProvider       string `json:"llm_provider"`
}
