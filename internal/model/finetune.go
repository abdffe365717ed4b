package model

import "time"

// JobStatus tracks the lifecycle of a fine-tuning job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a final one. Terminal jobs are
// never updated again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// FineTuningJob tracks one training job from queueing to completion.
type FineTuningJob struct {
	ID            string     `json:"id"`
	ProviderJobID string     `json:"provider_job_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	Status  JobStatus `json:"status"`
	ModelID string    `json:"model_id,omitempty"` // produced fine-tuned model

	ExamplesCount  int    `json:"examples_count"`
	TrainingFileID string `json:"training_file_id,omitempty"`

	PerformanceScore float64 `json:"performance_score"`
	IsDeployed       bool    `json:"is_deployed"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// AccumulatedExample is one (query, response, rating) tuple collected from
// user feedback, read in bulk when a training set is assembled.
type AccumulatedExample struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	UserQuery  string    `json:"user_query"`
	AIResponse string    `json:"ai_response"`
	UserRating int       `json:"user_rating"` // 1-5 stars
	Module     ModuleTag `json:"module"`

	PetID    string `json:"pet_id"`
	UserID   string `json:"user_id"`
	Feedback string `json:"feedback,omitempty"`
}

// ModelInfo is a model-registry entry for a base or fine-tuned model.
type ModelInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`   // "base" or "fine-tuned"
	Status string `json:"status"` // "active", "inactive", "deprecated"

	PerformanceScore float64 `json:"performance_score"`
	Accuracy         float64 `json:"accuracy"`
	CostPerToken     float64 `json:"cost_per_token"`

	CreatedAt  time.Time  `json:"created_at"`
	DeployedAt *time.Time `json:"deployed_at,omitempty"`
}

// Budget is one calendar month of fine-tuning budget tracking. Month is
// formatted "2006-01".
type Budget struct {
	ID          string    `json:"id"`
	Month       string    `json:"month"`
	TotalBudget float64   `json:"total_budget"`
	Spent       float64   `json:"spent"`
	Remaining   float64   `json:"remaining"`
	UpdatedAt   time.Time `json:"updated_at"`
}
