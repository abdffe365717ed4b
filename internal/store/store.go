// Package store provides durable persistence for interactions, training
// examples, fine-tuning jobs, the model registry, and the monthly budget.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pawpilot/chat-api/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// InteractionFilter specifies criteria for listing interactions.
type InteractionFilter struct {
	UserID string          `json:"user_id,omitempty"`
	PetID  string          `json:"pet_id,omitempty"`
	Module model.ModuleTag `json:"module,omitempty"`
	Since  time.Time       `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ExampleStats summarizes the accumulated-examples table for the
// fine-tuning trigger.
type ExampleStats struct {
	Count     int     `json:"count"`
	AvgRating float64 `json:"avg_rating"`
}

// Store defines the persistence interface for the chat workflow.
type Store interface {
	// Interactions
	SaveInteraction(ctx context.Context, in model.Interaction) error
	GetInteraction(ctx context.Context, id string) (*model.Interaction, error)
	ListInteractions(ctx context.Context, filter InteractionFilter) ([]model.Interaction, error)
	UpdateFeedback(ctx context.Context, id string, rating int, comment string) error

	// Training examples
	AddExample(ctx context.Context, ex model.AccumulatedExample) error
	GetExampleStats(ctx context.Context) (*ExampleStats, error)
	ListExamples(ctx context.Context, minRating int, limit int) ([]model.AccumulatedExample, error)

	// Fine-tuning jobs
	CreateJob(ctx context.Context, job model.FineTuningJob) error
	UpdateJob(ctx context.Context, job model.FineTuningJob) error
	ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.FineTuningJob, error)

	// Model registry
	SaveModel(ctx context.Context, m model.ModelInfo) error
	GetDeployedModel(ctx context.Context) (*model.ModelInfo, error)

	// Budget
	GetBudget(ctx context.Context, month string) (*model.Budget, error)
	ApplyBudgetSpend(ctx context.Context, month string, totalBudget, amount float64) (*model.Budget, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
