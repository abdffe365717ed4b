// Package finetune decides when accumulated feedback justifies a new
// fine-tuning job and shepherds queued jobs through the training provider.
package finetune

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/internal/store"
)

// JobStore is the slice of the persistence layer the trigger and poller use.
type JobStore interface {
	GetExampleStats(ctx context.Context) (*store.ExampleStats, error)
	ListExamples(ctx context.Context, minRating int, limit int) ([]model.AccumulatedExample, error)
	CreateJob(ctx context.Context, job model.FineTuningJob) error
	UpdateJob(ctx context.Context, job model.FineTuningJob) error
	ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.FineTuningJob, error)
	SaveModel(ctx context.Context, m model.ModelInfo) error
	GetBudget(ctx context.Context, month string) (*model.Budget, error)
	ApplyBudgetSpend(ctx context.Context, month string, totalBudget, amount float64) (*model.Budget, error)
}

// Policy holds the thresholds that gate job creation.
type Policy struct {
	MinExamples      int
	MinAvgRating     float64
	JobCostUSD       float64
	MonthlyBudgetUSD float64
}

// Trigger checks accumulated examples against Policy and queues a job when
// the thresholds and monthly budget allow it.
type Trigger struct {
	store  JobStore
	policy Policy
	now    func() time.Time
}

// NewTrigger builds a Trigger.
func NewTrigger(st JobStore, policy Policy) *Trigger {
	return &Trigger{store: st, policy: policy, now: time.Now}
}

// Check evaluates the trigger. It returns the queued job when one was
// created, or nil when conditions were not met. Only one non-terminal job
// may exist at a time.
func (t *Trigger) Check(ctx context.Context) (*model.FineTuningJob, error) {
	stats, err := t.store.GetExampleStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "finetune: example stats")
	}
	if stats.Count < t.policy.MinExamples || stats.AvgRating < t.policy.MinAvgRating {
		return nil, nil
	}

	for _, status := range []model.JobStatus{model.JobStatusQueued, model.JobStatusRunning} {
		jobs, err := t.store.ListJobsByStatus(ctx, status)
		if err != nil {
			return nil, eris.Wrap(err, "finetune: list jobs")
		}
		if len(jobs) > 0 {
			return nil, nil
		}
	}

	month := t.now().UTC().Format("2006-01")
	budget, err := t.store.GetBudget(ctx, month)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "finetune: get budget")
	}
	remaining := t.policy.MonthlyBudgetUSD
	if budget != nil {
		remaining = budget.Remaining
	}
	if remaining < t.policy.JobCostUSD {
		zap.L().Info("fine-tuning budget exhausted for month",
			zap.String("month", month),
			zap.Float64("remaining", remaining),
			zap.Float64("job_cost", t.policy.JobCostUSD))
		return nil, nil
	}

	if _, err := t.store.ApplyBudgetSpend(ctx, month, t.policy.MonthlyBudgetUSD, t.policy.JobCostUSD); err != nil {
		return nil, eris.Wrap(err, "finetune: apply budget spend")
	}

	job := model.FineTuningJob{
		ID:            uuid.New().String(),
		CreatedAt:     t.now().UTC(),
		Status:        model.JobStatusQueued,
		ExamplesCount: stats.Count,
		Metadata: map[string]any{
			"avg_rating": stats.AvgRating,
			"month":      month,
		},
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "finetune: create job")
	}

	zap.L().Info("queued fine-tuning job",
		zap.String("job_id", job.ID),
		zap.Int("examples", stats.Count),
		zap.Float64("avg_rating", stats.AvgRating))
	return &job, nil
}
