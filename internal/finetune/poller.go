package finetune

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/pkg/openai"
)

// Poller advances fine-tuning jobs: queued jobs get a training file and a
// provider job, running jobs are polled until they finish or time out, and
// succeeded jobs promote their model into the registry.
type Poller struct {
	store    JobStore
	provider openai.FineTuneClient

	baseModel      string
	minRating      int
	interval       time.Duration
	runningTimeout time.Duration
	now            func() time.Time
}

// PollerConfig tunes the Poller.
type PollerConfig struct {
	BaseModel      string
	MinRating      int
	Interval       time.Duration
	RunningTimeout time.Duration
}

// NewPoller builds a Poller.
func NewPoller(st JobStore, provider openai.FineTuneClient, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RunningTimeout <= 0 {
		cfg.RunningTimeout = 4 * time.Hour
	}
	if cfg.MinRating <= 0 {
		cfg.MinRating = 4
	}
	return &Poller{
		store:          st,
		provider:       provider,
		baseModel:      cfg.BaseModel,
		minRating:      cfg.MinRating,
		interval:       cfg.Interval,
		runningTimeout: cfg.RunningTimeout,
		now:            time.Now,
	}
}

// Run loops until ctx is cancelled. Tick errors are logged, not returned.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				zap.L().Warn("fine-tuning poll failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one poll pass over queued and running jobs.
func (p *Poller) Tick(ctx context.Context) error {
	if err := p.startQueued(ctx); err != nil {
		return err
	}
	return p.pollRunning(ctx)
}

func (p *Poller) startQueued(ctx context.Context) error {
	jobs, err := p.store.ListJobsByStatus(ctx, model.JobStatusQueued)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := p.startJob(ctx, job); err != nil {
			zap.L().Warn("failed to start fine-tuning job",
				zap.String("job_id", job.ID), zap.Error(err))
			p.failJob(ctx, job, err)
		}
	}
	return nil
}

func (p *Poller) startJob(ctx context.Context, job model.FineTuningJob) error {
	examples, err := p.store.ListExamples(ctx, p.minRating, 0)
	if err != nil {
		return err
	}

	data, err := EncodeJSONL(examples)
	if err != nil {
		return err
	}

	fileName := fmt.Sprintf("pawpilot-train-%s.jsonl", job.ID)
	fileID, err := p.provider.UploadTrainingFile(ctx, fileName, data)
	if err != nil {
		return err
	}

	providerJobID, err := p.provider.CreateJob(ctx, fileID, p.baseModel)
	if err != nil {
		return err
	}

	started := p.now().UTC()
	job.Status = model.JobStatusRunning
	job.StartedAt = &started
	job.TrainingFileID = fileID
	job.ProviderJobID = providerJobID
	job.ExamplesCount = len(examples)
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	zap.L().Info("started fine-tuning job",
		zap.String("job_id", job.ID),
		zap.String("provider_job_id", providerJobID),
		zap.Int("examples", len(examples)))
	return nil
}

func (p *Poller) pollRunning(ctx context.Context) error {
	jobs, err := p.store.ListJobsByStatus(ctx, model.JobStatusRunning)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.StartedAt != nil && p.now().Sub(*job.StartedAt) > p.runningTimeout {
			p.failJob(ctx, job, fmt.Errorf("job exceeded running timeout of %s", p.runningTimeout))
			continue
		}

		status, err := p.provider.GetJob(ctx, job.ProviderJobID)
		if err != nil {
			zap.L().Warn("fine-tuning status check failed",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}

		switch status.Status {
		case "succeeded":
			p.completeJob(ctx, job, status.FineTunedModel)
		case "failed", "cancelled":
			p.failJob(ctx, job, fmt.Errorf("provider reported status %q: %s", status.Status, status.Error))
		}
	}
	return nil
}

func (p *Poller) completeJob(ctx context.Context, job model.FineTuningJob, modelID string) {
	completed := p.now().UTC()
	job.Status = model.JobStatusSucceeded
	job.CompletedAt = &completed
	job.ModelID = modelID
	if err := p.store.UpdateJob(ctx, job); err != nil {
		zap.L().Warn("failed to record job success", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	// Register the produced model. It starts inactive until an operator
	// scores and activates it.
	err := p.store.SaveModel(ctx, model.ModelInfo{
		ID:        modelID,
		Name:      modelID,
		Type:      "fine-tuned",
		Status:    "inactive",
		CreatedAt: completed,
	})
	if err != nil {
		zap.L().Warn("failed to register fine-tuned model",
			zap.String("model_id", modelID), zap.Error(err))
	}

	zap.L().Info("fine-tuning job succeeded",
		zap.String("job_id", job.ID), zap.String("model_id", modelID))
}

func (p *Poller) failJob(ctx context.Context, job model.FineTuningJob, cause error) {
	completed := p.now().UTC()
	job.Status = model.JobStatusFailed
	job.CompletedAt = &completed
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	job.Metadata["failure"] = cause.Error()
	if err := p.store.UpdateJob(ctx, job); err != nil {
		zap.L().Warn("failed to record job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
}
