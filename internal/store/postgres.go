package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/pawpilot/chat-api/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock implements it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests and by callers
// that share a pool with the pgvector retriever.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool so callers can share the connection,
// e.g. the pgvector searcher.
func (s *PostgresStore) Pool() Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS interactions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT,
	pet_id           TEXT,
	session_id       TEXT,
	timestamp        TIMESTAMPTZ NOT NULL,
	query            TEXT NOT NULL,
	response         TEXT,
	citations        JSONB,
	module           TEXT,
	model_used       TEXT,
	rag_used         BOOLEAN NOT NULL DEFAULT FALSE,
	fine_tuned_model BOOLEAN NOT NULL DEFAULT FALSE,
	confidence_score DOUBLE PRECISION,
	response_quality JSONB,
	cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
	tokens_generated INTEGER NOT NULL DEFAULT 0,
	tokens_prompt    INTEGER NOT NULL DEFAULT 0,
	timing           JSONB,
	success          BOOLEAN NOT NULL DEFAULT FALSE,
	errors           JSONB,
	feedback_rating  INTEGER,
	feedback_comment TEXT
);

CREATE INDEX IF NOT EXISTS idx_interactions_user_id ON interactions(user_id);
CREATE INDEX IF NOT EXISTS idx_interactions_pet_id ON interactions(pet_id);
CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);
CREATE INDEX IF NOT EXISTS idx_interactions_module ON interactions(module);

CREATE TABLE IF NOT EXISTS accumulated_examples (
	id          TEXT PRIMARY KEY,
	timestamp   TIMESTAMPTZ NOT NULL,
	user_query  TEXT NOT NULL,
	ai_response TEXT NOT NULL,
	user_rating INTEGER NOT NULL,
	module      TEXT,
	pet_id      TEXT,
	user_id     TEXT,
	feedback    TEXT
);

CREATE INDEX IF NOT EXISTS idx_examples_rating ON accumulated_examples(user_rating);

CREATE TABLE IF NOT EXISTS fine_tuning_jobs (
	id                TEXT PRIMARY KEY,
	provider_job_id   TEXT UNIQUE,
	created_at        TIMESTAMPTZ NOT NULL,
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	status            TEXT NOT NULL DEFAULT 'queued',
	model_id          TEXT,
	examples_count    INTEGER NOT NULL DEFAULT 0,
	training_file_id  TEXT,
	performance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_deployed       BOOLEAN NOT NULL DEFAULT FALSE,
	metadata          JSONB
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON fine_tuning_jobs(status);

CREATE TABLE IF NOT EXISTS models (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL,
	performance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	accuracy          DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_per_token    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL,
	deployed_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS fine_tuning_budget (
	id           TEXT PRIMARY KEY,
	month        TEXT NOT NULL UNIQUE,
	total_budget DOUBLE PRECISION NOT NULL,
	spent        DOUBLE PRECISION NOT NULL DEFAULT 0,
	remaining    DOUBLE PRECISION NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveInteraction(ctx context.Context, in model.Interaction) error {
	citations, err := json.Marshal(in.Citations)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal citations")
	}
	quality, err := json.Marshal(in.ResponseQuality)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal response quality")
	}
	timing, err := json.Marshal(in.Timing)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal timing")
	}
	errList, err := json.Marshal(in.Errors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal errors")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO interactions (
			id, user_id, pet_id, session_id, timestamp, query, response, citations,
			module, model_used, rag_used, fine_tuned_model, confidence_score,
			response_quality, cost_usd, tokens_generated, tokens_prompt, timing,
			success, errors
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		in.ID, in.UserID, in.PetID, in.SessionID, in.Timestamp, in.Query, in.Response,
		citations, string(in.Module), in.ModelUsed, in.RAGUsed, in.FineTunedModel,
		in.ConfidenceScore, quality, in.CostUSD, in.TokensGenerated, in.TokensPrompt,
		timing, in.Success, errList,
	)
	return eris.Wrap(err, "postgres: insert interaction")
}

const selectInteractionColumns = `id, user_id, pet_id, session_id, timestamp, query, response, citations,
	module, model_used, rag_used, fine_tuned_model, confidence_score, response_quality,
	cost_usd, tokens_generated, tokens_prompt, timing, success, errors,
	feedback_rating, feedback_comment`

func scanInteraction(row pgx.Row) (*model.Interaction, error) {
	var in model.Interaction
	var moduleStr string
	var citations, quality, timing, errList []byte

	err := row.Scan(
		&in.ID, &in.UserID, &in.PetID, &in.SessionID, &in.Timestamp, &in.Query,
		&in.Response, &citations, &moduleStr, &in.ModelUsed, &in.RAGUsed,
		&in.FineTunedModel, &in.ConfidenceScore, &quality, &in.CostUSD,
		&in.TokensGenerated, &in.TokensPrompt, &timing, &in.Success, &errList,
		&in.FeedbackRating, &in.FeedbackComment,
	)
	if err != nil {
		return nil, err
	}

	in.Module = model.ModuleTag(moduleStr)
	if len(citations) > 0 {
		if err := json.Unmarshal(citations, &in.Citations); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal citations")
		}
	}
	if len(quality) > 0 {
		if err := json.Unmarshal(quality, &in.ResponseQuality); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal response quality")
		}
	}
	if len(timing) > 0 {
		if err := json.Unmarshal(timing, &in.Timing); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal timing")
		}
	}
	if len(errList) > 0 {
		if err := json.Unmarshal(errList, &in.Errors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal errors")
		}
	}
	return &in, nil
}

func (s *PostgresStore) GetInteraction(ctx context.Context, id string) (*model.Interaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectInteractionColumns+` FROM interactions WHERE id = $1`, id)

	in, err := scanInteraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get interaction")
	}
	return in, nil
}

func (s *PostgresStore) ListInteractions(ctx context.Context, filter InteractionFilter) ([]model.Interaction, error) {
	var conds []string
	var args []any

	addCond := func(expr string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if filter.UserID != "" {
		addCond("user_id = $%d", filter.UserID)
	}
	if filter.PetID != "" {
		addCond("pet_id = $%d", filter.PetID)
	}
	if filter.Module != "" {
		addCond("module = $%d", string(filter.Module))
	}
	if !filter.Since.IsZero() {
		addCond("timestamp >= $%d", filter.Since)
	}

	query := `SELECT ` + selectInteractionColumns + ` FROM interactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY timestamp DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list interactions")
	}
	defer rows.Close()

	var out []model.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan interaction")
		}
		out = append(out, *in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list interactions")
}

func (s *PostgresStore) UpdateFeedback(ctx context.Context, id string, rating int, comment string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE interactions SET feedback_rating = $1, feedback_comment = $2 WHERE id = $3`,
		rating, comment, id,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update feedback")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddExample(ctx context.Context, ex model.AccumulatedExample) error {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO accumulated_examples (id, timestamp, user_query, ai_response, user_rating, module, pet_id, user_id, feedback)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ex.ID, ex.Timestamp, ex.UserQuery, ex.AIResponse, ex.UserRating,
		string(ex.Module), ex.PetID, ex.UserID, ex.Feedback,
	)
	return eris.Wrap(err, "postgres: insert example")
}

func (s *PostgresStore) GetExampleStats(ctx context.Context) (*ExampleStats, error) {
	var stats ExampleStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(user_rating), 0) FROM accumulated_examples`,
	).Scan(&stats.Count, &stats.AvgRating)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: example stats")
	}
	return &stats, nil
}

func (s *PostgresStore) ListExamples(ctx context.Context, minRating int, limit int) ([]model.AccumulatedExample, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, user_query, ai_response, user_rating, module, pet_id, user_id, feedback
		 FROM accumulated_examples WHERE user_rating >= $1 ORDER BY timestamp ASC LIMIT $2`,
		minRating, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list examples")
	}
	defer rows.Close()

	var out []model.AccumulatedExample
	for rows.Next() {
		var ex model.AccumulatedExample
		var moduleStr string
		err := rows.Scan(&ex.ID, &ex.Timestamp, &ex.UserQuery, &ex.AIResponse,
			&ex.UserRating, &moduleStr, &ex.PetID, &ex.UserID, &ex.Feedback)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan example")
		}
		ex.Module = model.ModuleTag(moduleStr)
		out = append(out, ex)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list examples")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job model.FineTuningJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO fine_tuning_jobs (
			id, provider_job_id, created_at, started_at, completed_at, status,
			model_id, examples_count, training_file_id, performance_score, is_deployed, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		job.ID, nullIfEmpty(job.ProviderJobID), job.CreatedAt, job.StartedAt, job.CompletedAt,
		string(job.Status), job.ModelID, job.ExamplesCount, job.TrainingFileID,
		job.PerformanceScore, job.IsDeployed, metadata,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job model.FineTuningJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job metadata")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE fine_tuning_jobs SET
			provider_job_id = $1, started_at = $2, completed_at = $3, status = $4,
			model_id = $5, examples_count = $6, training_file_id = $7,
			performance_score = $8, is_deployed = $9, metadata = $10
		 WHERE id = $11`,
		nullIfEmpty(job.ProviderJobID), job.StartedAt, job.CompletedAt, string(job.Status),
		job.ModelID, job.ExamplesCount, job.TrainingFileID, job.PerformanceScore,
		job.IsDeployed, metadata, job.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update job")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.FineTuningJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider_job_id, created_at, started_at, completed_at, status,
			model_id, examples_count, training_file_id, performance_score, is_deployed, metadata
		 FROM fine_tuning_jobs WHERE status = $1 ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []model.FineTuningJob
	for rows.Next() {
		var job model.FineTuningJob
		var statusStr string
		var providerJobID *string
		var metadata []byte
		err := rows.Scan(&job.ID, &providerJobID, &job.CreatedAt, &job.StartedAt,
			&job.CompletedAt, &statusStr, &job.ModelID, &job.ExamplesCount,
			&job.TrainingFileID, &job.PerformanceScore, &job.IsDeployed, &metadata)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		job.Status = model.JobStatus(statusStr)
		if providerJobID != nil {
			job.ProviderJobID = *providerJobID
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal job metadata")
			}
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jobs")
}

func (s *PostgresStore) SaveModel(ctx context.Context, m model.ModelInfo) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO models (id, name, type, status, performance_score, accuracy, cost_per_token, created_at, deployed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, status = EXCLUDED.status,
			performance_score = EXCLUDED.performance_score, accuracy = EXCLUDED.accuracy,
			cost_per_token = EXCLUDED.cost_per_token, deployed_at = EXCLUDED.deployed_at`,
		m.ID, m.Name, m.Type, m.Status, m.PerformanceScore, m.Accuracy,
		m.CostPerToken, m.CreatedAt, m.DeployedAt,
	)
	return eris.Wrap(err, "postgres: save model")
}

func (s *PostgresStore) GetDeployedModel(ctx context.Context) (*model.ModelInfo, error) {
	var m model.ModelInfo
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, type, status, performance_score, accuracy, cost_per_token, created_at, deployed_at
		 FROM models WHERE type = 'fine-tuned' AND status = 'active'
		 ORDER BY performance_score DESC, deployed_at DESC LIMIT 1`,
	).Scan(&m.ID, &m.Name, &m.Type, &m.Status, &m.PerformanceScore,
		&m.Accuracy, &m.CostPerToken, &m.CreatedAt, &m.DeployedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get deployed model")
	}
	return &m, nil
}

func (s *PostgresStore) GetBudget(ctx context.Context, month string) (*model.Budget, error) {
	var b model.Budget
	err := s.pool.QueryRow(ctx,
		`SELECT id, month, total_budget, spent, remaining, updated_at
		 FROM fine_tuning_budget WHERE month = $1`, month,
	).Scan(&b.ID, &b.Month, &b.TotalBudget, &b.Spent, &b.Remaining, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get budget")
	}
	return &b, nil
}

// ApplyBudgetSpend atomically records spend against a month, creating the
// row on first use. The upsert keeps concurrent trigger checks from
// double-counting.
func (s *PostgresStore) ApplyBudgetSpend(ctx context.Context, month string, totalBudget, amount float64) (*model.Budget, error) {
	var b model.Budget
	err := s.pool.QueryRow(ctx,
		`INSERT INTO fine_tuning_budget (id, month, total_budget, spent, remaining, updated_at)
		 VALUES ($1, $2, $3, $4, $3 - $4, $5)
		 ON CONFLICT (month) DO UPDATE SET
			spent = fine_tuning_budget.spent + $4,
			remaining = fine_tuning_budget.total_budget - (fine_tuning_budget.spent + $4),
			updated_at = $5
		 RETURNING id, month, total_budget, spent, remaining, updated_at`,
		uuid.New().String(), month, totalBudget, amount, time.Now().UTC(),
	).Scan(&b.ID, &b.Month, &b.TotalBudget, &b.Spent, &b.Remaining, &b.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: apply budget spend")
	}
	return &b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
