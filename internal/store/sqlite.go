package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pawpilot/chat-api/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and the one-shot CLI commands.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS interactions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT,
	pet_id           TEXT,
	session_id       TEXT,
	timestamp        DATETIME NOT NULL,
	query            TEXT NOT NULL,
	response         TEXT,
	citations        TEXT,
	module           TEXT,
	model_used       TEXT,
	rag_used         INTEGER NOT NULL DEFAULT 0,
	fine_tuned_model INTEGER NOT NULL DEFAULT 0,
	confidence_score REAL,
	response_quality TEXT,
	cost_usd         REAL NOT NULL DEFAULT 0,
	tokens_generated INTEGER NOT NULL DEFAULT 0,
	tokens_prompt    INTEGER NOT NULL DEFAULT 0,
	timing           TEXT,
	success          INTEGER NOT NULL DEFAULT 0,
	errors           TEXT,
	feedback_rating  INTEGER,
	feedback_comment TEXT
);

CREATE INDEX IF NOT EXISTS idx_interactions_user_id ON interactions(user_id);
CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);

CREATE TABLE IF NOT EXISTS accumulated_examples (
	id          TEXT PRIMARY KEY,
	timestamp   DATETIME NOT NULL,
	user_query  TEXT NOT NULL,
	ai_response TEXT NOT NULL,
	user_rating INTEGER NOT NULL,
	module      TEXT,
	pet_id      TEXT,
	user_id     TEXT,
	feedback    TEXT
);

CREATE TABLE IF NOT EXISTS fine_tuning_jobs (
	id                TEXT PRIMARY KEY,
	provider_job_id   TEXT UNIQUE,
	created_at        DATETIME NOT NULL,
	started_at        DATETIME,
	completed_at      DATETIME,
	status            TEXT NOT NULL DEFAULT 'queued',
	model_id          TEXT,
	examples_count    INTEGER NOT NULL DEFAULT 0,
	training_file_id  TEXT,
	performance_score REAL NOT NULL DEFAULT 0,
	is_deployed       INTEGER NOT NULL DEFAULT 0,
	metadata          TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON fine_tuning_jobs(status);

CREATE TABLE IF NOT EXISTS models (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL,
	performance_score REAL NOT NULL DEFAULT 0,
	accuracy          REAL NOT NULL DEFAULT 0,
	cost_per_token    REAL NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	deployed_at       DATETIME
);

CREATE TABLE IF NOT EXISTS fine_tuning_budget (
	id           TEXT PRIMARY KEY,
	month        TEXT NOT NULL UNIQUE,
	total_budget REAL NOT NULL,
	spent        REAL NOT NULL DEFAULT 0,
	remaining    REAL NOT NULL,
	updated_at   DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveInteraction(ctx context.Context, in model.Interaction) error {
	citations, err := json.Marshal(in.Citations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal citations")
	}
	quality, err := json.Marshal(in.ResponseQuality)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal response quality")
	}
	timing, err := json.Marshal(in.Timing)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal timing")
	}
	errList, err := json.Marshal(in.Errors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal errors")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions (
			id, user_id, pet_id, session_id, timestamp, query, response, citations,
			module, model_used, rag_used, fine_tuned_model, confidence_score,
			response_quality, cost_usd, tokens_generated, tokens_prompt, timing,
			success, errors
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.UserID, in.PetID, in.SessionID, in.Timestamp, in.Query, in.Response,
		string(citations), string(in.Module), in.ModelUsed, in.RAGUsed, in.FineTunedModel,
		in.ConfidenceScore, string(quality), in.CostUSD, in.TokensGenerated,
		in.TokensPrompt, string(timing), in.Success, string(errList),
	)
	return eris.Wrap(err, "sqlite: insert interaction")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteInteraction(row rowScanner) (*model.Interaction, error) {
	var in model.Interaction
	var moduleStr string
	var citations, quality, timing, errList sql.NullString

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
	for _, f := range []struct {
		src  sql.NullString
		dst  any
		name string
	}{
		{citations, &in.Citations, "citations"},
		{quality, &in.ResponseQuality, "response quality"},
		{timing, &in.Timing, "timing"},
		{errList, &in.Errors, "errors"},
	} {
		if f.src.Valid && f.src.String != "" {
			if err := json.Unmarshal([]byte(f.src.String), f.dst); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal %s", f.name)
			}
		}
	}
	return &in, nil
}

func (s *SQLiteStore) GetInteraction(ctx context.Context, id string) (*model.Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectInteractionColumns+` FROM interactions WHERE id = ?`, id)

	in, err := scanSQLiteInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get interaction")
	}
	return in, nil
}

func (s *SQLiteStore) ListInteractions(ctx context.Context, filter InteractionFilter) ([]model.Interaction, error) {
	var conds []string
	var args []any

	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.PetID != "" {
		conds = append(conds, "pet_id = ?")
		args = append(args, filter.PetID)
	}
	if filter.Module != "" {
		conds = append(conds, "module = ?")
		args = append(args, string(filter.Module))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
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
	query += fmt.Sprintf(` LIMIT %d`, limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list interactions")
	}
	defer rows.Close()

	var out []model.Interaction
	for rows.Next() {
		in, err := scanSQLiteInteraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan interaction")
		}
		out = append(out, *in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list interactions")
}

func (s *SQLiteStore) UpdateFeedback(ctx context.Context, id string, rating int, comment string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET feedback_rating = ?, feedback_comment = ? WHERE id = ?`,
		rating, comment, id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update feedback")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddExample(ctx context.Context, ex model.AccumulatedExample) error {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accumulated_examples (id, timestamp, user_query, ai_response, user_rating, module, pet_id, user_id, feedback)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		ex.ID, ex.Timestamp, ex.UserQuery, ex.AIResponse, ex.UserRating,
		string(ex.Module), ex.PetID, ex.UserID, ex.Feedback,
	)
	return eris.Wrap(err, "sqlite: insert example")
}

func (s *SQLiteStore) GetExampleStats(ctx context.Context) (*ExampleStats, error) {
	var stats ExampleStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(user_rating), 0) FROM accumulated_examples`,
	).Scan(&stats.Count, &stats.AvgRating)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: example stats")
	}
	return &stats, nil
}

func (s *SQLiteStore) ListExamples(ctx context.Context, minRating int, limit int) ([]model.AccumulatedExample, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, user_query, ai_response, user_rating, module, pet_id, user_id, feedback
		 FROM accumulated_examples WHERE user_rating >= ? ORDER BY timestamp ASC LIMIT ?`,
		minRating, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list examples")
	}
	defer rows.Close()

	var out []model.AccumulatedExample
	for rows.Next() {
		var ex model.AccumulatedExample
		var moduleStr string
		err := rows.Scan(&ex.ID, &ex.Timestamp, &ex.UserQuery, &ex.AIResponse,
			&ex.UserRating, &moduleStr, &ex.PetID, &ex.UserID, &ex.Feedback)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan example")
		}
		ex.Module = model.ModuleTag(moduleStr)
		out = append(out, ex)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list examples")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job model.FineTuningJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fine_tuning_jobs (
			id, provider_job_id, created_at, started_at, completed_at, status,
			model_id, examples_count, training_file_id, performance_score, is_deployed, metadata
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, nullIfEmpty(job.ProviderJobID), job.CreatedAt, job.StartedAt, job.CompletedAt,
		string(job.Status), job.ModelID, job.ExamplesCount, job.TrainingFileID,
		job.PerformanceScore, job.IsDeployed, string(metadata),
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job model.FineTuningJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job metadata")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE fine_tuning_jobs SET
			provider_job_id = ?, started_at = ?, completed_at = ?, status = ?,
			model_id = ?, examples_count = ?, training_file_id = ?,
			performance_score = ?, is_deployed = ?, metadata = ?
		 WHERE id = ?`,
		nullIfEmpty(job.ProviderJobID), job.StartedAt, job.CompletedAt, string(job.Status),
		job.ModelID, job.ExamplesCount, job.TrainingFileID, job.PerformanceScore,
		job.IsDeployed, string(metadata), job.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.FineTuningJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_job_id, created_at, started_at, completed_at, status,
			model_id, examples_count, training_file_id, performance_score, is_deployed, metadata
		 FROM fine_tuning_jobs WHERE status = ? ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var out []model.FineTuningJob
	for rows.Next() {
		var job model.FineTuningJob
		var statusStr string
		var providerJobID, metadata sql.NullString
		err := rows.Scan(&job.ID, &providerJobID, &job.CreatedAt, &job.StartedAt,
			&job.CompletedAt, &statusStr, &job.ModelID, &job.ExamplesCount,
			&job.TrainingFileID, &job.PerformanceScore, &job.IsDeployed, &metadata)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		job.Status = model.JobStatus(statusStr)
		job.ProviderJobID = providerJobID.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &job.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal job metadata")
			}
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jobs")
}

func (s *SQLiteStore) SaveModel(ctx context.Context, m model.ModelInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (id, name, type, status, performance_score, accuracy, cost_per_token, created_at, deployed_at)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, type = excluded.type, status = excluded.status,
			performance_score = excluded.performance_score, accuracy = excluded.accuracy,
			cost_per_token = excluded.cost_per_token, deployed_at = excluded.deployed_at`,
		m.ID, m.Name, m.Type, m.Status, m.PerformanceScore, m.Accuracy,
		m.CostPerToken, m.CreatedAt, m.DeployedAt,
	)
	return eris.Wrap(err, "sqlite: save model")
}

func (s *SQLiteStore) GetDeployedModel(ctx context.Context) (*model.ModelInfo, error) {
	var m model.ModelInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, status, performance_score, accuracy, cost_per_token, created_at, deployed_at
		 FROM models WHERE type = 'fine-tuned' AND status = 'active'
		 ORDER BY performance_score DESC, deployed_at DESC LIMIT 1`,
	).Scan(&m.ID, &m.Name, &m.Type, &m.Status, &m.PerformanceScore,
		&m.Accuracy, &m.CostPerToken, &m.CreatedAt, &m.DeployedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get deployed model")
	}
	return &m, nil
}

func (s *SQLiteStore) GetBudget(ctx context.Context, month string) (*model.Budget, error) {
	var b model.Budget
	err := s.db.QueryRowContext(ctx,
		`SELECT id, month, total_budget, spent, remaining, updated_at
		 FROM fine_tuning_budget WHERE month = ?`, month,
	).Scan(&b.ID, &b.Month, &b.TotalBudget, &b.Spent, &b.Remaining, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get budget")
	}
	return &b, nil
}

func (s *SQLiteStore) ApplyBudgetSpend(ctx context.Context, month string, totalBudget, amount float64) (*model.Budget, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fine_tuning_budget (id, month, total_budget, spent, remaining, updated_at)
		 VALUES (?, ?, ?, ?, ? - ?, ?)
		 ON CONFLICT (month) DO UPDATE SET
			spent = fine_tuning_budget.spent + excluded.spent,
			remaining = fine_tuning_budget.total_budget - (fine_tuning_budget.spent + excluded.spent),
			updated_at = excluded.updated_at`,
		uuid.New().String(), month, totalBudget, amount, totalBudget, amount, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: apply budget spend")
	}
	return s.GetBudget(ctx, month)
}
