package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/cost"
	"github.com/pawpilot/chat-api/internal/finetune"
	"github.com/pawpilot/chat-api/internal/prompt"
	"github.com/pawpilot/chat-api/internal/rag"
	"github.com/pawpilot/chat-api/internal/store"
	"github.com/pawpilot/chat-api/internal/workflow"
	"github.com/pawpilot/chat-api/pkg/anthropic"
	"github.com/pawpilot/chat-api/pkg/openai"
	"github.com/pawpilot/chat-api/pkg/pinecone"
)

// appEnv holds the initialized store, clients, and engine shared by the
// serve/chat/interactions commands.
type appEnv struct {
	Store    store.Store
	Engine   *workflow.Engine
	FineTune openai.FineTuneClient
}

// Close releases resources held by the environment.
func (ae *appEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("cmd: store.database_url is required for the postgres driver")
		}
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		zap.L().Info("using postgres store")
		return st, nil
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		zap.L().Info("using sqlite store", zap.String("path", cfg.Store.SQLitePath))
		return st, nil
	default:
		return nil, eris.Errorf("cmd: unknown store driver %q", cfg.Store.Driver)
	}
}

// initSearcher builds the vector search backend for the retrieval stage.
func initSearcher(st store.Store) (rag.Searcher, error) {
	switch cfg.Retriever.Backend {
	case "pinecone":
		if cfg.Pinecone.Key == "" || cfg.Pinecone.IndexURL == "" {
			return nil, eris.New("cmd: pinecone.key and pinecone.index_url are required for the pinecone backend")
		}
		pc := pinecone.NewClient(cfg.Pinecone.Key, cfg.Pinecone.IndexURL)
		return rag.NewPineconeSearcher(pc), nil
	case "pgvector":
		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, eris.New("cmd: the pgvector backend requires the postgres store driver")
		}
		pool, ok := ps.Pool().(*pgxpool.Pool)
		if !ok {
			return nil, eris.New("cmd: pgvector backend needs a real connection pool")
		}
		return rag.NewPgvectorSearcher(pool, cfg.Retriever.Table), nil
	default:
		return nil, eris.Errorf("cmd: unknown retriever backend %q", cfg.Retriever.Backend)
	}
}

// initEnv sets up the store, API clients, and the workflow engine.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "cmd: migrate store")
	}

	searcher, err := initSearcher(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	embedOpts := []openai.Option{
		openai.WithModel(cfg.OpenAI.EmbeddingModel),
		openai.WithRateLimit(cfg.OpenAI.RequestsPerSecond),
	}
	if cfg.OpenAI.BaseURL != "" {
		embedOpts = append(embedOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	embedder := openai.NewClient(cfg.OpenAI.Key, embedOpts...)
	retriever := rag.NewRetriever(embedder, searcher, cfg.Retriever.TopK)

	templates, err := prompt.LoadTemplates(cfg.Prompt.TemplatePath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	builder := prompt.NewBuilder(templates)

	completer := anthropic.NewClient(cfg.Anthropic.Key)
	calc := cost.NewCalculator(cfg.Pricing)

	trigger := finetune.NewTrigger(st, finetune.Policy{
		MinExamples:      cfg.FineTune.MinExamples,
		MinAvgRating:     cfg.FineTune.MinAvgRating,
		JobCostUSD:       cfg.FineTune.JobCostUSD,
		MonthlyBudgetUSD: cfg.FineTune.MonthlyBudgetUSD,
	})

	engine := workflow.NewEngine(retriever, builder, completer, st, st, trigger, calc, workflow.Config{
		BaseModel: cfg.Anthropic.BaseModel,
		MaxTokens: int64(cfg.Anthropic.MaxTokens),
	})

	var ftOpts []openai.Option
	if cfg.OpenAI.BaseURL != "" {
		ftOpts = append(ftOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	ftClient := openai.NewFineTuneClient(cfg.OpenAI.Key, ftOpts...)

	return &appEnv{
		Store:    st,
		Engine:   engine,
		FineTune: ftClient,
	}, nil
}
