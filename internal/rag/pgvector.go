package rag

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"

	"github.com/pawpilot/chat-api/internal/model"
)

// PgvectorSearcher runs nearest-neighbor search against a local pgvector
// table instead of a hosted index. The table needs (text TEXT, source
// TEXT, embedding vector) columns and a cosine HNSW index.
type PgvectorSearcher struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgvectorSearcher creates a Searcher over the given passages table.
func NewPgvectorSearcher(pool *pgxpool.Pool, table string) *PgvectorSearcher {
	if table == "" {
		table = "passages"
	}
	return &PgvectorSearcher{pool: pool, table: table}
}

func (s *PgvectorSearcher) Search(ctx context.Context, vector []float32, topK int) ([]model.RetrievedDoc, error) {
	query := fmt.Sprintf(
		`SELECT text, COALESCE(source, 'unknown'), 1 - (embedding <=> $1) AS similarity
		 FROM %s
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		s.table,
	)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, eris.Wrap(err, "pgvector: search")
	}
	defer rows.Close()

	var docs []model.RetrievedDoc
	for rows.Next() {
		var d model.RetrievedDoc
		if err := rows.Scan(&d.Text, &d.Source, &d.Score); err != nil {
			return nil, eris.Wrap(err, "pgvector: scan row")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "pgvector: iterate rows")
}

// MigratePgvector creates the passages table and its HNSW index. Safe to
// run repeatedly.
func MigratePgvector(ctx context.Context, pool *pgxpool.Pool, table string, dims int) error {
	if table == "" {
		table = "passages"
	}
	if dims <= 0 {
		dims = 1536
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
			text      TEXT NOT NULL,
			source    TEXT,
			embedding vector(%d) NOT NULL
		)`, table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding_hnsw ON %s
			USING hnsw (embedding vector_cosine_ops) WITH (m=16, ef_construction=64)`, table, table),
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "pgvector: migrate")
		}
	}
	return nil
}
