package rag

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/pkg/openai"
)

// ContextSeparator joins retrieved passages into the context string.
const ContextSeparator = "\n---\n"

// Embedder turns query text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (*openai.EmbeddingResult, error)
}

// Searcher returns the passages nearest to a query vector, ordered by
// descending similarity.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]model.RetrievedDoc, error)
}

// Retriever runs the embed-then-search half of the RAG pipeline.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	topK     int
}

// NewRetriever creates a Retriever. topK values below 1 fall back to 4.
func NewRetriever(embedder Embedder, searcher Searcher, topK int) *Retriever {
	if topK < 1 {
		topK = 4
	}
	return &Retriever{embedder: embedder, searcher: searcher, topK: topK}
}

// Retrieve embeds the query, searches the vector index, and returns the
// retrieved docs along with the assembled context string.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]model.RetrievedDoc, string, error) {
	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, "", eris.Wrap(err, "rag: embed query")
	}

	docs, err := r.searcher.Search(ctx, emb.Vector, r.topK)
	if err != nil {
		return nil, "", eris.Wrap(err, "rag: vector search")
	}

	zap.L().Debug("rag: retrieval complete",
		zap.Int("docs", len(docs)),
		zap.Int("top_k", r.topK),
		zap.Int("embedding_tokens", emb.PromptTokens),
	)

	return docs, JoinContext(docs), nil
}

// JoinContext concatenates retrieved passage texts in retrieval order.
func JoinContext(docs []model.RetrievedDoc) string {
	if len(docs) == 0 {
		return ""
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	return strings.Join(texts, ContextSeparator)
}
