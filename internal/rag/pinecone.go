package rag

import (
	"context"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/pkg/pinecone"
)

// PineconeSearcher adapts a pinecone index to the Searcher interface.
type PineconeSearcher struct {
	client pinecone.Client
}

// NewPineconeSearcher wraps client as a Searcher.
func NewPineconeSearcher(client pinecone.Client) *PineconeSearcher {
	return &PineconeSearcher{client: client}
}

func (s *PineconeSearcher) Search(ctx context.Context, vector []float32, topK int) ([]model.RetrievedDoc, error) {
	resp, err := s.client.Query(ctx, pinecone.QueryRequest{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}

	docs := make([]model.RetrievedDoc, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		docs = append(docs, model.RetrievedDoc{
			Text:   textFromMetadata(m.Metadata),
			Score:  m.Score,
			Source: sourceFromMetadata(m.Metadata),
		})
	}
	return docs, nil
}

// textFromMetadata extracts the passage text from whichever metadata field
// the ingestion pipeline populated. Indexes built at different times used
// different keys.
func textFromMetadata(md map[string]any) string {
	for _, key := range []string{"text", "chunk_text", "content"} {
		if v, ok := md[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func sourceFromMetadata(md map[string]any) string {
	if v, ok := md["source"].(string); ok && v != "" {
		return v
	}
	return "unknown"
}
