package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/pkg/openai"
	"github.com/pawpilot/chat-api/pkg/pinecone"
)

// --- Embedder mock ---

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (*openai.EmbeddingResult, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.EmbeddingResult), args.Error(1)
}

// --- Searcher mock ---

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, vector []float32, topK int) ([]model.RetrievedDoc, error) {
	args := m.Called(ctx, vector, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RetrievedDoc), args.Error(1)
}

// --- Pinecone client mock ---

type mockPineconeClient struct {
	mock.Mock
}

func (m *mockPineconeClient) Query(ctx context.Context, req pinecone.QueryRequest) (*pinecone.QueryResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pinecone.QueryResponse), args.Error(1)
}

func TestRetrieve(t *testing.T) {
	embedder := &mockEmbedder{}
	searcher := &mockSearcher{}

	vec := []float32{0.1, 0.2}
	docs := []model.RetrievedDoc{
		{Text: "first passage", Score: 0.9, Source: "handbook"},
		{Text: "second passage", Score: 0.7, Source: "wiki"},
	}

	embedder.On("Embed", mock.Anything, "dog skin infection").
		Return(&openai.EmbeddingResult{Vector: vec, PromptTokens: 4}, nil)
	searcher.On("Search", mock.Anything, vec, 4).Return(docs, nil)

	r := NewRetriever(embedder, searcher, 4)
	got, contextStr, err := r.Retrieve(context.Background(), "dog skin infection")
	require.NoError(t, err)
	assert.Equal(t, docs, got)
	assert.Equal(t, "first passage\n---\nsecond passage", contextStr)
	embedder.AssertExpectations(t)
	searcher.AssertExpectations(t)
}

func TestRetrieve_EmbedError(t *testing.T) {
	embedder := &mockEmbedder{}
	embedder.On("Embed", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	r := NewRetriever(embedder, &mockSearcher{}, 4)
	_, _, err := r.Retrieve(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed query")
}

func TestRetrieve_SearchError(t *testing.T) {
	embedder := &mockEmbedder{}
	searcher := &mockSearcher{}
	embedder.On("Embed", mock.Anything, mock.Anything).
		Return(&openai.EmbeddingResult{Vector: []float32{0.5}}, nil)
	searcher.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError)

	r := NewRetriever(embedder, searcher, 4)
	_, _, err := r.Retrieve(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector search")
}

func TestNewRetriever_TopKDefault(t *testing.T) {
	embedder := &mockEmbedder{}
	searcher := &mockSearcher{}
	embedder.On("Embed", mock.Anything, mock.Anything).
		Return(&openai.EmbeddingResult{Vector: []float32{1}}, nil)
	searcher.On("Search", mock.Anything, mock.Anything, 4).Return([]model.RetrievedDoc{}, nil)

	r := NewRetriever(embedder, searcher, 0)
	_, _, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)
	searcher.AssertCalled(t, "Search", mock.Anything, mock.Anything, 4)
}

func TestJoinContext(t *testing.T) {
	assert.Empty(t, JoinContext(nil))
	assert.Equal(t, "only", JoinContext([]model.RetrievedDoc{{Text: "only"}}))
	assert.Equal(t, "a\n---\nb\n---\nc", JoinContext([]model.RetrievedDoc{
		{Text: "a"}, {Text: "b"}, {Text: "c"},
	}))
}

func TestPineconeSearcher_MetadataFallback(t *testing.T) {
	client := &mockPineconeClient{}
	client.On("Query", mock.Anything, mock.Anything).Return(&pinecone.QueryResponse{
		Matches: []pinecone.Match{
			{ID: "1", Score: 0.95, Metadata: map[string]any{"text": "from text", "source": "kb"}},
			{ID: "2", Score: 0.85, Metadata: map[string]any{"chunk_text": "from chunk_text"}},
			{ID: "3", Score: 0.75, Metadata: map[string]any{"content": "from content"}},
			{ID: "4", Score: 0.65, Metadata: map[string]any{"irrelevant": 42}},
		},
	}, nil)

	s := NewPineconeSearcher(client)
	docs, err := s.Search(context.Background(), []float32{0.1}, 4)
	require.NoError(t, err)
	require.Len(t, docs, 4)

	assert.Equal(t, "from text", docs[0].Text)
	assert.Equal(t, "kb", docs[0].Source)
	assert.Equal(t, "from chunk_text", docs[1].Text)
	assert.Equal(t, "unknown", docs[1].Source)
	assert.Equal(t, "from content", docs[2].Text)
	assert.Empty(t, docs[3].Text)
	assert.Equal(t, "unknown", docs[3].Source)
}

func TestPineconeSearcher_PreservesOrder(t *testing.T) {
	client := &mockPineconeClient{}
	client.On("Query", mock.Anything, mock.Anything).Return(&pinecone.QueryResponse{
		Matches: []pinecone.Match{
			{ID: "a", Score: 0.9, Metadata: map[string]any{"text": "first"}},
			{ID: "b", Score: 0.8, Metadata: map[string]any{"text": "second"}},
		},
	}, nil)

	s := NewPineconeSearcher(client)
	docs, err := s.Search(context.Background(), []float32{0.1}, 2)
	require.NoError(t, err)
	assert.Equal(t, "first", docs[0].Text)
	assert.Equal(t, "second", docs[1].Text)
}
