package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Api-Key"))

		var req QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 4, req.TopK)
		assert.True(t, req.IncludeMetadata)
		assert.Len(t, req.Vector, 3)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"matches": [
				{"id": "doc-1", "score": 0.92, "metadata": {"text": "Ringworm is a fungal infection.", "source": "vet-handbook"}},
				{"id": "doc-2", "score": 0.81, "metadata": {"chunk_text": "Hot spots are moist dermatitis."}}
			],
			"namespace": ""
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	resp, err := c.Query(context.Background(), QueryRequest{
		Vector:          []float32{0.1, 0.2, 0.3},
		TopK:            4,
		IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "doc-1", resp.Matches[0].ID)
	assert.InDelta(t, 0.92, resp.Matches[0].Score, 1e-9)
	assert.Equal(t, "vet-handbook", resp.Matches[0].Metadata["source"])
}

func TestQuery_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"index unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	_, err := c.Query(context.Background(), QueryRequest{Vector: []float32{0.1}, TopK: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestQuery_InvalidInput(t *testing.T) {
	c := NewClient("test-key", "https://example.invalid")

	_, err := c.Query(context.Background(), QueryRequest{TopK: 4})
	assert.ErrorContains(t, err, "vector is empty")

	_, err = c.Query(context.Background(), QueryRequest{Vector: []float32{0.1}})
	assert.ErrorContains(t, err, "topK")
}
