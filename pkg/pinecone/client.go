package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client queries a Pinecone-style vector index for nearest neighbors.
type Client interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}

// QueryRequest is the body for POST /query.
type QueryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	Namespace       string    `json:"namespace,omitempty"`
}

// QueryResponse is the response from POST /query. Matches are ordered by
// descending similarity score.
type QueryResponse struct {
	Matches   []Match `json:"matches"`
	Namespace string  `json:"namespace"`
}

// Match is one retrieved vector with its stored metadata.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey   string
	indexURL string
	http     *http.Client
}

// NewClient creates a vector index client. indexURL is the index host,
// e.g. "https://pet-db-abc123.svc.us-east-1.pinecone.io".
func NewClient(apiKey, indexURL string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		indexURL: strings.TrimSuffix(indexURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if len(req.Vector) == 0 {
		return nil, eris.New("pinecone: query vector is empty")
	}
	if req.TopK <= 0 {
		return nil, eris.New("pinecone: topK must be positive")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "pinecone: marshal query")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.indexURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "pinecone: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "pinecone: query request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, eris.Errorf("pinecone: query status %d: %s", resp.StatusCode, string(msg))
	}

	var qr QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, eris.Wrap(err, "pinecone: decode response")
	}
	return &qr, nil
}
