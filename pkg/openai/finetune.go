package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FineTuneClient drives the OpenAI-compatible fine-tuning API: upload a
// training file, start a job, poll its status.
type FineTuneClient interface {
	UploadTrainingFile(ctx context.Context, name string, data []byte) (string, error)
	CreateJob(ctx context.Context, trainingFileID, baseModel string) (string, error)
	GetJob(ctx context.Context, jobID string) (*FineTuneJob, error)
}

// FineTuneJob is the provider's view of one fine-tuning job.
type FineTuneJob struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FineTunedModel string `json:"fine_tuned_model"`
	Error          string `json:"error,omitempty"`
}

type fineTuneHTTPClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewFineTuneClient creates a fine-tuning client against an
// OpenAI-compatible API.
func NewFineTuneClient(apiKey string, opts ...Option) FineTuneClient {
	inner := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(inner)
	}
	return &fineTuneHTTPClient{apiKey: inner.apiKey, baseURL: inner.baseURL, http: inner.http}
}

// UploadTrainingFile uploads a JSONL training file and returns the
// provider-assigned file id.
func (c *fineTuneHTTPClient) UploadTrainingFile(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", eris.New("openai: training file is empty")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "fine-tune"); err != nil {
		return "", eris.Wrap(err, "openai: write purpose field")
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", eris.Wrap(err, "openai: create form file")
	}
	if _, err := fw.Write(data); err != nil {
		return "", eris.Wrap(err, "openai: write form file")
	}
	if err := mw.Close(); err != nil {
		return "", eris.Wrap(err, "openai: close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", eris.Wrap(err, "openai: build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", eris.New("openai: upload response missing file id")
	}
	return out.ID, nil
}

// CreateJob starts a fine-tuning job over a previously uploaded file.
func (c *fineTuneHTTPClient) CreateJob(ctx context.Context, trainingFileID, baseModel string) (string, error) {
	if strings.TrimSpace(trainingFileID) == "" {
		return "", eris.New("openai: training file id is empty")
	}

	body, err := json.Marshal(map[string]string{
		"training_file": trainingFileID,
		"model":         baseModel,
	})
	if err != nil {
		return "", eris.Wrap(err, "openai: marshal job request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fine_tuning/jobs", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "openai: build job request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out FineTuneJob
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", eris.New("openai: job response missing id")
	}
	return out.ID, nil
}

// GetJob fetches the current status of a fine-tuning job.
func (c *fineTuneHTTPClient) GetJob(ctx context.Context, jobID string) (*FineTuneJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, eris.New("openai: job id is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fine_tuning/jobs/"+jobID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "openai: build status request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out FineTuneJob
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *fineTuneHTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "openai: fine-tune request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return eris.Errorf("openai: fine-tune status %d: %s", resp.StatusCode, string(msg))
	}
	return eris.Wrap(json.NewDecoder(resp.Body).Decode(out), "openai: decode fine-tune response")
}
