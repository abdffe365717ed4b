package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadTrainingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "fine-tune", r.FormValue("purpose"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "train.jsonl", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "file-123"})
	}))
	defer srv.Close()

	c := NewFineTuneClient("test-key", WithBaseURL(srv.URL))

	id, err := c.UploadTrainingFile(context.Background(), "train.jsonl", []byte(`{"messages":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "file-123", id)
}

func TestUploadTrainingFileEmpty(t *testing.T) {
	c := NewFineTuneClient("test-key")

	_, err := c.UploadTrainingFile(context.Background(), "train.jsonl", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training file is empty")
}

func TestCreateJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fine_tuning/jobs", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "file-123", req["training_file"])
		assert.Equal(t, "base-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(FineTuneJob{ID: "ftjob-abc", Status: "queued"})
	}))
	defer srv.Close()

	c := NewFineTuneClient("test-key", WithBaseURL(srv.URL))

	id, err := c.CreateJob(context.Background(), "file-123", "base-model")
	require.NoError(t, err)
	assert.Equal(t, "ftjob-abc", id)
}

func TestCreateJobBlankFileID(t *testing.T) {
	c := NewFineTuneClient("test-key")

	_, err := c.CreateJob(context.Background(), "  ", "base-model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training file id is empty")
}

func TestGetJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/fine_tuning/jobs/ftjob-abc", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(FineTuneJob{
			ID:             "ftjob-abc",
			Status:         "succeeded",
			FineTunedModel: "ft:base-model:custom",
		})
	}))
	defer srv.Close()

	c := NewFineTuneClient("test-key", WithBaseURL(srv.URL))

	job, err := c.GetJob(context.Background(), "ftjob-abc")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", job.Status)
	assert.Equal(t, "ft:base-model:custom", job.FineTunedModel)
}

func TestGetJobServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewFineTuneClient("test-key", WithBaseURL(srv.URL))

	_, err := c.GetJob(context.Background(), "ftjob-abc")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "status 502"))
}
