package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/internal/store"
	"github.com/pawpilot/chat-api/internal/workflow"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Run(ctx context.Context, req workflow.Request) (model.State, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.State), args.Error(1)
}

type mockFeedbackStore struct {
	mock.Mock
}

func (m *mockFeedbackStore) GetInteraction(ctx context.Context, id string) (*model.Interaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Interaction), args.Error(1)
}

func (m *mockFeedbackStore) ListInteractions(ctx context.Context, filter store.InteractionFilter) ([]model.Interaction, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Interaction), args.Error(1)
}

func (m *mockFeedbackStore) UpdateFeedback(ctx context.Context, id string, rating int, comment string) error {
	return m.Called(ctx, id, rating, comment).Error(0)
}

func (m *mockFeedbackStore) AddExample(ctx context.Context, ex model.AccumulatedExample) error {
	return m.Called(ctx, ex).Error(0)
}

func (m *mockFeedbackStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) chatResponse {
	t.Helper()
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestChat_Success(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Run", mock.Anything, mock.MatchedBy(func(req workflow.Request) bool {
		return req.Message == "what is a dog" && req.UserID == "u1"
	})).Return(model.State{FinalOutput: "A dog is a domesticated canine."}, nil)

	srv := New(engine, &mockFeedbackStore{}, "test")
	rec := postJSON(t, srv.Router(), "/chat", map[string]string{
		"message": "what is a dog",
		"user_id": "u1",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeChat(t, rec)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "A dog is a domesticated canine.", resp.Reply)
	engine.AssertExpectations(t)
}

func TestChat_EmptyMessage(t *testing.T) {
	engine := &mockEngine{}
	srv := New(engine, &mockFeedbackStore{}, "test")

	for _, msg := range []string{"", "   ", "\n\t"} {
		rec := postJSON(t, srv.Router(), "/chat", map[string]string{"message": msg})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeChat(t, rec)
		assert.Equal(t, "Please enter a message", resp.Reply)
		assert.Equal(t, "error", resp.Status)
	}
	engine.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestChat_OverLengthMessage(t *testing.T) {
	srv := New(&mockEngine{}, &mockFeedbackStore{}, "test")

	rec := postJSON(t, srv.Router(), "/chat", map[string]string{
		"message": strings.Repeat("a", 5001),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", decodeChat(t, rec).Status)
}

func TestChat_UninitializedEngine(t *testing.T) {
	srv := New(nil, &mockFeedbackStore{}, "test")

	rec := postJSON(t, srv.Router(), "/chat", map[string]string{"message": "hello"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", decodeChat(t, rec).Status)
}

func TestChat_EngineHardFailure(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Run", mock.Anything, mock.Anything).
		Return(model.State{}, assert.AnError)

	srv := New(engine, &mockFeedbackStore{}, "test")
	rec := postJSON(t, srv.Router(), "/chat", map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", decodeChat(t, rec).Status)
}

func TestChat_InvalidBody(t *testing.T) {
	srv := New(&mockEngine{}, &mockFeedbackStore{}, "test")

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedback_RecordsRatingAndExample(t *testing.T) {
	st := &mockFeedbackStore{}
	st.On("GetInteraction", mock.Anything, "int-1").Return(&model.Interaction{
		ID:       "int-1",
		UserID:   "u1",
		PetID:    "p1",
		Query:    "my dog has fleas",
		Response: "Use a vet-approved treatment.",
		Module:   model.ModuleGeneric,
	}, nil)
	st.On("UpdateFeedback", mock.Anything, "int-1", 5, "helped a lot").Return(nil)
	st.On("AddExample", mock.Anything, mock.MatchedBy(func(ex model.AccumulatedExample) bool {
		return ex.UserQuery == "my dog has fleas" && ex.UserRating == 5 && ex.UserID == "u1"
	})).Return(nil)

	srv := New(&mockEngine{}, st, "test")
	rec := postJSON(t, srv.Router(), "/feedback", map[string]any{
		"interaction_id": "int-1",
		"rating":         5,
		"comment":        "helped a lot",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	st.AssertExpectations(t)
}

func TestFeedback_LowRatingSkipsExample(t *testing.T) {
	st := &mockFeedbackStore{}
	st.On("GetInteraction", mock.Anything, "int-1").
		Return(&model.Interaction{ID: "int-1"}, nil)
	st.On("UpdateFeedback", mock.Anything, "int-1", 2, "").Return(nil)

	srv := New(&mockEngine{}, st, "test")
	rec := postJSON(t, srv.Router(), "/feedback", map[string]any{
		"interaction_id": "int-1",
		"rating":         2,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	st.AssertNotCalled(t, "AddExample", mock.Anything, mock.Anything)
}

func TestFeedback_UnknownInteraction(t *testing.T) {
	st := &mockFeedbackStore{}
	st.On("GetInteraction", mock.Anything, "missing").Return(nil, store.ErrNotFound)

	srv := New(&mockEngine{}, st, "test")
	rec := postJSON(t, srv.Router(), "/feedback", map[string]any{
		"interaction_id": "missing",
		"rating":         4,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedback_RatingOutOfRange(t *testing.T) {
	srv := New(&mockEngine{}, &mockFeedbackStore{}, "test")

	rec := postJSON(t, srv.Router(), "/feedback", map[string]any{
		"interaction_id": "int-1",
		"rating":         6,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListInteractions(t *testing.T) {
	st := &mockFeedbackStore{}
	st.On("ListInteractions", mock.Anything, mock.MatchedBy(func(f store.InteractionFilter) bool {
		return f.UserID == "u1" && f.Limit == 10
	})).Return([]model.Interaction{{ID: "int-1"}, {ID: "int-2"}}, nil)

	srv := New(&mockEngine{}, st, "test")
	req := httptest.NewRequest(http.MethodGet, "/interactions?user_id=u1&limit=10", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Interactions []model.Interaction `json:"interactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Interactions, 2)
}

func TestGetInteraction_NotFound(t *testing.T) {
	st := &mockFeedbackStore{}
	st.On("GetInteraction", mock.Anything, "missing").Return(nil, store.ErrNotFound)

	srv := New(&mockEngine{}, st, "test")
	req := httptest.NewRequest(http.MethodGet, "/interactions/missing", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	st := &mockFeedbackStore{}
	st.On("Ping", mock.Anything).Return(nil)

	srv := New(&mockEngine{}, st, "test")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_StoreDown(t *testing.T) {
	st := &mockFeedbackStore{}
	st.On("Ping", mock.Anything).Return(assert.AnError)

	srv := New(&mockEngine{}, st, "test")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {
	srv := New(&mockEngine{}, &mockFeedbackStore{}, "1.2.3")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, true, body["initialized"])
}
