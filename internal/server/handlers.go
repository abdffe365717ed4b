package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/internal/store"
	"github.com/pawpilot/chat-api/internal/workflow"
)

const maxBodySize = 1 << 20 // 1MB

type chatRequest struct {
	Message   string           `json:"message" validate:"required,max=5000"`
	UserID    string           `json:"user_id"`
	PetID     string           `json:"pet_id"`
	SessionID string           `json:"session_id"`
	Module    string           `json:"module"`
	Profile   model.PetProfile `json:"profile"`
}

type chatResponse struct {
	Reply  string `json:"reply"`
	Status string `json:"status"`
}

type feedbackRequest struct {
	InteractionID string `json:"interaction_id" validate:"required"`
	Rating        int    `json:"rating" validate:"required,min=1,max=5"`
	Comment       string `json:"comment" validate:"max=2000"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeChatError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeChatError(w, http.StatusBadRequest, "Please enter a message")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeChatError(w, http.StatusBadRequest, "Message must be between 1 and 5000 characters")
		return
	}

	if s.engine == nil {
		writeChatError(w, http.StatusInternalServerError, "Chat service is not initialized. Check server logs.")
		return
	}

	st, err := s.engine.Run(r.Context(), workflow.Request{
		Message:   req.Message,
		UserID:    req.UserID,
		PetID:     req.PetID,
		SessionID: req.SessionID,
		Module:    model.ModuleTag(req.Module),
		Profile:   req.Profile,
	})
	if err != nil {
		zap.L().Error("chat request failed with no fallback", zap.Error(err))
		writeChatError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Reply: st.FinalOutput, Status: "success"})
}

// handleFeedback records a star rating against a past interaction and, for
// positive feedback, accumulates the exchange as a training example.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "interaction_id and a rating of 1-5 are required")
		return
	}

	ctx := r.Context()
	in, err := s.store.GetInteraction(ctx, req.InteractionID)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Interaction not found")
		return
	}
	if err != nil {
		zap.L().Error("feedback lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not record feedback")
		return
	}

	if err := s.store.UpdateFeedback(ctx, req.InteractionID, req.Rating, req.Comment); err != nil {
		zap.L().Error("feedback update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not record feedback")
		return
	}

	if req.Rating >= 4 {
		err := s.store.AddExample(ctx, model.AccumulatedExample{
			Timestamp:  time.Now().UTC(),
			UserQuery:  in.Query,
			AIResponse: in.Response,
			UserRating: req.Rating,
			Module:     in.Module,
			PetID:      in.PetID,
			UserID:     in.UserID,
			Feedback:   req.Comment,
		})
		if err != nil {
			// The rating is already stored; losing one training example is
			// not worth failing the request.
			zap.L().Warn("failed to accumulate training example", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InteractionFilter{
		UserID: q.Get("user_id"),
		PetID:  q.Get("pet_id"),
		Module: model.ModuleTag(q.Get("module")),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	list, err := s.store.ListInteractions(r.Context(), filter)
	if err != nil {
		zap.L().Error("list interactions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not list interactions")
		return
	}
	if list == nil {
		list = []model.Interaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": list})
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := s.store.GetInteraction(r.Context(), id)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Interaction not found")
		return
	}
	if err != nil {
		zap.L().Error("get interaction failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not load interaction")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"store":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"initialized":    s.engine != nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// writeChatError uses the chat payload shape so clients can always read
// reply/status.
func writeChatError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, chatResponse{Reply: msg, Status: "error"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
