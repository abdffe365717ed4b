// Package server exposes the chat workflow over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/internal/store"
	"github.com/pawpilot/chat-api/internal/workflow"
)

// Engine is the workflow entry point the server drives.
type Engine interface {
	Run(ctx context.Context, req workflow.Request) (model.State, error)
}

// FeedbackStore is the slice of persistence the feedback and listing
// endpoints use.
type FeedbackStore interface {
	GetInteraction(ctx context.Context, id string) (*model.Interaction, error)
	ListInteractions(ctx context.Context, filter store.InteractionFilter) ([]model.Interaction, error)
	UpdateFeedback(ctx context.Context, id string, rating int, comment string) error
	AddExample(ctx context.Context, ex model.AccumulatedExample) error
	Ping(ctx context.Context) error
}

// Server holds the HTTP surface and its collaborators.
type Server struct {
	engine   Engine
	store    FeedbackStore
	validate *validator.Validate
	started  time.Time
	version  string
}

// New builds a Server. engine may be nil when startup wiring failed; the
// chat endpoint then answers 500 until the process is restarted.
func New(engine Engine, st FeedbackStore, version string) *Server {
	return &Server{
		engine:   engine,
		store:    st,
		validate: validator.New(),
		started:  time.Now(),
		version:  version,
	}
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Post("/chat", s.handleChat)
	r.Post("/feedback", s.handleFeedback)
	r.Get("/interactions", s.handleListInteractions)
	r.Get("/interactions/{id}", s.handleGetInteraction)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
