// Package workflow runs the eight-stage chat pipeline: input processing,
// routing, optional retrieval, prompt construction, inference, validation,
// logging, and the fine-tuning trigger check.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/cost"
	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/internal/prompt"
	"github.com/pawpilot/chat-api/internal/rag"
	"github.com/pawpilot/chat-api/internal/store"
	"github.com/pawpilot/chat-api/pkg/anthropic"
)

// MaxQueryLen is the hard cap on query length. Longer queries are
// truncated, not rejected.
const MaxQueryLen = 2000

// Outcome classifies how a stage finished.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFatal    Outcome = "fatal"
	OutcomeSkipped  Outcome = "skipped"
)

// Retriever fetches passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]model.RetrievedDoc, string, error)
}

// PromptBuilder renders the final prompt for a module.
type PromptBuilder interface {
	Build(module model.ModuleTag, in prompt.Input) (string, error)
}

// ModelSource resolves the currently deployed fine-tuned model, if any.
type ModelSource interface {
	GetDeployedModel(ctx context.Context) (*model.ModelInfo, error)
}

// InteractionStore persists the final per-request log row.
type InteractionStore interface {
	SaveInteraction(ctx context.Context, in model.Interaction) error
}

// TriggerChecker evaluates the fine-tuning trigger after each request.
type TriggerChecker interface {
	Check(ctx context.Context) (*model.FineTuningJob, error)
}

// Request is one incoming chat message plus its routing context.
type Request struct {
	Message   string
	UserID    string
	PetID     string
	SessionID string
	Module    model.ModuleTag
	Profile   model.PetProfile
}

// Engine executes the workflow. Stages receive the state by value and
// return an updated copy; every stage is total and a failure degrades the
// state instead of aborting the run.
type Engine struct {
	retriever    Retriever
	builder      PromptBuilder
	completer    anthropic.Client
	models       ModelSource
	interactions InteractionStore
	trigger      TriggerChecker
	calc         *cost.Calculator

	baseModel string
	maxTokens int64
	now       func() time.Time
}

// Config carries the engine's fixed parameters.
type Config struct {
	BaseModel string
	MaxTokens int64
}

// NewEngine wires the engine. All collaborators are required except
// trigger and models, which may be nil to disable fine-tuned routing and
// the trigger check.
func NewEngine(
	retriever Retriever,
	builder PromptBuilder,
	completer anthropic.Client,
	models ModelSource,
	interactions InteractionStore,
	trigger TriggerChecker,
	calc *cost.Calculator,
	cfg Config,
) *Engine {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Engine{
		retriever:    retriever,
		builder:      builder,
		completer:    completer,
		models:       models,
		interactions: interactions,
		trigger:      trigger,
		calc:         calc,
		baseModel:    cfg.BaseModel,
		maxTokens:    maxTokens,
		now:          time.Now,
	}
}

// Run executes one full pass. It always returns a state with FinalOutput
// set; the returned error is non-nil only when even the fallback path
// could not produce output.
func (e *Engine) Run(ctx context.Context, req Request) (model.State, error) {
	st := model.State{
		Query:     req.Message,
		UserID:    req.UserID,
		PetID:     req.PetID,
		SessionID: req.SessionID,
		Module:    req.Module,
		StartTime: e.now().UTC(),
		Errors:    []string{},
	}
	if st.Module == "" {
		st.Module = model.ModuleGeneric
	}

	log := zap.L().With(
		zap.String("user_id", st.UserID),
		zap.String("session_id", st.SessionID),
	)
	log.Info("workflow: starting", zap.Int("query_len", len(st.Query)))

	type stage struct {
		name string
		fn   func(context.Context, model.State) (model.State, Outcome)
	}

	fatal := false
	for _, s := range []stage{
		{"input_processing", e.inputProcessing},
		{"decision_router", e.decisionRouter},
		{"rag_retrieval", e.ragRetrieval},
		{"prompt_engineering", e.promptEngineering(req.Profile)},
		{"model_inference", e.modelInference},
		{"response_validation", e.responseValidation},
		{"logging", e.logInteraction},
		{"fine_tuning_check", e.fineTuningCheck},
	} {
		// A fatal input error skips everything except logging and the
		// trigger check, so a record of the failed request still lands in
		// the store.
		if fatal && s.name != "logging" && s.name != "fine_tuning_check" {
			continue
		}

		start := e.now()
		var outcome Outcome
		st, outcome = s.fn(ctx, st)
		log.Debug("workflow: stage finished",
			zap.String("stage", s.name),
			zap.String("outcome", string(outcome)),
			zap.Duration("duration", e.now().Sub(start)),
		)
		if outcome == OutcomeFatal {
			fatal = true
		}
	}

	if st.FinalOutput == "" {
		return st, eris.New("workflow: no output produced")
	}

	log.Info("workflow: finished",
		zap.String("strategy", string(st.Strategy)),
		zap.Bool("rag_used", st.UseRAG),
		zap.Bool("success", st.Success()),
		zap.Float64("total_time", st.Timing.TotalSeconds),
	)
	return st, nil
}

// inputProcessing validates and normalizes the raw query. Empty input is
// the only fatal condition in the pipeline; over-length input is truncated
// and the run continues.
func (e *Engine) inputProcessing(_ context.Context, st model.State) (model.State, Outcome) {
	if strings.TrimSpace(st.Query) == "" {
		st.Strategy = model.StrategyError
		st.Errors = append(st.Errors, "Input error: empty query")
		st.FinalOutput = "Please enter a message"
		return st, OutcomeFatal
	}

	if runes := []rune(st.Query); len(runes) > MaxQueryLen {
		st.Query = string(runes[:MaxQueryLen])
		st.Errors = append(st.Errors, fmt.Sprintf("Input warning: query truncated to %d characters", MaxQueryLen))
		return st, OutcomeDegraded
	}
	return st, OutcomeOK
}

// decisionRouter fixes the retrieval flag, execution strategy, and model
// identifier. A deployed fine-tuned model is used only when its recorded
// performance score is at least 0.9; anything else resolves to the base
// model.
func (e *Engine) decisionRouter(ctx context.Context, st model.State) (model.State, Outcome) {
	st.UseRAG = rag.ShouldRetrieve(st.Query)
	if st.UseRAG {
		st.Strategy = model.StrategyRAG
	} else {
		st.Strategy = model.StrategyPromptOnly
	}

	st.ModelToUse = e.baseModel
	if e.models != nil {
		ft, err := e.models.GetDeployedModel(ctx)
		switch {
		case err == nil && ft.PerformanceScore >= 0.9:
			st.ModelToUse = ft.ID
			st.FineTunedModel = true
			zap.L().Info("workflow: routing to fine-tuned model",
				zap.String("model", ft.ID),
				zap.Float64("score", ft.PerformanceScore))
		case err != nil && !eris.Is(err, store.ErrNotFound):
			zap.L().Warn("workflow: fine-tuned model lookup failed, using base model", zap.Error(err))
		}
	}
	return st, OutcomeOK
}

// ragRetrieval fetches context passages when the router asked for them.
// On failure the request continues without context.
func (e *Engine) ragRetrieval(ctx context.Context, st model.State) (model.State, Outcome) {
	if !st.UseRAG {
		st.RetrievedDocs = nil
		st.Context = ""
		return st, OutcomeSkipped
	}

	start := e.now()
	docs, contextStr, err := e.retriever.Retrieve(ctx, st.Query)
	st.Timing.RAGSeconds = e.now().Sub(start).Seconds()
	if err != nil {
		st.Errors = append(st.Errors, "RAG error: "+err.Error())
		st.RetrievedDocs = nil
		st.Context = ""
		st.UseRAG = false
		return st, OutcomeDegraded
	}

	st.RetrievedDocs = docs
	st.Context = contextStr
	zap.L().Debug("workflow: retrieved documents",
		zap.Int("count", len(docs)),
		zap.Float64("rag_time", st.Timing.RAGSeconds))
	return st, OutcomeOK
}

// promptEngineering renders the module prompt. An unknown module is a
// configuration error; the stage records it and leaves the prompt empty so
// inference falls back.
func (e *Engine) promptEngineering(profile model.PetProfile) func(context.Context, model.State) (model.State, Outcome) {
	return func(_ context.Context, st model.State) (model.State, Outcome) {
		p, err := e.builder.Build(st.Module, prompt.Input{
			Query:   st.Query,
			Profile: profile,
			Context: st.Context,
		})
		if err != nil {
			st.Errors = append(st.Errors, "Prompt error: "+err.Error())
			st.FinalPrompt = ""
			return st, OutcomeDegraded
		}
		st.FinalPrompt = p
		return st, OutcomeOK
	}
}

// modelInference calls the completion provider once. There is no retry: a
// failed call produces a fallback response echoing the query and the error,
// with zeroed token and cost metrics.
func (e *Engine) modelInference(ctx context.Context, st model.State) (model.State, Outcome) {
	if st.FinalPrompt == "" {
		return e.inferenceFallback(st, eris.New("no prompt available")), OutcomeDegraded
	}

	start := e.now()
	resp, err := e.completer.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     st.ModelToUse,
		MaxTokens: e.maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: st.FinalPrompt}},
	})
	st.Timing.InferenceSeconds = e.now().Sub(start).Seconds()
	if err != nil {
		return e.inferenceFallback(st, err), OutcomeDegraded
	}

	st.RawResponse = resp.Text
	st.TokensPrompt = int(resp.Usage.InputTokens)
	st.TokensGenerated = int(resp.Usage.OutputTokens)
	if e.calc != nil {
		st.CostUSD = e.calc.Completion(st.ModelToUse, st.TokensPrompt, st.TokensGenerated)
	}
	return st, OutcomeOK
}

func (e *Engine) inferenceFallback(st model.State, cause error) model.State {
	st.Errors = append(st.Errors, "Inference error: "+cause.Error())
	st.RawResponse = fmt.Sprintf(
		"I wasn't able to answer %q right now (%s). Please try again in a moment.",
		st.Query, cause.Error(),
	)
	st.TokensPrompt = 0
	st.TokensGenerated = 0
	st.CostUSD = 0
	st.FallbackUsed = true
	return st
}

// responseValidation normalizes the raw completion, extracts citations
// from the retrieved sources, and scores confidence. Retrieval-backed
// responses score by mean similarity; prompt-only responses get a fixed
// baseline; anything that fell back gets a neutral score.
func (e *Engine) responseValidation(_ context.Context, st model.State) (model.State, Outcome) {
	text := strings.TrimSpace(st.RawResponse)
	if text == "" {
		st.Errors = append(st.Errors, "Validation error: empty model response")
		st.ValidatedResponse = "I'm sorry, I couldn't generate a response. Please try again."
		st.ConfidenceScore = 0.5
		st.FallbackUsed = true
		return st, OutcomeDegraded
	}
	st.ValidatedResponse = text

	seen := map[string]bool{}
	for _, doc := range st.RetrievedDocs {
		if doc.Source != "" && !seen[doc.Source] {
			seen[doc.Source] = true
			st.Citations = append(st.Citations, doc.Source)
		}
	}

	switch {
	case st.FallbackUsed:
		st.ConfidenceScore = 0.5
	case len(st.RetrievedDocs) > 0:
		var sum float64
		for _, doc := range st.RetrievedDocs {
			sum += doc.Score
		}
		st.ConfidenceScore = clamp01(sum / float64(len(st.RetrievedDocs)))
	default:
		st.ConfidenceScore = 0.7
	}
	return st, OutcomeOK
}

// logInteraction writes the durable record. A store failure never blocks
// the response; timing is still recorded in memory so the caller gets a
// complete state.
func (e *Engine) logInteraction(ctx context.Context, st model.State) (model.State, Outcome) {
	st.EndTime = e.now().UTC()
	st.Timing.TotalSeconds = st.EndTime.Sub(st.StartTime).Seconds()

	if e.interactions == nil {
		return st, OutcomeSkipped
	}

	row := model.InteractionFromState(uuid.New().String(), &st)
	if err := e.interactions.SaveInteraction(ctx, row); err != nil {
		st.Errors = append(st.Errors, "Logging error: "+err.Error())
		return st, OutcomeDegraded
	}
	return st, OutcomeOK
}

// fineTuningCheck runs the trigger and fixes the final output the HTTP
// boundary reads, falling back through validated and raw responses.
func (e *Engine) fineTuningCheck(ctx context.Context, st model.State) (model.State, Outcome) {
	outcome := OutcomeOK
	if e.trigger != nil {
		if _, err := e.trigger.Check(ctx); err != nil {
			st.Errors = append(st.Errors, "Trigger error: "+err.Error())
			outcome = OutcomeDegraded
		}
	}

	if st.FinalOutput == "" {
		switch {
		case st.ValidatedResponse != "":
			st.FinalOutput = st.ValidatedResponse
		case st.RawResponse != "":
			st.FinalOutput = st.RawResponse
		default:
			st.FinalOutput = "I'm sorry, something went wrong. Please try again."
		}
	}
	return st, outcome
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
