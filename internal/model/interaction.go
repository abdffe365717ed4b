package model

import "time"

// Interaction is the durable log row written once per completed (or failed)
// request. Field names are a contract with downstream analytics and the
// feedback UI; do not rename them.
type Interaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PetID     string    `json:"pet_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Query     string   `json:"query"`
	Response  string   `json:"response"`
	Citations []string `json:"citations"`

	Module         ModuleTag `json:"module"`
	ModelUsed      string    `json:"model_used"`
	RAGUsed        bool      `json:"rag_used"`
	FineTunedModel bool      `json:"fine_tuned_model"`

	ConfidenceScore float64        `json:"confidence_score"`
	ResponseQuality map[string]any `json:"response_quality,omitempty"`

	CostUSD         float64 `json:"cost_usd"`
	TokensGenerated int     `json:"tokens_generated"`
	TokensPrompt    int     `json:"tokens_prompt"`

	Timing  Timing   `json:"timing"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`

	// Set by the later feedback-update path; nil until then.
	FeedbackRating  *int    `json:"feedback_rating,omitempty"`
	FeedbackComment *string `json:"feedback_comment,omitempty"`
}

// InteractionFromState builds the log row for a finished workflow pass.
func InteractionFromState(id string, st *State) Interaction {
	return Interaction{
		ID:              id,
		UserID:          st.UserID,
		PetID:           st.PetID,
		SessionID:       st.SessionID,
		Timestamp:       st.StartTime,
		Query:           st.Query,
		Response:        st.ValidatedResponse,
		Citations:       st.Citations,
		Module:          st.Module,
		ModelUsed:       st.ModelToUse,
		RAGUsed:         st.UseRAG,
		FineTunedModel:  st.FineTunedModel,
		ConfidenceScore: st.ConfidenceScore,
		CostUSD:         st.CostUSD,
		TokensGenerated: st.TokensGenerated,
		TokensPrompt:    st.TokensPrompt,
		Timing:          st.Timing,
		Success:         st.Success(),
		Errors:          st.Errors,
	}
}
