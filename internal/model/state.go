package model

import "time"

// Strategy identifies the execution path chosen for a request.
type Strategy string

const (
	StrategyRAG        Strategy = "rag"
	StrategyPromptOnly Strategy = "prompt_only"
	StrategyError      Strategy = "error"
)

// ModuleTag selects which assistant module handles a request.
type ModuleTag string

const (
	ModuleSkinDiagnosis    ModuleTag = "skin_diagnosis"
	ModuleEmotionDetection ModuleTag = "emotion_detection"
	ModuleEmergency        ModuleTag = "emergency"
	ModuleProductSafety    ModuleTag = "product_safety"
	ModuleGeneric          ModuleTag = "generic"
)

// KnownModule reports whether tag is one of the supported module tags.
func KnownModule(tag ModuleTag) bool {
	switch tag {
	case ModuleSkinDiagnosis, ModuleEmotionDetection, ModuleEmergency, ModuleProductSafety, ModuleGeneric:
		return true
	}
	return false
}

// RetrievedDoc is one passage returned by vector search. Immutable once
// created; consumed only by context assembly and citation extraction.
type RetrievedDoc struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Timing holds the per-request timing breakdown, in seconds.
type Timing struct {
	RAGSeconds       float64 `json:"rag_time"`
	InferenceSeconds float64 `json:"inference_time"`
	TotalSeconds     float64 `json:"total_time"`
}

// State is the per-request record threaded through all workflow stages.
// Each stage receives the state by value and returns an updated copy; no
// stage aborts the pipeline. Failures are appended to Errors and the
// stage degrades to a safe fallback.
type State struct {
	// Input
	Query     string    `json:"query"`
	UserID    string    `json:"user_id"`
	PetID     string    `json:"pet_id"`
	SessionID string    `json:"session_id"`
	Module    ModuleTag `json:"module"`

	// Decision making
	UseRAG         bool     `json:"use_rag"`
	ModelToUse     string   `json:"model_to_use"`
	FineTunedModel bool     `json:"fine_tuned_model"`
	Strategy       Strategy `json:"strategy"`

	// Retrieval outputs
	RetrievedDocs []RetrievedDoc `json:"retrieved_docs"`
	Context       string         `json:"context"`

	// Prompt engineering
	FinalPrompt string `json:"final_prompt"`

	// Inference outputs
	RawResponse     string  `json:"raw_response"`
	TokensPrompt    int     `json:"tokens_prompt"`
	TokensGenerated int     `json:"tokens_generated"`
	CostUSD         float64 `json:"cost_usd"`

	// Validation
	ValidatedResponse string   `json:"validated_response"`
	Citations         []string `json:"citations"`
	ConfidenceScore   float64  `json:"confidence_score"`

	// Metrics
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Timing    Timing    `json:"timing"`

	// Error handling
	Errors       []string `json:"errors"`
	FallbackUsed bool     `json:"fallback_used"`

	// Final output read by the HTTP boundary.
	FinalOutput string `json:"final_output"`
}

// Success reports whether the request completed without any recorded error.
func (s *State) Success() bool {
	return len(s.Errors) == 0
}

// PetProfile describes the pet a request concerns. All fields are optional;
// prompt builders substitute "Unknown"/"None reported" for absent values.
type PetProfile struct {
	Name              string   `json:"name,omitempty"`
	Species           string   `json:"species,omitempty"`
	Breed             string   `json:"breed,omitempty"`
	Age               int      `json:"age,omitempty"`
	WeightKG          float64  `json:"weight_kg,omitempty"`
	Allergies         []string `json:"allergies,omitempty"`
	MedicalHistory    string   `json:"medical_history,omitempty"`
	MedicalConditions string   `json:"medical_conditions,omitempty"`
	Medications       string   `json:"medications,omitempty"`
	Personality       string   `json:"personality,omitempty"`
	RecentEvents      string   `json:"recent_events,omitempty"`
}
