package prompt

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pawpilot/chat-api/internal/model"
)

// ProductInfo describes a product submitted for safety evaluation.
type ProductInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Ingredients string `json:"ingredients"`
	Price       string `json:"price"`
}

// Input carries everything a module builder may interpolate. Query is
// always set; the task-specific fields default to Query when empty so the
// chat endpoint can drive any module from a single message.
type Input struct {
	Query   string
	Profile model.PetProfile
	Context string

	SymptomDescription string
	ImageFeatures      string
	AudioAnalysis      string
	EmergencyType      string
	Symptoms           string
	Product            ProductInfo
}

// Builder renders module prompts from loaded system templates.
type Builder struct {
	templates *Templates
}

// NewBuilder returns a Builder over t.
func NewBuilder(t *Templates) *Builder {
	return &Builder{templates: t}
}

// Build renders the prompt for module from in. Unknown module tags return
// an error and no prompt.
func (b *Builder) Build(module model.ModuleTag, in Input) (string, error) {
	switch module {
	case model.ModuleSkinDiagnosis:
		return b.buildSkinDiagnosis(in), nil
	case model.ModuleEmotionDetection:
		return b.buildEmotionDetection(in), nil
	case model.ModuleEmergency:
		return b.buildEmergency(in), nil
	case model.ModuleProductSafety:
		return b.buildProductSafety(in), nil
	case model.ModuleGeneric:
		return b.buildGeneric(in), nil
	}
	return "", eris.Errorf("prompt: unknown module %q", module)
}

func (b *Builder) buildSkinDiagnosis(in Input) string {
	sys := b.templates.SkinDiagnosis
	symptoms := orQuery(in.SymptomDescription, in.Query)

	var sb strings.Builder
	writePreamble(&sb, sys)

	sb.WriteString("PET INFORMATION:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", orUnknown(in.Profile.Name))
	fmt.Fprintf(&sb, "- Breed: %s\n", orUnknown(in.Profile.Breed))
	fmt.Fprintf(&sb, "- Age: %s years\n", ageString(in.Profile.Age))
	fmt.Fprintf(&sb, "- Allergies: %s\n", listOr(in.Profile.Allergies, "None known"))
	fmt.Fprintf(&sb, "- Medical History: %s\n\n", orDefault(in.Profile.MedicalHistory, "None reported"))

	sb.WriteString("KNOWLEDGE BASE REFERENCE:\n")
	sb.WriteString(orDefault(in.Context, "No reference material available."))
	sb.WriteString("\n\n")

	sb.WriteString("SYMPTOM ANALYSIS:\n")
	sb.WriteString(symptoms)
	sb.WriteString("\n\n")

	sb.WriteString(`ANALYSIS REQUIRED:
1. Examine described symptoms
2. Cross-reference with the knowledge base material
3. Consider the pet's health history
4. Assess severity and urgency
5. Provide first aid steps
6. Recommend when to see a vet

OUTPUT FORMAT:
## Observations
[What the symptoms show]

## Possible Conditions
- [Condition 1] - Likelihood: [High/Medium/Low]
- [Condition 2] - Likelihood: [High/Medium/Low]

## Severity Level
[Low/Medium/High/Emergency]

## Urgency for Vet Visit
[Within 1 week / 48-72 hours / 24 hours / IMMEDIATE]

## First Aid Steps
1. [Action]
2. [Action]

## Monitoring
What to watch for and when to escalate

Always phrase findings as possible conditions, not a diagnosis. When uncertain, recommend a vet visit.`)

	return sb.String()
}

func (b *Builder) buildEmotionDetection(in Input) string {
	sys := b.templates.EmotionDetection

	var sb strings.Builder
	writePreamble(&sb, sys)

	sb.WriteString("EMOTION DETECTION FRAMEWORK:\n")
	sb.WriteString(orDefault(in.Context, "No reference material available."))
	sb.WriteString("\n\n")

	sb.WriteString("PET CONTEXT:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", orUnknown(in.Profile.Name))
	fmt.Fprintf(&sb, "- Breed: %s\n", orUnknown(in.Profile.Breed))
	fmt.Fprintf(&sb, "- Age: %s years\n", ageString(in.Profile.Age))
	fmt.Fprintf(&sb, "- Personality: %s\n", orUnknown(in.Profile.Personality))
	fmt.Fprintf(&sb, "- Recent Events: %s\n\n", orDefault(in.Profile.RecentEvents, "None reported"))

	sb.WriteString("VISUAL ANALYSIS:\n")
	sb.WriteString(orQuery(in.ImageFeatures, in.Query))
	sb.WriteString("\n\n")

	sb.WriteString("AUDIO ANALYSIS:\n")
	sb.WriteString(orDefault(in.AudioAnalysis, "None provided."))
	sb.WriteString("\n\n")

	sb.WriteString(`DETECTION TASK:
1. Identify body language indicators
2. Analyze audio patterns and vocalizations
3. Consider the pet's personality and recent context
4. Assess confidence level of the detection
5. Recommend appropriate actions

OUTPUT FORMAT:
## Primary Emotion
[Detected emotion]

## Confidence Level
High / Medium / Low

## Key Indicators Observed
- Body Language: [indicators]
- Vocalizations: [audio patterns]
- Context Clues: [situational factors]

## Root Cause Analysis
[What triggered this emotion]

## Recommended Actions
1. [What to do]
2. [How to help]
3. [When to seek help]`)

	return sb.String()
}

func (b *Builder) buildEmergency(in Input) string {
	sys := b.templates.Emergency

	var sb strings.Builder
	writePreamble(&sb, sys)

	sb.WriteString("PET INFORMATION:\n")
	fmt.Fprintf(&sb, "- Age: %s years\n", ageString(in.Profile.Age))
	fmt.Fprintf(&sb, "- Weight: %s kg\n", weightString(in.Profile.WeightKG))
	fmt.Fprintf(&sb, "- Medical Conditions: %s\n", orDefault(in.Profile.MedicalConditions, "None reported"))
	fmt.Fprintf(&sb, "- Current Medications: %s\n\n", orDefault(in.Profile.Medications, "None"))

	fmt.Fprintf(&sb, "EMERGENCY TYPE: %s\n\n", orDefault(in.EmergencyType, "Unspecified"))

	sb.WriteString("SYMPTOMS REPORTED:\n")
	sb.WriteString(orQuery(in.Symptoms, in.Query))
	sb.WriteString("\n\n")

	sb.WriteString("EMERGENCY PROTOCOLS:\n")
	sb.WriteString(orDefault(in.Context, "No protocol reference available."))
	sb.WriteString("\n\n")

	sb.WriteString(`CRITICAL RESPONSE REQUIRED:
Provide numbered steps only. Start with a severity assessment. Include what
not to do. Specify time windows.

OUTPUT FORMAT (STRICT):
## SEVERITY LEVEL
[LIFE-THREATENING / SERIOUS / URGENT]

## TIME CRITICAL WINDOW
[How much time is available before escalation is needed]

## IMMEDIATE ACTIONS (IN ORDER):
1. [Action]
2. [Action]
3. [Action]

## WHAT NOT TO DO:
- Do NOT [dangerous action]
- Do NOT [dangerous action]

## VET URGENCY
[CALL IMMEDIATELY / Go to ER now / Vet within 1 hour]

## WARNING SIGNS FOR ESCALATION
[When to stop and go to the vet immediately]`)

	return sb.String()
}

func (b *Builder) buildProductSafety(in Input) string {
	sys := b.templates.ProductSafety

	var sb strings.Builder
	writePreamble(&sb, sys)

	sb.WriteString("SAFETY DATABASE REFERENCE:\n")
	sb.WriteString(orDefault(in.Context, "No reference material available."))
	sb.WriteString("\n\n")

	sb.WriteString("PET PROFILE:\n")
	fmt.Fprintf(&sb, "- Species: %s\n", orUnknown(in.Profile.Species))
	fmt.Fprintf(&sb, "- Age: %s years\n", ageString(in.Profile.Age))
	fmt.Fprintf(&sb, "- Weight: %s kg\n", weightString(in.Profile.WeightKG))
	fmt.Fprintf(&sb, "- Known Allergies: %s\n", listOr(in.Profile.Allergies, "None"))
	fmt.Fprintf(&sb, "- Health Conditions: %s\n\n", orDefault(in.Profile.MedicalConditions, "None reported"))

	sb.WriteString("PRODUCT TO EVALUATE:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", orQuery(in.Product.Name, in.Query))
	fmt.Fprintf(&sb, "- Type: %s (food/treat/toy/supplement)\n", orUnknown(in.Product.Type))
	fmt.Fprintf(&sb, "- Ingredients: %s\n", orUnknown(in.Product.Ingredients))
	fmt.Fprintf(&sb, "- Price: %s\n\n", orUnknown(in.Product.Price))

	sb.WriteString(`EVALUATION STEPS:
1. Check each ingredient against the safety database
2. Flag any toxic substances
3. Assess portion/size appropriateness for this pet
4. Check for allergen risks specific to this pet
5. Evaluate nutritional content
6. Suggest alternatives if needed

OUTPUT FORMAT:
## Product Name & Type
[Info]

## Safety Assessment
Safe / Caution / Not Safe

## Toxic Ingredients Found
[List any toxic ingredients, or "None found"]

## Allergen Concerns
[Any concerns for this specific pet]

## Safety Score
[1-10 scale with explanation]

## Better Alternatives
[Healthier or safer options]

## Appropriate Portion Size
[Specific amount for this pet's weight]

## Final Recommendation
[Clear recommendation for this pet]`)

	return sb.String()
}

func (b *Builder) buildGeneric(in Input) string {
	sys := b.templates.Generic

	var sb strings.Builder
	writePreamble(&sb, sys)

	if in.Context != "" {
		sb.WriteString("REFERENCE MATERIAL:\n")
		sb.WriteString(in.Context)
		sb.WriteString("\n\n")
	}

	if in.Profile.Name != "" {
		sb.WriteString("PET CONTEXT:\n")
		fmt.Fprintf(&sb, "- Name: %s\n", in.Profile.Name)
		if in.Profile.Breed != "" {
			fmt.Fprintf(&sb, "- Breed: %s\n", in.Profile.Breed)
		}
		if in.Profile.Age > 0 {
			fmt.Fprintf(&sb, "- Age: %d years\n", in.Profile.Age)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("QUESTION:\n")
	sb.WriteString(in.Query)
	sb.WriteString("\n\nAnswer clearly and practically. If the question involves health risks, recommend consulting a veterinarian.")

	return sb.String()
}

func writePreamble(sb *strings.Builder, sys SystemPrompt) {
	fmt.Fprintf(sb, "You are a %s\n\n%s\n\n", sys.Role, strings.TrimSpace(sys.Context))
	if len(sys.KeyPrinciples) > 0 {
		sb.WriteString("KEY PRINCIPLES:\n")
		for _, p := range sys.KeyPrinciples {
			fmt.Fprintf(sb, "- %s\n", p)
		}
		sb.WriteString("\n")
	}
}

func orQuery(v, query string) string {
	if v != "" {
		return v
	}
	return query
}

func orUnknown(v string) string {
	return orDefault(v, "Unknown")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func listOr(vs []string, def string) string {
	if len(vs) == 0 {
		return def
	}
	return strings.Join(vs, ", ")
}

func ageString(age int) string {
	if age <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%d", age)
}

func weightString(kg float64) string {
	if kg <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%.1f", kg)
}
