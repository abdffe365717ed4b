package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawpilot/chat-api/internal/model"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	tmpl, err := LoadTemplates("")
	require.NoError(t, err)
	return NewBuilder(tmpl)
}

func TestLoadTemplates_Embedded(t *testing.T) {
	tmpl, err := LoadTemplates("")
	require.NoError(t, err)

	assert.NotEmpty(t, tmpl.SkinDiagnosis.Role)
	assert.NotEmpty(t, tmpl.EmotionDetection.Role)
	assert.NotEmpty(t, tmpl.Emergency.Role)
	assert.NotEmpty(t, tmpl.ProductSafety.Role)
	assert.NotEmpty(t, tmpl.Generic.Role)
	assert.NotEmpty(t, tmpl.Emergency.KeyPrinciples)
}

func TestLoadTemplates_MissingFile(t *testing.T) {
	_, err := LoadTemplates("/nonexistent/templates.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read templates")
}

func TestBuild_UnknownModule(t *testing.T) {
	b := newTestBuilder(t)
	_, err := b.Build(model.ModuleTag("nutrition"), Input{Query: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module")
}

func TestBuild_SkinDiagnosis(t *testing.T) {
	b := newTestBuilder(t)
	p, err := b.Build(model.ModuleSkinDiagnosis, Input{
		Query:   "red patches on belly",
		Context: "contact dermatitis\n---\nhot spots",
		Profile: model.PetProfile{
			Name:      "Max",
			Breed:     "Golden Retriever",
			Age:       4,
			Allergies: []string{"chicken", "pollen"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, p, "Name: Max")
	assert.Contains(t, p, "Breed: Golden Retriever")
	assert.Contains(t, p, "Age: 4 years")
	assert.Contains(t, p, "chicken, pollen")
	assert.Contains(t, p, "contact dermatitis")
	assert.Contains(t, p, "red patches on belly")
	assert.Contains(t, p, "## Possible Conditions")
	assert.Contains(t, p, "Medical History: None reported")
}

func TestBuild_SkinDiagnosis_EmptyProfileDefaults(t *testing.T) {
	b := newTestBuilder(t)
	p, err := b.Build(model.ModuleSkinDiagnosis, Input{Query: "itchy skin"})
	require.NoError(t, err)

	assert.Contains(t, p, "Name: Unknown")
	assert.Contains(t, p, "Age: Unknown years")
	assert.Contains(t, p, "Allergies: None known")
	assert.Contains(t, p, "No reference material available.")
}

func TestBuild_EmotionDetection(t *testing.T) {
	b := newTestBuilder(t)
	p, err := b.Build(model.ModuleEmotionDetection, Input{
		Query:         "my dog keeps whining at the door",
		ImageFeatures: "ears back, tail low",
		AudioAnalysis: "repeated high-pitched whine",
		Profile:       model.PetProfile{Name: "Luna", Personality: "anxious"},
	})
	require.NoError(t, err)

	assert.Contains(t, p, "ears back, tail low")
	assert.Contains(t, p, "repeated high-pitched whine")
	assert.Contains(t, p, "Personality: anxious")
	assert.Contains(t, p, "## Primary Emotion")
}

func TestBuild_Emergency(t *testing.T) {
	b := newTestBuilder(t)
	p, err := b.Build(model.ModuleEmergency, Input{
		Query:         "my dog ate chocolate",
		EmergencyType: "poisoning",
		Profile:       model.PetProfile{Age: 3, WeightKG: 12.5},
	})
	require.NoError(t, err)

	assert.Contains(t, p, "EMERGENCY TYPE: poisoning")
	assert.Contains(t, p, "Weight: 12.5 kg")
	assert.Contains(t, p, "my dog ate chocolate")
	assert.Contains(t, p, "## SEVERITY LEVEL")
	assert.Contains(t, p, "WHAT NOT TO DO")
}

func TestBuild_ProductSafety(t *testing.T) {
	b := newTestBuilder(t)
	p, err := b.Build(model.ModuleProductSafety, Input{
		Query: "are rawhide chews safe",
		Product: ProductInfo{
			Name:        "Rawhide Chew",
			Type:        "treat",
			Ingredients: "rawhide, beef flavoring",
		},
		Profile: model.PetProfile{Species: "dog", WeightKG: 8},
	})
	require.NoError(t, err)

	assert.Contains(t, p, "Name: Rawhide Chew")
	assert.Contains(t, p, "rawhide, beef flavoring")
	assert.Contains(t, p, "Species: dog")
	assert.Contains(t, p, "## Safety Assessment")
}

func TestBuild_Generic(t *testing.T) {
	b := newTestBuilder(t)

	p, err := b.Build(model.ModuleGeneric, Input{Query: "what is a dog"})
	require.NoError(t, err)
	assert.Contains(t, p, "QUESTION:\nwhat is a dog")
	assert.NotContains(t, p, "REFERENCE MATERIAL")

	p, err = b.Build(model.ModuleGeneric, Input{
		Query:   "how often should I deworm a puppy",
		Context: "puppies should be dewormed every two weeks until 12 weeks old",
	})
	require.NoError(t, err)
	assert.Contains(t, p, "REFERENCE MATERIAL")
	assert.Contains(t, p, "every two weeks")
}

func TestBuild_TaskFieldsFallBackToQuery(t *testing.T) {
	b := newTestBuilder(t)
	p, err := b.Build(model.ModuleEmergency, Input{Query: "dog is choking"})
	require.NoError(t, err)
	assert.Contains(t, p, "SYMPTOMS REPORTED:\ndog is choking")
}
