package prompt

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultTemplates []byte

// SystemPrompt is the role/context preamble for one assistant module.
type SystemPrompt struct {
	Role          string   `yaml:"role"`
	Context       string   `yaml:"context"`
	KeyPrinciples []string `yaml:"key_principles"`
}

// Templates maps module tag to its system prompt definition.
type Templates struct {
	SkinDiagnosis    SystemPrompt `yaml:"skin_health_diagnostic"`
	EmotionDetection SystemPrompt `yaml:"voice_emotion_translator"`
	Emergency        SystemPrompt `yaml:"emergency_assistant"`
	ProductSafety    SystemPrompt `yaml:"product_safety_evaluator"`
	Generic          SystemPrompt `yaml:"general_assistant"`
}

// LoadTemplates reads system prompt definitions from path. An empty path
// loads the embedded defaults.
func LoadTemplates(path string) (*Templates, error) {
	data := defaultTemplates
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "prompt: read templates")
		}
		data = b
	}

	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "prompt: parse templates")
	}
	return &t, nil
}
