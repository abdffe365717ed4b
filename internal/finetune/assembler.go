package finetune

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/pawpilot/chat-api/internal/model"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type trainingRecord struct {
	Messages []chatMessage `json:"messages"`
}

// EncodeJSONL renders accumulated examples as chat-format JSONL training
// data, one record per line.
func EncodeJSONL(examples []model.AccumulatedExample) ([]byte, error) {
	if len(examples) == 0 {
		return nil, eris.New("finetune: no examples to encode")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ex := range examples {
		rec := trainingRecord{Messages: []chatMessage{
			{Role: "user", Content: ex.UserQuery},
			{Role: "assistant", Content: ex.AIResponse},
		}}
		if err := enc.Encode(rec); err != nil {
			return nil, eris.Wrap(err, "finetune: encode example")
		}
	}
	return buf.Bytes(), nil
}
