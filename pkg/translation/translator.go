package translation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noteflow/backend/pkg/llm"
	"github.com/noteflow/backend/pkg/transcription"
)

type llmTranslator struct {
	model llm.ChatModel
	name  string
}

// NewLLMTranslator builds a Provider on a chat model.
func NewLLMTranslator(model llm.ChatModel, name string) Provider {
	return &llmTranslator{model: model, name: name}
}

func (p *llmTranslator) ModelID() string { return p.name }

func (p *llmTranslator) TranslateText(ctx context.Context, text, language string) (string, error) {
	system := fmt.Sprintf("You are a professional translator. Translate the user's text into %q. Reply with the translation only: no preamble, no notes, no quotes.", language)
	out, err := p.model.Ask(ctx, system, text)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("translator returned empty text")
	}
	return out, nil
}

// TranslateSummary round-trips the summary through the model as JSON so the
// object shape survives: keys and list lengths must match the input, only
// string values get translated.
func (p *llmTranslator) TranslateSummary(ctx context.Context, s transcription.Summary, language string) (transcription.Summary, error) {
	src, err := json.Marshal(s)
	if err != nil {
		return transcription.Summary{}, err
	}
	system := fmt.Sprintf("You are a professional translator. The user sends a JSON object. Translate every string value into %q. Keep all keys, the structure and all array lengths exactly as they are. Reply with STRICTLY the JSON object, no markdown.", language)
	raw, err := p.model.Ask(ctx, system, string(src))
	if err != nil {
		return transcription.Summary{}, err
	}

	doc := raw
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			doc = raw[i : j+1]
		}
	}
	var out transcription.Summary
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return transcription.Summary{}, fmt.Errorf("decode translated summary: %w", err)
	}
	// shape check: the model must not drop or grow any list
	if len(out.KeyPoints) != len(s.KeyPoints) ||
		len(out.ActionItems) != len(s.ActionItems) ||
		len(out.KeyTakeaways) != len(s.KeyTakeaways) {
		return transcription.Summary{}, fmt.Errorf("translated summary shape drifted")
	}
	return out, nil
}
