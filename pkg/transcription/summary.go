package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/noteflow/backend/pkg/llm"
)

const summarySchema = `{
	"type": "object",
	"required": ["summary", "keyPoints", "keyTakeaways"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"keyPoints": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"actionItems": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["task"],
				"properties": {
					"task": {"type": "string"},
					"owner": {"type": "string"},
					"dueDate": {"type": "string"}
				}
			}
		},
		"keyTakeaways": {"type": "array", "items": {"type": "string"}, "minItems": 1}
	}
}`

var summarySchemaLoader = gojsonschema.NewStringLoader(summarySchema)

type llmSummarizer struct {
	model llm.ChatModel
	name  string
}

// NewLLMSummarizer builds a SummaryProvider on a chat model. Output shape is
// checked against a JSON schema before it is handed back; a malformed reply
// surfaces as an ordinary (retriable) error.
func NewLLMSummarizer(model llm.ChatModel, name string) SummaryProvider {
	return &llmSummarizer{model: model, name: name}
}

func (p *llmSummarizer) ModelID() string { return p.name }

func (p *llmSummarizer) Summarize(ctx context.Context, transcript string) (Summary, error) {
	system := "You are an assistant that digests voice-note transcripts. Reply with STRICTLY one JSON object, no markdown, no commentary. Empty arrays must be [], never null. Do not invent facts."
	user := fmt.Sprintf(
		"Transcript:\n<<<\n%s\n>>>\n\nReturn STRICTLY one JSON object with this schema:\n{\n  \"summary\": string,\n  \"keyPoints\": string[],\n  \"actionItems\": [{\"task\":string,\"owner\":string,\"dueDate\":string}],\n  \"keyTakeaways\": string[]\n}\n\nRules:\n- summary: 2-4 sentences in the transcript's language\n- keyPoints and keyTakeaways: at least one entry each\n- actionItems: only tasks actually mentioned; owner/dueDate empty when unknown\n- no extra fields, no markdown\n",
		transcript,
	)
	raw, err := p.model.Ask(ctx, system, user)
	if err != nil {
		return Summary{}, err
	}

	doc := extractJSONObject(raw)
	if doc == "" {
		return Summary{}, fmt.Errorf("summary model returned no JSON object")
	}
	res, err := gojsonschema.Validate(summarySchemaLoader, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return Summary{}, fmt.Errorf("validate summary: %w", err)
	}
	if !res.Valid() {
		return Summary{}, fmt.Errorf("summary shape invalid: %v", res.Errors())
	}

	var out Summary
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	if out.ActionItems == nil {
		out.ActionItems = []ActionItem{}
	}
	return out, nil
}

// extractJSONObject pulls the outermost {...} out of a model reply that may be
// wrapped in prose or a fenced code block.
func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if json.Valid([]byte(raw)) && strings.HasPrefix(raw, "{") {
		return raw
	}
	i := strings.Index(raw, "{")
	j := strings.LastIndex(raw, "}")
	if i >= 0 && j > i {
		candidate := raw[i : j+1]
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return ""
}
