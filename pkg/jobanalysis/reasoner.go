package jobanalysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/noteflow/backend/pkg/llm"
)

const maxReasonerInput = 24000

const resultSchema = `{
	"type": "object",
	"required": ["compatibilityScore", "summary", "strengths", "gaps", "interviewQuestions", "oneWeekPlan"],
	"properties": {
		"compatibilityScore": {"type": "integer", "minimum": 0, "maximum": 100},
		"summary": {"type": "string", "minLength": 1},
		"strengths": {"type": "array", "items": {"type": "string"}},
		"gaps": {"type": "array", "items": {"type": "string"}},
		"interviewQuestions": {"type": "array", "items": {"type": "string"}, "minItems": 3},
		"interviewPrep": {"type": "string"},
		"oneWeekPlan": {
			"type": "array",
			"minItems": 7,
			"maxItems": 7,
			"items": {
				"type": "object",
				"required": ["day", "title", "tasks"],
				"properties": {
					"day": {"type": "integer", "minimum": 1, "maximum": 7},
					"title": {"type": "string"},
					"tasks": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

var resultSchemaLoader = gojsonschema.NewStringLoader(resultSchema)

// rawResult is the lenient decode target: list fields may arrive as arrays or
// newline-delimited strings and are normalized on unmarshal.
type rawResult struct {
	CompatibilityScore int          `json:"compatibilityScore"`
	Summary            string       `json:"summary"`
	Strengths          stringList   `json:"strengths"`
	Gaps               stringList   `json:"gaps"`
	InterviewQuestions stringList   `json:"interviewQuestions"`
	InterviewPrep      string       `json:"interviewPrep"`
	OneWeekPlan        []rawPlanDay `json:"oneWeekPlan"`
}

type rawPlanDay struct {
	Day   int        `json:"day"`
	Title string     `json:"title"`
	Tasks stringList `json:"tasks"`
}

type llmReasoner struct {
	model llm.ChatModel
	name  string
}

// NewLLMReasoner builds a ReasoningProvider on a chat model. The reply is
// normalized (string-shaped lists split into arrays) and then validated
// against a JSON schema; anything still malformed is a retriable error.
func NewLLMReasoner(model llm.ChatModel, name string) ReasoningProvider {
	return &llmReasoner{model: model, name: name}
}

func (p *llmReasoner) ModelID() string { return p.name }

func (p *llmReasoner) Evaluate(ctx context.Context, resumeText, jobDescription string) (Result, error) {
	resumeText = clip(resumeText, maxReasonerInput)
	jobDescription = clip(jobDescription, maxReasonerInput)

	system := "You are a career coach scoring how well a candidate fits a job. Reply with STRICTLY one JSON object, no markdown, no commentary. Empty arrays must be [], never null."
	user := fmt.Sprintf(
		"Job description:\n<<<\n%s\n>>>\n\nCandidate resume:\n<<<\n%s\n>>>\n\nReturn STRICTLY one JSON object with this schema:\n{\n  \"compatibilityScore\": integer 0-100,\n  \"summary\": string,\n  \"strengths\": string[],\n  \"gaps\": string[],\n  \"interviewQuestions\": string[] (at least 3),\n  \"interviewPrep\": string,\n  \"oneWeekPlan\": [{\"day\":1,\"title\":string,\"tasks\":string[]}, ... exactly 7 entries, days 1 through 7]\n}\n\nRules:\n- base everything on the two texts, do not invent experience\n- oneWeekPlan: exactly 7 entries, day values 1..7 in order\n- no extra fields, no markdown\n",
		jobDescription,
		resumeText,
	)
	raw, err := p.model.Ask(ctx, system, user)
	if err != nil {
		return Result{}, err
	}

	doc := raw
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			doc = raw[i : j+1]
		}
	}
	var parsed rawResult
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return Result{}, fmt.Errorf("decode reasoning result: %w", err)
	}

	out := Result{
		CompatibilityScore: parsed.CompatibilityScore,
		Summary:            parsed.Summary,
		Strengths:          parsed.Strengths,
		Gaps:               parsed.Gaps,
		InterviewQuestions: parsed.InterviewQuestions,
		InterviewPrep:      parsed.InterviewPrep,
	}
	for _, d := range parsed.OneWeekPlan {
		out.OneWeekPlan = append(out.OneWeekPlan, PlanDay{Day: d.Day, Title: d.Title, Tasks: d.Tasks})
	}
	if out.Strengths == nil {
		out.Strengths = []string{}
	}
	if out.Gaps == nil {
		out.Gaps = []string{}
	}

	normalized, err := json.Marshal(out)
	if err != nil {
		return Result{}, err
	}
	res, err := gojsonschema.Validate(resultSchemaLoader, gojsonschema.NewBytesLoader(normalized))
	if err != nil {
		return Result{}, fmt.Errorf("validate reasoning result: %w", err)
	}
	if !res.Valid() {
		return Result{}, fmt.Errorf("reasoning result shape invalid: %v", res.Errors())
	}
	// schema caps day values; still require each of 1..7 exactly once
	seen := [8]bool{}
	for _, d := range out.OneWeekPlan {
		if d.Day < 1 || d.Day > 7 || seen[d.Day] {
			return Result{}, fmt.Errorf("one-week plan has bad day sequence")
		}
		seen[d.Day] = true
	}
	return out, nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// never split a multi-byte rune at the cut point
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
