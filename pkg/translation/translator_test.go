package translation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noteflow/backend/pkg/transcription"
)

type scriptedModel struct {
	reply string
	err   error
	asked []string
}

func (m *scriptedModel) Ask(_ context.Context, _, user string) (string, error) {
	m.asked = append(m.asked, user)
	return m.reply, m.err
}

func TestTranslateTextTrimsReply(t *testing.T) {
	model := &scriptedModel{reply: "  Hola mundo \n"}
	p := NewLLMTranslator(model, "test/chat")

	out, err := p.TranslateText(context.Background(), "Hello world", "es")
	require.NoError(t, err)
	require.Equal(t, "Hola mundo", out)
}

func TestTranslateTextRejectsEmptyReply(t *testing.T) {
	p := NewLLMTranslator(&scriptedModel{reply: "   "}, "test/chat")

	_, err := p.TranslateText(context.Background(), "Hello", "es")
	require.Error(t, err)
}

func TestTranslateSummaryKeepsShape(t *testing.T) {
	src := transcription.Summary{
		Summary:      "digest",
		KeyPoints:    []string{"a", "b"},
		ActionItems:  []transcription.ActionItem{{Task: "do it"}},
		KeyTakeaways: []string{"c"},
	}
	translated := src
	translated.Summary = "resumen"
	translated.KeyPoints = []string{"x", "y"}
	reply, err := json.Marshal(translated)
	require.NoError(t, err)

	model := &scriptedModel{reply: string(reply)}
	p := NewLLMTranslator(model, "test/chat")

	out, err := p.TranslateSummary(context.Background(), src, "es")
	require.NoError(t, err)
	require.Equal(t, "resumen", out.Summary)
	require.Len(t, out.KeyPoints, 2)

	// the model receives the summary as JSON
	require.Contains(t, model.asked[0], `"digest"`)
}

func TestTranslateSummaryRejectsShapeDrift(t *testing.T) {
	src := transcription.Summary{
		Summary:      "digest",
		KeyPoints:    []string{"a", "b"},
		KeyTakeaways: []string{"c"},
	}
	drifted := src
	drifted.KeyPoints = []string{"only one"}
	reply, err := json.Marshal(drifted)
	require.NoError(t, err)

	p := NewLLMTranslator(&scriptedModel{reply: string(reply)}, "test/chat")
	_, err = p.TranslateSummary(context.Background(), src, "es")
	require.Error(t, err)
}
