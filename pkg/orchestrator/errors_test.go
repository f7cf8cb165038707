package orchestrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminalWrapping(t *testing.T) {
	base := errors.New("record gone")
	err := Terminal("PREREQUISITE_NOT_MET", base)

	require.True(t, IsTerminal(err))
	require.Equal(t, "PREREQUISITE_NOT_MET", Code(err))
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "PREREQUISITE_NOT_MET")

	// terminality survives further wrapping
	wrapped := fmt.Errorf("stage failed: %w", err)
	require.True(t, IsTerminal(wrapped))
	require.Equal(t, "PREREQUISITE_NOT_MET", Code(wrapped))
}

func TestRetriableErrorsHaveNoCode(t *testing.T) {
	err := errors.New("upstream 503")
	require.False(t, IsTerminal(err))
	require.Empty(t, Code(err))
	require.False(t, IsTerminal(nil))
}

func TestTerminalf(t *testing.T) {
	err := Terminalf("INVALID_EVENT", "bad %s payload", "transcription.requested")
	require.True(t, IsTerminal(err))
	require.Equal(t, "INVALID_EVENT", Code(err))
	require.Contains(t, err.Error(), "bad transcription.requested payload")
}
