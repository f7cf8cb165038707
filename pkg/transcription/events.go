package transcription

import "github.com/google/uuid"

// Event names consumed/emitted by the transcription pipeline.
const (
	EventRequested = "transcription.requested"
	EventCompleted = "transcription.completed"
)

// RequestedEvent triggers the transcribe stage.
type RequestedEvent struct {
	TranscriptionID uuid.UUID `json:"transcriptionId"`
}

// CompletedEvent fans out after the transcript is persisted; the summary stage
// consumes it.
type CompletedEvent struct {
	TranscriptionID uuid.UUID `json:"transcriptionId"`
}
