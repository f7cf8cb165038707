package speech

import "context"

// Provider converts recorded audio into text. Implementations are treated as
// unreliable: calls may time out, error or return garbage, and the caller owns
// retries.
type Provider interface {
	// Transcribe takes raw audio bytes with a filename hint.
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
	// ModelID identifies the provider/model pair for auditability.
	ModelID() string
}

// URLProvider is implemented by providers that can fetch the audio themselves
// from a public URL, skipping the download-then-upload round trip.
type URLProvider interface {
	TranscribeURL(ctx context.Context, url string) (string, error)
}
