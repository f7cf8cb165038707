// Package whisperapi talks to an OpenAI-compatible audio transcription
// endpoint (POST /audio/transcriptions, multipart).
package whisperapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"
)

// maxAudioBytes bounds URL-sourced downloads.
const maxAudioBytes = 200 << 20

type Client struct {
	APIKey  string
	BaseURL string
	Model   string
	httpDo  *http.Client
}

func New(apiKey, baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "whisper-1"
	}
	return &Client{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   model,
		httpDo: &http.Client{
			// long uploads; the stage's finish timeout is the real bound
			Timeout: 14 * time.Minute,
		},
	}
}

func (c *Client) ModelID() string { return "whisperapi/" + c.Model }

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audio bytes and returns the recognized text. Empty text
// is returned as-is; classifying it is the caller's business decision.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("whisperapi: api key is empty")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if err := mw.WriteField("model", c.Model); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/audio/transcriptions", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpDo.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("whisperapi http %d: %s", resp.StatusCode, msg)
	}
	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return out.Text, nil
}

// TranscribeURL fetches publicly reachable audio and runs it through
// Transcribe, sparing callers the download-then-upload bookkeeping.
func (c *Client) TranscribeURL(ctx context.Context, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpDo.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch audio %s: %w", audioURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch audio %s: http %d", audioURL, resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return "", fmt.Errorf("read audio %s: %w", audioURL, err)
	}
	if len(audio) > maxAudioBytes {
		return "", fmt.Errorf("audio %s exceeds %d bytes", audioURL, maxAudioBytes)
	}
	name := path.Base(audioURL)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == "/" {
		name = "audio"
	}
	return c.Transcribe(ctx, name, audio)
}
