// Package telegram sends bot messages through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Sender struct {
	Token   string
	BaseURL string
	httpDo  *http.Client
}

func New(token string) *Sender {
	return &Sender{
		Token:   token,
		BaseURL: "https://api.telegram.org",
		httpDo: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Notify sends text to the chat identified by channelID.
func (s *Sender) Notify(ctx context.Context, channelID, text string) error {
	if s.Token == "" {
		return errors.New("telegram: bot token is empty")
	}
	payload, err := json.Marshal(sendMessageRequest{ChatID: channelID, Text: text})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.BaseURL, s.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpDo.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram http %d: %s", resp.StatusCode, msg)
	}
	return nil
}
