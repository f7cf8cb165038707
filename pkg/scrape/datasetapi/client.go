// Package datasetapi implements scrape.Provider against a dataset-snapshot
// collection API: trigger returns a snapshot id, progress is polled, records
// are downloaded as JSON once the snapshot is ready.
package datasetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noteflow/backend/pkg/scrape"
)

type Client struct {
	APIKey    string
	BaseURL   string
	DatasetID string
	httpDo    *http.Client
}

func New(apiKey, baseURL, datasetID string) *Client {
	if baseURL == "" {
		baseURL = "https://api.brightdata.com/datasets/v3"
	}
	return &Client{
		APIKey:    apiKey,
		BaseURL:   baseURL,
		DatasetID: datasetID,
		httpDo: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type triggerResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

func (c *Client) Trigger(ctx context.Context, target string) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("datasetapi: api key is empty")
	}
	payload, err := json.Marshal([]map[string]string{{"url": target}})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/trigger?dataset_id=%s&include_errors=true", c.BaseURL, url.QueryEscape(c.DatasetID))
	body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}
	var out triggerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode trigger response: %w", err)
	}
	if out.SnapshotID == "" {
		return "", errors.New("datasetapi: trigger returned empty snapshot id")
	}
	return out.SnapshotID, nil
}

type progressResponse struct {
	Status string `json:"status"`
}

func (c *Client) Status(ctx context.Context, snapshotID string) (scrape.SnapshotStatus, error) {
	endpoint := fmt.Sprintf("%s/progress/%s", c.BaseURL, url.PathEscape(snapshotID))
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	var out progressResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode progress response: %w", err)
	}
	switch strings.ToLower(out.Status) {
	case "ready", "done":
		return scrape.StatusReady, nil
	case "failed", "error":
		return scrape.StatusFailed, nil
	default:
		return scrape.StatusRunning, nil
	}
}

func (c *Client) Records(ctx context.Context, snapshotID string) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/snapshot/%s?format=json", c.BaseURL, url.PathEscape(snapshotID))
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		// some datasets return a single object instead of an array
		var one map[string]any
		if err2 := json.Unmarshal(body, &one); err2 != nil {
			return nil, fmt.Errorf("decode snapshot records: %w", err)
		}
		records = []map[string]any{one}
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpDo.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("datasetapi http %d: %s", resp.StatusCode, data)
	}
	return data, nil
}
