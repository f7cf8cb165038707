package jobanalysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noteflow/backend/pkg/orchestrator"
	"github.com/noteflow/backend/pkg/scrape"
)

// descriptionFields are probed in order on the first scraped record; the first
// non-empty one wins.
var descriptionFields = []string{
	"job_description",
	"description",
	"job_summary",
	"job_overview",
	"details",
	"content",
}

// poller drives the scrape sub-state machine. Its state is just (snapshot id,
// attempt count); the snapshot id is persisted before the first poll so a
// stage retry resumes polling instead of triggering a second scrape.
type poller struct {
	scraper  scrape.Provider
	repo     Repository
	interval time.Duration
	attempts int
	sleep    func(ctx context.Context, d time.Duration) error
}

func newPoller(scraper scrape.Provider, repo Repository, interval time.Duration, attempts int) *poller {
	if interval <= 0 {
		interval = 8 * time.Second
	}
	if attempts <= 0 {
		attempts = 18
	}
	return &poller{
		scraper:  scraper,
		repo:     repo,
		interval: interval,
		attempts: attempts,
		sleep:    orchestrator.Sleep,
	}
}

// resolve returns the job description for a URL-sourced analysis, scraping and
// polling as needed. Scrape-side failure is terminal; an exhausted poll budget
// is retriable and bubbles into the stage's retry policy.
func (p *poller) resolve(ctx context.Context, a Analysis) (string, error) {
	snapshotID := a.SnapshotID
	if snapshotID == "" {
		id, err := p.scraper.Trigger(ctx, a.JobURL)
		if err != nil {
			return "", fmt.Errorf("trigger scrape for %s: %w", a.JobURL, err)
		}
		if err := p.repo.SetSnapshotID(ctx, a.ID, id); err != nil {
			return "", err
		}
		snapshotID = id
	}

	ready := false
	for attempt := 0; attempt < p.attempts; attempt++ {
		status, err := p.scraper.Status(ctx, snapshotID)
		if err != nil {
			return "", fmt.Errorf("snapshot %s status: %w", snapshotID, err)
		}
		switch status {
		case scrape.StatusReady:
			ready = true
		case scrape.StatusFailed:
			return "", orchestrator.Terminalf(CodeScrapeFailed, "scrape snapshot %s failed", snapshotID)
		}
		if ready {
			break
		}
		if attempt < p.attempts-1 {
			if err := p.sleep(ctx, p.interval); err != nil {
				return "", err
			}
		}
	}
	if !ready {
		// retriable: the stage re-runs from the top and resumes this snapshot
		return "", fmt.Errorf("snapshot %s not ready after %d attempts", snapshotID, p.attempts)
	}

	records, err := p.scraper.Records(ctx, snapshotID)
	if err != nil {
		return "", fmt.Errorf("snapshot %s records: %w", snapshotID, err)
	}
	if len(records) == 0 {
		return "", orchestrator.Terminalf(CodeScrapeFailed, "scrape snapshot %s returned no records", snapshotID)
	}
	return extractDescription(records[0]), nil
}

// extractDescription probes the known description fields and falls back to
// serializing the whole record when none is populated.
func extractDescription(record map[string]any) string {
	for _, field := range descriptionFields {
		if v, ok := record[field]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	if len(record) == 0 {
		return ""
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return ""
	}
	return string(raw)
}
