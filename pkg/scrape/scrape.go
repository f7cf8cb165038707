package scrape

import "context"

// SnapshotStatus is the state of an asynchronous scrape job on the provider
// side.
type SnapshotStatus string

const (
	StatusRunning SnapshotStatus = "running"
	StatusReady   SnapshotStatus = "ready"
	StatusFailed  SnapshotStatus = "failed"
)

// Provider is the asynchronous scraping capability: trigger a collection for a
// URL, poll the returned snapshot handle, then fetch the raw records once the
// snapshot is ready.
type Provider interface {
	Trigger(ctx context.Context, url string) (snapshotID string, err error)
	Status(ctx context.Context, snapshotID string) (SnapshotStatus, error)
	Records(ctx context.Context, snapshotID string) ([]map[string]any, error)
}
