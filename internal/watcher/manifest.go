package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

// RunManifest is the durable JSON record written after each polling cycle:
// what was discovered, what was enqueued, and what got committed. Manifests
// are the operator's offline answer to "what did run X actually do".
type RunManifest struct {
	RunID       string                      `json:"run_id"`
	Source      string                      `json:"source"`
	Status      domain.RunStatus            `json:"status"`
	Since       domain.Date                 `json:"since"`
	StartedAt   time.Time                   `json:"started_at"`
	WrittenAt   time.Time                   `json:"written_at"`
	DocsFound   int                         `json:"docs_found"`
	JobsCreated int                         `json:"jobs_created"`
	Documents   []domain.DiscoveredDocument `json:"documents"`
	Changes     []domain.RunChange          `json:"changes,omitempty"`
}

// ManifestWriter persists run manifests under dir/<source>/, one file per
// run, named by run ID and timestamp.
type ManifestWriter struct {
	dir  string
	runs persistence.RunRepo
}

func NewManifestWriter(dir string, runs persistence.RunRepo) *ManifestWriter {
	return &ManifestWriter{dir: dir, runs: runs}
}

func (m *ManifestWriter) Write(ctx context.Context, run domain.RegulatoryRun, docs []domain.DiscoveredDocument) (string, error) {
	manifest := RunManifest{
		RunID:       run.ID,
		Source:      run.Source,
		Status:      run.Status,
		Since:       run.Since,
		StartedAt:   run.StartedAt,
		WrittenAt:   time.Now().UTC(),
		DocsFound:   run.DocsFound,
		JobsCreated: run.JobsCreated,
		Documents:   docs,
	}
	if m.runs != nil {
		if changes, err := m.runs.ListRunChanges(ctx, run.ID); err == nil {
			manifest.Changes = changes
		}
	}

	dir := filepath.Join(m.dir, run.Source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("manifest dir: %w", err)
	}
	name := fmt.Sprintf("run_%s_%s.json", manifest.WrittenAt.Format("20060102_150405"), run.ID)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
