package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// submitRecorder captures SubmitJob calls so tests can fire definitions
// without the full pipeline
type submitRecorder struct {
	mu      sync.Mutex
	err     error
	names   []string
	sources []string
	batches [][]interfaces.SubmitArticle
}

func (r *submitRecorder) SubmitJob(ctx context.Context, name, source string, articles []interfaces.SubmitArticle) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.names = append(r.names, name)
	r.sources = append(r.sources, source)
	r.batches = append(r.batches, articles)
	return &models.Job{ID: "job_recorded", Status: models.JobStatusInProgress, TotalArticles: len(articles)}, nil
}

func (r *submitRecorder) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return nil, interfaces.ErrJobNotFound
}

func (r *submitRecorder) GetJobResults(ctx context.Context, jobID string) (*interfaces.JobResults, error) {
	return nil, interfaces.ErrJobNotFound
}

func (r *submitRecorder) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, int, error) {
	return nil, 0, nil
}

func (r *submitRecorder) CancelJob(ctx context.Context, jobID string) (int, error) {
	return 0, interfaces.ErrJobNotFound
}

func (r *submitRecorder) Stats(ctx context.Context) (*interfaces.SystemStats, error) {
	return &interfaces.SystemStats{}, nil
}

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestScheduler(t *testing.T, dir string) (*Service, *submitRecorder) {
	t.Helper()
	recorder := &submitRecorder{}
	cfg := &common.SchedulerConfig{Enabled: true, DefinitionsDir: dir}
	service, ok := NewService(cfg, recorder, arbor.NewLogger()).(*Service)
	if !ok {
		t.Fatal("unexpected scheduler service type")
	}
	return service, recorder
}

func TestStartLoadsAndSchedulesDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "morning.yaml", `
name: morning-news
schedule: "0 6 * * *"
enabled: true
source: reuters
category: markets
priority: 3
urls:
  - https://example.com/markets
  - https://example.com/rates
`)
	writeDefinition(t, dir, "weekend.yaml", `
name: weekend-digest
schedule: "0 9 * * 6"
enabled: false
urls:
  - https://example.com/digest
`)
	writeDefinition(t, dir, "broken.yaml", `
name: broken
schedule: "not a schedule"
enabled: true
urls:
  - https://example.com/broken
`)
	writeDefinition(t, dir, "notes.txt", "not a definition")

	service, _ := newTestScheduler(t, dir)
	if err := service.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer service.Stop()

	defs := service.Definitions()
	if len(defs) != 2 {
		t.Fatalf("loaded %d definitions, expected 2 (valid enabled + valid disabled)", len(defs))
	}

	service.mu.Lock()
	_, morningScheduled := service.entries["morning-news"]
	_, weekendScheduled := service.entries["weekend-digest"]
	entryCount := len(service.entries)
	service.mu.Unlock()

	if !morningScheduled {
		t.Error("enabled definition was not registered with cron")
	}
	if weekendScheduled {
		t.Error("disabled definition was registered with cron")
	}
	if entryCount != 1 {
		t.Errorf("registered %d cron entries, expected 1", entryCount)
	}
}

func TestFireSubmitsDefinitionBatch(t *testing.T) {
	service, recorder := newTestScheduler(t, t.TempDir())

	def := &models.JobDefinition{
		Name:     "defaults-check",
		Schedule: "*/5 * * * *",
		Enabled:  true,
		URLs:     []string{"https://example.com/one", "https://example.com/two"},
	}
	service.fire(def)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.batches) != 1 {
		t.Fatalf("recorded %d submissions, expected 1", len(recorder.batches))
	}
	if recorder.names[0] != "defaults-check" || recorder.sources[0] != "scheduler" {
		t.Errorf("submitted name=%q source=%q, expected defaults-check/scheduler", recorder.names[0], recorder.sources[0])
	}

	batch := recorder.batches[0]
	if len(batch) != 2 {
		t.Fatalf("batch has %d articles, expected 2", len(batch))
	}
	for _, article := range batch {
		if article.Source != "scheduler" {
			t.Errorf("article source %q, expected scheduler fallback", article.Source)
		}
		if article.Priority != models.DefaultDefinitionPriority {
			t.Errorf("article priority %d, expected default %d", article.Priority, models.DefaultDefinitionPriority)
		}
	}
}

func TestFireCarriesDefinitionFields(t *testing.T) {
	service, recorder := newTestScheduler(t, t.TempDir())

	service.fire(&models.JobDefinition{
		Name:     "markets-hourly",
		Schedule: "0 * * * *",
		Enabled:  true,
		Source:   "reuters",
		Category: "markets",
		Priority: 2,
		URLs:     []string{"https://example.com/feed"},
	})

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	batch := recorder.batches[0]
	if batch[0].Source != "reuters" || batch[0].Category != "markets" || batch[0].Priority != 2 {
		t.Errorf("got article %+v, expected reuters/markets/priority 2", batch[0])
	}
}

func TestFireSurvivesSubmitFailure(t *testing.T) {
	service, recorder := newTestScheduler(t, t.TempDir())
	recorder.err = errors.New("storage offline")

	service.fire(&models.JobDefinition{
		Name:     "doomed",
		Schedule: "* * * * *",
		Enabled:  true,
		URLs:     []string{"https://example.com/x"},
	})

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.batches) != 0 {
		t.Errorf("recorded %d submissions after failure, expected 0", len(recorder.batches))
	}
}

func TestStartWithoutDirectory(t *testing.T) {
	recorder := &submitRecorder{}
	service, ok := NewService(&common.SchedulerConfig{}, recorder, arbor.NewLogger()).(*Service)
	if !ok {
		t.Fatal("unexpected scheduler service type")
	}

	if err := service.Start(); err != nil {
		t.Fatalf("Start without directory failed: %v", err)
	}
	if defs := service.Definitions(); len(defs) != 0 {
		t.Errorf("loaded %d definitions with no directory, expected 0", len(defs))
	}
	if err := service.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestStartWithMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")
	service, _ := newTestScheduler(t, dir)

	if err := service.Start(); err != nil {
		t.Fatalf("Start with missing directory failed: %v", err)
	}
	defer service.Stop()

	if defs := service.Definitions(); len(defs) != 0 {
		t.Errorf("loaded %d definitions from a missing directory, expected 0", len(defs))
	}
}
