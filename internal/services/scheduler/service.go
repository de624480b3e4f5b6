// -----------------------------------------------------------------------
// Scheduler - cron-driven submission of YAML job definitions
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service loads job definitions from the configured directory and
// submits each one as a regular job whenever its cron schedule fires.
type Service struct {
	jobService interfaces.JobService
	cron       *cron.Cron
	logger     arbor.ILogger
	dir        string

	mu          sync.Mutex
	definitions []*models.JobDefinition
	entries     map[string]cron.EntryID
	running     bool
}

// NewService creates a scheduler over the given definitions directory.
func NewService(cfg *common.SchedulerConfig, jobService interfaces.JobService, logger arbor.ILogger) interfaces.SchedulerService {
	dir := ""
	if cfg != nil {
		dir = cfg.DefinitionsDir
	}
	return &Service{
		jobService: jobService,
		cron:       cron.New(),
		logger:     logger,
		dir:        dir,
		entries:    make(map[string]cron.EntryID),
	}
}

// Start loads the definitions, registers the enabled ones with cron, and
// starts firing. Individual definition failures are logged and skipped so
// one bad file never blocks the rest.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.dir == "" {
		s.logger.Info().Msg("No definitions directory configured, scheduler idle")
		return nil
	}

	defs, err := s.loadDefinitions()
	if err != nil {
		return err
	}
	s.definitions = defs

	registered := 0
	for _, def := range defs {
		if !def.Enabled {
			s.logger.Debug().Str("definition", def.Name).Msg("Definition disabled, not scheduling")
			continue
		}

		d := def // local copy for the closure
		entryID, err := s.cron.AddFunc(d.Schedule, func() {
			s.fire(d)
		})
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("definition", d.Name).
				Str("schedule", d.Schedule).
				Msg("Failed to register definition with cron")
			continue
		}

		s.entries[d.Name] = entryID
		registered++

		s.logger.Info().
			Str("definition", d.Name).
			Str("schedule", d.Schedule).
			Int("urls", len(d.URLs)).
			Msg("Definition scheduled")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("loaded", len(defs)).
		Int("scheduled", registered).
		Msg("Scheduler started")

	return nil
}

// Stop halts the cron runner. Fires already in flight finish on their own.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// Definitions returns the currently loaded definitions, disabled ones
// included.
func (s *Service) Definitions() []*models.JobDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.JobDefinition, len(s.definitions))
	copy(out, s.definitions)
	return out
}

// loadDefinitions reads every YAML file in the definitions directory.
// Files that fail to parse or validate are logged and skipped.
func (s *Service) loadDefinitions() ([]*models.JobDefinition, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn().Str("dir", s.dir).Msg("Definitions directory does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	var defs []*models.JobDefinition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("Failed to read definition file")
			continue
		}

		var def models.JobDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("Failed to parse definition file")
			continue
		}
		if err := def.Validate(); err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("Invalid definition, skipping")
			continue
		}

		defs = append(defs, &def)
	}

	if len(defs) == 0 {
		s.logger.Info().Str("dir", s.dir).Msg("No job definitions found")
	}

	return defs, nil
}

// fire submits one definition's batch as a regular job.
func (s *Service) fire(def *models.JobDefinition) {
	ctx := context.Background()

	source := def.Source
	if source == "" {
		source = "scheduler"
	}

	batch := make([]interfaces.SubmitArticle, 0, len(def.URLs))
	for _, u := range def.URLs {
		batch = append(batch, interfaces.SubmitArticle{
			URL:      u,
			Source:   source,
			Category: def.Category,
			Priority: def.EffectivePriority(),
		})
	}

	job, err := s.jobService.SubmitJob(ctx, def.Name, "scheduler", batch)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("definition", def.Name).
			Int("urls", len(batch)).
			Msg("Scheduled submission failed")
		return
	}

	s.logger.Info().
		Str("definition", def.Name).
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("total", job.TotalArticles).
		Int("cached", job.CachedArticles).
		Msg("Scheduled job submitted")
}
