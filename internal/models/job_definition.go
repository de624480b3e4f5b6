package models

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// JobDefinition is a scheduled batch loaded from a YAML file in the
// definitions directory. On each cron fire the scheduler submits the
// listed URLs as a regular job.
type JobDefinition struct {
	Name     string   `yaml:"name" json:"name"`         // Identifier, also used as the submitted job name
	Schedule string   `yaml:"schedule" json:"schedule"` // Cron expression (minute granularity)
	Enabled  bool     `yaml:"enabled" json:"enabled"`   // Disabled definitions are loaded but never fired
	Source   string   `yaml:"source" json:"source"`     // Applied to every article in the batch
	Category string   `yaml:"category" json:"category"` // Applied to every article in the batch
	Priority int      `yaml:"priority" json:"priority"` // 1..10 for all URLs; 0 means the default
	URLs     []string `yaml:"urls" json:"urls"`         // Batch to submit on each fire
}

// DefaultDefinitionPriority is used when a definition does not set one
const DefaultDefinitionPriority = 5

// Validate validates the definition.
// Schedule is always required regardless of Enabled status so that
// disabled definitions stay well-formed.
func (d *JobDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("definition name is required")
	}
	if d.Schedule == "" {
		return errors.New("definition schedule is required")
	}
	if len(d.URLs) == 0 {
		return errors.New("definition must list at least one URL")
	}
	if d.Priority < 0 || d.Priority > 10 {
		return fmt.Errorf("invalid priority %d (must be 1..10, or 0 for default)", d.Priority)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(d.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", d.Schedule, err)
	}

	return nil
}

// EffectivePriority resolves the definition priority, applying the default
func (d *JobDefinition) EffectivePriority() int {
	if d.Priority == 0 {
		return DefaultDefinitionPriority
	}
	return d.Priority
}
