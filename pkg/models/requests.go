// -----------------------------------------------------------------------
// API Request Schemas - submission payloads with validation tags
// -----------------------------------------------------------------------

package models

import (
	"github.com/go-playground/validator/v10"
)

// ArticleInput is one requested URL in a submission batch
type ArticleInput struct {
	URL      string `json:"url" validate:"required,http_url"`
	Source   string `json:"source" validate:"required"`
	Category string `json:"category" validate:"required"`
	Priority int    `json:"priority" validate:"omitempty,gte=1,lte=10"` // 1-10, lower is more urgent; 0 means default
}

// EffectivePriority resolves the priority, applying the default of 1
func (a *ArticleInput) EffectivePriority() int {
	if a.Priority == 0 {
		return 1
	}
	return a.Priority
}

// JobSubmitRequest is the body of POST /api/jobs/submit. URLs repeated
// within one batch are collapsed server-side rather than rejected.
type JobSubmitRequest struct {
	Name     string         `json:"name,omitempty"`
	Articles []ArticleInput `json:"articles" validate:"required,min=1,max=100,dive"`
}

// Validate checks the request against its field constraints
func (r *JobSubmitRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
