package models

import (
	"fmt"
	"testing"
)

func validSubmitRequest() *JobSubmitRequest {
	return &JobSubmitRequest{
		Articles: []ArticleInput{
			{URL: "https://example.com/a", Source: "TechNews", Category: "AI", Priority: 1},
			{URL: "http://example.com/b", Source: "TechNews", Category: "ML"},
		},
	}
}

func TestJobSubmitRequestValid(t *testing.T) {
	if err := validSubmitRequest().Validate(); err != nil {
		t.Errorf("Expected valid request, got %v", err)
	}
}

func TestJobSubmitRequestRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*JobSubmitRequest)
	}{
		{"empty batch", func(r *JobSubmitRequest) { r.Articles = nil }},
		{"relative url", func(r *JobSubmitRequest) { r.Articles[0].URL = "example.com/a" }},
		{"non http scheme", func(r *JobSubmitRequest) { r.Articles[0].URL = "ftp://example.com/a" }},
		{"missing source", func(r *JobSubmitRequest) { r.Articles[0].Source = "" }},
		{"missing category", func(r *JobSubmitRequest) { r.Articles[0].Category = "" }},
		{"priority too high", func(r *JobSubmitRequest) { r.Articles[0].Priority = 11 }},
		{"priority negative", func(r *JobSubmitRequest) { r.Articles[0].Priority = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSubmitRequest()
			tt.mutate(req)
			if err := req.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestJobSubmitRequestBatchCeiling(t *testing.T) {
	req := &JobSubmitRequest{}
	for i := 0; i < 101; i++ {
		req.Articles = append(req.Articles, ArticleInput{
			URL:      fmt.Sprintf("https://example.com/%d", i),
			Source:   "TechNews",
			Category: "AI",
		})
	}
	if err := req.Validate(); err == nil {
		t.Error("Expected oversized batch to fail validation")
	}

	req.Articles = req.Articles[:100]
	if err := req.Validate(); err != nil {
		t.Errorf("Expected 100 articles to pass, got %v", err)
	}
}

func TestEffectivePriority(t *testing.T) {
	a := &ArticleInput{}
	if got := a.EffectivePriority(); got != 1 {
		t.Errorf("Expected default priority 1, got %d", got)
	}
	a.Priority = 7
	if got := a.EffectivePriority(); got != 7 {
		t.Errorf("Expected explicit priority kept, got %d", got)
	}
}
