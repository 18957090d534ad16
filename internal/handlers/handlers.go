// Package handlers provides the built-in automation handlers for the solar
// sales task types taskpilot ships with. Each handler is deterministic given
// its input and the learnings it receives, which keeps the engine's outcomes
// reproducible in tests and demos.
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/sunward/taskpilot/internal/engine"
	"github.com/sunward/taskpilot/internal/learning"
)

// Task types handled out of the box.
const (
	TypeDocumentGeneration = "document_generation"
	TypePermitSubmission   = "permit_submission"
	TypePhotoAnalysis      = "photo_analysis"
	TypeCADDesign          = "cad_design"
)

// RegisterAll binds the built-in handlers to a registry.
func RegisterAll(r *engine.Registry) error {
	pairs := []struct {
		taskType string
		handler  engine.AutomationHandler
	}{
		{TypeDocumentGeneration, &DocumentGeneration{}},
		{TypePermitSubmission, &PermitSubmission{}},
		{TypePhotoAnalysis, &PhotoAnalysis{}},
		{TypeCADDesign, &CADDesign{}},
	}
	for _, p := range pairs {
		if err := r.Register(p.taskType, p.handler); err != nil {
			return fmt.Errorf("register built-in handlers: %w", err)
		}
	}
	return nil
}

// DocumentGeneration fills contract and proposal templates from structured
// customer data. Template work is well understood, so confidence is high
// whenever the required fields are present.
type DocumentGeneration struct{}

// Handle implements engine.AutomationHandler.
func (h *DocumentGeneration) Handle(_ context.Context, input map[string]any, _ []*learning.Learning) (engine.Attempt, error) {
	template, _ := input["template"].(string)
	if template == "" {
		return engine.Attempt{
			Confidence: 0.2,
			Error:      "no template specified",
		}, nil
	}

	customer, _ := input["customer"].(string)
	missing := missingFields(input, "customer", "address", "system_size_kw")
	if len(missing) > 0 {
		return engine.Attempt{
			Confidence: 0.4,
			Error:      fmt.Sprintf("missing fields: %s", strings.Join(missing, ", ")),
		}, nil
	}

	return engine.Attempt{
		Confidence: 0.95,
		Result: map[string]any{
			"document": fmt.Sprintf("%s for %s", template, customer),
			"template": template,
			"status":   "generated",
		},
	}, nil
}

// PermitSubmission prepares permit packets for a jurisdiction. Requirements
// vary wildly between jurisdictions, so the handler only reaches confident
// territory for jurisdictions it has a learning for.
type PermitSubmission struct{}

// Handle implements engine.AutomationHandler.
func (h *PermitSubmission) Handle(_ context.Context, input map[string]any, learnings []*learning.Learning) (engine.Attempt, error) {
	jurisdiction := contextField(input, "jurisdiction")
	if jurisdiction == "" {
		return engine.Attempt{
			Confidence: 0.1,
			Error:      "jurisdiction unknown",
		}, nil
	}

	// Known jurisdiction patterns raise confidence: the learning tells the
	// handler which forms and attachments this office expects.
	for _, l := range learnings {
		if l.Context["jurisdiction"] == jurisdiction {
			return engine.Attempt{
				Confidence: 0.75,
				Result: map[string]any{
					"jurisdiction": jurisdiction,
					"packet":       "prepared",
					"basis":        l.Pattern,
				},
			}, nil
		}
	}

	return engine.Attempt{
		Confidence: 0.3,
		Error:      fmt.Sprintf("no known submission pattern for jurisdiction %q", jurisdiction),
	}, nil
}

// PhotoAnalysis screens site survey photos. Image quality issues are a
// business outcome the handler reports with zero confidence, not an
// infrastructure error.
type PhotoAnalysis struct{}

// Handle implements engine.AutomationHandler.
func (h *PhotoAnalysis) Handle(_ context.Context, input map[string]any, _ []*learning.Learning) (engine.Attempt, error) {
	photos, _ := input["photos"].([]any)
	if len(photos) == 0 {
		return engine.Attempt{
			Confidence: 0,
			Error:      "no photos provided",
		}, nil
	}

	quality, _ := input["quality"].(string)
	if quality == "blurry" || quality == "dark" {
		return engine.Attempt{
			Confidence: 0,
			Error:      fmt.Sprintf("photos unusable: %s", quality),
		}, nil
	}

	return engine.Attempt{
		Confidence: 0.85,
		Result: map[string]any{
			"photos_reviewed": len(photos),
			"roof_condition":  "suitable",
		},
	}, nil
}

// CADDesign drafts a panel layout from survey measurements. Layout work
// still needs human review for unusual roofs, so confidence stays just
// under the automated success bar unless the roof is a simple gable.
type CADDesign struct{}

// Handle implements engine.AutomationHandler.
func (h *CADDesign) Handle(_ context.Context, input map[string]any, _ []*learning.Learning) (engine.Attempt, error) {
	missing := missingFields(input, "roof_type", "system_size_kw")
	if len(missing) > 0 {
		return engine.Attempt{
			Confidence: 0.2,
			Error:      fmt.Sprintf("missing fields: %s", strings.Join(missing, ", ")),
		}, nil
	}

	roofType, _ := input["roof_type"].(string)
	confidence := 0.6
	if roofType == "gable" {
		confidence = 0.9
	}

	return engine.Attempt{
		Confidence: confidence,
		Result: map[string]any{
			"roof_type": roofType,
			"layout":    "drafted",
		},
	}, nil
}

// missingFields returns the required keys absent from input.
func missingFields(input map[string]any, keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := input[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// contextField reads a key from the task's context block in input.
func contextField(input map[string]any, key string) string {
	raw, ok := input["context"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := raw[key].(string)
	return v
}
