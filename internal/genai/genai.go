// Package genai defines the classification and drafting collaborator
// contracts, plus the deterministic heuristic implementations the pipeline
// falls back to when an external model is unavailable. Pipeline liveness
// must never depend on a remote model, so the heuristics are part of the
// core rather than an optional extra.
package genai

import (
	"context"

	"ambient-email-agent/internal/model"
)

// Classification is the result of classifying an inbound item.
type Classification struct {
	Label      model.Label
	Confidence float64
}

// Classifier assigns one of the fixed triage labels to an inbound item.
type Classifier interface {
	Classify(ctx context.Context, subject, body, sender string) (Classification, error)
}

// DraftRequest carries everything the drafter needs to propose an action.
type DraftRequest struct {
	Item    model.InboundItem
	Label   model.Label
	Profile model.UserProfile
	VIP     bool
}

// Drafter produces a proposed action for a triaged item.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (model.ProposedAction, error)
}
