package engine

import (
	"context"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
	"github.com/goliatone/go-pipeline/facilitate"
)

// FacilitationEvent asks an out-of-process facilitator to pick the step mode.
// The answer comes back through Strategy.ProcessFacilitationResponse.
type FacilitationEvent struct {
	NodeExecutionID string                  `json:"nodeExecutionId"`
	Ambiance        ambiance.Ambiance       `json:"ambiance"`
	Obtainments     []facilitate.Obtainment `json:"obtainments"`
	ResolvedParams  map[string]any          `json:"resolvedParams,omitempty"`
}

// EventPublisher hands facilitation off when a node carries a custom
// facilitator.
type EventPublisher interface {
	PublishFacilitationEvent(ctx context.Context, event FacilitationEvent) error
}

// PlanExecutionService is the engine's window into the run-level record.
type PlanExecutionService interface {
	// UpdateRunStatus rolls the run status while nodes are still flowing.
	UpdateRunStatus(ctx context.Context, planExecutionID string, status pipeline.Status) error
	// EndRun marks the run finished with its final status.
	EndRun(ctx context.Context, planExecutionID string, status pipeline.Status) error
}
