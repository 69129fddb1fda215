package engine

import (
	"context"
	"fmt"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
	"github.com/goliatone/go-pipeline/execution"
	"github.com/goliatone/go-pipeline/plan"
)

// StepContext is what a step implementation sees when it runs.
type StepContext struct {
	Ambiance  ambiance.Ambiance
	Node      plan.Node
	Execution *execution.NodeExecution
	// Inputs is the resolved parameter document for this attempt.
	Inputs map[string]any
}

// StepResponse is the outcome a step reports back.
type StepResponse struct {
	Status      pipeline.Status
	FailureInfo pipeline.FailureInfo
	Outputs     map[string]any
}

// SyncStep runs to completion within the call.
type SyncStep interface {
	Run(ctx context.Context, sc StepContext) (StepResponse, error)
}

// SyncStepFunc adapts a function to SyncStep.
type SyncStepFunc func(ctx context.Context, sc StepContext) (StepResponse, error)

func (f SyncStepFunc) Run(ctx context.Context, sc StepContext) (StepResponse, error) {
	return f(ctx, sc)
}

// AsyncStep starts work that finishes out of band. The returned callback id
// correlates the eventual response, which HandleResponse turns into an
// outcome when the node resumes.
type AsyncStep interface {
	Start(ctx context.Context, sc StepContext) (callbackID string, err error)
	HandleResponse(ctx context.Context, sc StepContext, responses map[string]any) (StepResponse, error)
}

// TaskStep hands the work to an external task system. The returned task id
// correlates the eventual response, which HandleResponse turns into an
// outcome when the node resumes.
type TaskStep interface {
	Queue(ctx context.Context, sc StepContext) (taskID string, err error)
	HandleResponse(ctx context.Context, sc StepContext, responses map[string]any) (StepResponse, error)
}

// ChildStep spawns a child node; the parent waits on the notify bus until the
// subtree finishes.
type ChildStep interface {
	Child(ctx context.Context, sc StepContext) (childNodeID string, err error)
}

// StepRegistry maps step types to implementations.
type StepRegistry struct {
	steps map[string]any
}

// NewStepRegistry creates an empty registry.
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{steps: make(map[string]any)}
}

// Register stores a step implementation by step type. The value must satisfy
// at least one of the step contracts.
func (r *StepRegistry) Register(stepType string, step any) error {
	if stepType == "" || step == nil {
		return nil
	}
	switch step.(type) {
	case SyncStep, AsyncStep, TaskStep, ChildStep:
	default:
		return fmt.Errorf("step %s implements no step contract", stepType)
	}
	if r.steps == nil {
		r.steps = make(map[string]any)
	}
	if _, exists := r.steps[stepType]; exists {
		return fmt.Errorf("step %s already registered", stepType)
	}
	r.steps[stepType] = step
	return nil
}

// Lookup returns a step implementation by step type.
func (r *StepRegistry) Lookup(stepType string) (any, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.steps[stepType]
	return s, ok
}
