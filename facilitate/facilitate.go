// Package facilitate decides how a node's step runs before execution starts:
// synchronously, asynchronously, as an external task, or by spawning children.
// Facilitators attached to a plan node are consulted in declared order and the
// first opinionated one wins. Pre-facilitation checks gate the whole process,
// turning interrupts and false run conditions into early outcomes.
package facilitate

import (
	"context"
	"time"

	apperrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
)

// Obtainment declares one facilitator attached to a plan node.
type Obtainment struct {
	Type       string         `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Response tells the engine how to run the step.
type Response struct {
	Mode        pipeline.StepMode `json:"mode"`
	InitialWait time.Duration     `json:"initialWait,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// Event is what a facilitator sees when asked for a mode.
type Event struct {
	Ambiance       ambiance.Ambiance
	ResolvedParams map[string]any
	// Parameters come from the matching obtainment on the plan node.
	Parameters map[string]any
}

// Facilitator produces a mode decision. A nil Response with a nil error means
// "no opinion"; the engine then asks the next facilitator.
type Facilitator interface {
	Facilitate(ctx context.Context, event Event) (*Response, error)
}

// FacilitatorFunc adapts a function to the Facilitator interface.
type FacilitatorFunc func(ctx context.Context, event Event) (*Response, error)

// Facilitate calls the underlying function.
func (f FacilitatorFunc) Facilitate(ctx context.Context, event Event) (*Response, error) {
	return f(ctx, event)
}

// modeFacilitator always answers with a fixed step mode.
type modeFacilitator struct {
	mode pipeline.StepMode
}

func (m modeFacilitator) Facilitate(context.Context, Event) (*Response, error) {
	return &Response{Mode: m.mode}, nil
}

// Engine walks a node's obtainments in order, asking the registered
// facilitator for each until one produces a response.
type Engine struct {
	registry *Registry
}

// NewEngine creates an engine over the given registry, defaulting to the
// built-in one.
func NewEngine(registry *Registry) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{registry: registry}
}

// Facilitate returns the first non-nil response. An obtainment referencing an
// unregistered type is an error; so is exhausting all obtainments without a
// decision.
func (e *Engine) Facilitate(ctx context.Context, amb ambiance.Ambiance, resolvedParams map[string]any, obtainments []Obtainment) (*Response, error) {
	for _, o := range obtainments {
		f, ok := e.registry.Lookup(o.Type)
		if !ok {
			return nil, apperrors.New("no facilitator registered for type "+o.Type, apperrors.CategoryBadInput).
				WithTextCode("FACILITATOR_NOT_FOUND")
		}
		resp, err := f.Facilitate(ctx, Event{
			Ambiance:       amb,
			ResolvedParams: resolvedParams,
			Parameters:     o.Parameters,
		})
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, apperrors.New("no facilitator produced a response", apperrors.CategoryHandler).
		WithTextCode("FACILITATION_EXHAUSTED")
}

// CustomFacilitatorPresent reports whether any obtainment references a type
// outside the built-in set. The engine then defers to the event bus instead
// of facilitating inline.
func CustomFacilitatorPresent(obtainments []Obtainment) bool {
	for _, o := range obtainments {
		if !builtinTypes[o.Type] {
			return true
		}
	}
	return false
}
