// Package advise implements the pluggable post-completion policy of the
// engine. After a node concludes, its configured advisers are consulted in
// declared order; the first applicable adviser produces a directive telling
// the engine what to do next: move to a sibling, retry, rewrite the outcome,
// or end the plan.
package advise

import (
	"context"
	"time"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
)

// Kind discriminates the directive variants an adviser can produce.
type Kind string

const (
	KindUnknown       Kind = "UNKNOWN"
	KindNextStep      Kind = "NEXT_STEP"
	KindRetry         Kind = "RETRY"
	KindMarkSuccess   Kind = "MARK_SUCCESS"
	KindIgnoreFailure Kind = "IGNORE_FAILURE"
	KindEndPlan       Kind = "END_PLAN"
)

// Advise is the tagged directive. Only the fields matching Kind are set.
type Advise struct {
	Kind Kind `json:"kind"`

	// NextNodeID is the plan node to schedule next (NEXT_STEP).
	NextNodeID string `json:"nextNodeId,omitempty"`
	// WaitInterval delays the retried attempt (RETRY).
	WaitInterval time.Duration `json:"waitInterval,omitempty"`
	// ToStatus rewrites the node outcome (MARK_SUCCESS, IGNORE_FAILURE).
	ToStatus pipeline.Status `json:"toStatus,omitempty"`
	// Abort marks an END_PLAN directive that tears the run down.
	Abort bool `json:"abort,omitempty"`
	// Message is an operator-facing reason recorded with the directive.
	Message string `json:"message,omitempty"`
}

// Obtainment declares one adviser attached to a plan node.
type Obtainment struct {
	Type       string         `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Event is what an adviser sees after a node concluded.
type Event struct {
	Ambiance    ambiance.Ambiance
	ToStatus    pipeline.Status
	FromStatus  pipeline.Status
	FailureInfo pipeline.FailureInfo
	// RetryCount is how many attempts this node already made.
	RetryCount int
	// Parameters come from the matching obtainment on the plan node.
	Parameters map[string]any
}

// Adviser decides the next action for a concluded node. A nil Advise with a
// nil error means "no opinion"; the engine then asks the next adviser.
type Adviser interface {
	CanAdvise(event Event) bool
	OnAdviseEvent(ctx context.Context, event Event) (*Advise, error)
}

// AdviserFunc adapts a function to the Adviser interface, always applicable.
type AdviserFunc func(ctx context.Context, event Event) (*Advise, error)

// CanAdvise always applies.
func (f AdviserFunc) CanAdvise(Event) bool { return true }

// OnAdviseEvent calls the underlying function.
func (f AdviserFunc) OnAdviseEvent(ctx context.Context, event Event) (*Advise, error) {
	return f(ctx, event)
}
