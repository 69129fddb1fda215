package facilitate

import (
	"context"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
)

// Check is the outcome of a pre-facilitation gate. When Proceed is false the
// node never facilitates; EndStatus says what it concludes with instead.
type Check struct {
	Proceed   bool
	Reason    string
	EndStatus pipeline.Status
}

// CheckContext carries everything a gate may inspect.
type CheckContext struct {
	Ambiance        ambiance.Ambiance
	NodeExecutionID string
	WhenCondition   string
	ExpressionMode  pipeline.ExpressionMode
}

// PreCheck gates facilitation. The first check asking not to proceed wins.
type PreCheck interface {
	Check(ctx context.Context, cc CheckContext) (Check, error)
}

// ConditionEvaluator resolves a run condition to a boolean against the
// execution context.
type ConditionEvaluator interface {
	EvaluateBool(ctx context.Context, amb ambiance.Ambiance, expression string) (bool, error)
}

// Checker runs its gates in order.
type Checker struct {
	checks []PreCheck
}

// NewChecker builds the standard gate chain: interrupts first, then the run
// condition.
func NewChecker(interrupts InterruptStore, evaluator ConditionEvaluator) *Checker {
	var checks []PreCheck
	if interrupts != nil {
		checks = append(checks, InterruptCheck{Store: interrupts})
	}
	if evaluator != nil {
		checks = append(checks, WhenConditionCheck{Evaluator: evaluator})
	}
	return &Checker{checks: checks}
}

// Run returns the first non-proceed check, or a proceeding one when every
// gate passes.
func (c *Checker) Run(ctx context.Context, cc CheckContext) (Check, error) {
	for _, check := range c.checks {
		result, err := check.Check(ctx, cc)
		if err != nil {
			return Check{}, err
		}
		if !result.Proceed {
			return result, nil
		}
	}
	return Check{Proceed: true}, nil
}

// InterruptCheck stops facilitation when an active interrupt covers the node.
// Retried nodes bypass the gate: the retry directive that re-queued them
// already outranks any interrupt registered before it.
type InterruptCheck struct {
	Store InterruptStore
}

func (c InterruptCheck) Check(ctx context.Context, cc CheckContext) (Check, error) {
	if cc.Ambiance.IsRetry() {
		return Check{Proceed: true}, nil
	}
	active, err := c.Store.Active(ctx, cc.Ambiance.PlanExecutionID, cc.NodeExecutionID)
	if err != nil {
		return Check{}, err
	}
	if len(active) == 0 {
		return Check{Proceed: true}, nil
	}
	first := active[0]
	return Check{
		Proceed:   false,
		Reason:    "interrupt " + first.Type + " is active",
		EndStatus: first.EndStatus(),
	}, nil
}

// WhenConditionCheck skips the node when its run condition evaluates false.
// Nodes without a condition always proceed.
type WhenConditionCheck struct {
	Evaluator ConditionEvaluator
}

func (c WhenConditionCheck) Check(ctx context.Context, cc CheckContext) (Check, error) {
	if cc.WhenCondition == "" {
		return Check{Proceed: true}, nil
	}
	ok, err := c.Evaluator.EvaluateBool(ctx, cc.Ambiance, cc.WhenCondition)
	if err != nil {
		if cc.ExpressionMode == pipeline.ExpressionModeLenient {
			return Check{Proceed: true}, nil
		}
		return Check{}, err
	}
	if ok {
		return Check{Proceed: true}, nil
	}
	return Check{
		Proceed:   false,
		Reason:    "run condition evaluated to false",
		EndStatus: pipeline.StatusSkipped,
	}, nil
}
