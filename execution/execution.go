// Package execution persists the runtime state of plan nodes. Each attempt of
// a node is one NodeExecution record; stores guard status transitions with an
// allowed-from set and optimistic versioning so concurrent writers cannot
// double-apply a transition.
package execution

import (
	"context"
	"time"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/advise"
	"github.com/goliatone/go-pipeline/ambiance"
)

// NodeExecution is one attempt of a plan node.
type NodeExecution struct {
	UUID     string            `json:"uuid"`
	Ambiance ambiance.Ambiance `json:"ambiance"`

	NodeID     string `json:"nodeId"`
	ParentID   string `json:"parentId,omitempty"`
	PreviousID string `json:"previousId,omitempty"`
	// NotifyID, when set, is the correlation id signalled on the notify bus
	// once this execution ends.
	NotifyID string `json:"notifyId,omitempty"`
	// CallbackID is the correlation id of an outstanding external wait; the
	// eventual async or task response carries it back.
	CallbackID string `json:"callbackId,omitempty"`

	Name       string            `json:"name,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	StepType   pipeline.StepType `json:"stepType"`
	Group      string            `json:"group,omitempty"`
	StageFQN   string            `json:"stageFqn,omitempty"`

	Status pipeline.Status   `json:"status"`
	Mode   pipeline.StepMode `json:"mode,omitempty"`

	// ResolvedParams is the parameter document after expression resolution.
	// StepInputs is the same document minus the node's excluded keys.
	ResolvedParams map[string]any `json:"resolvedParams,omitempty"`
	StepInputs     map[string]any `json:"stepInputs,omitempty"`

	// ExecutionInputConfigured means the node waits for user input before
	// facilitation.
	ExecutionInputConfigured bool `json:"executionInputConfigured,omitempty"`

	AdviserResponse *advise.Advise       `json:"adviserResponse,omitempty"`
	FailureInfo     pipeline.FailureInfo `json:"failureInfo,omitempty"`

	// RetryIDs are the UUIDs of earlier attempts, oldest first.
	RetryIDs []string `json:"retryIds,omitempty"`
	// OldRetry marks superseded attempts so projections can skip them.
	OldRetry bool `json:"oldRetry,omitempty"`

	StartTsMillis int64 `json:"startTs,omitempty"`
	EndTsMillis   int64 `json:"endTs,omitempty"`

	// Version backs the optimistic-lock compare-and-set in stores.
	Version int `json:"version"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// RetryCount is how many attempts preceded this one.
func (n *NodeExecution) RetryCount() int {
	return len(n.RetryIDs)
}

// IsStage reports whether the execution belongs to a stage node.
func (n *NodeExecution) IsStage() bool {
	return n.StepType.IsStage() || n.Group == "STAGE"
}

// Clone returns a deep copy safe to hand across goroutines.
func (n *NodeExecution) Clone() *NodeExecution {
	if n == nil {
		return nil
	}
	cp := *n
	cp.ResolvedParams = copyAnyMap(n.ResolvedParams)
	cp.StepInputs = copyAnyMap(n.StepInputs)
	cp.RetryIDs = append([]string(nil), n.RetryIDs...)
	cp.FailureInfo.Errors = append([]string(nil), n.FailureInfo.Errors...)
	if n.AdviserResponse != nil {
		adv := *n.AdviserResponse
		cp.AdviserResponse = &adv
	}
	return &cp
}

// Ops mutates an execution inside a guarded update. Stores apply it after the
// transition guard passed and before the record is written back.
type Ops func(*NodeExecution)

// Store persists node executions.
type Store interface {
	// Save inserts a new execution, stamping version 1.
	Save(ctx context.Context, ne *NodeExecution) (*NodeExecution, error)
	// Get returns the execution or ErrExecutionNotFound.
	Get(ctx context.Context, id string) (*NodeExecution, error)
	// Update applies ops under the version lock without a status guard.
	Update(ctx context.Context, id string, ops Ops) (*NodeExecution, error)
	// UpdateStatusWithOps transitions to the given status only when the
	// current status is in allowedFrom, applying ops in the same write. A
	// rejected guard returns (nil, nil): the caller decides what a refused
	// transition means.
	UpdateStatusWithOps(ctx context.Context, id string, to pipeline.Status, ops Ops, allowedFrom pipeline.StatusSet) (*NodeExecution, error)
	// FetchByPlanExecution returns all executions of a plan run, oldest first.
	FetchByPlanExecution(ctx context.Context, planExecutionID string) ([]*NodeExecution, error)
	// FetchStageExecutions returns the stage-level executions of a plan run
	// in creation order, superseded retries excluded.
	FetchStageExecutions(ctx context.Context, planExecutionID string) ([]*NodeExecution, error)
	// FetchActiveOlderThan returns non-terminal executions started at or
	// before the cutoff.
	FetchActiveOlderThan(ctx context.Context, cutoff time.Time) ([]*NodeExecution, error)
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
