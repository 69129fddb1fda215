// Package plan models the static execution graph. A plan is minted once per
// run from the pipeline definition; nodes reference each other by UUID and
// carry everything the engine needs to execute them: parameter templates,
// facilitator and adviser obtainments, and run conditions.
package plan

import (
	"context"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/advise"
	"github.com/goliatone/go-pipeline/facilitate"
)

// Node is one vertex of the plan graph.
type Node struct {
	UUID       string            `json:"uuid"`
	Name       string            `json:"name"`
	Identifier string            `json:"identifier"`
	StepType   pipeline.StepType `json:"stepType"`
	Group      string            `json:"group,omitempty"`
	StageFQN   string            `json:"stageFqn,omitempty"`

	// StepParameters is the unresolved parameter document; expressions are
	// resolved per attempt at execution start.
	StepParameters map[string]any `json:"stepParameters,omitempty"`

	// ExecutionInputTemplate, when set, makes the node wait for user-supplied
	// inputs before facilitation.
	ExecutionInputTemplate string `json:"executionInputTemplate,omitempty"`

	// ExcludedKeysFromStepInputs are dropped from the persisted step inputs
	// but stay in the resolved parameters.
	ExcludedKeysFromStepInputs []string `json:"excludedKeysFromStepInputs,omitempty"`

	WhenCondition  string                  `json:"whenCondition,omitempty"`
	ExpressionMode pipeline.ExpressionMode `json:"expressionMode,omitempty"`

	// SkipExpressionChain removes the node from qualified names.
	SkipExpressionChain bool   `json:"skipExpressionChain,omitempty"`
	SkipGraphType       string `json:"skipGraphType,omitempty"`

	FacilitatorObtainments []facilitate.Obtainment `json:"facilitatorObtainments,omitempty"`
	AdviserObtainments     []advise.Obtainment     `json:"adviserObtainments,omitempty"`
}

// IsIdentity reports whether the node is a rollback-mode stand-in for an
// already executed node.
func (n Node) IsIdentity() bool {
	return n.StepType.Type == IdentityStepType
}

// Plan is the full graph for one run, rooted at StartingNodeID.
type Plan struct {
	UUID           string `json:"uuid"`
	StartingNodeID string `json:"startingNodeId"`
	Nodes          []Node `json:"nodes"`
	// PreservedNodeIDs carry over from an original plan during rollback so
	// expressions against executed nodes still resolve.
	PreservedNodeIDs []string `json:"preservedNodeIds,omitempty"`
}

// Node returns the node with the given UUID.
func (p Plan) Node(uuid string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.UUID == uuid {
			return n, true
		}
	}
	return Node{}, false
}

// Service fetches plans and nodes by id.
type Service interface {
	FetchPlan(ctx context.Context, planID string) (Plan, error)
	FetchNode(ctx context.Context, planID, nodeID string) (Node, error)
}
