package plan

import (
	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/facilitate"
)

// IdentityStepType marks rollback stand-ins for nodes that already executed.
const IdentityStepType = "IDENTITY"

// OriginalExecutionParam keys the source node execution inside an identity
// node's step parameters.
const OriginalExecutionParam = "originalNodeExecutionId"

// NewIdentityNode converts an executed node into a rollback stand-in. The
// stand-in keeps the original's place in the graph but replays the recorded
// outcome instead of running; originalExecutionID points at the node
// execution whose outputs it mirrors.
func NewIdentityNode(original Node, originalExecutionID string) Node {
	return Node{
		UUID:       original.UUID,
		Name:       original.Name,
		Identifier: original.Identifier,
		StepType: pipeline.StepType{
			Type:     IdentityStepType,
			Category: original.StepType.Category,
		},
		Group:               original.Group,
		StageFQN:            original.StageFQN,
		SkipExpressionChain: original.SkipExpressionChain,
		SkipGraphType:       original.SkipGraphType,
		StepParameters: map[string]any{
			OriginalExecutionParam: originalExecutionID,
		},
		FacilitatorObtainments: []facilitate.Obtainment{{Type: facilitate.TypeSync}},
	}
}

// OriginalExecutionID extracts the mirrored node execution id from an
// identity node.
func (n Node) OriginalExecutionID() string {
	if !n.IsIdentity() {
		return ""
	}
	if id, ok := n.StepParameters[OriginalExecutionParam].(string); ok {
		return id
	}
	return ""
}
