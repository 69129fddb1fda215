// Package rollback rewrites plans and pipeline YAML so a finished run can be
// rolled back. The plan transformer swaps executed non-stage nodes for
// identity stand-ins that replay recorded outcomes; the yaml transformer
// filters and reverses the stage list so only executed stages roll back, in
// reverse order.
package rollback

import (
	"context"

	"github.com/goliatone/go-pipeline/execution"
	"github.com/goliatone/go-pipeline/plan"
)

// PlanTransformer derives an executable rollback plan from the original plan
// and its executed run.
type PlanTransformer struct {
	store execution.Store
}

// NewPlanTransformer builds a transformer over the execution store.
func NewPlanTransformer(store execution.Store) *PlanTransformer {
	return &PlanTransformer{store: store}
}

// Transform returns the rollback plan. Stage nodes from the prior run are
// carried over live so rollback steps can run under them; every other node
// that executed becomes an identity stand-in carrying the original execution
// id so its recorded outcome is replayed instead of recomputed. Original-plan
// nodes named in preservedNodeIDs are appended untouched, which is how a
// dedicated rollback stage enters the derived plan alongside replayed
// history.
func (t *PlanTransformer) Transform(ctx context.Context, original plan.Plan, originalPlanExecutionID string, preservedNodeIDs []string) (plan.Plan, error) {
	executed, err := t.store.FetchByPlanExecution(ctx, originalPlanExecutionID)
	if err != nil {
		return plan.Plan{}, err
	}

	preserved := make(map[string]bool, len(preservedNodeIDs))
	for _, id := range preservedNodeIDs {
		preserved[id] = true
	}

	out := plan.Plan{
		UUID:             original.UUID,
		StartingNodeID:   original.StartingNodeID,
		Nodes:            make([]plan.Node, 0, len(original.Nodes)),
		PreservedNodeIDs: append([]string(nil), preservedNodeIDs...),
	}

	seen := make(map[string]bool, len(executed))
	for _, ne := range executed {
		if ne.OldRetry || seen[ne.NodeID] || preserved[ne.NodeID] {
			continue
		}
		node, ok := original.Node(ne.NodeID)
		if !ok {
			continue
		}
		seen[ne.NodeID] = true
		if node.StepType.IsStage() {
			out.Nodes = append(out.Nodes, node)
			continue
		}
		out.Nodes = append(out.Nodes, plan.NewIdentityNode(node, ne.UUID))
	}

	// preserved nodes re-enter the plan as authored, never as stand-ins
	for _, id := range preservedNodeIDs {
		if node, ok := original.Node(id); ok {
			out.Nodes = append(out.Nodes, node)
		}
	}
	return out, nil
}
