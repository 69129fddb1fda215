package plan

import (
	"testing"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/facilitate"
)

func TestPlanNodeLookup(t *testing.T) {
	p := Plan{
		StartingNodeID: "n1",
		Nodes: []Node{
			{UUID: "n1", Identifier: "build"},
			{UUID: "n2", Identifier: "deploy"},
		},
	}
	n, ok := p.Node("n2")
	if !ok || n.Identifier != "deploy" {
		t.Fatalf("expected deploy node, got %+v ok=%v", n, ok)
	}
	if _, ok := p.Node("missing"); ok {
		t.Fatal("expected missing node lookup to fail")
	}
}

func TestNewIdentityNodeKeepsPlaceInGraph(t *testing.T) {
	original := Node{
		UUID:       "n1",
		Name:       "Build",
		Identifier: "build",
		StepType:   pipeline.StepType{Type: "ShellScript", Category: pipeline.CategoryStep},
		StageFQN:   "pipeline.stages.ci",
		StepParameters: map[string]any{
			"script": "make",
		},
	}

	identity := NewIdentityNode(original, "exec-42")
	if !identity.IsIdentity() {
		t.Fatal("expected identity node")
	}
	if identity.UUID != "n1" || identity.Identifier != "build" || identity.StageFQN != "pipeline.stages.ci" {
		t.Fatalf("expected graph placement preserved, got %+v", identity)
	}
	if identity.StepType.Category != pipeline.CategoryStep {
		t.Fatalf("expected category preserved, got %v", identity.StepType.Category)
	}
	if identity.OriginalExecutionID() != "exec-42" {
		t.Fatalf("expected original execution id, got %q", identity.OriginalExecutionID())
	}
	if len(identity.FacilitatorObtainments) != 1 || identity.FacilitatorObtainments[0].Type != facilitate.TypeSync {
		t.Fatalf("expected sync facilitation, got %+v", identity.FacilitatorObtainments)
	}
	if _, ok := identity.StepParameters["script"]; ok {
		t.Fatal("expected original parameters dropped")
	}
}

func TestOriginalExecutionIDOnLiveNode(t *testing.T) {
	n := Node{UUID: "n1", StepType: pipeline.StepType{Type: "ShellScript"}}
	if got := n.OriginalExecutionID(); got != "" {
		t.Fatalf("expected empty id on live node, got %q", got)
	}
}
