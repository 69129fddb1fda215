package ambiance

import (
	"reflect"
	"testing"

	"github.com/goliatone/go-pipeline"
)

func stageLevel(setupID, runtimeID, identifier string) Level {
	return Level{
		SetupID:    setupID,
		RuntimeID:  runtimeID,
		Identifier: identifier,
		StepType:   pipeline.StepType{Type: "DEPLOY_STAGE", Category: pipeline.CategoryStage},
	}
}

func stepLevel(setupID, runtimeID, identifier string) Level {
	return Level{
		SetupID:    setupID,
		RuntimeID:  runtimeID,
		Identifier: identifier,
		StepType:   pipeline.StepType{Type: "SHELL_SCRIPT", Category: pipeline.CategoryStep},
	}
}

func baseAmbiance() Ambiance {
	return Ambiance{
		PlanID:          "plan-1",
		PlanExecutionID: "exec-1",
		SetupAbstractions: map[string]string{
			"accountId": "acct",
			"projectId": "proj",
		},
		Levels: []Level{
			{SetupID: "p", RuntimeID: "p-run", Identifier: "pipeline", StepType: pipeline.StepType{Type: "PIPELINE", Category: pipeline.CategoryPipeline}},
			stageLevel("s1", "s1-run", "deploy"),
		},
	}
}

func TestCloneForChildThenFinishRoundTrip(t *testing.T) {
	amb := baseAmbiance()
	child := amb.CloneForChild(stepLevel("st1", "st1-run", "script"))

	if got := child.CurrentRuntimeID(); got != "st1-run" {
		t.Fatalf("expected child runtime id st1-run, got %q", got)
	}
	if got := child.ParentRuntimeID(); got != "s1-run" {
		t.Fatalf("expected parent runtime id s1-run, got %q", got)
	}

	restored := child.CloneForFinish()
	if !reflect.DeepEqual(restored.Levels, amb.Levels) {
		t.Fatalf("expected finish clone to restore level stack, got %+v", restored.Levels)
	}
	// original is untouched by either clone
	if len(amb.Levels) != 2 {
		t.Fatalf("expected source ambiance to stay immutable, got %d levels", len(amb.Levels))
	}
}

func TestCloneForChildDoesNotAliasMaps(t *testing.T) {
	amb := baseAmbiance()
	child := amb.CloneForChild(stepLevel("st1", "st1-run", "script"))
	child.SetupAbstractions["accountId"] = "other"
	if amb.SetupAbstractions["accountId"] != "acct" {
		t.Fatalf("expected setup abstractions copy, source was mutated")
	}
}

func TestCurrentAndParentLevelOnEmptyPath(t *testing.T) {
	var amb Ambiance
	if _, ok := amb.CurrentLevel(); ok {
		t.Fatalf("expected no current level on empty path")
	}
	if _, ok := amb.ParentLevel(); ok {
		t.Fatalf("expected no parent level on empty path")
	}
	if amb.CurrentRuntimeID() != "" {
		t.Fatalf("expected empty runtime id on empty path")
	}
}

func TestStageLevelPicksInnermostStage(t *testing.T) {
	amb := baseAmbiance()
	amb.Levels = append(amb.Levels, Level{
		SetupID:    "sg",
		RuntimeID:  "sg-run",
		Identifier: "group",
		StepType:   pipeline.StepType{Type: StepGroupType, Category: pipeline.CategoryStep},
	})
	level, ok := amb.StageLevel()
	if !ok {
		t.Fatalf("expected a stage level")
	}
	if level.RuntimeID != "s1-run" {
		t.Fatalf("expected stage runtime id s1-run, got %q", level.RuntimeID)
	}
}

func TestStageLevelMatchesLegacyGroupTag(t *testing.T) {
	amb := Ambiance{Levels: []Level{{
		SetupID:    "s1",
		RuntimeID:  "s1-run",
		Identifier: "deploy",
		Group:      "STAGE",
		StepType:   pipeline.StepType{Type: "IDENTITY", Category: pipeline.CategoryStep},
	}}}
	if _, ok := amb.StageLevel(); !ok {
		t.Fatalf("expected group-tagged level to count as stage")
	}
}

func TestNearestStepGroupWithStrategyScansBackward(t *testing.T) {
	amb := Ambiance{Levels: []Level{
		{SetupID: "a", RuntimeID: "a-run", Identifier: "outer", StepType: pipeline.StepType{Type: StepGroupType}},
		{SetupID: "b", RuntimeID: "b-run", Identifier: "loop", StepType: pipeline.StepType{Category: pipeline.CategoryStrategy}},
		{SetupID: "c", RuntimeID: "c-run", Identifier: "inner", StepType: pipeline.StepType{Type: StepGroupType}},
		{SetupID: "d", RuntimeID: "d-run", Identifier: "step", StepType: pipeline.StepType{Category: pipeline.CategoryStep}},
	}}
	level, ok := amb.NearestStepGroupWithStrategy()
	if !ok {
		t.Fatalf("expected a step group under strategy")
	}
	if level.RuntimeID != "c-run" {
		t.Fatalf("expected inner step group, got %q", level.RuntimeID)
	}
	// Forward scan intentionally differs from the backward scan.
	first, ok := amb.StepGroupLevel()
	if !ok || first.RuntimeID != "a-run" {
		t.Fatalf("expected forward scan to return outer step group, got %+v", first)
	}
}

func TestFQNExcludesSkipExpressionChainLevels(t *testing.T) {
	amb := Ambiance{Levels: []Level{
		{SetupID: "p", RuntimeID: "p-run", Identifier: "pipeline"},
		{SetupID: "loop", RuntimeID: "loop-run", Identifier: "loop", SkipExpressionChain: true},
		{SetupID: "s1", RuntimeID: "s1-run", Identifier: "deploy"},
		{RuntimeID: "x-run", Identifier: "nosetup"},
	}}
	if got := amb.FQN(); got != "pipeline.deploy" {
		t.Fatalf("expected FQN pipeline.deploy, got %q", got)
	}
}

func TestIsRetry(t *testing.T) {
	amb := baseAmbiance()
	if amb.IsRetry() {
		t.Fatalf("expected retry index 0 to mean not retried")
	}
	amb.Levels[len(amb.Levels)-1].RetryIndex = 2
	if !amb.IsRetry() {
		t.Fatalf("expected non-zero retry index to mean retried")
	}
}

func TestPlanExecutionIDForModeInRollback(t *testing.T) {
	amb := baseAmbiance()
	amb.Metadata.ExecutionMode = pipeline.ModePostExecutionRollback
	amb.Metadata.OriginalPlanExecutionID = "orig-exec"
	if got := amb.PlanExecutionIDForMode(); got != "orig-exec" {
		t.Fatalf("expected original plan execution id, got %q", got)
	}
	amb.Metadata.ExecutionMode = pipeline.ModeNormal
	if got := amb.PlanExecutionIDForMode(); got != "exec-1" {
		t.Fatalf("expected current plan execution id, got %q", got)
	}
}
