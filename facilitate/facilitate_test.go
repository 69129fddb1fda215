package facilitate

import (
	"context"
	"testing"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
)

func testAmbiance(levels ...ambiance.Level) ambiance.Ambiance {
	return ambiance.Ambiance{
		PlanID:          "plan-1",
		PlanExecutionID: "exec-1",
		Levels:          levels,
	}
}

func TestEngineFirstResponseWins(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("quiet", FacilitatorFunc(func(context.Context, Event) (*Response, error) {
		return nil, nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	engine := NewEngine(registry)
	resp, err := engine.Facilitate(context.Background(), testAmbiance(), nil, []Obtainment{
		{Type: "quiet"},
		{Type: TypeAsync},
		{Type: TypeSync},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Mode != pipeline.StepModeAsync {
		t.Fatalf("expected first opinionated facilitator to win, got %v", resp.Mode)
	}
}

func TestEngineUnknownTypeFails(t *testing.T) {
	engine := NewEngine(nil)
	_, err := engine.Facilitate(context.Background(), testAmbiance(), nil, []Obtainment{{Type: "bogus"}})
	if err == nil {
		t.Fatal("expected unknown facilitator type to fail")
	}
}

func TestEngineExhaustedFails(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register("quiet", FacilitatorFunc(func(context.Context, Event) (*Response, error) {
		return nil, nil
	}))
	engine := NewEngine(registry)
	_, err := engine.Facilitate(context.Background(), testAmbiance(), nil, []Obtainment{{Type: "quiet"}})
	if err == nil {
		t.Fatal("expected exhausted obtainments to fail")
	}
}

func TestCustomFacilitatorPresent(t *testing.T) {
	if CustomFacilitatorPresent([]Obtainment{{Type: TypeSync}, {Type: TypeTask}}) {
		t.Fatal("builtins only should not count as custom")
	}
	if !CustomFacilitatorPresent([]Obtainment{{Type: TypeSync}, {Type: "approval"}}) {
		t.Fatal("expected non-builtin type to count as custom")
	}
}

type stubEvaluator struct {
	result bool
	err    error
}

func (s stubEvaluator) EvaluateBool(context.Context, ambiance.Ambiance, string) (bool, error) {
	return s.result, s.err
}

func TestWhenConditionFalseSkips(t *testing.T) {
	checker := NewChecker(nil, stubEvaluator{result: false})
	result, err := checker.Run(context.Background(), CheckContext{
		Ambiance:      testAmbiance(),
		WhenCondition: "<+stage.shouldRun>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Proceed {
		t.Fatal("expected false condition to stop facilitation")
	}
	if result.EndStatus != pipeline.StatusSkipped {
		t.Fatalf("expected SKIPPED, got %v", result.EndStatus)
	}
}

func TestWhenConditionEmptyProceeds(t *testing.T) {
	checker := NewChecker(nil, stubEvaluator{result: false})
	result, err := checker.Run(context.Background(), CheckContext{Ambiance: testAmbiance()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Proceed {
		t.Fatal("expected empty condition to proceed")
	}
}

func TestInterruptGatesNode(t *testing.T) {
	store := NewInMemoryInterruptStore()
	ctx := context.Background()
	if err := store.Register(ctx, Interrupt{ID: "i-1", Type: InterruptAbort, PlanExecutionID: "exec-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	checker := NewChecker(store, nil)
	result, err := checker.Run(ctx, CheckContext{
		Ambiance:        testAmbiance(),
		NodeExecutionID: "node-exec-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Proceed {
		t.Fatal("expected active interrupt to stop facilitation")
	}
	if result.EndStatus != pipeline.StatusAborted {
		t.Fatalf("expected ABORTED, got %v", result.EndStatus)
	}
}

func TestInterruptScopedToOtherNodeIgnored(t *testing.T) {
	store := NewInMemoryInterruptStore()
	ctx := context.Background()
	_ = store.Register(ctx, Interrupt{ID: "i-1", Type: InterruptAbort, PlanExecutionID: "exec-1", NodeExecutionID: "other"})

	checker := NewChecker(store, nil)
	result, err := checker.Run(ctx, CheckContext{
		Ambiance:        testAmbiance(),
		NodeExecutionID: "node-exec-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Proceed {
		t.Fatal("expected interrupt scoped elsewhere to be ignored")
	}
}

func TestRetriedNodeBypassesInterrupts(t *testing.T) {
	store := NewInMemoryInterruptStore()
	ctx := context.Background()
	_ = store.Register(ctx, Interrupt{ID: "i-1", Type: InterruptAbort, PlanExecutionID: "exec-1"})

	amb := testAmbiance(ambiance.Level{RuntimeID: "rt-1", Identifier: "build", RetryIndex: 1})
	checker := NewChecker(store, nil)
	result, err := checker.Run(ctx, CheckContext{Ambiance: amb, NodeExecutionID: "node-exec-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Proceed {
		t.Fatal("expected retried node to bypass the interrupt gate")
	}
}

func TestInterruptDiscard(t *testing.T) {
	store := NewInMemoryInterruptStore()
	ctx := context.Background()
	_ = store.Register(ctx, Interrupt{ID: "i-1", Type: InterruptPause, PlanExecutionID: "exec-1"})
	if err := store.Discard(ctx, "i-1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	active, err := store.Active(ctx, "exec-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active interrupts, got %d", len(active))
	}
}
