package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
)

func newExecution(id, planExecID string, status pipeline.Status) *NodeExecution {
	return &NodeExecution{
		UUID:   id,
		NodeID: "node-" + id,
		Status: status,
		Ambiance: ambiance.Ambiance{
			PlanID:          "plan-1",
			PlanExecutionID: planExecID,
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	saved, err := store.Save(ctx, newExecution("e1", "run-1", pipeline.StatusQueued))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}

	got, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != pipeline.StatusQueued {
		t.Fatalf("expected QUEUED, got %v", got.Status)
	}
}

func TestSaveDuplicateID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	if _, err := store.Save(ctx, newExecution("e1", "run-1", pipeline.StatusQueued)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Save(ctx, newExecution("e1", "run-1", pipeline.StatusQueued)); err == nil {
		t.Fatal("expected duplicate save to fail")
	}
}

func TestGuardedTransitionAccepted(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, _ = store.Save(ctx, newExecution("e1", "run-1", pipeline.StatusQueued))

	updated, err := store.UpdateStatusWithOps(ctx, "e1", pipeline.StatusRunning, func(ne *NodeExecution) {
		ne.StartTsMillis = 42
	}, pipeline.ResumableStatuses())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated == nil {
		t.Fatal("expected transition to be accepted")
	}
	if updated.Status != pipeline.StatusRunning || updated.StartTsMillis != 42 {
		t.Fatalf("unexpected record %+v", updated)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}
}

func TestGuardedTransitionRejectedIsDecided(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, _ = store.Save(ctx, newExecution("e1", "run-1", pipeline.StatusSucceeded))

	updated, err := store.UpdateStatusWithOps(ctx, "e1", pipeline.StatusRunning, nil, pipeline.ResumableStatuses())
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if updated != nil {
		t.Fatal("expected rejected guard to return nil record")
	}

	got, _ := store.Get(ctx, "e1")
	if got.Status != pipeline.StatusSucceeded || got.Version != 1 {
		t.Fatalf("expected record untouched, got %+v", got)
	}
}

func TestGuardedTransitionUnderContention(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, _ = store.Save(ctx, newExecution("e1", "run-1", pipeline.StatusQueued))

	const writers = 8
	var wg sync.WaitGroup
	accepted := make(chan *NodeExecution, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.UpdateStatusWithOps(ctx, "e1", pipeline.StatusRunning, nil,
				pipeline.NewStatusSet(pipeline.StatusQueued))
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			if rec != nil {
				accepted <- rec
			}
		}()
	}
	wg.Wait()
	close(accepted)

	var wins int
	for range accepted {
		wins++
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestUpdateWithoutGuard(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, _ = store.Save(ctx, newExecution("e1", "run-1", pipeline.StatusQueued))

	updated, err := store.Update(ctx, "e1", func(ne *NodeExecution) {
		ne.ResolvedParams = map[string]any{"image": "alpine"}
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ResolvedParams["image"] != "alpine" {
		t.Fatalf("expected ops applied, got %+v", updated.ResolvedParams)
	}
}

func TestFetchStageExecutionsSkipsOldRetries(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	stage1 := newExecution("s1", "run-1", pipeline.StatusSucceeded)
	stage1.StepType = pipeline.StepType{Type: "DeployStage", Category: pipeline.CategoryStage}
	stage2 := newExecution("s2", "run-1", pipeline.StatusFailed)
	stage2.StepType = pipeline.StepType{Type: "DeployStage", Category: pipeline.CategoryStage}
	stage2.OldRetry = true
	step := newExecution("e1", "run-1", pipeline.StatusSucceeded)
	otherRun := newExecution("s3", "run-2", pipeline.StatusSucceeded)
	otherRun.StepType = pipeline.StepType{Type: "DeployStage", Category: pipeline.CategoryStage}

	for _, ne := range []*NodeExecution{stage1, stage2, step, otherRun} {
		if _, err := store.Save(ctx, ne); err != nil {
			t.Fatalf("save %s: %v", ne.UUID, err)
		}
	}

	stages, err := store.FetchStageExecutions(ctx, "run-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(stages) != 1 || stages[0].UUID != "s1" {
		t.Fatalf("expected only live stage s1, got %+v", stages)
	}
}

func TestFetchActiveOlderThan(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	old := newExecution("e1", "run-1", pipeline.StatusTaskWaiting)
	old.StartTsMillis = 1000
	fresh := newExecution("e2", "run-1", pipeline.StatusRunning)
	fresh.StartTsMillis = 9000
	done := newExecution("e3", "run-1", pipeline.StatusSucceeded)
	done.StartTsMillis = 1000

	for _, ne := range []*NodeExecution{old, fresh, done} {
		_, _ = store.Save(ctx, ne)
	}

	active, err := store.FetchActiveOlderThan(ctx, time.UnixMilli(5000))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(active) != 1 || active[0].UUID != "e1" {
		t.Fatalf("expected only stale waiting execution, got %+v", active)
	}
}

func TestCloneIsolation(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	rec := newExecution("e1", "run-1", pipeline.StatusQueued)
	rec.ResolvedParams = map[string]any{"key": "value"}
	_, _ = store.Save(ctx, rec)

	got, _ := store.Get(ctx, "e1")
	got.ResolvedParams["key"] = "mutated"

	again, _ := store.Get(ctx, "e1")
	if again.ResolvedParams["key"] != "value" {
		t.Fatal("expected store record isolated from caller mutation")
	}
}
