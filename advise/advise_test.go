package advise

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-pipeline"
)

func failedEvent(params map[string]any) Event {
	return Event{
		ToStatus:    pipeline.StatusFailed,
		FromStatus:  pipeline.StatusRunning,
		FailureInfo: pipeline.FailureInfo{Message: "step exploded"},
		Parameters:  params,
	}
}

func TestRetryAdviserHonorsAttemptBudget(t *testing.T) {
	a := RetryAdviser{}
	event := failedEvent(map[string]any{"retryCount": 2})

	event.RetryCount = 0
	if !a.CanAdvise(event) {
		t.Fatal("expected first retry to apply")
	}
	event.RetryCount = 2
	if a.CanAdvise(event) {
		t.Fatal("expected exhausted budget to decline")
	}
}

func TestRetryAdviserWaitIntervals(t *testing.T) {
	a := RetryAdviser{Backoff: FixedIntervalStrategy{Interval: 5 * time.Second}}
	event := failedEvent(map[string]any{
		"retryCount":    3,
		"waitIntervals": []any{"100ms", "1s"},
	})

	event.RetryCount = 1
	adv, err := a.OnAdviseEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adv.Kind != KindRetry || adv.WaitInterval != time.Second {
		t.Fatalf("expected 1s retry wait, got %v %v", adv.Kind, adv.WaitInterval)
	}

	// past the configured list the backoff strategy takes over
	event.RetryCount = 2
	adv, err = a.OnAdviseEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adv.WaitInterval != 5*time.Second {
		t.Fatalf("expected backoff fallback, got %v", adv.WaitInterval)
	}
}

func TestNextStepAdviserAppliesOnSuccessOnly(t *testing.T) {
	a := NextStepAdviser{}
	params := map[string]any{"nextNodeId": "node-2"}

	event := Event{ToStatus: pipeline.StatusSucceeded, Parameters: params}
	if !a.CanAdvise(event) {
		t.Fatal("expected success event to apply")
	}
	adv, err := a.OnAdviseEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adv.Kind != KindNextStep || adv.NextNodeID != "node-2" {
		t.Fatalf("unexpected advise %+v", adv)
	}

	if a.CanAdvise(failedEvent(params)) {
		t.Fatal("expected failure event to decline without override")
	}
}

func TestApplicableStatusOverride(t *testing.T) {
	a := NextStepAdviser{}
	event := failedEvent(map[string]any{
		"nextNodeId":         "cleanup",
		"applicableStatuses": []any{"FAILED"},
	})
	if !a.CanAdvise(event) {
		t.Fatal("expected override to make failure applicable")
	}
}

func TestIgnoreFailureKeepsMessage(t *testing.T) {
	a := IgnoreFailureAdviser{}
	adv, err := a.OnAdviseEvent(context.Background(), failedEvent(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adv.Kind != KindIgnoreFailure || adv.ToStatus != pipeline.StatusSucceeded {
		t.Fatalf("unexpected advise %+v", adv)
	}
	if adv.Message != "step exploded" {
		t.Fatalf("expected failure message carried over, got %q", adv.Message)
	}
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []string{TypeNextStep, TypeRetry, TypeMarkSuccess, TypeIgnoreFailure, TypeAbort} {
		if _, ok := r.Lookup(typ); !ok {
			t.Fatalf("expected builtin %s registered", typ)
		}
	}
	if err := r.Register(TypeRetry, RetryAdviser{}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	b := ExponentialBackoffStrategy{Base: 100 * time.Millisecond, Factor: 2, Max: 300 * time.Millisecond}
	if got := b.WaitDuration(0); got != 100*time.Millisecond {
		t.Fatalf("attempt 0: got %v", got)
	}
	if got := b.WaitDuration(1); got != 200*time.Millisecond {
		t.Fatalf("attempt 1: got %v", got)
	}
	if got := b.WaitDuration(5); got != 300*time.Millisecond {
		t.Fatalf("attempt 5 should cap at max, got %v", got)
	}
}
