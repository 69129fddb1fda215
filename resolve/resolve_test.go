package resolve

import (
	"context"
	"reflect"
	"testing"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
	"github.com/goliatone/go-pipeline/execution"
)

func TestTrimExcludedKeysTopLevel(t *testing.T) {
	doc := map[string]any{"image": "alpine", "secret": "hunter2"}
	out := TrimExcludedKeys(doc, []string{"secret"})
	if _, ok := out["secret"]; ok {
		t.Fatal("expected secret removed")
	}
	if doc["secret"] != "hunter2" {
		t.Fatal("expected input untouched")
	}
}

func TestTrimExcludedKeysNestedPath(t *testing.T) {
	doc := map[string]any{
		"spec": map[string]any{
			"image": "alpine",
			"auth":  map[string]any{"token": "x", "user": "ci"},
		},
		"timeout": "10m",
	}
	out := TrimExcludedKeys(doc, []string{"spec.auth.token"})

	spec := out["spec"].(map[string]any)
	auth := spec["auth"].(map[string]any)
	if _, ok := auth["token"]; ok {
		t.Fatal("expected nested token removed")
	}
	if auth["user"] != "ci" {
		t.Fatal("expected sibling kept")
	}
	// untouched subtrees stay shared with the input
	if !sameMap(doc["timeout"], out["timeout"]) {
		t.Fatal("expected untouched value shared")
	}
	original := doc["spec"].(map[string]any)["auth"].(map[string]any)
	if _, ok := original["token"]; !ok {
		t.Fatal("expected input untouched")
	}
}

func sameMap(a, b any) bool { return reflect.DeepEqual(a, b) }

func TestTrimExcludedKeysMissingPathIsNoop(t *testing.T) {
	doc := map[string]any{"spec": map[string]any{"image": "alpine"}}
	out := TrimExcludedKeys(doc, []string{"spec.auth.token", "nope"})
	if !reflect.DeepEqual(out, doc) {
		t.Fatalf("expected document unchanged, got %+v", out)
	}
}

func TestTrimExcludedKeysEmptyKeys(t *testing.T) {
	doc := map[string]any{"a": 1}
	if out := TrimExcludedKeys(doc, nil); !reflect.DeepEqual(out, doc) {
		t.Fatal("expected document returned as-is")
	}
}

type upperExpressionService struct{}

func (upperExpressionService) Resolve(_ context.Context, _ ambiance.Ambiance, doc map[string]any, _ pipeline.ExpressionMode, _ []string) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if s, ok := v.(string); ok && s == "<+stage.name>" {
			out[k] = "deploy"
			continue
		}
		out[k] = v
	}
	return out, nil
}

func TestResolvePersistsParamsAndInputs(t *testing.T) {
	store := execution.NewInMemoryStore()
	ctx := context.Background()
	ne := &execution.NodeExecution{
		UUID:   "e1",
		Status: pipeline.StatusQueued,
		Ambiance: ambiance.Ambiance{
			PlanExecutionID: "run-1",
		},
	}
	if _, err := store.Save(ctx, ne); err != nil {
		t.Fatalf("save: %v", err)
	}

	resolver := NewResolver(upperExpressionService{}, store)
	template := map[string]any{
		"stage":  "<+stage.name>",
		"secret": "hunter2",
	}
	updated, err := resolver.Resolve(ctx, ne, template, []string{"secret"}, pipeline.ExpressionModeLenient)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if updated.ResolvedParams["stage"] != "deploy" {
		t.Fatalf("expected expression resolved, got %+v", updated.ResolvedParams)
	}
	if _, ok := updated.ResolvedParams["secret"]; !ok {
		t.Fatal("expected resolved params to keep excluded key")
	}
	if _, ok := updated.StepInputs["secret"]; ok {
		t.Fatal("expected step inputs trimmed")
	}
}

type flagRecordingService struct {
	flags []string
}

func (s *flagRecordingService) Resolve(_ context.Context, _ ambiance.Ambiance, doc map[string]any, _ pipeline.ExpressionMode, enabledFlags []string) (map[string]any, error) {
	s.flags = enabledFlags
	return doc, nil
}

func TestResolvePassesEnabledFeatureFlags(t *testing.T) {
	store := execution.NewInMemoryStore()
	ctx := context.Background()
	ne := &execution.NodeExecution{
		UUID:   "e1",
		Status: pipeline.StatusQueued,
		Ambiance: ambiance.Ambiance{
			PlanExecutionID: "run-1",
			Metadata: ambiance.Metadata{
				FeatureFlags: map[string]bool{"NEW_EXPRESSIONS": true, "DISABLED": false},
			},
		},
	}
	if _, err := store.Save(ctx, ne); err != nil {
		t.Fatalf("save: %v", err)
	}

	svc := &flagRecordingService{}
	if _, err := NewResolver(svc, store).Resolve(ctx, ne, map[string]any{"a": 1}, nil, pipeline.ExpressionModeLenient); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(svc.flags) != 1 || svc.flags[0] != "NEW_EXPRESSIONS" {
		t.Fatalf("expected only enabled flags passed, got %v", svc.flags)
	}
}
