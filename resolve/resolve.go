// Package resolve turns a node's parameter template into the resolved
// document persisted on its execution. Expressions are resolved per attempt;
// the persisted step inputs are the resolved document minus the node's
// excluded keys.
package resolve

import (
	"context"
	"strings"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/ambiance"
	"github.com/goliatone/go-pipeline/execution"
)

// ExpressionService resolves expressions inside a parameter document against
// the execution context. Lenient mode leaves unresolved expressions as their
// literal text; strict mode fails on the first one. enabledFlags are the
// run's active feature flags, passed through so the service can gate
// expression features per run.
type ExpressionService interface {
	Resolve(ctx context.Context, amb ambiance.Ambiance, doc map[string]any, mode pipeline.ExpressionMode, enabledFlags []string) (map[string]any, error)
}

// NoopExpressionService returns every document unchanged. Useful when plans
// carry no expressions, and in tests.
type NoopExpressionService struct{}

func (NoopExpressionService) Resolve(_ context.Context, _ ambiance.Ambiance, doc map[string]any, _ pipeline.ExpressionMode, _ []string) (map[string]any, error) {
	return doc, nil
}

// Resolver resolves and persists node parameters.
type Resolver struct {
	expressions ExpressionService
	store       execution.Store
}

// NewResolver builds a resolver; a nil expression service degrades to the
// no-op one.
func NewResolver(expressions ExpressionService, store execution.Store) *Resolver {
	if expressions == nil {
		expressions = NoopExpressionService{}
	}
	return &Resolver{expressions: expressions, store: store}
}

// Resolve resolves the template and persists both the resolved parameters and
// the trimmed step inputs on the execution record.
func (r *Resolver) Resolve(ctx context.Context, ne *execution.NodeExecution, template map[string]any, excludedKeys []string, mode pipeline.ExpressionMode) (*execution.NodeExecution, error) {
	resolved, err := r.expressions.Resolve(ctx, ne.Ambiance, template, mode, ne.Ambiance.EnabledFeatureFlags())
	if err != nil {
		return nil, err
	}
	inputs := TrimExcludedKeys(resolved, excludedKeys)
	return r.store.Update(ctx, ne.UUID, func(rec *execution.NodeExecution) {
		rec.ResolvedParams = resolved
		rec.StepInputs = inputs
	})
}

// TrimExcludedKeys removes the dot-separated paths from the document without
// mutating it. Only the maps along a removed path are copied; untouched
// subtrees are shared with the input.
func TrimExcludedKeys(doc map[string]any, keys []string) map[string]any {
	if len(keys) == 0 || doc == nil {
		return doc
	}
	out := doc
	for _, key := range keys {
		path := strings.Split(key, ".")
		if trimmed, changed := removePath(out, path); changed {
			out = trimmed
		}
	}
	return out
}

func removePath(doc map[string]any, path []string) (map[string]any, bool) {
	if len(path) == 0 {
		return doc, false
	}
	value, ok := doc[path[0]]
	if !ok {
		return doc, false
	}
	if len(path) == 1 {
		cp := copyShallow(doc)
		delete(cp, path[0])
		return cp, true
	}
	child, ok := value.(map[string]any)
	if !ok {
		return doc, false
	}
	trimmed, changed := removePath(child, path[1:])
	if !changed {
		return doc, false
	}
	cp := copyShallow(doc)
	cp[path[0]] = trimmed
	return cp, true
}

func copyShallow(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
