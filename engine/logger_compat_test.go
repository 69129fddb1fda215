package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/plan"
)

type glogCompatLogger struct {
	logger glog.Logger
}

func (l glogCompatLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogCompatLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogCompatLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogCompatLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogCompatLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogCompatLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogCompatLogger) WithContext(ctx context.Context) Logger {
	if l.logger == nil {
		return NewFmtLogger(nil).WithContext(ctx)
	}
	return glogCompatLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogCompatLogger) WithFields(fields map[string]any) Logger {
	if l.logger == nil {
		return NewFmtLogger(nil).WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogCompatLogger{logger: fl.WithFields(fields)}
	}
	return l
}

func TestLoggerCompatibility_BaseLoggerAndFmtFallback(t *testing.T) {
	node := syncNode("n1", "build", "ShellScript")
	steps := NewStepRegistry()
	_ = steps.Register("ShellScript", SyncStepFunc(func(context.Context, StepContext) (StepResponse, error) {
		return StepResponse{Status: pipeline.StatusSucceeded}, nil
	}))
	plans := stubPlans{plans: map[string]plan.Plan{"plan-1": {Nodes: []plan.Node{node}}}}

	buf := &bytes.Buffer{}
	base := glog.NewLogger(
		glog.WithWriter(buf),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel("trace"),
	)
	logger := glogCompatLogger{logger: base}

	s := newStrategy(t, Config{Plans: plans, Steps: steps}, WithLogger(logger))
	ctx := context.Background()
	ne, err := s.CreateNodeExecution(ctx, CreateRequest{Ambiance: rootAmbiance(), Node: node})
	if err != nil {
		t.Fatalf("create with base logger: %v", err)
	}
	if err := s.StartExecution(ctx, ne.UUID); err != nil {
		t.Fatalf("start with base logger: %v", err)
	}
	logged := buf.String()
	if strings.TrimSpace(logged) == "" {
		t.Fatalf("expected go-logger BaseLogger output")
	}
	if !strings.Contains(logged, "plan_execution_id") {
		t.Fatalf("expected structured correlation fields in BaseLogger output")
	}

	fallback := newStrategy(t, Config{Plans: plans, Steps: steps}, WithLogger(nil))
	if _, ok := fallback.logger.(*FmtLogger); !ok {
		t.Fatalf("expected nil logger to normalize to FmtLogger fallback")
	}
}
