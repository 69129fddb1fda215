// Package pipeline holds the shared primitives of the execution core: node
// statuses, step typing, execution modes and failure payloads. Every other
// package in the module builds on these types.
package pipeline

import "strings"

// StepCategory classifies a plan node within the graph hierarchy.
type StepCategory string

const (
	CategoryStep     StepCategory = "STEP"
	CategoryStage    StepCategory = "STAGE"
	CategoryStrategy StepCategory = "STRATEGY"
	CategoryFork     StepCategory = "FORK"
	CategoryPipeline StepCategory = "PIPELINE"
	CategoryUnknown  StepCategory = "UNKNOWN"
)

// StepType identifies the concrete step implementation and its category.
type StepType struct {
	Type     string       `json:"type" yaml:"type"`
	Category StepCategory `json:"category" yaml:"category"`
}

// IsStage reports whether the step type belongs to a stage node.
func (t StepType) IsStage() bool { return t.Category == CategoryStage }

// ExecutionMode is the run type of a plan execution.
type ExecutionMode string

const (
	ModeNormal                ExecutionMode = "NORMAL"
	ModePipelineRollback      ExecutionMode = "PIPELINE_ROLLBACK"
	ModePostExecutionRollback ExecutionMode = "POST_EXECUTION_ROLLBACK"
)

// IsRollback reports whether the run replays a prior execution.
func (m ExecutionMode) IsRollback() bool {
	return m == ModePipelineRollback || m == ModePostExecutionRollback
}

// StepMode is the execution strategy facilitation chose for a node.
type StepMode string

const (
	StepModeSync       StepMode = "SYNC"
	StepModeAsync      StepMode = "ASYNC"
	StepModeTask       StepMode = "TASK"
	StepModeChild      StepMode = "CHILD"
	StepModeChildChain StepMode = "CHILD_CHAIN"
)

// ExpressionMode controls how unresolved expressions behave during
// parameter resolution.
type ExpressionMode string

const (
	// ExpressionModeLenient leaves unresolved expressions in place as literal strings.
	ExpressionModeLenient ExpressionMode = "RETURN_ORIGINAL"
	// ExpressionModeStrict fails resolution on the first unresolved expression.
	ExpressionModeStrict ExpressionMode = "THROW"
)

// FailureInfo carries the accumulated failure detail of a node execution.
type FailureInfo struct {
	Message string   `json:"message" yaml:"message"`
	Errors  []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Merge folds another failure into this one, keeping the first message.
func (f FailureInfo) Merge(other FailureInfo) FailureInfo {
	out := f
	if strings.TrimSpace(out.Message) == "" {
		out.Message = other.Message
	} else if strings.TrimSpace(other.Message) != "" {
		out.Errors = append(out.Errors, other.Message)
	}
	out.Errors = append(out.Errors, other.Errors...)
	return out
}

// Empty reports whether the failure carries no detail at all.
func (f FailureInfo) Empty() bool {
	return strings.TrimSpace(f.Message) == "" && len(f.Errors) == 0
}
