// Package ambiance models the hierarchical execution context of a run: an
// append-only path of levels locating an operation inside the node graph,
// plus run-scoped metadata. Values are never mutated in place; every
// transformation returns a new Ambiance.
package ambiance

import (
	"sort"
	"strings"

	"github.com/goliatone/go-pipeline"
)

// Level is one entry in the ambiance path. The last level is the node the
// current operation belongs to.
type Level struct {
	SetupID             string
	RuntimeID           string
	Identifier          string
	Group               string
	StepType            pipeline.StepType
	RetryIndex          int
	SkipExpressionChain bool
	NodeType            string
	Strategy            *StrategyMetadata
	StartedAtMillis     int64
}

// HasStrategy reports whether the level belongs to a looped/matrix expansion.
func (l Level) HasStrategy() bool { return l.Strategy != nil }

// TriggerInfo identifies what started the run.
type TriggerInfo struct {
	Type       string
	Identifier string
	ExtraInfo  map[string]string
}

// Metadata is run-scoped configuration shared by every node of the run.
type Metadata struct {
	PipelineIdentifier      string
	ExecutionMode           pipeline.ExecutionMode
	OriginalPlanExecutionID string
	RunSequence             int
	Trigger                 TriggerInfo
	FeatureFlags            map[string]bool
	Settings                map[string]string
}

// Ambiance is the immutable execution context passed through the engine.
type Ambiance struct {
	PlanID                   string
	PlanExecutionID          string
	StageExecutionID         string
	OriginalStageExecutionID string
	SetupAbstractions        map[string]string
	Metadata                 Metadata
	Levels                   []Level
}

// CurrentLevel returns the last level of the path.
func (a Ambiance) CurrentLevel() (Level, bool) {
	if len(a.Levels) == 0 {
		return Level{}, false
	}
	return a.Levels[len(a.Levels)-1], true
}

// ParentLevel returns the second-to-last level of the path.
func (a Ambiance) ParentLevel() (Level, bool) {
	if len(a.Levels) < 2 {
		return Level{}, false
	}
	return a.Levels[len(a.Levels)-2], true
}

// CurrentRuntimeID is the runtime id of the current level, or "".
func (a Ambiance) CurrentRuntimeID() string {
	level, ok := a.CurrentLevel()
	if !ok {
		return ""
	}
	return level.RuntimeID
}

// CurrentSetupID is the static plan-node id of the current level, or "".
func (a Ambiance) CurrentSetupID() string {
	level, ok := a.CurrentLevel()
	if !ok {
		return ""
	}
	return level.SetupID
}

// CurrentIdentifier is the identifier of the current level, or "".
func (a Ambiance) CurrentIdentifier() string {
	level, ok := a.CurrentLevel()
	if !ok {
		return ""
	}
	return level.Identifier
}

// CurrentStepType is the step type of the current level.
func (a Ambiance) CurrentStepType() pipeline.StepType {
	level, ok := a.CurrentLevel()
	if !ok {
		return pipeline.StepType{}
	}
	return level.StepType
}

// ParentRuntimeID is the runtime id of the parent level, or "".
func (a Ambiance) ParentRuntimeID() string {
	level, ok := a.ParentLevel()
	if !ok {
		return ""
	}
	return level.RuntimeID
}

// IsRetry reports whether the current level is a retried attempt.
func (a Ambiance) IsRetry() bool {
	level, ok := a.CurrentLevel()
	return ok && level.RetryIndex != 0
}

// CloneForChild returns the ambiance with level appended, identifying a child
// node execution.
func (a Ambiance) CloneForChild(level Level) Ambiance {
	return a.clone(len(a.Levels), &level)
}

// CloneForFinish returns the ambiance truncated to the parent's path, used
// when bubbling a completion upward.
func (a Ambiance) CloneForFinish() Ambiance {
	return a.clone(len(a.Levels)-1, nil)
}

// CloneForFinishWithLevel truncates to the parent's path and appends a
// replacement terminal level.
func (a Ambiance) CloneForFinishWithLevel(level Level) Ambiance {
	return a.clone(len(a.Levels)-1, &level)
}

func (a Ambiance) clone(levelsToKeep int, extra *Level) Ambiance {
	if levelsToKeep < 0 {
		levelsToKeep = 0
	}
	if levelsToKeep > len(a.Levels) {
		levelsToKeep = len(a.Levels)
	}
	capacity := levelsToKeep
	if extra != nil {
		capacity++
	}
	out := a
	out.Levels = make([]Level, 0, capacity)
	out.Levels = append(out.Levels, a.Levels[:levelsToKeep]...)
	if extra != nil {
		out.Levels = append(out.Levels, *extra)
	}
	out.SetupAbstractions = copyStringMap(a.SetupAbstractions)
	out.Metadata.FeatureFlags = copyBoolMap(a.Metadata.FeatureFlags)
	out.Metadata.Settings = copyStringMap(a.Metadata.Settings)
	out.Metadata.Trigger.ExtraInfo = copyStringMap(a.Metadata.Trigger.ExtraInfo)
	return out
}

// StageLevel returns the innermost enclosing stage level. Stage membership is
// decided by step category or by the legacy "STAGE" group tag.
func (a Ambiance) StageLevel() (Level, bool) {
	return a.lastLevel(func(l Level) bool {
		return l.StepType.Category == pipeline.CategoryStage || l.Group == string(pipeline.CategoryStage)
	})
}

// StrategyLevel returns the innermost enclosing strategy level.
func (a Ambiance) StrategyLevel() (Level, bool) {
	return a.lastLevel(func(l Level) bool {
		return l.StepType.Category == pipeline.CategoryStrategy
	})
}

// StepGroupLevel returns the first step-group level scanning from the root.
// Callers that need the innermost group must use NearestStepGroupWithStrategy;
// the two scans are not interchangeable.
func (a Ambiance) StepGroupLevel() (Level, bool) {
	for _, level := range a.Levels {
		if level.StepType.Type == StepGroupType {
			return level, true
		}
	}
	return Level{}, false
}

// NearestStepGroupWithStrategy scans from the end of the path backward for a
// step-group level whose immediate parent is a strategy level.
func (a Ambiance) NearestStepGroupWithStrategy() (Level, bool) {
	for idx := len(a.Levels) - 1; idx > 0; idx-- {
		level := a.Levels[idx]
		parent := a.Levels[idx-1]
		if level.StepType.Type == StepGroupType && parent.StepType.Category == pipeline.CategoryStrategy {
			return level, true
		}
	}
	return Level{}, false
}

func (a Ambiance) lastLevel(match func(Level) bool) (Level, bool) {
	found := Level{}
	ok := false
	for _, level := range a.Levels {
		if match(level) {
			found = level
			ok = true
		}
	}
	return found, ok
}

// StepGroupType is the step type name of step-group levels.
const StepGroupType = "STEP_GROUP"

// FQN joins the identifiers of all qualifying levels with dots. Levels whose
// identifier or setup id is empty, or that opted out of the expression chain,
// are excluded.
func (a Ambiance) FQN() string {
	parts := make([]string, 0, len(a.Levels))
	for _, level := range a.Levels {
		if includeInQualifiedName(level) {
			parts = append(parts, level.Identifier)
		}
	}
	return strings.Join(parts, ".")
}

func includeInQualifiedName(level Level) bool {
	if level.SkipExpressionChain {
		return false
	}
	return strings.TrimSpace(level.Identifier) != "" && strings.TrimSpace(level.SetupID) != ""
}

// IsRollbackMode reports whether the run replays a prior execution.
func (a Ambiance) IsRollbackMode() bool {
	return a.Metadata.ExecutionMode.IsRollback()
}

// StageExecutionIDForMode resolves to the original run's stage execution id
// when executing in a rollback mode.
func (a Ambiance) StageExecutionIDForMode() string {
	if a.IsRollbackMode() {
		return a.OriginalStageExecutionID
	}
	return a.StageExecutionID
}

// PlanExecutionIDForMode resolves to the original run's plan execution id
// when executing in a rollback mode.
func (a Ambiance) PlanExecutionIDForMode() string {
	if a.IsRollbackMode() {
		return a.Metadata.OriginalPlanExecutionID
	}
	return a.PlanExecutionID
}

// SettingEnabled reports whether a boolean run setting is "true".
func (a Ambiance) SettingEnabled(settingID string) bool {
	return a.Metadata.Settings[settingID] == "true"
}

// SettingValue returns the raw value of a run setting.
func (a Ambiance) SettingValue(settingID string) string {
	return a.Metadata.Settings[settingID]
}

// FeatureFlagEnabled reports whether a run feature flag is on.
func (a Ambiance) FeatureFlagEnabled(flag string) bool {
	return a.Metadata.FeatureFlags[flag]
}

// EnabledFeatureFlags lists the enabled flags in stable order.
func (a Ambiance) EnabledFeatureFlags() []string {
	if len(a.Metadata.FeatureFlags) == 0 {
		return nil
	}
	flags := make([]string, 0, len(a.Metadata.FeatureFlags))
	for flag, enabled := range a.Metadata.FeatureFlags {
		if enabled {
			flags = append(flags, flag)
		}
	}
	sort.Strings(flags)
	return flags
}

// SetupAbstraction returns a run scope key such as account or project.
func (a Ambiance) SetupAbstraction(key string) string {
	return a.SetupAbstractions[key]
}

// LogFields returns the structured correlation fields for this context.
func (a Ambiance) LogFields() map[string]any {
	fields := make(map[string]any, len(a.SetupAbstractions)+6)
	for k, v := range a.SetupAbstractions {
		fields[k] = v
	}
	fields["plan_execution_id"] = a.PlanExecutionID
	if a.Metadata.PipelineIdentifier != "" {
		fields["pipeline_identifier"] = a.Metadata.PipelineIdentifier
	}
	if level, ok := a.CurrentLevel(); ok {
		fields["identifier"] = level.Identifier
		fields["runtime_id"] = level.RuntimeID
		fields["setup_id"] = level.SetupID
		fields["step_type"] = level.StepType.Type
	}
	return fields
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyBoolMap(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
