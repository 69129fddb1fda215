package rollback

import (
	"context"
	"strings"

	apperrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/execution"
)

const (
	ErrCodeMalformedDocument = "ROLLBACK_DOCUMENT_MALFORMED"
	ErrCodeStageInProgress   = "ROLLBACK_STAGE_IN_PROGRESS"
)

var (
	ErrMalformedDocument = apperrors.New("pipeline document is malformed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeMalformedDocument)
	ErrStageInProgress = apperrors.New("stage is still in progress", apperrors.CategoryConflict).
				WithTextCode(ErrCodeStageInProgress)
)

func malformed(message string, source error) *apperrors.Error {
	err := ErrMalformedDocument.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	return err
}

// StageRecord is the execution outcome of one stage in the original run, the
// minimum the document transformation needs to decide eligibility.
type StageRecord struct {
	ExecutionID string
	Identifier  string
	Status      pipeline.Status
	Category    pipeline.StepCategory
}

// executed reports whether the stage finished in a way rollback can act on.
// A RUNNING strategy stage counts: a looped stage may still be winding down
// sibling iterations while already eligible for rollback.
func (r StageRecord) executed() bool {
	if r.Status.IsTerminal() {
		return true
	}
	return r.Category == pipeline.CategoryStrategy && r.Status == pipeline.StatusRunning
}

// YamlTransformer rewrites a resolved pipeline document for a rollback run,
// pulling the original run's stage outcomes from the execution store.
type YamlTransformer struct {
	store execution.Store
	// reserved names the synthetic stage that performs pipeline rollback; it
	// must never roll itself back.
	reserved string
}

// NewYamlTransformer builds a transformer over the execution store.
func NewYamlTransformer(store execution.Store, reservedStageIdentifier string) *YamlTransformer {
	return &YamlTransformer{store: store, reserved: reservedStageIdentifier}
}

// Transform rewrites doc for the given rollback mode. For pipeline rollback
// every stage that executed in the original run is eligible; for
// post-execution rollback only the stage executions named in
// requestedStageExecutionIDs are considered.
func (t *YamlTransformer) Transform(ctx context.Context, doc []byte, mode pipeline.ExecutionMode, originalPlanExecutionID string, requestedStageExecutionIDs []string) ([]byte, error) {
	stages, err := t.store.FetchStageExecutions(ctx, originalPlanExecutionID)
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(requestedStageExecutionIDs))
	for _, id := range requestedStageExecutionIDs {
		requested[id] = true
	}

	records := make([]StageRecord, 0, len(stages))
	for _, ne := range stages {
		if mode == pipeline.ModePostExecutionRollback && !requested[ne.UUID] {
			continue
		}
		records = append(records, StageRecord{
			ExecutionID: ne.UUID,
			Identifier:  ne.Identifier,
			Status:      ne.Status,
			Category:    ne.StepType.Category,
		})
	}
	return TransformDocument(doc, mode, records, t.reserved)
}

// TransformDocument rewrites a resolved pipeline document so it rolls back
// the given stages. Pipeline rollback keeps every executed stage except the
// reserved rollback stage, retains parallel blocks whole when any member
// executed, and reverses the result. Post-execution rollback fails fast if
// any requested stage is still in progress, filters parallel blocks down to
// their executed members, and drops blocks left empty. A document that does
// not parse, or lacks the pipeline stage list, is a fatal error.
func TransformDocument(doc []byte, mode pipeline.ExecutionMode, stages []StageRecord, reservedStageIdentifier string) ([]byte, error) {
	executed := make(map[string]bool, len(stages))
	for _, record := range stages {
		if mode == pipeline.ModePostExecutionRollback && !record.executed() {
			err := ErrStageInProgress.Clone()
			err.Message = "stage " + record.Identifier + " is still in progress"
			return nil, err
		}
		if record.Identifier == reservedStageIdentifier {
			continue
		}
		if record.executed() {
			executed[record.Identifier] = true
		}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, malformed("pipeline document is not valid yaml", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, malformed("pipeline document is empty", nil)
	}
	pipelineNode := mappingValue(root.Content[0], "pipeline")
	if pipelineNode == nil {
		return nil, malformed("pipeline document has no pipeline block", nil)
	}
	stagesNode := mappingValue(pipelineNode, "stages")
	if stagesNode == nil || stagesNode.Kind != yaml.SequenceNode {
		return nil, malformed("pipeline block has no stage list", nil)
	}

	partial := mode == pipeline.ModePostExecutionRollback
	kept := make([]*yaml.Node, 0, len(stagesNode.Content))
	for _, entry := range stagesNode.Content {
		if stage := mappingValue(entry, "stage"); stage != nil {
			id := scalarValue(stage, "identifier")
			if id == "" {
				return nil, malformed("stage entry has no identifier", nil)
			}
			if executed[id] {
				kept = append(kept, entry)
			}
			continue
		}
		if block := mappingValue(entry, "parallel"); block != nil && block.Kind == yaml.SequenceNode {
			members, err := filterParallel(block.Content, executed, partial)
			if err != nil {
				return nil, err
			}
			if len(members) == 0 {
				continue
			}
			block.Content = members
			kept = append(kept, entry)
			continue
		}
		return nil, malformed("unrecognized stage entry", nil)
	}

	// rollback runs stages in reverse of their original order
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	stagesNode.Content = kept

	out, err := yaml.Marshal(&root)
	if err != nil {
		return nil, malformed("pipeline document could not be serialized", err)
	}
	return out, nil
}

// filterParallel decides which members of a parallel block survive. Whole
// blocks survive intact when any member executed; partial filtering keeps
// only the executed members.
func filterParallel(members []*yaml.Node, executed map[string]bool, partial bool) ([]*yaml.Node, error) {
	kept := make([]*yaml.Node, 0, len(members))
	anyExecuted := false
	for _, member := range members {
		stage := mappingValue(member, "stage")
		if stage == nil {
			return nil, malformed("parallel block entry is not a stage", nil)
		}
		id := scalarValue(stage, "identifier")
		if id == "" {
			return nil, malformed("stage entry has no identifier", nil)
		}
		if executed[id] {
			anyExecuted = true
			kept = append(kept, member)
		}
	}
	if !anyExecuted {
		return nil, nil
	}
	if partial {
		return kept, nil
	}
	return members, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func scalarValue(node *yaml.Node, key string) string {
	value := mappingValue(node, key)
	if value == nil || value.Kind != yaml.ScalarNode {
		return ""
	}
	return value.Value
}
