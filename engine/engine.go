// Package engine drives node executions through their lifecycle: create,
// resolve, gate, facilitate, run, advise, end. It owns no business steps of
// its own; step implementations, facilitators and advisers plug in through
// registries.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/advise"
	"github.com/goliatone/go-pipeline/ambiance"
	"github.com/goliatone/go-pipeline/execution"
	"github.com/goliatone/go-pipeline/facilitate"
	"github.com/goliatone/go-pipeline/notify"
	"github.com/goliatone/go-pipeline/plan"
	"github.com/goliatone/go-pipeline/resolve"
)

// concludableStatuses are the states a node may conclude from.
var concludableStatuses = pipeline.NewStatusSet(
	pipeline.StatusQueued,
	pipeline.StatusRunning,
	pipeline.StatusAsyncWaiting,
	pipeline.StatusTaskWaiting,
	pipeline.StatusInputWaiting,
	pipeline.StatusPaused,
)

// Config wires the strategy's collaborators. Zero-value fields fall back to
// in-memory defaults; only Plans is mandatory.
type Config struct {
	Store        execution.Store
	Plans        plan.Service
	Expressions  resolve.ExpressionService
	Facilitators *facilitate.Registry
	Interrupts   facilitate.InterruptStore
	Conditions   facilitate.ConditionEvaluator
	Advisers     *advise.Registry
	Steps        *StepRegistry
	Bus          notify.Bus
	Events       EventPublisher
	Runs         PlanExecutionService
}

// Strategy executes plan nodes.
type Strategy struct {
	store       execution.Store
	plans       plan.Service
	resolver    *resolve.Resolver
	facilitator *facilitate.Engine
	prechecks   *facilitate.Checker
	interrupts  facilitate.InterruptStore
	advisers    *advise.Registry
	steps       *StepRegistry
	bus         notify.Bus
	events      EventPublisher
	runs        PlanExecutionService

	logger Logger
	newID  func() string
	now    func() time.Time

	// strictResolution disables the skipped-node rescue for resolution
	// failures.
	strictResolution bool
}

// Option customizes strategy behavior.
type Option func(*Strategy)

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(s *Strategy) {
		s.logger = normalizeLogger(logger)
	}
}

// WithStrictResolution makes every resolution failure fatal. By default a
// failure is rescued when the pre-facilitation checks skip the node anyway.
func WithStrictResolution(strict bool) Option {
	return func(s *Strategy) {
		s.strictResolution = strict
	}
}

// WithIDGenerator overrides runtime id minting.
func WithIDGenerator(fn func() string) Option {
	return func(s *Strategy) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Strategy) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewStrategy builds a strategy from the config.
func NewStrategy(cfg Config, opts ...Option) (*Strategy, error) {
	if cfg.Plans == nil {
		return nil, cloneEngineError(ErrNodeNotFound, "plan service required", nil, nil)
	}
	if cfg.Store == nil {
		cfg.Store = execution.NewInMemoryStore()
	}
	if cfg.Interrupts == nil {
		cfg.Interrupts = facilitate.NewInMemoryInterruptStore()
	}
	if cfg.Advisers == nil {
		cfg.Advisers = advise.NewRegistry()
	}
	if cfg.Steps == nil {
		cfg.Steps = NewStepRegistry()
	}
	if cfg.Bus == nil {
		cfg.Bus = notify.NewInMemoryBus()
	}

	s := &Strategy{
		store:       cfg.Store,
		plans:       cfg.Plans,
		resolver:    resolve.NewResolver(cfg.Expressions, cfg.Store),
		facilitator: facilitate.NewEngine(cfg.Facilitators),
		prechecks:   facilitate.NewChecker(cfg.Interrupts, cfg.Conditions),
		interrupts:  cfg.Interrupts,
		advisers:    cfg.Advisers,
		steps:       cfg.Steps,
		bus:         cfg.Bus,
		events:      cfg.Events,
		runs:        cfg.Runs,
		logger:      normalizeLogger(nil),
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = normalizeLogger(s.logger)
	return s, nil
}

// CreateRequest describes a node execution to mint. Ambiance is the parent
// context; the strategy appends the node's own level.
type CreateRequest struct {
	Ambiance   ambiance.Ambiance
	Node       plan.Node
	ParentID   string
	PreviousID string
	// NotifyID is signalled on the bus when this execution's subtree ends.
	NotifyID string
	// RetryIDs carry the superseded attempts when this is a retry.
	RetryIDs []string
	// Strategy attaches matrix or iteration metadata to the new level.
	Strategy *ambiance.StrategyMetadata
}

// CreateNodeExecution mints a QUEUED execution for the node.
func (s *Strategy) CreateNodeExecution(ctx context.Context, req CreateRequest) (*execution.NodeExecution, error) {
	runtimeID := s.newID()
	level := ambiance.Level{
		SetupID:             req.Node.UUID,
		RuntimeID:           runtimeID,
		Identifier:          req.Node.Identifier,
		Group:               req.Node.Group,
		StepType:            req.Node.StepType,
		RetryIndex:          len(req.RetryIDs),
		SkipExpressionChain: req.Node.SkipExpressionChain,
		Strategy:            req.Strategy,
		StartedAtMillis:     s.now().UnixMilli(),
	}
	amb := req.Ambiance.CloneForChild(level)

	ne := &execution.NodeExecution{
		UUID:       runtimeID,
		Ambiance:   amb,
		NodeID:     req.Node.UUID,
		ParentID:   req.ParentID,
		PreviousID: req.PreviousID,
		NotifyID:   req.NotifyID,
		Name:       req.Node.Name,
		Identifier: amb.ModifyIdentifier(req.Node.Identifier),
		StepType:   req.Node.StepType,
		Group:      req.Node.Group,
		StageFQN:   req.Node.StageFQN,
		Status:     pipeline.StatusQueued,
		RetryIDs:   append([]string(nil), req.RetryIDs...),
	}
	saved, err := s.store.Save(ctx, ne)
	if err != nil {
		return nil, err
	}
	ambianceLogger(s.logger, amb).Debug("node execution created node=%s", req.Node.Identifier)
	return saved, nil
}

// StartExecution resolves parameters, runs the pre-facilitation gates, and
// facilitates the node. A resolution failure is rescued only when the gates
// skip the node anyway.
func (s *Strategy) StartExecution(ctx context.Context, executionID string) error {
	ne, node, err := s.load(ctx, executionID)
	if err != nil {
		return err
	}
	log := ambianceLogger(s.logger, ne.Ambiance)

	resolved, resolveErr := s.resolver.Resolve(ctx, ne, node.StepParameters, node.ExcludedKeysFromStepInputs, node.ExpressionMode)
	if resolveErr == nil {
		ne = resolved
	} else if s.strictResolution {
		return s.HandleError(ctx, executionID, cloneEngineError(ErrResolutionFailed, "", resolveErr, nil))
	}

	check, err := s.prechecks.Run(ctx, facilitate.CheckContext{
		Ambiance:        ne.Ambiance,
		NodeExecutionID: ne.UUID,
		WhenCondition:   node.WhenCondition,
		ExpressionMode:  node.ExpressionMode,
	})
	if err != nil {
		return s.HandleError(ctx, executionID, err)
	}
	if !check.Proceed {
		if resolveErr != nil {
			log.Warn("resolution failure rescued, node will not run: %v", resolveErr)
		}
		return s.concludeEarly(ctx, ne, check)
	}
	if resolveErr != nil {
		return s.HandleError(ctx, executionID, cloneEngineError(ErrResolutionFailed, "", resolveErr, nil))
	}

	if node.ExecutionInputTemplate != "" && !ne.Ambiance.IsRollbackMode() && !ne.Ambiance.IsRetry() {
		waiting, err := s.store.UpdateStatusWithOps(ctx, ne.UUID, pipeline.StatusInputWaiting, func(rec *execution.NodeExecution) {
			rec.ExecutionInputConfigured = true
		}, pipeline.NewStatusSet(pipeline.StatusQueued))
		if err != nil {
			return err
		}
		if waiting == nil {
			log.Warn("execution input wait rejected, node already moved on")
		}
		return nil
	}

	return s.facilitate(ctx, ne, node)
}

// ProcessExecutionInput merges user-supplied inputs and moves the node out of
// its input wait.
func (s *Strategy) ProcessExecutionInput(ctx context.Context, executionID string, inputs map[string]any) error {
	ne, node, err := s.load(ctx, executionID)
	if err != nil {
		return err
	}
	updated, err := s.store.UpdateStatusWithOps(ctx, executionID, pipeline.StatusQueued, func(rec *execution.NodeExecution) {
		if rec.ResolvedParams == nil && len(inputs) > 0 {
			rec.ResolvedParams = make(map[string]any, len(inputs))
		}
		for k, v := range inputs {
			rec.ResolvedParams[k] = v
		}
		rec.StepInputs = resolve.TrimExcludedKeys(rec.ResolvedParams, node.ExcludedKeysFromStepInputs)
	}, pipeline.NewStatusSet(pipeline.StatusInputWaiting))
	if err != nil {
		return err
	}
	if updated == nil {
		ambianceLogger(s.logger, ne.Ambiance).Warn("execution input ignored, node not waiting for input")
		return nil
	}
	return s.facilitate(ctx, updated, node)
}

func (s *Strategy) facilitate(ctx context.Context, ne *execution.NodeExecution, node plan.Node) error {
	if facilitate.CustomFacilitatorPresent(node.FacilitatorObtainments) && s.events != nil {
		return s.events.PublishFacilitationEvent(ctx, FacilitationEvent{
			NodeExecutionID: ne.UUID,
			Ambiance:        ne.Ambiance,
			Obtainments:     node.FacilitatorObtainments,
			ResolvedParams:  ne.ResolvedParams,
		})
	}
	resp, err := s.facilitator.Facilitate(ctx, ne.Ambiance, ne.ResolvedParams, node.FacilitatorObtainments)
	if err != nil {
		return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrFacilitationFailed, "", err, nil))
	}
	return s.ProcessFacilitationResponse(ctx, ne.UUID, *resp)
}

// ProcessFacilitationResponse persists the chosen mode, re-checks interrupts
// scoped to the node and its stage, and starts the step.
func (s *Strategy) ProcessFacilitationResponse(ctx context.Context, executionID string, resp facilitate.Response) error {
	ne, node, err := s.load(ctx, executionID)
	if err != nil {
		return err
	}
	ne, err = s.store.Update(ctx, executionID, func(rec *execution.NodeExecution) {
		rec.Mode = resp.Mode
	})
	if err != nil {
		return err
	}

	// an interrupt may have landed between the gates and the facilitation
	// answer; the re-check is scoped to this node and its stage so a
	// concurrent stage does not get swept along
	if !ne.Ambiance.IsRetry() {
		scope := []string{ne.UUID}
		if stage, ok := ne.Ambiance.StageLevel(); ok {
			scope = append(scope, stage.RuntimeID)
		}
		active, err := s.interrupts.Active(ctx, ne.Ambiance.PlanExecutionID, scope...)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			first := active[0]
			return s.concludeEarly(ctx, ne, facilitate.Check{
				Reason:    "interrupt " + first.Type + " is active",
				EndStatus: first.EndStatus(),
			})
		}
	}

	if resp.InitialWait > 0 {
		parked := ne
		time.AfterFunc(resp.InitialWait, func() {
			if err := s.startStep(context.Background(), parked, node); err != nil {
				s.logger.Error("delayed step start failed execution=%s: %v", parked.UUID, err)
			}
		})
		return nil
	}
	return s.startStep(ctx, ne, node)
}

func (s *Strategy) startStep(ctx context.Context, ne *execution.NodeExecution, node plan.Node) error {
	resumed, err := s.Resume(ctx, ne.UUID)
	if err != nil || resumed == nil {
		return err
	}
	ne = resumed

	if node.IsIdentity() {
		return s.replayIdentity(ctx, ne, node)
	}

	impl, ok := s.steps.Lookup(node.StepType.Type)
	if !ok {
		return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepNotRegistered, "", nil, map[string]any{
			"step_type": node.StepType.Type,
		}))
	}

	sc := StepContext{Ambiance: ne.Ambiance, Node: node, Execution: ne, Inputs: ne.ResolvedParams}

	switch ne.Mode {
	case pipeline.StepModeSync:
		step, ok := impl.(SyncStep)
		if !ok {
			return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepNotRegistered, "step cannot run synchronously", nil, nil))
		}
		resp, err := step.Run(ctx, sc)
		if err != nil {
			return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepFailed, "", err, nil))
		}
		return s.ProcessStepResponse(ctx, ne.UUID, resp)

	case pipeline.StepModeAsync:
		step, ok := impl.(AsyncStep)
		if !ok {
			return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepNotRegistered, "step cannot run asynchronously", nil, nil))
		}
		callbackID, err := step.Start(ctx, sc)
		if err != nil {
			return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepFailed, "", err, nil))
		}
		return s.awaitExternal(ctx, ne, pipeline.StatusAsyncWaiting, callbackID)

	case pipeline.StepModeTask:
		step, ok := impl.(TaskStep)
		if !ok {
			return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepNotRegistered, "step cannot run as a task", nil, nil))
		}
		taskID, err := step.Queue(ctx, sc)
		if err != nil {
			return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepFailed, "", err, nil))
		}
		return s.awaitExternal(ctx, ne, pipeline.StatusTaskWaiting, taskID)

	case pipeline.StepModeChild, pipeline.StepModeChildChain:
		step, ok := impl.(ChildStep)
		if !ok {
			return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepNotRegistered, "step cannot spawn children", nil, nil))
		}
		return s.spawnChild(ctx, ne, step, sc)

	default:
		return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrFacilitationFailed, "facilitation produced no usable mode", nil, nil))
	}
}

func (s *Strategy) wait(ctx context.Context, ne *execution.NodeExecution, status pipeline.Status, correlationID string) error {
	updated, err := s.store.UpdateStatusWithOps(ctx, ne.UUID, status, func(rec *execution.NodeExecution) {
		rec.CallbackID = correlationID
	}, pipeline.NewStatusSet(pipeline.StatusRunning))
	if err != nil {
		return err
	}
	if updated == nil {
		ambianceLogger(s.logger, ne.Ambiance).Warn("wait transition rejected correlation=%s", correlationID)
	}
	return nil
}

// awaitExternal parks the node and routes the eventual external response,
// keyed by the step's correlation id, back into ResumeNodeExecution.
func (s *Strategy) awaitExternal(ctx context.Context, ne *execution.NodeExecution, status pipeline.Status, correlationID string) error {
	if err := s.wait(ctx, ne, status, correlationID); err != nil {
		return err
	}
	executionID := ne.UUID
	s.bus.Subscribe(correlationID, func(cbCtx context.Context, done notify.Done) {
		if err := s.ResumeNodeExecution(cbCtx, executionID, done.Responses, done.AsyncError); err != nil {
			s.logger.Error("external response handling failed execution=%s: %v", executionID, err)
		}
	})
	return nil
}

// ResumeNodeExecution delivers an external response to a parked node. The
// resumable gate and run-status roll-up apply as in Resume; the waiting step
// interprets the response document. An asyncError is a transport-level fault
// that never produced a business outcome, so it skips the step and concludes
// FAILED through the normal path, keeping advisers in the loop.
func (s *Strategy) ResumeNodeExecution(ctx context.Context, executionID string, responses map[string]any, asyncError bool) error {
	if asyncError {
		return s.ProcessStepResponse(ctx, executionID, StepResponse{
			Status:      pipeline.StatusFailed,
			FailureInfo: failureFromResponses(responses),
		})
	}

	ne, node, err := s.load(ctx, executionID)
	if err != nil {
		return err
	}
	resumed, err := s.Resume(ctx, executionID)
	if err != nil || resumed == nil {
		return err
	}
	ne = resumed

	impl, ok := s.steps.Lookup(node.StepType.Type)
	if !ok {
		return s.HandleError(ctx, executionID, cloneEngineError(ErrStepNotRegistered, "", nil, map[string]any{
			"step_type": node.StepType.Type,
		}))
	}
	responder, ok := impl.(interface {
		HandleResponse(ctx context.Context, sc StepContext, responses map[string]any) (StepResponse, error)
	})
	if !ok {
		return s.HandleError(ctx, executionID, cloneEngineError(ErrStepNotRegistered, "step cannot handle external responses", nil, nil))
	}

	sc := StepContext{Ambiance: ne.Ambiance, Node: node, Execution: ne, Inputs: ne.ResolvedParams}
	resp, err := responder.HandleResponse(ctx, sc, responses)
	if err != nil {
		return s.HandleError(ctx, executionID, cloneEngineError(ErrStepFailed, "", err, nil))
	}
	return s.ProcessStepResponse(ctx, executionID, resp)
}

func failureFromResponses(responses map[string]any) pipeline.FailureInfo {
	if msg, ok := responses["errorMessage"].(string); ok && msg != "" {
		return pipeline.FailureInfo{Message: msg}
	}
	return pipeline.FailureInfo{Message: "external work failed before reporting an outcome"}
}

func (s *Strategy) spawnChild(ctx context.Context, ne *execution.NodeExecution, step ChildStep, sc StepContext) error {
	childNodeID, err := step.Child(ctx, sc)
	if err != nil {
		return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrStepFailed, "", err, nil))
	}
	childNode, err := s.plans.FetchNode(ctx, ne.Ambiance.PlanID, childNodeID)
	if err != nil {
		return s.HandleError(ctx, ne.UUID, cloneEngineError(ErrNodeNotFound, "", err, nil))
	}

	notifyID := s.newID()
	parentID := ne.UUID
	s.bus.Subscribe(notifyID, func(cbCtx context.Context, done notify.Done) {
		if err := s.ProcessStepResponse(cbCtx, parentID, StepResponse{
			Status:      done.Status,
			FailureInfo: done.FailureInfo,
		}); err != nil {
			s.logger.Error("child completion handling failed parent=%s: %v", parentID, err)
		}
	})

	child, err := s.CreateNodeExecution(ctx, CreateRequest{
		Ambiance: ne.Ambiance,
		Node:     childNode,
		ParentID: ne.UUID,
		NotifyID: notifyID,
	})
	if err != nil {
		return s.HandleError(ctx, ne.UUID, err)
	}
	if err := s.wait(ctx, ne, pipeline.StatusAsyncWaiting, notifyID); err != nil {
		return err
	}
	return s.StartExecution(ctx, child.UUID)
}

func (s *Strategy) replayIdentity(ctx context.Context, ne *execution.NodeExecution, node plan.Node) error {
	original, err := s.store.Get(ctx, node.OriginalExecutionID())
	if err != nil {
		return s.HandleError(ctx, ne.UUID, err)
	}
	return s.ProcessStepResponse(ctx, ne.UUID, StepResponse{
		Status:      original.Status,
		FailureInfo: original.FailureInfo,
		Outputs:     original.StepInputs,
	})
}

// Resume moves the node to RUNNING. The transition is guarded by the
// resumable set; a rejection is a decided outcome, not an error. The run
// status only rolls up when the node was not already flowing.
func (s *Strategy) Resume(ctx context.Context, executionID string) (*execution.NodeExecution, error) {
	ne, err := s.store.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	previous := ne.Status

	updated, err := s.store.UpdateStatusWithOps(ctx, executionID, pipeline.StatusRunning, func(rec *execution.NodeExecution) {
		if rec.StartTsMillis == 0 {
			rec.StartTsMillis = s.now().UnixMilli()
		}
	}, pipeline.ResumableStatuses())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		ambianceLogger(s.logger, ne.Ambiance).Warn("resume rejected from status=%s", previous)
		return nil, nil
	}
	if !previous.IsFlowing() && s.runs != nil {
		if err := s.runs.UpdateRunStatus(ctx, ne.Ambiance.PlanExecutionID, pipeline.StatusRunning); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// ProcessStepResponse concludes the node with the step outcome, consulting
// its advisers first. MARK_SUCCESS and IGNORE_FAILURE rewrite the concluded
// status; other directives act after conclusion.
func (s *Strategy) ProcessStepResponse(ctx context.Context, executionID string, resp StepResponse) error {
	ne, node, err := s.load(ctx, executionID)
	if err != nil {
		return err
	}

	adv, err := s.consultAdvisers(ctx, ne, node, resp)
	if err != nil {
		return s.HandleError(ctx, executionID, cloneEngineError(ErrAdviceFailed, "", err, nil))
	}

	finalStatus := resp.Status
	if adv != nil && adv.ToStatus != "" &&
		(adv.Kind == advise.KindMarkSuccess || adv.Kind == advise.KindIgnoreFailure) {
		finalStatus = adv.ToStatus
	}

	concluded, err := s.store.UpdateStatusWithOps(ctx, executionID, finalStatus, func(rec *execution.NodeExecution) {
		rec.FailureInfo = rec.FailureInfo.Merge(resp.FailureInfo)
		rec.AdviserResponse = adv
		rec.EndTsMillis = s.now().UnixMilli()
		if len(resp.Outputs) > 0 {
			if rec.StepInputs == nil {
				rec.StepInputs = make(map[string]any, len(resp.Outputs))
			}
			for k, v := range resp.Outputs {
				rec.StepInputs[k] = v
			}
		}
	}, concludableStatuses)
	if err != nil {
		return err
	}
	if concluded == nil {
		ambianceLogger(s.logger, ne.Ambiance).Warn("conclude rejected status=%s", finalStatus)
		return nil
	}

	if adv != nil {
		return s.ProcessAdviserResponse(ctx, executionID, *adv)
	}
	return s.EndNodeExecution(ctx, executionID)
}

func (s *Strategy) consultAdvisers(ctx context.Context, ne *execution.NodeExecution, node plan.Node, resp StepResponse) (*advise.Advise, error) {
	base := advise.Event{
		Ambiance:    ne.Ambiance,
		ToStatus:    resp.Status,
		FromStatus:  ne.Status,
		FailureInfo: ne.FailureInfo.Merge(resp.FailureInfo),
		RetryCount:  ne.RetryCount(),
	}
	for _, ob := range node.AdviserObtainments {
		adviser, ok := s.advisers.Lookup(ob.Type)
		if !ok {
			ambianceLogger(s.logger, ne.Ambiance).Warn("no adviser registered for type=%s", ob.Type)
			continue
		}
		event := base
		event.Parameters = ob.Parameters
		if !adviser.CanAdvise(event) {
			continue
		}
		adv, err := adviser.OnAdviseEvent(ctx, event)
		if err != nil {
			return nil, err
		}
		if adv != nil {
			return adv, nil
		}
	}
	return nil, nil
}

// ProcessAdviserResponse acts on a persisted adviser directive.
func (s *Strategy) ProcessAdviserResponse(ctx context.Context, executionID string, adv advise.Advise) error {
	ne, node, err := s.load(ctx, executionID)
	if err != nil {
		return err
	}
	log := ambianceLogger(s.logger, ne.Ambiance)

	switch adv.Kind {
	case advise.KindRetry:
		if _, err := s.store.Update(ctx, executionID, func(rec *execution.NodeExecution) {
			rec.OldRetry = true
		}); err != nil {
			return err
		}
		attempt, err := s.CreateNodeExecution(ctx, CreateRequest{
			Ambiance:   ne.Ambiance.CloneForFinish(),
			Node:       node,
			ParentID:   ne.ParentID,
			PreviousID: ne.PreviousID,
			NotifyID:   ne.NotifyID,
			RetryIDs:   append(ne.RetryIDs, ne.UUID),
		})
		if err != nil {
			return err
		}
		log.Info("retrying node attempt=%d wait=%s", attempt.RetryCount(), adv.WaitInterval)
		if adv.WaitInterval > 0 {
			time.AfterFunc(adv.WaitInterval, func() {
				if err := s.StartExecution(context.Background(), attempt.UUID); err != nil {
					s.logger.Error("retry start failed execution=%s: %v", attempt.UUID, err)
				}
			})
			return nil
		}
		return s.StartExecution(ctx, attempt.UUID)

	case advise.KindNextStep:
		return s.startSibling(ctx, ne, adv.NextNodeID)

	case advise.KindMarkSuccess:
		if adv.NextNodeID != "" {
			return s.startSibling(ctx, ne, adv.NextNodeID)
		}
		return s.EndNodeExecution(ctx, executionID)

	case advise.KindIgnoreFailure:
		log.Info("failure ignored, continuing: %s", adv.Message)
		return s.EndNodeExecution(ctx, executionID)

	case advise.KindEndPlan:
		if ne.NotifyID != "" {
			s.bus.DoneWith(ctx, notify.Done{
				CorrelationID:   ne.NotifyID,
				NodeExecutionID: ne.UUID,
				Status:          ne.Status,
				FailureInfo:     ne.FailureInfo,
			})
		}
		if s.runs != nil {
			status := ne.Status
			if adv.Abort {
				status = pipeline.StatusAborted
			}
			return s.runs.EndRun(ctx, ne.Ambiance.PlanExecutionID, status)
		}
		return nil

	default:
		log.Warn("unknown adviser directive kind=%s", adv.Kind)
		return s.EndNodeExecution(ctx, executionID)
	}
}

func (s *Strategy) startSibling(ctx context.Context, ne *execution.NodeExecution, nextNodeID string) error {
	node, err := s.plans.FetchNode(ctx, ne.Ambiance.PlanID, nextNodeID)
	if err != nil {
		return cloneEngineError(ErrNodeNotFound, "", err, map[string]any{"node_id": nextNodeID})
	}
	// the done obligation moves to the sibling; this node stays silent
	next, err := s.CreateNodeExecution(ctx, CreateRequest{
		Ambiance:   ne.Ambiance.CloneForFinish(),
		Node:       node,
		ParentID:   ne.ParentID,
		PreviousID: ne.UUID,
		NotifyID:   ne.NotifyID,
	})
	if err != nil {
		return err
	}
	return s.StartExecution(ctx, next.UUID)
}

// EndNodeExecution signals the waiting parent, or ends the run when nothing
// waits.
func (s *Strategy) EndNodeExecution(ctx context.Context, executionID string) error {
	ne, err := s.store.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if ne.NotifyID != "" {
		s.bus.DoneWith(ctx, notify.Done{
			CorrelationID:   ne.NotifyID,
			NodeExecutionID: ne.UUID,
			Status:          ne.Status,
			FailureInfo:     ne.FailureInfo,
		})
		return nil
	}
	return s.endRun(ctx, ne)
}

func (s *Strategy) endRun(ctx context.Context, ne *execution.NodeExecution) error {
	if s.runs == nil {
		return nil
	}
	status, err := s.runStatus(ctx, ne.Ambiance.PlanExecutionID)
	if err != nil {
		return err
	}
	ambianceLogger(s.logger, ne.Ambiance).Info("plan run ended status=%s", status)
	return s.runs.EndRun(ctx, ne.Ambiance.PlanExecutionID, status)
}

// runStatus rolls the run's node statuses up into one: still-flowing wins,
// then the worst terminal outcome.
func (s *Strategy) runStatus(ctx context.Context, planExecutionID string) (pipeline.Status, error) {
	all, err := s.store.FetchByPlanExecution(ctx, planExecutionID)
	if err != nil {
		return "", err
	}
	seen := make(map[pipeline.Status]bool)
	for _, rec := range all {
		if rec.OldRetry {
			continue
		}
		if !rec.Status.IsTerminal() {
			return pipeline.StatusRunning, nil
		}
		seen[rec.Status] = true
	}
	for _, status := range []pipeline.Status{
		pipeline.StatusAborted,
		pipeline.StatusErrored,
		pipeline.StatusFailed,
		pipeline.StatusExpired,
	} {
		if seen[status] {
			return status, nil
		}
	}
	return pipeline.StatusSucceeded, nil
}

// HandleError routes a failure through the normal conclusion path so advisers
// can still act on it. A second fault inside that path is logged, never
// re-thrown.
func (s *Strategy) HandleError(ctx context.Context, executionID string, cause error) error {
	failure := pipeline.FailureInfo{Message: cause.Error()}
	if code := engineErrorCode(cause); code != "" {
		failure.Errors = []string{code}
	}
	if err := s.ProcessStepResponse(ctx, executionID, StepResponse{
		Status:      pipeline.StatusFailed,
		FailureInfo: failure,
	}); err != nil {
		s.logger.Error("failure handling failed execution=%s: %v", executionID, err)
	}
	return nil
}

// concludeEarly ends a node that never ran: gate rejections and interrupts.
func (s *Strategy) concludeEarly(ctx context.Context, ne *execution.NodeExecution, check facilitate.Check) error {
	status := check.EndStatus
	if status == "" {
		status = pipeline.StatusSkipped
	}
	concluded, err := s.store.UpdateStatusWithOps(ctx, ne.UUID, status, func(rec *execution.NodeExecution) {
		rec.EndTsMillis = s.now().UnixMilli()
		if check.Reason != "" {
			rec.FailureInfo = rec.FailureInfo.Merge(pipeline.FailureInfo{Message: check.Reason})
		}
	}, concludableStatuses)
	if err != nil {
		return err
	}
	if concluded == nil {
		ambianceLogger(s.logger, ne.Ambiance).Warn("early conclusion rejected status=%s", status)
		return nil
	}
	ambianceLogger(s.logger, ne.Ambiance).Info("node concluded without running status=%s reason=%s", status, check.Reason)
	return s.EndNodeExecution(ctx, ne.UUID)
}

func (s *Strategy) load(ctx context.Context, executionID string) (*execution.NodeExecution, plan.Node, error) {
	ne, err := s.store.Get(ctx, executionID)
	if err != nil {
		return nil, plan.Node{}, err
	}
	node, err := s.plans.FetchNode(ctx, ne.Ambiance.PlanID, ne.NodeID)
	if err != nil {
		return nil, plan.Node{}, cloneEngineError(ErrNodeNotFound, "", err, map[string]any{"node_id": ne.NodeID})
	}
	return ne, node, nil
}
