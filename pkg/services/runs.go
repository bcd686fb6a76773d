package services

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/dukex/onboardflow/pkg/events"
	"github.com/dukex/onboardflow/pkg/lock"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/otelhelper"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/dukex/onboardflow/pkg/rules"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Runs instantiates workflow runs for subjects and drives them node by node.
type Runs struct {
	*config

	persistence persistence.Persistence
	evaluator   *rules.ConditionEvaluator
	resolver    *rules.AssignmentResolver
}

// NewRuns creates a new run orchestrator.
func NewRuns(p persistence.Persistence, opts ...Option) *Runs {
	c := newConfig("runs", opts)

	return &Runs{
		config:      c,
		persistence: p,
		evaluator:   rules.NewConditionEvaluator(c.hierarchy),
		resolver:    rules.NewAssignmentResolver(c.directory),
	}
}

// StartRun binds a new run to the ACTIVE version and activates the start node.
func (r *Runs) StartRun(ctx context.Context, tenantID, actorID, workflowID string, subject models.SubjectContext, metadata map[string]any) (*models.WorkflowRun, error) {
	const op = "Runs.StartRun"

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runs.start",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.SubjectIDKey, subject.SubjectID),
	)
	defer span.End()

	run, err := r.startRun(ctx, op, tenantID, actorID, workflowID, subject, metadata)
	if err != nil {
		otelhelper.SetError(span, err, string(KindOf(err)))
		r.logger.ErrorContext(ctx, "failed to start run", "workflow_id", workflowID, "subject_id", subject.SubjectID, "error", err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.Int(otelhelper.FastForwardedKey, len(run.NodeRuns)-len(run.OpenNodeRuns())),
	)

	return run, nil
}

func (r *Runs) startRun(ctx context.Context, op, tenantID, actorID, workflowID string, subject models.SubjectContext, metadata map[string]any) (*models.WorkflowRun, error) {
	err := r.validate.Struct(&subject)
	if err != nil {
		return nil, invalidInput(op, err)
	}

	version, err := activeVersion(ctx, r.persistence, op, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	run := &models.WorkflowRun{
		ID:                newID(),
		TenantID:          tenantID,
		WorkflowID:        workflowID,
		WorkflowVersionID: version.ID,
		SubjectID:         subject.SubjectID,
		Subject:           subject.Clone(),
		Status:            models.RunStatusRunning,
		Metadata:          models.CloneMap(metadata),
		CreatedBy:         actorID,
	}

	adv := r.newAdvancer(ctx, op, run, version.Graph)
	run.StartedAt = adv.now()

	done, err := adv.enter(version.Graph.StartID)
	if err != nil {
		return nil, err
	}

	if done {
		r.finish(run, adv.now())
	}

	err = r.persistence.RunRepository().Create(ctx, run, adv.created)
	if err != nil {
		return nil, wrap(op, err)
	}

	run.NodeRuns = adv.created

	r.logger.InfoContext(ctx, "run started",
		"run_id", run.ID,
		"workflow_id", workflowID,
		"version_id", version.ID,
		"subject_id", run.SubjectID,
		"status", run.Status,
	)

	r.notify(ctx, run.ID, &events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, run.StartedAt, tenantID, workflowID),
		RunID:     run.ID,
		VersionID: version.ID,
		SubjectID: run.SubjectID,
		StartedBy: actorID,
	})
	r.announce(ctx, run, version.Graph, nil, adv.created)

	return run, nil
}

// CompleteNodeRun records the outcome of an open node run and advances the run.
// Completing an already completed node run with an equal outcome returns the current run.
func (r *Runs) CompleteNodeRun(ctx context.Context, tenantID, nodeRunID string, outcome map[string]any) (*models.WorkflowRun, error) {
	const op = "Runs.CompleteNodeRun"

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runs.complete_node_run",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.NodeRunIDKey, nodeRunID),
	)
	defer span.End()

	run, err := r.completeNodeRun(ctx, op, tenantID, nodeRunID, outcome)
	if err != nil {
		otelhelper.SetError(span, err, string(KindOf(err)))
		r.logger.ErrorContext(ctx, "failed to complete node run", "node_run_id", nodeRunID, "error", err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.ID))

	return run, nil
}

func (r *Runs) completeNodeRun(ctx context.Context, op, tenantID, nodeRunID string, outcome map[string]any) (*models.WorkflowRun, error) {
	unlock, run, current, err := r.lockNodeRun(ctx, op, tenantID, nodeRunID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(otelhelper.NodeIDKey, current.NodeID),
		attribute.String(otelhelper.NodeTypeKey, string(current.NodeType)),
	)

	settled, err := settledCompletion(op, current, outcome)
	if err != nil || settled {
		return run, err
	}

	if run.Status != models.RunStatusRunning {
		return nil, invalidState(op, "run", run.ID, "run is %s", run.Status)
	}

	version, node, err := r.nodeOf(ctx, op, run, current)
	if err != nil {
		return nil, err
	}

	adv := r.newAdvancer(ctx, op, run, version.Graph)
	completedAt := adv.now()

	completed := *current
	completed.Status = models.NodeRunStatusCompleted
	completed.CompletedAt = &completedAt
	completed.Outcome = models.CloneMap(outcome)

	var branch *bool

	if node.Type == models.NodeTypeCondition {
		branch, err = r.evaluateBranch(adv, node)
		if err != nil {
			return nil, err
		}

		if completed.Outcome == nil {
			completed.Outcome = map[string]any{}
		}

		completed.Outcome["result"] = *branch
	}

	header := *run
	header.NodeRuns = nil

	next, ok, err := adv.next(node, branch)
	if err != nil {
		return nil, err
	}

	done := !ok
	if ok {
		done, err = adv.enter(next)
		if err != nil {
			return nil, err
		}
	}

	if done {
		r.finish(&header, completedAt)
	}

	err = r.persistence.RunRepository().ApplyTransition(ctx, persistence.Transition{
		Run:       &header,
		ExpectRun: models.RunStatusRunning,
		Expect:    []persistence.Expectation{{NodeRunID: current.ID, Status: current.Status}},
		Updated:   []*models.NodeRun{&completed},
		Created:   adv.created,
	})
	if err != nil {
		if persistence.IsStaleTransition(err) {
			return r.replayCompletion(ctx, op, tenantID, nodeRunID, outcome)
		}

		return nil, wrap(op, err)
	}

	r.logger.InfoContext(ctx, "node run completed",
		"run_id", run.ID,
		"node_run_id", nodeRunID,
		"node_id", current.NodeID,
		"activated", len(adv.created),
		"run_status", header.Status,
	)

	r.announce(ctx, &header, version.Graph, &completed, adv.created)

	return r.loadRun(ctx, op, tenantID, run.ID)
}

// replayCompletion re-applies the idempotency rules after losing a race for the node run.
func (r *Runs) replayCompletion(ctx context.Context, op, tenantID, nodeRunID string, outcome map[string]any) (*models.WorkflowRun, error) {
	run, current, err := r.loadNodeRun(ctx, op, tenantID, nodeRunID)
	if err != nil {
		return nil, err
	}

	settled, err := settledCompletion(op, current, outcome)
	if err != nil || settled {
		return run, err
	}

	return nil, invalidState(op, "node_run", nodeRunID, "run %s changed concurrently", run.ID)
}

// StartNodeRun acknowledges a pending node run. Repeating it on an in-progress node run is a no-op.
func (r *Runs) StartNodeRun(ctx context.Context, tenantID, nodeRunID string) (*models.NodeRun, error) {
	const op = "Runs.StartNodeRun"

	unlock, run, current, err := r.lockNodeRun(ctx, op, tenantID, nodeRunID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch current.Status {
	case models.NodeRunStatusInProgress:
		return current, nil
	case models.NodeRunStatusPending:
	default:
		return nil, invalidState(op, "node_run", nodeRunID, "node run is %s", current.Status)
	}

	if run.Status != models.RunStatusRunning {
		return nil, invalidState(op, "run", run.ID, "run is %s", run.Status)
	}

	started := *current
	started.Status = models.NodeRunStatusInProgress

	header := *run
	header.NodeRuns = nil

	err = r.persistence.RunRepository().ApplyTransition(ctx, persistence.Transition{
		Run:       &header,
		ExpectRun: models.RunStatusRunning,
		Expect:    []persistence.Expectation{{NodeRunID: current.ID, Status: models.NodeRunStatusPending}},
		Updated:   []*models.NodeRun{&started},
	})
	if err != nil {
		return nil, wrap(op, err)
	}

	r.logger.InfoContext(ctx, "node run started", "run_id", run.ID, "node_run_id", nodeRunID)

	return &started, nil
}

// CancelRun stops a running run and skips its open node runs. Cancelling a cancelled run is a no-op.
func (r *Runs) CancelRun(ctx context.Context, tenantID, runID, reason string) (*models.WorkflowRun, error) {
	const op = "Runs.CancelRun"

	unlock, err := r.locker.Lock(ctx, lock.RunKey(runID))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer unlock()

	run, err := r.loadRun(ctx, op, tenantID, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case models.RunStatusCancelled:
		return run, nil
	case models.RunStatusCompleted:
		return nil, invalidState(op, "run", runID, "run is already completed")
	}

	now := r.now()

	header := *run
	header.NodeRuns = nil
	header.Status = models.RunStatusCancelled
	header.EndedAt = &now
	header.CancelReason = reason

	expect := make([]persistence.Expectation, 0)
	skipped := make([]*models.NodeRun, 0)
	skippedNodes := make([]string, 0)

	for _, nodeRun := range run.OpenNodeRuns() {
		expect = append(expect, persistence.Expectation{NodeRunID: nodeRun.ID, Status: nodeRun.Status})

		updated := *nodeRun
		updated.Status = models.NodeRunStatusSkipped
		skipped = append(skipped, &updated)
		skippedNodes = append(skippedNodes, nodeRun.NodeID)
	}

	err = r.persistence.RunRepository().ApplyTransition(ctx, persistence.Transition{
		Run:       &header,
		ExpectRun: models.RunStatusRunning,
		Expect:    expect,
		Updated:   skipped,
	})
	if err != nil {
		return nil, wrap(op, err)
	}

	r.logger.InfoContext(ctx, "run cancelled", "run_id", runID, "reason", reason, "skipped", len(skipped))

	r.notify(ctx, runID, &events.RunCancelled{
		BaseEvent:    events.NewBaseEvent(events.RunCancelledEvent, now, run.TenantID, run.WorkflowID),
		RunID:        runID,
		SubjectID:    run.SubjectID,
		Reason:       reason,
		SkippedNodes: skippedNodes,
	})

	return r.loadRun(ctx, op, tenantID, runID)
}

// GetRun returns the run with its node run history ordered by sequence.
func (r *Runs) GetRun(ctx context.Context, tenantID, runID string) (*models.WorkflowRun, error) {
	return r.loadRun(ctx, "Runs.GetRun", tenantID, runID)
}

// Redispatch emits the activation of an open node run again.
func (r *Runs) Redispatch(ctx context.Context, tenantID, nodeRunID string) error {
	const op = "Runs.Redispatch"

	run, current, err := r.loadNodeRun(ctx, op, tenantID, nodeRunID)
	if err != nil {
		return err
	}

	if !current.Status.IsOpen() {
		return invalidState(op, "node_run", nodeRunID, "node run is %s", current.Status)
	}

	if run.Status != models.RunStatusRunning {
		return invalidState(op, "run", run.ID, "run is %s", run.Status)
	}

	if r.dispatcher == nil {
		return &EngineError{Op: op, Kind: KindUnavailable, Message: "no step dispatcher configured"}
	}

	version, _, err := r.nodeOf(ctx, op, run, current)
	if err != nil {
		return err
	}

	err = r.dispatcher.Dispatch(ctx, r.activationEvent(run, version.Graph, current))
	if err != nil {
		return wrap(op, err)
	}

	r.logger.InfoContext(ctx, "node run redispatched", "run_id", run.ID, "node_run_id", nodeRunID)

	return nil
}

func (r *Runs) newAdvancer(ctx context.Context, op string, run *models.WorkflowRun, g *models.Graph) *advancer {
	now := r.now()

	return &advancer{
		ctx:       ctx,
		op:        op,
		run:       run,
		graph:     g,
		evaluator: r.evaluator,
		resolver:  r.resolver,
		now:       func() time.Time { return now },
		sequence:  run.LastSequence(),
		created:   make([]*models.NodeRun, 0),
	}
}

func (r *Runs) evaluateBranch(adv *advancer, node *models.Node) (*bool, error) {
	settings, err := node.DecodeSettings()
	if err != nil {
		return nil, corruptState(adv.op, "run", adv.run.ID, "node %q has undecodable settings: %v", node.ID, err)
	}

	visitor := &branchOf{advancer: adv}

	err = settings.Accept(visitor)
	if err != nil {
		return nil, wrap(adv.op, err)
	}

	return visitor.result, nil
}

func (r *Runs) finish(run *models.WorkflowRun, at time.Time) {
	run.Status = models.RunStatusCompleted
	run.EndedAt = &at
}

// announce publishes the events of a committed transition. Failures are logged, never returned.
func (r *Runs) announce(ctx context.Context, run *models.WorkflowRun, g *models.Graph, completed *models.NodeRun, created []*models.NodeRun) {
	if completed != nil {
		r.notifyCompleted(ctx, run, completed, false)
	}

	for _, nodeRun := range created {
		if nodeRun.Status == models.NodeRunStatusCompleted {
			r.notifyCompleted(ctx, run, nodeRun, true)

			continue
		}

		if r.dispatcher == nil {
			continue
		}

		err := r.dispatcher.Dispatch(ctx, r.activationEvent(run, g, nodeRun))
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to dispatch node activation", "run_id", run.ID, "node_run_id", nodeRun.ID, "error", err)
		}
	}

	if run.Status == models.RunStatusCompleted {
		r.logger.InfoContext(ctx, "run completed", "run_id", run.ID, "subject_id", run.SubjectID)

		r.notify(ctx, run.ID, &events.RunCompleted{
			BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, *run.EndedAt, run.TenantID, run.WorkflowID),
			RunID:     run.ID,
			SubjectID: run.SubjectID,
		})
	}
}

func (r *Runs) notifyCompleted(ctx context.Context, run *models.WorkflowRun, nodeRun *models.NodeRun, auto bool) {
	at := nodeRun.StartedAt
	if nodeRun.CompletedAt != nil {
		at = *nodeRun.CompletedAt
	}

	r.notify(ctx, run.ID, &events.NodeRunCompleted{
		BaseEvent:     events.NewBaseEvent(events.NodeRunCompletedEvent, at, run.TenantID, run.WorkflowID),
		RunID:         run.ID,
		NodeRunID:     nodeRun.ID,
		NodeID:        nodeRun.NodeID,
		NodeType:      nodeRun.NodeType,
		Outcome:       nodeRun.Outcome,
		AutoCompleted: auto,
	})
}

func (r *Runs) activationEvent(run *models.WorkflowRun, g *models.Graph, nodeRun *models.NodeRun) *events.NodeActivated {
	event := &events.NodeActivated{
		BaseEvent: events.NewBaseEvent(events.NodeActivatedEvent, nodeRun.StartedAt, run.TenantID, run.WorkflowID),
		RunID:     run.ID,
		VersionID: run.WorkflowVersionID,
		NodeRunID: nodeRun.ID,
		NodeID:    nodeRun.NodeID,
		NodeType:  nodeRun.NodeType,
		SubjectID: run.SubjectID,
		Assignees: nodeRun.Assignees,
		DueAt:     nodeRun.DueAt,
	}

	if node, ok := g.Node(nodeRun.NodeID); ok {
		event.Title = node.Title
		event.Settings = node.Settings
	}

	return event
}

func (r *Runs) loadRun(ctx context.Context, op, tenantID, runID string) (*models.WorkflowRun, error) {
	run, err := r.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, notFound(op, "run", runID)
		}

		return nil, wrap(op, err)
	}

	if run.TenantID != tenantID {
		return nil, notFound(op, "run", runID)
	}

	return run, nil
}

// loadNodeRun returns a node run of the tenant together with its run.
func (r *Runs) loadNodeRun(ctx context.Context, op, tenantID, nodeRunID string) (*models.WorkflowRun, *models.NodeRun, error) {
	nodeRun, err := r.persistence.RunRepository().GetNodeRun(ctx, nodeRunID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, nil, notFound(op, "node_run", nodeRunID)
		}

		return nil, nil, wrap(op, err)
	}

	run, err := r.loadRun(ctx, op, tenantID, nodeRun.RunID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil, notFound(op, "node_run", nodeRunID)
		}

		return nil, nil, err
	}

	for _, candidate := range run.NodeRuns {
		if candidate.ID == nodeRunID {
			return run, candidate, nil
		}
	}

	return nil, nil, corruptState(op, "run", run.ID, "node run %s missing from its run", nodeRunID)
}

// lockNodeRun takes the run lock of a node run and reads both under it.
func (r *Runs) lockNodeRun(ctx context.Context, op, tenantID, nodeRunID string) (func(), *models.WorkflowRun, *models.NodeRun, error) {
	_, nodeRun, err := r.loadNodeRun(ctx, op, tenantID, nodeRunID)
	if err != nil {
		return nil, nil, nil, err
	}

	unlock, err := r.locker.Lock(ctx, lock.RunKey(nodeRun.RunID))
	if err != nil {
		return nil, nil, nil, wrap(op, err)
	}

	run, current, err := r.loadNodeRun(ctx, op, tenantID, nodeRunID)
	if err != nil {
		unlock()

		return nil, nil, nil, err
	}

	return unlock, run, current, nil
}

// nodeOf resolves the version and graph node a node run was created from.
func (r *Runs) nodeOf(ctx context.Context, op string, run *models.WorkflowRun, nodeRun *models.NodeRun) (*models.WorkflowVersion, *models.Node, error) {
	version, err := r.persistence.VersionRepository().GetByID(ctx, run.WorkflowVersionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, nil, corruptState(op, "run", run.ID, "bound version %s is missing", run.WorkflowVersionID)
		}

		return nil, nil, wrap(op, err)
	}

	node, ok := version.Graph.Node(nodeRun.NodeID)
	if !ok {
		return nil, nil, corruptState(op, "run", run.ID, "version %s has no node %q", version.ID, nodeRun.NodeID)
	}

	return version, node, nil
}

// settledCompletion applies the idempotency rules to a node run that is no longer open.
func settledCompletion(op string, nodeRun *models.NodeRun, outcome map[string]any) (bool, error) {
	switch nodeRun.Status {
	case models.NodeRunStatusCompleted:
		if outcomesEqual(nodeRun.Outcome, recordedOutcome(nodeRun, outcome)) {
			return true, nil
		}

		return false, invalidState(op, "node_run", nodeRun.ID, "node run already completed with a different outcome")
	case models.NodeRunStatusSkipped:
		return false, invalidState(op, "node_run", nodeRun.ID, "node run was skipped")
	default:
		return false, nil
	}
}

// recordedOutcome returns outcome as it would have been stored for nodeRun.
// Condition node runs carry the evaluated branch under "result" in addition to the caller's outcome.
func recordedOutcome(nodeRun *models.NodeRun, outcome map[string]any) map[string]any {
	if nodeRun.NodeType != models.NodeTypeCondition {
		return outcome
	}

	result, ok := nodeRun.Outcome["result"]
	if !ok {
		return outcome
	}

	recorded := models.CloneMap(outcome)
	if recorded == nil {
		recorded = map[string]any{}
	}

	recorded["result"] = result

	return recorded
}

// outcomesEqual compares outcomes by their JSON encoding. Nil and empty are equal.
func outcomesEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}

	left, err := json.Marshal(a)
	if err != nil {
		return false
	}

	right, err := json.Marshal(b)
	if err != nil {
		return false
	}

	return bytes.Equal(left, right)
}
