package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/rules"
)

// advancer walks a run's graph from a node, creating node runs until it stops on a node that needs
// a step service or reaches a node without outgoing edges.
type advancer struct {
	ctx       context.Context //nolint:containedctx // scoped to a single advance call
	op        string
	run       *models.WorkflowRun
	graph     *models.Graph
	evaluator *rules.ConditionEvaluator
	resolver  *rules.AssignmentResolver
	now       func() time.Time
	sequence  int
	created   []*models.NodeRun
}

// enter activates nodeID and fast-forwards through auto-completed nodes.
// It reports whether the walk reached the end of the graph.
func (a *advancer) enter(nodeID string) (bool, error) {
	for steps := 0; ; steps++ {
		if steps > len(a.graph.Nodes) {
			return false, corruptState(a.op, "run", a.run.ID, "auto-completed nodes form a cycle at %q", nodeID)
		}

		node, ok := a.graph.Node(nodeID)
		if !ok {
			return false, corruptState(a.op, "run", a.run.ID, "graph has no node %q", nodeID)
		}

		settings, err := node.DecodeSettings()
		if err != nil {
			return false, corruptState(a.op, "run", a.run.ID, "node %q has undecodable settings: %v", nodeID, err)
		}

		a.sequence++
		nodeRun := &models.NodeRun{
			ID:        newID(),
			RunID:     a.run.ID,
			NodeID:    node.ID,
			NodeType:  node.Type,
			Sequence:  a.sequence,
			Status:    models.NodeRunStatusPending,
			StartedAt: a.now(),
		}

		activation := &activation{advancer: a, nodeRun: nodeRun}

		err = settings.Accept(activation)
		if err != nil {
			return false, wrap(a.op, fmt.Errorf("activating node %q: %w", node.ID, err))
		}

		a.created = append(a.created, nodeRun)

		if nodeRun.Status != models.NodeRunStatusCompleted {
			return false, nil
		}

		next, ok, err := a.next(node, activation.branch)
		if err != nil {
			return false, err
		}

		if !ok {
			return true, nil
		}

		nodeID = next
	}
}

// next returns the target of the edge leaving node. Condition nodes follow the edge labelled with branch.
func (a *advancer) next(node *models.Node, branch *bool) (string, bool, error) {
	edges := a.graph.Outgoing(node.ID)

	if node.Type == models.NodeTypeCondition {
		if branch == nil {
			return "", false, corruptState(a.op, "run", a.run.ID, "condition %q completed without a result", node.ID)
		}

		label := models.BranchLabel(*branch)
		for _, edge := range edges {
			if edge.Label == label {
				return edge.To, true, nil
			}
		}

		if len(edges) == 0 {
			return "", false, nil
		}

		return "", false, corruptState(a.op, "run", a.run.ID, "condition %q has no %q edge", node.ID, label)
	}

	if len(edges) == 0 {
		return "", false, nil
	}

	return edges[0].To, true, nil
}

func (a *advancer) evaluate(settings *models.ConditionSettings) (bool, error) {
	return a.evaluator.Evaluate(a.ctx, settings, a.run.Subject)
}

// activation applies the per-type activation rules to a fresh node run.
type activation struct {
	*advancer

	nodeRun *models.NodeRun
	branch  *bool
}

func (v *activation) assign(cfg models.AssignmentConfig) error {
	assignees, err := v.resolver.Resolve(v.ctx, cfg, v.run.Subject)
	if err != nil {
		return err
	}

	v.nodeRun.Assignees = assignees

	return nil
}

func (v *activation) due(rule *models.DueRuleConfig) {
	if rule == nil {
		return
	}

	v.nodeRun.DueAt = rules.ComputeDueAt(*rule, rules.BasisFor(v.run.Subject, v.nodeRun.StartedAt))
}

func (v *activation) complete(outcome map[string]any) {
	completedAt := v.nodeRun.StartedAt
	v.nodeRun.Status = models.NodeRunStatusCompleted
	v.nodeRun.CompletedAt = &completedAt
	v.nodeRun.Outcome = outcome
}

func (v *activation) VisitTask(settings *models.TaskSettings) error {
	err := v.assign(settings.Assignment)
	if err != nil {
		return err
	}

	v.due(settings.DueRule)

	return nil
}

func (v *activation) VisitForm(settings *models.FormSettings) error {
	err := v.assign(settings.Assignment)
	if err != nil {
		return err
	}

	v.due(settings.DueRule)

	return nil
}

func (v *activation) VisitCourse(settings *models.CourseSettings) error {
	return v.assign(models.AssignmentConfig{Mode: settings.Assignment})
}

func (v *activation) VisitEmail(settings *models.EmailSettings) error {
	err := v.assign(settings.Recipients)
	if err != nil {
		return err
	}

	if settings.Schedule == nil {
		return nil
	}

	sendAt, err := rules.ComputeSendAt(*settings.Schedule, rules.BasisFor(v.run.Subject, v.nodeRun.StartedAt))
	if err != nil {
		return err
	}

	v.nodeRun.DueAt = sendAt

	return nil
}

func (v *activation) VisitProfileTask(_ *models.ProfileTaskSettings) error {
	v.nodeRun.Assignees = []string{v.run.Subject.SubjectID}

	return nil
}

func (v *activation) VisitSurvey(_ *models.SurveySettings) error {
	v.nodeRun.Assignees = []string{v.run.Subject.SubjectID}

	return nil
}

func (v *activation) VisitCondition(settings *models.ConditionSettings) error {
	result, err := v.evaluate(settings)
	if err != nil {
		return err
	}

	v.branch = &result
	v.complete(map[string]any{"result": result})

	return nil
}

func (v *activation) VisitDummyTask(_ *models.DummyTaskSettings) error {
	v.complete(map[string]any{"auto_completed": true})

	return nil
}

// branchOf evaluates a condition node that is being completed by a caller.
type branchOf struct {
	*advancer

	result *bool
}

func (b *branchOf) VisitTask(*models.TaskSettings) error               { return nil }
func (b *branchOf) VisitForm(*models.FormSettings) error               { return nil }
func (b *branchOf) VisitCourse(*models.CourseSettings) error           { return nil }
func (b *branchOf) VisitEmail(*models.EmailSettings) error             { return nil }
func (b *branchOf) VisitProfileTask(*models.ProfileTaskSettings) error { return nil }
func (b *branchOf) VisitSurvey(*models.SurveySettings) error           { return nil }
func (b *branchOf) VisitDummyTask(*models.DummyTaskSettings) error     { return nil }

func (b *branchOf) VisitCondition(settings *models.ConditionSettings) error {
	result, err := b.evaluate(settings)
	if err != nil {
		return err
	}

	b.result = &result

	return nil
}
