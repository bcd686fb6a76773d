package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestGraph_CloneIsDeep(t *testing.T) {
	g := &Graph{
		StartID: "a",
		Nodes: map[string]*Node{
			"a": {ID: "a", Type: NodeTypeTask, Settings: json.RawMessage(`{"task_template_id":"t1"}`)},
			"b": {ID: "b", Type: NodeTypeSurvey},
		},
		Edges: []*Edge{{ID: "e1", From: "a", To: "b", Order: intPtr(1)}},
	}

	clone := g.Clone()
	require.NotNil(t, clone)

	clone.StartID = "b"
	clone.Nodes["a"].Title = "changed"
	clone.Nodes["a"].Settings[2] = 'X'
	*clone.Edges[0].Order = 5
	delete(clone.Nodes, "b")

	assert.Equal(t, "a", g.StartID)
	assert.Empty(t, g.Nodes["a"].Title)
	assert.JSONEq(t, `{"task_template_id":"t1"}`, string(g.Nodes["a"].Settings))
	assert.Equal(t, 1, *g.Edges[0].Order)
	assert.Len(t, g.Nodes, 2)
}

func TestGraph_Outgoing(t *testing.T) {
	g := &Graph{
		Nodes: map[string]*Node{"c": {ID: "c", Type: NodeTypeCondition}},
		Edges: []*Edge{
			{ID: "z", From: "c", To: "x", Label: EdgeLabelFalse},
			{ID: "y", From: "c", To: "w", Label: EdgeLabelTrue},
			{ID: "o", From: "other", To: "c"},
			{ID: "a", From: "c", To: "v", Order: intPtr(2)},
		},
	}

	edges := g.Outgoing("c")
	require.Len(t, edges, 3)
	assert.Equal(t, "y", edges[0].ID)
	assert.Equal(t, "z", edges[1].ID)
	assert.Equal(t, "a", edges[2].ID)
	assert.Empty(t, g.Outgoing("missing"))
}

func TestDecodeSettings(t *testing.T) {
	tests := []struct {
		name     string
		nodeType NodeType
		raw      string
		want     NodeSettings
		wantErr  bool
	}{
		{
			name:     "task",
			nodeType: NodeTypeTask,
			raw:      `{"task_template_id":"t1","assignment":{"mode":"user","id":"u1"},"due_rule":{"basis":"assignee.start_date","offset":{"value":3,"unit":"days"}}}`,
			want: &TaskSettings{
				TaskTemplateID: "t1",
				Assignment:     AssignmentConfig{Mode: AssignmentModeUser, ID: "u1"},
				DueRule:        &DueRuleConfig{Basis: DueBasisStartDate, Offset: &Offset{Value: 3, Unit: OffsetUnitDays}},
			},
		},
		{
			name:     "condition",
			nodeType: NodeTypeCondition,
			raw:      `{"logic":"ANY","criteria":[{"field":"location","op":"IS","value_id":"berlin"}]}`,
			want: &ConditionSettings{
				Logic:    LogicAny,
				Criteria: []Criterion{{Field: OrgFieldLocation, Op: OperatorIs, ValueID: "berlin"}},
			},
		},
		{
			name:     "empty dummy task",
			nodeType: NodeTypeDummyTask,
			raw:      ``,
			want:     &DummyTaskSettings{},
		},
		{
			name:     "unknown type",
			nodeType: NodeType("webhook"),
			raw:      `{}`,
			wantErr:  true,
		},
		{
			name:     "malformed",
			nodeType: NodeTypeSurvey,
			raw:      `{"survey_id":12}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSettings(tt.nodeType, json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.nodeType, got.NodeType())
		})
	}
}

func TestDecodeSettings_UnknownTypeIsSentinel(t *testing.T) {
	_, err := DecodeSettings("webhook", nil)
	assert.ErrorIs(t, err, ErrUnknownNodeType)
}

type countingVisitor struct {
	visited []NodeType
}

func (v *countingVisitor) record(s NodeSettings) error {
	v.visited = append(v.visited, s.NodeType())

	return nil
}

func (v *countingVisitor) VisitTask(s *TaskSettings) error               { return v.record(s) }
func (v *countingVisitor) VisitForm(s *FormSettings) error               { return v.record(s) }
func (v *countingVisitor) VisitCourse(s *CourseSettings) error           { return v.record(s) }
func (v *countingVisitor) VisitEmail(s *EmailSettings) error             { return v.record(s) }
func (v *countingVisitor) VisitProfileTask(s *ProfileTaskSettings) error { return v.record(s) }
func (v *countingVisitor) VisitSurvey(s *SurveySettings) error           { return v.record(s) }
func (v *countingVisitor) VisitCondition(s *ConditionSettings) error     { return v.record(s) }
func (v *countingVisitor) VisitDummyTask(s *DummyTaskSettings) error     { return v.record(s) }

func TestSettingsVisitor_CoversEveryNodeType(t *testing.T) {
	visitor := &countingVisitor{}

	for _, nodeType := range NodeTypes() {
		settings, err := DecodeSettings(nodeType, nil)
		require.NoError(t, err)
		require.NoError(t, settings.Accept(visitor))
	}

	assert.Equal(t, NodeTypes(), visitor.visited)
}

func TestWorkflowVersion_Clone(t *testing.T) {
	v := &WorkflowVersion{
		ID:       "v1",
		Graph:    NewGraph(),
		Metadata: map[string]any{"tags": []any{"a"}, "nested": map[string]any{"k": "v"}},
	}

	clone := v.Clone()
	clone.Metadata["nested"].(map[string]any)["k"] = "changed"
	clone.Metadata["tags"].([]any)[0] = "b"
	clone.Graph.StartID = "x"

	assert.Equal(t, "v", v.Metadata["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", v.Metadata["tags"].([]any)[0])
	assert.Empty(t, v.Graph.StartID)
}

func TestSubjectContext_Clone(t *testing.T) {
	subject := SubjectContext{
		SubjectID: "s1",
		Org:       map[OrgField]string{OrgFieldDepartment: "eng"},
	}

	clone := subject.Clone()
	clone.Org[OrgFieldDepartment] = "sales"

	assert.Equal(t, "eng", subject.Org[OrgFieldDepartment])
}

func TestNodeRunStatus_IsOpen(t *testing.T) {
	assert.True(t, NodeRunStatusPending.IsOpen())
	assert.True(t, NodeRunStatusInProgress.IsOpen())
	assert.False(t, NodeRunStatusCompleted.IsOpen())
	assert.False(t, NodeRunStatusSkipped.IsOpen())
}
