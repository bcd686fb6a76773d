// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/google/uuid"
)

// Node creates a test node of the given type with default settings that can be overridden.
func Node(id string, nodeType models.NodeType, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:       id,
		Type:     nodeType,
		Title:    string(nodeType) + " " + id,
		Settings: defaultSettings(nodeType, id),
		Position: models.Position{X: 100, Y: 200},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

func defaultSettings(nodeType models.NodeType, id string) json.RawMessage {
	var settings any

	switch nodeType {
	case models.NodeTypeTask:
		settings = models.TaskSettings{
			TaskTemplateID: "tpl-" + id,
			Assignment:     models.AssignmentConfig{Mode: models.AssignmentModeAssignee},
		}
	case models.NodeTypeForm:
		settings = models.FormSettings{
			FormTemplateID: "form-" + id,
			Assignment:     models.AssignmentConfig{Mode: models.AssignmentModeAssignee},
		}
	case models.NodeTypeCourse:
		settings = models.CourseSettings{CourseID: "course-" + id, Assignment: models.AssignmentModeAssignee}
	case models.NodeTypeEmail:
		settings = models.EmailSettings{
			EmailTemplateID: "email-" + id,
			Recipients:      models.AssignmentConfig{Mode: models.AssignmentModeAssignee},
		}
	case models.NodeTypeProfileTask:
		settings = models.ProfileTaskSettings{ProfileTaskTemplateID: "profile-" + id}
	case models.NodeTypeSurvey:
		settings = models.SurveySettings{SurveyID: "survey-" + id}
	case models.NodeTypeCondition:
		settings = models.ConditionSettings{Logic: models.LogicAll, Criteria: []models.Criterion{}}
	default:
		settings = map[string]any{}
	}

	raw, _ := json.Marshal(settings)

	return raw
}

// WithSettings replaces the node settings with the JSON encoding of settings.
func WithSettings(settings any) func(*models.Node) {
	return func(n *models.Node) {
		raw, err := json.Marshal(settings)
		if err != nil {
			panic(err)
		}

		n.Settings = raw
	}
}

// WithRawSettings replaces the node settings verbatim.
func WithRawSettings(raw string) func(*models.Node) {
	return func(n *models.Node) {
		n.Settings = json.RawMessage(raw)
	}
}

// Edge creates an unlabelled edge.
func Edge(from, to string) *models.Edge {
	return &models.Edge{ID: from + "->" + to, From: from, To: to}
}

// Branch creates a labelled condition edge.
func Branch(from, to string, label models.EdgeLabel) *models.Edge {
	return &models.Edge{ID: from + "->" + to, From: from, To: to, Label: label}
}

// Graph assembles a graph starting at startID.
func Graph(startID string, nodes []*models.Node, edges ...*models.Edge) *models.Graph {
	g := models.NewGraph()
	g.StartID = startID

	for _, node := range nodes {
		g.Nodes[node.ID] = node
	}

	g.Edges = append(g.Edges, edges...)

	return g
}

// ConditionOn returns condition settings with a single IS criterion.
func ConditionOn(field models.OrgField, valueID string) models.ConditionSettings {
	return models.ConditionSettings{
		Logic:    models.LogicAll,
		Criteria: []models.Criterion{{Field: field, Op: models.OperatorIs, ValueID: valueID}},
	}
}

// OnboardingGraph builds welcome task -> location condition -> (true) berlin email / (false) dummy task.
func OnboardingGraph() *models.Graph {
	return Graph("welcome",
		[]*models.Node{
			Node("welcome", models.NodeTypeTask),
			Node("in_berlin", models.NodeTypeCondition, WithSettings(ConditionOn(models.OrgFieldLocation, "berlin"))),
			Node("berlin_email", models.NodeTypeEmail),
			Node("remote_kit", models.NodeTypeDummyTask),
		},
		Edge("welcome", "in_berlin"),
		Branch("in_berlin", "berlin_email", models.EdgeLabelTrue),
		Branch("in_berlin", "remote_kit", models.EdgeLabelFalse),
	)
}

// Subject creates a test subject starting on 2024-01-01 with overridable fields.
func Subject(overrides ...func(*models.SubjectContext)) models.SubjectContext {
	start := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

	subject := models.SubjectContext{
		SubjectID: "subject-" + uuid.NewString(),
		ManagerID: "manager-1",
		StartDate: &start,
		Org: map[models.OrgField]string{
			models.OrgFieldDepartment: "engineering",
			models.OrgFieldLocation:   "berlin",
		},
	}

	for _, override := range overrides {
		override(&subject)
	}

	return subject
}

// WithOrg sets an organizational field on the subject.
func WithOrg(field models.OrgField, value string) func(*models.SubjectContext) {
	return func(s *models.SubjectContext) {
		if value == "" {
			delete(s.Org, field)

			return
		}

		s.Org[field] = value
	}
}
