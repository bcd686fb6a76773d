package graph

import (
	"fmt"
	"sync"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

func offsetSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{"type": "integer", "minimum": 0},
			"unit":  map[string]any{"type": "string", "enum": []string{"days", "weeks", "months"}},
		},
		"required":             []string{"value", "unit"},
		"additionalProperties": false,
	}
}

func directionSchema() map[string]any {
	return map[string]any{"type": "string", "enum": []string{"BEFORE", "AFTER"}}
}

func assignmentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type": "string",
				"enum": []string{"assignee", "assignee_manager", "user", "group"},
			},
			"id": map[string]any{"type": "string"},
		},
		"required": []string{"mode"},
		"if": map[string]any{
			"properties": map[string]any{"mode": map[string]any{"enum": []string{"user", "group"}}},
		},
		"then": map[string]any{
			"properties": map[string]any{"id": map[string]any{"type": "string", "minLength": 1}},
			"required":   []string{"id"},
		},
		"additionalProperties": false,
	}
}

func dueRuleSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"basis": map[string]any{
				"type": "string",
				"enum": []string{"assignee.start_date", "assignee.end_date", "node.activation_time"},
			},
			"offset":    offsetSchema(),
			"direction": directionSchema(),
		},
		"required":             []string{"basis"},
		"additionalProperties": false,
	}
}

func templateIDSchema() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// SettingsSchema returns the JSON schema that settings of the given node type must satisfy.
func SettingsSchema(nodeType models.NodeType) (map[string]any, bool) {
	switch nodeType {
	case models.NodeTypeTask:
		return objectSchema(map[string]any{
			"task_template_id": templateIDSchema(),
			"assignment":       assignmentSchema(),
			"due_rule":         dueRuleSchema(),
		}, "task_template_id", "assignment"), true
	case models.NodeTypeForm:
		return objectSchema(map[string]any{
			"form_template_id": templateIDSchema(),
			"assignment":       assignmentSchema(),
			"due_rule":         dueRuleSchema(),
		}, "form_template_id", "assignment"), true
	case models.NodeTypeCourse:
		return objectSchema(map[string]any{
			"course_id": templateIDSchema(),
			"assignment": map[string]any{
				"type": "string",
				"enum": []string{"assignee", "assignee_manager"},
			},
		}, "course_id", "assignment"), true
	case models.NodeTypeEmail:
		return objectSchema(map[string]any{
			"email_template_id": templateIDSchema(),
			"recipients":        assignmentSchema(),
			"schedule": objectSchema(map[string]any{
				"relative_to": map[string]any{
					"type": "string",
					"enum": []string{"start_date", "end_date", "activation_time"},
				},
				"offset":    offsetSchema(),
				"direction": directionSchema(),
				"send_time": map[string]any{
					"type":    "string",
					"pattern": `^([01][0-9]|2[0-3]):[0-5][0-9]$`,
				},
			}, "relative_to"),
		}, "email_template_id", "recipients"), true
	case models.NodeTypeProfileTask:
		return objectSchema(map[string]any{
			"profile_task_template_id": templateIDSchema(),
		}, "profile_task_template_id"), true
	case models.NodeTypeSurvey:
		return objectSchema(map[string]any{
			"survey_id": templateIDSchema(),
		}, "survey_id"), true
	case models.NodeTypeCondition:
		return objectSchema(map[string]any{
			"logic": map[string]any{"type": "string", "enum": []string{"ALL", "ANY"}},
			"criteria": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"field": map[string]any{
						"type": "string",
						"enum": []string{"department", "location", "position", "manager", "legal_entity"},
					},
					"op": map[string]any{
						"type": "string",
						"enum": []string{"IS", "IS_PARENT_OF", "IS_CHILD_OF"},
					},
					"value_id": templateIDSchema(),
				}, "field", "op", "value_id"),
			},
		}, "logic", "criteria"), true
	case models.NodeTypeDummyTask:
		return objectSchema(map[string]any{
			"task_template_id": map[string]any{"type": "string"},
			"assignment":       assignmentSchema(),
			"due_rule":         dueRuleSchema(),
		}), true
	default:
		return nil, false
	}
}

var (
	compileOnce sync.Once
	compiled    map[models.NodeType]*gojsonschema.Schema
	compileErr  error
)

func compiledSchemas() (map[models.NodeType]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[models.NodeType]*gojsonschema.Schema)

		for _, nodeType := range models.NodeTypes() {
			raw, _ := SettingsSchema(nodeType)

			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
			if err != nil {
				compileErr = fmt.Errorf("failed to compile %s settings schema: %w", nodeType, err)

				return
			}

			compiled[nodeType] = schema
		}
	})

	return compiled, compileErr
}
