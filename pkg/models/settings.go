package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownNodeType is returned when settings are decoded for an unsupported node type.
var ErrUnknownNodeType = errors.New("unknown node type")

// NodeSettings is the closed set of per-type node settings.
type NodeSettings interface {
	NodeType() NodeType
	Accept(visitor SettingsVisitor) error
}

// SettingsVisitor dispatches over every node settings variant. Adding a node type adds a method here.
type SettingsVisitor interface {
	VisitTask(settings *TaskSettings) error
	VisitForm(settings *FormSettings) error
	VisitCourse(settings *CourseSettings) error
	VisitEmail(settings *EmailSettings) error
	VisitProfileTask(settings *ProfileTaskSettings) error
	VisitSurvey(settings *SurveySettings) error
	VisitCondition(settings *ConditionSettings) error
	VisitDummyTask(settings *DummyTaskSettings) error
}

type TaskSettings struct {
	TaskTemplateID string           `json:"task_template_id"`
	Assignment     AssignmentConfig `json:"assignment"`
	DueRule        *DueRuleConfig   `json:"due_rule,omitempty"`
}

func (s *TaskSettings) NodeType() NodeType { return NodeTypeTask }

func (s *TaskSettings) Accept(v SettingsVisitor) error { return v.VisitTask(s) }

type FormSettings struct {
	FormTemplateID string           `json:"form_template_id"`
	Assignment     AssignmentConfig `json:"assignment"`
	DueRule        *DueRuleConfig   `json:"due_rule,omitempty"`
}

func (s *FormSettings) NodeType() NodeType { return NodeTypeForm }

func (s *FormSettings) Accept(v SettingsVisitor) error { return v.VisitForm(s) }

// CourseSettings only supports the assignee and assignee_manager modes.
type CourseSettings struct {
	CourseID   string         `json:"course_id"`
	Assignment AssignmentMode `json:"assignment"`
}

func (s *CourseSettings) NodeType() NodeType { return NodeTypeCourse }

func (s *CourseSettings) Accept(v SettingsVisitor) error { return v.VisitCourse(s) }

type EmailSettings struct {
	EmailTemplateID string           `json:"email_template_id"`
	Recipients      AssignmentConfig `json:"recipients"`
	Schedule        *EmailSchedule   `json:"schedule,omitempty"`
}

func (s *EmailSettings) NodeType() NodeType { return NodeTypeEmail }

func (s *EmailSettings) Accept(v SettingsVisitor) error { return v.VisitEmail(s) }

type ProfileTaskSettings struct {
	ProfileTaskTemplateID string `json:"profile_task_template_id"`
}

func (s *ProfileTaskSettings) NodeType() NodeType { return NodeTypeProfileTask }

func (s *ProfileTaskSettings) Accept(v SettingsVisitor) error { return v.VisitProfileTask(s) }

type SurveySettings struct {
	SurveyID string `json:"survey_id"`
}

func (s *SurveySettings) NodeType() NodeType { return NodeTypeSurvey }

func (s *SurveySettings) Accept(v SettingsVisitor) error { return v.VisitSurvey(s) }

// ConditionSettings branches a run on the subject's organizational placement.
type ConditionSettings struct {
	Logic    Logic       `json:"logic"`
	Criteria []Criterion `json:"criteria"`
}

func (s *ConditionSettings) NodeType() NodeType { return NodeTypeCondition }

func (s *ConditionSettings) Accept(v SettingsVisitor) error { return v.VisitCondition(s) }

// DummyTaskSettings mirror task settings but every field is optional. Dummy tasks complete on activation.
type DummyTaskSettings struct {
	TaskTemplateID string            `json:"task_template_id,omitempty"`
	Assignment     *AssignmentConfig `json:"assignment,omitempty"`
	DueRule        *DueRuleConfig    `json:"due_rule,omitempty"`
}

func (s *DummyTaskSettings) NodeType() NodeType { return NodeTypeDummyTask }

func (s *DummyTaskSettings) Accept(v SettingsVisitor) error { return v.VisitDummyTask(s) }

// DecodeSettings decodes raw settings into the variant registered for nodeType.
// Empty settings decode into the zero value of the variant.
func DecodeSettings(nodeType NodeType, raw json.RawMessage) (NodeSettings, error) {
	var settings NodeSettings

	switch nodeType {
	case NodeTypeTask:
		settings = &TaskSettings{}
	case NodeTypeForm:
		settings = &FormSettings{}
	case NodeTypeCourse:
		settings = &CourseSettings{}
	case NodeTypeEmail:
		settings = &EmailSettings{}
	case NodeTypeProfileTask:
		settings = &ProfileTaskSettings{}
	case NodeTypeSurvey:
		settings = &SurveySettings{}
	case NodeTypeCondition:
		settings = &ConditionSettings{}
	case NodeTypeDummyTask:
		settings = &DummyTaskSettings{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return settings, nil
	}

	if err := json.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("failed to decode %s settings: %w", nodeType, err)
	}

	return settings, nil
}

// EncodeSettings marshals typed settings back into raw JSON.
func EncodeSettings(settings NodeSettings) (json.RawMessage, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s settings: %w", settings.NodeType(), err)
	}

	return raw, nil
}
