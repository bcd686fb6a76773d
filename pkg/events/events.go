// Package events defines the notifications the onboarding engine emits for step services and observers.
package events

import (
	"encoding/json"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "onboardflow.events"            // Definition and run lifecycle events
const StepTopic = "onboardflow.steps"         // Node activations consumed by step services
const ReminderTopic = "onboardflow.reminders" // Overdue notifications from the reminder sweeper

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Definition lifecycle events.
	VersionActivatedEvent EventType = "version.activated"

	// Run lifecycle events.
	RunStartedEvent       EventType = "run.started"
	RunCompletedEvent     EventType = "run.completed"
	RunCancelledEvent     EventType = "run.cancelled"
	NodeActivatedEvent    EventType = "node.activated"
	NodeRunCompletedEvent EventType = "node_run.completed"

	// Reminder events.
	NodeRunOverdueEvent EventType = "node_run.overdue"
)

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType EventType) string {
	switch eventType {
	case NodeActivatedEvent:
		return StepTopic
	case NodeRunOverdueEvent:
		return ReminderTopic
	default:
		return Topic
	}
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	TenantID   string         `json:"tenant_id"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// VersionActivated is emitted after a draft became the active version of its workflow.
type VersionActivated struct {
	BaseEvent

	VersionID         string `json:"version_id"`
	VersionNumber     int    `json:"version_number"`
	PreviousVersionID string `json:"previous_version_id,omitempty"`
	NewDraftID        string `json:"new_draft_id"`
	ActivatedBy       string `json:"activated_by,omitempty"`
}

func (e VersionActivated) GetType() EventType {
	return VersionActivatedEvent
}

type RunStarted struct {
	BaseEvent

	RunID     string `json:"run_id"`
	VersionID string `json:"version_id"`
	SubjectID string `json:"subject_id"`
	StartedBy string `json:"started_by,omitempty"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

// NodeActivated asks the step service of NodeType to perform the work of a pending node run.
type NodeActivated struct {
	BaseEvent

	RunID     string          `json:"run_id"`
	VersionID string          `json:"version_id"`
	NodeRunID string          `json:"node_run_id"`
	NodeID    string          `json:"node_id"`
	NodeType  models.NodeType `json:"node_type"`
	Title     string          `json:"title,omitempty"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	SubjectID string          `json:"subject_id"`
	Assignees []string        `json:"assignees"`
	DueAt     *time.Time      `json:"due_at,omitempty"`
}

func (e NodeActivated) GetType() EventType {
	return NodeActivatedEvent
}

type NodeRunCompleted struct {
	BaseEvent

	RunID         string          `json:"run_id"`
	NodeRunID     string          `json:"node_run_id"`
	NodeID        string          `json:"node_id"`
	NodeType      models.NodeType `json:"node_type"`
	Outcome       map[string]any  `json:"outcome,omitempty"`
	AutoCompleted bool            `json:"auto_completed"`
}

func (e NodeRunCompleted) GetType() EventType {
	return NodeRunCompletedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID     string `json:"run_id"`
	SubjectID string `json:"subject_id"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunCancelled struct {
	BaseEvent

	RunID        string   `json:"run_id"`
	SubjectID    string   `json:"subject_id"`
	Reason       string   `json:"reason,omitempty"`
	SkippedNodes []string `json:"skipped_nodes,omitempty"`
}

func (e RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

// NodeRunOverdue reports an open node run whose due date has passed.
type NodeRunOverdue struct {
	BaseEvent

	RunID     string          `json:"run_id"`
	NodeRunID string          `json:"node_run_id"`
	NodeID    string          `json:"node_id"`
	NodeType  models.NodeType `json:"node_type"`
	Assignees []string        `json:"assignees"`
	DueAt     time.Time       `json:"due_at"`
}

func (e NodeRunOverdue) GetType() EventType {
	return NodeRunOverdueEvent
}

func NewBaseEvent(eventType EventType, timestamp time.Time, tenantID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  timestamp,
		TenantID:   tenantID,
		WorkflowID: workflowID,
	}
}

// New returns an empty event of the given type for decoding, or nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case VersionActivatedEvent:
		return &VersionActivated{}
	case RunStartedEvent:
		return &RunStarted{}
	case NodeActivatedEvent:
		return &NodeActivated{}
	case NodeRunCompletedEvent:
		return &NodeRunCompleted{}
	case RunCompletedEvent:
		return &RunCompleted{}
	case RunCancelledEvent:
		return &RunCancelled{}
	case NodeRunOverdueEvent:
		return &NodeRunOverdue{}
	default:
		return nil
	}
}
