package models

// Logic combines the criteria of a condition.
type Logic string

const (
	LogicAll Logic = "ALL"
	LogicAny Logic = "ANY"
)

// Operator compares a subject's organizational unit with a criterion value.
type Operator string

const (
	OperatorIs         Operator = "IS"
	OperatorIsParentOf Operator = "IS_PARENT_OF"
	OperatorIsChildOf  Operator = "IS_CHILD_OF"
)

// OrgField is an organizational dimension of a subject.
type OrgField string

const (
	OrgFieldDepartment  OrgField = "department"
	OrgFieldLocation    OrgField = "location"
	OrgFieldPosition    OrgField = "position"
	OrgFieldManager     OrgField = "manager"
	OrgFieldLegalEntity OrgField = "legal_entity"
)

// Criterion is a single predicate of a condition node.
type Criterion struct {
	Field   OrgField `json:"field"`
	Op      Operator `json:"op"`
	ValueID string   `json:"value_id"`
}

// AssignmentMode selects how a step's assignees are resolved.
type AssignmentMode string

const (
	AssignmentModeAssignee        AssignmentMode = "assignee"
	AssignmentModeAssigneeManager AssignmentMode = "assignee_manager"
	AssignmentModeUser            AssignmentMode = "user"
	AssignmentModeGroup           AssignmentMode = "group"
)

// AssignmentConfig describes who a step is assigned to. ID is required for user and group modes.
type AssignmentConfig struct {
	Mode AssignmentMode `json:"mode"`
	ID   string         `json:"id,omitempty"`
}

// DueBasis is the reference date a due rule is computed from.
type DueBasis string

const (
	DueBasisStartDate      DueBasis = "assignee.start_date"
	DueBasisEndDate        DueBasis = "assignee.end_date"
	DueBasisActivationTime DueBasis = "node.activation_time"
)

// OffsetUnit is the calendar unit of an offset.
type OffsetUnit string

const (
	OffsetUnitDays   OffsetUnit = "days"
	OffsetUnitWeeks  OffsetUnit = "weeks"
	OffsetUnitMonths OffsetUnit = "months"
)

// Direction moves an offset before or after its basis.
type Direction string

const (
	DirectionBefore Direction = "BEFORE"
	DirectionAfter  Direction = "AFTER"
)

// Offset is a signed-by-direction calendar distance.
type Offset struct {
	Value int        `json:"value"`
	Unit  OffsetUnit `json:"unit"`
}

// DueRuleConfig computes a NodeRun's due date.
type DueRuleConfig struct {
	Basis     DueBasis  `json:"basis"`
	Offset    *Offset   `json:"offset,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// ScheduleBasis is the reference date of an email schedule.
type ScheduleBasis string

const (
	ScheduleBasisStartDate      ScheduleBasis = "start_date"
	ScheduleBasisEndDate        ScheduleBasis = "end_date"
	ScheduleBasisActivationTime ScheduleBasis = "activation_time"
)

// EmailSchedule computes when an email step should be sent.
type EmailSchedule struct {
	RelativeTo ScheduleBasis `json:"relative_to"`
	Offset     *Offset       `json:"offset,omitempty"`
	Direction  Direction     `json:"direction,omitempty"`
	SendTime   string        `json:"send_time,omitempty"` // HH:MM
}
