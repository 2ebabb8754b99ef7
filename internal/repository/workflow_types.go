package repository

import "time"

// ── Workflow instance ────────────────────────────────────────────────────────

// WorkflowType tags the business process a workflow instance tracks.
type WorkflowType string

const (
	WorkflowTypeOnboarding         WorkflowType = "onboarding"
	WorkflowTypeOffboarding        WorkflowType = "offboarding"
	WorkflowTypeTransfer           WorkflowType = "transfer"
	WorkflowTypeLeaveApproval      WorkflowType = "leave_approval"
	WorkflowTypeExpenseApproval    WorkflowType = "expense_approval"
	WorkflowTypeOvertimeApproval   WorkflowType = "overtime_approval"
	WorkflowTypeTrainingEnrollment WorkflowType = "training_enrollment"
	WorkflowTypeTimesheetApproval  WorkflowType = "timesheet_approval"
)

// WorkflowStatus is the coarse lifecycle status of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusCreated    WorkflowStatus = "created"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusApproved   WorkflowStatus = "approved"
	WorkflowStatusRejected   WorkflowStatus = "rejected"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
	WorkflowStatusEscalated  WorkflowStatus = "escalated"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
)

// IsTerminal reports whether no further status transition is permitted.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusApproved, WorkflowStatusRejected, WorkflowStatusCancelled, WorkflowStatusCompleted:
		return true
	}
	return false
}

// WorkflowInstance is one tracked run of a multi-step process tied to a
// business entity. Instances are never deleted; terminal rows are history.
type WorkflowInstance struct {
	ID           string
	WorkflowType WorkflowType
	EntityID     string // the business object the workflow tracks (owned externally)
	EntityType   string
	Status       WorkflowStatus
	CurrentState string // free-form phase label, e.g. "PENDING_LEVEL_2"
	Context      map[ContextKey]string
	Assignee     *string
	DueDate      *time.Time
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ── Workflow context key registry ────────────────────────────────────────────

// ContextKey names one fact carried in a workflow instance's context map.
// The set is closed: writes against unregistered keys are rejected so typos
// and type mismatches surface at write time instead of at read time.
type ContextKey string

const (
	ContextKeyAmountCents      ContextKey = "amount_cents"
	ContextKeyDaysCount        ContextKey = "days_count"
	ContextKeyPriority         ContextKey = "priority"
	ContextKeyDescription      ContextKey = "description"
	ContextKeyOutcome          ContextKey = "outcome"
	ContextKeyTransitionReason ContextKey = "transition_reason"
	ContextKeyCancelReason     ContextKey = "cancel_reason"
	ContextKeyRequestor        ContextKey = "requestor"
	ContextKeyDepartmentID     ContextKey = "department_id"
	ContextKeyPrevDepartment   ContextKey = "previous_department"
	ContextKeyPrevPosition     ContextKey = "previous_position"
	ContextKeyNewDepartment    ContextKey = "new_department"
	ContextKeyNewPosition      ContextKey = "new_position"
)

// ContextKind constrains the value format accepted for a context key.
type ContextKind int

const (
	ContextKindString ContextKind = iota
	ContextKindInt
	ContextKindDate // YYYY-MM-DD
)

// contextRegistry maps every known key to its expected value kind.
var contextRegistry = map[ContextKey]ContextKind{
	ContextKeyAmountCents:      ContextKindInt,
	ContextKeyDaysCount:        ContextKindInt,
	ContextKeyPriority:         ContextKindInt,
	ContextKeyDescription:      ContextKindString,
	ContextKeyOutcome:          ContextKindString,
	ContextKeyTransitionReason: ContextKindString,
	ContextKeyCancelReason:     ContextKindString,
	ContextKeyRequestor:        ContextKindString,
	ContextKeyDepartmentID:     ContextKindString,
	ContextKeyPrevDepartment:   ContextKindString,
	ContextKeyPrevPosition:     ContextKindString,
	ContextKeyNewDepartment:    ContextKindString,
	ContextKeyNewPosition:      ContextKindString,
}

// ContextKeyKind returns the registered kind for a key.
func ContextKeyKind(key ContextKey) (ContextKind, bool) {
	kind, ok := contextRegistry[key]
	return kind, ok
}

// ── Approval request ─────────────────────────────────────────────────────────

// ApprovalType tags what kind of sign-off a request asks for. It is also the
// key used to look up chain configuration and entity-status updaters.
type ApprovalType string

const (
	ApprovalTypeLeave     ApprovalType = "leave"
	ApprovalTypeExpense   ApprovalType = "expense"
	ApprovalTypeOvertime  ApprovalType = "overtime"
	ApprovalTypeTransfer  ApprovalType = "transfer"
	ApprovalTypeTimesheet ApprovalType = "timesheet"
	ApprovalTypeTraining  ApprovalType = "training"
)

// RequestStatus is the status of an approval request.
type RequestStatus string

const (
	RequestStatusPendingApproval RequestStatus = "pending_approval"
	RequestStatusOnHold          RequestStatus = "on_hold"
	RequestStatusApproved        RequestStatus = "approved"
	RequestStatusRejected        RequestStatus = "rejected"
	RequestStatusCancelled       RequestStatus = "cancelled"
)

// IsTerminal reports whether the request can no longer change.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled:
		return true
	}
	return false
}

// ChainLevel is one level of the approval chain snapshotted onto a request at
// submission time. Persisted as a JSONB array so in-flight requests always
// complete against the chain in effect when they were submitted.
type ChainLevel struct {
	Level              int          `json:"level"`
	ApproverType       ApproverType `json:"approver_type"`
	SpecificApproverID *string      `json:"specific_approver_id,omitempty"`
}

// ApprovalRequest is the approval-specific projection of a workflow instance,
// one-to-one with the instance for approval-type workflows.
type ApprovalRequest struct {
	ID               string
	WorkflowID       string
	ApprovalType     ApprovalType
	EntityID         string
	EntityType       string
	Requestor        string
	Approver         *string // current approver
	CurrentLevel     int     // 1-based
	TotalLevels      int
	Chain            []ChainLevel
	Status           RequestStatus
	Amount           *int64 // cents
	DaysCount        *int
	Priority         int // 1..5
	DepartmentID     *string
	Description      *string
	SubmittedAt      time.Time
	DecidedAt        *time.Time
	DueDate          *time.Time
	ApproverComments *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ── Approval chain configuration ─────────────────────────────────────────────

// ApproverType is the configured policy for resolving who must act at a level.
type ApproverType string

const (
	ApproverTypeDirectManager    ApproverType = "direct_manager"
	ApproverTypeDepartmentHead   ApproverType = "department_head"
	ApproverTypeSpecificEmployee ApproverType = "specific_employee"
	ApproverTypeHR               ApproverType = "hr"
	ApproverTypeFinance          ApproverType = "finance"
	ApproverTypeExecutive        ApproverType = "executive"
)

// ApprovalChainConfig is one declarative approver-resolution rule. Rows with
// the same approval type and scope form an ordered chain via SequenceOrder.
// Read-only at runtime relative to the engine; managed by the admin surface.
type ApprovalChainConfig struct {
	ID                 string
	ApprovalType       ApprovalType
	AmountThreshold    *int64  // cents; chain applies when request amount >= threshold
	DepartmentID       *string // chain applies only within this department
	SequenceOrder      int     // 1-based position within its chain
	ApproverType       ApproverType
	SpecificApproverID *string // only for specific_employee
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ── Workflow deadlines ───────────────────────────────────────────────────────

// WorkflowDeadline is one waiting period tracked for a workflow instance.
// Version implements optimistic concurrency between the periodic scans and
// synchronous updates: every mutation carries the version it read.
type WorkflowDeadline struct {
	ID              string
	WorkflowID      string
	DeadlineType    string
	Description     string
	DeadlineAt      time.Time
	WarningAt       *time.Time
	Assignee        *string
	WarningSent     bool
	OverdueSent     bool
	EscalationLevel int
	Completed       bool
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
