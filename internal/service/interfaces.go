package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// Clock supplies the current time. Substituted in tests for deterministic
// deadline and escalation behavior.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// DirectoryClientInterface resolves org-structure facts from the platform
// directory service. The engine never caches these; every resolution asks
// the directory so reorgs take effect immediately.
type DirectoryClientInterface interface {
	// GetManager returns an actor's manager, or nil when there is none.
	GetManager(ctx context.Context, actorID string) (*string, error)
	// GetDepartmentHead returns a department's head, or nil when it has none.
	GetDepartmentHead(ctx context.Context, departmentID string) (*string, error)
	// ActorExists reports whether the actor id is known.
	ActorExists(ctx context.Context, actorID string) (bool, error)
}

// NotifierInterface is the fire-and-forget notification contract.
// Implementations must never block workflow progress; delivery failures are
// logged inside the implementation and swallowed.
type NotifierInterface interface {
	Notify(ctx context.Context, eventType, actorID, title, message, relatedEntityID, relatedEntityType string)
}

// EntityStatusUpdater mutates the business entity a decided approval tracks.
// The mapping from approval type to updater is configured by the embedding
// service, not by this engine.
type EntityStatusUpdater interface {
	OnApproved(ctx context.Context, entityID string) error
	OnRejected(ctx context.Context, entityID string, comments string) error
}

// EntityStatusRegistry maps approval types to their status updaters.
type EntityStatusRegistry map[repository.ApprovalType]EntityStatusUpdater

// WorkflowStore is the persistence surface the state manager drives. All
// workflow mutation in the system goes through the state manager; nothing
// else writes these records.
type WorkflowStore interface {
	Create(ctx context.Context, wf *repository.WorkflowInstance) error
	// CreateSubmission inserts a workflow instance, its approval request and
	// its first deadline in one transaction.
	CreateSubmission(ctx context.Context, wf *repository.WorkflowInstance, req *repository.ApprovalRequest, d *repository.WorkflowDeadline) error
	GetByID(ctx context.Context, id string) (*repository.WorkflowInstance, error)
	FindActiveByEntityID(ctx context.Context, entityID string) ([]*repository.WorkflowInstance, error)
	UpdateStatus(ctx context.Context, id string, status repository.WorkflowStatus) error
	UpdateState(ctx context.Context, id, state string) error
	Assign(ctx context.Context, id string, assignee *string) error
	UpdateDueDate(ctx context.Context, id string, dueDate *time.Time) error
	UpsertContext(ctx context.Context, id string, key repository.ContextKey, value string) error
}

// ApprovalRequestStore is the persistence surface for approval requests.
// Requests are created through WorkflowStore.CreateSubmission, in one
// transaction with their workflow instance.
type ApprovalRequestStore interface {
	GetByID(ctx context.Context, id string) (*repository.ApprovalRequest, error)
	FindActiveByEntity(ctx context.Context, entityID string, approvalType repository.ApprovalType) (*repository.ApprovalRequest, error)
	Advance(ctx context.Context, id string, level int, approver string, dueDate *time.Time) error
	Decide(ctx context.Context, id string, status repository.RequestStatus, decidedAt *time.Time, comments *string) error
	SetApprover(ctx context.Context, id, approver string) error
	ListPendingForApprover(ctx context.Context, approverID string, page, pageSize int) ([]*repository.ApprovalRequest, int64, error)
	CountPendingForApprover(ctx context.Context, approverID string) (int64, error)
	ListByRequestor(ctx context.Context, requestorID string, page, pageSize int) ([]*repository.ApprovalRequest, int64, error)
}

// ChainConfigStore reads approval chain configuration. The engine treats the
// configuration as read-only; the admin surface owns mutation.
type ChainConfigStore interface {
	ListActiveByType(ctx context.Context, approvalType repository.ApprovalType) ([]*repository.ApprovalChainConfig, error)
}

// DeadlineStore is the persistence surface the deadline monitor drives.
type DeadlineStore interface {
	Create(ctx context.Context, d *repository.WorkflowDeadline) error
	GetByID(ctx context.Context, id string) (*repository.WorkflowDeadline, error)
	Reschedule(ctx context.Context, id string, deadlineAt time.Time, warningAt *time.Time) error
	Complete(ctx context.Context, id string) error
	CompleteForWorkflow(ctx context.Context, workflowID string) error
	ListWarningDue(ctx context.Context, now time.Time) ([]*repository.WorkflowDeadline, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*repository.WorkflowDeadline, error)
	UpdateScanState(ctx context.Context, id string, warningSent, overdueSent bool, escalationLevel, version int) error
}
