package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// WorkflowStateManager owns the workflow instance lifecycle. Every workflow
// mutation in the system flows through it so the terminal-status guard and
// the status transition table are enforced in exactly one place.
type WorkflowStateManager struct {
	store WorkflowStore
	clock Clock
	log   *logger.Logger
}

// NewWorkflowStateManager creates a new WorkflowStateManager.
func NewWorkflowStateManager(store WorkflowStore, clock Clock, log *logger.Logger) *WorkflowStateManager {
	return &WorkflowStateManager{store: store, clock: clock, log: log}
}

// allowedStatusTransitions is the full status transition table. Terminal
// statuses have no entries: nothing leaves them.
var allowedStatusTransitions = map[repository.WorkflowStatus][]repository.WorkflowStatus{
	repository.WorkflowStatusCreated: {
		repository.WorkflowStatusInProgress,
		repository.WorkflowStatusCancelled,
	},
	repository.WorkflowStatusInProgress: {
		repository.WorkflowStatusEscalated,
		repository.WorkflowStatusApproved,
		repository.WorkflowStatusRejected,
		repository.WorkflowStatusCancelled,
		repository.WorkflowStatusCompleted,
	},
	repository.WorkflowStatusEscalated: {
		repository.WorkflowStatusInProgress,
		repository.WorkflowStatusApproved,
		repository.WorkflowStatusRejected,
		repository.WorkflowStatusCancelled,
		repository.WorkflowStatusCompleted,
	},
}

func transitionAllowed(from, to repository.WorkflowStatus) bool {
	for _, allowed := range allowedStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CreateWorkflow creates a workflow instance in status CREATED.
func (m *WorkflowStateManager) CreateWorkflow(
	ctx context.Context,
	workflowType repository.WorkflowType,
	entityID, entityType string,
	wfContext map[repository.ContextKey]string,
	initiator string,
) (*repository.WorkflowInstance, error) {
	if entityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity id is required")
	}

	for key, value := range wfContext {
		if err := validateContextValue(key, value); err != nil {
			return nil, err
		}
	}

	wf := &repository.WorkflowInstance{
		WorkflowType: workflowType,
		EntityID:     entityID,
		EntityType:   entityType,
		Status:       repository.WorkflowStatusCreated,
		CurrentState: "CREATED",
		Context:      wfContext,
		CreatedBy:    initiator,
	}

	if err := m.store.Create(ctx, wf); err != nil {
		return nil, err
	}

	m.log.Info().
		Str("workflow_id", wf.ID).
		Str("workflow_type", string(workflowType)).
		Str("entity_id", entityID).
		Msg("Workflow created")

	return wf, nil
}

// CreateSubmission atomically creates a workflow instance together with its
// approval request and first deadline. The caller supplies the instance
// already in its submission-time shape (IN_PROGRESS, first pending state,
// assignee, due date); either all three rows land or none do.
func (m *WorkflowStateManager) CreateSubmission(
	ctx context.Context,
	wf *repository.WorkflowInstance,
	req *repository.ApprovalRequest,
	d *repository.WorkflowDeadline,
) error {
	if wf.EntityID == "" {
		return errors.InvalidInput("entity_id", "entity id is required")
	}
	for key, value := range wf.Context {
		if err := validateContextValue(key, value); err != nil {
			return err
		}
	}

	if err := m.store.CreateSubmission(ctx, wf, req, d); err != nil {
		return err
	}

	m.log.Info().
		Str("workflow_id", wf.ID).
		Str("workflow_type", string(wf.WorkflowType)).
		Str("entity_id", wf.EntityID).
		Msg("Workflow created")
	return nil
}

// StartWorkflow moves a CREATED workflow to IN_PROGRESS.
func (m *WorkflowStateManager) StartWorkflow(ctx context.Context, id string) error {
	wf, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status != repository.WorkflowStatusCreated {
		return errors.Newf(errors.ErrCodeInvalidTransition,
			"workflow %s cannot start from status %s", id, wf.Status)
	}
	return m.store.UpdateStatus(ctx, id, repository.WorkflowStatusInProgress)
}

// TransitionState updates the free-form phase label and records the reason in
// the context. It never changes the coarse status and is callable any number
// of times while the instance is non-terminal.
func (m *WorkflowStateManager) TransitionState(ctx context.Context, id, newState, reason string) error {
	wf, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return terminalErr(id, wf.Status)
	}

	if err := m.store.UpdateState(ctx, id, newState); err != nil {
		return err
	}
	if reason != "" {
		if err := m.store.UpsertContext(ctx, id, repository.ContextKeyTransitionReason, reason); err != nil {
			return err
		}
	}

	m.log.Debug().
		Str("workflow_id", id).
		Str("state", newState).
		Msg("Workflow state transitioned")
	return nil
}

// AssignWorkflow sets the responsible actor without touching state or status.
func (m *WorkflowStateManager) AssignWorkflow(ctx context.Context, id, actorID string) error {
	wf, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return terminalErr(id, wf.Status)
	}
	return m.store.Assign(ctx, id, &actorID)
}

// UpdateContext upserts one key into the context map. Unregistered keys and
// malformed values are rejected so context stays machine-readable.
func (m *WorkflowStateManager) UpdateContext(ctx context.Context, id string, key repository.ContextKey, value string) error {
	wf, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return terminalErr(id, wf.Status)
	}
	if err := validateContextValue(key, value); err != nil {
		return err
	}
	return m.store.UpsertContext(ctx, id, key, value)
}

// UpdateDueDate sets the instance deadline.
func (m *WorkflowStateManager) UpdateDueDate(ctx context.Context, id string, dueDate time.Time) error {
	wf, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return terminalErr(id, wf.Status)
	}
	return m.store.UpdateDueDate(ctx, id, &dueDate)
}

// UpdateStatus applies a validated coarse status transition.
func (m *WorkflowStateManager) UpdateStatus(ctx context.Context, id string, newStatus repository.WorkflowStatus, reason string) error {
	wf, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return terminalErr(id, wf.Status)
	}
	if !transitionAllowed(wf.Status, newStatus) {
		return errors.Newf(errors.ErrCodeInvalidTransition,
			"workflow %s cannot move from %s to %s", id, wf.Status, newStatus)
	}

	if err := m.store.UpdateStatus(ctx, id, newStatus); err != nil {
		return err
	}
	if reason != "" {
		if err := m.store.UpsertContext(ctx, id, repository.ContextKeyTransitionReason, reason); err != nil {
			return err
		}
	}

	m.log.Info().
		Str("workflow_id", id).
		Str("from", string(wf.Status)).
		Str("to", string(newStatus)).
		Msg("Workflow status updated")
	return nil
}

// CompleteWorkflow finalizes the instance as COMPLETED and records the
// outcome label in the context.
func (m *WorkflowStateManager) CompleteWorkflow(ctx context.Context, id, outcome string) error {
	wf, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return terminalErr(id, wf.Status)
	}

	if err := m.store.UpsertContext(ctx, id, repository.ContextKeyOutcome, outcome); err != nil {
		return err
	}
	if err := m.store.UpdateState(ctx, id, "COMPLETED"); err != nil {
		return err
	}
	if err := m.store.UpdateStatus(ctx, id, repository.WorkflowStatusCompleted); err != nil {
		return err
	}

	m.log.Info().
		Str("workflow_id", id).
		Str("outcome", outcome).
		Msg("Workflow completed")
	return nil
}

// CancelWorkflow finalizes the instance as CANCELLED from any non-terminal
// status. Re-invoking on an already-cancelled instance fails loudly rather
// than double-firing downstream effects.
func (m *WorkflowStateManager) CancelWorkflow(ctx context.Context, id, reason string) error {
	wf, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return terminalErr(id, wf.Status)
	}

	if reason != "" {
		if err := m.store.UpsertContext(ctx, id, repository.ContextKeyCancelReason, reason); err != nil {
			return err
		}
	}
	if err := m.store.UpdateState(ctx, id, "CANCELLED"); err != nil {
		return err
	}
	if err := m.store.UpdateStatus(ctx, id, repository.WorkflowStatusCancelled); err != nil {
		return err
	}

	m.log.Info().
		Str("workflow_id", id).
		Str("reason", reason).
		Msg("Workflow cancelled")
	return nil
}

// GetWorkflow retrieves an instance.
func (m *WorkflowStateManager) GetWorkflow(ctx context.Context, id string) (*repository.WorkflowInstance, error) {
	return m.store.GetByID(ctx, id)
}

// FindActiveWorkflowsByEntityID returns the non-terminal instances tracking
// a business entity.
func (m *WorkflowStateManager) FindActiveWorkflowsByEntityID(ctx context.Context, entityID string) ([]*repository.WorkflowInstance, error) {
	return m.store.FindActiveByEntityID(ctx, entityID)
}

func terminalErr(id string, status repository.WorkflowStatus) error {
	return errors.Newf(errors.ErrCodeInvalidTransition,
		"workflow %s is terminal (status: %s)", id, status)
}

func validateContextValue(key repository.ContextKey, value string) error {
	kind, ok := repository.ContextKeyKind(key)
	if !ok {
		return errors.InvalidInput("context", fmt.Sprintf("unknown context key %q", key))
	}
	switch kind {
	case repository.ContextKindInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return errors.InvalidInput("context", fmt.Sprintf("key %q expects an integer value", key))
		}
	case repository.ContextKindDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return errors.InvalidInput("context", fmt.Sprintf("key %q expects a YYYY-MM-DD value", key))
		}
	}
	return nil
}
