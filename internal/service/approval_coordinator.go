package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// Decision is an approver's verdict on a pending request.
type Decision string

const (
	DecisionApprove         Decision = "approve"
	DecisionReject          Decision = "reject"
	DecisionRequestMoreInfo Decision = "request_more_info"
	DecisionDelegate        Decision = "delegate" // not supported; fails explicitly
)

// CoordinatorConfig carries the engine defaults.
type CoordinatorConfig struct {
	ApprovalDueDays  int // approval horizon from submission, per level
	WarningLeadHours int // deadline warning lead time
}

// SubmitApprovalRequest is the input to SubmitForApproval.
type SubmitApprovalRequest struct {
	ApprovalType repository.ApprovalType
	EntityID     string
	EntityType   string
	RequestorID  string
	Amount       *int64 // cents
	DaysCount    *int
	Priority     int // 1..5
	DepartmentID *string
	Description  *string
}

// ApprovalWorkflowResponse is the projection returned by the mutating
// coordinator operations.
type ApprovalWorkflowResponse struct {
	RequestID    string                   `json:"request_id"`
	WorkflowID   string                   `json:"workflow_id"`
	Status       repository.RequestStatus `json:"status"`
	CurrentLevel int                      `json:"current_level"`
	TotalLevels  int                      `json:"total_levels"`
	Approver     *string                  `json:"approver,omitempty"`
	DueDate      *time.Time               `json:"due_date,omitempty"`
}

// BulkApprovalResult is one item outcome of a bulk approve.
type BulkApprovalResult struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// ApprovalCoordinator drives approval requests through their chain: submit,
// decide, withdraw, escalate, bulk approve, plus the read projections.
//
// Decisions against the same request are serialized through a per-request
// mutex so two concurrent decisions cannot both read level L and both advance
// to L+1.
type ApprovalCoordinator struct {
	resolver     *ChainResolver
	stateManager *WorkflowStateManager
	requests     ApprovalRequestStore
	deadlines    *DeadlineMonitor
	directory    DirectoryClientInterface
	notifier     NotifierInterface
	updaters     EntityStatusRegistry
	clock        Clock
	cfg          CoordinatorConfig
	log          *logger.Logger

	locks requestLocks
}

// NewApprovalCoordinator creates a new ApprovalCoordinator.
func NewApprovalCoordinator(
	resolver *ChainResolver,
	stateManager *WorkflowStateManager,
	requests ApprovalRequestStore,
	deadlines *DeadlineMonitor,
	directory DirectoryClientInterface,
	notifier NotifierInterface,
	updaters EntityStatusRegistry,
	clock Clock,
	cfg CoordinatorConfig,
	log *logger.Logger,
) *ApprovalCoordinator {
	if cfg.ApprovalDueDays <= 0 {
		cfg.ApprovalDueDays = 5
	}
	if cfg.WarningLeadHours <= 0 {
		cfg.WarningLeadHours = 24
	}
	return &ApprovalCoordinator{
		resolver:     resolver,
		stateManager: stateManager,
		requests:     requests,
		deadlines:    deadlines,
		directory:    directory,
		notifier:     notifier,
		updaters:     updaters,
		clock:        clock,
		cfg:          cfg,
		log:          log,
		locks:        requestLocks{locks: make(map[string]*requestLock)},
	}
}

// ── Submission ───────────────────────────────────────────────────────────────

// SubmitForApproval resolves the chain, creates the workflow instance and the
// approval request at level 1, registers the first deadline and notifies the
// first approver.
func (c *ApprovalCoordinator) SubmitForApproval(ctx context.Context, req *SubmitApprovalRequest) (*ApprovalWorkflowResponse, error) {
	if req.RequestorID == "" {
		return nil, errors.InvalidInput("requestor_id", "requestor id is required")
	}
	if req.Priority < 1 || req.Priority > 5 {
		return nil, errors.InvalidInput("priority", "priority must be between 1 and 5")
	}

	exists, err := c.directory.ActorExists(ctx, req.RequestorID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to verify requestor")
	}
	if !exists {
		return nil, errors.NotFound("actor", req.RequestorID)
	}

	// Single-pending invariant: at most one non-terminal request per
	// (entity, approval type) pair.
	active, err := c.requests.FindActiveByEntity(ctx, req.EntityID, req.ApprovalType)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errors.Newf(errors.ErrCodeAlreadyPending,
			"approval request %s is already pending for %s/%s", active.ID, req.EntityID, req.ApprovalType)
	}

	// Snapshot the chain now. In-flight requests always complete against the
	// chain in effect at submission; later config edits do not apply.
	chain, err := c.snapshotChain(ctx, req)
	if err != nil {
		return nil, err
	}

	firstApprover, err := c.approverForLevel(ctx, chain[0], req.RequestorID, req.DepartmentID)
	if err != nil {
		return nil, err
	}
	if firstApprover == "" {
		return nil, errors.Newf(errors.ErrCodeNoApproverFound,
			"no approver could be resolved for level 1 of %s/%s", req.EntityID, req.ApprovalType)
	}

	now := c.clock.Now()
	dueDate := now.Add(time.Duration(c.cfg.ApprovalDueDays) * 24 * time.Hour)

	wfContext := c.buildContext(req)
	wfContext[repository.ContextKeyTransitionReason] = "submitted for approval"

	wf := &repository.WorkflowInstance{
		WorkflowType: workflowTypeFor(req.ApprovalType),
		EntityID:     req.EntityID,
		EntityType:   req.EntityType,
		Status:       repository.WorkflowStatusInProgress,
		CurrentState: "PENDING_LEVEL_1",
		Context:      wfContext,
		Assignee:     &firstApprover,
		DueDate:      &dueDate,
		CreatedBy:    req.RequestorID,
	}
	request := &repository.ApprovalRequest{
		ApprovalType: req.ApprovalType,
		EntityID:     req.EntityID,
		EntityType:   req.EntityType,
		Requestor:    req.RequestorID,
		Approver:     &firstApprover,
		CurrentLevel: 1,
		TotalLevels:  len(chain),
		Chain:        chain,
		Status:       repository.RequestStatusPendingApproval,
		Amount:       req.Amount,
		DaysCount:    req.DaysCount,
		Priority:     req.Priority,
		DepartmentID: req.DepartmentID,
		Description:  req.Description,
		SubmittedAt:  now,
		DueDate:      &dueDate,
	}
	deadline := c.deadlines.PrepareDeadline("approval",
		fmt.Sprintf("level 1 approval for %s %s", req.EntityType, req.EntityID),
		dueDate, &c.cfg.WarningLeadHours, &firstApprover)

	// One transaction: a mid-sequence failure must not strand an in-progress
	// workflow with no approval request behind it.
	if err := c.stateManager.CreateSubmission(ctx, wf, request, deadline); err != nil {
		return nil, err
	}

	c.notifier.Notify(ctx, "approval_requested", firstApprover,
		"Approval required",
		fmt.Sprintf("A %s request from %s awaits your approval", req.ApprovalType, req.RequestorID),
		request.ID, "approval_request")

	c.log.Info().
		Str("request_id", request.ID).
		Str("workflow_id", wf.ID).
		Str("approval_type", string(req.ApprovalType)).
		Int("total_levels", len(chain)).
		Str("approver", firstApprover).
		Msg("Approval request submitted")

	return response(request), nil
}

// snapshotChain resolves the configured chain, falling back to a single
// synthetic DIRECT_MANAGER level when nothing is configured.
func (c *ApprovalCoordinator) snapshotChain(ctx context.Context, req *SubmitApprovalRequest) ([]repository.ChainLevel, error) {
	configs, err := c.resolver.Resolve(ctx, req.ApprovalType, req.Amount, req.DepartmentID)
	if err != nil {
		return nil, err
	}

	if len(configs) == 0 {
		return []repository.ChainLevel{
			{Level: 1, ApproverType: repository.ApproverTypeDirectManager},
		}, nil
	}

	chain := make([]repository.ChainLevel, 0, len(configs))
	for i, cfg := range configs {
		chain = append(chain, repository.ChainLevel{
			Level:              i + 1,
			ApproverType:       cfg.ApproverType,
			SpecificApproverID: cfg.SpecificApproverID,
		})
	}
	return chain, nil
}

// approverForLevel resolves a chain level to an actor, applying the manager
// fallback when the configured rule resolves to nobody or to an
// unimplemented role.
func (c *ApprovalCoordinator) approverForLevel(ctx context.Context, level repository.ChainLevel, requestorID string, departmentID *string) (string, error) {
	actor, err := c.resolver.DetermineApprover(ctx, level, requestorID, departmentID)
	if err != nil && !errors.IsCode(err, errors.ErrCodeUnimplemented) {
		return "", err
	}
	if err == nil && actor != "" {
		return actor, nil
	}

	if errors.IsCode(err, errors.ErrCodeUnimplemented) {
		c.log.Warn().
			Str("approver_type", string(level.ApproverType)).
			Int("level", level.Level).
			Msg("Approver type has no role directory; falling back to direct manager")
	}

	// The configured rule produced no actor. Attempt the manager fallback
	// before giving up.
	if level.ApproverType != repository.ApproverTypeDirectManager {
		return c.resolver.DetermineApprover(ctx,
			repository.ChainLevel{Level: level.Level, ApproverType: repository.ApproverTypeDirectManager},
			requestorID, departmentID)
	}
	return "", nil
}

func (c *ApprovalCoordinator) buildContext(req *SubmitApprovalRequest) map[repository.ContextKey]string {
	wfContext := map[repository.ContextKey]string{
		repository.ContextKeyRequestor: req.RequestorID,
		repository.ContextKeyPriority:  strconv.Itoa(req.Priority),
	}
	if req.Amount != nil {
		wfContext[repository.ContextKeyAmountCents] = strconv.FormatInt(*req.Amount, 10)
	}
	if req.DaysCount != nil {
		wfContext[repository.ContextKeyDaysCount] = strconv.Itoa(*req.DaysCount)
	}
	if req.DepartmentID != nil {
		wfContext[repository.ContextKeyDepartmentID] = *req.DepartmentID
	}
	if req.Description != nil {
		wfContext[repository.ContextKeyDescription] = *req.Description
	}
	return wfContext
}

// ── Decisions ────────────────────────────────────────────────────────────────

// ProcessApprovalDecision applies one approver verdict. Decisions are
// accepted while the request is PENDING_APPROVAL or ON_HOLD (a fresh decision
// is the only way to resume a held request); anything else is
// ALREADY_PROCESSED.
func (c *ApprovalCoordinator) ProcessApprovalDecision(ctx context.Context, requestID string, decision Decision, comments *string) (*ApprovalWorkflowResponse, error) {
	unlock := c.locks.lock(requestID)
	defer unlock()

	req, err := c.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.RequestStatusPendingApproval && req.Status != repository.RequestStatusOnHold {
		return nil, errors.Newf(errors.ErrCodeAlreadyProcessed,
			"request %s is not awaiting a decision (status: %s)", requestID, req.Status)
	}

	switch decision {
	case DecisionApprove:
		return c.approve(ctx, req, comments)
	case DecisionReject:
		return c.reject(ctx, req, comments)
	case DecisionRequestMoreInfo:
		return c.hold(ctx, req, comments)
	case DecisionDelegate:
		return nil, errors.New(errors.ErrCodeInvalidTransition, "delegation is not supported")
	default:
		return nil, errors.InvalidInput("decision", fmt.Sprintf("unknown decision %q", decision))
	}
}

func (c *ApprovalCoordinator) approve(ctx context.Context, req *repository.ApprovalRequest, comments *string) (*ApprovalWorkflowResponse, error) {
	if req.CurrentLevel < req.TotalLevels {
		return c.advance(ctx, req)
	}
	return c.finalize(ctx, req, repository.RequestStatusApproved, "approved", comments)
}

// advance moves the request to the next chain level. The next approver is
// resolved before any mutation so a dead-end chain leaves the request in its
// prior state.
func (c *ApprovalCoordinator) advance(ctx context.Context, req *repository.ApprovalRequest) (*ApprovalWorkflowResponse, error) {
	nextLevel := req.CurrentLevel + 1
	levelRule := req.Chain[nextLevel-1]

	nextApprover, err := c.approverForLevel(ctx, levelRule, req.Requestor, req.DepartmentID)
	if err != nil {
		return nil, err
	}
	if nextApprover == "" {
		return nil, errors.Newf(errors.ErrCodeNoApproverFound,
			"no approver could be resolved for level %d of request %s", nextLevel, req.ID)
	}

	now := c.clock.Now()
	dueDate := now.Add(time.Duration(c.cfg.ApprovalDueDays) * 24 * time.Hour)

	if err := c.requests.Advance(ctx, req.ID, nextLevel, nextApprover, &dueDate); err != nil {
		return nil, err
	}
	if err := c.stateManager.TransitionState(ctx, req.WorkflowID,
		fmt.Sprintf("PENDING_LEVEL_%d", nextLevel), "level approved"); err != nil {
		return nil, err
	}
	if err := c.stateManager.AssignWorkflow(ctx, req.WorkflowID, nextApprover); err != nil {
		return nil, err
	}
	if err := c.stateManager.UpdateDueDate(ctx, req.WorkflowID, dueDate); err != nil {
		return nil, err
	}

	// Retire the previous level's deadline and open one for the new level.
	if err := c.deadlines.CompleteForWorkflow(ctx, req.WorkflowID); err != nil {
		return nil, err
	}
	if _, err := c.deadlines.RegisterDeadline(ctx, req.WorkflowID, "approval",
		fmt.Sprintf("level %d approval for %s %s", nextLevel, req.EntityType, req.EntityID),
		dueDate, &c.cfg.WarningLeadHours, &nextApprover); err != nil {
		return nil, err
	}

	c.notifier.Notify(ctx, "approval_advanced", nextApprover,
		"Approval required",
		fmt.Sprintf("A %s request from %s awaits your approval (level %d of %d)",
			req.ApprovalType, req.Requestor, nextLevel, req.TotalLevels),
		req.ID, "approval_request")

	c.log.Info().
		Str("request_id", req.ID).
		Int("level", nextLevel).
		Str("approver", nextApprover).
		Msg("Approval advanced to next level")

	req.CurrentLevel = nextLevel
	req.Approver = &nextApprover
	req.Status = repository.RequestStatusPendingApproval
	req.DueDate = &dueDate
	return response(req), nil
}

// finalize terminates the request as approved or rejected, completes the
// workflow, updates the business entity and notifies the requestor.
func (c *ApprovalCoordinator) finalize(ctx context.Context, req *repository.ApprovalRequest, status repository.RequestStatus, outcome string, comments *string) (*ApprovalWorkflowResponse, error) {
	// Update the owning entity before terminating the request: if its service
	// is down, the request stays pending and the decision can be retried.
	if updater, ok := c.updaters[req.ApprovalType]; ok {
		var err error
		if status == repository.RequestStatusApproved {
			err = updater.OnApproved(ctx, req.EntityID)
		} else {
			err = updater.OnRejected(ctx, req.EntityID, derefOr(comments, ""))
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update entity status")
		}
	}

	now := c.clock.Now()
	if err := c.requests.Decide(ctx, req.ID, status, &now, comments); err != nil {
		return nil, err
	}
	if err := c.stateManager.CompleteWorkflow(ctx, req.WorkflowID, outcome); err != nil {
		return nil, err
	}
	if err := c.deadlines.CompleteForWorkflow(ctx, req.WorkflowID); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Your %s request was %s", req.ApprovalType, outcome)
	if comments != nil && *comments != "" {
		message = fmt.Sprintf("%s: %s", message, *comments)
	}
	c.notifier.Notify(ctx, "approval_"+outcome, req.Requestor,
		"Request "+outcome, message, req.ID, "approval_request")

	c.log.Info().
		Str("request_id", req.ID).
		Str("outcome", outcome).
		Int("level", req.CurrentLevel).
		Msg("Approval request finalized")

	req.Status = status
	req.DecidedAt = &now
	req.ApproverComments = comments
	return response(req), nil
}

func (c *ApprovalCoordinator) reject(ctx context.Context, req *repository.ApprovalRequest, comments *string) (*ApprovalWorkflowResponse, error) {
	return c.finalize(ctx, req, repository.RequestStatusRejected, "rejected", comments)
}

// hold parks the request ON_HOLD until a fresh decision arrives.
func (c *ApprovalCoordinator) hold(ctx context.Context, req *repository.ApprovalRequest, comments *string) (*ApprovalWorkflowResponse, error) {
	if err := c.requests.Decide(ctx, req.ID, repository.RequestStatusOnHold, nil, comments); err != nil {
		return nil, err
	}
	if err := c.stateManager.TransitionState(ctx, req.WorkflowID, "ON_HOLD", "more information requested"); err != nil {
		return nil, err
	}

	c.notifier.Notify(ctx, "approval_on_hold", req.Requestor,
		"More information requested",
		fmt.Sprintf("Your %s request needs more information: %s", req.ApprovalType, derefOr(comments, "")),
		req.ID, "approval_request")

	req.Status = repository.RequestStatusOnHold
	req.ApproverComments = comments
	return response(req), nil
}

// ── Withdraw / escalate / bulk ───────────────────────────────────────────────

// WithdrawApprovalRequest cancels a PENDING_APPROVAL request and its
// workflow. A second withdraw on the same id fails with INVALID_TRANSITION
// (the workflow is already terminal) rather than double-firing notifications.
func (c *ApprovalCoordinator) WithdrawApprovalRequest(ctx context.Context, requestID, reason string) (*ApprovalWorkflowResponse, error) {
	unlock := c.locks.lock(requestID)
	defer unlock()

	req, err := c.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.RequestStatusPendingApproval {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"request %s cannot be withdrawn from status %s", requestID, req.Status)
	}

	now := c.clock.Now()
	reasonPtr := &reason
	if reason == "" {
		reasonPtr = nil
	}
	if err := c.requests.Decide(ctx, requestID, repository.RequestStatusCancelled, &now, reasonPtr); err != nil {
		return nil, err
	}
	if err := c.stateManager.CancelWorkflow(ctx, req.WorkflowID, reason); err != nil {
		return nil, err
	}
	if err := c.deadlines.CompleteForWorkflow(ctx, req.WorkflowID); err != nil {
		return nil, err
	}

	if req.Approver != nil {
		c.notifier.Notify(ctx, "approval_withdrawn", *req.Approver,
			"Approval withdrawn",
			fmt.Sprintf("The %s request from %s was withdrawn", req.ApprovalType, req.Requestor),
			req.ID, "approval_request")
	}

	c.log.Info().
		Str("request_id", requestID).
		Str("reason", reason).
		Msg("Approval request withdrawn")

	req.Status = repository.RequestStatusCancelled
	req.DecidedAt = &now
	return response(req), nil
}

// EscalateToNextApprover reassigns the current level to the current
// approver's manager without changing the level.
func (c *ApprovalCoordinator) EscalateToNextApprover(ctx context.Context, requestID string) (*ApprovalWorkflowResponse, error) {
	unlock := c.locks.lock(requestID)
	defer unlock()

	req, err := c.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.RequestStatusPendingApproval {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"request %s cannot be escalated from status %s", requestID, req.Status)
	}
	if req.Approver == nil {
		return nil, errors.Newf(errors.ErrCodeNoEscalationTarget,
			"request %s has no current approver", requestID)
	}

	manager, err := c.directory.GetManager(ctx, *req.Approver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve escalation target")
	}
	if manager == nil || *manager == "" {
		return nil, errors.Newf(errors.ErrCodeNoEscalationTarget,
			"approver %s has no manager to escalate to", *req.Approver)
	}

	if err := c.requests.SetApprover(ctx, requestID, *manager); err != nil {
		return nil, err
	}
	if err := c.stateManager.AssignWorkflow(ctx, req.WorkflowID, *manager); err != nil {
		return nil, err
	}

	// Flag the workflow as escalated unless it already is.
	wf, err := c.stateManager.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status == repository.WorkflowStatusInProgress {
		if err := c.stateManager.UpdateStatus(ctx, req.WorkflowID,
			repository.WorkflowStatusEscalated, "escalated to approver's manager"); err != nil {
			return nil, err
		}
	}

	c.notifier.Notify(ctx, "approval_escalated", *manager,
		"Escalated approval",
		fmt.Sprintf("A %s request from %s was escalated to you (level %d of %d)",
			req.ApprovalType, req.Requestor, req.CurrentLevel, req.TotalLevels),
		req.ID, "approval_request")

	c.log.Info().
		Str("request_id", requestID).
		Str("from", *req.Approver).
		Str("to", *manager).
		Msg("Approval escalated to approver's manager")

	req.Approver = manager
	return response(req), nil
}

// BulkApprove applies an approve decision to each id independently. One
// failure is recorded and does not abort the rest — best-effort, not atomic.
func (c *ApprovalCoordinator) BulkApprove(ctx context.Context, requestIDs []string, comments *string) []BulkApprovalResult {
	results := make([]BulkApprovalResult, 0, len(requestIDs))
	for _, id := range requestIDs {
		_, err := c.ProcessApprovalDecision(ctx, id, DecisionApprove, comments)
		result := BulkApprovalResult{RequestID: id, Success: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// ── Read projections ─────────────────────────────────────────────────────────

// GetApprovalRequest retrieves a request by id.
func (c *ApprovalCoordinator) GetApprovalRequest(ctx context.Context, requestID string) (*repository.ApprovalRequest, error) {
	return c.requests.GetByID(ctx, requestID)
}

// GetPendingApprovalsForApprover returns the page of requests awaiting an
// approver, plus the total count.
func (c *ApprovalCoordinator) GetPendingApprovalsForApprover(ctx context.Context, approverID string, page, pageSize int) ([]*repository.ApprovalRequest, int64, error) {
	return c.requests.ListPendingForApprover(ctx, approverID, page, pageSize)
}

// CountPendingApprovals returns how many requests await an approver.
func (c *ApprovalCoordinator) CountPendingApprovals(ctx context.Context, approverID string) (int64, error) {
	return c.requests.CountPendingForApprover(ctx, approverID)
}

// GetApprovalsByRequestor returns the page of requests an actor submitted.
func (c *ApprovalCoordinator) GetApprovalsByRequestor(ctx context.Context, requestorID string, page, pageSize int) ([]*repository.ApprovalRequest, int64, error) {
	return c.requests.ListByRequestor(ctx, requestorID, page, pageSize)
}

// ── helpers ──────────────────────────────────────────────────────────────────

// workflowTypeFor maps an approval type to the workflow type tag tracking it.
func workflowTypeFor(t repository.ApprovalType) repository.WorkflowType {
	switch t {
	case repository.ApprovalTypeLeave:
		return repository.WorkflowTypeLeaveApproval
	case repository.ApprovalTypeExpense:
		return repository.WorkflowTypeExpenseApproval
	case repository.ApprovalTypeOvertime:
		return repository.WorkflowTypeOvertimeApproval
	case repository.ApprovalTypeTransfer:
		return repository.WorkflowTypeTransfer
	case repository.ApprovalTypeTimesheet:
		return repository.WorkflowTypeTimesheetApproval
	case repository.ApprovalTypeTraining:
		return repository.WorkflowTypeTrainingEnrollment
	default:
		return repository.WorkflowType(t)
	}
}

func response(req *repository.ApprovalRequest) *ApprovalWorkflowResponse {
	return &ApprovalWorkflowResponse{
		RequestID:    req.ID,
		WorkflowID:   req.WorkflowID,
		Status:       req.Status,
		CurrentLevel: req.CurrentLevel,
		TotalLevels:  req.TotalLevels,
		Approver:     req.Approver,
		DueDate:      req.DueDate,
	}
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// requestLocks serializes operations per request id.
type requestLocks struct {
	mu    sync.Mutex
	locks map[string]*requestLock
}

type requestLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for id and returns the release func.
func (l *requestLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &requestLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
