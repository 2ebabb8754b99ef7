package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

func submitLeave(t *testing.T, f *engineFixture, entityID string) *ApprovalWorkflowResponse {
	t.Helper()
	resp, err := f.coordinator.SubmitForApproval(context.Background(), &SubmitApprovalRequest{
		ApprovalType: repository.ApprovalTypeLeave,
		EntityID:     entityID,
		EntityType:   "leave_request",
		RequestorID:  "emp-1",
		DaysCount:    intPtr(3),
		Priority:     3,
	})
	require.NoError(t, err)
	return resp
}

// An employee with a manager submits a leave request with no chain configured:
// the engine synthesizes a single direct-manager level, and one approval
// finalizes the request end to end.
func TestSubmitAndApproveWithFallbackChain(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	resp := submitLeave(t, f, "leave-1")
	assert.Equal(t, repository.RequestStatusPendingApproval, resp.Status)
	assert.Equal(t, 1, resp.CurrentLevel)
	assert.Equal(t, 1, resp.TotalLevels)
	require.NotNil(t, resp.Approver)
	assert.Equal(t, "mgr-1", *resp.Approver)
	require.NotNil(t, resp.DueDate)
	assert.Equal(t, testStart.Add(5*24*time.Hour), *resp.DueDate)

	wf, err := f.state.GetWorkflow(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowStatusInProgress, wf.Status)
	assert.Equal(t, "PENDING_LEVEL_1", wf.CurrentState)
	require.NotNil(t, wf.Assignee)
	assert.Equal(t, "mgr-1", *wf.Assignee)

	// A deadline with a 24h warning lead was registered for the approver.
	warnings, err := f.deadlines.ListWarningDue(ctx, testStart.Add(4*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, resp.WorkflowID, warnings[0].WorkflowID)

	requested := f.notifier.byType("approval_requested")
	require.Len(t, requested, 1)
	assert.Equal(t, "mgr-1", requested[0].ActorID)

	decided, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusApproved, decided.Status)

	wf, err = f.state.GetWorkflow(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowStatusCompleted, wf.Status)
	assert.Equal(t, "approved", wf.Context[repository.ContextKeyOutcome])

	// Entity status updated, requestor notified, deadline retired.
	assert.Equal(t, []string{"leave-1"}, f.updater.approved)
	approvedEvents := f.notifier.byType("approval_approved")
	require.Len(t, approvedEvents, 1)
	assert.Equal(t, "emp-1", approvedEvents[0].ActorID)

	open, err := f.deadlines.ListOverdue(ctx, testStart.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, open)
}

// A high-value expense travels a two-level amount chain: the direct manager
// first, then the configured finance approver.
func TestTwoLevelAmountChain(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	f.directory.addActor("finance-lead")
	seedChains(f,
		&repository.ApprovalChainConfig{ApprovalType: repository.ApprovalTypeExpense, AmountThreshold: int64Ptr(100000), SequenceOrder: 1, ApproverType: repository.ApproverTypeDirectManager, IsActive: true},
		&repository.ApprovalChainConfig{ApprovalType: repository.ApprovalTypeExpense, AmountThreshold: int64Ptr(100000), SequenceOrder: 2, ApproverType: repository.ApproverTypeSpecificEmployee, SpecificApproverID: strPtr("finance-lead"), IsActive: true},
	)
	ctx := context.Background()

	resp, err := f.coordinator.SubmitForApproval(ctx, &SubmitApprovalRequest{
		ApprovalType: repository.ApprovalTypeExpense,
		EntityID:     "exp-1",
		EntityType:   "expense_claim",
		RequestorID:  "emp-1",
		Amount:       int64Ptr(150000),
		Priority:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalLevels)
	assert.Equal(t, "mgr-1", *resp.Approver)

	// Level 1 approval advances, it does not finalize.
	f.clock.Advance(2 * time.Hour)
	resp, err = f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusPendingApproval, resp.Status)
	assert.Equal(t, 2, resp.CurrentLevel)
	assert.Equal(t, "finance-lead", *resp.Approver)

	wf, err := f.state.GetWorkflow(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING_LEVEL_2", wf.CurrentState)
	assert.Equal(t, "finance-lead", *wf.Assignee)

	advanced := f.notifier.byType("approval_advanced")
	require.Len(t, advanced, 1)
	assert.Equal(t, "finance-lead", advanced[0].ActorID)

	// The level-1 deadline was retired and a level-2 deadline opened.
	open, err := f.deadlines.ListOverdue(ctx, f.clock.Now().Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, f.clock.Now().Add(5*24*time.Hour), open[0].DeadlineAt)

	resp, err = f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusApproved, resp.Status)
	assert.Equal(t, []string{"exp-1"}, f.updater.approved)
}

func TestRejectAtLevelOneStopsTheChain(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	resp := submitLeave(t, f, "leave-1")

	decided, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionReject, strPtr("dates clash with release"))
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusRejected, decided.Status)
	assert.Equal(t, 1, decided.CurrentLevel)

	req, err := f.coordinator.GetApprovalRequest(ctx, resp.RequestID)
	require.NoError(t, err)
	require.NotNil(t, req.ApproverComments)
	assert.Equal(t, "dates clash with release", *req.ApproverComments)
	require.NotNil(t, req.DecidedAt)

	wf, err := f.state.GetWorkflow(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowStatusCompleted, wf.Status)
	assert.Equal(t, "rejected", wf.Context[repository.ContextKeyOutcome])

	assert.Equal(t, "dates clash with release", f.updater.rejected["leave-1"])

	rejectedEvents := f.notifier.byType("approval_rejected")
	require.Len(t, rejectedEvents, 1)
	assert.Equal(t, "emp-1", rejectedEvents[0].ActorID)
	assert.Contains(t, rejectedEvents[0].Message, "dates clash with release")
}

func TestSecondSubmissionForSameEntityIsRejected(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")

	submitLeave(t, f, "leave-1")

	_, err := f.coordinator.SubmitForApproval(context.Background(), &SubmitApprovalRequest{
		ApprovalType: repository.ApprovalTypeLeave,
		EntityID:     "leave-1",
		EntityType:   "leave_request",
		RequestorID:  "emp-1",
		Priority:     3,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAlreadyPending))
}

func TestSubmitValidation(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	// Unknown requestor.
	_, err := f.coordinator.SubmitForApproval(ctx, &SubmitApprovalRequest{
		ApprovalType: repository.ApprovalTypeLeave,
		EntityID:     "leave-1",
		EntityType:   "leave_request",
		RequestorID:  "ghost",
		Priority:     3,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	// Priority out of range.
	_, err = f.coordinator.SubmitForApproval(ctx, &SubmitApprovalRequest{
		ApprovalType: repository.ApprovalTypeLeave,
		EntityID:     "leave-1",
		EntityType:   "leave_request",
		RequestorID:  "emp-1",
		Priority:     6,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	// Missing requestor.
	_, err = f.coordinator.SubmitForApproval(ctx, &SubmitApprovalRequest{
		ApprovalType: repository.ApprovalTypeLeave,
		EntityID:     "leave-1",
		EntityType:   "leave_request",
		Priority:     3,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestSubmitFailsWhenNoApproverResolves(t *testing.T) {
	f := newEngineFixture(testStart)
	// The requestor exists but has no manager and nothing is configured.
	f.directory.addActor("founder")

	_, err := f.coordinator.SubmitForApproval(context.Background(), &SubmitApprovalRequest{
		ApprovalType: repository.ApprovalTypeLeave,
		EntityID:     "leave-1",
		EntityType:   "leave_request",
		RequestorID:  "founder",
		Priority:     3,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNoApproverFound))

	// No workflow was left behind.
	active, listErr := f.state.FindActiveWorkflowsByEntityID(context.Background(), "leave-1")
	require.NoError(t, listErr)
	assert.Empty(t, active)
}

// A chain level configured with a role type the directory cannot resolve yet
// (hr, finance, executive) falls back to the requestor's direct manager.
func TestRoleLevelFallsBackToManager(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	seedChains(f,
		&repository.ApprovalChainConfig{ApprovalType: repository.ApprovalTypeLeave, SequenceOrder: 1, ApproverType: repository.ApproverTypeHR, IsActive: true},
	)

	resp := submitLeave(t, f, "leave-1")
	assert.Equal(t, "mgr-1", *resp.Approver)
}

func TestDelegateIsNotSupported(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")

	resp := submitLeave(t, f, "leave-1")

	_, err := f.coordinator.ProcessApprovalDecision(context.Background(), resp.RequestID, DecisionDelegate, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))

	// The request is untouched and still decidable.
	req, err := f.coordinator.GetApprovalRequest(context.Background(), resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusPendingApproval, req.Status)
}

func TestRequestMoreInfoHoldsThenResumes(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	resp := submitLeave(t, f, "leave-1")

	held, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionRequestMoreInfo, strPtr("which dates?"))
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusOnHold, held.Status)

	wf, err := f.state.GetWorkflow(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "ON_HOLD", wf.CurrentState)

	onHold := f.notifier.byType("approval_on_hold")
	require.Len(t, onHold, 1)
	assert.Equal(t, "emp-1", onHold[0].ActorID)

	// A fresh decision resumes the held request.
	decided, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusApproved, decided.Status)
}

// A failing entity-status update must not terminate the request: the decision
// errors out, the request stays pending, and a retry lands once the owning
// service recovers.
func TestUpdaterFailureKeepsRequestDecidable(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	resp := submitLeave(t, f, "leave-1")

	f.updater.err = stderrors.New("leave service unavailable")
	_, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))

	// Nothing was finalized.
	req, err := f.coordinator.GetApprovalRequest(ctx, resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusPendingApproval, req.Status)
	assert.Nil(t, req.DecidedAt)

	wf, err := f.state.GetWorkflow(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowStatusInProgress, wf.Status)
	assert.Empty(t, f.updater.approved)
	assert.Empty(t, f.notifier.byType("approval_approved"))

	f.updater.err = nil
	decided, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusApproved, decided.Status)
	assert.Equal(t, []string{"leave-1"}, f.updater.approved)
}

// The same holds for rejections: the comments never reach the entity twice
// and the request is still rejectable after the callback recovers.
func TestUpdaterFailureKeepsRequestRejectable(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	resp := submitLeave(t, f, "leave-1")

	f.updater.err = stderrors.New("leave service unavailable")
	_, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionReject, strPtr("no"))
	require.Error(t, err)
	assert.Empty(t, f.updater.rejected)

	f.updater.err = nil
	decided, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionReject, strPtr("no"))
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusRejected, decided.Status)
	assert.Equal(t, "no", f.updater.rejected["leave-1"])
}

// A persistence failure mid-submission leaves nothing behind: no workflow, no
// request, no deadline, no notification.
func TestSubmitForApprovalIsAtomic(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	f.requests.failCreate = stderrors.New("connection reset")
	_, err := f.coordinator.SubmitForApproval(ctx, &SubmitApprovalRequest{
		ApprovalType: repository.ApprovalTypeLeave,
		EntityID:     "leave-1",
		EntityType:   "leave_request",
		RequestorID:  "emp-1",
		Priority:     3,
	})
	require.Error(t, err)

	active, err := f.state.FindActiveWorkflowsByEntityID(ctx, "leave-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	pending, err := f.requests.FindActiveByEntity(ctx, "leave-1", repository.ApprovalTypeLeave)
	require.NoError(t, err)
	assert.Nil(t, pending)

	overdue, err := f.deadlines.ListOverdue(ctx, testStart.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, overdue)
	assert.Empty(t, f.notifier.events)

	// The same submission lands once the store recovers.
	f.requests.failCreate = nil
	resp := submitLeave(t, f, "leave-1")
	assert.Equal(t, repository.RequestStatusPendingApproval, resp.Status)
	assert.NotEmpty(t, resp.WorkflowID)
}

func TestDecisionAfterFinalIsAlreadyProcessed(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	resp := submitLeave(t, f, "leave-1")
	_, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.NoError(t, err)

	_, err = f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAlreadyProcessed))

	// Only one entity-status update fired.
	assert.Equal(t, []string{"leave-1"}, f.updater.approved)
}

func TestWithdrawCancelsAndSecondWithdrawFails(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	resp := submitLeave(t, f, "leave-1")

	withdrawn, err := f.coordinator.WithdrawApprovalRequest(ctx, resp.RequestID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusCancelled, withdrawn.Status)

	wf, err := f.state.GetWorkflow(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowStatusCancelled, wf.Status)
	assert.Equal(t, "plans changed", wf.Context[repository.ContextKeyCancelReason])

	withdrawnEvents := f.notifier.byType("approval_withdrawn")
	require.Len(t, withdrawnEvents, 1)
	assert.Equal(t, "mgr-1", withdrawnEvents[0].ActorID)

	// Second withdraw fails without re-notifying.
	_, err = f.coordinator.WithdrawApprovalRequest(ctx, resp.RequestID, "again")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))
	assert.Len(t, f.notifier.byType("approval_withdrawn"), 1)

	// The withdrawn entity can be resubmitted.
	resubmitted := submitLeave(t, f, "leave-1")
	assert.NotEqual(t, resp.RequestID, resubmitted.RequestID)
}

func TestEscalateToApproverManager(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	f.directory.setManager("mgr-1", "dir-1")
	ctx := context.Background()

	resp := submitLeave(t, f, "leave-1")

	escalated, err := f.coordinator.EscalateToNextApprover(ctx, resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "dir-1", *escalated.Approver)
	assert.Equal(t, 1, escalated.CurrentLevel) // level is unchanged

	wf, err := f.state.GetWorkflow(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowStatusEscalated, wf.Status)
	assert.Equal(t, "dir-1", *wf.Assignee)

	escalations := f.notifier.byType("approval_escalated")
	require.Len(t, escalations, 1)
	assert.Equal(t, "dir-1", escalations[0].ActorID)

	// The new approver can finalize from the escalated workflow status.
	decided, err := f.coordinator.ProcessApprovalDecision(ctx, resp.RequestID, DecisionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusApproved, decided.Status)
}

func TestEscalateWithoutManagerFails(t *testing.T) {
	f := newEngineFixture(testStart)
	// mgr-1 is the top of the chain.
	f.directory.setManager("emp-1", "mgr-1")

	resp := submitLeave(t, f, "leave-1")

	_, err := f.coordinator.EscalateToNextApprover(context.Background(), resp.RequestID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNoEscalationTarget))

	// The request still awaits its original approver.
	req, getErr := f.coordinator.GetApprovalRequest(context.Background(), resp.RequestID)
	require.NoError(t, getErr)
	assert.Equal(t, "mgr-1", *req.Approver)
	assert.Equal(t, repository.RequestStatusPendingApproval, req.Status)
}

func TestBulkApproveIsBestEffort(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	first := submitLeave(t, f, "leave-1")
	second := submitLeave(t, f, "leave-2")

	results := f.coordinator.BulkApprove(ctx, []string{first.RequestID, "missing", second.RequestID}, nil)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].Success)

	assert.ElementsMatch(t, []string{"leave-1", "leave-2"}, f.updater.approved)
}

func TestPendingApprovalProjections(t *testing.T) {
	f := newEngineFixture(testStart)
	f.directory.setManager("emp-1", "mgr-1")
	ctx := context.Background()

	first := submitLeave(t, f, "leave-1")
	f.clock.Advance(time.Minute)
	submitLeave(t, f, "leave-2")

	count, err := f.coordinator.CountPendingApprovals(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	pending, total, err := f.coordinator.GetPendingApprovalsForApprover(ctx, "mgr-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, pending, 2)

	// A decision removes the request from the pending view.
	_, err = f.coordinator.ProcessApprovalDecision(ctx, first.RequestID, DecisionApprove, nil)
	require.NoError(t, err)

	count, err = f.coordinator.CountPendingApprovals(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	mine, total, err := f.coordinator.GetApprovalsByRequestor(ctx, "emp-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, mine, 2)
}
