package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// DeadlineMonitor registers per-workflow deadlines and runs the periodic
// warning and overdue scans. The scans only touch deadline/escalation state,
// never workflow business data.
//
// Scan mutations go through the store's versioned update: when two scans race
// on the same row, exactly one write lands and the loser sees CONFLICT and
// moves on. warning_sent and overdue_sent each flip false→true once per
// deadline cycle, and the escalation level is idempotent per 24-hour overdue
// bucket.
type DeadlineMonitor struct {
	store     DeadlineStore
	directory DirectoryClientInterface
	notifier  NotifierInterface
	clock     Clock
	log       *logger.Logger
}

// NewDeadlineMonitor creates a new DeadlineMonitor.
func NewDeadlineMonitor(store DeadlineStore, directory DirectoryClientInterface, notifier NotifierInterface, clock Clock, log *logger.Logger) *DeadlineMonitor {
	return &DeadlineMonitor{
		store:     store,
		directory: directory,
		notifier:  notifier,
		clock:     clock,
		log:       log,
	}
}

// PrepareDeadline builds a deadline record without persisting it, for callers
// that create it atomically alongside other rows. When warningHoursBefore is
// set, a warning fires that many hours before the deadline instant. The
// workflow id is filled in by the store.
func (m *DeadlineMonitor) PrepareDeadline(
	deadlineType, description string,
	deadlineAt time.Time,
	warningHoursBefore *int,
	assigneeID *string,
) *repository.WorkflowDeadline {
	var warningAt *time.Time
	if warningHoursBefore != nil && *warningHoursBefore > 0 {
		w := deadlineAt.Add(-time.Duration(*warningHoursBefore) * time.Hour)
		warningAt = &w
	}

	return &repository.WorkflowDeadline{
		DeadlineType: deadlineType,
		Description:  description,
		DeadlineAt:   deadlineAt,
		WarningAt:    warningAt,
		Assignee:     assigneeID,
	}
}

// RegisterDeadline creates a deadline for a workflow.
func (m *DeadlineMonitor) RegisterDeadline(
	ctx context.Context,
	workflowID, deadlineType, description string,
	deadlineAt time.Time,
	warningHoursBefore *int,
	assigneeID *string,
) (*repository.WorkflowDeadline, error) {
	if workflowID == "" {
		return nil, errors.InvalidInput("workflow_id", "workflow id is required")
	}

	d := m.PrepareDeadline(deadlineType, description, deadlineAt, warningHoursBefore, assigneeID)
	d.WorkflowID = workflowID
	if err := m.store.Create(ctx, d); err != nil {
		return nil, err
	}

	m.log.Debug().
		Str("deadline_id", d.ID).
		Str("workflow_id", workflowID).
		Time("deadline_at", deadlineAt).
		Msg("Deadline registered")
	return d, nil
}

// UpdateDeadline moves a deadline to a new instant and restarts the
// warning/overdue cycle. The original warning lead time is preserved.
func (m *DeadlineMonitor) UpdateDeadline(ctx context.Context, deadlineID string, newDeadlineAt time.Time) (*repository.WorkflowDeadline, error) {
	d, err := m.store.GetByID(ctx, deadlineID)
	if err != nil {
		return nil, err
	}
	if d.Completed {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"deadline %s is completed", deadlineID)
	}

	var warningAt *time.Time
	if d.WarningAt != nil {
		lead := d.DeadlineAt.Sub(*d.WarningAt)
		w := newDeadlineAt.Add(-lead)
		warningAt = &w
	}

	if err := m.store.Reschedule(ctx, deadlineID, newDeadlineAt, warningAt); err != nil {
		return nil, err
	}
	return m.store.GetByID(ctx, deadlineID)
}

// CompleteDeadline marks the deadline done; it is excluded from all future
// scans.
func (m *DeadlineMonitor) CompleteDeadline(ctx context.Context, deadlineID string) error {
	if _, err := m.store.GetByID(ctx, deadlineID); err != nil {
		return err
	}
	return m.store.Complete(ctx, deadlineID)
}

// CompleteForWorkflow completes every open deadline of a workflow.
func (m *DeadlineMonitor) CompleteForWorkflow(ctx context.Context, workflowID string) error {
	return m.store.CompleteForWorkflow(ctx, workflowID)
}

// ── Scans ────────────────────────────────────────────────────────────────────

// RunWarningScan sends exactly one warning per deadline whose warning instant
// has passed.
func (m *DeadlineMonitor) RunWarningScan(ctx context.Context) error {
	now := m.clock.Now()
	due, err := m.store.ListWarningDue(ctx, now)
	if err != nil {
		return err
	}

	for _, d := range due {
		if err := m.store.UpdateScanState(ctx, d.ID, true, d.OverdueSent, d.EscalationLevel, d.Version); err != nil {
			if errors.IsCode(err, errors.ErrCodeConflict) {
				continue // another scan got here first
			}
			m.log.Error().Err(err).Str("deadline_id", d.ID).Msg("Warning scan: failed to update deadline")
			continue
		}

		m.notifyAssignee(ctx, d, "deadline_warning", "Deadline approaching",
			fmt.Sprintf("%s is due at %s", d.Description, d.DeadlineAt.Format(time.RFC3339)))

		m.log.Info().
			Str("deadline_id", d.ID).
			Str("workflow_id", d.WorkflowID).
			Msg("Deadline warning sent")
	}
	return nil
}

// RunOverdueScan sends one overdue notice per deadline on first detection and
// steps the escalation level once per full 24 hours overdue thereafter.
// Re-running inside the same 24-hour bucket performs no additional
// escalation.
func (m *DeadlineMonitor) RunOverdueScan(ctx context.Context) error {
	now := m.clock.Now()
	overdue, err := m.store.ListOverdue(ctx, now)
	if err != nil {
		return err
	}

	for _, d := range overdue {
		hoursOverdue := int(now.Sub(d.DeadlineAt).Hours())
		expectedLevel := hoursOverdue / 24

		notifyOverdue := !d.OverdueSent
		escalateTo := d.EscalationLevel
		if expectedLevel > d.EscalationLevel {
			escalateTo = expectedLevel
		}
		if !notifyOverdue && escalateTo == d.EscalationLevel {
			continue // nothing to do in this bucket
		}

		if err := m.store.UpdateScanState(ctx, d.ID, d.WarningSent, true, escalateTo, d.Version); err != nil {
			if errors.IsCode(err, errors.ErrCodeConflict) {
				continue
			}
			m.log.Error().Err(err).Str("deadline_id", d.ID).Msg("Overdue scan: failed to update deadline")
			continue
		}

		if notifyOverdue {
			m.notifyAssignee(ctx, d, "deadline_overdue", "Deadline overdue",
				fmt.Sprintf("%s was due at %s", d.Description, d.DeadlineAt.Format(time.RFC3339)))
			m.log.Info().
				Str("deadline_id", d.ID).
				Str("workflow_id", d.WorkflowID).
				Msg("Overdue notice sent")
		}
		if escalateTo > d.EscalationLevel {
			m.notifyEscalation(ctx, d, escalateTo)
		}
	}
	return nil
}

// Escalate manually steps the escalation level by one, independent of the
// time-based rule.
func (m *DeadlineMonitor) Escalate(ctx context.Context, deadlineID string) (*repository.WorkflowDeadline, error) {
	d, err := m.store.GetByID(ctx, deadlineID)
	if err != nil {
		return nil, err
	}
	if d.Completed {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"deadline %s is completed", deadlineID)
	}

	newLevel := d.EscalationLevel + 1
	if err := m.store.UpdateScanState(ctx, d.ID, d.WarningSent, d.OverdueSent, newLevel, d.Version); err != nil {
		return nil, err
	}
	m.notifyEscalation(ctx, d, newLevel)

	return m.store.GetByID(ctx, deadlineID)
}

// ── notification helpers ─────────────────────────────────────────────────────

func (m *DeadlineMonitor) notifyAssignee(ctx context.Context, d *repository.WorkflowDeadline, eventType, title, message string) {
	if d.Assignee == nil || *d.Assignee == "" {
		return
	}
	m.notifier.Notify(ctx, eventType, *d.Assignee, title, message, d.WorkflowID, "workflow")
}

// notifyEscalation notifies the assignee's manager; when the assignee has no
// manager (or no assignee), the assignee themselves is notified so the
// escalation is never silent.
func (m *DeadlineMonitor) notifyEscalation(ctx context.Context, d *repository.WorkflowDeadline, level int) {
	title := "Deadline escalated"
	message := fmt.Sprintf("%s is overdue (escalation level %d)", d.Description, level)

	if d.Assignee != nil && *d.Assignee != "" {
		manager, err := m.directory.GetManager(ctx, *d.Assignee)
		if err != nil {
			m.log.Warn().Err(err).Str("assignee", *d.Assignee).Msg("Escalation: failed to resolve manager")
		} else if manager != nil && *manager != "" {
			m.notifier.Notify(ctx, "deadline_escalated", *manager, title, message, d.WorkflowID, "workflow")
			m.log.Info().
				Str("deadline_id", d.ID).
				Int("level", level).
				Str("notified", *manager).
				Msg("Deadline escalated")
			return
		}
	}

	m.notifyAssignee(ctx, d, "deadline_escalated", title, message)
	m.log.Info().
		Str("deadline_id", d.ID).
		Int("level", level).
		Msg("Deadline escalated (no manager; assignee notified)")
}
