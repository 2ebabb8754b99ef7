package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// DeadlineRepository persists workflow deadlines. Scan-state mutations carry
// the version the caller read; a stale version fails with CONFLICT so
// concurrent scans cannot double-fire a notification or an escalation.
type DeadlineRepository struct {
	db *database.DB
}

// NewDeadlineRepository creates a new DeadlineRepository.
func NewDeadlineRepository(db *database.DB) *DeadlineRepository {
	return &DeadlineRepository{db: db}
}

// Create inserts a new deadline.
func (r *DeadlineRepository) Create(ctx context.Context, d *WorkflowDeadline) error {
	return insertDeadline(ctx, r.db, d)
}

func insertDeadline(ctx context.Context, q rowQueryer, d *WorkflowDeadline) error {
	query := `
		INSERT INTO workflow_deadlines
		    (workflow_id, deadline_type, description, deadline_at,
		     warning_at, assignee, warning_sent, overdue_sent,
		     escalation_level, completed, version)
		VALUES ($1, $2, $3, $4,
		        $5, $6, FALSE, FALSE,
		        0, FALSE, 1)
		RETURNING id, warning_sent, overdue_sent, escalation_level,
		          completed, version, created_at, updated_at
	`

	err := q.QueryRow(ctx, query,
		d.WorkflowID,
		d.DeadlineType,
		d.Description,
		d.DeadlineAt,
		d.WarningAt,
		d.Assignee,
	).Scan(&d.ID, &d.WarningSent, &d.OverdueSent, &d.EscalationLevel,
		&d.Completed, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create deadline")
	}
	return nil
}

// GetByID retrieves a deadline by primary key.
func (r *DeadlineRepository) GetByID(ctx context.Context, id string) (*WorkflowDeadline, error) {
	query := deadlineSelect + ` WHERE id = $1`

	d, err := r.scanDeadline(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_deadline", id)
	}
	return d, err
}

// Reschedule moves the deadline and restarts the warning/overdue cycle.
func (r *DeadlineRepository) Reschedule(ctx context.Context, id string, deadlineAt time.Time, warningAt *time.Time) error {
	query := `
		UPDATE workflow_deadlines
		SET deadline_at  = $2,
		    warning_at   = $3,
		    warning_sent = FALSE,
		    overdue_sent = FALSE,
		    version      = version + 1,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, deadlineAt, warningAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_deadline", id)
	}
	return err
}

// Complete excludes the deadline from all future scans.
func (r *DeadlineRepository) Complete(ctx context.Context, id string) error {
	query := `
		UPDATE workflow_deadlines
		SET completed  = TRUE,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_deadline", id)
	}
	return err
}

// CompleteForWorkflow completes every open deadline of a workflow. Used when
// the underlying work item is decided or withdrawn.
func (r *DeadlineRepository) CompleteForWorkflow(ctx context.Context, workflowID string) error {
	query := `
		UPDATE workflow_deadlines
		SET completed  = TRUE,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE workflow_id = $1
		  AND completed = FALSE
	`

	_, err := r.db.Exec(ctx, query, workflowID)
	return err
}

// ListWarningDue returns open deadlines whose warning is due and unsent.
func (r *DeadlineRepository) ListWarningDue(ctx context.Context, now time.Time) ([]*WorkflowDeadline, error) {
	query := deadlineSelect + `
		WHERE completed = FALSE
		  AND warning_sent = FALSE
		  AND warning_at IS NOT NULL
		  AND warning_at <= $1
		ORDER BY warning_at ASC
	`
	return r.list(ctx, query, now)
}

// ListOverdue returns open deadlines past their deadline instant.
func (r *DeadlineRepository) ListOverdue(ctx context.Context, now time.Time) ([]*WorkflowDeadline, error) {
	query := deadlineSelect + `
		WHERE completed = FALSE
		  AND deadline_at <= $1
		ORDER BY deadline_at ASC
	`
	return r.list(ctx, query, now)
}

// UpdateScanState writes the scan-owned fields guarded by the version the
// caller read. A stale version returns CONFLICT; callers treat that as
// "another scan got here first" and move on.
func (r *DeadlineRepository) UpdateScanState(ctx context.Context, id string, warningSent, overdueSent bool, escalationLevel, version int) error {
	query := `
		UPDATE workflow_deadlines
		SET warning_sent     = $2,
		    overdue_sent     = $3,
		    escalation_level = $4,
		    version          = version + 1,
		    updated_at       = NOW()
		WHERE id = $1
		  AND version = $5
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, warningSent, overdueSent, escalationLevel, version).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.Newf(errors.ErrCodeConflict, "deadline %s was modified concurrently", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const deadlineSelect = `
	SELECT id, workflow_id, deadline_type, description, deadline_at,
	       warning_at, assignee, warning_sent, overdue_sent,
	       escalation_level, completed, version, created_at, updated_at
	FROM workflow_deadlines`

type deadlineScanner interface {
	Scan(dest ...any) error
}

func (r *DeadlineRepository) scanDeadline(row deadlineScanner) (*WorkflowDeadline, error) {
	d := &WorkflowDeadline{}
	err := row.Scan(
		&d.ID,
		&d.WorkflowID,
		&d.DeadlineType,
		&d.Description,
		&d.DeadlineAt,
		&d.WarningAt,
		&d.Assignee,
		&d.WarningSent,
		&d.OverdueSent,
		&d.EscalationLevel,
		&d.Completed,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DeadlineRepository) list(ctx context.Context, query string, args ...any) ([]*WorkflowDeadline, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list deadlines")
	}
	defer rows.Close()

	var out []*WorkflowDeadline
	for rows.Next() {
		d, err := r.scanDeadline(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan deadline")
		}
		out = append(out, d)
	}
	return out, nil
}
