package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// WorkflowRepository persists workflow instances. Instances are never
// deleted; terminal rows remain as history.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// rowQueryer is satisfied by both the pool wrapper and pgx.Tx, so the insert
// helpers run standalone or inside a transaction.
type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Create inserts a new workflow instance.
func (r *WorkflowRepository) Create(ctx context.Context, wf *WorkflowInstance) error {
	return insertWorkflow(ctx, r.db, wf)
}

// CreateSubmission atomically creates a workflow instance together with its
// approval request and first deadline. A failure on any insert rolls all of
// them back, so a submission is either fully visible or absent.
func (r *WorkflowRepository) CreateSubmission(ctx context.Context, wf *WorkflowInstance, req *ApprovalRequest, d *WorkflowDeadline) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := insertWorkflow(ctx, tx, wf); err != nil {
			return err
		}
		req.WorkflowID = wf.ID
		if err := insertRequest(ctx, tx, req); err != nil {
			return err
		}
		d.WorkflowID = wf.ID
		return insertDeadline(ctx, tx, d)
	})
}

func insertWorkflow(ctx context.Context, q rowQueryer, wf *WorkflowInstance) error {
	ctxJSON, err := marshalContext(wf.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances
		    (workflow_type, entity_id, entity_type, status,
		     current_state, context, assignee, due_date, created_by)
		VALUES ($1::workflow_type, $2, $3, $4::workflow_status,
		        $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err = q.QueryRow(ctx, query,
		wf.WorkflowType,
		wf.EntityID,
		wf.EntityType,
		wf.Status,
		wf.CurrentState,
		ctxJSON,
		wf.Assignee,
		wf.DueDate,
		wf.CreatedBy,
	).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow instance")
	}
	return nil
}

// GetByID retrieves a workflow instance by primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*WorkflowInstance, error) {
	query := workflowSelect + ` WHERE id = $1`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_instance", id)
	}
	return wf, err
}

// FindActiveByEntityID returns all non-terminal instances tracking an entity.
func (r *WorkflowRepository) FindActiveByEntityID(ctx context.Context, entityID string) ([]*WorkflowInstance, error) {
	query := workflowSelect + `
		WHERE entity_id = $1
		  AND status IN ('created', 'in_progress', 'escalated')
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find active workflows")
	}
	defer rows.Close()

	var out []*WorkflowInstance
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow instance")
		}
		out = append(out, wf)
	}
	return out, nil
}

// UpdateStatus sets the coarse status.
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, id string, status WorkflowStatus) error {
	query := `
		UPDATE workflow_instances
		SET status     = $2::workflow_status,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	return r.returningID(ctx, query, id, status)
}

// UpdateState sets the free-form phase label.
func (r *WorkflowRepository) UpdateState(ctx context.Context, id, state string) error {
	query := `
		UPDATE workflow_instances
		SET current_state = $2,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`
	return r.returningID(ctx, query, id, state)
}

// Assign sets the current responsible actor.
func (r *WorkflowRepository) Assign(ctx context.Context, id string, assignee *string) error {
	query := `
		UPDATE workflow_instances
		SET assignee   = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	return r.returningID(ctx, query, id, assignee)
}

// UpdateDueDate sets the instance deadline.
func (r *WorkflowRepository) UpdateDueDate(ctx context.Context, id string, dueDate *time.Time) error {
	query := `
		UPDATE workflow_instances
		SET due_date   = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	return r.returningID(ctx, query, id, dueDate)
}

// UpsertContext merges one key/value into the context map. Keys are only ever
// appended or overwritten, never removed.
func (r *WorkflowRepository) UpsertContext(ctx context.Context, id string, key ContextKey, value string) error {
	entry, err := json.Marshal(map[ContextKey]string{key: value})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal context entry")
	}

	query := `
		UPDATE workflow_instances
		SET context    = COALESCE(context, '{}'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	return r.returningID(ctx, query, id, entry)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const workflowSelect = `
	SELECT id, workflow_type, entity_id, entity_type, status,
	       current_state, context, assignee, due_date, created_by,
	       created_at, updated_at
	FROM workflow_instances`

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row workflowScanner) (*WorkflowInstance, error) {
	wf := &WorkflowInstance{}
	var ctxJSON []byte

	err := row.Scan(
		&wf.ID,
		&wf.WorkflowType,
		&wf.EntityID,
		&wf.EntityType,
		&wf.Status,
		&wf.CurrentState,
		&ctxJSON,
		&wf.Assignee,
		&wf.DueDate,
		&wf.CreatedBy,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ctxJSON != nil {
		if err := json.Unmarshal(ctxJSON, &wf.Context); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow context")
		}
	}
	return wf, nil
}

func (r *WorkflowRepository) returningID(ctx context.Context, query string, args ...any) error {
	var returnedID string
	err := r.db.QueryRow(ctx, query, args...).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_instance", argID(args))
	}
	return err
}

func marshalContext(c map[ContextKey]string) ([]byte, error) {
	if c == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow context")
	}
	return data, nil
}

func argID(args []any) string {
	if len(args) > 0 {
		if id, ok := args[0].(string); ok {
			return id
		}
	}
	return ""
}
