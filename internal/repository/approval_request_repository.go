package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// ApprovalRequestRepository persists approval requests and their chain
// snapshots.
type ApprovalRequestRepository struct {
	db *database.DB
}

// NewApprovalRequestRepository creates a new ApprovalRequestRepository.
func NewApprovalRequestRepository(db *database.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

// Create inserts a new approval request with its chain snapshot.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *ApprovalRequest) error {
	return insertRequest(ctx, r.db, req)
}

func insertRequest(ctx context.Context, q rowQueryer, req *ApprovalRequest) error {
	chainJSON, err := json.Marshal(req.Chain)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal chain snapshot")
	}

	query := `
		INSERT INTO approval_requests
		    (workflow_id, approval_type, entity_id, entity_type,
		     requestor, approver, current_level, total_levels, chain,
		     status, amount, days_count, priority, department_id,
		     description, submitted_at, due_date)
		VALUES ($1, $2::approval_type, $3, $4,
		        $5, $6, $7, $8, $9,
		        $10::approval_request_status, $11, $12, $13, $14,
		        $15, $16, $17)
		RETURNING id, created_at, updated_at
	`

	err = q.QueryRow(ctx, query,
		req.WorkflowID,
		req.ApprovalType,
		req.EntityID,
		req.EntityType,
		req.Requestor,
		req.Approver,
		req.CurrentLevel,
		req.TotalLevels,
		chainJSON,
		req.Status,
		req.Amount,
		req.DaysCount,
		req.Priority,
		req.DepartmentID,
		req.Description,
		req.SubmittedAt,
		req.DueDate,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := requestSelect + ` WHERE id = $1`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	return req, err
}

// FindActiveByEntity returns the non-terminal request for an (entity,
// approval type) pair, or nil when none exists. At most one such row can
// exist at a time; the coordinator enforces this at submission.
func (r *ApprovalRequestRepository) FindActiveByEntity(ctx context.Context, entityID string, approvalType ApprovalType) (*ApprovalRequest, error) {
	query := requestSelect + `
		WHERE entity_id = $1
		  AND approval_type = $2::approval_type
		  AND status IN ('pending_approval', 'on_hold')
		ORDER BY submitted_at DESC
		LIMIT 1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, entityID, approvalType))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// Advance moves the request to the next level with a new approver and due date.
func (r *ApprovalRequestRepository) Advance(ctx context.Context, id string, level int, approver string, dueDate *time.Time) error {
	query := `
		UPDATE approval_requests
		SET current_level = $2,
		    approver      = $3,
		    due_date      = $4,
		    status        = 'pending_approval'::approval_request_status,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`
	return r.returningID(ctx, query, id, level, approver, dueDate)
}

// Decide finalizes or holds the request with the approver's comments.
func (r *ApprovalRequestRepository) Decide(ctx context.Context, id string, status RequestStatus, decidedAt *time.Time, comments *string) error {
	query := `
		UPDATE approval_requests
		SET status            = $2::approval_request_status,
		    decided_at        = $3,
		    approver_comments = $4,
		    updated_at        = NOW()
		WHERE id = $1
		RETURNING id
	`
	return r.returningID(ctx, query, id, status, decidedAt, comments)
}

// SetApprover reassigns the current level without advancing it.
func (r *ApprovalRequestRepository) SetApprover(ctx context.Context, id, approver string) error {
	query := `
		UPDATE approval_requests
		SET approver   = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	return r.returningID(ctx, query, id, approver)
}

// ListPendingForApprover returns the page of requests awaiting an approver,
// oldest due first, plus the total count.
func (r *ApprovalRequestRepository) ListPendingForApprover(ctx context.Context, approverID string, page, pageSize int) ([]*ApprovalRequest, int64, error) {
	countQuery := `
		SELECT COUNT(*)
		FROM approval_requests
		WHERE approver = $1 AND status = 'pending_approval'
	`
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, approverID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending approvals")
	}

	query := requestSelect + `
		WHERE approver = $1 AND status = 'pending_approval'
		ORDER BY due_date ASC NULLS LAST, submitted_at ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, approverID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	requests, err := r.scanRows(rows)
	return requests, total, err
}

// CountPendingForApprover returns the number of requests awaiting an approver.
func (r *ApprovalRequestRepository) CountPendingForApprover(ctx context.Context, approverID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM approval_requests
		WHERE approver = $1 AND status = 'pending_approval'
	`
	var total int64
	if err := r.db.QueryRow(ctx, query, approverID).Scan(&total); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending approvals")
	}
	return total, nil
}

// ListByRequestor returns the page of requests submitted by an actor, newest
// first, plus the total count.
func (r *ApprovalRequestRepository) ListByRequestor(ctx context.Context, requestorID string, page, pageSize int) ([]*ApprovalRequest, int64, error) {
	countQuery := `SELECT COUNT(*) FROM approval_requests WHERE requestor = $1`
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, requestorID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count requests by requestor")
	}

	query := requestSelect + `
		WHERE requestor = $1
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, requestorID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requests by requestor")
	}
	defer rows.Close()

	requests, err := r.scanRows(rows)
	return requests, total, err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const requestSelect = `
	SELECT id, workflow_id, approval_type, entity_id, entity_type,
	       requestor, approver, current_level, total_levels, chain,
	       status, amount, days_count, priority, department_id,
	       description, submitted_at, decided_at, due_date,
	       approver_comments, created_at, updated_at
	FROM approval_requests`

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRequestRepository) scanRequest(row requestScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	var chainJSON []byte

	err := row.Scan(
		&req.ID,
		&req.WorkflowID,
		&req.ApprovalType,
		&req.EntityID,
		&req.EntityType,
		&req.Requestor,
		&req.Approver,
		&req.CurrentLevel,
		&req.TotalLevels,
		&chainJSON,
		&req.Status,
		&req.Amount,
		&req.DaysCount,
		&req.Priority,
		&req.DepartmentID,
		&req.Description,
		&req.SubmittedAt,
		&req.DecidedAt,
		&req.DueDate,
		&req.ApproverComments,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(chainJSON, &req.Chain); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal chain snapshot")
	}
	return req, nil
}

func (r *ApprovalRequestRepository) scanRows(rows pgx.Rows) ([]*ApprovalRequest, error) {
	var out []*ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *ApprovalRequestRepository) returningID(ctx context.Context, query string, args ...any) error {
	var returnedID string
	err := r.db.QueryRow(ctx, query, args...).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_request", argID(args))
	}
	return err
}
