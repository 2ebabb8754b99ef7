package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// ChainConfigRepository handles CRUD for approval_chain_configs. The engine
// only reads; the admin endpoints use the mutations.
type ChainConfigRepository struct {
	db *database.DB
}

// NewChainConfigRepository creates a new ChainConfigRepository.
func NewChainConfigRepository(db *database.DB) *ChainConfigRepository {
	return &ChainConfigRepository{db: db}
}

// Create inserts a new chain rule.
func (r *ChainConfigRepository) Create(ctx context.Context, cfg *ApprovalChainConfig) error {
	query := `
		INSERT INTO approval_chain_configs
		    (approval_type, amount_threshold, department_id,
		     sequence_order, approver_type, specific_approver_id, is_active)
		VALUES ($1::approval_type, $2, $3,
		        $4, $5::approver_type, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		cfg.ApprovalType,
		cfg.AmountThreshold,
		cfg.DepartmentID,
		cfg.SequenceOrder,
		cfg.ApproverType,
		cfg.SpecificApproverID,
		cfg.IsActive,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create chain config")
	}
	return nil
}

// GetByID retrieves a rule by primary key.
func (r *ChainConfigRepository) GetByID(ctx context.Context, id string) (*ApprovalChainConfig, error) {
	query := chainConfigSelect + ` WHERE id = $1`

	cfg, err := r.scanConfig(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("chain_config", id)
	}
	return cfg, err
}

// ListActiveByType returns every active rule for an approval type ordered by
// sequence. The resolver partitions them into scoped chains in Go, keeping
// the SQL simple.
func (r *ChainConfigRepository) ListActiveByType(ctx context.Context, approvalType ApprovalType) ([]*ApprovalChainConfig, error) {
	query := chainConfigSelect + `
		WHERE approval_type = $1::approval_type
		  AND is_active = TRUE
		ORDER BY sequence_order ASC
	`

	rows, err := r.db.Query(ctx, query, approvalType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list chain configs")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// List returns all rules, optionally active only.
func (r *ChainConfigRepository) List(ctx context.Context, activeOnly bool) ([]*ApprovalChainConfig, error) {
	query := chainConfigSelect
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY approval_type ASC, sequence_order ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list chain configs")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Update persists changes to an existing rule.
func (r *ChainConfigRepository) Update(ctx context.Context, cfg *ApprovalChainConfig) error {
	query := `
		UPDATE approval_chain_configs
		SET approval_type        = $2::approval_type,
		    amount_threshold     = $3,
		    department_id        = $4,
		    sequence_order       = $5,
		    approver_type        = $6::approver_type,
		    specific_approver_id = $7,
		    is_active            = $8,
		    updated_at           = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		cfg.ID,
		cfg.ApprovalType,
		cfg.AmountThreshold,
		cfg.DepartmentID,
		cfg.SequenceOrder,
		cfg.ApproverType,
		cfg.SpecificApproverID,
		cfg.IsActive,
	).Scan(&cfg.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("chain_config", cfg.ID)
	}
	return err
}

// Delete removes a chain rule.
func (r *ChainConfigRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM approval_chain_configs WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete chain config")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("chain_config", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const chainConfigSelect = `
	SELECT id, approval_type, amount_threshold, department_id,
	       sequence_order, approver_type, specific_approver_id,
	       is_active, created_at, updated_at
	FROM approval_chain_configs`

type chainConfigScanner interface {
	Scan(dest ...any) error
}

func (r *ChainConfigRepository) scanConfig(row chainConfigScanner) (*ApprovalChainConfig, error) {
	cfg := &ApprovalChainConfig{}
	err := row.Scan(
		&cfg.ID,
		&cfg.ApprovalType,
		&cfg.AmountThreshold,
		&cfg.DepartmentID,
		&cfg.SequenceOrder,
		&cfg.ApproverType,
		&cfg.SpecificApproverID,
		&cfg.IsActive,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *ChainConfigRepository) scanRows(rows pgx.Rows) ([]*ApprovalChainConfig, error) {
	var out []*ApprovalChainConfig
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan chain config")
		}
		out = append(out, cfg)
	}
	return out, nil
}
