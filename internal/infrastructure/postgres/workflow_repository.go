package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// WorkflowRepository implements workflow.Repository. Each version is one
// row; the definition body is stored as JSONB.
type WorkflowRepository struct {
	pool *pgxpool.Pool
}

func NewWorkflowRepository(pool *pgxpool.Pool) *WorkflowRepository {
	return &WorkflowRepository{pool: pool}
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *workflow.Workflow) error {
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflow_definitions
		(workflow_id, version, organization_id, name, active, definition, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, wf.WorkflowID, wf.Version, wf.OrganizationID, wf.Name, wf.Active, def, wf.CreatedAt, wf.CreatedBy)
	if isUniqueViolation(err) {
		return workflow.ErrVersionExists
	}
	return err
}

func (r *WorkflowRepository) GetLatest(ctx context.Context, workflowID uuid.UUID) (*workflow.Workflow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT definition, active, created_at, created_by
		FROM workflow_definitions
		WHERE workflow_id=$1
		ORDER BY version DESC
		LIMIT 1
	`, workflowID)
	return scanWorkflow(row)
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*workflow.Workflow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT definition, active, created_at, created_by
		FROM workflow_definitions
		WHERE workflow_id=$1 AND version=$2
	`, workflowID, version)
	return scanWorkflow(row)
}

// List returns the latest version of each workflow, newest first.
func (r *WorkflowRepository) List(ctx context.Context, filter workflow.Filter, limit, offset int) ([]*workflow.Workflow, error) {
	inner := `SELECT DISTINCT ON (workflow_id) definition, active, created_at, created_by, organization_id
		FROM workflow_definitions`
	args := []interface{}{}
	idx := 1
	if filter.OrganizationID != nil {
		inner += " WHERE organization_id=$" + itoa(idx)
		args = append(args, *filter.OrganizationID)
		idx++
	}
	inner += " ORDER BY workflow_id, version DESC"

	query := "SELECT definition, active, created_at, created_by FROM (" + inner + ") latest"
	if filter.ActiveOnly {
		query += " WHERE active"
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(idx) + " OFFSET $" + itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var defs []*workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, wf)
	}
	return defs, rows.Err()
}

func (r *WorkflowRepository) ListVersions(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Workflow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT definition, active, created_at, created_by
		FROM workflow_definitions
		WHERE workflow_id=$1
		ORDER BY version DESC
	`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var defs []*workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, wf)
	}
	return defs, rows.Err()
}

func (r *WorkflowRepository) SetActive(ctx context.Context, workflowID uuid.UUID, version int, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_definitions SET active=$1 WHERE workflow_id=$2 AND version=$3
	`, active, workflowID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrWorkflowNotFound
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*workflow.Workflow, error) {
	var (
		def []byte
		wf  workflow.Workflow
	)
	if err := row.Scan(&def, &wf.Active, &wf.CreatedAt, &wf.CreatedBy); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	active, createdAt, createdBy := wf.Active, wf.CreatedAt, wf.CreatedBy
	if err := json.Unmarshal(def, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	wf.Active, wf.CreatedAt, wf.CreatedBy = active, createdAt, createdBy
	return &wf, nil
}
