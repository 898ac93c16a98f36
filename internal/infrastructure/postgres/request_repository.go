package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/content-approval/internal/domain/approval"
)

// RequestRepository implements approval.Repository. The request aggregate
// lives in a JSONB document; the columns beside it exist for filtering
// and the timeout sweep. Decisions are mirrored into approval_decisions
// as an append-only audit trail.
type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

func (r *RequestRepository) Create(ctx context.Context, req *approval.Request) error {
	req.Version = 1
	doc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO approval_requests
		(request_id, content_piece_id, workflow_id, workflow_version, organization_id, submitted_by, status, current_step, step_deadline, timeout_fired, version, document, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, req.RequestID, req.ContentPieceID, req.WorkflowID, req.WorkflowVersion, req.OrganizationID, req.SubmittedBy,
		req.Status, req.CurrentStep, req.StepDeadline, req.TimeoutFired, req.Version, doc, req.CreatedAt, req.UpdatedAt)
	if isUniqueViolation(err) {
		return approval.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	if err := insertDecisions(ctx, tx, req, 0); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *RequestRepository) Get(ctx context.Context, requestID uuid.UUID) (*approval.Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT document, version FROM approval_requests WHERE request_id=$1`, requestID)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

// Update locks the row for the duration of fn. The version predicate on
// the write guards against a writer that bypassed the lock.
func (r *RequestRepository) Update(ctx context.Context, requestID uuid.UUID, fn approval.UpdateFunc) (*approval.Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT document, version FROM approval_requests WHERE request_id=$1 FOR UPDATE`, requestID)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	prevVersion, prevSeq := req.Version, req.Seq
	if err := fn(req); err != nil {
		return nil, err
	}
	req.Version = prevVersion + 1

	doc, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE approval_requests
		SET status=$1, current_step=$2, step_deadline=$3, timeout_fired=$4, version=$5, document=$6, updated_at=$7
		WHERE request_id=$8 AND version=$9
	`, req.Status, req.CurrentStep, req.StepDeadline, req.TimeoutFired, req.Version, doc, req.UpdatedAt, requestID, prevVersion)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, approval.ErrVersionConflict
	}
	if err := insertDecisions(ctx, tx, req, prevSeq); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *RequestRepository) List(ctx context.Context, filter approval.Filter, limit, offset int) ([]*approval.Request, error) {
	query := `SELECT document, version FROM approval_requests`
	args := []interface{}{}
	idx := 1
	if filter.Status != nil {
		query += " WHERE status=$" + itoa(idx)
		args = append(args, *filter.Status)
		idx++
	}
	if filter.WorkflowID != nil {
		query += addWhere(query) + " workflow_id=$" + itoa(idx)
		args = append(args, *filter.WorkflowID)
		idx++
	}
	if filter.OrganizationID != nil {
		query += addWhere(query) + " organization_id=$" + itoa(idx)
		args = append(args, *filter.OrganizationID)
		idx++
	}
	if filter.SubmittedBy != nil {
		query += addWhere(query) + " submitted_by=$" + itoa(idx)
		args = append(args, *filter.SubmittedBy)
		idx++
	}
	if filter.ContentPieceID != nil {
		query += addWhere(query) + " content_piece_id=$" + itoa(idx)
		args = append(args, *filter.ContentPieceID)
		idx++
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(idx) + " OFFSET $" + itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *RequestRepository) ListTimedOut(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document, version FROM approval_requests
		WHERE status='in_review' AND NOT timeout_fired AND step_deadline <= $1
		ORDER BY step_deadline
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// insertDecisions appends every approval recorded after seq.
func insertDecisions(ctx context.Context, tx pgx.Tx, req *approval.Request, seq int) error {
	for _, a := range req.Approvals {
		if a.Seq <= seq {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO approval_decisions
			(approval_id, request_id, step_id, step_index, revision_version, reviewer, source, action, decision, comments, seq, created_at, signature)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, a.ApprovalID, req.RequestID, a.StepID, a.StepIndex, a.RevisionVersion, a.Reviewer, a.Source, a.Action, a.Decision, a.Comments, a.Seq, a.CreatedAt, a.Signature)
		if err != nil {
			return fmt.Errorf("failed to record decision: %w", err)
		}
	}
	return nil
}

func collectRequests(rows pgx.Rows) ([]*approval.Request, error) {
	var items []*approval.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, req)
	}
	return items, rows.Err()
}

func scanRequest(row pgx.Row) (*approval.Request, error) {
	var (
		doc     []byte
		version int
	)
	if err := row.Scan(&doc, &version); err != nil {
		return nil, err
	}
	var req approval.Request
	if err := json.Unmarshal(doc, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	req.Version = version
	return &req, nil
}
