package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

func (s *Store) CreateChangeRequest(ctx context.Context, r truth.ScheduleChangeRequest) (truth.ScheduleChangeRequest, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return truth.ScheduleChangeRequest{}, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_change_requests (id, company_id, flow_id, task_id, detour_record_id, time_class, reason, metadata, status, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		r.ID, r.CompanyID, r.FlowID, r.TaskID, r.DetourRecordID, r.TimeClass, r.Reason, metadata, r.Status, r.RequestedBy, r.CreatedAt)
	if err != nil {
		return truth.ScheduleChangeRequest{}, fmt.Errorf("create change request: %w", err)
	}
	return r, nil
}

func (s *Store) GetChangeRequest(ctx context.Context, id uuid.UUID) (truth.ScheduleChangeRequest, error) {
	return s.scanChangeRequest(s.db.QueryRowContext(ctx, `
		SELECT id, company_id, flow_id, task_id, detour_record_id, time_class, reason, metadata, status, requested_by, reviewed_by, created_at, updated_at
		FROM schedule_change_requests WHERE id = $1`, id))
}

func (s *Store) scanChangeRequest(row *sql.Row) (truth.ScheduleChangeRequest, error) {
	var r truth.ScheduleChangeRequest
	var metadata []byte
	err := row.Scan(&r.ID, &r.CompanyID, &r.FlowID, &r.TaskID, &r.DetourRecordID, &r.TimeClass, &r.Reason, &metadata, &r.Status, &r.RequestedBy, &r.ReviewedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.ScheduleChangeRequest{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.ScheduleChangeRequest{}, fmt.Errorf("scan change request: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return truth.ScheduleChangeRequest{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return r, nil
}

func (s *Store) UpdateChangeRequestStatus(ctx context.Context, id uuid.UUID, status truth.ChangeRequestStatus, reviewedBy *uuid.UUID) (truth.ScheduleChangeRequest, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule_change_requests SET status = $1, reviewed_by = $2, updated_at = now()
		WHERE id = $3`, status, reviewedBy, id)
	if err != nil {
		return truth.ScheduleChangeRequest{}, fmt.Errorf("update change request status: %w", err)
	}
	return s.GetChangeRequest(ctx, id)
}

func (s *Store) CurrentBlock(ctx context.Context, taskID uuid.UUID, flowID *uuid.UUID) (truth.ScheduleBlock, bool, error) {
	b, err := s.scanBlock(s.db.QueryRowContext(ctx, `
		SELECT id, company_id, task_id, flow_id, time_class, start_at, end_at, metadata, created_by, created_at, superseded_at, superseded_by, change_request_id
		FROM schedule_blocks
		WHERE task_id = $1 AND flow_id IS NOT DISTINCT FROM $2 AND superseded_at IS NULL`, taskID, flowID))
	if errors.Is(err, truth.ErrNotFound) {
		return truth.ScheduleBlock{}, false, nil
	}
	if err != nil {
		return truth.ScheduleBlock{}, false, err
	}
	return b, true, nil
}

// SupersedeAndCreate marks prior as superseded by next's id and inserts
// next in one statement pair; the UPDATE's "superseded_at IS NULL" guard
// fails the call (zero rows affected -> ErrInvalidState) if a concurrent
// writer already superseded prior, satisfying §5's atomicity guarantee.
func (s *Store) SupersedeAndCreate(ctx context.Context, priorID *uuid.UUID, next truth.ScheduleBlock) (truth.ScheduleBlock, error) {
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	if priorID != nil {
		res, err := s.db.ExecContext(ctx, `
			UPDATE schedule_blocks SET superseded_at = now(), superseded_by = $1
			WHERE id = $2 AND superseded_at IS NULL`, next.ID, *priorID)
		if err != nil {
			return truth.ScheduleBlock{}, fmt.Errorf("supersede block: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return truth.ScheduleBlock{}, fmt.Errorf("supersede block: %w", err)
		}
		if n == 0 {
			return truth.ScheduleBlock{}, truth.ErrInvalidState
		}
	}
	metadata, err := json.Marshal(next.Metadata)
	if err != nil {
		return truth.ScheduleBlock{}, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_blocks (id, company_id, task_id, flow_id, time_class, start_at, end_at, metadata, created_by, created_at, change_request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		next.ID, next.CompanyID, next.TaskID, next.FlowID, next.TimeClass, next.StartAt, next.EndAt, metadata, next.CreatedBy, next.CreatedAt, next.ChangeRequestID)
	if err != nil {
		return truth.ScheduleBlock{}, fmt.Errorf("create block: %w", err)
	}
	return next, nil
}

func (s *Store) scanBlock(row *sql.Row) (truth.ScheduleBlock, error) {
	var b truth.ScheduleBlock
	var metadata []byte
	err := row.Scan(&b.ID, &b.CompanyID, &b.TaskID, &b.FlowID, &b.TimeClass, &b.StartAt, &b.EndAt, &metadata, &b.CreatedBy, &b.CreatedAt, &b.SupersededAt, &b.SupersededBy, &b.ChangeRequestID)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.ScheduleBlock{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.ScheduleBlock{}, fmt.Errorf("scan block: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return truth.ScheduleBlock{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return b, nil
}
