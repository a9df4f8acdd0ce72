package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

func (s *Store) RecordValidityEvent(ctx context.Context, v truth.ValidityEvent) (truth.ValidityEvent, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validity_events (id, task_execution_id, state, created_at)
		VALUES ($1, $2, $3, $4)`, v.ID, v.TaskExecutionID, v.State, v.CreatedAt)
	if err != nil {
		return truth.ValidityEvent{}, fmt.Errorf("record validity event: %w", err)
	}
	return v, nil
}

func (s *Store) ListValidityEvents(ctx context.Context, flowID uuid.UUID) ([]truth.ValidityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ve.id, ve.task_execution_id, ve.state, ve.created_at
		FROM validity_events ve
		JOIN task_executions te ON te.id = ve.task_execution_id
		WHERE te.flow_id = $1
		ORDER BY ve.created_at ASC, ve.id ASC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list validity events: %w", err)
	}
	defer rows.Close()

	var out []truth.ValidityEvent
	for rows.Next() {
		var v truth.ValidityEvent
		if err := rows.Scan(&v.ID, &v.TaskExecutionID, &v.State, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan validity event: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) CreateDetour(ctx context.Context, d truth.DetourRecord) (truth.DetourRecord, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detour_records (id, flow_id, checkpoint_node_id, resume_target_node_id, checkpoint_task_execution_id, type, status, change_request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.FlowID, d.CheckpointNodeID, d.ResumeTargetNodeID, d.CheckpointTaskExecution, d.Type, d.Status, d.ChangeRequestID, d.CreatedAt)
	if err != nil {
		return truth.DetourRecord{}, fmt.Errorf("create detour: %w", err)
	}
	return d, nil
}

func (s *Store) GetDetour(ctx context.Context, id uuid.UUID) (truth.DetourRecord, error) {
	return s.scanDetour(s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, checkpoint_node_id, resume_target_node_id, checkpoint_task_execution_id, type, status, change_request_id, created_at
		FROM detour_records WHERE id = $1`, id))
}

func (s *Store) scanDetour(row *sql.Row) (truth.DetourRecord, error) {
	var d truth.DetourRecord
	err := row.Scan(&d.ID, &d.FlowID, &d.CheckpointNodeID, &d.ResumeTargetNodeID, &d.CheckpointTaskExecution, &d.Type, &d.Status, &d.ChangeRequestID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.DetourRecord{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.DetourRecord{}, fmt.Errorf("scan detour: %w", err)
	}
	return d, nil
}

func (s *Store) ListActiveDetours(ctx context.Context, flowID uuid.UUID) ([]truth.DetourRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, checkpoint_node_id, resume_target_node_id, checkpoint_task_execution_id, type, status, change_request_id, created_at
		FROM detour_records WHERE flow_id = $1 AND status = $2 ORDER BY created_at ASC`, flowID, truth.DetourActive)
	if err != nil {
		return nil, fmt.Errorf("list active detours: %w", err)
	}
	defer rows.Close()

	var out []truth.DetourRecord
	for rows.Next() {
		var d truth.DetourRecord
		if err := rows.Scan(&d.ID, &d.FlowID, &d.CheckpointNodeID, &d.ResumeTargetNodeID, &d.CheckpointTaskExecution, &d.Type, &d.Status, &d.ChangeRequestID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan detour: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SetDetourStatus(ctx context.Context, id uuid.UUID, status truth.DetourStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE detour_records SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set detour status: %w", err)
	}
	return nil
}
