package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

// ActivateNode inserts a NodeActivation; on a (flowId, nodeId, iteration)
// conflict it returns the existing row with created=false, making the
// call idempotent on retry (§4.C).
func (s *Store) ActivateNode(ctx context.Context, a truth.NodeActivation) (truth.NodeActivation, bool, error) {
	var out truth.NodeActivation
	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO node_activations (flow_id, node_id, iteration, activated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (flow_id, node_id, iteration) DO UPDATE SET flow_id = node_activations.flow_id
		RETURNING flow_id, node_id, iteration, activated_at, (xmax = 0)`,
		a.FlowID, a.NodeID, a.Iteration, a.ActivatedAt).
		Scan(&out.FlowID, &out.NodeID, &out.Iteration, &out.ActivatedAt, &inserted)
	if err != nil {
		return truth.NodeActivation{}, false, fmt.Errorf("activate node: %w", err)
	}
	return out, inserted, nil
}

func (s *Store) ListActivations(ctx context.Context, flowID uuid.UUID) ([]truth.NodeActivation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow_id, node_id, iteration, activated_at
		FROM node_activations WHERE flow_id = $1 ORDER BY iteration ASC, activated_at ASC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var out []truth.NodeActivation
	for rows.Next() {
		var a truth.NodeActivation
		if err := rows.Scan(&a.FlowID, &a.NodeID, &a.Iteration, &a.ActivatedAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetExecution(ctx context.Context, flowID, taskID uuid.UUID, iteration int) (truth.TaskExecution, bool, error) {
	e, err := s.scanExecution(s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, task_id, iteration, started_at, started_by, outcome, outcome_at, outcome_by, detour_id
		FROM task_executions WHERE flow_id = $1 AND task_id = $2 AND iteration = $3`, flowID, taskID, iteration))
	if errors.Is(err, truth.ErrNotFound) {
		return truth.TaskExecution{}, false, nil
	}
	if err != nil {
		return truth.TaskExecution{}, false, err
	}
	return e, true, nil
}

func (s *Store) StartExecution(ctx context.Context, e truth.TaskExecution) (truth.TaskExecution, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_executions (id, flow_id, task_id, iteration, started_at, started_by, detour_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.FlowID, e.TaskID, e.Iteration, e.StartedAt, e.StartedBy, e.DetourID)
	if err != nil {
		return truth.TaskExecution{}, fmt.Errorf("start execution: %w", err)
	}
	return e, nil
}

// RecordExecutionOutcome sets the outcome fields on an existing row.
// The WHERE clause's "outcome IS NULL" guard enforces write-once
// (INV-007): a second attempt affects zero rows and is reported back to
// the caller as ErrInvalidState.
func (s *Store) RecordExecutionOutcome(ctx context.Context, id uuid.UUID, outcome string, by uuid.UUID, at time.Time) (truth.TaskExecution, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_executions SET outcome = $1, outcome_at = $2, outcome_by = $3
		WHERE id = $4 AND outcome IS NULL`, outcome, at, by, id)
	if err != nil {
		return truth.TaskExecution{}, fmt.Errorf("record execution outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return truth.TaskExecution{}, fmt.Errorf("record execution outcome: %w", err)
	}
	if n == 0 {
		return truth.TaskExecution{}, truth.ErrInvalidState
	}
	return s.scanExecution(s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, task_id, iteration, started_at, started_by, outcome, outcome_at, outcome_by, detour_id
		FROM task_executions WHERE id = $1`, id))
}

func (s *Store) scanExecution(row *sql.Row) (truth.TaskExecution, error) {
	var e truth.TaskExecution
	err := row.Scan(&e.ID, &e.FlowID, &e.TaskID, &e.Iteration, &e.StartedAt, &e.StartedBy, &e.Outcome, &e.OutcomeAt, &e.OutcomeBy, &e.DetourID)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.TaskExecution{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.TaskExecution{}, fmt.Errorf("scan execution: %w", err)
	}
	return e, nil
}

func (s *Store) ListExecutions(ctx context.Context, flowID uuid.UUID) ([]truth.TaskExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, task_id, iteration, started_at, started_by, outcome, outcome_at, outcome_by, detour_id
		FROM task_executions WHERE flow_id = $1 ORDER BY task_id ASC, iteration ASC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []truth.TaskExecution
	for rows.Next() {
		var e truth.TaskExecution
		if err := rows.Scan(&e.ID, &e.FlowID, &e.TaskID, &e.Iteration, &e.StartedAt, &e.StartedBy, &e.Outcome, &e.OutcomeAt, &e.OutcomeBy, &e.DetourID); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
