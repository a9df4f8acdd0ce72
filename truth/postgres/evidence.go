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

// AttachEvidence inserts an EvidenceAttachment row. When idempotencyKey
// is set, a conflict on (task_id, idempotency_key) returns the existing
// row instead of inserting a duplicate.
func (s *Store) AttachEvidence(ctx context.Context, e truth.EvidenceAttachment) (truth.EvidenceAttachment, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return truth.EvidenceAttachment{}, fmt.Errorf("marshal evidence data: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO evidence_attachments (id, flow_id, task_id, type, data, attached_by, attached_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id, idempotency_key) WHERE idempotency_key IS NOT NULL
		DO UPDATE SET id = evidence_attachments.id
		RETURNING id, flow_id, task_id, type, data, attached_by, attached_at, idempotency_key`,
		e.ID, e.FlowID, e.TaskID, e.Type, data, e.AttachedBy, e.AttachedAt, e.IdempotencyKey)
	return s.scanEvidence(row)
}

func (s *Store) ListEvidence(ctx context.Context, flowID, taskID uuid.UUID) ([]truth.EvidenceAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, task_id, type, data, attached_by, attached_at, idempotency_key
		FROM evidence_attachments WHERE flow_id = $1 AND task_id = $2 ORDER BY attached_at ASC`, flowID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []truth.EvidenceAttachment
	for rows.Next() {
		e, err := s.scanEvidenceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LatestEvidence(ctx context.Context, flowID, taskID uuid.UUID) (truth.EvidenceAttachment, bool, error) {
	e, err := s.scanEvidence(s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, task_id, type, data, attached_by, attached_at, idempotency_key
		FROM evidence_attachments WHERE flow_id = $1 AND task_id = $2
		ORDER BY attached_at DESC, id DESC LIMIT 1`, flowID, taskID))
	if errors.Is(err, truth.ErrNotFound) {
		return truth.EvidenceAttachment{}, false, nil
	}
	if err != nil {
		return truth.EvidenceAttachment{}, false, err
	}
	return e, true, nil
}

func (s *Store) scanEvidence(row *sql.Row) (truth.EvidenceAttachment, error) {
	var e truth.EvidenceAttachment
	var data []byte
	err := row.Scan(&e.ID, &e.FlowID, &e.TaskID, &e.Type, &data, &e.AttachedBy, &e.AttachedAt, &e.IdempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.EvidenceAttachment{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.EvidenceAttachment{}, fmt.Errorf("scan evidence: %w", err)
	}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return truth.EvidenceAttachment{}, fmt.Errorf("unmarshal evidence data: %w", err)
	}
	return e, nil
}

func (s *Store) scanEvidenceRow(rows *sql.Rows) (truth.EvidenceAttachment, error) {
	var e truth.EvidenceAttachment
	var data []byte
	if err := rows.Scan(&e.ID, &e.FlowID, &e.TaskID, &e.Type, &data, &e.AttachedBy, &e.AttachedAt, &e.IdempotencyKey); err != nil {
		return truth.EvidenceAttachment{}, fmt.Errorf("scan evidence: %w", err)
	}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return truth.EvidenceAttachment{}, fmt.Errorf("unmarshal evidence data: %w", err)
	}
	return e, nil
}
