// Package detour implements component H's two mutators that do not run
// inside recordOutcome: createChangeRequest and reviewRequest. The third
// mutator the spec names for this subsystem, commit-via-outcome, fires
// from inside recordOutcome itself (exec.commitViaOutcome) and has no
// home here.
package detour

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

// Store is the persistence surface createChangeRequest/reviewRequest
// need.
type Store interface {
	truth.FlowStore
	truth.DetourStore
	truth.ScheduleStore
}

// Action is one of the four reviewRequest transitions (§4.H).
type Action string

const (
	ActionStartReview Action = "start_review"
	ActionAccept      Action = "accept"
	ActionReject      Action = "reject"
	ActionCancel      Action = "cancel"
)

// Service implements createChangeRequest and reviewRequest.
type Service struct{}

// New builds a Service. It owns no collaborators: every write goes
// through the caller-supplied Store, matching the narrow, stateless
// service shape the rest of this package family uses (instantiate.Service,
// fanout.Service).
func New() *Service { return &Service{} }

// CreateChangeRequest inserts a PENDING ScheduleChangeRequest. It never
// touches ScheduleBlocks (§4.H "createChangeRequest: PENDING row, never
// touches ScheduleBlocks").
func (s *Service) CreateChangeRequest(ctx context.Context, store Store, companyID uuid.UUID, flowID, taskID *uuid.UUID, detourRecordID *uuid.UUID, timeClass truth.TimeClass, reason string, metadata map[string]any, requestedBy uuid.UUID, now time.Time) (truth.ScheduleChangeRequest, error) {
	return store.CreateChangeRequest(ctx, truth.ScheduleChangeRequest{
		ID:             uuid.New(),
		CompanyID:      companyID,
		FlowID:         flowID,
		TaskID:         taskID,
		DetourRecordID: detourRecordID,
		TimeClass:      timeClass,
		Reason:         reason,
		Metadata:       metadata,
		Status:         truth.RequestPending,
		RequestedBy:    requestedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

// ReviewRequest applies one of the four review actions to an existing
// ScheduleChangeRequest (§4.H reviewRequest). accept additionally creates
// the DetourRecord linking the checkpoint to its resume target; the new
// DetourRecord starts ACTIVE and leaves ScheduleBlocks untouched — the
// actual block is written later, by exec.commitViaOutcome, when the
// checkpoint task's outcome is recorded with this request's detourId.
//
// checkpointNodeID, resumeTargetNodeID, and checkpointTaskExecutionID are
// only consulted for accept; the other three actions ignore them.
func (s *Service) ReviewRequest(ctx context.Context, store Store, companyID, requestID uuid.UUID, action Action, actorID uuid.UUID, checkpointNodeID, resumeTargetNodeID, checkpointTaskExecutionID uuid.UUID, now time.Time) (truth.ScheduleChangeRequest, *truth.DetourRecord, error) {
	request, err := store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return truth.ScheduleChangeRequest{}, nil, err
	}
	if request.CompanyID != companyID {
		return truth.ScheduleChangeRequest{}, nil, truth.ErrForbidden
	}

	var (
		next   truth.ChangeRequestStatus
		detour *truth.DetourRecord
	)
	switch action {
	case ActionStartReview:
		if request.Status != truth.RequestPending {
			return truth.ScheduleChangeRequest{}, nil, truth.ErrInvalidState
		}
		next = truth.RequestInReview
	case ActionAccept:
		if request.Status != truth.RequestInReview {
			return truth.ScheduleChangeRequest{}, nil, truth.ErrInvalidState
		}
		next = truth.RequestAccepted
		if request.FlowID == nil {
			return truth.ScheduleChangeRequest{}, nil, truth.ErrInvalidState
		}
		created, err := store.CreateDetour(ctx, truth.DetourRecord{
			ID:                      uuid.New(),
			FlowID:                  *request.FlowID,
			CheckpointNodeID:        checkpointNodeID,
			ResumeTargetNodeID:      resumeTargetNodeID,
			CheckpointTaskExecution: checkpointTaskExecutionID,
			Type:                    truth.DetourBlocking,
			Status:                  truth.DetourActive,
			ChangeRequestID:         &requestID,
			CreatedAt:               now,
		})
		if err != nil {
			return truth.ScheduleChangeRequest{}, nil, err
		}
		detour = &created
	case ActionReject:
		if request.Status == truth.RequestCommitted || request.Status == truth.RequestRejected || request.Status == truth.RequestCancelled {
			return truth.ScheduleChangeRequest{}, nil, truth.ErrInvalidState
		}
		next = truth.RequestRejected
	case ActionCancel:
		if request.Status == truth.RequestCommitted || request.Status == truth.RequestRejected || request.Status == truth.RequestCancelled {
			return truth.ScheduleChangeRequest{}, nil, truth.ErrInvalidState
		}
		next = truth.RequestCancelled
	default:
		return truth.ScheduleChangeRequest{}, nil, truth.ErrInvalidState
	}

	updated, err := store.UpdateChangeRequestStatus(ctx, requestID, next, &actorID)
	if err != nil {
		return truth.ScheduleChangeRequest{}, nil, err
	}
	return updated, detour, nil
}
