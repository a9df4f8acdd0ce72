// Package exec implements component F: the transactional mutators that
// drive a Flow forward — startTask, attachEvidence, and recordOutcome —
// plus the 12-step atomic sequence recordOutcome runs.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowspec/engine/fanout"
	"github.com/flowspec/engine/hooks"
	"github.com/flowspec/engine/instantiate"
	"github.com/flowspec/engine/kernel"
	"github.com/flowspec/engine/truth"
)

// Store is the persistence surface the transactional body of
// startTask/recordOutcome needs. It omits PolicyStore and
// DraftGraphStore, which belong to components I and B/D respectively.
type Store interface {
	truth.WorkflowStore
	truth.FlowGroupStore
	truth.FlowStore
	truth.ActivationStore
	truth.ExecutionStore
	truth.EvidenceStore
	truth.ValidityStore
	truth.DetourStore
	truth.ScheduleStore
	truth.FanOutStore
	truth.JobStore
}

// TxRunner is the transaction boundary every composition root (component
// O) provides: it opens one REPEATABLE READ transaction and hands back a
// fully-capable truth.Store bound to it (§5 "atomic unit"). recordOutcome
// needs the broader truth.Store, not just this package's narrower Store,
// because its fan-out step (§4.F step 10) reaches into instantiate.Store
// by way of fanout.Store.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx truth.Store) error) error
}

// GateResult reports the outcome of following one gate during recordOutcome
// step 6.
type GateResult struct {
	OutcomeName  string
	TargetNodeID *uuid.UUID
	Terminal     bool
	Iteration    int
	Activated    bool // false when an existing activation already covered this (node, iteration)
}

// Result is recordOutcome's return value (§4.F).
type Result struct {
	Success         bool
	TaskExecutionID uuid.UUID
	GateResults     []GateResult
	FlowCompleted   bool
	Blocked         bool // fan-out/provisioning failure flipped Flow to BLOCKED (§4.F step 10)
}

// Service implements startTask and recordOutcome. It owns no persistent
// state of its own beyond its collaborators.
type Service struct {
	fanOut *fanout.Service
	bus    hooks.Bus
}

// New builds a Service. bus receives the post-commit events recordOutcome
// and startTask publish (§4.F steps 12/"Emits TASK_STARTED post-commit").
func New(fanOut *fanout.Service, bus hooks.Bus) *Service {
	return &Service{fanOut: fanOut, bus: bus}
}

// StartTask implements §4.F's startTask: idempotent on retry (a
// started-but-unoutcomed execution at the current iteration is returned
// unchanged), otherwise inserts a fresh TaskExecution and emits
// TASK_STARTED post-commit.
func (s *Service) StartTask(ctx context.Context, runner TxRunner, companyID, flowID, taskID, actorID uuid.UUID, now time.Time) (truth.TaskExecution, error) {
	var (
		exec      truth.TaskExecution
		iteration int
		fresh     bool
	)
	err := runner.WithTx(ctx, func(ctx context.Context, tx truth.Store) error {
		flow, err := tx.GetFlow(ctx, flowID)
		if err != nil {
			return err
		}
		if flow.Status != truth.FlowActive {
			return truth.ErrInvalidState
		}
		version, err := tx.GetWorkflowVersion(ctx, flow.WorkflowVersionID)
		if err != nil {
			return err
		}
		idx := kernel.BuildIndex(version)
		nodeID, ok := idx.NodeOf(taskID)
		if !ok {
			return truth.ErrInvalidState
		}
		activations, err := tx.ListActivations(ctx, flowID)
		if err != nil {
			return err
		}
		iteration = kernel.CurrentIteration(activations, nodeID)
		if iteration == 0 {
			return truth.ErrInvalidState
		}
		execs, err := tx.ListExecutions(ctx, flowID)
		if err != nil {
			return err
		}
		validity, err := tx.ListValidityEvents(ctx, flowID)
		if err != nil {
			return err
		}
		if kernel.TaskHasValidOutcome(execs, validity, taskID, iteration) {
			return truth.ErrInvalidState
		}

		if existing, found, err := tx.GetExecution(ctx, flowID, taskID, iteration); err != nil {
			return err
		} else if found {
			exec = existing
			return nil
		}

		fresh = true
		exec, err = tx.StartExecution(ctx, truth.TaskExecution{
			ID:        uuid.New(),
			FlowID:    flowID,
			TaskID:    taskID,
			Iteration: iteration,
			StartedAt: &now,
			StartedBy: &actorID,
		})
		if err != nil {
			return err
		}
		_, err = tx.BumpTruthVersion(ctx, flowID)
		return err
	})
	if err != nil {
		return truth.TaskExecution{}, err
	}
	if fresh {
		s.bus.Publish(ctx, hooks.NewTaskStarted(companyID, flowID, taskID, iteration, now))
	}
	return exec, nil
}

// AttachEvidence implements §4's evidence gate precondition: it validates
// the payload against the task's declared evidenceSchema (when present
// and the evidence is not a FILE pointer, which is never schema-checked)
// and inserts the row. Idempotency-key replay is handled by the store
// itself (§7 "Idempotency"), so a retried call simply returns the
// original row.
func (s *Service) AttachEvidence(ctx context.Context, runner TxRunner, flowID, taskID uuid.UUID, evidenceType truth.EvidenceType, data truth.EvidenceData, actorID uuid.UUID, idempotencyKey *string, now time.Time) (truth.EvidenceAttachment, error) {
	var attachment truth.EvidenceAttachment
	err := runner.WithTx(ctx, func(ctx context.Context, tx truth.Store) error {
		flow, err := tx.GetFlow(ctx, flowID)
		if err != nil {
			return err
		}
		version, err := tx.GetWorkflowVersion(ctx, flow.WorkflowVersionID)
		if err != nil {
			return err
		}
		idx := kernel.BuildIndex(version)
		task := idx.Task(taskID)
		if task == nil {
			return truth.ErrInvalidState
		}
		if evidenceType != truth.EvidenceFile && len(task.EvidenceSchema) > 0 {
			if err := validateEvidenceSchema(task.EvidenceSchema, data.Content); err != nil {
				return fmt.Errorf("%w: %s", truth.ErrValidationFailed, err)
			}
		}
		attachment, err = tx.AttachEvidence(ctx, truth.EvidenceAttachment{
			ID:             uuid.New(),
			FlowID:         flowID,
			TaskID:         taskID,
			Type:           evidenceType,
			Data:           data,
			AttachedBy:     actorID,
			AttachedAt:     now,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			return err
		}
		_, err = tx.BumpTruthVersion(ctx, flowID)
		return err
	})
	if err != nil {
		return truth.EvidenceAttachment{}, err
	}
	return attachment, nil
}

// RecordOutcome implements the full 12-step §4.F sequence. Steps 1-10 run
// inside one transaction via runner.WithTx; step 11 is that transaction's
// commit; step 12 (hook dispatch) happens here, after WithTx returns,
// strictly outside the transaction, per §4.K.
func (s *Service) RecordOutcome(ctx context.Context, runner TxRunner, companyID, flowID, taskID uuid.UUID, outcome string, actorID uuid.UUID, detourID *uuid.UUID, metadata map[string]any, now time.Time) (Result, error) {
	var (
		result Result
		events []hooks.Event
	)
	err := runner.WithTx(ctx, func(ctx context.Context, tx truth.Store) error {
		r, evs, err := s.recordOutcomeTx(ctx, tx, companyID, flowID, taskID, outcome, actorID, detourID, metadata, now)
		result, events = r, evs
		return err
	})
	if err != nil {
		return Result{}, err
	}
	for _, e := range events {
		s.bus.Publish(ctx, e)
	}
	return result, nil
}

func (s *Service) recordOutcomeTx(ctx context.Context, tx Store, companyID, flowID, taskID uuid.UUID, outcome string, actorID uuid.UUID, detourID *uuid.UUID, metadata map[string]any, now time.Time) (Result, []hooks.Event, error) {
	// Step 1: load Flow, bound snapshot, existing executions/activations/
	// detours/validity.
	flow, err := tx.GetFlow(ctx, flowID)
	if err != nil {
		return Result{}, nil, err
	}
	if flow.Status != truth.FlowActive {
		return Result{}, nil, truth.ErrInvalidState
	}
	version, err := tx.GetWorkflowVersion(ctx, flow.WorkflowVersionID)
	if err != nil {
		return Result{}, nil, err
	}
	idx := kernel.BuildIndex(version)
	task := idx.Task(taskID)
	nodeID, ok := idx.NodeOf(taskID)
	if task == nil || !ok {
		return Result{}, nil, truth.ErrInvalidState
	}
	if !hasOutcome(*task, outcome) {
		return Result{}, nil, truth.ErrInvalidState
	}

	activations, err := tx.ListActivations(ctx, flowID)
	if err != nil {
		return Result{}, nil, err
	}
	iteration := kernel.CurrentIteration(activations, nodeID)

	// Step 2: a started TaskExecution must exist at the current iteration.
	execution, found, err := tx.GetExecution(ctx, flowID, taskID, iteration)
	if err != nil {
		return Result{}, nil, err
	}
	if !found || execution.StartedAt == nil {
		return Result{}, nil, truth.ErrInvalidState
	}
	if execution.Outcome != nil {
		return Result{}, nil, truth.ErrInvalidState
	}

	// Step 3: evidence gate.
	if task.EvidenceRequired {
		if _, has, err := tx.LatestEvidence(ctx, flowID, taskID); err != nil {
			return Result{}, nil, err
		} else if !has {
			return Result{}, nil, truth.ErrEvidenceRequired
		}
	}

	// Step 4: scheduling gate.
	schedulingEnabled, schedule, err := checkSchedulingGate(*task, metadata)
	if err != nil {
		return Result{}, nil, err
	}

	// Step 5 (write #1): set outcome fields. Single-shot; the store
	// implementation must itself reject a second call (INV-007) but the
	// execution.Outcome check above already short-circuits the common case.
	execution, err = tx.RecordExecutionOutcome(ctx, execution.ID, outcome, actorID, now)
	if err != nil {
		return Result{}, nil, err
	}

	// Step 6: gate routing.
	gateResults := routeGates(idx, nodeID, outcome, iteration)

	// Step 7 (write #2): insert NodeActivation rows for newly routed nodes.
	var nodeActivatedEvents []hooks.Event
	for i, gr := range gateResults {
		if gr.Terminal {
			continue
		}
		activation, created, err := tx.ActivateNode(ctx, truth.NodeActivation{
			FlowID:      flowID,
			NodeID:      *gr.TargetNodeID,
			Iteration:   gr.Iteration,
			ActivatedAt: now,
		})
		if err != nil {
			return Result{}, nil, err
		}
		gateResults[i].Activated = created
		if created {
			nodeActivatedEvents = append(nodeActivatedEvents, hooks.NewNodeActivated(companyID, flowID, activation.NodeID, activation.Iteration, now))
		}
	}

	// Step 8 (write #3): flow completion.
	flowCompleted := false
	{
		execs, err := tx.ListExecutions(ctx, flowID)
		if err != nil {
			return Result{}, nil, err
		}
		detours, err := tx.ListActiveDetours(ctx, flowID)
		if err != nil {
			return Result{}, nil, err
		}
		validityEvents, err := tx.ListValidityEvents(ctx, flowID)
		if err != nil {
			return Result{}, nil, err
		}
		validity := kernel.ComputeValidityMap(validityEvents)
		freshActivations, err := tx.ListActivations(ctx, flowID)
		if err != nil {
			return Result{}, nil, err
		}
		if kernel.ComputeFlowComplete(idx, freshActivations, execs, detours, validity) {
			if err := tx.UpdateFlowStatus(ctx, flowID, truth.FlowCompleted); err != nil {
				return Result{}, nil, err
			}
			flowCompleted = true
		}
	}

	// Step 9 (write #4): scheduling commit, either from this outcome's own
	// valid schedule payload or from an ACCEPTED ScheduleChangeRequest
	// referenced via detourID (§4.H commit-via-outcome).
	if schedulingEnabled && schedule != nil {
		if _, err := commitScheduleBlock(ctx, tx, companyID, task.ID, &flowID, truth.Committed, schedule.startAt, schedule.endAt, actorID, now, nil); err != nil {
			return Result{}, nil, err
		}
	}
	if detourID != nil {
		if err := commitViaOutcome(ctx, tx, companyID, flowID, *detourID, now); err != nil {
			return Result{}, nil, err
		}
	}

	// Step 10 (write #5): fan-out, plus the SALE_CLOSED provisioning path.
	blocked := false
	node := idx.Node(nodeID)
	if node != nil && s.fanOut != nil {
		_, fanOutBlocked, err := s.fanOut.ExecuteFanOut(ctx, tx, flow, companyID, *node, outcome, actorID, now)
		if err != nil {
			return Result{}, nil, err
		}
		if fanOutBlocked {
			blocked = true
		}
		if isSaleClosedFamily(outcome) {
			sale, saleErr := latestSaleEvidence(ctx, tx, flowID, taskID)
			customerID, anchorErr := anchorCustomerID(ctx, tx, version, flow)
			if saleErr != nil || anchorErr != nil {
				blocked = true
			} else {
				_, jobBlocked, err := s.fanOut.ProvisionJob(ctx, tx, companyID, flow.FlowGroupID, customerID, sale, now)
				if err != nil {
					return Result{}, nil, err
				}
				if jobBlocked {
					blocked = true
				}
			}
		}
	}
	if blocked {
		if err := tx.UpdateFlowStatus(ctx, flowID, truth.FlowBlocked); err != nil {
			return Result{}, nil, err
		}
	}
	if _, err := tx.BumpTruthVersion(ctx, flowID); err != nil {
		return Result{}, nil, err
	}

	// Step 11: commit happens as runner.WithTx returns successfully; there
	// is nothing left to do here beyond assembling the events for step 12.
	events := append([]hooks.Event{hooks.NewTaskDone(companyID, flowID, taskID, iteration, outcome, now)}, nodeActivatedEvents...)
	if flowCompleted {
		events = append(events, hooks.NewFlowCompleted(companyID, flowID, now))
	}
	if blocked {
		events = append(events, hooks.NewFlowBlocked(companyID, flowID, now))
	}

	return Result{
		Success:         true,
		TaskExecutionID: execution.ID,
		GateResults:     gateResults,
		FlowCompleted:   flowCompleted,
		Blocked:         blocked,
	}, events, nil
}

// validateEvidenceSchema compiles task's declared evidenceSchema and
// validates content against it. Content is re-marshaled to JSON first
// since jsonschema validates decoded JSON values, not arbitrary Go types.
func validateEvidenceSchema(schema json.RawMessage, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal evidence content: %w", err)
	}
	var payloadDoc any
	if err := json.Unmarshal(raw, &payloadDoc); err != nil {
		return fmt.Errorf("unmarshal evidence content: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal evidence schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile evidence schema: %w", err)
	}
	return compiled.Validate(payloadDoc)
}

func hasOutcome(task truth.Task, outcome string) bool {
	for _, o := range task.Outcomes {
		if o.Name == outcome {
			return true
		}
	}
	return false
}

// routeGates implements §4.F step 6: every gate leaving node for outcome
// either terminates the branch, loops back (self-loop or target depth <=
// source depth, re-activating at iteration+1), or moves forward
// (activating at iteration 1, subject to the join barrier the kernel
// itself enforces when computing actionable tasks — recordOutcome always
// writes the activation; whether it is subsequently actionable is a
// derived-state question, not a write-time one).
func routeGates(idx *kernel.Index, nodeID uuid.UUID, outcome string, currentIteration int) []GateResult {
	var out []GateResult
	for _, g := range idx.GatesFrom(nodeID) {
		if g.OutcomeName != outcome {
			continue
		}
		if g.TargetNodeID == nil {
			out = append(out, GateResult{OutcomeName: outcome, Terminal: true})
			continue
		}
		target := *g.TargetNodeID
		loopback := target == nodeID || idx.Depth(target) <= idx.Depth(nodeID)
		iteration := 1
		if loopback {
			iteration = currentIteration + 1
		}
		out = append(out, GateResult{OutcomeName: outcome, TargetNodeID: &target, Iteration: iteration})
	}
	return out
}

type schedulePayload struct {
	startAt time.Time
	endAt   time.Time
}

// checkSchedulingGate implements §4.F step 4. schedulingEnabled reports
// whether task.metadata.scheduling.enabled is true; schedule is nil when
// scheduling is disabled (any metadata.schedule payload is then silently
// ignored) or when the caller supplied none.
func checkSchedulingGate(task truth.Task, metadata map[string]any) (schedulingEnabled bool, schedule *schedulePayload, err error) {
	schedulingEnabled = taskSchedulingEnabled(task)
	if !schedulingEnabled {
		return false, nil, nil
	}
	if metadata == nil {
		return true, nil, truth.ErrSchedulingDataMissing
	}
	raw, ok := metadata["schedule"].(map[string]any)
	if !ok {
		return true, nil, truth.ErrSchedulingDataMissing
	}
	startAt, ok1 := parseTime(raw["startAt"])
	endAt, ok2 := parseTime(raw["endAt"])
	if !ok1 || !ok2 {
		return true, nil, truth.ErrSchedulingDataMissing
	}
	if !endAt.After(startAt) {
		return true, nil, truth.ErrInvalidTimeRange
	}
	return true, &schedulePayload{startAt: startAt, endAt: endAt}, nil
}

func taskSchedulingEnabled(task truth.Task) bool {
	scheduling, ok := task.Metadata["scheduling"].(map[string]any)
	if !ok {
		return false
	}
	enabled, _ := scheduling["enabled"].(bool)
	return enabled
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// commitScheduleBlock inserts a new COMMITTED ScheduleBlock and supersedes
// whichever prior block currently covers (taskID, flowID), per §4.F step
// 9 / §4.H commit-via-outcome.
func commitScheduleBlock(ctx context.Context, tx Store, companyID, taskID uuid.UUID, flowID *uuid.UUID, timeClass truth.TimeClass, startAt, endAt time.Time, createdBy uuid.UUID, now time.Time, changeRequestID *uuid.UUID) (truth.ScheduleBlock, error) {
	prior, hasPrior, err := tx.CurrentBlock(ctx, taskID, flowID)
	if err != nil {
		return truth.ScheduleBlock{}, err
	}
	var priorID *uuid.UUID
	if hasPrior {
		id := prior.ID
		priorID = &id
	}
	return tx.SupersedeAndCreate(ctx, priorID, truth.ScheduleBlock{
		ID:              uuid.New(),
		CompanyID:       companyID,
		TaskID:          taskID,
		FlowID:          flowID,
		TimeClass:       timeClass,
		StartAt:         startAt,
		EndAt:           endAt,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		ChangeRequestID: changeRequestID,
	})
}

// commitViaOutcome implements §4.H "commit-via-outcome": detourID must
// reference a detour of flowID whose ACCEPTED ScheduleChangeRequest has a
// companyId matching both the caller's and the flow's FlowGroup, else no
// commit is made and the request stays ACCEPTED.
func commitViaOutcome(ctx context.Context, tx Store, companyID, flowID, detourIDOrRequestID uuid.UUID, now time.Time) error {
	detour, err := tx.GetDetour(ctx, detourIDOrRequestID)
	if err != nil {
		return nil // unresolvable reference: no commit, nothing to roll back
	}
	if detour.FlowID != flowID || detour.ChangeRequestID == nil {
		return nil
	}
	request, err := tx.GetChangeRequest(ctx, *detour.ChangeRequestID)
	if err != nil {
		return nil
	}
	if request.CompanyID != companyID || request.Status != truth.RequestAccepted {
		return nil
	}
	flow, err := tx.GetFlow(ctx, flowID)
	if err != nil {
		return nil
	}
	group, err := tx.GetFlowGroup(ctx, flow.FlowGroupID)
	if err != nil || group.CompanyID != request.CompanyID {
		return nil
	}
	// parseTime accepts both a time.Time (a request built and committed
	// in the same process, never round-tripped) and an RFC3339 string
	// (one reloaded from a store that serializes Metadata as JSON), so
	// commit-via-outcome behaves identically either way.
	startAt, okStart := parseTime(request.Metadata["requestedStartAt"])
	endAt, okEnd := parseTime(request.Metadata["requestedEndAt"])
	if !okStart || !okEnd {
		return nil
	}
	if _, err := commitScheduleBlock(ctx, tx, companyID, *request.TaskID, request.FlowID, request.TimeClass, startAt, endAt, request.RequestedBy, now, &request.ID); err != nil {
		return err
	}
	_, err = tx.UpdateChangeRequestStatus(ctx, request.ID, truth.RequestCommitted, nil)
	return err
}

// isSaleClosedFamily reports whether outcome belongs to the designated
// SALE_CLOSED outcome family that additionally triggers provisionJob
// (§4.F step 10).
func isSaleClosedFamily(outcome string) bool {
	switch outcome {
	case "SALE_CLOSED", "SALE_CLOSED_FINANCED", "SALE_CLOSED_CASH":
		return true
	default:
		return false
	}
}

func latestSaleEvidence(ctx context.Context, tx Store, flowID, taskID uuid.UUID) (fanout.SaleEvidence, error) {
	attachment, found, err := tx.LatestEvidence(ctx, flowID, taskID)
	if err != nil {
		return fanout.SaleEvidence{}, err
	}
	if !found {
		return fanout.SaleEvidence{}, truth.ErrEvidenceRequired
	}
	content, _ := attachment.Data.Content.(map[string]any)
	customerID, _ := content["customerId"].(string)
	address, _ := content["serviceAddress"].(string)
	return fanout.SaleEvidence{CustomerID: customerID, ServiceAddress: address}, nil
}

// anchorCustomerID resolves the flow group's anchor identity from the
// EvidenceAttachment placed on the anchor task at flow creation (§4.E
// step 5). Anchor resolution itself is instantiate.AnchorTask's job, not
// reimplemented here, so the displayOrder-then-name tie-break (§9
// "anchor task" open question) stays defined in exactly one place.
func anchorCustomerID(ctx context.Context, tx Store, version truth.WorkflowVersion, flow truth.Flow) (string, error) {
	anchor, ok := instantiate.AnchorTask(version)
	if !ok {
		return "", truth.ErrAnchorTaskMissing
	}
	attachment, found, err := tx.LatestEvidence(ctx, flow.ID, anchor.ID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", truth.ErrAnchorTaskMissing
	}
	content, _ := attachment.Data.Content.(map[string]any)
	customerID, _ := content["customerId"].(string)
	return customerID, nil
}
