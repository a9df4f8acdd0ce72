// Package flowspec is the composition root (component O): it wires the
// persistence layer, kernel, execution engine, and every supporting
// service into one Engine, and exposes typed command/query methods named
// to match each operation directly (StartTask, RecordOutcome, CreateFlow,
// Publish, ...). Grounded on the teacher's runtime.New(opts ...Option)
// functional-options wiring (runtime/agent/runtime/runtime.go) — explicit
// constructor calls, no DI framework, no package-level state beyond the
// process-wide hook bus the spec itself mandates.
package flowspec

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowspec/engine/cache"
	"github.com/flowspec/engine/detour"
	"github.com/flowspec/engine/diagnose"
	"github.com/flowspec/engine/exec"
	"github.com/flowspec/engine/fanout"
	"github.com/flowspec/engine/hooks"
	"github.com/flowspec/engine/instantiate"
	"github.com/flowspec/engine/kernel"
	"github.com/flowspec/engine/lifecycle"
	"github.com/flowspec/engine/policy"
	"github.com/flowspec/engine/recommend"
	"github.com/flowspec/engine/telemetry"
	"github.com/flowspec/engine/truth"
	"github.com/flowspec/engine/validate"
)

// Result wraps a command's payload and the events it produced, so
// callers that need to observe hook dispatch (e.g. an HTTP handler
// emitting a webhook on the same request) don't need a second
// round-trip. Most callers only ever read Value.
type Result[T any] struct {
	Value  T
	Events []hooks.Event
}

// Option configures an Engine at construction time.
type Option func(*options)

type options struct {
	logger         telemetry.Logger
	metrics        telemetry.Metrics
	tracer         telemetry.Tracer
	bus            hooks.Bus
	impactRatePerS int
	cache          *cache.ActionableTasks
}

// WithLogger overrides the default no-op Logger.
func WithLogger(l telemetry.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics overrides the default no-op Metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithTracer overrides the default no-op Tracer.
func WithTracer(t telemetry.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithHookBus overrides the default in-process Bus, e.g. to register
// subscribers before any command runs.
func WithHookBus(b hooks.Bus) Option { return func(o *options) { o.bus = b } }

// WithImpactAnalysisRate bounds validate.ImpactAnalyzer's per-second
// per-flow check budget (default 200).
func WithImpactAnalysisRate(ratePerSecond int) Option {
	return func(o *options) { o.impactRatePerS = ratePerSecond }
}

// WithCache enables the read-through actionable-task cache (§5
// EXPANSION) for ActionableTasks. Omitted by default: correctness never
// depends on it, ActionableTasks recomputes from Truth either way.
func WithCache(c *cache.ActionableTasks) Option { return func(o *options) { o.cache = c } }

// Engine is the single entry point embedding a deployment talks to. It
// owns no persistent state itself — every method takes the
// caller-supplied truth.Store (or TxRunner) so the same Engine can serve
// many tenants and transactions concurrently.
type Engine struct {
	bus     hooks.Bus
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
	cache   *cache.ActionableTasks

	validator    *validate.Validator
	impact       *validate.ImpactAnalyzer
	lifecycleCtl *lifecycle.Controller
	instantiate  *instantiate.Service
	fanOut       *fanout.Service
	exec         *exec.Service
	policy       *policy.Engine
	detour       *detour.Service
}

// New builds an Engine, installing no-op telemetry and a fresh in-process
// hook bus unless overridden by opts.
func New(opts ...Option) *Engine {
	o := options{
		logger:         telemetry.NewNoopLogger(),
		metrics:        telemetry.NewNoopMetrics(),
		tracer:         telemetry.NewNoopTracer(),
		impactRatePerS: 200,
	}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.bus == nil {
		o.bus = hooks.NewBus(o.logger)
	}

	validator := validate.New()
	create := instantiate.New()
	fanOut := fanout.New(create)

	return &Engine{
		bus:          o.bus,
		logger:       o.logger,
		metrics:      o.metrics,
		tracer:       o.tracer,
		cache:        o.cache,
		validator:    validator,
		impact:       validate.NewImpactAnalyzer(o.impactRatePerS),
		lifecycleCtl: lifecycle.New(validator),
		instantiate:  create,
		fanOut:       fanOut,
		exec:         exec.New(fanOut, o.bus),
		policy:       policy.New(),
		detour:       detour.New(),
	}
}

// Bus exposes the hook registry so a deployment can register subscribers
// (e.g. hooks/subscribers.Audit, hooks/subscribers.Notifier) before
// serving traffic.
func (e *Engine) Bus() hooks.Bus { return e.bus }

// StartTask implements §4.F startTask inside one transaction opened by
// runner.
func (e *Engine) StartTask(ctx context.Context, runner exec.TxRunner, companyID, flowID, taskID, actorID uuid.UUID, now time.Time) (truth.TaskExecution, error) {
	return e.exec.StartTask(ctx, runner, companyID, flowID, taskID, actorID, now)
}

// RecordOutcome implements §4.F recordOutcome's full 12-step sequence
// inside one transaction opened by runner.
func (e *Engine) RecordOutcome(ctx context.Context, runner exec.TxRunner, companyID, flowID, taskID uuid.UUID, outcome string, actorID uuid.UUID, detourID *uuid.UUID, metadata map[string]any, now time.Time) (exec.Result, error) {
	return e.exec.RecordOutcome(ctx, runner, companyID, flowID, taskID, outcome, actorID, detourID, metadata, now)
}

// AttachEvidence validates and records one EvidenceAttachment, enforcing
// the task's declared evidenceSchema (§4 evidence gate) before RecordOutcome
// is ever reached.
func (e *Engine) AttachEvidence(ctx context.Context, runner exec.TxRunner, flowID, taskID uuid.UUID, evidenceType truth.EvidenceType, data truth.EvidenceData, actorID uuid.UUID, idempotencyKey *string, now time.Time) (truth.EvidenceAttachment, error) {
	return e.exec.AttachEvidence(ctx, runner, flowID, taskID, evidenceType, data, actorID, idempotencyKey, now)
}

// CreateFlow implements §4.E.
func (e *Engine) CreateFlow(ctx context.Context, store instantiate.Store, workflowID uuid.UUID, p instantiate.Params, now time.Time) (truth.Flow, error) {
	return e.instantiate.CreateFlow(ctx, store, workflowID, p, now)
}

// ValidateGraph runs the §4.J suite directly against an in-memory graph,
// without touching Truth or transitioning a workflow's status — useful
// for an editor's live-preview validation while a Draft is still being
// edited.
func (e *Engine) ValidateGraph(nodes []truth.Node, gates []truth.Gate) []validate.Issue {
	return e.validator.ValidateGraph(nodes, gates)
}

// Validate implements §4.D's Draft->Validated transition.
func (e *Engine) Validate(ctx context.Context, store lifecycle.Store, workflowID uuid.UUID, now time.Time) ([]validate.Issue, error) {
	return e.lifecycleCtl.Validate(ctx, store, workflowID, now)
}

// Publish implements §4.D's ->Published transition, freezing the Draft
// graph into a new immutable WorkflowVersion (INV-011).
func (e *Engine) Publish(ctx context.Context, store lifecycle.Store, workflowID, publishedBy uuid.UUID, now time.Time) (truth.WorkflowVersion, []validate.Issue, error) {
	return e.lifecycleCtl.Publish(ctx, store, workflowID, publishedBy, now)
}

// AnalyzeImpact diffs draft against published for every live flow still
// bound to published (§4.J).
func (e *Engine) AnalyzeImpact(ctx context.Context, draft, published truth.WorkflowVersion, liveFlows []truth.Flow) (validate.ImpactReport, error) {
	return e.impact.AnalyzeImpact(ctx, draft, published, liveFlows)
}

// CreateChangeRequest implements §4.H's change-request creation half: it
// always inserts a PENDING row and never mutates ScheduleBlocks or
// DetourRecords on its own.
func (e *Engine) CreateChangeRequest(ctx context.Context, store detour.Store, companyID uuid.UUID, flowID, taskID *uuid.UUID, detourRecordID *uuid.UUID, timeClass truth.TimeClass, reason string, metadata map[string]any, requestedBy uuid.UUID, now time.Time) (truth.ScheduleChangeRequest, error) {
	return e.detour.CreateChangeRequest(ctx, store, companyID, flowID, taskID, detourRecordID, timeClass, reason, metadata, requestedBy, now)
}

// ReviewRequest implements §4.H's review state machine
// (start_review/accept/reject/cancel).
func (e *Engine) ReviewRequest(ctx context.Context, store detour.Store, companyID, requestID uuid.UUID, action detour.Action, actorID uuid.UUID, checkpointNodeID, resumeTargetNodeID, checkpointTaskExecutionID uuid.UUID, now time.Time) (truth.ScheduleChangeRequest, *truth.DetourRecord, error) {
	return e.detour.ReviewRequest(ctx, store, companyID, requestID, action, actorID, checkpointNodeID, resumeTargetNodeID, checkpointTaskExecutionID, now)
}

// AssignJob attaches a person or external assignee to a Job. Assignments
// are pure enrichment (§7 "Assignment non-reduction"): a single insert,
// no transaction needed, since they never interact with Truth invariants.
func (e *Engine) AssignJob(ctx context.Context, store ReadStore, a truth.Assignment) (truth.Assignment, error) {
	return store.CreateAssignment(ctx, a)
}

// ActionableTasks runs the derived-state read path for one flow: it
// loads the flow's FlowGroup siblings into a kernel.GroupTruth, computes
// the canonical actionable-task set, then applies the fixed enrichment
// pipeline from §9 — assignments, signals, recommendations, in that
// order, never inside the pure kernel itself. When a cache is configured
// (WithCache), a hit on (flowID, TruthVersion) skips all of that and
// returns the cached enrichment verbatim; a miss always falls back to
// the full computation below and populates the cache before returning.
func (e *Engine) ActionableTasks(ctx context.Context, store ReadStore, flowID uuid.UUID) ([]EnrichedTask, error) {
	flow, err := store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		var cached []EnrichedTask
		if e.cache.Get(ctx, flowID, flow.TruthVersion, &cached) {
			return cached, nil
		}
	}

	group, workflowID, err := loadGroupTruth(ctx, store, flowID)
	if err != nil {
		return nil, err
	}
	flowTruth := group.Siblings[workflowID]
	tasks := kernel.ComputeActionableTasks(group, workflowID)

	effectivePolicy, err := e.policy.ComputeEffectivePolicy(ctx, store, flowTruth.Flow.FlowGroupID, kernel.BuildIndex(flowTruth.Snapshot))
	if err != nil {
		return nil, err
	}

	// Assignments enrich every task in this FlowGroup identically (§7
	// "Assignment non-reduction"): fetched once, from the Job (if any)
	// that provisioning (§4.G) has created for this FlowGroup.
	var assignments []truth.Assignment
	if job, ok, err := store.GetJobByFlowGroup(ctx, flowTruth.Flow.FlowGroupID); err != nil {
		return nil, err
	} else if ok {
		if assignments, err = store.ListAssignments(ctx, job.ID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	enriched := make([]EnrichedTask, len(tasks))
	for i, t := range tasks {
		enriched[i] = EnrichedTask{ActionableTask: t, Assignments: assignments}
		enriched[i].Signals = e.policy.ComputeTaskSignals(effectivePolicy, t.Task, t.ActivatedAt, now)
		enriched[i].Recommendations = recommend.Compute(recommend.Context{
			Task:      t,
			IsOverdue: enriched[i].Signals.IsOverdue,
		})
	}
	if e.cache != nil {
		e.cache.Put(ctx, flowID, flow.TruthVersion, enriched)
	}
	return enriched, nil
}

// EnrichedTask is one actionable task plus its enrichment (§9), the
// shape a query surface actually returns — the kernel itself only ever
// produces kernel.ActionableTask.
type EnrichedTask struct {
	kernel.ActionableTask
	Assignments     []truth.Assignment
	Signals         policy.Signals
	Recommendations []recommend.Recommendation
}

// Diagnose implements §4.M: why a non-actionable, non-complete flow is
// stalled.
func (e *Engine) Diagnose(ctx context.Context, store ReadStore, flowID uuid.UUID) (diagnose.Diagnosis, bool, error) {
	group, workflowID, err := loadGroupTruth(ctx, store, flowID)
	if err != nil {
		return diagnose.Diagnosis{}, false, err
	}
	d, ok := diagnose.Diagnose(group, workflowID)
	return d, ok, nil
}
