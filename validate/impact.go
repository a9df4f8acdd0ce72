package validate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/flowspec/engine/truth"
)

// ImpactDeadline bounds how long AnalyzeImpact may run before returning a
// partial report (§4.J). Publish is allowed to proceed regardless of
// whether the deadline was hit.
const ImpactDeadline = 5 * time.Second

// BreakingKind classifies one way a live flow can be broken by a Draft
// edit relative to the WorkflowVersion it is bound to.
type BreakingKind string

const (
	BreakingRemovedNode           BreakingKind = "removedNode"
	BreakingRemovedOutcome        BreakingKind = "removedOutcome"
	BreakingChangedEvidenceSchema BreakingKind = "changedEvidenceSchema"
)

// BreakingChange is one finding of the impact analysis, scoped to the
// live flow it affects.
type BreakingChange struct {
	FlowID   uuid.UUID    `json:"flowId"`
	Kind     BreakingKind `json:"kind"`
	NodeName string       `json:"nodeName"`
	TaskName string       `json:"taskName,omitempty"`
	Outcome  string       `json:"outcome,omitempty"`
}

// ImpactReport is the result of diffing a Draft against the currently
// Published snapshot. IsAnalysisComplete is false when the deadline
// expired before every live flow was checked; publish may proceed either
// way (§4.J).
type ImpactReport struct {
	BreakingChanges    []BreakingChange `json:"breakingChanges"`
	IsAnalysisComplete bool             `json:"isAnalysisComplete"`
}

// ImpactAnalyzer runs impact analysis rate-limited against the number of
// live flows it must check, so a FlowGroup with thousands of sibling
// flows on an old version cannot monopolize the analysis budget before
// the deadline check even has a chance to fire.
type ImpactAnalyzer struct {
	limiter *rate.Limiter
}

// NewImpactAnalyzer builds an analyzer allowing up to ratePerSecond
// per-flow checks per second, with a burst of the same size.
func NewImpactAnalyzer(ratePerSecond int) *ImpactAnalyzer {
	if ratePerSecond <= 0 {
		ratePerSecond = 200
	}
	return &ImpactAnalyzer{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)}
}

// AnalyzeImpact diffs draft against published and classifies breaking
// changes for every flow in liveFlows (which callers should have
// pre-filtered to flows bound to published.ID). It budgets ImpactDeadline
// from when it is called; on expiry it returns whatever it has found so
// far with IsAnalysisComplete=false.
func (a *ImpactAnalyzer) AnalyzeImpact(ctx context.Context, draft, published truth.WorkflowVersion, liveFlows []truth.Flow) (ImpactReport, error) {
	ctx, cancel := context.WithTimeout(ctx, ImpactDeadline)
	defer cancel()

	removedNodes, removedOutcomes, schemaChanges := diffSnapshots(draft, published)
	if len(removedNodes) == 0 && len(removedOutcomes) == 0 && len(schemaChanges) == 0 {
		return ImpactReport{IsAnalysisComplete: true}, nil
	}

	report := ImpactReport{}
	for _, flow := range liveFlows {
		if err := a.limiter.Wait(ctx); err != nil {
			return report, nil // deadline hit; IsAnalysisComplete stays false
		}
		for _, n := range removedNodes {
			report.BreakingChanges = append(report.BreakingChanges, BreakingChange{FlowID: flow.ID, Kind: BreakingRemovedNode, NodeName: n})
		}
		for _, o := range removedOutcomes {
			report.BreakingChanges = append(report.BreakingChanges, BreakingChange{FlowID: flow.ID, Kind: BreakingRemovedOutcome, NodeName: o.node, TaskName: o.task, Outcome: o.outcome})
		}
		for _, s := range schemaChanges {
			report.BreakingChanges = append(report.BreakingChanges, BreakingChange{FlowID: flow.ID, Kind: BreakingChangedEvidenceSchema, NodeName: s.node, TaskName: s.task})
		}
		select {
		case <-ctx.Done():
			return report, nil
		default:
		}
	}
	report.IsAnalysisComplete = true
	return report, nil
}

type removedOutcome struct{ node, task, outcome string }
type schemaChange struct{ node, task string }

// diffSnapshots compares draft against published by name (never by id,
// since a Draft's ids are unrelated to the frozen snapshot's) and
// returns every removed node, removed outcome, and changed evidence
// schema.
func diffSnapshots(draft, published truth.WorkflowVersion) (removedNodes []string, removedOutcomes []removedOutcome, schemaChanges []schemaChange) {
	draftNodes := make(map[string]truth.Node, len(draft.Nodes))
	for _, n := range draft.Nodes {
		draftNodes[n.Name] = n
	}

	for _, oldNode := range published.Nodes {
		newNode, ok := draftNodes[oldNode.Name]
		if !ok {
			removedNodes = append(removedNodes, oldNode.Name)
			continue
		}
		newTasks := make(map[string]truth.Task, len(newNode.Tasks))
		for _, t := range newNode.Tasks {
			newTasks[t.Name] = t
		}
		for _, oldTask := range oldNode.Tasks {
			newTask, ok := newTasks[oldTask.Name]
			if !ok {
				for _, o := range oldTask.Outcomes {
					removedOutcomes = append(removedOutcomes, removedOutcome{node: oldNode.Name, task: oldTask.Name, outcome: o.Name})
				}
				continue
			}
			newOutcomes := make(map[string]struct{}, len(newTask.Outcomes))
			for _, o := range newTask.Outcomes {
				newOutcomes[o.Name] = struct{}{}
			}
			for _, o := range oldTask.Outcomes {
				if _, ok := newOutcomes[o.Name]; !ok {
					removedOutcomes = append(removedOutcomes, removedOutcome{node: oldNode.Name, task: oldTask.Name, outcome: o.Name})
				}
			}
			if oldTask.EvidenceRequired && string(oldTask.EvidenceSchema) != string(newTask.EvidenceSchema) {
				schemaChanges = append(schemaChanges, schemaChange{node: oldNode.Name, task: oldTask.Name})
			}
		}
	}
	return removedNodes, removedOutcomes, schemaChanges
}
