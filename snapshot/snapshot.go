// Package snapshot implements component B: freezing a live Draft graph
// into an immutable WorkflowVersion at publish time, and rebuilding a
// Draft graph back out of a snapshot for branch/revert (§4.B).
package snapshot

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

// GraphWriter is the narrow persistence surface hydration needs. Accepting
// the full truth.Store here would entangle this package with every other
// aggregate's store interface for no benefit; truth.Store satisfies this
// interface structurally, so callers pass one straight through.
type GraphWriter interface {
	CreateWorkflow(ctx context.Context, w truth.Workflow) (truth.Workflow, error)
	PutDraftGraph(ctx context.Context, workflowID uuid.UUID, nodes []truth.Node, gates []truth.Gate) error
}

// CreateWorkflowSnapshot serializes a live Draft graph into the frozen
// WorkflowVersion shape. TransitiveSuccessors is computed for every node
// as its BFS-reachable set over gates, excluding the node itself. Nodes
// and gates are stable-sorted by name; each node's tasks are sorted by
// (DisplayOrder, Name), the canonical task ordering every downstream
// reader (kernel.BuildIndex, instantiate.AnchorTask) assumes. Two calls
// over the same graph — regardless of the order its rows were loaded in —
// therefore yield Nodes and Gates in the same order; each call still
// assigns a fresh version ID, so Normalize is what compares them byte for
// byte.
func CreateWorkflowSnapshot(workflowID uuid.UUID, version int, name string, isNonTerminating bool, nodes []truth.Node, gates []truth.Gate, now time.Time) truth.WorkflowVersion {
	nodes = append([]truth.Node(nil), nodes...)
	gates = append([]truth.Gate(nil), gates...)

	names := make(map[uuid.UUID]string, len(nodes))
	for _, n := range nodes {
		names[n.ID] = n.Name
	}

	succ := successorsByNode(nodes, gates, names)
	for i := range nodes {
		nodes[i].Tasks = append([]truth.Task(nil), nodes[i].Tasks...)
		sort.SliceStable(nodes[i].Tasks, func(a, b int) bool {
			ta, tb := nodes[i].Tasks[a], nodes[i].Tasks[b]
			if ta.DisplayOrder != tb.DisplayOrder {
				return ta.DisplayOrder < tb.DisplayOrder
			}
			return ta.Name < tb.Name
		})
		nodes[i].TransitiveSuccessors = succ[nodes[i].ID]
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	sort.SliceStable(gates, func(i, j int) bool {
		a, b := gates[i], gates[j]
		if an, bn := names[a.SourceNodeID], names[b.SourceNodeID]; an != bn {
			return an < bn
		}
		return a.OutcomeName < b.OutcomeName
	})

	return truth.WorkflowVersion{
		ID:               uuid.New(),
		WorkflowID:       workflowID,
		Version:          version,
		Name:             name,
		IsNonTerminating: isNonTerminating,
		Nodes:            nodes,
		Gates:            gates,
		CreatedAt:        now,
	}
}

// successorsByNode computes, for every node, its transitively reachable
// set over gates via breadth-first traversal, stable-sorted by name.
func successorsByNode(nodes []truth.Node, gates []truth.Gate, names map[uuid.UUID]string) map[uuid.UUID][]uuid.UUID {
	adj := make(map[uuid.UUID][]uuid.UUID, len(nodes))
	for _, g := range gates {
		if g.TargetNodeID != nil {
			adj[g.SourceNodeID] = append(adj[g.SourceNodeID], *g.TargetNodeID)
		}
	}

	out := make(map[uuid.UUID][]uuid.UUID, len(nodes))
	for _, n := range nodes {
		visited := map[uuid.UUID]struct{}{n.ID: {}}
		queue := append([]uuid.UUID(nil), adj[n.ID]...)
		var reached []uuid.UUID
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if _, seen := visited[cur]; seen {
				continue
			}
			visited[cur] = struct{}{}
			reached = append(reached, cur)
			queue = append(queue, adj[cur]...)
		}
		sort.SliceStable(reached, func(i, j int) bool { return names[reached[i]] < names[reached[j]] })
		out[n.ID] = reached
	}
	return out
}

// HydrateSnapshotToWorkflow rebuilds the relational Draft form of a frozen
// snapshot under a fresh Workflow, idempotently: every call starts a new
// Workflow row and replaces that workflow's draft graph wholesale, so a
// retried call never leaves a partially-written graph behind. It returns
// the new workflowId and the old→new id maps for nodes and tasks, since
// callers (branch/revert in component D) need to translate references
// that point at the frozen snapshot's ids.
func HydrateSnapshotToWorkflow(ctx context.Context, w GraphWriter, snap truth.WorkflowVersion, companyID uuid.UUID, version int, name string, now time.Time) (workflowID uuid.UUID, nodeIDMap map[uuid.UUID]uuid.UUID, taskIDMap map[uuid.UUID]uuid.UUID, err error) {
	created, err := w.CreateWorkflow(ctx, truth.Workflow{
		ID:        uuid.New(),
		CompanyID: companyID,
		Name:      name,
		Status:    truth.StatusDraft,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return uuid.Nil, nil, nil, err
	}

	nodeIDMap = make(map[uuid.UUID]uuid.UUID, len(snap.Nodes))
	taskIDMap = make(map[uuid.UUID]uuid.UUID)
	for _, n := range snap.Nodes {
		nodeIDMap[n.ID] = uuid.New()
		for _, t := range n.Tasks {
			taskIDMap[t.ID] = uuid.New()
		}
	}

	nodes := make([]truth.Node, len(snap.Nodes))
	for i, n := range snap.Nodes {
		tasks := make([]truth.Task, len(n.Tasks))
		for j, t := range n.Tasks {
			t.ID = taskIDMap[t.ID]
			tasks[j] = t
		}
		specific := make([]uuid.UUID, len(n.SpecificTasks))
		for j, id := range n.SpecificTasks {
			specific[j] = taskIDMap[id]
		}
		successors := make([]uuid.UUID, len(n.TransitiveSuccessors))
		for j, id := range n.TransitiveSuccessors {
			successors[j] = nodeIDMap[id]
		}
		nodes[i] = truth.Node{
			ID:                   nodeIDMap[n.ID],
			Name:                 n.Name,
			IsEntry:              n.IsEntry,
			NodeKind:             n.NodeKind,
			CompletionRule:       n.CompletionRule,
			SpecificTasks:        specific,
			TransitiveSuccessors: successors,
			Tasks:                tasks,
		}
	}

	gates := make([]truth.Gate, len(snap.Gates))
	for i, g := range snap.Gates {
		ng := truth.Gate{SourceNodeID: nodeIDMap[g.SourceNodeID], OutcomeName: g.OutcomeName}
		if g.TargetNodeID != nil {
			target := nodeIDMap[*g.TargetNodeID]
			ng.TargetNodeID = &target
		}
		gates[i] = ng
	}

	if err := w.PutDraftGraph(ctx, created.ID, nodes, gates); err != nil {
		return uuid.Nil, nil, nil, err
	}
	return created.ID, nodeIDMap, taskIDMap, nil
}

// Normalize renders a graph into a form that is byte-identical regardless
// of id assignment: every node, task, and gate is addressed by name
// instead of id and sorted at every level. Two hydrations of the same
// snapshot assign different fresh uuids, so comparing raw structs would
// never match; Normalize is what the hydration-equivalence property (§8)
// actually compares.
func Normalize(nodes []truth.Node, gates []truth.Gate) []byte {
	type normTask struct {
		Name             string   `json:"name"`
		DisplayOrder     int      `json:"displayOrder"`
		EvidenceRequired bool     `json:"evidenceRequired"`
		Outcomes         []string `json:"outcomes"`
	}
	type normNode struct {
		Name                 string     `json:"name"`
		IsEntry              bool       `json:"isEntry"`
		CompletionRule       string     `json:"completionRule"`
		TransitiveSuccessors []string   `json:"transitiveSuccessors"`
		Tasks                []normTask `json:"tasks"`
	}
	type normGate struct {
		SourceName  string `json:"sourceName"`
		OutcomeName string `json:"outcomeName"`
		TargetName  string `json:"targetName,omitempty"`
	}

	names := make(map[uuid.UUID]string, len(nodes))
	for _, n := range nodes {
		names[n.ID] = n.Name
	}

	outNodes := make([]normNode, len(nodes))
	for i, n := range nodes {
		succNames := make([]string, len(n.TransitiveSuccessors))
		for j, id := range n.TransitiveSuccessors {
			succNames[j] = names[id]
		}
		sort.Strings(succNames)

		tasks := make([]normTask, len(n.Tasks))
		for j, t := range n.Tasks {
			outcomes := make([]string, len(t.Outcomes))
			for k, o := range t.Outcomes {
				outcomes[k] = o.Name
			}
			sort.Strings(outcomes)
			tasks[j] = normTask{Name: t.Name, DisplayOrder: t.DisplayOrder, EvidenceRequired: t.EvidenceRequired, Outcomes: outcomes}
		}
		sort.Slice(tasks, func(a, b int) bool { return tasks[a].Name < tasks[b].Name })

		outNodes[i] = normNode{
			Name:                 n.Name,
			IsEntry:              n.IsEntry,
			CompletionRule:       string(n.CompletionRule),
			TransitiveSuccessors: succNames,
			Tasks:                tasks,
		}
	}
	sort.Slice(outNodes, func(i, j int) bool { return outNodes[i].Name < outNodes[j].Name })

	outGates := make([]normGate, len(gates))
	for i, g := range gates {
		ng := normGate{SourceName: names[g.SourceNodeID], OutcomeName: g.OutcomeName}
		if g.TargetNodeID != nil {
			ng.TargetName = names[*g.TargetNodeID]
		}
		outGates[i] = ng
	}
	sort.Slice(outGates, func(i, j int) bool {
		if outGates[i].SourceName != outGates[j].SourceName {
			return outGates[i].SourceName < outGates[j].SourceName
		}
		return outGates[i].OutcomeName < outGates[j].OutcomeName
	})

	b, _ := json.Marshal(struct {
		Nodes []normNode `json:"nodes"`
		Gates []normGate `json:"gates"`
	}{outNodes, outGates})
	return b
}
