// Package validate implements component J: the structural validation
// suite run on Draft graphs before Validated/Published transitions, and
// the impact analysis that diffs a Draft against the currently Published
// snapshot.
package validate

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

// Code is a validation issue's stable identifier (§4.J).
type Code string

const (
	CodeNoEntryNode          Code = "NO_ENTRY_NODE"
	CodeUnreachableNode      Code = "UNREACHABLE_NODE"
	CodeOrphanedOutcome      Code = "ORPHANED_OUTCOME"
	CodeDuplicateOutcomeName Code = "DUPLICATE_OUTCOME_NAME"
	CodeMissingEvidenceSchema Code = "MISSING_EVIDENCE_SCHEMA"
	CodeInvalidGateTarget    Code = "INVALID_GATE_TARGET"
	CodeSelfLoopWithoutExit  Code = "SELF_LOOP_WITHOUT_EXIT"
	CodeTaskNameClash        Code = "TASK_NAME_CLASH"
)

// Issue is one validation finding, carrying a stable code and the path
// (node/task name) it applies to so a caller can render it without
// re-deriving context.
type Issue struct {
	Code    Code   `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Validator runs the §4.J suite against a Draft graph. It holds no
// state; every method is pure over its arguments, matching the rest of
// the analysis/diagnosis modules' read-only scheduling guard (§6).
type Validator struct{}

// New builds a Validator.
func New() *Validator { return &Validator{} }

// ValidateGraph runs every rule in §4.J and returns every issue found
// (never short-circuits on the first one, so a caller sees the whole
// picture in one pass).
func (v *Validator) ValidateGraph(nodes []truth.Node, gates []truth.Gate) []Issue {
	var issues []Issue
	byID := make(map[uuid.UUID]truth.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	issues = append(issues, checkEntryNode(nodes)...)
	issues = append(issues, checkReachability(nodes, gates)...)
	issues = append(issues, checkGateTargets(gates, byID)...)
	issues = append(issues, checkOrphanedOutcomes(nodes, gates)...)
	issues = append(issues, checkDuplicateOutcomeNames(nodes)...)
	issues = append(issues, checkMissingEvidenceSchema(nodes)...)
	issues = append(issues, checkSelfLoopWithoutExit(nodes, gates)...)
	issues = append(issues, checkTaskNameClash(nodes)...)

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].Code < issues[j].Code
	})
	return issues
}

func checkEntryNode(nodes []truth.Node) []Issue {
	for _, n := range nodes {
		if n.IsEntry {
			return nil
		}
	}
	return []Issue{{Code: CodeNoEntryNode, Path: "", Message: "graph has no entry node"}}
}

// checkReachability flags every node not reachable from an entry node by
// forward traversal over gates.
func checkReachability(nodes []truth.Node, gates []truth.Gate) []Issue {
	adj := make(map[uuid.UUID][]uuid.UUID)
	for _, g := range gates {
		if g.TargetNodeID != nil {
			adj[g.SourceNodeID] = append(adj[g.SourceNodeID], *g.TargetNodeID)
		}
	}
	reached := map[uuid.UUID]struct{}{}
	var queue []uuid.UUID
	for _, n := range nodes {
		if n.IsEntry {
			queue = append(queue, n.ID)
			reached[n.ID] = struct{}{}
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, ok := reached[next]; ok {
				continue
			}
			reached[next] = struct{}{}
			queue = append(queue, next)
		}
	}

	var issues []Issue
	for _, n := range nodes {
		if _, ok := reached[n.ID]; !ok {
			issues = append(issues, Issue{Code: CodeUnreachableNode, Path: n.Name, Message: fmt.Sprintf("node %q is not reachable from any entry node", n.Name)})
		}
	}
	return issues
}

func checkGateTargets(gates []truth.Gate, byID map[uuid.UUID]truth.Node) []Issue {
	var issues []Issue
	for _, g := range gates {
		if _, ok := byID[g.SourceNodeID]; !ok {
			issues = append(issues, Issue{Code: CodeInvalidGateTarget, Path: g.OutcomeName, Message: "gate source node does not exist"})
			continue
		}
		if g.TargetNodeID != nil {
			if _, ok := byID[*g.TargetNodeID]; !ok {
				issues = append(issues, Issue{Code: CodeInvalidGateTarget, Path: g.OutcomeName, Message: "gate target node does not exist"})
			}
		}
	}
	return issues
}

// checkOrphanedOutcomes flags every task outcome with no gate routing it
// anywhere, including to a nil (terminal) target.
func checkOrphanedOutcomes(nodes []truth.Node, gates []truth.Gate) []Issue {
	gated := make(map[string]struct{}, len(gates))
	for _, g := range gates {
		gated[g.SourceNodeID.String()+"/"+g.OutcomeName] = struct{}{}
	}

	var issues []Issue
	for _, n := range nodes {
		for _, t := range n.Tasks {
			for _, o := range t.Outcomes {
				if _, ok := gated[n.ID.String()+"/"+o.Name]; !ok {
					issues = append(issues, Issue{Code: CodeOrphanedOutcome, Path: n.Name + "/" + t.Name + "/" + o.Name, Message: "outcome has no gate"})
				}
			}
		}
	}
	return issues
}

func checkDuplicateOutcomeNames(nodes []truth.Node) []Issue {
	var issues []Issue
	for _, n := range nodes {
		for _, t := range n.Tasks {
			seen := map[string]struct{}{}
			for _, o := range t.Outcomes {
				if _, ok := seen[o.Name]; ok {
					issues = append(issues, Issue{Code: CodeDuplicateOutcomeName, Path: n.Name + "/" + t.Name + "/" + o.Name, Message: "duplicate outcome name on task"})
					continue
				}
				seen[o.Name] = struct{}{}
			}
		}
	}
	return issues
}

func checkMissingEvidenceSchema(nodes []truth.Node) []Issue {
	var issues []Issue
	for _, n := range nodes {
		for _, t := range n.Tasks {
			if t.EvidenceRequired && len(t.EvidenceSchema) == 0 {
				issues = append(issues, Issue{Code: CodeMissingEvidenceSchema, Path: n.Name + "/" + t.Name, Message: "evidenceRequired is set but no evidence schema is defined"})
			}
		}
	}
	return issues
}

// checkSelfLoopWithoutExit flags a node whose only gates loop back to
// itself, with no outcome that ever leaves the node.
func checkSelfLoopWithoutExit(nodes []truth.Node, gates []truth.Gate) []Issue {
	outcomeCount := map[uuid.UUID]int{}
	selfLoopCount := map[uuid.UUID]int{}
	for _, n := range nodes {
		for _, t := range n.Tasks {
			outcomeCount[n.ID] += len(t.Outcomes)
		}
	}
	for _, g := range gates {
		if g.TargetNodeID != nil && *g.TargetNodeID == g.SourceNodeID {
			selfLoopCount[g.SourceNodeID]++
		}
	}

	var issues []Issue
	for _, n := range nodes {
		if outcomeCount[n.ID] > 0 && outcomeCount[n.ID] == selfLoopCount[n.ID] {
			issues = append(issues, Issue{Code: CodeSelfLoopWithoutExit, Path: n.Name, Message: "every outcome on this node loops back to itself"})
		}
	}
	return issues
}

func checkTaskNameClash(nodes []truth.Node) []Issue {
	var issues []Issue
	for _, n := range nodes {
		seen := map[string]struct{}{}
		for _, t := range n.Tasks {
			if _, ok := seen[t.Name]; ok {
				issues = append(issues, Issue{Code: CodeTaskNameClash, Path: n.Name + "/" + t.Name, Message: "duplicate task name within node"})
				continue
			}
			seen[t.Name] = struct{}{}
		}
	}
	return issues
}
