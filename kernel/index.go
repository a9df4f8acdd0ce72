package kernel

import (
	"github.com/google/uuid"
	"github.com/flowspec/engine/truth"
)

// Index precomputes id-to-value lookup maps over a WorkflowVersion
// snapshot. Per §9 "Cyclic workflow graphs", the kernel never builds
// objects that own each other — only arrays of ids plus lookup maps — so
// an Index is the one allowed exception: a read-only, rebuildable cache
// over the snapshot's arrays.
type Index struct {
	Snapshot   truth.WorkflowVersion
	nodeByID   map[uuid.UUID]*truth.Node
	taskByID   map[uuid.UUID]*truth.Task
	nodeOfTask map[uuid.UUID]uuid.UUID
	gatesBySrc map[uuid.UUID][]truth.Gate // keyed by sourceNodeId
	inbound    map[uuid.UUID][]truth.Gate // keyed by targetNodeId
	depth      map[uuid.UUID]int
}

// BuildIndex derives an Index from snap. Cheap enough to call per
// request; callers that compute derived state repeatedly for the same
// snapshot may cache the Index themselves.
func BuildIndex(snap truth.WorkflowVersion) *Index {
	idx := &Index{
		Snapshot:   snap,
		nodeByID:   make(map[uuid.UUID]*truth.Node, len(snap.Nodes)),
		taskByID:   make(map[uuid.UUID]*truth.Task),
		nodeOfTask: make(map[uuid.UUID]uuid.UUID),
		gatesBySrc: make(map[uuid.UUID][]truth.Gate),
		inbound:    make(map[uuid.UUID][]truth.Gate),
	}
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		idx.nodeByID[n.ID] = n
		for j := range n.Tasks {
			t := &n.Tasks[j]
			idx.taskByID[t.ID] = t
			idx.nodeOfTask[t.ID] = n.ID
		}
	}
	for _, g := range snap.Gates {
		idx.gatesBySrc[g.SourceNodeID] = append(idx.gatesBySrc[g.SourceNodeID], g)
		if g.TargetNodeID != nil {
			idx.inbound[*g.TargetNodeID] = append(idx.inbound[*g.TargetNodeID], g)
		}
	}
	idx.depth = computeDepths(idx)
	return idx
}

// computeDepths runs a multi-source BFS from every entry node over
// forward gates, giving each node its shortest distance from any entry
// node. Execution's loopback detection (§4.F step 6) uses this to tell a
// forward edge (target depth > source depth) from a loopback edge
// (target depth ≤ source depth).
func computeDepths(idx *Index) map[uuid.UUID]int {
	depth := make(map[uuid.UUID]int, len(idx.Snapshot.Nodes))
	var queue []uuid.UUID
	for _, n := range idx.EntryNodes() {
		depth[n.ID] = 0
		queue = append(queue, n.ID)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, g := range idx.gatesBySrc[cur] {
			if g.TargetNodeID == nil {
				continue
			}
			if _, seen := depth[*g.TargetNodeID]; seen {
				continue
			}
			depth[*g.TargetNodeID] = depth[cur] + 1
			queue = append(queue, *g.TargetNodeID)
		}
	}
	return depth
}

// Depth returns nodeID's BFS distance from the nearest entry node. Nodes
// unreachable from any entry node (which validation should have already
// rejected, §4.J UNREACHABLE_NODE) report depth 0.
func (idx *Index) Depth(nodeID uuid.UUID) int { return idx.depth[nodeID] }

// Node returns the node with the given id, or nil if absent.
func (idx *Index) Node(id uuid.UUID) *truth.Node { return idx.nodeByID[id] }

// Task returns the task with the given id, or nil if absent.
func (idx *Index) Task(id uuid.UUID) *truth.Task { return idx.taskByID[id] }

// NodeOf returns the id of the node owning taskID.
func (idx *Index) NodeOf(taskID uuid.UUID) (uuid.UUID, bool) {
	id, ok := idx.nodeOfTask[taskID]
	return id, ok
}

// GatesFrom returns the gates whose source is nodeID.
func (idx *Index) GatesFrom(nodeID uuid.UUID) []truth.Gate { return idx.gatesBySrc[nodeID] }

// InboundGates returns the gates whose target is nodeID.
func (idx *Index) InboundGates(nodeID uuid.UUID) []truth.Gate { return idx.inbound[nodeID] }

// EntryNodes returns the snapshot's entry nodes.
func (idx *Index) EntryNodes() []*truth.Node {
	var out []*truth.Node
	for i := range idx.Snapshot.Nodes {
		if idx.Snapshot.Nodes[i].IsEntry {
			out = append(out, &idx.Snapshot.Nodes[i])
		}
	}
	return out
}

// successorSet returns the transitive successor set of nodeID as a
// membership set (useful for blockedScope arithmetic, §4.C rule 4). The
// node itself is not included: its TransitiveSuccessors list excludes it.
func (idx *Index) successorSet(nodeID uuid.UUID) map[uuid.UUID]struct{} {
	set := map[uuid.UUID]struct{}{}
	n := idx.Node(nodeID)
	if n == nil {
		return set
	}
	for _, id := range n.TransitiveSuccessors {
		set[id] = struct{}{}
	}
	return set
}
