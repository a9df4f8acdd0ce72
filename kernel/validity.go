// Package kernel implements the derived-state computations of §4.C: pure
// functions over a Flow's Truth rows and its bound WorkflowVersion
// snapshot. Nothing here performs I/O — callers load Truth and the
// snapshot through truth.Store and pass the data in. This package must
// never import truth.Store (only the plain value types) or any hooks/
// telemetry/store package; see purity_test.go for the static guard.
package kernel

import (
	"sort"

	"github.com/google/uuid"
	"github.com/flowspec/engine/truth"
)

// ComputeValidityMap reduces a set of ValidityEvents to the latest-wins
// verdict per TaskExecution, tie-breaking by (CreatedAt DESC, ID DESC).
// A TaskExecution with no event is implicitly VALID (§3 ValidityEvent,
// "Absence ⇒ VALID").
func ComputeValidityMap(events []truth.ValidityEvent) map[uuid.UUID]truth.ValidityState {
	latest := make(map[uuid.UUID]truth.ValidityEvent, len(events))
	for _, e := range events {
		cur, ok := latest[e.TaskExecutionID]
		if !ok || isLater(e, cur) {
			latest[e.TaskExecutionID] = e
		}
	}
	out := make(map[uuid.UUID]truth.ValidityState, len(latest))
	for id, e := range latest {
		out[id] = e.State
	}
	return out
}

// isLater reports whether a should win over b under the
// (CreatedAt DESC, ID DESC) tiebreak.
func isLater(a, b truth.ValidityEvent) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return compareUUID(a.ID, b.ID) > 0
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ValidityOf returns the effective state for a task execution, honoring
// absence-is-VALID.
func ValidityOf(m map[uuid.UUID]truth.ValidityState, executionID uuid.UUID) truth.ValidityState {
	if s, ok := m[executionID]; ok {
		return s
	}
	return truth.Valid
}

// sortedUUIDs returns the members of an id set in ascending byte order,
// for deterministic iteration.
func sortedUUIDs(in map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(in))
	for id := range in {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return compareUUID(out[i], out[j]) < 0 })
	return out
}
