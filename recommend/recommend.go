// Package recommend implements component L: a pure function from one
// ActionableTask's enrichment context to a short, de-duplicated list of
// recommendations. Grounded on the teacher's
// features/policy/basic.Engine.filterAllowed de-dup-by-set technique
// (seen map[...]struct{}), adapted from filtering tool handles to
// filtering recommendation kinds.
package recommend

import "github.com/flowspec/engine/kernel"

// Severity is the urgency band a Recommendation carries.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

// Recommendation is one suggested next action (§4.L).
type Recommendation struct {
	Kind     string
	Href     string
	Severity Severity
	Reason   string
}

// Context is the enrichment input recommendations are derived from: one
// actionable task plus the signals and evidence state already computed
// for it. It carries no behavior of its own — recommend.Compute is the
// only function that reads it.
type Context struct {
	Task            kernel.ActionableTask
	EvidenceMissing bool
	JobID           string
	CustomerID      string
	IsOverdue       bool
}

// Compute returns at most 4 de-duplicated recommendations for ctx, in
// rule-declaration order (§4.L). A kind present in more than one rule
// output is emitted only once.
func Compute(ctx Context) []Recommendation {
	var out []Recommendation
	seen := map[string]struct{}{}

	add := func(r Recommendation) {
		if _, ok := seen[r.Kind]; ok {
			return
		}
		seen[r.Kind] = struct{}{}
		out = append(out, r)
	}

	if ctx.EvidenceMissing {
		add(Recommendation{Kind: "open_task", Severity: SeverityBlock, Reason: "evidence required before this task can be completed"})
	}
	if ctx.JobID != "" {
		add(Recommendation{Kind: "open_job", Href: "/jobs/" + ctx.JobID, Severity: SeverityInfo})
	}
	if ctx.CustomerID != "" {
		add(Recommendation{Kind: "open_customer", Href: "/customers/" + ctx.CustomerID, Severity: SeverityInfo})
	}
	if ctx.IsOverdue {
		add(Recommendation{Kind: "open_settings", Severity: SeverityWarn, Reason: "task is past its effective due date"})
	}

	if len(out) > 4 {
		out = out[:4]
	}
	return out
}
