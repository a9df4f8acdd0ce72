package recommend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/recommend"
)

func TestCompute_EvidenceMissingProducesBlockingOpenTask(t *testing.T) {
	out := recommend.Compute(recommend.Context{EvidenceMissing: true})
	require.Len(t, out, 1)
	assert.Equal(t, "open_task", out[0].Kind)
	assert.Equal(t, recommend.SeverityBlock, out[0].Severity)
}

func TestCompute_AllRulesFireInOrderAndDeduplicate(t *testing.T) {
	out := recommend.Compute(recommend.Context{
		EvidenceMissing: true,
		JobID:           "job-1",
		CustomerID:      "cust-1",
		IsOverdue:       true,
	})
	require.Len(t, out, 4)
	kinds := []string{out[0].Kind, out[1].Kind, out[2].Kind, out[3].Kind}
	assert.Equal(t, []string{"open_task", "open_job", "open_customer", "open_settings"}, kinds)
}

func TestCompute_NoSignalsProducesNoRecommendations(t *testing.T) {
	assert.Empty(t, recommend.Compute(recommend.Context{}))
}

func TestCompute_OverdueAloneWarns(t *testing.T) {
	out := recommend.Compute(recommend.Context{IsOverdue: true})
	require.Len(t, out, 1)
	assert.Equal(t, "open_settings", out[0].Kind)
	assert.Equal(t, recommend.SeverityWarn, out[0].Severity)
}
