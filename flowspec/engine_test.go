package flowspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/hooks"
	"github.com/flowspec/engine/telemetry"
)

func TestNew_WiresDefaultsWithoutOptions(t *testing.T) {
	e := New()
	require.NotNil(t, e)
	assert.NotNil(t, e.Bus())
	assert.NotNil(t, e.exec)
	assert.NotNil(t, e.fanOut)
	assert.NotNil(t, e.instantiate)
	assert.NotNil(t, e.lifecycleCtl)
	assert.NotNil(t, e.policy)
	assert.NotNil(t, e.detour)
	assert.NotNil(t, e.impact)
}

func TestNew_HonorsCustomHookBus(t *testing.T) {
	bus := hooks.NewBus(telemetry.NewNoopLogger())
	e := New(WithHookBus(bus))
	assert.Same(t, bus, e.Bus())
}

func TestNew_HonorsCustomTelemetry(t *testing.T) {
	logger := telemetry.NewNoopLogger()
	e := New(WithLogger(logger), WithMetrics(telemetry.NewNoopMetrics()), WithTracer(telemetry.NewNoopTracer()))
	assert.NotNil(t, e.logger)
	assert.NotNil(t, e.metrics)
	assert.NotNil(t, e.tracer)
}

func TestNew_HonorsImpactAnalysisRateOption(t *testing.T) {
	e := New(WithImpactAnalysisRate(42))
	require.NotNil(t, e.impact)
}
