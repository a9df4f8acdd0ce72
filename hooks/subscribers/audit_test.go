package subscribers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/hooks"
)

type fakeStore struct {
	put []byte
}

func (f *fakeStore) Put(_ context.Context, content []byte) (string, error) {
	f.put = content
	return "deadbeef", nil
}

func (f *fakeStore) ValidateOwnership(_ context.Context, _ string, _ string) (bool, error) {
	return true, nil
}

func TestAudit_HandleEventPutsOneEnvelopePerEvent(t *testing.T) {
	store := &fakeStore{}
	a := NewAudit(store)

	companyID, flowID, taskID := uuid.New(), uuid.New(), uuid.New()
	err := a.HandleEvent(context.Background(), hooks.NewTaskDone(companyID, flowID, taskID, 1, "DONE", time.Now()))
	require.NoError(t, err)
	require.NotNil(t, store.put)

	var envelope auditEnvelope
	require.NoError(t, json.Unmarshal(store.put, &envelope))
	assert.Equal(t, flowID.String(), envelope.FlowID)
	assert.Equal(t, string(hooks.TaskDone), envelope.Type)
	assert.Equal(t, "DONE", envelope.Payload["outcome"])
}

func TestAudit_HandleEventCoversFlowBlocked(t *testing.T) {
	store := &fakeStore{}
	a := NewAudit(store)

	companyID, flowID := uuid.New(), uuid.New()
	err := a.HandleEvent(context.Background(), hooks.NewFlowBlocked(companyID, flowID, time.Now()))
	require.NoError(t, err)

	var envelope auditEnvelope
	require.NoError(t, json.Unmarshal(store.put, &envelope))
	assert.Equal(t, string(hooks.FlowBlocked), envelope.Type)
}
