package subscribers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/hooks"
)

type fakePoster struct {
	channel string
	called  bool
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	f.called = true
	return "ts", "channel", nil
}

func TestNotifier_PostsOnFlowCompletedAndFlowBlocked(t *testing.T) {
	poster := &fakePoster{}
	n := &Notifier{client: poster, channel: "#flows"}

	companyID, flowID := uuid.New(), uuid.New()
	err := n.HandleEvent(context.Background(), hooks.NewTaskStarted(companyID, flowID, uuid.New(), 1, time.Now()))
	require.NoError(t, err)
	assert.False(t, poster.called, "non-completion events must not post")

	err = n.HandleEvent(context.Background(), hooks.NewFlowCompleted(companyID, flowID, time.Now()))
	require.NoError(t, err)
	assert.True(t, poster.called)
	assert.Equal(t, "#flows", poster.channel)

	poster.called = false
	err = n.HandleEvent(context.Background(), hooks.NewFlowBlocked(companyID, flowID, time.Now()))
	require.NoError(t, err)
	assert.True(t, poster.called, "FLOW_BLOCKED must also notify")
}
