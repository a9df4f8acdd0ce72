package subscribers

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/flowspec/engine/hooks"
)

// poster is the narrow slack.Client surface Notifier needs, letting
// tests swap in a fake without reaching Slack's API.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts a one-line message to a fixed Slack channel for
// FLOW_COMPLETED and FLOW_BLOCKED events. Other event types are ignored —
// the spec singles out those two moments as notification-worthy, not
// every task transition.
type Notifier struct {
	client  poster
	channel string
}

// NewNotifier builds a Notifier posting to channel using a client
// authenticated with token.
func NewNotifier(token, channel string) *Notifier {
	return &Notifier{client: slack.New(token), channel: channel}
}

// HandleEvent implements hooks.Subscriber.
func (n *Notifier) HandleEvent(ctx context.Context, event hooks.Event) error {
	var text string
	switch e := event.(type) {
	case hooks.FlowCompletedEvent:
		text = fmt.Sprintf("flow %s completed", e.FlowIDValue())
	case hooks.FlowBlockedEvent:
		text = fmt.Sprintf("flow %s blocked", e.FlowIDValue())
	default:
		return nil
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	return err
}
