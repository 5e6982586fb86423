package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"ProactiveInsights/internal/ports"
)

// Notifier posts secondary-attention insights and batch digests to a Slack channel.
type Notifier struct {
	client  *slack.Client
	channel string
}

var _ ports.Sender = (*Notifier)(nil)

// NewNotifier builds a bot-token client. Extra options (e.g. slack.OptionAPIURL)
// are passed through to the client.
func NewNotifier(botToken, channel string, opts ...slack.Option) *Notifier {
	return &Notifier{
		client:  slack.New(botToken, opts...),
		channel: channel,
	}
}

// Send posts the text without link unfurling.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.client == nil || n.channel == "" {
		return fmt.Errorf("slack notifier misconfigured")
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
