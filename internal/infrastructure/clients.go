package infrastructure

import (
	"context"

	"deliverybot/internal/entities"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackClient implements interfaces.ChatClient on the Slack Web API.
type SlackClient struct {
	API *slack.Client
	log *zap.Logger
}

// BotIdentity is the user and bot id the token belongs to. Messages from
// either are ignored by the dispatcher.
type BotIdentity struct {
	UserID string
	BotID  string
	Team   string
}

func NewSlackClient(botToken, appToken string, log *zap.Logger, options ...slack.Option) *SlackClient {
	if appToken != "" {
		options = append(options, slack.OptionAppLevelToken(appToken))
	}
	return &SlackClient{
		API: slack.New(botToken, options...),
		log: log.Named("slack"),
	}
}

// Identify calls auth.test to learn the bot identity.
func (c *SlackClient) Identify(ctx context.Context) (BotIdentity, error) {
	resp, err := c.API.AuthTestContext(ctx)
	if err != nil {
		return BotIdentity{}, entities.ChatCallError(err, "auth.test failed", nil)
	}
	c.log.Info("slack_authenticated",
		zap.String("team", resp.Team),
		zap.String("bot_user_id", resp.UserID),
		zap.String("bot_id", resp.BotID),
	)
	return BotIdentity{UserID: resp.UserID, BotID: resp.BotID, Team: resp.Team}, nil
}

func (c *SlackClient) PostMessage(ctx context.Context, channelID, text string, blocks []slack.Block) error {
	_, ts, err := c.API.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return entities.ChatCallError(err, "chat.postMessage failed", map[string]any{"channel": channelID})
	}
	c.log.Debug("slack_message_posted", zap.String("channel", channelID), zap.String("ts", ts))
	return nil
}

func (c *SlackClient) UpdateMessage(ctx context.Context, channelID, ts, text string, blocks []slack.Block) error {
	_, _, _, err := c.API.UpdateMessageContext(ctx, channelID, ts,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return entities.ChatCallError(err, "chat.update failed", map[string]any{
			"channel": channelID,
			"ts":      ts,
		})
	}
	return nil
}

func (c *SlackClient) OpenView(ctx context.Context, triggerID string, view slack.ModalViewRequest) error {
	if _, err := c.API.OpenViewContext(ctx, triggerID, view); err != nil {
		return entities.ChatCallError(err, "views.open failed", map[string]any{"callback_id": view.CallbackID})
	}
	return nil
}
