package slack

import (
	"context"
	"testing"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/stretchr/testify/assert"

	"github.com/agw/gateway/internal/models"
)

func TestNewAdapterConstructsClient(t *testing.T) {
	a := NewAdapter(Config{BotToken: "xoxb-fake", AppToken: "xapp-fake"})
	assert.NotNil(t, a.client)
	assert.NotNil(t, a.socket)
	assert.False(t, a.Status().Connected)
}

func TestHandleEventsAPIForwardsMessage(t *testing.T) {
	a := NewAdapter(Config{BotToken: "xoxb-fake", AppToken: "xapp-fake"})

	var got models.Message
	a.SetInboundCallback(func(ctx context.Context, msg models.Message) { got = msg })

	a.handleEventsAPI(socketmode.Event{
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					Channel:   "C123",
					User:      "U456",
					Text:      "hello",
					TimeStamp: "1234.5678",
				},
			},
		},
	})

	assert.Equal(t, "C123", got.ChatID)
	assert.Equal(t, "U456", got.SenderID)
	assert.Equal(t, "hello", got.Text)
}

func TestHandleEventsAPIIgnoresBotMessages(t *testing.T) {
	a := NewAdapter(Config{BotToken: "xoxb-fake", AppToken: "xapp-fake"})

	called := false
	a.SetInboundCallback(func(ctx context.Context, msg models.Message) { called = true })

	a.handleEventsAPI(socketmode.Event{
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{Channel: "C123", BotID: "B1"},
			},
		},
	})
	assert.False(t, called)
}
