// Package slack wires a real slack-go client into the gateway's channel
// adapter contract. Inbound delivery uses Socket Mode so the adapter needs
// no public webhook endpoint; outbound delivery posts via the Web API.
package slack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/agw/gateway/internal/channels"
	"github.com/agw/gateway/internal/models"
)

// Config holds the Slack adapter's configuration.
type Config struct {
	// BotToken is the xoxb- token used for Web API calls.
	BotToken string
	// AppToken is the xapp- token used to open a Socket Mode connection.
	AppToken string
}

// Adapter implements channels.FullAdapter for Slack.
type Adapter struct {
	cfg    Config
	client *slack.Client
	socket *socketmode.Client

	mu      sync.RWMutex
	status  channels.Status
	inbound channels.InboundCallback
	cancel  context.CancelFunc
}

// NewAdapter constructs a Slack adapter around a Socket Mode client.
func NewAdapter(cfg Config) *Adapter {
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(client)
	return &Adapter{cfg: cfg, client: client, socket: socket}
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelSlack }

func (a *Adapter) SetInboundCallback(cb channels.InboundCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound = cb
}

// Start opens the Socket Mode connection and begins dispatching events.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	go a.dispatchEvents(runCtx)
	go func() {
		if err := a.socket.Run(); err != nil {
			a.setStatus(channels.Status{Connected: false, Error: err.Error()})
		}
	}()

	a.setStatus(channels.Status{Connected: true, LastSeen: time.Now()})
	return nil
}

// Stop tears down the Socket Mode connection.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.setStatus(channels.Status{Connected: false})
	return nil
}

// Send posts a message to a Slack channel. The target channel ID is carried
// in the message metadata under "slack_channel", falling back to ChatID.
func (a *Adapter) Send(ctx context.Context, msg models.Message) error {
	channelID := msg.Metadata["slack_channel"]
	if channelID == "" {
		channelID = msg.ChatID
	}
	_, _, err := a.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(msg.Text, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Adapter) setStatus(s channels.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

func (a *Adapter) dispatchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			a.socket.Ack(*evt.Request)
			a.handleEventsAPI(evt)
		}
	}
}

func (a *Adapter) handleEventsAPI(evt socketmode.Event) {
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	msgEvent, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || msgEvent.BotID != "" {
		return
	}

	a.mu.RLock()
	cb := a.inbound
	a.mu.RUnlock()
	if cb == nil {
		return
	}

	cb(context.Background(), models.Message{
		MsgID:     fmt.Sprintf("%s:%s", msgEvent.Channel, msgEvent.TimeStamp),
		ChatID:    msgEvent.Channel,
		ChannelID: string(models.ChannelSlack),
		SenderID:  msgEvent.User,
		Text:      msgEvent.Text,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"slack_channel": msgEvent.Channel, "slack_ts": msgEvent.TimeStamp},
	})
}
