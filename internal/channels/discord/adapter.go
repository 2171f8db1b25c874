// Package discord wires a real discordgo session into the gateway's channel
// adapter contract. It registers a message-create handler that forwards
// inbound guild/DM messages to the gateway's ingest_inbound callback, and
// sends outbound messages via the bot token's REST API.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/agw/gateway/internal/channels"
	"github.com/agw/gateway/internal/models"
)

// Config holds the Discord adapter's configuration.
type Config struct {
	// Token is the bot token from the Discord developer portal.
	Token string
}

// Adapter implements channels.FullAdapter for Discord.
type Adapter struct {
	cfg     Config
	session *discordgo.Session

	mu      sync.RWMutex
	status  channels.Status
	inbound channels.InboundCallback
}

// NewAdapter constructs a Discord adapter and its underlying discordgo
// session. The session is not opened until Start is called.
func NewAdapter(cfg Config) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

	a := &Adapter{cfg: cfg, session: session}
	session.AddHandler(a.onMessageCreate)
	return a, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelDiscord }

func (a *Adapter) SetInboundCallback(cb channels.InboundCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound = cb
}

// Start opens the gateway websocket connection.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		a.setStatus(channels.Status{Connected: false, Error: err.Error()})
		return fmt.Errorf("discord: open session: %w", err)
	}
	a.setStatus(channels.Status{Connected: true, LastSeen: time.Now()})
	return nil
}

// Stop closes the gateway websocket connection.
func (a *Adapter) Stop(ctx context.Context) error {
	err := a.session.Close()
	a.setStatus(channels.Status{Connected: false})
	return err
}

// Send posts a message to a Discord channel. The target channel ID is
// carried in the message metadata under "discord_channel_id".
func (a *Adapter) Send(ctx context.Context, msg models.Message) error {
	channelID := msg.Metadata["discord_channel_id"]
	if channelID == "" {
		channelID = msg.ChatID
	}
	_, err := a.session.ChannelMessageSend(channelID, msg.Text)
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
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

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	a.mu.RLock()
	cb := a.inbound
	a.mu.RUnlock()
	if cb == nil {
		return
	}

	cb(context.Background(), models.Message{
		MsgID:     m.ID,
		ChatID:    m.ChannelID,
		ChannelID: string(models.ChannelDiscord),
		SenderID:  m.Author.ID,
		Text:      m.Content,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"discord_channel_id": m.ChannelID},
	})
}
