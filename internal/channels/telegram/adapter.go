// Package telegram wires a real go-telegram/bot client into the gateway's
// channel adapter contract using long polling.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/agw/gateway/internal/channels"
	"github.com/agw/gateway/internal/models"
)

// Config holds the Telegram adapter's configuration.
type Config struct {
	// Token is the bot token issued by @BotFather.
	Token string
}

// Adapter implements channels.FullAdapter for Telegram.
type Adapter struct {
	cfg Config
	bot *tgbot.Bot

	mu      sync.RWMutex
	status  channels.Status
	inbound channels.InboundCallback
	cancel  context.CancelFunc
}

// NewAdapter constructs a Telegram adapter and its underlying bot client.
func NewAdapter(cfg Config) (*Adapter, error) {
	a := &Adapter{cfg: cfg}
	b, err := tgbot.New(cfg.Token, tgbot.WithDefaultHandler(a.onUpdate))
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b
	return a, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelTelegram }

func (a *Adapter) SetInboundCallback(cb channels.InboundCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound = cb
}

// Start begins long-polling for updates in a background goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	go a.bot.Start(runCtx)
	a.setStatus(channels.Status{Connected: true, LastSeen: time.Now()})
	return nil
}

// Stop cancels the long-polling loop.
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

// Send delivers a text message to a Telegram chat. ChatID must be the
// numeric Telegram chat ID as a string.
func (a *Adapter) Send(ctx context.Context, msg models.Message) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	_, err = a.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: msg.Text})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
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

func (a *Adapter) onUpdate(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	a.mu.RLock()
	cb := a.inbound
	a.mu.RUnlock()
	if cb == nil {
		return
	}

	cb(ctx, models.Message{
		MsgID:     fmt.Sprintf("%d", update.Message.ID),
		ChatID:    fmt.Sprintf("%d", update.Message.Chat.ID),
		ChannelID: string(models.ChannelTelegram),
		SenderID:  fmt.Sprintf("%d", update.Message.From.ID),
		Text:      update.Message.Text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func parseChatID(raw string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", raw, err)
	}
	return id, nil
}
