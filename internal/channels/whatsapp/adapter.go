// Package whatsapp wires a real whatsmeow client into the gateway's channel
// adapter contract. A device session is persisted through whatsmeow's own
// SQLite-backed store, in its own SQLite file at Config.SessionDBPath,
// separate from the gateway's repository database. Pairing (QR scan) is outside the
// scope of an automated gateway start and is surfaced through QRChannel for
// an operator to consume.
package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"

	"github.com/agw/gateway/internal/channels"
	"github.com/agw/gateway/internal/models"
)

// Config holds the WhatsApp adapter's configuration.
type Config struct {
	// SessionDBPath is the sqlite file whatsmeow uses to persist device
	// pairing state.
	SessionDBPath string
}

// Adapter implements channels.FullAdapter for WhatsApp Business, backed by
// whatsmeow's multi-device protocol implementation.
type Adapter struct {
	cfg    Config
	store  *sqlstore.Container
	client *whatsmeow.Client

	mu      sync.RWMutex
	status  channels.Status
	inbound channels.InboundCallback

	qrChan chan string
}

// NewAdapter opens (or creates) the device store and constructs the
// whatsmeow client. The connection is not established until Start.
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", cfg.SessionDBPath), waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: get device: %w", err)
	}

	a := &Adapter{cfg: cfg, store: container, qrChan: make(chan string, 1)}
	a.client = whatsmeow.NewClient(device, waLog.Noop)
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelWhatsAppBusiness }

func (a *Adapter) SetInboundCallback(cb channels.InboundCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound = cb
}

// Start connects to WhatsApp. If the device is not yet paired, QR codes are
// published on QRChannel instead of the adapter blocking for a scan.
func (a *Adapter) Start(ctx context.Context) error {
	if a.client.Store.ID == nil {
		qrChan, err := a.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp: get QR channel: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					select {
					case a.qrChan <- evt.Code:
					default:
					}
				}
			}
		}()
	}

	if err := a.client.Connect(); err != nil {
		a.setStatus(channels.Status{Connected: false, Error: err.Error()})
		return fmt.Errorf("whatsapp: connect: %w", err)
	}
	a.setStatus(channels.Status{Connected: true, LastSeen: time.Now()})
	return nil
}

// Stop disconnects the whatsmeow client.
func (a *Adapter) Stop(ctx context.Context) error {
	a.client.Disconnect()
	a.setStatus(channels.Status{Connected: false})
	return nil
}

// QRChannel publishes pairing QR codes when the device is not yet logged in.
func (a *Adapter) QRChannel() <-chan string { return a.qrChan }

// Send delivers a text message to a WhatsApp JID. The target JID is carried
// in the message metadata under "whatsapp_jid", falling back to ChatID.
func (a *Adapter) Send(ctx context.Context, msg models.Message) error {
	peerID := msg.Metadata["whatsapp_jid"]
	if peerID == "" {
		peerID = msg.ChatID
	}
	jid, err := types.ParseJID(peerID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid jid %q: %w", peerID, err)
	}

	waMsg := &waE2E.Message{Conversation: proto.String(msg.Text)}
	if _, err := a.client.SendMessage(ctx, jid, waMsg); err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
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

func (a *Adapter) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		a.setStatus(channels.Status{Connected: true, LastSeen: time.Now()})
	case *events.Disconnected:
		a.setStatus(channels.Status{Connected: false, Error: "disconnected"})
	case *events.LoggedOut:
		a.setStatus(channels.Status{Connected: false, Error: "logged out"})
	case *events.Message:
		a.handleMessage(v)
	}
}

func (a *Adapter) handleMessage(evt *events.Message) {
	if evt.Info.Chat.Server == "broadcast" || evt.Message.GetConversation() == "" {
		return
	}

	a.mu.RLock()
	cb := a.inbound
	a.mu.RUnlock()
	if cb == nil {
		return
	}

	cb(context.Background(), models.Message{
		MsgID:     evt.Info.ID,
		ChatID:    evt.Info.Chat.String(),
		ChannelID: string(models.ChannelWhatsAppBusiness),
		SenderID:  evt.Info.Sender.String(),
		Text:      evt.Message.GetConversation(),
		Timestamp: evt.Info.Timestamp,
		Metadata:  map[string]string{"whatsapp_jid": evt.Info.Chat.String()},
	})
}
