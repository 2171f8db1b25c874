// Package webchat implements the built-in, in-process channel used by the
// embedded UI and the CLI's `chats`/`run` commands. It has no external
// transport: Send just records the outbound message so tests and the local
// UI can read it back.
package webchat

import (
	"context"
	"sync"

	"github.com/agw/gateway/internal/channels"
	"github.com/agw/gateway/internal/models"
)

// Adapter is the always-on loopback channel. There is exactly one instance
// per gateway; it reports connected from construction until Stop.
type Adapter struct {
	mu       sync.Mutex
	inbound  channels.InboundCallback
	outbox   []models.Message
	status   channels.Status
}

// NewAdapter constructs a webchat Adapter.
func NewAdapter() *Adapter {
	return &Adapter{status: channels.Status{Connected: true}}
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelWebchat }

func (a *Adapter) SetInboundCallback(cb channels.InboundCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound = cb
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.status = channels.Status{Connected: true}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.status = channels.Status{Connected: false}
	a.mu.Unlock()
	return nil
}

// Send records an outbound message for retrieval by the UI/CLI.
func (a *Adapter) Send(ctx context.Context, msg models.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outbox = append(a.outbox, msg)
	return nil
}

// Deliver is how the embedded UI/CLI feeds a user-typed message into the
// gateway; it calls the inbound callback the Gateway wired at Start.
func (a *Adapter) Deliver(ctx context.Context, msg models.Message) {
	a.mu.Lock()
	cb := a.inbound
	a.mu.Unlock()
	if cb != nil {
		cb(ctx, msg)
	}
}

// Outbox returns every message sent since the last call and clears it.
func (a *Adapter) Outbox() []models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.outbox
	a.outbox = nil
	return out
}

func (a *Adapter) Status() channels.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}
