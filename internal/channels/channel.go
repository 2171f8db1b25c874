// Package channels defines the adapter contract channel transports implement
// and a registry the Gateway uses to start, stop, and address them. Each
// concrete adapter (webchat, telegram, whatsapp_business, slack, discord)
// wraps a real transport client and reports its connection status; inbound
// delivery flows through the Gateway's ingest_inbound callback rather than a
// channel read; InboundWireable is how an adapter receives that callback.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/agw/gateway/internal/models"
)

// Adapter is the minimal contract every channel connector satisfies.
type Adapter interface {
	Type() models.ChannelType
}

// LifecycleAdapter adapters can be started and stopped by the Gateway.
type LifecycleAdapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboundAdapter adapters can deliver a message to the remote transport.
type OutboundAdapter interface {
	Send(ctx context.Context, msg models.Message) error
}

// InboundCallback is how an adapter hands a freshly received message to the
// Gateway. The Gateway passes its ingest_inbound closure to every adapter at
// Start.
type InboundCallback func(ctx context.Context, msg models.Message)

// Status reports an adapter's current connection state.
type Status struct {
	Connected bool      `json:"connected"`
	Error     string    `json:"error,omitempty"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
}

// FullAdapter aggregates every adapter capability a complete channel
// implementation offers.
type FullAdapter interface {
	Adapter
	LifecycleAdapter
	OutboundAdapter
}

// Registry tracks every configured adapter by channel type.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[models.ChannelType]Adapter
	outbound  map[models.ChannelType]OutboundAdapter
	lifecycle map[models.ChannelType]LifecycleAdapter
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[models.ChannelType]Adapter),
		outbound:  make(map[models.ChannelType]OutboundAdapter),
		lifecycle: make(map[models.ChannelType]LifecycleAdapter),
	}
}

// Register adds an adapter, indexing its optional capabilities.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := adapter.Type()
	r.adapters[t] = adapter

	if outbound, ok := adapter.(OutboundAdapter); ok {
		r.outbound[t] = outbound
	}
	if lifecycle, ok := adapter.(LifecycleAdapter); ok {
		r.lifecycle[t] = lifecycle
	}
}

// Get returns the adapter registered for a channel type.
func (r *Registry) Get(t models.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	return a, ok
}

// GetOutbound returns the outbound-capable adapter for a channel type, if any.
func (r *Registry) GetOutbound(t models.ChannelType) (OutboundAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.outbound[t]
	return a, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// StartAll starts every lifecycle-capable adapter, passing each the same
// inbound callback. It returns the first error encountered but still
// attempts to start the remaining adapters.
func (r *Registry) StartAll(ctx context.Context, cb InboundCallback) error {
	r.mu.RLock()
	lifecycles := make(map[models.ChannelType]LifecycleAdapter, len(r.lifecycle))
	for t, a := range r.lifecycle {
		lifecycles[t] = a
	}
	r.mu.RUnlock()

	var firstErr error
	for _, adapter := range lifecycles {
		if wireable, ok := adapter.(InboundWireable); ok {
			wireable.SetInboundCallback(cb)
		}
		if err := adapter.Start(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAll stops every lifecycle-capable adapter, returning the last error
// encountered, if any.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycles := make([]LifecycleAdapter, 0, len(r.lifecycle))
	for _, a := range r.lifecycle {
		lifecycles = append(lifecycles, a)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, adapter := range lifecycles {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// InboundWireable adapters accept the Gateway's inbound callback before
// Start is called.
type InboundWireable interface {
	SetInboundCallback(cb InboundCallback)
}
