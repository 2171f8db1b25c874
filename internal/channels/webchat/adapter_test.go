package webchat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agw/gateway/internal/models"
)

func TestAdapterDeliverInvokesInboundCallback(t *testing.T) {
	a := NewAdapter()
	var got models.Message
	a.SetInboundCallback(func(ctx context.Context, msg models.Message) { got = msg })

	a.Deliver(context.Background(), models.Message{MsgID: "m1", Text: "hi"})
	assert.Equal(t, "m1", got.MsgID)
}

func TestAdapterSendRecordsOutbox(t *testing.T) {
	a := NewAdapter()
	require.NoError(t, a.Send(context.Background(), models.Message{MsgID: "m1"}))
	require.NoError(t, a.Send(context.Background(), models.Message{MsgID: "m2"}))

	out := a.Outbox()
	assert.Len(t, out, 2)
	assert.Empty(t, a.Outbox())
}

func TestAdapterStartStopTogglesStatus(t *testing.T) {
	a := NewAdapter()
	assert.True(t, a.Status().Connected)
	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, a.Status().Connected)
	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Status().Connected)
}
