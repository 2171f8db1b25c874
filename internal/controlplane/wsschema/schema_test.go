package wsschema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePayloadAcceptsWellFormedAgentRun(t *testing.T) {
	raw := json.RawMessage(`{"chat_id":"c1","channel_id":"webchat","prompt":"hi"}`)
	require.NoError(t, ValidatePayload("agent.run", raw))
}

func TestValidatePayloadRejectsMissingRequiredField(t *testing.T) {
	raw := json.RawMessage(`{"chat_id":"c1","channel_id":"webchat"}`)
	err := ValidatePayload("agent.run", raw)
	assert.Error(t, err)
}

func TestValidatePayloadRejectsWrongType(t *testing.T) {
	raw := json.RawMessage(`{"chat_id":"c1","channel_id":"webchat","prompt":123}`)
	assert.Error(t, ValidatePayload("agent.run", raw))
}

func TestValidatePayloadUnknownMethodIsAccepted(t *testing.T) {
	require.NoError(t, ValidatePayload("some.unregistered.method", json.RawMessage(`{"anything":true}`)))
}

func TestValidatePayloadEmptyPayloadTreatedAsEmptyObject(t *testing.T) {
	err := ValidatePayload("chat.messages", nil)
	assert.Error(t, err) // chat_id is required
}

func TestValidatePayloadApprovalGrantRequiresRunID(t *testing.T) {
	assert.Error(t, ValidatePayload("approval.grant", json.RawMessage(`{}`)))
	assert.NoError(t, ValidatePayload("approval.grant", json.RawMessage(`{"run_id":"r1"}`)))
}
