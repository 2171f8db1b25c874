// Package wsschema compiles and validates the JSON Schema documents for
// every control-plane request method, grounded on the teacher's
// internal/gateway/ws_schema.go: schemas are compiled once via sync.Once
// using santhosh-tekuri/jsonschema/v5, then reused for every connection.
package wsschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type registry struct {
	once    sync.Once
	initErr error
	methods map[string]*jsonschema.Schema
}

var reg registry

func initSchemas() error {
	reg.once.Do(func() {
		reg.methods = make(map[string]*jsonschema.Schema, len(methodSchemas))
		for name, schema := range methodSchemas {
			compiled, err := jsonschema.CompileString("ws_"+name, schema)
			if err != nil {
				reg.initErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			reg.methods[name] = compiled
		}
	})
	return reg.initErr
}

// ValidatePayload validates raw against the schema registered for method.
// A method with no registered schema is accepted as-is; a nil/empty raw is
// validated as an empty object.
func ValidatePayload(method string, raw json.RawMessage) error {
	if err := initSchemas(); err != nil {
		return err
	}
	schema, ok := reg.methods[method]
	if !ok {
		return nil
	}
	var payload any
	if len(raw) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invalid payload json: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("payload validation: %w", err)
	}
	return nil
}

var methodSchemas = map[string]string{
	"hello": `{
  "type": "object",
  "additionalProperties": true
}`,
	"channels.list": `{
  "type": "object",
  "additionalProperties": true
}`,
	"chat.list": `{
  "type": "object",
  "properties": {
    "channel_id": { "type": "string" }
  },
  "additionalProperties": true
}`,
	"chat.messages": `{
  "type": "object",
  "required": ["chat_id"],
  "properties": {
    "chat_id": { "type": "string", "minLength": 1 },
    "limit": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": true
}`,
	"agent.run": `{
  "type": "object",
  "required": ["chat_id", "channel_id", "prompt"],
  "properties": {
    "chat_id": { "type": "string", "minLength": 1 },
    "channel_id": { "type": "string", "minLength": 1 },
    "requested_by": { "type": "string" },
    "prompt": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`,
	"runs.tail": `{
  "type": "object",
  "properties": {
    "run_id": { "type": ["string", "null"] },
    "after_seq": { "type": "integer", "minimum": 0 },
    "limit": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": true
}`,
	"config.get": `{
  "type": "object",
  "additionalProperties": true
}`,
	"config.set": `{
  "type": "object",
  "properties": {
    "allowlist": { "type": "object" },
    "dm_policy": { "type": "string" },
    "group_policy": { "type": "string" },
    "tool_allow": { "type": "object" },
    "require_approvals_for_write_tools": { "type": "boolean" },
    "rate_limit_rps": { "type": "number" },
    "rate_limit_burst": { "type": "integer" }
  },
  "additionalProperties": true
}`,
	"doctor.audit": `{
  "type": "object",
  "additionalProperties": true
}`,
	"approval.grant": `{
  "type": "object",
  "required": ["run_id"],
  "properties": {
    "run_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`,
}
