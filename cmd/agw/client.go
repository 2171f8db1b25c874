package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wireFrame mirrors internal/controlplane/wsserver.Frame without importing
// the server package's internal types; the CLI only ever needs to
// marshal/unmarshal the wire shape.
type wireFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Err     *wireError      `json:"err,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsClient is a minimal control-plane client: one request in flight at a
// time, matched by frame ID, with every non-matching frame (an event pushed
// between requests) handed to an optional onEvent callback.
type wsClient struct {
	conn    *websocket.Conn
	counter int64
	onEvent func(wireFrame)
}

func dialControlPlane(addr, apiKey string) (*wsClient, error) {
	url := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + url
	}
	url += "/ws"

	header := make(map[string][]string)
	if apiKey != "" {
		header["X-API-Key"] = []string{apiKey}
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial control plane: %w", err)
	}
	return &wsClient{conn: conn}, nil
}

func (c *wsClient) Close() error { return c.conn.Close() }

func (c *wsClient) nextID() string {
	return fmt.Sprintf("cli-%d", atomic.AddInt64(&c.counter, 1))
}

// call sends a request frame and blocks until the matching response arrives
// or timeout elapses, decoding its payload into out (ignored if nil).
func (c *wsClient) call(method string, params any, out any, timeout time.Duration) error {
	id := c.nextID()
	var payload json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		payload = data
	}

	if err := c.conn.WriteJSON(wireFrame{Type: "req", ID: id, Method: method, Payload: payload}); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("timed out waiting for response to %s", method)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(remaining))

		var frame wireFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if frame.Type == "evt" {
			if c.onEvent != nil {
				c.onEvent(frame)
			}
			continue
		}
		if frame.Type != "res" || frame.ID != id {
			continue
		}
		if frame.OK == nil || !*frame.OK {
			if frame.Err != nil {
				return fmt.Errorf("%s: %s: %s", method, frame.Err.Code, frame.Err.Message)
			}
			return fmt.Errorf("%s failed", method)
		}
		if out == nil || len(frame.Payload) == 0 {
			return nil
		}
		return json.Unmarshal(frame.Payload, out)
	}
}

// streamEvents reads frames until the until deadline passes, forwarding every
// "evt" frame to fn. Used by the run and events commands to tail the live
// stream; it does not stop early on a run.completed event.
func (c *wsClient) streamEvents(until time.Time, fn func(wireFrame)) error {
	for {
		remaining := time.Until(until)
		if remaining <= 0 {
			return nil
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(remaining))
		var frame wireFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err) {
				return nil
			}
			return err
		}
		if frame.Type == "evt" {
			fn(frame)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
