package wsserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/agw/gateway/internal/agent"
	"github.com/agw/gateway/internal/audit"
	"github.com/agw/gateway/internal/auth"
	"github.com/agw/gateway/internal/eventbus"
	"github.com/agw/gateway/internal/gateway"
	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/policy"
	"github.com/agw/gateway/internal/storage/memory"
)

func newTestServer(t *testing.T, authSvc *auth.Service) (*httptest.Server, *Server) {
	t.Helper()
	repo := memory.New()
	bus := eventbus.New(0)
	sink := gateway.NewEventSink(bus, repo, nil)
	polEngine := policy.New(models.DefaultPolicy())
	tools := agent.NewToolRegistry()
	approvals := agent.NewApprovalBroker()
	planner := agent.PlannerFunc(func(_ context.Context, _ []agent.Turn, _ []models.ToolSpec) (agent.PlanResult, error) {
		return agent.PlanResult{Content: "done"}, nil
	})
	engine := agent.NewEngine(tools, polEngine, sink, approvals, planner, nil, agent.EngineConfig{MaxSteps: 5, TimeoutS: 2 * time.Second})
	auditLog, err := audit.NewLogger(audit.Config{})
	require.NoError(t, err)

	gw := gateway.New(gateway.Deps{
		Repo: repo, Bus: bus, Policy: polEngine, Tools: tools, Engine: engine, AuditLog: auditLog,
	}, gateway.Config{})

	srv := New(gw, Options{Auth: authSvc, Version: "test"})
	ts := httptest.NewServer(srv.Handler("/ws", "/healthz", ""))
	return ts, srv
}

func dialWS(t *testing.T, ts *httptest.Server, headers map[string]string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	h := make(map[string][]string, len(headers))
	for k, v := range headers {
		h[k] = []string{v}
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	return conn
}

func TestHelloRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	defer ts.Close()
	conn := dialWS(t, ts, nil)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Frame{Type: "req", ID: "1", Method: "hello"}))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "res", resp.Type)
	require.Equal(t, "1", resp.ID)
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)
}

func TestUnknownMethodReturnsNoSuchMethod(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	defer ts.Close()
	conn := dialWS(t, ts, nil)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Frame{Type: "req", ID: "2", Method: "bogus.method"}))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.False(t, *resp.OK)
	require.Equal(t, CodeNoSuchMethod, resp.Err.Code)
}

func TestAgentRunThenEventStreamCarriesCompletion(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	defer ts.Close()
	conn := dialWS(t, ts, nil)
	defer conn.Close()

	payload, _ := json.Marshal(map[string]any{"chat_id": "c1", "channel_id": "webchat", "prompt": "hi"})
	require.NoError(t, conn.WriteJSON(Frame{Type: "req", ID: "3", Method: "agent.run", Payload: payload}))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.True(t, *resp.OK)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var evt Frame
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("reading event: %v", err)
		}
		if evt.Type == "evt" && evt.Event == models.EventRunCompleted {
			return
		}
	}
	t.Fatal("timed out waiting for run.completed event")
}

func TestConfigSetRejectsBadRequestShape(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	defer ts.Close()
	conn := dialWS(t, ts, nil)
	defer conn.Close()

	payload, _ := json.Marshal(map[string]any{"rate_limit_rps": "not-a-number"})
	require.NoError(t, conn.WriteJSON(Frame{Type: "req", ID: "4", Method: "config.set", Payload: payload}))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.False(t, *resp.OK)
	require.Equal(t, CodeBadRequest, resp.Err.Code)
}

func TestUnauthorizedConnectionIsRejected(t *testing.T) {
	authSvc := auth.NewService(auth.Config{Mode: auth.ModeAPIKey, APIKeys: []string{"secret"}})
	ts, _ := newTestServer(t, authSvc)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}

func TestAuthorizedConnectionSucceeds(t *testing.T) {
	authSvc := auth.NewService(auth.Config{Mode: auth.ModeAPIKey, APIKeys: []string{"secret"}})
	ts, _ := newTestServer(t, authSvc)
	defer ts.Close()

	conn := dialWS(t, ts, map[string]string{"X-API-Key": "secret"})
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Frame{Type: "req", ID: "5", Method: "hello"}))
	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.True(t, *resp.OK)
}
