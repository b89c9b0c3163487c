package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/coreiot-gateway/internal/device"
	"github.com/nerrad567/coreiot-gateway/internal/gateway"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/config"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/coreiot-gateway/internal/protocol"
	"github.com/nerrad567/coreiot-gateway/internal/rpc"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// mockTransport implements gateway.Transport for testing.
type mockTransport struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	stall      bool
	sent       map[string][]string
}

func (m *mockTransport) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockTransport) Disconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) Publish(ctx context.Context, topic string, payload []byte) (mqtt.Ack, error) {
	m.mu.Lock()
	stall := m.stall
	m.mu.Unlock()
	if stall {
		<-ctx.Done()
		return mqtt.Ack{}, fmt.Errorf("%w: %w", mqtt.ErrTimeout, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[string][]string)
	}
	m.sent[topic] = append(m.sent[topic], string(payload))
	return mqtt.Ack{Topic: topic, AcceptedAt: time.Now()}, nil
}

func (m *mockTransport) published(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent[topic]...)
}

type mockBroker struct{ err error }

func (m mockBroker) HealthCheck(context.Context) error { return m.err }

type testEnv struct {
	srv       *Server
	transport *mockTransport
	store     *device.Store
}

// testServer creates a Server over a real gateway and store with a mock transport.
func testServer(t *testing.T, secret string) testEnv {
	t.Helper()

	log := logging.Discard()

	transport := &mockTransport{}
	store := device.NewStore()
	gw := gateway.New(config.GatewayConfig{
		SessionPolicy: config.SessionPersistent,
		AckTimeout:    50 * time.Millisecond,
		Attributes: []config.AttributeConfig{
			{Name: "interval", Kind: config.AttributeKindNumber},
		},
	}, transport, store)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: secret}},
		Logger:   log,
		Gateway:  gw,
		Store:    store,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return testEnv{srv: srv, transport: transport, store: store}
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) gateway.Result {
	t.Helper()
	var res gateway.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return res
}

func signToken(t *testing.T, method jwt.SigningMethod, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "operator",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

// ─── Health and Middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, "")
	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" || resp["broker"] != "not_configured" {
		t.Errorf("health = %v", resp)
	}
}

func TestHealth_BrokerState(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"connected", nil, "connected"},
		{"disconnected", mqtt.ErrNotConnected, "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, "")
			env.srv.broker = mockBroker{err: tt.err}

			w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if w.Code != http.StatusOK || resp["broker"] != tt.want {
				t.Errorf("code = %d, broker = %v, want %s", w.Code, resp["broker"], tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t, "")
	router := env.srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	w = do(t, router, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t, "")
	w := do(t, env.srv.buildRouter(), http.MethodOptions, "/api/v1/led", "", "Origin", "http://localhost:3000")

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, "")
	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNew_RequiresGatewayAndStore(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without gateway succeeded")
	}
	gw := gateway.New(config.GatewayConfig{}, &mockTransport{}, device.NewStore())
	if _, err := New(Deps{Gateway: gw}); err == nil {
		t.Error("New() without store succeeded")
	}
}

// ─── Auth ──────────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, testSecret, time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Token " + valid, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, "another-secret", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS512, testSecret, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"garbage", "Bearer not.a.token", http.StatusUnauthorized},
	}

	env := testServer(t, testSecret)
	router := env.srv.buildRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w *httptest.ResponseRecorder
			if tt.header == "" {
				w = do(t, router, http.MethodGet, "/api/v1/led", "")
			} else {
				w = do(t, router, http.MethodGet, "/api/v1/led", "", "Authorization", tt.header)
			}
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_HealthIsPublic(t *testing.T) {
	env := testServer(t, testSecret)
	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 without a token", w.Code)
	}
}

func TestAuth_WebSocketNeedsQueryToken(t *testing.T) {
	env := testServer(t, testSecret)
	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/ws", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ─── LED ───────────────────────────────────────────────────────────

func TestSetLED(t *testing.T) {
	env := testServer(t, "")
	router := env.srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/led", `{"state":"on"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decodeResult(t, w)
	if res.Status != gateway.StatusSuccess || res.Message != "LED turned ON" {
		t.Errorf("result = %+v", res)
	}
	if res.Data["ledState"] != true || res.Data["source"] != gateway.SourceAPI {
		t.Errorf("data = %v", res.Data)
	}

	if got := env.transport.published(protocol.TopicAttributes); len(got) != 1 || got[0] != `{"ledState":true}` {
		t.Errorf("published = %v", got)
	}
	rec, err := env.store.Get("ledState")
	if err != nil || rec.Value != true || !rec.Confirmed {
		t.Errorf("store = %+v, %v", rec, err)
	}
}

func TestSetLED_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no body", ""},
		{"invalid json", `{"state":`},
		{"missing state", `{}`},
		{"unrecognised state", `{"state":"maybe"}`},
		{"array state", `{"state":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, "")
			w := do(t, env.srv.buildRouter(), http.MethodPost, "/api/v1/led", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
			if env.store.Len() != 0 {
				t.Error("bad request reached the store")
			}
		})
	}
}

func TestSetLED_ConnectFailure(t *testing.T) {
	env := testServer(t, "")
	env.transport.connectErr = fmt.Errorf("%w: %w", mqtt.ErrConnect, mqtt.ErrAuthFailure)

	w := do(t, env.srv.buildRouter(), http.MethodPost, "/api/v1/led", `{"state":true}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	res := decodeResult(t, w)
	if res.Status != gateway.StatusError || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
	if env.store.Len() != 0 {
		t.Error("failed command left a value in the store")
	}
}

func TestSetLED_AckTimeout(t *testing.T) {
	env := testServer(t, "")
	env.store.Set("ledState", false, true)
	env.transport.stall = true

	w := do(t, env.srv.buildRouter(), http.MethodPost, "/api/v1/led", `{"state":true}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
	rec, _ := env.store.Get("ledState")
	if rec.Value != false || !rec.Confirmed {
		t.Errorf("store after timeout = %+v, want confirmed false", rec)
	}
}

func TestGetLED_NeverSet(t *testing.T) {
	env := testServer(t, "")
	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/led", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decodeResult(t, w)
	if v, ok := res.Data["ledState"]; !ok || v != nil {
		t.Errorf("ledState = %v (present %v), want null", v, ok)
	}
	if len(env.transport.published(protocol.TopicAttributes)) != 0 || env.transport.IsConnected() {
		t.Error("read touched the transport")
	}
}

func TestToggleLED(t *testing.T) {
	env := testServer(t, "")
	router := env.srv.buildRouter()

	for _, want := range []bool{true, false} {
		w := do(t, router, http.MethodPost, "/api/v1/led/toggle", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		res := decodeResult(t, w)
		if res.Data["ledState"] != want || res.Data["source"] != gateway.SourceToggle {
			t.Errorf("data = %v, want ledState %v", res.Data, want)
		}
	}
}

// ─── Attributes and Telemetry ──────────────────────────────────────

func TestSetAttribute(t *testing.T) {
	env := testServer(t, "")
	router := env.srv.buildRouter()

	w := do(t, router, http.MethodPut, "/api/v1/attributes/interval", `{"value":30}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	rec, err := env.store.Get("interval")
	if err != nil || rec.Value != int64(30) {
		t.Errorf("interval = %#v, %v", rec.Value, err)
	}

	w = do(t, router, http.MethodGet, "/api/v1/attributes/interval", "")
	res := decodeResult(t, w)
	if w.Code != http.StatusOK || res.Data["interval"] != float64(30) || res.Data["confirmed"] != true {
		t.Errorf("get = %d %+v", w.Code, res)
	}
}

func TestAttribute_Unknown(t *testing.T) {
	env := testServer(t, "")
	router := env.srv.buildRouter()

	if w := do(t, router, http.MethodGet, "/api/v1/attributes/colour", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET status = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodPut, "/api/v1/attributes/colour", `{"value":"red"}`); w.Code != http.StatusNotFound {
		t.Errorf("PUT status = %d, want 404", w.Code)
	}
}

func TestListAttributes(t *testing.T) {
	env := testServer(t, "")
	env.store.Set("ledState", true, true)
	env.store.Set("interval", int64(10), false)

	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/attributes", "")
	var resp struct {
		Attributes []device.AttributeRecord `json:"attributes"`
		Count      int                      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 || resp.Attributes[0].Name != "interval" || resp.Attributes[1].Name != "ledState" {
		t.Errorf("list = %+v", resp)
	}
}

func TestPublishTelemetry(t *testing.T) {
	env := testServer(t, "")
	router := env.srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/telemetry", `{"temperature":21.5,"humidity":40}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := env.transport.published(protocol.TopicTelemetry)
	if len(got) != 1 || got[0] != `{"humidity":40,"temperature":21.5}` {
		t.Errorf("telemetry = %v", got)
	}
	if env.store.Len() != 0 {
		t.Error("telemetry was stored")
	}

	if w := do(t, router, http.MethodPost, "/api/v1/telemetry", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty telemetry status = %d, want 400", w.Code)
	}
}

func TestPublishAttributes(t *testing.T) {
	env := testServer(t, "")

	w := do(t, env.srv.buildRouter(), http.MethodPost, "/api/v1/attributes", `{"firmware":"1.2.0"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	rec, err := env.store.Get("firmware")
	if err != nil || rec.Value != "1.2.0" || !rec.Confirmed {
		t.Errorf("firmware = %+v, %v", rec, err)
	}
}

func TestPublishAttributes_InvalidControllableValue(t *testing.T) {
	env := testServer(t, "")

	w := do(t, env.srv.buildRouter(), http.MethodPost, "/api/v1/attributes", `{"ledState":"banana"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := env.transport.published(protocol.Topics{}.Attributes()); len(got) != 0 {
		t.Errorf("published %v for rejected value", got)
	}
	if env.store.Len() != 0 {
		t.Errorf("store written for rejected value")
	}
}

func TestStatus(t *testing.T) {
	env := testServer(t, "")
	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/status", "")

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["connected"] != false || resp["session_policy"] != config.SessionPersistent {
		t.Errorf("status = %v", resp)
	}
}

func TestResultStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unrecognised input", gateway.ErrUnrecognizedInput, http.StatusBadRequest},
		{"unknown attribute", fmt.Errorf("%w: x", gateway.ErrUnknownAttribute), http.StatusNotFound},
		{"command timeout", fmt.Errorf("%w: %w", rpc.ErrCommandTimeout, mqtt.ErrTimeout), http.StatusGatewayTimeout},
		{"connect timeout", fmt.Errorf("%w: %w", mqtt.ErrConnect, mqtt.ErrConnectTimeout), http.StatusGatewayTimeout},
		{"auth failure", fmt.Errorf("%w: %w", mqtt.ErrConnect, mqtt.ErrAuthFailure), http.StatusBadGateway},
		{"publish failed", fmt.Errorf("%w: %w", rpc.ErrCommandPublishFailed, mqtt.ErrNotConnected), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := gateway.Result{Status: gateway.StatusError, Err: tt.err}
			if got := resultStatus(res); got != tt.want {
				t.Errorf("resultStatus() = %d, want %d", got, tt.want)
			}
		})
	}

	if got := resultStatus(gateway.Result{Status: gateway.StatusSuccess}); got != http.StatusOK {
		t.Errorf("success = %d, want 200", got)
	}
}

// ─── Server lifecycle ──────────────────────────────────────────────

func TestServer_StartClose(t *testing.T) {
	env := testServer(t, "")

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func testHub() *Hub {
	hub := NewHub(logging.Discard())
	hub.Serve(ChannelAttributeChanged, nil)
	return hub
}

// subscribedClient registers a connectionless client on hub.
func subscribedClient(t *testing.T, hub *Hub, channels ...string) *wsClient {
	t.Helper()
	c := newWSClient(hub, nil, "tester")
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	if !hub.add(c) {
		t.Fatal("hub refused client")
	}
	return c
}

// nextFrame returns the next queued frame for c.
func nextFrame(t *testing.T, c *wsClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.queue:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return WSMessage{}
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub()
	subscribed := subscribedClient(t, hub, ChannelAttributeChanged)
	other := subscribedClient(t, hub, "other")

	hub.Broadcast(ChannelAttributeChanged, map[string]any{"name": "ledState", "value": true})

	msg := nextFrame(t, subscribed)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelAttributeChanged {
		t.Errorf("message = %+v", msg)
	}
	select {
	case <-other.queue:
		t.Error("client on another channel received the event")
	default:
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub()
	c := subscribedClient(t, hub)

	if hub.ClientCount() != 1 {
		t.Errorf("after add count = %d, want 1", hub.ClientCount())
	}
	hub.remove(c)
	hub.remove(c)
	if hub.ClientCount() != 0 {
		t.Errorf("after remove count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	hub := testHub()
	c := subscribedClient(t, hub, ChannelAttributeChanged)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	select {
	case <-c.done:
	default:
		t.Error("client not closed on shutdown")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("count after shutdown = %d", hub.ClientCount())
	}
	if hub.add(newWSClient(hub, nil, "late")) {
		t.Error("hub accepted a client after shutdown")
	}

	// A closed client drops frames instead of blocking.
	c.close()
	hub.Broadcast(ChannelAttributeChanged, "ignored")
	c.enqueue([]byte("{}"))
}

func TestWSClient_Frames(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantType  string
		wantError string
		wantSub   bool
	}{
		{"ping", `{"type":"ping","id":"p"}`, WSTypePong, "", false},
		{"subscribe", `{"type":"subscribe","id":"s","payload":{"channels":["attribute.changed"]}}`, WSTypeResponse, "", true},
		{"unknown channel", `{"type":"subscribe","id":"s","payload":{"channels":["attribute.changed","gpio"]}}`, WSTypeError, "unknown channel: gpio", false},
		{"no channels", `{"type":"subscribe","id":"s","payload":{"channels":[]}}`, WSTypeError, "invalid subscribe payload", false},
		{"missing payload", `{"type":"unsubscribe","id":"u"}`, WSTypeError, "invalid unsubscribe payload", false},
		{"unknown type", `{"type":"publish","id":"x"}`, WSTypeError, "unknown message type: publish", false},
		{"not json", `{`, WSTypeError, "invalid JSON message", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := subscribedClient(t, testHub())

			c.handle([]byte(tt.frame))

			msg := nextFrame(t, c)
			if msg.Type != tt.wantType {
				t.Fatalf("reply = %+v, want type %s", msg, tt.wantType)
			}
			if tt.wantError != "" {
				body, _ := msg.Payload.(map[string]any)
				if body["message"] != tt.wantError {
					t.Errorf("error message = %v, want %q", body["message"], tt.wantError)
				}
			}
			if got := c.wants(ChannelAttributeChanged); got != tt.wantSub {
				t.Errorf("subscribed = %v, want %v", got, tt.wantSub)
			}
		})
	}
}

func TestWSClient_Unsubscribe(t *testing.T) {
	c := subscribedClient(t, testHub(), ChannelAttributeChanged)

	c.handle([]byte(`{"type":"unsubscribe","id":"u","payload":{"channels":["attribute.changed"]}}`))

	if msg := nextFrame(t, c); msg.Type != WSTypeResponse || msg.ID != "u" {
		t.Errorf("reply = %+v", msg)
	}
	if c.wants(ChannelAttributeChanged) {
		t.Error("still subscribed after unsubscribe")
	}
}

func TestWebSocket_RelaysAttributeChanges(t *testing.T) {
	env := testServer(t, testSecret)
	env.store.Set("interval", int64(10), true)
	env.store.SetOnChange(env.srv.relayAttributeChange)

	ts := httptest.NewServer(env.srv.buildRouter())
	defer ts.Close()

	token := signToken(t, jwt.SigningMethodHS256, testSecret, time.Now().Add(time.Hour))
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelAttributeChanged}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Payload struct {
			Subscribed []string                            `json:"subscribed"`
			Snapshot   map[string][]device.AttributeRecord `json:"snapshot"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("subscribe ack = %+v, %v", ack, err)
	}
	snap := ack.Payload.Snapshot[ChannelAttributeChanged]
	if len(snap) != 1 || snap[0].Name != "interval" {
		t.Errorf("subscribe snapshot = %+v, want the interval record", snap)
	}

	w := do(t, env.srv.buildRouter(), http.MethodPost, "/api/v1/led", `{"state":true}`,
		"Authorization", "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d", w.Code)
	}

	// The command path writes unconfirmed, then confirms.
	var last map[string]any
	for i := 0; i < 2; i++ {
		var ev struct {
			Type      string         `json:"type"`
			EventType string         `json:"event_type"`
			Payload   map[string]any `json:"payload"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON event %d: %v", i, err)
		}
		if ev.EventType != ChannelAttributeChanged {
			t.Fatalf("event = %+v", ev)
		}
		last = ev.Payload
	}
	if last["name"] != "ledState" || last["value"] != true || last["confirmed"] != true {
		t.Errorf("final event payload = %v", last)
	}
}

// dialAttributeChanges connects a WebSocket client to ts and subscribes it
// to attribute changes, consuming the subscribe reply.
func dialAttributeChanges(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	token := signToken(t, jwt.SigningMethodHS256, testSecret, time.Now().Add(time.Hour))
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelAttributeChanged}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse {
		t.Fatalf("subscribe ack = %+v, %v", ack, err)
	}
	return conn
}

func TestWebSocket_RelaysWithdrawnWrite(t *testing.T) {
	env := testServer(t, testSecret)
	env.store.SetOnChange(env.srv.relayAttributeChange)
	env.transport.stall = true

	ts := httptest.NewServer(env.srv.buildRouter())
	defer ts.Close()
	conn := dialAttributeChanges(t, ts)

	token := signToken(t, jwt.SigningMethodHS256, testSecret, time.Now().Add(time.Hour))
	w := do(t, env.srv.buildRouter(), http.MethodPost, "/api/v1/led", `{"state":true}`,
		"Authorization", "Bearer "+token)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("set status = %d, want 504", w.Code)
	}

	// The speculative value is followed by its withdrawal.
	var payloads []map[string]any
	for i := 0; i < 2; i++ {
		var ev struct {
			EventType string         `json:"event_type"`
			Payload   map[string]any `json:"payload"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON event %d: %v", i, err)
		}
		if ev.EventType != ChannelAttributeChanged {
			t.Fatalf("event type = %q", ev.EventType)
		}
		payloads = append(payloads, ev.Payload)
	}

	if payloads[0]["value"] != true || payloads[0]["deleted"] != nil {
		t.Errorf("speculative event = %v", payloads[0])
	}
	if payloads[1]["name"] != "ledState" || payloads[1]["deleted"] != true || payloads[1]["value"] != nil {
		t.Errorf("withdrawal event = %v", payloads[1])
	}
	if env.store.Len() != 0 {
		t.Errorf("store holds %d records after the failed write", env.store.Len())
	}
}
