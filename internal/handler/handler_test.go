package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-device/internal/config"
	"serial-device/internal/device"
	"serial-device/internal/discovery"
	"serial-device/internal/metrics"
	"serial-device/internal/model"
	"serial-device/internal/protocol/protocoltest"
	"serial-device/internal/service"
	"serial-device/internal/utils"
)

type fixture struct {
	bus     *protocoltest.Bus
	service *service.DeviceService
	events  *EventBus
	ws      *WebSocketHandler
	engine  *gin.Engine
}

func newFixture(t *testing.T, bus *protocoltest.Bus) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		App: config.AppConfig{Name: "serial-device", Version: "test"},
		Device: config.DeviceConfig{
			BaudRate:    115200,
			Terminator:  protocoltest.EOT,
			Encoding:    "utf-8",
			Timeout:     30 * time.Millisecond,
			ScanOnStart: true,
		},
	}

	manager, err := device.NewManager(device.OptionsFromConfig(cfg.Device), zap.NewNop(),
		device.WithOpener(bus.Open),
		device.WithPortSource(discovery.StaticSource(bus.Names())),
	)
	require.NoError(t, err)

	events := NewEventBus(zap.NewNop())
	go events.Start()

	svc := service.NewDeviceService(manager, metrics.New(), events, cfg.Device, zap.NewNop())
	ws := NewWebSocketHandler(svc, events, nil, zap.NewNop())

	engine := gin.New()
	NewHealthHandler(svc, cfg, zap.NewNop()).RegisterRoutes(engine)
	api := engine.Group("/api/v1")
	NewDeviceHandler(svc, zap.NewNop()).RegisterRoutes(api)
	NewDiscoveryHandler(svc, zap.NewNop()).RegisterRoutes(api)
	ws.RegisterRoutes(engine.Group("/ws"))

	t.Cleanup(func() {
		ws.Close()
		events.Stop()
		svc.Shutdown()
	})

	return &fixture{bus: bus, service: svc, events: events, ws: ws, engine: engine}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, utils.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var resp utils.APIResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func dataMap(t *testing.T, resp utils.APIResponse) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "response data is %T", resp.Data)
	return data
}

func TestDeviceEndpoints(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	f := newFixture(t, bus)

	w, resp := f.do(t, http.MethodPost, "/api/v1/discovery/scan", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"DEV-1"}, dataMap(t, resp)["devices"])

	w, resp = f.do(t, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, dataMap(t, resp)["count"])

	w, resp = f.do(t, http.MethodGet, "/api/v1/devices/DEV-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, dataMap(t, resp)["open"])

	w, resp = f.do(t, http.MethodPost, "/api/v1/devices/DEV-1/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataMap(t, resp)["open"])

	w, resp = f.do(t, http.MethodPost, "/api/v1/devices/DEV-1/cmd", `{"payload":"hello","flush":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", dataMap(t, resp)["reply"])

	w, resp = f.do(t, http.MethodPost, "/api/v1/devices/DEV-1/send", `{"payload":"again"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataMap(t, resp)["sent"])

	w, resp = f.do(t, http.MethodGet, "/api/v1/devices/DEV-1/recv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "again", dataMap(t, resp)["payload"])
	assert.Equal(t, "ok", dataMap(t, resp)["status"])

	w, _ = f.do(t, http.MethodPost, "/api/v1/devices/DEV-1/flush", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = f.do(t, http.MethodPost, "/api/v1/devices/DEV-1/close", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, dataMap(t, resp)["open"])
}

func TestUnknownDeviceReturns404(t *testing.T) {
	f := newFixture(t, protocoltest.NewBus())

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/devices/ghost", ""},
		{http.MethodPost, "/api/v1/devices/ghost/open", ""},
		{http.MethodPost, "/api/v1/devices/ghost/close", ""},
		{http.MethodPost, "/api/v1/devices/ghost/send", `{"payload":"x"}`},
		{http.MethodGet, "/api/v1/devices/ghost/recv", ""},
		{http.MethodPost, "/api/v1/devices/ghost/cmd", `{"payload":"x"}`},
		{http.MethodPost, "/api/v1/devices/ghost/flush", ""},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w, resp := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "NOT_FOUND", resp.Error.Code)
		})
	}
}

func TestInvalidBodyReturns400(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	f := newFixture(t, bus)
	_, err := f.service.Scan(context.Background())
	require.NoError(t, err)

	w, _ := f.do(t, http.MethodPost, "/api/v1/devices/DEV-1/send", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteTimeoutReturns504(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	f := newFixture(t, bus)
	_, err := f.service.Scan(context.Background())
	require.NoError(t, err)

	bus.Attach("/dev/ttyUSB0", protocoltest.Device{StuckWrite: true})
	w, _ := f.do(t, http.MethodPost, "/api/v1/devices/DEV-1/open", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := f.do(t, http.MethodPost, "/api/v1/devices/DEV-1/send", `{"payload":"x"}`)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "DEVICE_TIMEOUT", resp.Error.Code)
}

func TestListPortsEndpoint(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Silent())
	bus.Attach("/dev/ttyUSB1", protocoltest.Silent())
	f := newFixture(t, bus)

	w, resp := f.do(t, http.MethodGet, "/api/v1/discovery/ports", "")
	require.Equal(t, http.StatusOK, w.Code)
	ports, ok := dataMap(t, resp)["ports"].([]interface{})
	require.True(t, ok)
	require.Len(t, ports, 2)
	assert.Equal(t, "/dev/ttyUSB1", ports[0].(map[string]interface{})["name"])
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, protocoltest.NewBus())

	w, _ := f.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	_, err := f.service.Scan(context.Background())
	require.NoError(t, err)

	w, _ = f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "serial-device", health.Service)
	assert.Contains(t, health.Checks, "registry")
	assert.Contains(t, health.Checks, "scanner")
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()
	defer bus.Stop()

	all, cancelAll := bus.Subscribe()
	defer cancelAll()
	opened, cancelOpened := bus.Subscribe(model.EventDeviceOpened)

	bus.Publish(model.NewDeviceEvent(model.EventScanCompleted, "", model.SeverityInfo, nil))
	bus.Publish(model.NewDeviceEvent(model.EventDeviceOpened, "DEV-1", model.SeverityInfo, nil))

	first := receive(t, all)
	second := receive(t, all)
	assert.Equal(t, model.EventScanCompleted, first.Type)
	assert.Equal(t, model.EventDeviceOpened, second.Type)

	only := receive(t, opened)
	assert.Equal(t, model.EventDeviceOpened, only.Type)
	assert.Equal(t, "DEV-1", only.Device)

	cancelOpened()
	_, ok := <-opened
	assert.False(t, ok)
	cancelOpened()
}

func receive(t *testing.T, ch <-chan model.DeviceEvent) model.DeviceEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return model.DeviceEvent{}
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	f := newFixture(t, bus)

	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "initial_status", msg.Type)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping", RequestID: "r1"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "r1", msg.RequestID)

	_, err = f.service.Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "device_event", msg.Type)
	event, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(model.EventScanCompleted), event["type"])
	assert.Equal(t, 1, f.ws.GetConnectionStats().TotalConnections)
}

func TestWebSocketTypeFilter(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	f := newFixture(t, bus)

	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?type=device.opened"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "initial_status", msg.Type)

	_, err = f.service.Scan(context.Background())
	require.NoError(t, err)
	_, err = f.service.OpenDevice("DEV-1")
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&msg))
	event, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(model.EventDeviceOpened), event["type"])
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	req.Header.Set("Origin", "http://evil.example")

	assert.True(t, checkOrigin(nil)(req))
	assert.False(t, checkOrigin([]string{"http://ok.example"})(req))
	assert.True(t, checkOrigin([]string{"http://evil.example"})(req))
}
