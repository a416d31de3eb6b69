package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astrodev/telemetry-core/internal/device"
	"github.com/astrodev/telemetry-core/internal/infrastructure/config"
	"github.com/astrodev/telemetry-core/internal/infrastructure/logging"
	"github.com/astrodev/telemetry-core/internal/infrastructure/mqtt"
	"github.com/astrodev/telemetry-core/internal/ingest"
	"github.com/astrodev/telemetry-core/internal/settings"
)

// setupTestDB creates an in-memory SQLite database with the telemetry schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'sensor',
			status TEXT NOT NULL DEFAULT 'offline',
			battery REAL,
			wifi_rssi INTEGER,
			uptime INTEGER,
			free_heap INTEGER,
			ota_update TEXT NOT NULL DEFAULT '',
			last_seen TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE TABLE sensor_readings (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL REFERENCES devices(id),
			temperature REAL,
			humidity REAL,
			pressure REAL,
			battery REAL,
			sensor_data TEXT NOT NULL DEFAULT '{}',
			recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE TABLE device_status_history (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL REFERENCES devices(id),
			status TEXT NOT NULL,
			battery REAL,
			wifi_rssi INTEGER,
			uptime INTEGER,
			free_heap INTEGER,
			recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE TABLE protocol_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			settings TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		INSERT INTO protocol_settings (id, settings) VALUES (1, '{}');
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

type fakeForwarder struct{}

func (fakeForwarder) ForwardReading(context.Context, string, map[string]interface{}) []string {
	return []string{"firebase"}
}

func (fakeForwarder) ForwardStatus(context.Context, string, map[string]interface{}) []string {
	return nil
}

func (fakeForwarder) SendCommand(context.Context, string, string) error { return nil }

type fakeTester struct{ err error }

func (f *fakeTester) Test(mqtt.BrokerConfig) error { return f.err }

type testFixture struct {
	srv     *Server
	http    *httptest.Server
	db      *sql.DB
	devices device.Repository
	tester  *fakeTester
}

// testServer wires a Server over a real in-memory store with a fake
// broker tester and forwarder.
func testServer(t *testing.T) *testFixture {
	t.Helper()

	db := setupTestDB(t)
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	devices := device.NewSQLiteRepository(db)
	readings := device.NewSQLiteReadingRepository(db, nil)
	history := device.NewSQLiteStatusHistoryRepository(db, nil)
	settingsRepo := settings.NewSQLiteRepository(db)
	tester := &fakeTester{}

	wsCfg := config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 60}
	hub := NewHub(wsCfg, log)

	// The ingest router broadcasts through the same hub the /ws
	// endpoint serves, mirroring the wiring in main.
	router := ingest.NewRouter(ingest.RouterConfig{
		Devices:     devices,
		Readings:    readings,
		History:     history,
		Forwarder:   fakeForwarder{},
		Tester:      tester,
		Broadcaster: hub,
		Logger:      log,
	})

	srv, err := New(Deps{
		Config:      config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:          wsCfg,
		Logger:      log,
		Settings:    settingsRepo,
		Devices:     devices,
		Readings:    readings,
		History:     history,
		Version:     "test",
		Router:      router,
		ExternalHub: hub,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return &testFixture{srv: srv, http: ts, db: db, devices: devices, tester: tester}
}

func postBridge(t *testing.T, f *testFixture, body string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(f.http.URL+"/api/v1/bridge", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /bridge failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("response body not JSON: %v", err)
	}
	return resp, decoded
}

func TestHandleHealth(t *testing.T) {
	f := testServer(t)

	resp, err := http.Get(f.http.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleBridge_SensorData(t *testing.T) {
	f := testServer(t)
	if _, _, err := f.devices.Ensure(context.Background(), "d1"); err != nil {
		t.Fatalf("register device: %v", err)
	}

	resp, body := postBridge(t, f, `{"type":"sensor_data","device_id":"d1","temperature":25.5,"humidity":60}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, body)
	}
	if body["message"] != "Sensor data saved" {
		t.Errorf("message = %v", body["message"])
	}
	data, _ := body["data"].(map[string]any)
	if data["temperature"] != 25.5 {
		t.Errorf("data = %v, want temperature 25.5", data)
	}
	protocols, _ := body["forwarded_protocols"].([]any)
	if len(protocols) != 1 || protocols[0] != "firebase" {
		t.Errorf("forwarded_protocols = %v, want [firebase]", protocols)
	}
}

func TestHandleBridge_ValidationErrors(t *testing.T) {
	f := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"bogus"}`},
		{"missing device id", `{"type":"sensor_data","temperature":1}`},
		{"missing command", `{"type":"command","device_id":"d1"}`},
		{"missing status", `{"type":"device_status","device_id":"d1","battery":80}`},
		{"missing broker config", `{"type":"test_connection"}`},
		{"unregistered device status", `{"type":"device_status","device_id":"ghost","status":"online"}`},
		{"not json", `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postBridge(t, f, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %v)", resp.StatusCode, body)
			}
			if body["error"] == nil {
				t.Errorf("body %v carries no error message", body)
			}
		})
	}
}

func TestHandleBridge_DeviceStatus(t *testing.T) {
	f := testServer(t)
	if _, _, err := f.devices.Ensure(context.Background(), "d1"); err != nil {
		t.Fatalf("register device: %v", err)
	}

	resp, body := postBridge(t, f, `{"type":"device_status","device_id":"d1","status":"online","battery":80}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, body)
	}
	status, _ := body["status_data"].(map[string]any)
	if status["status"] != "online" {
		t.Errorf("status_data = %v, want status online", status)
	}
	if status["battery"] != 80.0 {
		t.Errorf("status_data battery = %v, want 80", status["battery"])
	}
}

func TestHandleBridge_ConnectionTimeout(t *testing.T) {
	f := testServer(t)
	f.tester.err = mqtt.ErrConnectTimeout

	resp, body := postBridge(t, f, `{"type":"test_connection","config":{"broker":"mqtt://broker.local:1883"}}`)
	if resp.StatusCode != http.StatusRequestTimeout {
		t.Errorf("status = %d, want 408 (body %v)", resp.StatusCode, body)
	}
	if body["code"] != "connection_timeout" {
		t.Errorf("code = %v, want connection_timeout", body["code"])
	}
}

func TestHandleBridge_InvalidBrokerURL(t *testing.T) {
	f := testServer(t)
	f.tester.err = mqtt.ErrInvalidBrokerURL

	resp, _ := postBridge(t, f, `{"type":"test_connection","config":{"broker":"ftp://broker.local:21"}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProtocolSettings_RoundTrip(t *testing.T) {
	f := testServer(t)

	doc := `{
		"mqtt": {"enabled": true, "broker": "mqtt://broker.local:1883",
			"topics": {"data": "iot/devices/+/data", "commands": "iot/devices/+/commands"}},
		"firebase": {"enabled": false},
		"modbus": {"enabled": true, "port": 502}
	}`
	req, err := http.NewRequest(http.MethodPut, f.http.URL+"/api/v1/settings/protocols", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	putResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT settings failed: %v", err)
	}
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", putResp.StatusCode)
	}

	getResp, err := http.Get(f.http.URL + "/api/v1/settings/protocols")
	if err != nil {
		t.Fatalf("GET settings failed: %v", err)
	}
	defer getResp.Body.Close()

	var got map[string]any
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	mqttDoc, _ := got["mqtt"].(map[string]any)
	if mqttDoc["enabled"] != true || mqttDoc["broker"] != "mqtt://broker.local:1883" {
		t.Errorf("mqtt = %v", mqttDoc)
	}
	// Unknown top-level sections must survive the round-trip untouched.
	modbus, _ := got["modbus"].(map[string]any)
	if modbus["port"] != 502.0 {
		t.Errorf("modbus = %v, want port 502 preserved", got["modbus"])
	}
}

func TestPutProtocolSettings_BadJSON(t *testing.T) {
	f := testServer(t)

	req, err := http.NewRequest(http.MethodPut, f.http.URL+"/api/v1/settings/protocols", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT settings failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeviceViews(t *testing.T) {
	f := testServer(t)
	if _, _, err := f.devices.Ensure(context.Background(), "d1"); err != nil {
		t.Fatalf("register device: %v", err)
	}
	if _, body := postBridge(t, f, `{"type":"sensor_data","device_id":"d1","temperature":20.5}`); body["message"] != "Sensor data saved" {
		t.Fatalf("seed reading failed: %v", body)
	}

	resp, err := http.Get(f.http.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET /devices failed: %v", err)
	}
	defer resp.Body.Close()
	var listBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&listBody); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listBody["count"] != 1.0 {
		t.Errorf("device count = %v, want 1", listBody["count"])
	}

	readResp, err := http.Get(f.http.URL + "/api/v1/devices/d1/readings")
	if err != nil {
		t.Fatalf("GET readings failed: %v", err)
	}
	defer readResp.Body.Close()
	var readBody map[string]any
	if err := json.NewDecoder(readResp.Body).Decode(&readBody); err != nil {
		t.Fatalf("decode readings: %v", err)
	}
	if readBody["count"] != 1.0 {
		t.Errorf("readings count = %v, want 1", readBody["count"])
	}

	missing, err := http.Get(f.http.URL + "/api/v1/devices/ghost")
	if err != nil {
		t.Fatalf("GET missing device failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", missing.StatusCode)
	}
}

func TestHandleBridge_BroadcastReachesSubscriber(t *testing.T) {
	f := testServer(t)
	if _, _, err := f.devices.Ensure(context.Background(), "d1"); err != nil {
		t.Fatalf("register device: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ingest.ChannelSensorUpdates}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe write failed: %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("subscribe ack read failed: %v", err)
	}
	if ack.Type != WSTypeResponse {
		t.Fatalf("ack type = %q, want response", ack.Type)
	}

	if _, body := postBridge(t, f, `{"type":"sensor_data","device_id":"d1","temperature":22.5}`); body["message"] != "Sensor data saved" {
		t.Fatalf("bridge post failed: %v", body)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("event read failed: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ingest.ChannelSensorUpdates {
		t.Errorf("event = %+v, want sensor-updates event", event)
	}
	payload, _ := event.Payload.(map[string]any)
	if payload["device_id"] != "d1" {
		t.Errorf("event payload = %v, want device_id d1", payload)
	}
}
