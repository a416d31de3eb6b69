package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/astrodev/telemetry-core/internal/device"
	"github.com/astrodev/telemetry-core/internal/infrastructure/logging"
	"github.com/astrodev/telemetry-core/internal/infrastructure/mqtt"
)

// Broadcast channels consumed by WebSocket subscribers.
const (
	ChannelSensorUpdates = "sensor-updates"
	ChannelDeviceUpdates = "device-updates"
	ChannelBridgeLog     = "bridge-log"
)

// Broadcaster fans events out to realtime subscribers. Delivery is
// at-most-once with no replay; the router never blocks on it.
type Broadcaster interface {
	Broadcast(channel string, event interface{})
}

// Forwarder pushes accepted telemetry to secondary protocols and
// delivers operator commands. Forwarding is best-effort: failures are
// reported through logs, never through the ingest response.
type Forwarder interface {
	// ForwardReading forwards a saved reading, returning the protocols
	// that were actually attempted.
	ForwardReading(ctx context.Context, deviceID string, data map[string]interface{}) []string

	// ForwardStatus forwards an accepted status update, returning the
	// protocols that were actually attempted.
	ForwardStatus(ctx context.Context, deviceID string, data map[string]interface{}) []string

	// SendCommand publishes a command to the device's command topic.
	SendCommand(ctx context.Context, deviceID, command string) error
}

// ConnectionTester runs a bounded broker connection test. Satisfied by
// mqtt.Manager.
type ConnectionTester interface {
	Test(cfg mqtt.BrokerConfig) error
}

// Mirror receives accepted telemetry for long term retention. Writes
// are fire-and-forget; satisfied by the influxdb client.
type Mirror interface {
	WriteSensorReading(deviceID string, fields map[string]float64, recordedAt time.Time)
	WriteDeviceStatus(deviceID, status string, metrics map[string]float64)
}

// Result is the outcome of a successfully routed message and maps
// directly onto the ingest response body.
type Result struct {
	Message            string                 `json:"message"`
	Data               map[string]interface{} `json:"data,omitempty"`
	StatusData         *device.Device         `json:"status_data,omitempty"`
	ForwardedProtocols []string               `json:"forwarded_protocols,omitempty"`
}

// RouterConfig carries the router's collaborators. Broadcaster, Mirror
// and Forwarder may be nil; the corresponding steps are skipped.
type RouterConfig struct {
	Devices     device.Repository
	Readings    device.ReadingRepository
	History     device.StatusHistoryRepository
	Forwarder   Forwarder
	Tester      ConnectionTester
	Broadcaster Broadcaster
	Mirror      Mirror
	Logger      *logging.Logger
}

// Router dispatches inbound messages on their type discriminant and
// drives each branch's pipeline: validate, persist, update the
// registry, broadcast, forward. Primary-write failures abort the
// request; broadcast, mirror and forward failures never do.
type Router struct {
	devices     device.Repository
	readings    device.ReadingRepository
	history     device.StatusHistoryRepository
	forwarder   Forwarder
	tester      ConnectionTester
	broadcaster Broadcaster
	mirror      Mirror
	logger      *logging.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		devices:     cfg.Devices,
		readings:    cfg.Readings,
		history:     cfg.History,
		forwarder:   cfg.Forwarder,
		tester:      cfg.Tester,
		broadcaster: cfg.Broadcaster,
		mirror:      cfg.Mirror,
		logger:      logger,
	}
}

// HandleHTTP routes one message body received on the ingestion
// endpoint. Unknown devices are not auto-created on this path; a
// device_status for an unregistered device fails with
// device.ErrDeviceNotFound.
func (r *Router) HandleHTTP(ctx context.Context, body []byte) (*Result, error) {
	env, err := ParseEnvelope(body)
	if err != nil {
		return nil, err
	}
	return r.dispatch(ctx, env, false)
}

// HandleMQTT routes one message received on a bridge subscription.
// Firmware payloads usually carry no type discriminant, so the topic's
// kind segment supplies one. Telemetry from the field may precede
// registration, so unknown devices are auto-created as skeleton rows
// before the write. Only telemetry types are accepted; command and
// test_connection have no business arriving on a device topic.
//
// Messages arriving here are never forwarded back out: the forwarder
// publishes into the same device topics this session subscribes to,
// and echoing a bridge-ingested message would re-enter this handler.
func (r *Router) HandleMQTT(ctx context.Context, topic string, payload []byte) error {
	env, err := ParseTopicEnvelope(topic, payload)
	if err != nil {
		return err
	}

	switch env.Type {
	case TypeSensorData, TypeDeviceStatus:
	default:
		return fmt.Errorf("%w: %q on bridge topic %s", ErrUnknownMessageType, env.Type, topic)
	}

	_, err = r.dispatch(ctx, env, true)
	return err
}

func (r *Router) dispatch(ctx context.Context, env *Envelope, fromBridge bool) (*Result, error) {
	switch env.Type {
	case TypeSensorData:
		return r.handleSensorData(ctx, env, fromBridge)
	case TypeDeviceStatus:
		return r.handleDeviceStatus(ctx, env, fromBridge)
	case TypeCommand:
		return r.handleCommand(ctx, env)
	case TypeTestConnection:
		return r.handleTestConnection(env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

func (r *Router) handleSensorData(ctx context.Context, env *Envelope, fromBridge bool) (*Result, error) {
	deviceID, err := ResolveDeviceID(env.DeviceID, env.Topic)
	if err != nil {
		return nil, err
	}
	if fromBridge {
		if err := r.ensureDevice(ctx, deviceID); err != nil {
			return nil, err
		}
	}

	reading := env.Reading(deviceID, time.Now().UTC())
	if err := r.readings.Insert(ctx, reading); err != nil {
		return nil, fmt.Errorf("save sensor data for %s: %w", deviceID, err)
	}
	if err := r.devices.TouchLastSeen(ctx, deviceID, reading.RecordedAt); err != nil {
		r.logger.Warn("device last_seen not updated",
			"device_id", deviceID,
			"error", err)
	}

	r.mirrorReading(deviceID, reading)
	r.broadcast(ChannelSensorUpdates, map[string]interface{}{
		"device_id": deviceID,
		"data":      reading.Data,
	})

	// Bridge-ingested readings are not forwarded; see HandleMQTT.
	var protocols []string
	if !fromBridge {
		protocols = r.forwardReading(ctx, deviceID, reading.Data)
	}

	return &Result{
		Message:            "Sensor data saved",
		Data:               reading.Data,
		ForwardedProtocols: protocols,
	}, nil
}

func (r *Router) handleDeviceStatus(ctx context.Context, env *Envelope, fromBridge bool) (*Result, error) {
	deviceID, err := ResolveDeviceID(env.DeviceID, env.Topic)
	if err != nil {
		return nil, err
	}

	report := env.StatusReport()
	if report.Status == "" {
		return nil, ErrMissingStatus
	}

	if fromBridge {
		if err := r.ensureDevice(ctx, deviceID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()

	dev, err := r.devices.UpdateStatus(ctx, deviceID, report, now)
	if err != nil {
		return nil, fmt.Errorf("update device status for %s: %w", deviceID, err)
	}

	// History is best-effort. A denied or failed append must never
	// undo the authoritative registry update above.
	record := &device.StatusRecord{
		DeviceID:   deviceID,
		Status:     dev.Status,
		Battery:    report.Battery,
		WiFiRSSI:   report.WiFiRSSI,
		Uptime:     report.Uptime,
		FreeHeap:   report.FreeHeap,
		RecordedAt: now,
	}
	if err := r.history.Record(ctx, record); err != nil {
		r.logger.Warn("status history not saved",
			"device_id", deviceID,
			"error", err)
		r.broadcastLog("warn", fmt.Sprintf("status history not saved for %s: %v", deviceID, err))
	}

	r.mirrorStatus(deviceID, dev.Status, report)
	r.broadcast(ChannelDeviceUpdates, map[string]interface{}{
		"device_id": deviceID,
		"data":      dev,
	})

	// Bridge-ingested status updates are not forwarded; see HandleMQTT.
	var protocols []string
	if !fromBridge {
		protocols = r.forwardStatus(ctx, deviceID, env.Blob())
	}

	return &Result{
		Message:            "Device status updated",
		StatusData:         dev,
		ForwardedProtocols: protocols,
	}, nil
}

func (r *Router) handleCommand(ctx context.Context, env *Envelope) (*Result, error) {
	deviceID, err := ResolveDeviceID(env.DeviceID, env.Topic)
	if err != nil {
		return nil, err
	}
	command := env.Command()
	if command == "" {
		return nil, ErrMissingCommand
	}
	if r.forwarder == nil {
		return nil, fmt.Errorf("ingest: no command transport configured")
	}

	if err := r.forwarder.SendCommand(ctx, deviceID, command); err != nil {
		return nil, fmt.Errorf("send command to %s: %w", deviceID, err)
	}

	r.broadcastLog("info", fmt.Sprintf("command %q sent to %s", command, deviceID))
	return &Result{
		Message:            "Command sent to device",
		ForwardedProtocols: []string{"mqtt"},
	}, nil
}

func (r *Router) handleTestConnection(env *Envelope) (*Result, error) {
	cfg, err := env.ConnectionConfig()
	if err != nil {
		return nil, err
	}
	if r.tester == nil {
		return nil, fmt.Errorf("ingest: no connection tester configured")
	}

	if err := r.tester.Test(cfg); err != nil {
		r.broadcastLog("error", fmt.Sprintf("connection test failed: %v", err))
		return nil, err
	}

	r.broadcastLog("info", fmt.Sprintf("connection test succeeded for %s", cfg.Broker))
	return &Result{Message: "Connection successful"}, nil
}

func (r *Router) ensureDevice(ctx context.Context, deviceID string) error {
	_, created, err := r.devices.Ensure(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("ensure device %s: %w", deviceID, err)
	}
	if created {
		r.logger.Info("auto-created device from bridge traffic", "device_id", deviceID)
		r.broadcastLog("info", fmt.Sprintf("auto-created device %s", deviceID))
	}
	return nil
}

func (r *Router) forwardReading(ctx context.Context, deviceID string, data map[string]interface{}) []string {
	if r.forwarder == nil {
		return nil
	}
	return r.forwarder.ForwardReading(ctx, deviceID, data)
}

func (r *Router) forwardStatus(ctx context.Context, deviceID string, data map[string]interface{}) []string {
	if r.forwarder == nil {
		return nil
	}
	return r.forwarder.ForwardStatus(ctx, deviceID, data)
}

func (r *Router) mirrorReading(deviceID string, reading *device.SensorReading) {
	if r.mirror == nil {
		return
	}
	fields := make(map[string]float64)
	for key, value := range reading.Data {
		if f, ok := value.(float64); ok {
			fields[key] = f
		}
	}
	r.mirror.WriteSensorReading(deviceID, fields, reading.RecordedAt)
}

func (r *Router) mirrorStatus(deviceID, status string, report device.StatusReport) {
	if r.mirror == nil {
		return
	}
	metrics := make(map[string]float64)
	if report.Battery != nil {
		metrics["battery"] = *report.Battery
	}
	if report.WiFiRSSI != nil {
		metrics["wifi_rssi"] = float64(*report.WiFiRSSI)
	}
	if report.Uptime != nil {
		metrics["uptime"] = float64(*report.Uptime)
	}
	if report.FreeHeap != nil {
		metrics["free_heap"] = float64(*report.FreeHeap)
	}
	r.mirror.WriteDeviceStatus(deviceID, status, metrics)
}

func (r *Router) broadcast(channel string, event interface{}) {
	if r.broadcaster == nil {
		return
	}
	r.broadcaster.Broadcast(channel, event)
}

// broadcastLog pushes a formatted line onto the operator live log
// channel: [LEVEL] <RFC3339> - message.
func (r *Router) broadcastLog(level, msg string) {
	if r.broadcaster == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s - %s",
		strings.ToUpper(level),
		time.Now().UTC().Format(time.RFC3339),
		msg)
	r.broadcaster.Broadcast(ChannelBridgeLog, line)
}
