package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/astrodev/telemetry-core/internal/infrastructure/logging"
	"github.com/astrodev/telemetry-core/internal/infrastructure/mqtt"
	"github.com/astrodev/telemetry-core/internal/ingest"
	"github.com/astrodev/telemetry-core/internal/settings"
)

var (
	// ErrMQTTDisabled is returned when a command is sent while MQTT
	// forwarding is not enabled in the stored protocol settings.
	ErrMQTTDisabled = errors.New("forward: mqtt forwarding is not enabled")

	// ErrNoCommandTopic is returned when MQTT forwarding is enabled but
	// no command topic template is configured.
	ErrNoCommandTopic = errors.New("forward: no command topic configured")
)

const defaultSyncTimeout = 10 * time.Second

// syncMessage is the envelope posted to the sync service.
type syncMessage struct {
	Type     string                 `json:"type"`
	DeviceID string                 `json:"device_id"`
	Data     map[string]interface{} `json:"data"`
}

// PublishFunc publishes one payload over a short-lived broker
// connection. The default is mqtt.PublishOnce.
type PublishFunc func(cfg mqtt.BrokerConfig, topic string, payload []byte) error

// Broadcaster mirrors soft failures onto the operator live log.
type Broadcaster interface {
	Broadcast(channel string, event interface{})
}

// Config carries the forwarder's collaborators and tunables.
type Config struct {
	// Settings is read fresh on every request so operator changes take
	// effect immediately, without a restart or cache invalidation.
	Settings settings.Repository

	// SyncURL is the fallback sync service endpoint, used when the
	// stored settings enable sync but carry no URL of their own.
	SyncURL string

	// SyncTimeout bounds each sync service invocation.
	SyncTimeout time.Duration

	// Publish overrides the broker publish primitive. Nil means
	// mqtt.PublishOnce.
	Publish PublishFunc

	// HTTPClient overrides the sync HTTP client. Nil means a default
	// client; the per-invocation timeout comes from SyncTimeout either
	// way.
	HTTPClient *http.Client

	Broadcaster Broadcaster
	Logger      *logging.Logger
}

// Forwarder pushes accepted telemetry to the configured secondary
// protocols. All forwarding is best-effort: failures are logged and
// surfaced on the operator live log, never returned to the ingest
// caller. Commands are the exception, a failed command publish is a
// hard error because nothing was delivered anywhere.
type Forwarder struct {
	settings    settings.Repository
	syncURL     string
	syncTimeout time.Duration
	publish     PublishFunc
	client      *http.Client
	broadcaster Broadcaster
	logger      *logging.Logger

	wg sync.WaitGroup
}

func New(cfg Config) *Forwarder {
	f := &Forwarder{
		settings:    cfg.Settings,
		syncURL:     cfg.SyncURL,
		syncTimeout: cfg.SyncTimeout,
		publish:     cfg.Publish,
		client:      cfg.HTTPClient,
		broadcaster: cfg.Broadcaster,
		logger:      cfg.Logger,
	}
	if f.syncTimeout <= 0 {
		f.syncTimeout = defaultSyncTimeout
	}
	if f.publish == nil {
		f.publish = mqtt.PublishOnce
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.logger == nil {
		f.logger = logging.Default()
	}
	return f
}

// ForwardReading forwards a saved reading to every enabled secondary
// protocol and returns the protocols actually attempted. The sync
// service is invoked asynchronously; the broker publish is a one-shot
// connect-publish-disconnect on the calling goroutine.
func (f *Forwarder) ForwardReading(ctx context.Context, deviceID string, data map[string]interface{}) []string {
	s, err := f.settings.Get(ctx)
	if err != nil {
		f.soft(fmt.Sprintf("protocol settings unavailable, nothing forwarded for %s: %v", deviceID, err))
		return nil
	}

	var attempted []string

	if url := f.resolveSyncURL(s); s.Firebase.Enabled && url != "" {
		attempted = append(attempted, settings.ProtocolFirebase)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.invokeSync(url, deviceID, data)
		}()
	}

	if s.MQTT.Enabled && s.MQTT.Broker != "" && s.MQTT.Topics.Data != "" {
		attempted = append(attempted, settings.ProtocolMQTT)
		if err := f.publishReading(s.MQTT, deviceID, data); err != nil {
			f.soft(fmt.Sprintf("mqtt forward failed for %s: %v", deviceID, err))
		}
	}

	return attempted
}

// ForwardStatus forwards an accepted device status update to the
// secondary broker's status topic. Only the broker leg applies here;
// the sync service consumes sensor data alone. The publish is
// best-effort, like telemetry forwarding.
func (f *Forwarder) ForwardStatus(ctx context.Context, deviceID string, data map[string]interface{}) []string {
	s, err := f.settings.Get(ctx)
	if err != nil {
		f.soft(fmt.Sprintf("protocol settings unavailable, nothing forwarded for %s: %v", deviceID, err))
		return nil
	}

	var attempted []string
	if s.MQTT.Enabled && s.MQTT.Broker != "" && s.MQTT.Topics.Status != "" {
		attempted = append(attempted, settings.ProtocolMQTT)
		if err := f.publishStatus(s.MQTT, deviceID, data); err != nil {
			f.soft(fmt.Sprintf("mqtt status forward failed for %s: %v", deviceID, err))
		}
	}
	return attempted
}

// SendCommand publishes a command to the device's command topic over a
// short-lived broker connection. Unlike telemetry forwarding this is
// the primary delivery path, so failures propagate to the caller.
func (f *Forwarder) SendCommand(ctx context.Context, deviceID, command string) error {
	s, err := f.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("read protocol settings: %w", err)
	}
	if !s.MQTT.Enabled || s.MQTT.Broker == "" {
		return ErrMQTTDisabled
	}

	template, diverged := s.MQTT.Topics.CommandTopic()
	if diverged {
		f.logger.Debug("command topic keys diverge, preferring the singular spelling",
			"command", s.MQTT.Topics.Command,
			"commands", s.MQTT.Topics.Commands)
	}
	if template == "" {
		return ErrNoCommandTopic
	}

	topic := substituteDevice(template, deviceID)
	if err := f.publish(brokerConfig(s.MQTT), topic, []byte(command)); err != nil {
		return fmt.Errorf("publish command to %s: %w", topic, err)
	}
	return nil
}

// Wait blocks until in-flight sync invocations complete. Called during
// shutdown so pending forwards are not torn down mid-request.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

func (f *Forwarder) resolveSyncURL(s *settings.Settings) string {
	if s.Firebase.SyncURL != "" {
		return s.Firebase.SyncURL
	}
	return f.syncURL
}

func (f *Forwarder) invokeSync(url, deviceID string, data map[string]interface{}) {
	body, err := json.Marshal(syncMessage{
		Type:     "sync_sensor_data",
		DeviceID: deviceID,
		Data:     data,
	})
	if err != nil {
		f.soft(fmt.Sprintf("sync payload for %s not serialisable: %v", deviceID, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.syncTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		f.soft(fmt.Sprintf("sync request for %s invalid: %v", deviceID, err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.soft(fmt.Sprintf("sync service unreachable for %s: %v", deviceID, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.soft(fmt.Sprintf("sync service rejected %s: status %d", deviceID, resp.StatusCode))
	}
}

func (f *Forwarder) publishReading(m settings.MQTTSettings, deviceID string, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("serialise reading: %w", err)
	}
	topic := substituteDevice(m.Topics.Data, deviceID)
	return f.publish(brokerConfig(m), topic, payload)
}

func (f *Forwarder) publishStatus(m settings.MQTTSettings, deviceID string, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("serialise status: %w", err)
	}
	topic := substituteDevice(m.Topics.Status, deviceID)
	return f.publish(brokerConfig(m), topic, payload)
}

// soft records a forwarding failure without failing anything: a warning
// log plus a line on the operator live log channel.
func (f *Forwarder) soft(msg string) {
	f.logger.Warn(msg)
	if f.broadcaster != nil {
		line := fmt.Sprintf("[WARN] %s - %s", time.Now().UTC().Format(time.RFC3339), msg)
		f.broadcaster.Broadcast(ingest.ChannelBridgeLog, line)
	}
}

func brokerConfig(m settings.MQTTSettings) mqtt.BrokerConfig {
	return mqtt.BrokerConfig{
		Broker:   m.Broker,
		Username: m.Username,
		Password: m.Password,
		ClientID: m.ClientID,
	}
}

// substituteDevice replaces the first "+" wildcard in a topic template
// with the device id, iot/devices/+/commands becomes
// iot/devices/d1/commands. Templates without a wildcard pass through.
func substituteDevice(template, deviceID string) string {
	return strings.Replace(template, "+", deviceID, 1)
}
