package settings

import (
	"encoding/json"
	"fmt"
)

// Protocol names reported in forwarded_protocols.
const (
	ProtocolFirebase = "firebase"
	ProtocolMQTT     = "mqtt"
)

// Settings is the protocol settings document stored in the singleton
// row. Operators edit it at runtime; the bridge reads it fresh on every
// request so changes apply without a restart.
//
// Unrecognised keys are preserved across load/save so that newer
// clients can add sections without this core dropping them.
type Settings struct {
	MQTT     MQTTSettings     `json:"mqtt"`
	Firebase FirebaseSettings `json:"firebase"`

	extra map[string]json.RawMessage
}

// MQTTSettings configures the secondary broker.
type MQTTSettings struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Topics   Topics `json:"topics"`

	extra map[string]json.RawMessage
}

// FirebaseSettings configures the secondary sync service.
type FirebaseSettings struct {
	Enabled bool   `json:"enabled"`
	SyncURL string `json:"sync_url,omitempty"`

	extra map[string]json.RawMessage
}

// Topics holds the broker topic templates. Templates use "+" as the
// device wildcard; the forwarder substitutes the device ID for the
// first "+".
//
// Both the singular "command" and plural "commands" spellings exist in
// stored documents; CommandTopic resolves between them.
type Topics struct {
	Data     string `json:"data,omitempty"`
	Status   string `json:"status,omitempty"`
	Commands string `json:"commands,omitempty"`
	Command  string `json:"command,omitempty"`

	extra map[string]json.RawMessage
}

// CommandTopic returns the command topic template, preferring the
// singular "command" key and falling back to the plural "commands".
// The diverged flag is set when both keys are present with different
// values, so callers can log the inconsistency.
func (t Topics) CommandTopic() (topic string, diverged bool) {
	switch {
	case t.Command != "" && t.Commands != "":
		return t.Command, t.Command != t.Commands
	case t.Command != "":
		return t.Command, false
	default:
		return t.Commands, false
	}
}

// All returns the non-empty subscription topics (data, status, and the
// resolved command topic) for the persistent bridge.
func (t Topics) All() []string {
	var topics []string
	if t.Data != "" {
		topics = append(topics, t.Data)
	}
	if t.Status != "" {
		topics = append(topics, t.Status)
	}
	if cmd, _ := t.CommandTopic(); cmd != "" {
		topics = append(topics, cmd)
	}
	return topics
}

// mergeKnown marshals known fields and extras into one JSON object.
func mergeKnown(known map[string]interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(known)+len(extra))
	for key, value := range known {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = raw
	}
	for key, raw := range extra {
		out[key] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the document, preserving unrecognised keys.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var full Settings
	if raw, ok := rawField(data, "mqtt"); ok {
		if err := json.Unmarshal(raw, &full.MQTT); err != nil {
			return fmt.Errorf("field %q: %w", "mqtt", err)
		}
	}
	if raw, ok := rawField(data, "firebase"); ok {
		if err := json.Unmarshal(raw, &full.Firebase); err != nil {
			return fmt.Errorf("field %q: %w", "firebase", err)
		}
	}

	extra, err := extrasExcept(data, "mqtt", "firebase")
	if err != nil {
		return err
	}
	full.extra = extra

	*s = full
	return nil
}

// MarshalJSON renders the document with preserved unknown keys.
func (s Settings) MarshalJSON() ([]byte, error) {
	return mergeKnown(map[string]interface{}{
		"mqtt":     s.MQTT,
		"firebase": s.Firebase,
	}, s.extra)
}

// UnmarshalJSON parses the mqtt section, preserving unrecognised keys.
func (m *MQTTSettings) UnmarshalJSON(data []byte) error {
	var parsed struct {
		Enabled  bool   `json:"enabled"`
		Broker   string `json:"broker"`
		Username string `json:"username"`
		Password string `json:"password"`
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	var topics Topics
	if raw, ok := rawField(data, "topics"); ok {
		if err := json.Unmarshal(raw, &topics); err != nil {
			return err
		}
	}

	extra, err := extrasExcept(data, "enabled", "broker", "username", "password", "client_id", "topics")
	if err != nil {
		return err
	}

	*m = MQTTSettings{
		Enabled:  parsed.Enabled,
		Broker:   parsed.Broker,
		Username: parsed.Username,
		Password: parsed.Password,
		ClientID: parsed.ClientID,
		Topics:   topics,
		extra:    extra,
	}
	return nil
}

// MarshalJSON renders the mqtt section with preserved unknown keys.
func (m MQTTSettings) MarshalJSON() ([]byte, error) {
	known := map[string]interface{}{
		"enabled": m.Enabled,
		"broker":  m.Broker,
		"topics":  m.Topics,
	}
	if m.Username != "" {
		known["username"] = m.Username
	}
	if m.Password != "" {
		known["password"] = m.Password
	}
	if m.ClientID != "" {
		known["client_id"] = m.ClientID
	}
	return mergeKnown(known, m.extra)
}

// UnmarshalJSON parses the firebase section, preserving unknown keys.
func (f *FirebaseSettings) UnmarshalJSON(data []byte) error {
	var parsed struct {
		Enabled bool   `json:"enabled"`
		SyncURL string `json:"sync_url"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	extra, err := extrasExcept(data, "enabled", "sync_url")
	if err != nil {
		return err
	}

	*f = FirebaseSettings{Enabled: parsed.Enabled, SyncURL: parsed.SyncURL, extra: extra}
	return nil
}

// MarshalJSON renders the firebase section with preserved unknown keys.
func (f FirebaseSettings) MarshalJSON() ([]byte, error) {
	known := map[string]interface{}{"enabled": f.Enabled}
	if f.SyncURL != "" {
		known["sync_url"] = f.SyncURL
	}
	return mergeKnown(known, f.extra)
}

// UnmarshalJSON parses topics, preserving unknown keys and both command
// spellings.
func (t *Topics) UnmarshalJSON(data []byte) error {
	var parsed struct {
		Data     string `json:"data"`
		Status   string `json:"status"`
		Commands string `json:"commands"`
		Command  string `json:"command"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	extra, err := extrasExcept(data, "data", "status", "commands", "command")
	if err != nil {
		return err
	}

	*t = Topics{
		Data:     parsed.Data,
		Status:   parsed.Status,
		Commands: parsed.Commands,
		Command:  parsed.Command,
		extra:    extra,
	}
	return nil
}

// MarshalJSON renders topics with preserved unknown keys. Both command
// spellings round-trip unchanged; this core never rewrites one into
// the other.
func (t Topics) MarshalJSON() ([]byte, error) {
	known := map[string]interface{}{}
	if t.Data != "" {
		known["data"] = t.Data
	}
	if t.Status != "" {
		known["status"] = t.Status
	}
	if t.Commands != "" {
		known["commands"] = t.Commands
	}
	if t.Command != "" {
		known["command"] = t.Command
	}
	return mergeKnown(known, t.extra)
}

// rawField extracts one top-level field from a JSON object.
func rawField(data []byte, key string) (json.RawMessage, bool) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, false
	}
	raw, ok := all[key]
	return raw, ok
}

// extrasExcept returns the top-level fields of data not named in keep.
func extrasExcept(data []byte, keep ...string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, key := range keep {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
