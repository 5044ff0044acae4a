//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"strings"

	"bticino-bridge/internal/accessory"
	"bticino-bridge/internal/registration"
)

// message is one MQTT publication.
type message struct {
	Topic    string
	Payload  []byte // empty means delete (for retained discovery)
	Retained bool
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	Name         string   `json:"name"`
}

// haTrigger is a device_automation trigger discovery payload.
type haTrigger struct {
	AutomationType string   `json:"automation_type"`
	Topic          string   `json:"topic"`
	Type           string   `json:"type"`
	Subtype        string   `json:"subtype"`
	Payload        string   `json:"payload"`
	Device         haDevice `json:"device"`
}

// haBinarySensor is a binary_sensor discovery payload.
type haBinarySensor struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	DeviceClass       string   `json:"device_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadOn         string   `json:"payload_on"`
	PayloadOff        string   `json:"payload_off"`
	Device            haDevice `json:"device"`
}

// Payloads published on state topics.
const (
	payloadPress = "single_press"
	payloadOn    = "ON"
	payloadOff   = "OFF"
	stateOnline  = "online"
	stateOffline = "offline"
)

// topics names every topic the bridge uses for one accessory.
type topics struct {
	prefix    string
	discovery string
	node      string
}

func newTopics(prefix, discovery string, id accessory.Identity) topics {
	return topics{prefix: prefix, discovery: discovery, node: nodeID(id)}
}

func (t topics) availability() string { return t.prefix + "/bridge/state" }
func (t topics) doorbell() string     { return t.prefix + "/" + t.node + "/doorbell" }
func (t topics) lock() string         { return t.prefix + "/" + t.node + "/lock" }
func (t topics) registration() string { return t.prefix + "/" + t.node + "/registration" }

// nodeID returns an MQTT-safe node id derived from the identifier.
func nodeID(id accessory.Identity) string {
	name := strings.ToLower(id.Identifier)
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
	return "bticino_" + name
}

// buildDiscovery returns the retained discovery documents for the doorbell.
func buildDiscovery(id accessory.Identity, t topics) []message {
	dev := haDevice{
		Identifiers:  []string{t.node, id.UUID()},
		Manufacturer: id.Manufacturer,
		Model:        id.Model,
		SerialNumber: id.Serial,
		Name:         id.Name,
	}

	trigger := haTrigger{
		AutomationType: "trigger",
		Topic:          t.doorbell(),
		Type:           "button_short_press",
		Subtype:        "doorbell",
		Payload:        payloadPress,
		Device:         dev,
	}
	// HA lock semantics: ON means unlocked.
	lock := haBinarySensor{
		Name:              id.Name + " Lock",
		UniqueID:          t.node + "_lock",
		StateTopic:        t.lock(),
		AvailabilityTopic: t.availability(),
		DeviceClass:       "lock",
		PayloadOn:         payloadOn,
		PayloadOff:        payloadOff,
		Device:            dev,
	}
	reg := haBinarySensor{
		Name:              id.Name + " Controller Registration",
		UniqueID:          t.node + "_registration",
		StateTopic:        t.registration(),
		AvailabilityTopic: t.availability(),
		DeviceClass:       "connectivity",
		EntityCategory:    "diagnostic",
		PayloadOn:         payloadOn,
		PayloadOff:        payloadOff,
		Device:            dev,
	}

	return []message{
		{Topic: t.discovery + "/device_automation/" + t.node + "/doorbell/config", Payload: mustJSON(trigger), Retained: true},
		{Topic: t.discovery + "/binary_sensor/" + t.node + "/lock/config", Payload: mustJSON(lock), Retained: true},
		{Topic: t.discovery + "/binary_sensor/" + t.node + "/registration/config", Payload: mustJSON(reg), Retained: true},
	}
}

// stateMessages maps a bridge event to the state publications it causes.
func stateMessages(ev accessory.Event, t topics) []message {
	switch ev.Type {
	case accessory.EventDoorbellPressed:
		return []message{{Topic: t.doorbell(), Payload: []byte(payloadPress)}}
	case accessory.EventDoorLocked:
		return []message{{Topic: t.lock(), Payload: []byte(payloadOff), Retained: true}}
	case accessory.EventDoorUnlocked:
		return []message{{Topic: t.lock(), Payload: []byte(payloadOn), Retained: true}}
	case accessory.EventRegistrationSucceeded:
		return []message{{Topic: t.registration(), Payload: []byte(payloadOn), Retained: true}}
	case accessory.EventRegistrationFailed:
		return []message{{Topic: t.registration(), Payload: []byte(payloadOff), Retained: true}}
	}
	return nil
}

// retainedState returns the retained lock and registration messages for
// the current state. Unknown state yields no message.
func retainedState(locked, lockKnown bool, reg registration.Result, registered bool, t topics) []message {
	var msgs []message
	if lockKnown {
		payload := payloadOn
		if locked {
			payload = payloadOff
		}
		msgs = append(msgs, message{Topic: t.lock(), Payload: []byte(payload), Retained: true})
	}
	if registered {
		payload := payloadOff
		if reg.OK {
			payload = payloadOn
		}
		msgs = append(msgs, message{Topic: t.registration(), Payload: []byte(payload), Retained: true})
	}
	return msgs
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
