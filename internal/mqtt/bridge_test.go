//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"testing"

	"bticino-bridge/internal/accessory"
	"bticino-bridge/internal/registration"
)

func testIdentity() accessory.Identity {
	return accessory.Identity{
		Identifier:   "Home 1",
		Name:         "BTicino Doorbell",
		Manufacturer: "BTicino",
		Model:        "Classe 300",
		Serial:       "home1",
	}
}

func testTopics() topics {
	return newTopics("bticino", "homeassistant", testIdentity())
}

func TestNodeID(t *testing.T) {
	tests := []struct {
		identifier string
		want       string
	}{
		{"homebridge", "bticino_homebridge"},
		{"Home 1", "bticino_home_1"},
		{"a/b#c+", "bticino_a_b_c_"},
		{"front-door_2", "bticino_front-door_2"},
	}
	for _, tt := range tests {
		if got := nodeID(accessory.Identity{Identifier: tt.identifier}); got != tt.want {
			t.Errorf("nodeID(%q) = %q, want %q", tt.identifier, got, tt.want)
		}
	}
}

func TestTopics(t *testing.T) {
	tp := testTopics()
	if got := tp.availability(); got != "bticino/bridge/state" {
		t.Errorf("availability = %q", got)
	}
	if got := tp.doorbell(); got != "bticino/bticino_home_1/doorbell" {
		t.Errorf("doorbell = %q", got)
	}
	if got := tp.lock(); got != "bticino/bticino_home_1/lock" {
		t.Errorf("lock = %q", got)
	}
}

func TestDiscoveryDoorbellTrigger(t *testing.T) {
	msgs := buildDiscovery(testIdentity(), testTopics())
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}

	var trigger *message
	for i := range msgs {
		if !msgs[i].Retained {
			t.Errorf("discovery %s not retained", msgs[i].Topic)
		}
		if msgs[i].Topic == "homeassistant/device_automation/bticino_home_1/doorbell/config" {
			trigger = &msgs[i]
		}
	}
	if trigger == nil {
		t.Fatal("doorbell trigger discovery not found")
	}

	var payload haTrigger
	if err := json.Unmarshal(trigger.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.AutomationType != "trigger" || payload.Type != "button_short_press" || payload.Subtype != "doorbell" {
		t.Errorf("trigger = %+v", payload)
	}
	if payload.Topic != "bticino/bticino_home_1/doorbell" || payload.Payload != "single_press" {
		t.Errorf("topic/payload = %q/%q", payload.Topic, payload.Payload)
	}
	if payload.Device.Name != "BTicino Doorbell" || payload.Device.Manufacturer != "BTicino" {
		t.Errorf("device = %+v", payload.Device)
	}
	if len(payload.Device.Identifiers) != 2 || payload.Device.Identifiers[1] != testIdentity().UUID() {
		t.Errorf("identifiers = %v", payload.Device.Identifiers)
	}
}

func TestDiscoveryLockSensor(t *testing.T) {
	msgs := buildDiscovery(testIdentity(), testTopics())

	var payload haBinarySensor
	found := false
	for _, m := range msgs {
		if m.Topic == "homeassistant/binary_sensor/bticino_home_1/lock/config" {
			if err := json.Unmarshal(m.Payload, &payload); err != nil {
				t.Fatal(err)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("lock discovery not found")
	}
	if payload.DeviceClass != "lock" {
		t.Errorf("device_class = %q", payload.DeviceClass)
	}
	if payload.UniqueID != "bticino_home_1_lock" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if payload.StateTopic != "bticino/bticino_home_1/lock" || payload.AvailabilityTopic != "bticino/bridge/state" {
		t.Errorf("topics = %q %q", payload.StateTopic, payload.AvailabilityTopic)
	}
	if payload.Name != "BTicino Doorbell Lock" {
		t.Errorf("name = %q", payload.Name)
	}
}

func TestStateMessages(t *testing.T) {
	tp := testTopics()
	tests := []struct {
		event    string
		topic    string
		payload  string
		retained bool
	}{
		{accessory.EventDoorbellPressed, "bticino/bticino_home_1/doorbell", "single_press", false},
		{accessory.EventDoorLocked, "bticino/bticino_home_1/lock", "OFF", true},
		{accessory.EventDoorUnlocked, "bticino/bticino_home_1/lock", "ON", true},
		{accessory.EventRegistrationSucceeded, "bticino/bticino_home_1/registration", "ON", true},
		{accessory.EventRegistrationFailed, "bticino/bticino_home_1/registration", "OFF", true},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			msgs := stateMessages(accessory.Event{Type: tt.event}, tp)
			if len(msgs) != 1 {
				t.Fatalf("messages = %d, want 1", len(msgs))
			}
			m := msgs[0]
			if m.Topic != tt.topic || string(m.Payload) != tt.payload || m.Retained != tt.retained {
				t.Errorf("got %s %q retained=%v", m.Topic, m.Payload, m.Retained)
			}
		})
	}
}

func TestStateMessagesIgnoresOtherEvents(t *testing.T) {
	if msgs := stateMessages(accessory.Event{Type: accessory.EventAccessoryReady}, testTopics()); len(msgs) != 0 {
		t.Errorf("accessory_ready produced %d messages", len(msgs))
	}
}

func TestRetainedState(t *testing.T) {
	tp := testTopics()
	tests := []struct {
		name       string
		locked     bool
		lockKnown  bool
		reg        registration.Result
		registered bool
		want       map[string]string
	}{
		{"nothing known", false, false, registration.Result{}, false, map[string]string{}},
		{"locked", true, true, registration.Result{}, false, map[string]string{
			"bticino/bticino_home_1/lock": "OFF",
		}},
		{"registered before connect", false, false, registration.Result{OK: true}, true, map[string]string{
			"bticino/bticino_home_1/registration": "ON",
		}},
		{"unlocked and rejected", false, true, registration.Result{StatusCode: 500}, true, map[string]string{
			"bticino/bticino_home_1/lock":         "ON",
			"bticino/bticino_home_1/registration": "OFF",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := retainedState(tt.locked, tt.lockKnown, tt.reg, tt.registered, tp)
			if len(msgs) != len(tt.want) {
				t.Fatalf("messages = %d, want %d", len(msgs), len(tt.want))
			}
			for _, m := range msgs {
				if !m.Retained {
					t.Errorf("%s not retained", m.Topic)
				}
				if want, ok := tt.want[m.Topic]; !ok || string(m.Payload) != want {
					t.Errorf("%s = %q, want %q", m.Topic, m.Payload, want)
				}
			}
		})
	}
}
