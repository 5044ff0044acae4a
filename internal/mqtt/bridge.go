//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"bticino-bridge/internal/accessory"
	"bticino-bridge/internal/registration"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// Source is the accessory state the bridge mirrors.
type Source interface {
	Events() *accessory.EventBus
	LockState() (locked, known bool)
}

// RegistrationStatus reports the latest controller registration outcome.
type RegistrationStatus interface {
	Last() (registration.Result, bool)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRegistration republishes the last registration outcome on connect.
func WithRegistration(r RegistrationStatus) Option {
	return func(b *Bridge) { b.registration = r }
}

// Bridge mirrors doorbell and lock events to MQTT with HA autodiscovery.
type Bridge struct {
	client       pahomqtt.Client
	source       Source
	registration RegistrationStatus
	identity     accessory.Identity
	topics       topics
	logger       *slog.Logger
	unsub        func()
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(source Source, identity accessory.Identity, cfg Config, logger *slog.Logger, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		source:   source,
		identity: identity,
		topics:   newTopics(cfg.TopicPrefix, cfg.DiscoveryPrefix, identity),
		logger:   logger.With("component", "mqtt"),
	}
	for _, opt := range opts {
		opt(b)
	}

	copts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("bticino-bridge-" + b.topics.node).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topics.availability(), stateOffline, 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(b.topics.availability(), []byte(stateOnline), true)
			b.publishDiscovery()
			b.publishState()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		copts.SetUsername(cfg.Username)
		copts.SetPassword(cfg.Password)
	}

	// The on-connect handler publishes through b.client.
	b.client = pahomqtt.NewClient(copts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to accessory events, then republishes state that may
// have changed while connecting.
func (b *Bridge) Start() {
	b.unsub = b.source.Events().OnAll(b.handleEvent)
	b.publishState()
	b.logger.Info("MQTT bridge started", "prefix", b.topics.prefix, "node", b.topics.node)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	token := b.client.Publish(b.topics.availability(), 1, true, []byte(stateOffline))
	token.WaitTimeout(2 * time.Second)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event accessory.Event) {
	for _, msg := range stateMessages(event, b.topics) {
		b.publish(msg.Topic, msg.Payload, msg.Retained)
	}
}

func (b *Bridge) publishDiscovery() {
	for _, msg := range buildDiscovery(b.identity, b.topics) {
		b.publish(msg.Topic, msg.Payload, msg.Retained)
	}
	b.logger.Info("published HA discovery", "node", b.topics.node, "name", b.identity.Name)
}

func (b *Bridge) publishState() {
	locked, known := b.source.LockState()
	var res registration.Result
	var registered bool
	if b.registration != nil {
		res, registered = b.registration.Last()
	}
	for _, msg := range retainedState(locked, known, res, registered, b.topics) {
		b.publish(msg.Topic, msg.Payload, msg.Retained)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
