//go:build !no_mqtt

package main

import (
	"log/slog"

	"bticino-bridge/internal/bridge"
	"bticino-bridge/internal/config"
	mqttbridge "bticino-bridge/internal/mqtt"
)

func mqttOptions(cfg *config.Config) []bridge.Option {
	if !cfg.MQTT.Enabled {
		return nil
	}
	return []bridge.Option{bridge.WithExtension("mqtt", func(h bridge.Host, logger *slog.Logger) (func(), error) {
		b, err := mqttbridge.NewBridge(h.Platform, h.Platform.Identity(), mqttbridge.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		}, logger, mqttbridge.WithRegistration(h.Registration))
		if err != nil {
			return nil, err
		}
		b.Start()
		return b.Stop, nil
	})}
}
