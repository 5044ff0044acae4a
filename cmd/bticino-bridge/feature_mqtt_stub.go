//go:build no_mqtt

package main

import (
	"bticino-bridge/internal/bridge"
	"bticino-bridge/internal/config"
)

func mqttOptions(_ *config.Config) []bridge.Option {
	return nil
}
