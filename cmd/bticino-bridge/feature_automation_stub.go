//go:build no_automation

package main

import (
	"bticino-bridge/internal/bridge"
	"bticino-bridge/internal/config"
)

func automationOptions(_ *config.Config) []bridge.Option {
	return nil
}
