//go:build !no_automation

package main

import (
	"log/slog"

	"bticino-bridge/internal/automation"
	"bticino-bridge/internal/bridge"
	"bticino-bridge/internal/config"
)

func automationOptions(cfg *config.Config) []bridge.Option {
	if cfg.ScriptsDir == "" {
		return nil
	}
	return []bridge.Option{bridge.WithExtension("automation", func(h bridge.Host, logger *slog.Logger) (func(), error) {
		loader, err := automation.NewLoader(cfg.ScriptsDir, logger)
		if err != nil {
			return nil, err
		}
		engine := automation.NewEngine(h.Platform, loader, logger)
		engine.Start()
		return engine.Stop, nil
	})}
}
