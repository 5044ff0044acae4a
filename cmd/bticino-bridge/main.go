package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bticino-bridge/internal/bridge"
	"bticino-bridge/internal/config"
	"bticino-bridge/internal/registration"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "bticino-bridge",
		Short:         "Bridge a BTicino intercom controller to a virtual doorbell",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge until SIGINT or SIGTERM (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runService(cfgPath)
			},
		},
		&cobra.Command{
			Use:   "register",
			Short: "Send one registration request to the controller and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runRegister(cmd.Context(), cfgPath, cmd.ErrOrStderr())
			},
		},
		&cobra.Command{
			Use:   "urls",
			Short: "Print the registration URL and the decoded callback URLs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runURLs(cfgPath, cmd.OutOrStdout())
			},
		},
	)
	return root
}

func runService(cfgPath string) error {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		return err
	}

	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("bticino-bridge starting", "version", version)

	var opts []bridge.Option
	opts = append(opts, bridge.WithVersion(version))
	opts = append(opts, mqttOptions(cfg)...)
	opts = append(opts, automationOptions(cfg)...)

	// An invalid config leaves the service inert; it still waits for a signal.
	svc := bridge.New(cfg, logger, opts...)
	svc.Start(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.Stop(shutdownCtx)

	logger.Info("goodbye")
	return nil
}

func runRegister(ctx context.Context, cfgPath string, stderr io.Writer) error {
	cfg, err := loadNormalized(cfgPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, stderr)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := registration.NewClient(cfg, logger).Register(ctx)
	if !res.OK {
		if res.Error != "" {
			return fmt.Errorf("registration failed: %s", res.Error)
		}
		return fmt.Errorf("registration failed: controller returned status %d", res.StatusCode)
	}
	return nil
}

func runURLs(cfgPath string, out io.Writer) error {
	cfg, err := loadNormalized(cfgPath)
	if err != nil {
		return err
	}
	d := registration.Build(cfg)
	fmt.Fprintf(out, "register: %s\n", d.RegisterURL)
	fmt.Fprintf(out, "pressed:  %s\n", d.Callbacks.Pressed)
	fmt.Fprintf(out, "locked:   %s\n", d.Callbacks.Locked)
	fmt.Fprintf(out, "unlocked: %s\n", d.Callbacks.Unlocked)
	return nil
}

func loadNormalized(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
