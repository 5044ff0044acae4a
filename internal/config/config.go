package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Normalize to zero-valued fields.
const (
	DefaultCallbackPort        = 8282
	DefaultCameraHTTPPort      = 8081
	DefaultIntervalMinutes     = 4
	DefaultIdentifier          = "homebridge"
	DefaultCameraName          = "BTicino Doorbell"
	DefaultAccessoryName       = "BTicino Doorbell"
	DefaultManufacturer        = "BTicino"
	DefaultModel               = "Classe 300"
	DefaultStorePath           = "bticino-bridge.db"
	DefaultTopicPrefix         = "bticino"
	DefaultDiscoveryPrefix     = "homeassistant"
	DefaultRegistrationTimeout = 10 * time.Second
	MaxIntervalMinutes         = 24 * 60
	ControllerRegistrationPort = 8080
)

// Mode selects where the controller delivers its callbacks.
type Mode int

const (
	// ModeServer points callbacks at this service's own HTTP server.
	ModeServer Mode = iota
	// ModeCamera points callbacks at an external camera-streaming HTTP server.
	ModeCamera
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModeCamera:
		return "camera"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a config string to a Mode. An empty string is ModeServer.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "server":
		return ModeServer, nil
	case "camera", "ffmpeg":
		return ModeCamera, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (supported: server, camera)", s)
	}
}

// Config is the bridge configuration as read from YAML.
type Config struct {
	ControllerAddress           string `yaml:"controller_address"`
	LocalAddress                string `yaml:"local_address"`
	ModeName                    string `yaml:"mode"`
	CallbackPort                int    `yaml:"callback_port"`
	RegistrationIntervalMinutes int    `yaml:"registration_interval_minutes"`
	Identifier                  string `yaml:"identifier"`
	RegistrationTimeout         string `yaml:"registration_timeout"`

	Camera struct {
		Name     string `yaml:"name"`
		HTTPPort int    `yaml:"http_port"`
	} `yaml:"camera"`

	Accessory struct {
		Name         string `yaml:"name"`
		Manufacturer string `yaml:"manufacturer"`
		Model        string `yaml:"model"`
		Serial       string `yaml:"serial"`
	} `yaml:"accessory"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	MQTT struct {
		Enabled         bool   `yaml:"enabled"`
		Broker          string `yaml:"broker"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		TopicPrefix     string `yaml:"topic_prefix"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"mqtt"`

	Events struct {
		Websocket      bool     `yaml:"websocket"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"events"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	ScriptsDir string `yaml:"scripts_dir"`

	// Populated by Normalize.
	Mode    Mode          `yaml:"-"`
	Timeout time.Duration `yaml:"-"`
}

// Load reads and parses a YAML config file. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Normalize substitutes defaults for zero fields and validates the result.
// All validation failures are returned together.
func (c *Config) Normalize() error {
	c.ControllerAddress = strings.TrimSpace(c.ControllerAddress)
	c.LocalAddress = strings.TrimSpace(c.LocalAddress)

	var errs []error
	if c.ControllerAddress == "" {
		errs = append(errs, errors.New("controller_address is required"))
	}
	if c.LocalAddress == "" {
		errs = append(errs, errors.New("local_address is required"))
	}
	if len(errs) > 0 {
		// Nothing else matters until both addresses are known.
		return errors.Join(errs...)
	}

	mode, err := ParseMode(c.ModeName)
	if err != nil {
		errs = append(errs, err)
	}
	c.Mode = mode

	if c.CallbackPort == 0 {
		c.CallbackPort = DefaultCallbackPort
	}
	if c.Camera.HTTPPort == 0 {
		c.Camera.HTTPPort = DefaultCameraHTTPPort
	}
	if c.RegistrationIntervalMinutes == 0 {
		c.RegistrationIntervalMinutes = DefaultIntervalMinutes
	}
	if c.Identifier == "" {
		c.Identifier = DefaultIdentifier
	}
	if c.Camera.Name == "" {
		c.Camera.Name = DefaultCameraName
	}
	if c.Accessory.Name == "" {
		c.Accessory.Name = DefaultAccessoryName
	}
	if c.Accessory.Manufacturer == "" {
		c.Accessory.Manufacturer = DefaultManufacturer
	}
	if c.Accessory.Model == "" {
		c.Accessory.Model = DefaultModel
	}
	if c.Accessory.Serial == "" {
		c.Accessory.Serial = c.Identifier
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	c.Timeout = DefaultRegistrationTimeout
	if c.RegistrationTimeout != "" {
		d, err := time.ParseDuration(c.RegistrationTimeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("registration_timeout: %w", err))
		case d <= 0:
			errs = append(errs, fmt.Errorf("registration_timeout must be positive, got %s", d))
		default:
			c.Timeout = d
		}
	}

	if err := checkPort("callback_port", c.CallbackPort); err != nil {
		errs = append(errs, err)
	}
	if err := checkPort("camera.http_port", c.Camera.HTTPPort); err != nil {
		errs = append(errs, err)
	}
	if c.RegistrationIntervalMinutes < 1 || c.RegistrationIntervalMinutes > MaxIntervalMinutes {
		errs = append(errs, fmt.Errorf("registration_interval_minutes must be 1-%d, got %d",
			MaxIntervalMinutes, c.RegistrationIntervalMinutes))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	return errors.Join(errs...)
}

// Interval returns the registration period.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.RegistrationIntervalMinutes) * time.Minute
}

// ServesCallbacks reports whether this instance runs its own callback server.
func (c *Config) ServesCallbacks() bool {
	return c.Mode == ModeServer
}

// CallbackTargetPort is the port the controller is told to call back on.
func (c *Config) CallbackTargetPort() int {
	if c.Mode == ModeCamera {
		return c.Camera.HTTPPort
	}
	return c.CallbackPort
}

func checkPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", name, port)
	}
	return nil
}
