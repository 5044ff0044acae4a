package registration

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"bticino-bridge/internal/config"
)

// Callback paths served by our own callback server.
const (
	PathDoorbell = "/doorbell"
	PathLocked   = "/locked"
	PathUnlocked = "/unlocked"
)

// URLs are the three callback targets announced to the controller.
type URLs struct {
	Pressed  string
	Locked   string
	Unlocked string
}

// Descriptor is everything one registration attempt sends.
type Descriptor struct {
	Callbacks   URLs
	RegisterURL string
}

// CallbackURLs builds the callback targets for the configured mode.
func CallbackURLs(cfg *config.Config) URLs {
	base := "http://" + net.JoinHostPort(cfg.LocalAddress, strconv.Itoa(cfg.CallbackTargetPort()))

	switch cfg.Mode {
	case config.ModeCamera:
		// The camera-streaming server routes on the deviceName query.
		shared := base + PathDoorbell + "?deviceName=" + escapeComponent(cfg.Camera.Name)
		return URLs{
			Pressed:  shared,
			Locked:   shared + "&locked=true",
			Unlocked: shared + "&unlocked=true",
		}
	default:
		return URLs{
			Pressed:  base + PathDoorbell,
			Locked:   base + PathLocked,
			Unlocked: base + PathUnlocked,
		}
	}
}

// Build assembles the registration URL for cfg.
func Build(cfg *config.Config) Descriptor {
	cb := CallbackURLs(cfg)

	var b strings.Builder
	b.WriteString("http://")
	b.WriteString(net.JoinHostPort(cfg.ControllerAddress, strconv.Itoa(config.ControllerRegistrationPort)))
	b.WriteString("/register-endpoint?raw=true")
	b.WriteString("&identifier=" + url.QueryEscape(cfg.Identifier))
	b.WriteString("&pressed=" + Encode(cb.Pressed))
	b.WriteString("&locked=" + Encode(cb.Locked))
	b.WriteString("&unlocked=" + Encode(cb.Unlocked))
	b.WriteString("&verifyUser=false")

	return Descriptor{Callbacks: cb, RegisterURL: b.String()}
}

// Encode turns a callback URL into a registration query value:
// Base64 of the raw bytes, then percent-encoded.
func Encode(raw string) string {
	return url.QueryEscape(base64.StdEncoding.EncodeToString([]byte(raw)))
}

// Decode reverses Encode.
func Decode(enc string) (string, error) {
	b64, err := url.QueryUnescape(enc)
	if err != nil {
		return "", fmt.Errorf("percent-decode: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("base64-decode: %w", err)
	}
	return string(raw), nil
}

// DecodeRegisterURL extracts the callback URLs embedded in a registration URL.
func DecodeRegisterURL(registerURL string) (URLs, error) {
	u, err := url.Parse(registerURL)
	if err != nil {
		return URLs{}, fmt.Errorf("parse register url: %w", err)
	}
	q := u.Query()
	var out URLs
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"pressed", &out.Pressed},
		{"locked", &out.Locked},
		{"unlocked", &out.Unlocked},
	} {
		// url.Values already percent-decoded the value once.
		raw, err := base64.StdEncoding.DecodeString(q.Get(f.name))
		if err != nil {
			return URLs{}, fmt.Errorf("%s: base64-decode: %w", f.name, err)
		}
		*f.dst = string(raw)
	}
	return out, nil
}

// componentUnescaper undoes the QueryEscape forms that encodeURIComponent
// leaves alone: '+' for space, and the sub-delims !'()*.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeComponent percent-encodes s the way JavaScript encodeURIComponent
// does.
func escapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
