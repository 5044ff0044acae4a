package registration

import (
	"net/url"
	"strings"
	"testing"

	"bticino-bridge/internal/config"
)

func normalized(t *testing.T, cfg *config.Config) *config.Config {
	t.Helper()
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return cfg
}

func TestBuildScenario(t *testing.T) {
	cfg := normalized(t, &config.Config{
		ControllerAddress: "10.0.0.5",
		LocalAddress:      "10.0.0.9",
		CallbackPort:      8282,
		Identifier:        "home1",
	})
	desc := Build(cfg)

	u, err := url.Parse(desc.RegisterURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "10.0.0.5:8080" {
		t.Errorf("host = %q, want 10.0.0.5:8080", u.Host)
	}
	if u.Path != "/register-endpoint" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("identifier") != "home1" {
		t.Errorf("identifier = %q", q.Get("identifier"))
	}
	if q.Get("raw") != "true" || q.Get("verifyUser") != "false" {
		t.Errorf("raw/verifyUser = %q/%q", q.Get("raw"), q.Get("verifyUser"))
	}

	got, err := DecodeRegisterURL(desc.RegisterURL)
	if err != nil {
		t.Fatalf("DecodeRegisterURL: %v", err)
	}
	want := URLs{
		Pressed:  "http://10.0.0.9:8282/doorbell",
		Locked:   "http://10.0.0.9:8282/locked",
		Unlocked: "http://10.0.0.9:8282/unlocked",
	}
	if got != want {
		t.Errorf("callbacks = %+v, want %+v", got, want)
	}
	if desc.Callbacks != want {
		t.Errorf("descriptor callbacks = %+v, want %+v", desc.Callbacks, want)
	}
}

func TestBuildParameterOrder(t *testing.T) {
	cfg := normalized(t, &config.Config{ControllerAddress: "c", LocalAddress: "l"})
	desc := Build(cfg)

	_, query, ok := strings.Cut(desc.RegisterURL, "?")
	if !ok {
		t.Fatal("no query")
	}
	var keys []string
	for _, pair := range strings.Split(query, "&") {
		k, _, _ := strings.Cut(pair, "=")
		keys = append(keys, k)
	}
	want := []string{"raw", "identifier", "pressed", "locked", "unlocked", "verifyUser"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	inputs := []string{
		"http://10.0.0.9:8282/doorbell",
		"http://192.168.1.20:8081/doorbell?deviceName=BTicino%20Doorbell&unlocked=true",
		"http://host.local:1/x?a=b+c",
		"",
	}
	for _, in := range inputs {
		enc := Encode(in)
		if strings.ContainsAny(enc, "+/=") {
			t.Errorf("Encode(%q) = %q contains unescaped base64 symbols", in, enc)
		}
		got, err := Decode(enc)
		if err != nil {
			t.Errorf("Decode(%q): %v", enc, err)
			continue
		}
		if got != in {
			t.Errorf("round trip = %q, want %q", got, in)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode("%zz"); err == nil {
		t.Error("expected percent-decode error")
	}
	if _, err := Decode("not*base64"); err == nil {
		t.Error("expected base64 error")
	}
}

func TestCallbackURLsCameraMode(t *testing.T) {
	cfg := &config.Config{ControllerAddress: "10.0.0.5", LocalAddress: "10.0.0.9", ModeName: "camera"}
	cfg.Camera.Name = "Front Door & Gate"
	normalized(t, cfg)

	got := CallbackURLs(cfg)
	base := "http://10.0.0.9:8081/doorbell?deviceName=Front%20Door%20%26%20Gate"
	want := URLs{
		Pressed:  base,
		Locked:   base + "&locked=true",
		Unlocked: base + "&unlocked=true",
	}
	if got != want {
		t.Errorf("callbacks = %+v, want %+v", got, want)
	}

	decoded, err := DecodeRegisterURL(Build(cfg).RegisterURL)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != want {
		t.Errorf("decoded = %+v, want %+v", decoded, want)
	}
}

func TestCallbackURLsIPv6(t *testing.T) {
	cfg := normalized(t, &config.Config{ControllerAddress: "fd00::5", LocalAddress: "fd00::9"})
	got := CallbackURLs(cfg)
	if got.Pressed != "http://[fd00::9]:8282/doorbell" {
		t.Errorf("pressed = %q", got.Pressed)
	}
	if !strings.HasPrefix(Build(cfg).RegisterURL, "http://[fd00::5]:8080/") {
		t.Errorf("register url = %q", Build(cfg).RegisterURL)
	}
}

func TestEscapeComponent(t *testing.T) {
	tests := map[string]string{
		"BTicino Doorbell": "BTicino%20Doorbell",
		"a+b":              "a%2Bb",
		"x/y?z":            "x%2Fy%3Fz",
		"Door (Front)!":    "Door%20(Front)!",
		"it's *here*":      "it's%20*here*",
		"~a-b_c.d":         "~a-b_c.d",
		"100%21":           "100%2521",
		"caffè":            "caff%C3%A8",
	}
	for in, want := range tests {
		if got := escapeComponent(in); got != want {
			t.Errorf("escapeComponent(%q) = %q, want %q", in, got, want)
		}
	}
}
