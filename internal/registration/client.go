package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bticino-bridge/internal/accessory"
	"bticino-bridge/internal/config"
)

// maxBodyLog bounds how much of a failed response body is logged.
const maxBodyLog = 64 << 10

// Result is the outcome of one registration attempt.
type Result struct {
	At         time.Time `json:"at"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status,omitempty"`
	Body       string    `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithEvents publishes registration outcomes on bus.
func WithEvents(bus *accessory.EventBus) Option {
	return func(c *Client) {
		c.events = bus
	}
}

// WithInterval overrides the configured registration interval.
func WithInterval(d time.Duration) Option {
	return func(c *Client) {
		c.interval = d
	}
}

// Client announces the callback URLs to the controller.
type Client struct {
	cfg      *config.Config
	desc     Descriptor
	http     *http.Client
	events   *accessory.EventBus
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	last     Result
	attempts int
}

// NewClient creates a registration client for a normalized config.
func NewClient(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg,
		desc:     Build(cfg),
		interval: cfg.Interval(),
		logger:   logger.With("component", "registration"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	return c
}

// Descriptor returns the URLs sent on every attempt.
func (c *Client) Descriptor() Descriptor {
	return c.desc
}

// Run registers immediately, then again on every interval tick until ctx is
// cancelled. The ticker is armed once, so attempts keep a fixed cadence.
// Cancelling ctx also aborts an attempt in flight.
func (c *Client) Run(ctx context.Context) {
	c.logger.Info("registration loop started", "controller", c.cfg.ControllerAddress, "interval", c.interval)
	c.Register(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("registration loop stopped")
			return
		case <-ticker.C:
			c.Register(ctx)
		}
	}
}

// Register performs one registration POST. Failures are logged and
// returned in the Result, never escalated.
func (c *Client) Register(ctx context.Context) Result {
	res := c.do(ctx)

	c.mu.Lock()
	c.last = res
	c.attempts++
	c.mu.Unlock()

	// An attempt aborted by shutdown is not reported as a failure.
	if c.events != nil && (res.OK || ctx.Err() == nil) {
		eventType := accessory.EventRegistrationSucceeded
		if !res.OK {
			eventType = accessory.EventRegistrationFailed
		}
		data := map[string]any{"controller": c.cfg.ControllerAddress}
		if res.StatusCode != 0 {
			data["status"] = res.StatusCode
		}
		if res.Error != "" {
			data["error"] = res.Error
		}
		c.events.Emit(accessory.Event{Type: eventType, Data: data, Timestamp: res.At})
	}
	return res
}

// Last returns the most recent result. ok is false before the first attempt.
func (c *Client) Last() (res Result, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.attempts > 0
}

// Attempts returns how many registration attempts have been made.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) do(ctx context.Context) Result {
	res := Result{At: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.desc.RegisterURL, nil)
	if err != nil {
		res.Error = err.Error()
		c.logger.Error("registration request", "err", err)
		return res
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			c.logger.Debug("registration aborted", "err", ctx.Err())
			return res
		}
		res.Error = errorMessage(err)
		c.logger.Error("registration failed", "controller", c.cfg.ControllerAddress, "err", res.Error)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.OK = true
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyLog))
		c.logger.Info("endpoints registered", "controller", c.cfg.ControllerAddress)
		c.logger.Debug("doorbell callback", "url", c.desc.Callbacks.Pressed)
		return res
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	if err != nil {
		c.logger.Debug("read registration response", "err", err)
	}
	res.Body = strings.TrimSpace(string(body))
	res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	c.logger.Warn("registration rejected", "controller", c.cfg.ControllerAddress, "status", resp.StatusCode)
	if res.Body != "" {
		c.logger.Warn("registration response", "body", res.Body)
	}
	return res
}

// errorMessage returns err's message, or a generic one if it has none.
func errorMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && urlErr.Err.Error() != "" {
		return urlErr.Err.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}
