// Package bridge wires the configuration, accessory platform, callback
// server and registration client into one service with a single
// start/stop lifecycle.
package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"bticino-bridge/internal/accessory"
	"bticino-bridge/internal/callback"
	"bticino-bridge/internal/config"
	"bticino-bridge/internal/registration"
	"bticino-bridge/internal/store"
)

// Host is what an extension attaches to.
type Host struct {
	Platform     *accessory.Platform
	Registration *registration.Client
}

// Extension is an optional collaborator started once the accessory is set
// up and the registration loop is running (MQTT, automation). The returned
// stop func runs on shutdown.
type Extension func(h Host, logger *slog.Logger) (stop func(), err error)

type namedExtension struct {
	name  string
	start Extension
}

// Option configures the service.
type Option func(*Service)

// WithVersion sets the version reported in /status.
func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// WithHTTPClient overrides the registration HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) { s.httpClient = hc }
}

// WithListenAddr overrides the callback listen address.
func WithListenAddr(addr string) Option {
	return func(s *Service) { s.listenAddr = addr }
}

// WithExtension adds a collaborator started after the accessory is ready.
func WithExtension(name string, ext Extension) Option {
	return func(s *Service) {
		s.extensions = append(s.extensions, namedExtension{name: name, start: ext})
	}
}

// Service owns every long-lived resource of the bridge.
type Service struct {
	cfg        *config.Config
	cfgErr     error
	base       *slog.Logger
	logger     *slog.Logger
	version    string
	httpClient *http.Client
	listenAddr string
	extensions []namedExtension

	startOnce sync.Once
	stopOnce  sync.Once

	mu       sync.Mutex
	db       store.Store
	platform *accessory.Platform
	server   *callback.Server
	client   *registration.Client
	stops    []func()
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New normalizes cfg and creates the service. An invalid config is logged
// once and leaves the service inert: Start and Stop become no-ops.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		base:   logger,
		logger: logger.With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := cfg.Normalize(); err != nil {
		s.cfgErr = err
		s.logger.Error("invalid configuration, bridge inactive", "err", err)
	}
	return s
}

// Err returns the configuration error that made the service inert, if any.
func (s *Service) Err() error { return s.cfgErr }

// Inert reports whether the service refused to start due to its config.
func (s *Service) Inert() bool { return s.cfgErr != nil }

// Start restores cached accessories, sets up the doorbell, binds the
// callback server (own-server mode), launches the registration loop and
// then starts extensions. Only the first call has an effect.
func (s *Service) Start(ctx context.Context) {
	if s.Inert() {
		return
	}
	s.startOnce.Do(func() { s.start(ctx) })
}

func (s *Service) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.openStore()
	bus := accessory.NewEventBus(s.base.With("component", "events"))
	platform := accessory.NewPlatform(identity(s.cfg), db, bus, s.base)
	if db != nil {
		restoreCache(platform, db, s.logger)
	}
	platform.SetupAccessory()

	clientOpts := []registration.Option{registration.WithEvents(bus)}
	if s.httpClient != nil {
		clientOpts = append(clientOpts, registration.WithHTTPClient(s.httpClient))
	}
	client := registration.NewClient(s.cfg, s.base, clientOpts...)

	var server *callback.Server
	if s.cfg.ServesCallbacks() {
		server = s.newServer(platform, client, bus)
		if err := server.Start(); err != nil {
			s.logger.Error("callback server failed to start", "err", err)
			server.Stop(ctx)
			server = nil
		}
	} else {
		s.logger.Info("callbacks delivered to camera server", "port", s.cfg.CallbackTargetPort())
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		client.Run(runCtx)
	}()

	// Extensions may block on their own connections; the first attempt is
	// already under way.
	host := Host{Platform: platform, Registration: client}
	var stops []func()
	for _, ext := range s.extensions {
		stop, err := ext.start(host, s.base)
		if err != nil {
			s.logger.Error("extension failed to start", "name", ext.name, "err", err)
			continue
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}

	s.db = db
	s.platform = platform
	s.server = server
	s.client = client
	s.stops = stops
	s.cancel = cancel

	s.logger.Info("bridge started",
		"mode", s.cfg.Mode.String(),
		"controller", s.cfg.ControllerAddress,
		"callback_port", s.cfg.CallbackTargetPort(),
		"interval", s.cfg.Interval().String(),
	)
}

func (s *Service) newServer(platform *accessory.Platform, client *registration.Client, bus *accessory.EventBus) *callback.Server {
	opts := []callback.ServerOption{
		callback.WithDoorbell(platform),
		callback.WithRegistration(client),
		callback.WithVersion(s.version),
	}
	if s.listenAddr != "" {
		opts = append(opts, callback.WithListenAddr(s.listenAddr))
	}
	if s.cfg.Events.Websocket {
		opts = append(opts,
			callback.WithEventStream(bus),
			callback.WithAllowedOrigins(s.cfg.Events.AllowedOrigins),
		)
	}
	return callback.NewServer(s.cfg, s.base, opts...)
}

// openStore opens the accessory cache. A failure is logged and the bridge
// runs without persistence.
func (s *Service) openStore() store.Store {
	if s.cfg.Store.Path == "" {
		return nil
	}
	db, err := store.NewBoltStore(s.cfg.Store.Path)
	if err != nil {
		s.logger.Error("open accessory cache, continuing without persistence", "path", s.cfg.Store.Path, "err", err)
		return nil
	}
	return db
}

func restoreCache(p *accessory.Platform, db store.Store, logger *slog.Logger) {
	cached, err := db.ListAccessories()
	if err != nil {
		logger.Warn("list cached accessories", "err", err)
		return
	}
	for _, acc := range cached {
		p.ConfigureAccessory(acc)
	}
}

func identity(cfg *config.Config) accessory.Identity {
	return accessory.Identity{
		Identifier:   cfg.Identifier,
		Name:         cfg.Accessory.Name,
		Manufacturer: cfg.Accessory.Manufacturer,
		Model:        cfg.Accessory.Model,
		Serial:       cfg.Accessory.Serial,
	}
}

// Stop cancels the registration loop and waits for it, then stops the
// callback server, the extensions and the store. Safe to call repeatedly.
func (s *Service) Stop(ctx context.Context) {
	if s.Inert() {
		return
	}
	s.stopOnce.Do(func() { s.stop(ctx) })
}

func (s *Service) stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Warn("callback server shutdown", "err", err)
		}
	}
	for i := len(s.stops) - 1; i >= 0; i-- {
		s.stops[i]()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("close accessory cache", "err", err)
		}
	}
	s.logger.Info("bridge stopped")
}

// Platform returns the accessory platform, or nil before Start.
func (s *Service) Platform() *accessory.Platform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platform
}

// Server returns the callback server, or nil when not serving.
func (s *Service) Server() *callback.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// Client returns the registration client, or nil before Start.
func (s *Service) Client() *registration.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
