package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bticino-bridge/internal/accessory"
	"bticino-bridge/internal/config"
	"bticino-bridge/internal/registration"
)

// PluginName identifies this bridge in status responses.
const PluginName = "bticino-bridge"

// ErrServerStopped is returned by Start after the server has been stopped.
var ErrServerStopped = errors.New("callback server stopped")

// Event names reported in callback responses.
const (
	EventDoorbellPressed = "doorbell_pressed"
	EventDoorLocked      = "door_locked"
	EventDoorUnlocked    = "door_unlocked"
)

// knownEndpoints is advertised in 404 responses.
var knownEndpoints = []string{"/doorbell", "/locked", "/unlocked", "/status"}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Doorbell is the accessory sink driven by controller callbacks.
type Doorbell interface {
	Ready() bool
	TriggerDoorbellPressed() error
	SetLockState(locked bool)
	LockState() (locked, known bool)
}

// RegistrationStatus reports the most recent registration attempt and how
// many have been made.
type RegistrationStatus interface {
	Last() (registration.Result, bool)
	Attempts() int
}

// State is the lifecycle state of the listener.
type State int

const (
	StateUnstarted State = iota
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// ServerOption configures the callback server.
type ServerOption func(*Server)

// WithDoorbell wires the accessory sink.
func WithDoorbell(d Doorbell) ServerOption {
	return func(s *Server) {
		s.doorbell = d
	}
}

// WithRegistration exposes the registration outcome in /status.
func WithRegistration(r RegistrationStatus) ServerOption {
	return func(s *Server) {
		s.registration = r
	}
}

// WithEventStream mounts the /events websocket, fed from bus.
func WithEventStream(bus *accessory.EventBus) ServerOption {
	return func(s *Server) {
		s.events = bus
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithListenAddr overrides the listen address (default ":{callback_port}").
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithVersion sets the version string shown in /status.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server receives controller callbacks and translates them into accessory
// state changes.
type Server struct {
	cfg            *config.Config
	doorbell       Doorbell
	registration   RegistrationStatus
	events         *accessory.EventBus
	allowedOrigins []string
	addr           string
	version        string
	logger         *slog.Logger
	started        time.Time
	routes         map[string]http.HandlerFunc

	wsHub       *WSHub
	wg          sync.WaitGroup
	unsubEvents func()

	mu         sync.Mutex
	state      State
	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}
}

// NewServer creates a callback server for a normalized config.
func NewServer(cfg *config.Config, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		addr:    ":" + strconv.Itoa(cfg.CallbackPort),
		logger:  logger.With("component", "callback"),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.events != nil {
		s.wsHub = NewWSHub(s.logger)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.wsHub.Run()
		}()
		s.unsubEvents = s.events.OnAll(func(event accessory.Event) {
			s.wsHub.Broadcast(event)
		})
	}

	s.routes = s.routeTable()
	return s
}

func (s *Server) routeTable() map[string]http.HandlerFunc {
	routes := map[string]http.HandlerFunc{
		"/doorbell": s.handleDoorbell,
		"/pressed":  s.handleDoorbell,
		"/locked":   s.handleLocked,
		"/unlocked": s.handleUnlocked,
		"/status":   s.handleStatus,
	}
	if s.wsHub != nil {
		routes["/events"] = s.handleWS
	}
	return routes
}

// ServeHTTP applies CORS headers and dispatches on the exact request path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("callback handler panic", "path", r.URL.Path, "panic", rec)
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
	}()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if h, ok := s.routes[r.URL.Path]; ok {
		h(w, r)
		return
	}

	s.logger.Debug("unknown callback path", "method", r.Method, "path", r.URL.Path)
	s.writeJSON(w, http.StatusNotFound, notFoundResponse{
		Error:     "Not found",
		Endpoints: knownEndpoints,
	})
}

type eventResponse struct {
	Success   bool   `json:"success"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

type notFoundResponse struct {
	Error     string   `json:"error"`
	Endpoints []string `json:"endpoints"`
}

type statusResponse struct {
	Plugin               string               `json:"plugin"`
	Version              string               `json:"version,omitempty"`
	ControllerAddress    string               `json:"controllerAddress"`
	LocalAddress         string               `json:"localAddress"`
	CallbackPort         int                  `json:"callbackPort"`
	DoorbellReady        bool                 `json:"doorbellReady"`
	Locked               *bool                `json:"locked"`
	Uptime               int64                `json:"uptime"`
	RegistrationAttempts int                  `json:"registrationAttempts"`
	LastRegistration     *registration.Result `json:"lastRegistration,omitempty"`
	Timestamp            string               `json:"timestamp"`
}

func (s *Server) handleDoorbell(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("doorbell pressed", "remote", r.RemoteAddr)

	// The controller is acknowledged even when the accessory is not wired.
	switch {
	case s.doorbell == nil || !s.doorbell.Ready():
		s.logger.Warn("doorbell accessory not ready, event dropped")
	default:
		if err := s.doorbell.TriggerDoorbellPressed(); err != nil {
			s.logger.Warn("trigger doorbell", "err", err)
		}
	}
	s.writeEvent(w, EventDoorbellPressed)
}

func (s *Server) handleLocked(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("door locked", "remote", r.RemoteAddr)
	if s.doorbell != nil {
		s.doorbell.SetLockState(true)
	}
	s.writeEvent(w, EventDoorLocked)
}

func (s *Server) handleUnlocked(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("door unlocked", "remote", r.RemoteAddr)
	if s.doorbell != nil {
		s.doorbell.SetLockState(false)
	}
	s.writeEvent(w, EventDoorUnlocked)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Plugin:            PluginName,
		Version:           s.version,
		ControllerAddress: s.cfg.ControllerAddress,
		LocalAddress:      s.cfg.LocalAddress,
		CallbackPort:      s.cfg.CallbackPort,
		Uptime:            int64(time.Since(s.started) / time.Second),
		Timestamp:         timestamp(),
	}
	if s.doorbell != nil {
		resp.DoorbellReady = s.doorbell.Ready()
		if locked, known := s.doorbell.LockState(); known {
			resp.Locked = &locked
		}
	}
	if s.registration != nil {
		resp.RegistrationAttempts = s.registration.Attempts()
		if last, ok := s.registration.Last(); ok {
			resp.LastRegistration = &last
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeEvent(w http.ResponseWriter, event string) {
	s.writeJSON(w, http.StatusOK, eventResponse{
		Success:   true,
		Event:     event,
		Timestamp: timestamp(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func timestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener and serves in the background. A bind failure
// leaves the server unstarted. Calling Start while listening is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateListening:
		return nil
	case StateStopped:
		return ErrServerStopped
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	done := make(chan struct{})
	s.httpServer = srv
	s.listener = ln
	s.serveDone = done
	s.state = StateListening

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server", "err", err)
		}
	}()

	s.logger.Info("callback server listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and the event stream. In-flight requests get
// until ctx is done. Stopping twice is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = StateStopped
	srv := s.httpServer
	done := s.serveDone
	s.mu.Unlock()

	if prev == StateStopped {
		return nil
	}

	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
		s.wg.Wait()
	}

	if prev != StateListening {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		srv.Close()
	}
	<-done
	s.logger.Info("callback server stopped")
	return err
}
