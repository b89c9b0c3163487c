package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/coreiot-gateway/internal/device"
	"github.com/nerrad567/coreiot-gateway/internal/gateway"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/config"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/logging"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// HealthChecker reports whether a dependency is usable.
// *mqtt.Session satisfies it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Gateway  *gateway.Gateway
	Store    *device.Store

	// Broker is optional; when set its health is reported by /health.
	Broker HealthChecker

	Version string
}

// Server is the HTTP boundary adapter in front of the gateway facade.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	security config.SecurityConfig
	logger   *logging.Logger
	gateway  *gateway.Gateway
	store    *device.Store
	broker   HealthChecker
	version  string

	hub    *Hub
	server *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
func New(deps Deps) (*Server, error) {
	if deps.Gateway == nil {
		return nil, errors.New("api: gateway is required")
	}
	if deps.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.WS.Path == "" {
		deps.WS.Path = "/ws"
	}

	hub := NewHub(deps.Logger)
	store := deps.Store
	hub.Serve(ChannelAttributeChanged, func() any { return store.List() })

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		security: deps.Security,
		logger:   deps.Logger,
		gateway:  deps.Gateway,
		store:    store,
		broker:   deps.Broker,
		version:  deps.Version,
		hub:      hub,
	}, nil
}

// Start begins listening for HTTP requests. It returns once the listener
// is bound; requests are served in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(hubCtx)
	}()

	s.store.SetOnChange(s.relayAttributeChange)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.cfg.ReadTimeout(),
		WriteTimeout: s.cfg.WriteTimeout(),
		IdleTimeout:  s.cfg.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cancel()
		return fmt.Errorf("api: listening on %s: %w", addr, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	s.logger.Info("api server started",
		"address", ln.Addr().String(),
		"auth", s.security.JWT.Secret != "",
	)
	return nil
}

// Close gracefully shuts down the server and disconnects WebSocket clients.
func (s *Server) Close() error {
	s.store.SetOnChange(nil)
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("api: shutdown: %w", shutdownErr)
		}
	}

	s.wg.Wait()
	s.logger.Info("api server stopped")
	return err
}

// HealthCheck reports whether the server is accepting requests.
func (s *Server) HealthCheck(_ context.Context) error {
	if s.server == nil {
		return errors.New("api: server not started")
	}
	return nil
}

// relayAttributeChange forwards store changes to WebSocket subscribers.
func (s *Server) relayAttributeChange(rec device.AttributeRecord) {
	s.hub.Broadcast(ChannelAttributeChanged, rec)
}
