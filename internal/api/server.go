package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/bridge"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/logging"
)

// Server timeouts.
const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// StatusSource exposes the scheduler's state. Implemented by *bridge.Scheduler.
type StatusSource interface {
	SiteID() string
	State() bridge.PollState
	LastCycle() (bridge.CycleReport, bool)
	Fatal() error
}

// CycleSource reads the cycle journal. Implemented by *bridge.SQLiteJournal.
type CycleSource interface {
	Recent(ctx context.Context, limit int) ([]bridge.CycleReport, error)
}

// BrokerStatus reports the MQTT connection. Implemented by *mqtt.Client.
type BrokerStatus interface {
	IsConnected() bool
	Broker() string
}

// DBStatser exposes connection pool statistics. Implemented by *sql.DB.
type DBStatser interface {
	Stats() sql.DBStats
}

// MirrorStatus reports asynchronous write failures of the snapshot mirror.
// Implemented by *influxdb.Client.
type MirrorStatus interface {
	WriteFailures() (int, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Scheduler StatusSource
	MQTT      BrokerStatus
	Journal   CycleSource  // optional
	DB        DBStatser    // optional
	Mirror    MirrorStatus // optional
	Version   string
}

// Server is the HTTP status server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	scheduler StatusSource
	mqtt      BrokerStatus
	journal   CycleSource
	db        DBStatser
	mirror    MirrorStatus
	version   string
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.MQTT == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		scheduler: deps.Scheduler,
		mqtt:      deps.MQTT,
		journal:   deps.Journal,
		db:        deps.DB,
		mirror:    deps.Mirror,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens before Start returns, so a port in use is reported here
// rather than logged later.
//
// Returns:
//   - error: If the address cannot be bound or the server already started
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
