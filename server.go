package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/net/netutil"
)

const maxAcceptBackoff = time.Second

// GenericServer defines an interface for managing a TCP server with methods to start and stop the server.
type GenericServer interface {
	// Listen binds the listening socket.
	Listen() error

	// Start runs the accept loop until the listener is closed.
	Start() error

	// Stop closes the listener and waits for the accept loop to return.
	Stop() error

	// Addr returns the bound address, or nil before Listen.
	Addr() net.Addr
}

// MultiServer accepts TCP connections and submits one job per connection to a worker pool.
// It never reads from or writes to a connection itself.
type MultiServer struct {
	config  *Config
	logger  *slog.Logger
	pool    WorkerPool
	handler func(conn net.Conn)

	listener net.Listener
	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a Server that hands every accepted connection to handler on pool.
func NewServer(cfg *Config, pool WorkerPool, handler func(conn net.Conn), logger *slog.Logger) *MultiServer {
	return &MultiServer{
		config:  cfg,
		logger:  logger,
		pool:    pool,
		handler: handler,
		done:    make(chan struct{}),
	}
}

func (s *MultiServer) Listen() error {
	var (
		listener net.Listener
		err      error
	)

	instance := s.config.Server.Listen
	address := instance.String()

	if instance.ReusePort {
		listener, err = reuseport.Listen("tcp", address)
	} else {
		listener, err = net.Listen("tcp", address)
	}

	if err != nil {
		return fmt.Errorf("could not start server: %w", err)
	}

	if s.config.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.Server.MaxConnections)
	}

	s.listener = listener

	s.logger.Info(
		"Server is listening",
		slog.String("address", listener.Addr().String()),
		slog.Bool("reuse_port", instance.ReusePort),
		slog.Int("max_connections", s.config.Server.MaxConnections),
	)

	return nil
}

func (s *MultiServer) Start() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	if !s.started.CompareAndSwap(false, true) {
		return errors.New("server already started")
	}

	defer close(s.done)

	var backoff time.Duration

	for {
		conn, err := s.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			s.logger.Info("Server is shutting down", slog.String("address", s.listener.Addr().String()))

			return nil
		}

		if err != nil {
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}

			s.logger.Error("Error accepting connection", slog.String("error", err.Error()), slog.Duration("retry_in", backoff))

			time.Sleep(backoff)

			continue
		}

		backoff = 0

		if err = s.pool.Submit(func() { s.handler(conn) }); err != nil {
			s.logger.Error("Dropping connection", slog.String("client", remoteAddr(conn)), slog.String("error", err.Error()))

			_ = conn.Close()
		}
	}
}

func (s *MultiServer) Stop() error {
	s.stopOnce.Do(func() {
		if s.listener == nil {
			return
		}

		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.stopErr = fmt.Errorf("could not close listener: %w", err)
		}

		if s.started.Load() {
			<-s.done
		}
	})

	return s.stopErr
}

func (s *MultiServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

var _ GenericServer = (*MultiServer)(nil)
