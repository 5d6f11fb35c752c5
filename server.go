package httpuv

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server listens on a TCP address and serves HTTP/1.1 and upgraded
// WebSocket connections against a WebApplication.
type Server struct {
	ID uuid.UUID

	opts *Options
	app  WebApplication
	log  zerolog.Logger
	m    *Metrics

	listener net.Listener

	mu          sync.Mutex
	connections []*Connection
	closed      bool

	wg sync.WaitGroup
}

// NewServer binds a TCP listener at opts.Addr and returns a Server ready to
// Serve. It does not start accepting connections; call Serve for that.
func NewServer(opts Options, app WebApplication) (*Server, error) {
	return NewServerWithLogger(opts, app, zerolog.Nop())
}

// NewServerWithLogger is NewServer with an explicit logger, for embedders
// that want server events folded into their own structured log stream.
func NewServerWithLogger(opts Options, app WebApplication, log zerolog.Logger) (*Server, error) {
	if app == nil {
		return nil, errors.New("httpuv: app must not be nil")
	}
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", opts.Addr)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	s := &Server{
		ID:       id,
		opts:     &opts,
		app:      app,
		log:      log.With().Str("server_id", id.String()).Logger(),
		listener: ln,
	}
	return s, nil
}

// WithMetrics attaches a Metrics instance for this Server to report to.
func (s *Server) WithMetrics(m *Metrics) *Server {
	s.m = m
	return s
}

func (s *Server) metrics() *Metrics { return s.m }

// Addr returns the listener's bound network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop, blocking until the listener is closed (by
// Close or an external Close of the same listener). Each accepted
// connection is handled on its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isClosedConnErr(err) {
				return nil
			}
			s.log.Error().Err(err).Msg("accept error")
			continue
		}
		c := newConnection(conn, s, s.app, s.opts, s.log)
		s.register(c)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
		}()
	}
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.Close()
		return
	}
	s.connections = append(s.connections, c)
}

func (s *Server) deregister(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.connections {
		if existing == c {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			return
		}
	}
}

// Close closes the listener and every tracked connection (in reverse
// registration order), then blocks until every connection goroutine has
// exited.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	toClose := make([]*Connection, len(s.connections))
	copy(toClose, s.connections)
	s.mu.Unlock()

	for i := len(toClose) - 1; i >= 0; i-- {
		toClose[i].Close()
	}

	err := s.listener.Close()
	s.wg.Wait()
	return err
}
