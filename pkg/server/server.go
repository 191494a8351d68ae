package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/arisuchan/chatroom/pkg/group"
	"github.com/arisuchan/chatroom/pkg/metrics"
	"github.com/arisuchan/chatroom/pkg/protocol"
	"github.com/arisuchan/chatroom/pkg/session"
)

// Options configures the accept loop's resource limits.
type Options struct {
	// MaxConnections caps concurrently open connections; 0 means
	// unlimited. Connections beyond the cap are accepted then closed
	// immediately rather than left to queue in the OS backlog.
	MaxConnections int
	// ReadBufferSize sizes each connection's scanner's initial read
	// buffer; it still grows up to protocol.MaxLineBytes as needed.
	ReadBufferSize int
}

// Server runs the accept loop: a dedicated goroutine accepts
// connections, and each accepted connection gets its own
// ReadPump/WritePump pair. Uses net.Listen directly since the wire
// protocol is raw TCP, not HTTP-upgraded WebSocket.
type Server struct {
	listener       net.Listener
	dispatcher     *protocol.Dispatcher
	sessions       *session.Registry
	logger         *slog.Logger
	readBufferSize int
	connSlots      chan struct{}

	mu      sync.Mutex
	clients map[net.Conn]*Client
}

func New(dispatcher *protocol.Dispatcher, sessions *session.Registry, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		dispatcher:     dispatcher,
		sessions:       sessions,
		logger:         logger,
		readBufferSize: opts.ReadBufferSize,
		clients:        make(map[net.Conn]*Client),
	}
	if opts.MaxConnections > 0 {
		s.connSlots = make(chan struct{}, opts.MaxConnections)
	}
	return s
}

// Lookup resolves a session's net.Conn identity to its Client, used
// by pkg/group.Engine.Broadcast to obtain a Sender. It satisfies
// group.SenderLookup.
func (s *Server) Lookup(conn session.Conn) (group.Sender, bool) {
	nc, ok := conn.(net.Conn)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[nc]
	return c, ok
}

// ListenAndServe binds host:port and runs the accept loop until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("listening", "addr", addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down accept loop")
		ln.Close()
		s.sessions.Shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Error("accept failed", "error", err)
				return err
			}
		}
		if s.connSlots != nil {
			select {
			case s.connSlots <- struct{}{}:
			default:
				s.logger.Warn("connection limit reached, rejecting", "addr", conn.RemoteAddr())
				conn.Close()
				continue
			}
		}
		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsActive.Inc()
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	client := NewClientWithReadBuffer(conn, s.dispatcher, s.logger, s.onClientClosed, s.readBufferSize)

	s.mu.Lock()
	s.clients[conn] = client
	s.mu.Unlock()

	go client.WritePump()
	client.ReadPump()
}

func (s *Server) onClientClosed(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.conn)
	s.mu.Unlock()

	s.sessions.Disconnect(c.conn)
	metrics.ConnectionsActive.Dec()
	if s.connSlots != nil {
		<-s.connSlots
	}
}
