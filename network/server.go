package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ConnHandler serves one accepted connection. It returns when the
// connection is finished; the server closes the connection afterwards.
type ConnHandler func(ctx context.Context, conn *Conn)

// Server accepts framed TCP connections.
type Server struct {
	cfg      Config
	handler  ConnHandler
	logger   *zap.Logger
	listener net.Listener
	running  int32 // atomic flag

	// Connection management
	connections   map[string]*Conn
	connectionsMu sync.Mutex

	// Synchronization
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	totalConnections   int64
	currentConnections int64
	rejected           int64
	startTime          time.Time
}

// NewServer creates a server that runs handler for every accepted connection.
func NewServer(cfg Config, handler ConnHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:         cfg,
		handler:     handler,
		logger:      logger,
		connections: make(map[string]*Conn),
	}
}

// Start listens on the configured address and starts accepting connections.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("framed server listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Stop closes the listener and every open connection, then waits for
// connection handlers to return or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return nil
	}

	s.cancel()
	s.listener.Close()

	s.connectionsMu.Lock()
	for _, conn := range s.connections {
		conn.Close()
	}
	s.connectionsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("framed server stopped", zap.String("address", s.listener.Addr().String()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop server: %w", ctx.Err())
	}
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	return int(atomic.LoadInt64(&s.currentConnections))
}

// Stats returns server statistics.
func (s *Server) Stats() ServerStats {
	addr := ""
	if a := s.Addr(); a != nil {
		addr = a.String()
	}
	return ServerStats{
		Address:            addr,
		Running:            atomic.LoadInt32(&s.running) == 1,
		StartTime:          s.startTime,
		TotalConnections:   atomic.LoadInt64(&s.totalConnections),
		CurrentConnections: atomic.LoadInt64(&s.currentConnections),
		Rejected:           atomic.LoadInt64(&s.rejected),
	}
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.logger.Warn("failed to accept connection", zap.Error(err))
			return
		}

		if s.cfg.MaxConnections > 0 && atomic.LoadInt64(&s.currentConnections) >= int64(s.cfg.MaxConnections) {
			s.logger.Warn("connection limit reached, rejecting connection",
				zap.Int("limit", s.cfg.MaxConnections),
				zap.String("remote", conn.RemoteAddr().String()))
			atomic.AddInt64(&s.rejected, 1)
			conn.Close()
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok && s.cfg.KeepAlive {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(s.cfg.KeepAliveInterval)
		}

		c := NewConn(conn, s.cfg)
		if !s.addConnection(c) {
			c.Close()
			return
		}
		atomic.AddInt64(&s.totalConnections, 1)

		s.wg.Add(1)
		go s.serve(c)
	}
}

// serve runs the handler for a single connection.
func (s *Server) serve(c *Conn) {
	defer s.wg.Done()
	defer s.removeConnection(c.ID())
	defer c.Close()

	s.handler(s.ctx, c)
}

// addConnection tracks a connection; it fails once the server is stopping.
func (s *Server) addConnection(c *Conn) bool {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	s.connections[c.ID()] = c
	atomic.AddInt64(&s.currentConnections, 1)
	return true
}

// removeConnection stops tracking a connection.
func (s *Server) removeConnection(id string) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()

	if _, exists := s.connections[id]; exists {
		delete(s.connections, id)
		atomic.AddInt64(&s.currentConnections, -1)
	}
}

// ServerStats holds statistics for a server.
type ServerStats struct {
	Address            string    `json:"address"`
	Running            bool      `json:"running"`
	StartTime          time.Time `json:"start_time"`
	TotalConnections   int64     `json:"total_connections"`
	CurrentConnections int64     `json:"current_connections"`
	Rejected           int64     `json:"rejected"`
}
