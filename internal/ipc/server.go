package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tabletd/internal/security"
	"tabletd/internal/session"
	"tabletd/internal/tablet"
)

// ErrAddressInUse is returned when another daemon already serves the
// socket.
var ErrAddressInUse = errors.New("control socket already in use")

// Backend is what the server exposes. *session.Session implements it.
type Backend interface {
	Status(ctx context.Context) (session.Status, error)
	Tools(ctx context.Context) ([]tablet.ToolInfo, error)
	Subscribe() *session.ChannelSink
	Unsubscribe(c *session.ChannelSink)
}

// ServerConfig configures the control socket.
type ServerConfig struct {
	SocketPath string
	Mode       os.FileMode
	// SameUserOnly rejects peers running as another user where the
	// platform can tell.
	SameUserOnly   bool
	MaxConnections int
	// MaxPerUser caps connections per peer uid. Zero disables the cap.
	MaxPerUser int
	// RequestRate and RequestBurst bound requests per connection.
	RequestRate    float64
	RequestBurst   int
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	Version        string
	Logger         *slog.Logger
}

// DefaultServerConfig returns defaults for a socket inside runtimeDir.
func DefaultServerConfig(runtimeDir string) ServerConfig {
	return ServerConfig{
		SocketPath:     filepath.Join(runtimeDir, "tabletd.sock"),
		Mode:           0600,
		SameUserOnly:   true,
		MaxConnections: 32,
		MaxPerUser:     16,
		RequestRate:    100,
		RequestBurst:   200,
		RequestTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
		Version:        "dev",
	}
}

// peer is one connected client.
type peer struct {
	id      uint64
	key     string
	conn    net.Conn
	limiter *security.RateLimiter
	writeMu sync.Mutex
}

// Server is the control socket server.
type Server struct {
	mu       sync.RWMutex
	listener net.Listener
	cfg      ServerConfig
	backend  Backend
	logger   *slog.Logger
	peers    map[uint64]*peer
	conns    *security.ConnectionLimiter

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool
	nextID    atomic.Uint64
	startedAt time.Time
}

// NewServer creates a server for backend.
func NewServer(cfg ServerConfig, backend Backend) (*Server, error) {
	if backend == nil {
		return nil, errors.New("ipc: backend is required")
	}
	if cfg.SocketPath == "" {
		return nil, errors.New("ipc: socket path is required")
	}
	def := DefaultServerConfig("")
	if cfg.Mode == 0 {
		cfg.Mode = def.Mode
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RequestRate <= 0 {
		cfg.RequestRate = def.RequestRate
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = def.RequestBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With("component", "ipc"),
		peers:   make(map[uint64]*peer),
		conns:   security.NewConnectionLimiter(cfg.MaxConnections, cfg.MaxPerUser),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins listening for connections.
func (s *Server) Start() error {
	if err := security.EnsurePrivateDir(filepath.Dir(s.cfg.SocketPath)); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(s.cfg.SocketPath) {
		return fmt.Errorf("%s: %w", s.cfg.SocketPath, ErrAddressInUse)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, s.cfg.Mode); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("control socket listening", "path", s.cfg.SocketPath)
	return nil
}

// Stop closes the listener and every connection.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("control socket shutdown timed out")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

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
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if s.cfg.SameUserOnly {
			ok, err := VerifyPeerIsCurrentUser(conn)
			if err != nil || !ok {
				s.logger.Warn("rejected peer", "error", err)
				WriteMessage(conn, newError(0, ErrPermissionDenied, "peer runs as another user"))
				conn.Close()
				continue
			}
		}

		key := peerKey(conn)
		if !s.conns.Acquire(key) {
			WriteMessage(conn, newError(0, ErrUnavailable, "too many connections"))
			conn.Close()
			continue
		}
		p := &peer{
			id:      s.nextID.Add(1),
			key:     key,
			conn:    conn,
			limiter: security.NewRateLimiter(s.cfg.RequestRate, s.cfg.RequestBurst),
		}
		s.mu.Lock()
		s.peers[p.id] = p
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(p)
	}
}

func (s *Server) handleConnection(p *peer) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(s.ctx)
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		s.conns.Release(p.key)
		p.conn.Close()
	}()

	// Requests are read on their own goroutine so a streaming subscription
	// notices the peer hanging up.
	requests := make(chan *Request)
	go func() {
		defer cancel()
		defer close(requests)
		dec := json.NewDecoder(p.conn)
		for {
			var req Request
			if err := dec.Decode(&req); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					var syntax *json.SyntaxError
					if errors.As(err, &syntax) {
						s.send(p, newError(0, ErrInvalidRequest, "malformed request"))
					}
				}
				return
			}
			select {
			case requests <- &req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			if !p.limiter.Allow() {
				if err := s.send(p, newError(req.ID, ErrRateLimited, "rate limit exceeded")); err != nil {
					return
				}
				continue
			}
			if req.Method == MethodSubscribe {
				if err := s.stream(ctx, p, req); err != nil {
					s.logger.Debug("subscription ended", "client", p.id, "error", err)
				}
				return
			}
			if err := s.send(p, s.dispatch(ctx, req)); err != nil {
				return
			}
		}
	}
}

// peerKey identifies the user behind conn for per-user limits.
func peerKey(conn net.Conn) string {
	cred, err := GetPeerCredentials(conn)
	if err != nil {
		return "unknown"
	}
	return strconv.Itoa(cred.UID)
}

func (s *Server) send(p *peer, resp *Response) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return WriteMessage(p.conn, resp)
}
