// Package transport accepts client connections, runs the protocol
// handshake and relays messages between each connection and its gateway
// session.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/canopy/internal/auth"
	"github.com/fyrsmithlabs/canopy/internal/config"
	"github.com/fyrsmithlabs/canopy/internal/gateway"
	"github.com/fyrsmithlabs/canopy/internal/logging"
	"github.com/fyrsmithlabs/canopy/internal/wire"
)

var (
	// ErrCapacity is returned when the connection limit is reached.
	ErrCapacity = errors.New("server at capacity")

	// ErrVersion is returned when a client speaks another protocol version.
	ErrVersion = errors.New("unsupported protocol version")

	// ErrHandshake is returned when the first message is not a ClientHello.
	ErrHandshake = errors.New("handshake failed")

	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("transport: server closed")
)

// Config holds connection server settings.
type Config struct {
	Addr             string
	TLS              config.TLSConfig
	MaxClients       int
	HandshakeTimeout time.Duration
	MaxFrameBytes    int
	SessionValidity  time.Duration
	RatePerSecond    float64
	RateBurst        int
}

// ConfigFromSettings converts the server section of the daemon config.
func ConfigFromSettings(s config.ServerConfig) Config {
	return Config{
		Addr:             s.Addr,
		TLS:              s.TLS,
		MaxClients:       s.MaxClients,
		HandshakeTimeout: s.HandshakeTimeout.Duration(),
		MaxFrameBytes:    s.MaxFrameBytes.Int(),
		SessionValidity:  s.SessionValidity.Duration(),
		RatePerSecond:    s.RateLimit.PerSecond,
		RateBurst:        s.RateLimit.Burst,
	}
}

// Server serves client sessions over TCP (optionally TLS) and WebSocket.
type Server struct {
	cfg       Config
	gw        *gateway.Gateway
	authn     *auth.Authenticator
	admission *Admission
	upgrader  websocket.Upgrader
	logger    *logging.Logger
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners []net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.Named("transport")
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server that registers sessions through gw and
// resolves tokens with authn.
func NewServer(gw *gateway.Gateway, authn *auth.Authenticator, cfg Config, opts ...Option) *Server {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = wire.DefaultMaxFrameSize
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		gw:        gw,
		authn:     authn,
		admission: NewAdmission(cfg.MaxClients),
		logger:    logging.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active returns the number of admitted connections.
func (s *Server) Active() int { return s.admission.Active() }

// LoadTLSConfig reads a PEM certificate and key pair.
func LoadTLSConfig(c config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Listen opens the configured address, wrapped in TLS when cert and key
// files are set.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	if !s.cfg.TLS.Enabled() {
		return ln, nil
	}
	tlsCfg, err := LoadTLSConfig(s.cfg.TLS)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return tls.NewListener(ln, tlsCfg), nil
}

// Serve accepts connections on ln until Shutdown. It always returns a
// non-nil error; ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if s.ctx.Err() != nil {
		return ErrServerClosed
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.logger.Info(s.ctx, "accepting connections",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.cfg.TLS.Enabled()),
	)

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track() {
			_ = nc.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			_ = s.ServeConn(NewStreamConn(nc, s.cfg.MaxFrameBytes))
		}()
	}
}

// ServeWebSocket upgrades an HTTP request and serves the session on it.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) error {
	if !s.track() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return ErrServerClosed
	}
	defer s.wg.Done()
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	return s.ServeConn(NewWebSocketConn(ws, s.cfg.MaxFrameBytes))
}

// track counts a session in s.wg unless Shutdown has begun. Shutdown
// cancels s.ctx before taking s.mu, so no Add can follow its Wait.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// ServeConn runs one session on conn and closes it when done.
func (s *Server) ServeConn(conn Conn) error {
	defer conn.Close()
	ctx := logging.WithRemoteAddr(s.ctx, conn.RemoteAddr())

	if !s.admission.Acquire() {
		s.metrics.reject(ReasonCapacity)
		s.logger.Warn(ctx, "connection refused", zap.Int("max_clients", s.cfg.MaxClients))
		_ = conn.WriteMessage(wire.ServerLog{Text: ErrCapacity.Error()})
		return ErrCapacity
	}
	defer s.admission.Release()

	// Shutdown unblocks reads by closing the connection.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	hello, err := s.handshake(ctx, conn)
	if err != nil {
		return err
	}

	cred, tokenName := s.authn.Credential(hello.Token)
	sess, err := s.gw.Register(ctx, cred)
	if err != nil {
		s.metrics.reject(ReasonRegister)
		s.logger.Error(ctx, "registration failed", zap.Error(err))
		_ = conn.WriteMessage(wire.ServerLog{Text: "registration failed"})
		return err
	}
	defer sess.Close()

	ctx = logging.WithClientID(ctx, sess.ClientID)
	if s.cfg.SessionValidity > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SessionValidity)
		defer cancel()
		stopExpiry := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stopExpiry()
	}

	if err := conn.WriteMessage(wire.ServerAccept{Session: sess.ClientID, Validity: validitySeconds(s.cfg.SessionValidity)}); err != nil {
		return fmt.Errorf("write accept: %w", err)
	}

	s.metrics.opened()
	defer s.metrics.closed()
	s.logger.Info(ctx, "session started",
		zap.String("credential", cred.String()),
		zap.String("token", tokenName),
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, sess)
	}()

	err = s.readLoop(ctx, conn, sess)

	sess.Close()
	_ = conn.Close()
	<-writerDone

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
		err = nil
	}
	s.logger.Info(ctx, "session ended", zap.Error(err))
	return err
}

func (s *Server) handshake(ctx context.Context, conn Conn) (wire.ClientHello, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return wire.ClientHello{}, err
	}
	msg, err := conn.ReadMessage()
	if err != nil {
		s.metrics.reject(ReasonHandshake)
		s.logger.Warn(ctx, "handshake read failed", zap.Error(err))
		return wire.ClientHello{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	hello, ok := msg.(wire.ClientHello)
	if !ok {
		s.metrics.reject(ReasonHandshake)
		err := fmt.Errorf("%w: expected %s, got %s", ErrHandshake, wire.KindClientHello, msg.Kind())
		_ = conn.WriteMessage(wire.ServerLog{Text: err.Error()})
		return wire.ClientHello{}, err
	}
	if hello.Version != wire.ProtocolVersion {
		s.metrics.reject(ReasonVersion)
		err := fmt.Errorf("%w: client %d, server %d", ErrVersion, hello.Version, wire.ProtocolVersion)
		s.logger.Warn(ctx, "handshake rejected", zap.Error(err))
		_ = conn.WriteMessage(wire.ServerLog{Text: err.Error()})
		return wire.ClientHello{}, err
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return wire.ClientHello{}, err
	}
	return hello, nil
}

// readLoop forwards client messages to the actor, paced by the rate
// limiter.
func (s *Server) readLoop(ctx context.Context, conn Conn, sess *gateway.Session) error {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if s.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.RateBurst)
	}

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, wire.ErrDecode) {
				s.logger.Warn(ctx, "dropping connection after bad frame", zap.Error(err))
			}
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := sess.Send(ctx, msg); err != nil {
			return err
		}
	}
}

// writeLoop relays the session inbox to the connection. A closed inbox
// means the actor dropped the session, so the connection is closed too.
func (s *Server) writeLoop(ctx context.Context, conn Conn, sess *gateway.Session) {
	defer conn.Close()
	for msg := range sess.Inbox() {
		if err := conn.WriteMessage(msg); err != nil {
			s.logger.Debug(ctx, "write failed", zap.Error(err))
			return
		}
	}
}

// Shutdown stops accepting, closes every session and waits for handlers to
// finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	var errs []error
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.listeners = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

func validitySeconds(d time.Duration) uint32 {
	secs := d / time.Second
	if secs > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(secs)
}
