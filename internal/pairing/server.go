package pairing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"go2tv.app/tvlink/internal/advertise"
	"go2tv.app/tvlink/internal/domain"
	"go2tv.app/tvlink/internal/protocol"
	"go2tv.app/tvlink/internal/registry"
)

const (
	DefaultPort         = 9999
	DefaultWriteTimeout = 5 * time.Second
)

var ErrAlreadyStarted = errors.New("pairing server already started")

type State int

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// BindError is returned by Start when the listening socket cannot be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Presence reports the live login state announced in DISCOVER.
type Presence interface {
	LoginState() (loggedIn bool, userID string)
}

type Dispatcher interface {
	Handle(ctx context.Context, peer Peer, msg protocol.Message)
}

type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageReceived(kind string)
	DecodeFailed(kind string)
}

type Advertiser interface {
	Publish(ctx context.Context, svc advertise.Service) error
	Unpublish(instance string) error
}

type Config struct {
	Host           string
	Port           int
	MaxConnections int
	WriteTimeout   time.Duration
	MaxFrameBytes  int

	ServiceType  string
	Domain       string
	Capabilities []string

	Identity   *domain.Identity
	Advertiser Advertiser
	Presence   Presence
	Dispatcher Dispatcher
	Observer   Observer
	Registry   *registry.Registry
	History    *registry.PeerHistory
	Logger     *slog.Logger
}

type Server struct {
	cfg      Config
	registry *registry.Registry
	observer Observer
	logger   *slog.Logger

	// opMu serialises Start and Stop.
	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	listener net.Listener
	cancel   context.CancelFunc
	instance string

	wg sync.WaitGroup
}

var listen = func(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}

func New(cfg Config) *Server {
	if cfg.Port < 0 {
		cfg.Port = DefaultPort
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	if cfg.Identity == nil {
		cfg.Identity = domain.NewIdentity("", domain.PlatformAndroidTV, uint16(cfg.Port))
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	return &Server{
		cfg:      cfg,
		registry: reg,
		observer: observer,
		logger:   cfg.Logger,
	}
}

// Start binds the listener and begins accepting connections. Advertisement
// failures are logged; only a bind failure is returned, as a *BindError.
func (s *Server) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() != StateStopped {
		return ErrAlreadyStarted
	}
	s.setState(StateStarting)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := listen(ctx, addr)
	if err != nil {
		s.setState(StateStopped)
		s.log(slog.LevelError, "pairing_bind_failed", slog.String("addr", addr), slog.String("error", err.Error()))
		return &BindError{Addr: addr, Err: err}
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.cfg.Identity.SetPort(uint16(tcpAddr.Port))
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.state = StateListening
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(runCtx, ln)

	s.log(slog.LevelInfo, "pairing_server_listening", slog.String("addr", ln.Addr().String()))
	s.publish(ctx)
	return nil
}

// Stop unpublishes the service, closes every connection and then the
// listener. It is safe to call repeatedly.
func (s *Server) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() != StateListening {
		return
	}
	s.setState(StateStopping)

	s.mu.RLock()
	ln := s.listener
	cancel := s.cancel
	instance := s.instance
	s.mu.RUnlock()

	if s.cfg.Advertiser != nil && instance != "" {
		if err := s.cfg.Advertiser.Unpublish(instance); err != nil {
			s.log(slog.LevelWarn, "pairing_unpublish_failed", slog.String("error", err.Error()))
		}
	}

	cancel()
	s.registry.ForEach(func(rec registry.Record) {
		_ = rec.Handle.Close()
	})
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log(slog.LevelWarn, "pairing_listener_close_failed", slog.String("error", err.Error()))
	}
	s.wg.Wait()

	s.mu.Lock()
	s.listener = nil
	s.cancel = nil
	s.instance = ""
	s.state = StateStopped
	s.mu.Unlock()
	s.log(slog.LevelInfo, "pairing_server_stopped")
}

func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Addr returns the bound address, or nil when the server is not listening.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) ConnectionCount() int {
	return s.registry.Len()
}

func (s *Server) Peers() []registry.Peer {
	return s.cfg.History.Recent()
}

// Identity returns the device identity this server announces.
func (s *Server) Identity() *domain.Identity {
	return s.cfg.Identity
}

// BroadcastDiscover pushes a fresh DISCOVER to every connection.
func (s *Server) BroadcastDiscover() int {
	msg := s.discoverMessage()
	return s.registry.Broadcast(msg, func(id string, err error) {
		s.log(slog.LevelWarn, "pairing_broadcast_failed", slog.String("connection_id", id), slog.String("error", err.Error()))
	})
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Server) publish(ctx context.Context) {
	if s.cfg.Advertiser == nil {
		return
	}
	s.cfg.Identity.Refresh(time.Now())
	info := s.cfg.Identity.Snapshot()
	svc := advertise.Service{
		Instance:  info.Name,
		Type:      s.cfg.ServiceType,
		Domain:    s.cfg.Domain,
		Port:      int(info.Port),
		TXT:       advertise.TXTRecords(info, s.cfg.Capabilities),
		Addresses: info.Addresses,
	}
	if err := s.cfg.Advertiser.Publish(ctx, svc); err != nil {
		s.log(slog.LevelWarn, "pairing_advertise_failed", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	s.instance = svc.Instance
	s.mu.Unlock()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			s.log(slog.LevelWarn, "pairing_accept_error", slog.String("error", err.Error()), slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go s.serve(ctx, nc)
	}
}

func (s *Server) serve(ctx context.Context, nc net.Conn) {
	defer s.wg.Done()

	c := newConn(uuid.NewString(), nc, s.cfg.WriteTimeout)
	stopWatch := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stopWatch()
	defer c.Close()

	host := remoteHost(c.RemoteAddr())
	s.registry.Add(c.ID(), c)
	defer s.registry.Remove(c.ID())
	s.observer.ConnectionOpened()
	defer s.observer.ConnectionClosed()
	s.cfg.History.Opened(host, time.Now())
	defer func() { s.cfg.History.Closed(host, time.Now()) }()

	log := s.connLogger(c)
	log(slog.LevelInfo, "pairing_connection_accepted", slog.String("remote_addr", c.RemoteAddr()))

	s.cfg.Identity.Refresh(time.Now())
	if err := c.Send(s.discoverMessage()); err != nil {
		log(slog.LevelWarn, "pairing_discover_failed", slog.String("error", err.Error()))
		return
	}

	reader := protocol.NewFrameReader(nc, s.cfg.MaxFrameBytes)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				s.observer.DecodeFailed("too_large")
				log(slog.LevelWarn, "pairing_frame_dropped", slog.String("reason", err.Error()))
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log(slog.LevelInfo, "pairing_connection_closed")
			} else {
				log(slog.LevelWarn, "pairing_connection_error", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			var decodeErr *protocol.DecodeError
			kind := "malformed"
			if errors.As(err, &decodeErr) {
				kind = decodeErr.Kind.String()
			}
			s.observer.DecodeFailed(kind)
			log(slog.LevelWarn, "pairing_frame_dropped", slog.String("kind", kind), slog.String("error", err.Error()))
			continue
		}

		s.observer.MessageReceived(string(msg.Type))
		if deviceID := peerDeviceID(msg); deviceID != "" {
			s.cfg.History.Seen(host, deviceID, time.Now())
		}
		s.dispatch(ctx, c, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *Conn, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log(slog.LevelError, "pairing_handler_panic",
				slog.String("connection_id", c.ID()),
				slog.String("type", string(msg.Type)),
				slog.Any("panic", r),
			)
		}
	}()

	if s.cfg.Dispatcher == nil {
		s.log(slog.LevelDebug, "pairing_message_ignored", slog.String("connection_id", c.ID()), slog.String("type", string(msg.Type)))
		return
	}
	s.cfg.Dispatcher.Handle(ctx, c, msg)
}

func (s *Server) discoverMessage() protocol.Message {
	info := s.cfg.Identity.Snapshot()
	payload := protocol.DiscoverPayload{DeviceInfo: info}
	if s.cfg.Presence != nil {
		payload.IsLoggedIn, payload.UserID = s.cfg.Presence.LoginState()
	}
	return protocol.NewMessage(info.ID, payload)
}

func (s *Server) connLogger(c *Conn) func(level slog.Level, msg string, attrs ...any) {
	return func(level slog.Level, msg string, attrs ...any) {
		s.log(level, msg, append([]any{slog.String("connection_id", c.ID())}, attrs...)...)
	}
}

func (s *Server) log(level slog.Level, msg string, attrs ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}

func peerDeviceID(msg protocol.Message) string {
	if p, ok := msg.Payload.(protocol.DiscoverPayload); ok && p.ID != "" {
		return p.ID
	}
	return msg.From
}

type noopObserver struct{}

func (noopObserver) ConnectionOpened()      {}
func (noopObserver) ConnectionClosed()      {}
func (noopObserver) MessageReceived(string) {}
func (noopObserver) DecodeFailed(string)    {}
