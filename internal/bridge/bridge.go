package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"go2tv.app/tvlink/internal/domain"
	"go2tv.app/tvlink/internal/pairing"
	"go2tv.app/tvlink/internal/player"
	"go2tv.app/tvlink/internal/protocol"
	"go2tv.app/tvlink/internal/session"
)

const (
	DefaultCookieURL    = "https://www.floatplane.com"
	DefaultCookieName   = "sails.sid"
	DefaultCookieDomain = ".floatplane.com"
	DefaultCookiePath   = "/"
)

type SessionStore interface {
	SignIn(ctx context.Context, p session.SignInParams) error
	SignOut(ctx context.Context) error
	Snapshot() domain.AuthState
}

type CookieStore interface {
	Set(ctx context.Context, rawURL string, c session.Cookie) error
	ClearAll(ctx context.Context) error
}

// Playback is the subset of the player controller driven by peers.
type Playback interface {
	SetSource(src player.Source, opts player.SourceOptions)
	Source() (player.Source, bool)
	State() player.State
	Play()
	Pause()
	Stop()
	Seek(target float64)
	Step(seconds float64)
}

type Queue interface {
	Add(item player.Item) player.Item
	Remove(id string) bool
	Clear() int
	Next() (player.Item, bool)
}

// Broadcaster pushes a fresh DISCOVER to every paired connection.
type Broadcaster interface {
	BroadcastDiscover() int
}

type Observer interface {
	CommandFailed(kind, code string)
}

type CookieConfig struct {
	URL    string
	Name   string
	Domain string
	Path   string
}

type Config struct {
	// DeviceID is used as the "from" of replies.
	DeviceID string
	Session  SessionStore
	Cookies  CookieStore
	Player   Playback
	Queue    Queue
	Cookie   CookieConfig
	// PairingCode, when set, must accompany LOGIN and LOGOUT.
	PairingCode string
	BcryptCost  int
	Acknowledge bool
	Observer    Observer
	Logger      *slog.Logger
}

// Bridge translates peer commands into session and playback calls.
type Bridge struct {
	deviceID    string
	session     SessionStore
	cookies     CookieStore
	player      Playback
	queue       Queue
	cookie      CookieConfig
	codeHash    []byte
	acknowledge bool
	observer    Observer
	logger      *slog.Logger

	mu          sync.RWMutex
	broadcaster Broadcaster
}

func New(cfg Config) (*Bridge, error) {
	if cfg.Session == nil {
		return nil, errors.New("bridge requires a session store")
	}
	cfg.Cookie = withCookieDefaults(cfg.Cookie)

	b := &Bridge{
		deviceID:    cfg.DeviceID,
		session:     cfg.Session,
		cookies:     cfg.Cookies,
		player:      cfg.Player,
		queue:       cfg.Queue,
		cookie:      cfg.Cookie,
		acknowledge: cfg.Acknowledge,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
	}

	if code := strings.TrimSpace(cfg.PairingCode); code != "" {
		cost := cfg.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
		if err != nil {
			return nil, fmt.Errorf("hash pairing code: %w", err)
		}
		b.codeHash = hash
	}
	return b, nil
}

// Attach sets the broadcaster used after login state changes. The pairing
// server is built after the bridge, so this closes the loop.
func (b *Bridge) Attach(bc Broadcaster) {
	b.mu.Lock()
	b.broadcaster = bc
	b.mu.Unlock()
}

// LoginState is read at send time by DISCOVER and HEARTBEAT.
func (b *Bridge) LoginState() (bool, string) {
	state := b.session.Snapshot()
	return state.IsLoggedIn, state.UserID()
}

func (b *Bridge) RequiresPairingCode() bool {
	return len(b.codeHash) > 0
}

// Handle runs one decoded message. Failures are logged and, when
// acknowledgements are on, reported in a RESPONSE; they never escape.
func (b *Bridge) Handle(ctx context.Context, peer pairing.Peer, msg protocol.Message) {
	var (
		err          error
		stateChanged bool
	)

	switch p := msg.Payload.(type) {
	case protocol.HeartbeatPayload:
		b.heartbeat(peer, msg)
		return
	case protocol.DiscoverPayload:
		b.log(slog.LevelDebug, "bridge_peer_announced", slog.String("connection_id", peer.ID()), slog.String("device_id", p.ID), slog.String("name", p.Name))
		return
	case protocol.ResponsePayload:
		b.log(slog.LevelDebug, "bridge_response_ignored", slog.String("connection_id", peer.ID()), slog.String("original_message_id", p.OriginalMessageID))
		return
	case protocol.LoginPayload:
		err = b.login(ctx, p)
		stateChanged = err == nil
	case protocol.LogoutPayload:
		err = b.logout(ctx, p)
		stateChanged = err == nil
	case protocol.PlayPayload:
		err = b.play(p)
	case protocol.PausePayload:
		err = b.withPlayer(func(pl Playback) { pl.Pause() })
	case protocol.StopPayload:
		err = b.withPlayer(func(pl Playback) { pl.Stop() })
	case protocol.SeekPayload:
		err = b.seek(p)
	case protocol.AddQueueItemPayload:
		err = b.addQueueItem(p)
	case protocol.RemoveQueueItemPayload:
		err = b.removeQueueItem(p)
	case protocol.ClearQueuePayload:
		err = b.clearQueue()
	default:
		err = commandError(CodeUnsupported, fmt.Sprintf("%s is not supported", msg.Type), nil)
	}

	if err != nil {
		b.failed(peer, msg, err)
	} else {
		b.log(slog.LevelInfo, "bridge_command_handled", slog.String("connection_id", peer.ID()), slog.String("type", string(msg.Type)))
	}
	b.respond(peer, msg, err)

	if stateChanged {
		b.broadcastDiscover()
	}
}

func (b *Bridge) heartbeat(peer pairing.Peer, msg protocol.Message) {
	loggedIn, userID := b.LoginState()
	reply := protocol.NewMessage(b.deviceID, protocol.HeartbeatPayload{
		Status:     protocol.StatusAlive,
		IsLoggedIn: &loggedIn,
		UserID:     userID,
	})
	reply.To = msg.From
	if err := peer.Send(reply); err != nil {
		b.log(slog.LevelWarn, "bridge_reply_failed", slog.String("connection_id", peer.ID()), slog.String("type", string(msg.Type)), slog.String("error", err.Error()))
	}
}

func (b *Bridge) respond(peer pairing.Peer, msg protocol.Message, err error) {
	if !b.acknowledge {
		return
	}
	payload := protocol.ResponsePayload{
		OriginalMessageID: msg.ID,
		Command:           msg.Type,
		Status:            protocol.StatusSuccess,
	}
	if err != nil {
		ce := asCommandError(err)
		payload.Status = protocol.StatusError
		payload.Error = &protocol.ResponseError{Code: ce.Code, Message: ce.peerMessage()}
	}

	reply := protocol.NewMessage(b.deviceID, payload)
	reply.To = msg.From
	if sendErr := peer.Send(reply); sendErr != nil {
		b.log(slog.LevelWarn, "bridge_reply_failed", slog.String("connection_id", peer.ID()), slog.String("type", string(msg.Type)), slog.String("error", sendErr.Error()))
	}
}

func (b *Bridge) failed(peer pairing.Peer, msg protocol.Message, err error) {
	ce := asCommandError(err)
	if b.observer != nil {
		b.observer.CommandFailed(string(msg.Type), ce.Code)
	}
	b.log(slog.LevelWarn, "bridge_command_failed",
		slog.String("connection_id", peer.ID()),
		slog.String("type", string(msg.Type)),
		slog.String("message_id", msg.ID),
		slog.String("code", ce.Code),
		slog.String("error", err.Error()),
	)
}

func (b *Bridge) broadcastDiscover() {
	b.mu.RLock()
	bc := b.broadcaster
	b.mu.RUnlock()
	if bc == nil {
		return
	}
	sent := bc.BroadcastDiscover()
	b.log(slog.LevelDebug, "bridge_discover_broadcast", slog.Int("connections", sent))
}

func (b *Bridge) log(level slog.Level, msg string, attrs ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Log(context.Background(), level, msg, attrs...)
}

func asCommandError(err error) *CommandError {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce
	}
	return commandError(CodeUnsupported, "", err)
}

func withCookieDefaults(c CookieConfig) CookieConfig {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultCookieURL
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = DefaultCookieName
	}
	if strings.TrimSpace(c.Domain) == "" {
		c.Domain = DefaultCookieDomain
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = DefaultCookiePath
	}
	return c
}
