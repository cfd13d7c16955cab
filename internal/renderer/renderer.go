// Package renderer mirrors the playback controller onto a Chromecast on the
// LAN: source changes and seeks become loads, pauses become stops, and the
// receiver's progress is fed back into the controller.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/tvlink/internal/adapters"
	"go2tv.app/tvlink/internal/discovery"
	"go2tv.app/tvlink/internal/domain"
	"go2tv.app/tvlink/internal/player"
)

const (
	defaultPollInterval     = time.Second
	defaultDiscoveryTimeout = 2500 * time.Millisecond

	defaultRetryAttempts    = 3
	defaultRetryBaseBackoff = 120 * time.Millisecond
	defaultRetryMaxBackoff  = 800 * time.Millisecond

	defaultReconnectBackoff    = time.Second
	defaultReconnectMaxBackoff = 30 * time.Second

	// endSlack is how close to the known duration an IDLE receiver must be
	// before the session counts as finished rather than interrupted.
	endSlack = 2.0
)

var (
	ErrNotConfigured  = errors.New("renderer is not configured")
	ErrTargetNotFound = errors.New("render target not found")
)

type targetLister interface {
	ListRenderTargets(ctx context.Context, timeout time.Duration, includeUnreachable bool) ([]domain.RenderTarget, error)
}

// Controller is the slice of *player.Controller the renderer drives.
type Controller interface {
	State() player.State
	Source() (player.Source, bool)
	Subscribe(fn player.StateListener) func()
	On(event player.Event, fn player.EventListener) func()
	Pause()
	OnVideoDuration(duration float64)
	OnVideoTime(currentTime float64, playableDuration ...float64)
	OnVideoBuffering(buffering bool)
	OnVideoEnded()
	OnVideoError(err error)
}

type LoadObserver interface {
	RendererLoad(ok bool)
}

type Config struct {
	Target           string
	PollInterval     time.Duration
	DiscoveryTimeout time.Duration

	Discovery   targetLister
	CastFactory adapters.CastFactory
	Player      Controller
	Metrics     LoadObserver
	Logger      *slog.Logger

	RetryAttempts       int
	RetryBaseBackoff    time.Duration
	RetryMaxBackoff     time.Duration
	ReconnectBackoff    time.Duration
	ReconnectMaxBackoff time.Duration
}

type Status struct {
	Target    string
	Device    string
	Connected bool
	LastError string
}

type Renderer struct {
	target           string
	pollInterval     time.Duration
	discoveryTimeout time.Duration

	discovery   targetLister
	castFactory adapters.CastFactory
	player      Controller
	metrics     LoadObserver
	logger      *slog.Logger

	retryAttempts       int
	retryBaseBackoff    time.Duration
	retryMaxBackoff     time.Duration
	reconnectBackoff    time.Duration
	reconnectMaxBackoff time.Duration

	kick        chan struct{}
	pendingSeek atomic.Bool

	mu        sync.Mutex
	device    string
	connected bool
	lastError string
}

func New(cfg Config) *Renderer {
	r := &Renderer{
		target:              cfg.Target,
		pollInterval:        cfg.PollInterval,
		discoveryTimeout:    cfg.DiscoveryTimeout,
		discovery:           cfg.Discovery,
		castFactory:         cfg.CastFactory,
		player:              cfg.Player,
		metrics:             cfg.Metrics,
		logger:              cfg.Logger,
		retryAttempts:       cfg.RetryAttempts,
		retryBaseBackoff:    cfg.RetryBaseBackoff,
		retryMaxBackoff:     cfg.RetryMaxBackoff,
		reconnectBackoff:    cfg.ReconnectBackoff,
		reconnectMaxBackoff: cfg.ReconnectMaxBackoff,
		kick:                make(chan struct{}, 1),
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.discoveryTimeout <= 0 {
		r.discoveryTimeout = defaultDiscoveryTimeout
	}
	if r.retryAttempts <= 0 {
		r.retryAttempts = defaultRetryAttempts
		r.retryBaseBackoff = defaultRetryBaseBackoff
		r.retryMaxBackoff = defaultRetryMaxBackoff
	}
	if r.reconnectBackoff <= 0 {
		r.reconnectBackoff = defaultReconnectBackoff
	}
	if r.reconnectMaxBackoff < r.reconnectBackoff {
		r.reconnectMaxBackoff = max(defaultReconnectMaxBackoff, r.reconnectBackoff)
	}
	return r
}

func (r *Renderer) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Target:    r.target,
		Device:    r.device,
		Connected: r.connected,
		LastError: r.lastError,
	}
}

// Run keeps a session with the configured target alive until ctx is done.
// Resolution and connection failures are retried with backoff; Run only
// returns early when the renderer is misconfigured.
func (r *Renderer) Run(ctx context.Context) error {
	if r.discovery == nil || r.castFactory == nil || r.player == nil || r.target == "" {
		return ErrNotConfigured
	}

	attempt := 0
	for {
		connected, err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		attempt++
		r.recordError(err)

		backoff := backoffForAttempt(r.reconnectBackoff, r.reconnectMaxBackoff, attempt)
		r.log(slog.LevelWarn, "renderer_session_failed",
			slog.String("target", r.target),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		if waitErr := waitForBackoff(ctx, backoff); waitErr != nil {
			return nil
		}
	}
}

func (r *Renderer) resolve(ctx context.Context) (domain.RenderTarget, error) {
	targets, err := r.discovery.ListRenderTargets(ctx, r.discoveryTimeout, false)
	if err != nil {
		return domain.RenderTarget{}, fmt.Errorf("discover render targets: %w", err)
	}
	match := discovery.MatchTarget(targets, r.target)
	if match == nil {
		return domain.RenderTarget{}, fmt.Errorf("%w: %q", ErrTargetNotFound, r.target)
	}
	if !match.Supported {
		return domain.RenderTarget{}, fmt.Errorf("render target %q is not supported: %s", match.Name, match.Reason)
	}
	return *match, nil
}

// session connects once and mirrors the controller until the connection
// fails or ctx ends. The bool reports whether a connection was made.
func (r *Renderer) session(ctx context.Context) (bool, error) {
	target, err := r.resolve(ctx)
	if err != nil {
		return false, err
	}

	client, err := r.castFactory.NewCastClient(target.Address)
	if err != nil {
		return false, fmt.Errorf("create cast client: %w", err)
	}
	if err := r.withRetry(ctx, "chromecast_connect", client.Connect); err != nil {
		_ = client.Close(false)
		return false, fmt.Errorf("connect to %s: %w", target.Name, err)
	}

	r.setConnected(target.Name, true)
	r.log(slog.LevelInfo, "renderer_connected", slog.String("device", target.Name), slog.String("address", target.Address))
	defer func() {
		r.setConnected(target.Name, false)
		if err := client.Close(true); err != nil {
			r.log(slog.LevelDebug, "renderer_close_failed", slog.String("error", err.Error()))
		}
	}()

	unsubscribe := []func(){
		r.player.Subscribe(func(player.State) { r.nudge() }),
		r.player.On(player.EventSeek, r.onReposition),
		r.player.On(player.EventRestarted, r.onReposition),
	}
	defer func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}()

	m := &mirror{r: r, client: client}
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.nudge()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-r.kick:
			if err := m.sync(ctx); err != nil {
				return true, err
			}
		case <-ticker.C:
			if err := m.poll(); err != nil {
				return true, err
			}
		}
	}
}

func (r *Renderer) onReposition(player.Event, float64) {
	r.pendingSeek.Store(true)
	r.nudge()
}

func (r *Renderer) nudge() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// mirror is the per-connection state. Only the Run goroutine touches it.
type mirror struct {
	r      *Renderer
	client adapters.CastClient

	loadedURL  string
	active     bool
	sawPlaying bool
}

func (m *mirror) sync(ctx context.Context) error {
	r := m.r
	state := r.player.State()
	src, ok := r.player.Source()
	playing := ok && src.URL != "" && !state.IsPaused && !state.IsFinished

	if !playing {
		if m.active {
			m.active = false
			if err := m.client.Stop(); err != nil {
				return fmt.Errorf("stop playback: %w", err)
			}
			r.log(slog.LevelDebug, "renderer_stopped", slog.String("url", m.loadedURL))
		}
		return nil
	}

	seek := r.pendingSeek.Swap(false)
	if m.active && m.loadedURL == src.URL && !seek {
		return nil
	}

	position := state.Position
	err := r.withRetry(ctx, "chromecast_load", func() error {
		return m.client.Load(src.URL, contentTypeFor(src.URL), int(math.Floor(position)), state.Duration, "", src.Live)
	})
	if r.metrics != nil {
		r.metrics.RendererLoad(err == nil)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		m.active = false
		r.recordError(err)
		r.player.OnVideoError(err)
		r.player.Pause()
		r.log(slog.LevelWarn, "renderer_load_failed", slog.String("url", src.URL), slog.String("error", err.Error()))
		return nil
	}

	m.loadedURL = src.URL
	m.active = true
	m.sawPlaying = false
	r.recordError(nil)
	r.log(slog.LevelInfo, "renderer_loaded", slog.String("url", src.URL), slog.Float64("position", position))
	return nil
}

// poll doubles as the connection health check; a status error ends the
// session.
func (m *mirror) poll() error {
	status, err := m.client.GetStatus()
	if err != nil {
		if m.active {
			m.r.player.OnVideoError(err)
		}
		return fmt.Errorf("get status: %w", err)
	}
	if !m.active || status == nil {
		return nil
	}

	r := m.r
	duration := float64(status.Duration)
	if duration > 0 {
		r.player.OnVideoDuration(duration)
	}

	switch normalizeCastState(status.PlayerState) {
	case "playing":
		m.sawPlaying = true
		r.player.OnVideoBuffering(false)
		r.player.OnVideoTime(float64(status.CurrentTime))
	case "buffering":
		r.player.OnVideoBuffering(true)
	case "idle":
		if !m.sawPlaying {
			return nil
		}
		m.active = false
		r.player.OnVideoBuffering(false)
		state := r.player.State()
		if state.Duration > 0 && state.Position < state.Duration-endSlack {
			// Something else took over the receiver.
			r.log(slog.LevelInfo, "renderer_interrupted", slog.Float64("position", state.Position))
			r.player.Pause()
			return nil
		}
		r.player.OnVideoEnded()
	}
	return nil
}

func (r *Renderer) setConnected(device string, connected bool) {
	r.mu.Lock()
	r.device = device
	r.connected = connected
	r.mu.Unlock()
}

func (r *Renderer) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.lastError = ""
		return
	}
	r.lastError = err.Error()
}

func (r *Renderer) log(level slog.Level, msg string, attrs ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Log(context.Background(), level, msg, attrs...)
}
