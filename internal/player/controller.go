package player

import (
	"context"
	"log/slog"
	"math"
	"sync"
)

// DefaultStepSeconds is the magnitude used by StepForward and StepBackward
// when no explicit value is given.
const DefaultStepSeconds = 10.0

type State struct {
	Position     float64 `json:"position"`
	Duration     float64 `json:"duration"`
	IsPaused     bool    `json:"isPaused"`
	IsFinished   bool    `json:"isFinished"`
	IsBuffering  bool    `json:"isBuffering"`
	IsScrubbing  bool    `json:"isScrubbing"`
	PlaybackRate float64 `json:"playbackRate"`
	Volume       float64 `json:"volume"`
	IsMuted      bool    `json:"isMuted"`
	IsReady      bool    `json:"isReady"`
}

func initialState() State {
	return State{
		IsPaused:     true,
		PlaybackRate: 1,
		Volume:       1,
	}
}

type Source struct {
	URL  string `json:"url"`
	Live bool   `json:"live,omitempty"`
}

type Metadata struct {
	Title       string `json:"title,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Creator     string `json:"creator,omitempty"`
	Description string `json:"description,omitempty"`
}

type SourceOptions struct {
	Metadata  *Metadata
	StartTime *float64
	ExtraData map[string]any
}

type Config struct {
	Logger *slog.Logger
}

// Controller is the observable state machine of a single playback session.
// Every mutation goes through apply, which drops no-op changes before any
// listener runs. State listeners see committed states in commit order; a
// change made from inside a listener is delivered after that listener
// returns.
type Controller struct {
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	source    *Source
	metadata  *Metadata
	extraData map[string]any
	pending   []State
	flushing  bool

	stateListeners listenerSet[StateListener]
	eventListeners listenerSet[eventSubscription]
}

type eventSubscription struct {
	event Event
	fn    EventListener
}

func New(cfg Config) *Controller {
	return &Controller{
		logger: cfg.Logger,
		state:  initialState(),
	}
}

// Subscribe registers fn for every state change and returns its unsubscribe func.
func (c *Controller) Subscribe(fn StateListener) func() {
	return c.stateListeners.add(fn)
}

// On registers fn for a single event kind.
func (c *Controller) On(event Event, fn EventListener) func() {
	return c.eventListeners.add(eventSubscription{event: event, fn: fn})
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Source() (Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		return Source{}, false
	}
	return *c.source, true
}

func (c *Controller) Metadata() (Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		return Metadata{}, false
	}
	return *c.metadata, true
}

func (c *Controller) ExtraData() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.extraData))
	for k, v := range c.extraData {
		out[k] = v
	}
	return out
}

// SetSource replaces the current source and resets the session to the
// unready phase. Subscribers are always notified once, even when the state
// record itself did not change.
func (c *Controller) SetSource(src Source, opts SourceOptions) {
	start := 0.0
	if opts.StartTime != nil && isFinite(*opts.StartTime) && *opts.StartTime > 0 {
		start = *opts.StartTime
	}

	c.mu.Lock()
	c.source = &src
	c.metadata = nil
	if opts.Metadata != nil {
		md := *opts.Metadata
		c.metadata = &md
	}
	c.extraData = opts.ExtraData
	next := c.state
	next.Position = start
	next.Duration = 0
	next.IsReady = false
	next.IsPaused = true
	next.IsFinished = false
	next.IsBuffering = false
	c.state = next
	c.pending = append(c.pending, next)
	c.mu.Unlock()

	c.logDebug("player_source_set", slog.String("url", src.URL), slog.Float64("start_time", start))
	c.flush()
}

func (c *Controller) Play() {
	c.apply(func(s *State) { s.IsPaused = false })
}

func (c *Controller) Pause() {
	c.apply(func(s *State) { s.IsPaused = true })
}

// Stop pauses and rewinds to the beginning.
func (c *Controller) Stop() {
	c.apply(func(s *State) {
		s.IsPaused = true
		s.IsFinished = false
		s.Position = 0
	})
}

func (c *Controller) Restart() {
	c.apply(func(s *State) {
		s.Position = 0
		s.IsFinished = false
		s.IsPaused = false
	})
	c.emit(EventRestarted, 0)
}

// Seek moves to an absolute position. Non-finite input is ignored, and so is
// any seek before the duration is known.
func (c *Controller) Seek(target float64) {
	if !isFinite(target) {
		return
	}
	position, _, ok := c.skip(func(State) float64 { return target })
	if ok {
		c.emit(EventSeek, position)
	}
}

// Step moves relative to the current position and reports the delta
// actually applied, which is smaller than seconds when a boundary is hit.
func (c *Controller) Step(seconds float64) {
	if !isFinite(seconds) {
		return
	}
	position, delta, ok := c.skip(func(s State) float64 { return s.Position + seconds })
	if !ok {
		return
	}
	c.emit(EventSeek, position)
	c.emit(EventStep, delta)
}

func (c *Controller) StepForward(seconds ...float64) {
	c.Step(stepMagnitude(seconds))
}

func (c *Controller) StepBackward(seconds ...float64) {
	c.Step(-stepMagnitude(seconds))
}

func (c *Controller) SetVolume(volume float64) {
	if math.IsNaN(volume) {
		return
	}
	volume = math.Max(0, math.Min(1, volume))
	c.apply(func(s *State) { s.Volume = volume })
}

func (c *Controller) SetMute(muted bool) {
	c.apply(func(s *State) { s.IsMuted = muted })
}

func (c *Controller) SetScrubbing(scrubbing bool) {
	c.apply(func(s *State) { s.IsScrubbing = scrubbing })
}

// SetRate ignores non-positive and non-finite rates.
func (c *Controller) SetRate(rate float64) {
	if !isFinite(rate) || rate <= 0 {
		return
	}
	c.apply(func(s *State) { s.PlaybackRate = rate })
}

func (c *Controller) OnVideoDuration(duration float64) {
	if !isFinite(duration) || duration < 0 {
		return
	}
	c.apply(func(s *State) {
		s.Duration = duration
		s.IsReady = true
		s.Position = clamp(s.Position, duration)
	})
}

// OnVideoTime records decoder progress unless the user is scrubbing.
func (c *Controller) OnVideoTime(currentTime float64, playableDuration ...float64) {
	if !isFinite(currentTime) {
		return
	}
	c.apply(func(s *State) {
		if s.IsScrubbing {
			return
		}
		if s.IsReady {
			s.Position = clamp(currentTime, s.Duration)
			return
		}
		s.Position = math.Max(0, currentTime)
	})
}

func (c *Controller) OnVideoBuffering(buffering bool) {
	c.apply(func(s *State) { s.IsBuffering = buffering })
}

func (c *Controller) OnVideoEnded() {
	c.apply(func(s *State) {
		s.IsFinished = true
		s.IsPaused = true
	})
}

// OnVideoError only logs; halting playback is left to the caller.
func (c *Controller) OnVideoError(err error) {
	if err == nil {
		return
	}
	if c.logger != nil {
		c.logger.Error("player_video_error", slog.String("error", err.Error()))
	}
}

func (c *Controller) OnVideoAudioFocusChanged(hasFocus bool) {
	if !hasFocus {
		c.Pause()
	}
}

func (c *Controller) OnVideoLostAudioFocus() {
	c.Pause()
}

func (c *Controller) OnVideoNoisy() {
	c.Pause()
}

// Close drops every listener, ending the session's observable lifetime.
func (c *Controller) Close() {
	c.stateListeners.clear()
	c.eventListeners.clear()
}

func (c *Controller) apply(mutate func(*State)) bool {
	c.mu.Lock()
	next := c.state
	mutate(&next)
	if next == c.state {
		c.mu.Unlock()
		return false
	}
	c.state = next
	c.pending = append(c.pending, next)
	c.mu.Unlock()

	c.flush()
	return true
}

// skip is the shared clamp/finish logic behind Seek and Step. It returns the
// clamped position and the delta applied. Before the duration is known the
// position stays at the start offset and ok is false.
func (c *Controller) skip(target func(State) float64) (position, delta float64, ok bool) {
	c.mu.Lock()
	prev := c.state
	if !prev.IsReady {
		c.mu.Unlock()
		return prev.Position, 0, false
	}

	next := prev
	wanted := target(prev)
	atEnd := wanted >= prev.Duration
	next.IsFinished = atEnd
	if prev.IsFinished && !atEnd {
		next.IsPaused = false
	}
	position = clamp(wanted, prev.Duration)
	next.Position = position
	delta = position - prev.Position
	changed := next != prev
	c.state = next
	if changed {
		c.pending = append(c.pending, next)
	}
	c.mu.Unlock()

	if changed {
		c.flush()
	}
	return position, delta, true
}

// flush delivers queued states in commit order. Only one goroutine drains
// at a time; the others return once their state is queued.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.pending) > 0 {
		state := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.notify(state)
		c.mu.Lock()
	}
	c.pending = nil
	c.flushing = false
	c.mu.Unlock()
}

func (c *Controller) notify(state State) {
	for _, fn := range c.stateListeners.snapshot() {
		c.safeCall("state", func() { fn(state) })
	}
	c.emit(EventStateChanged, state.Position)
}

func (c *Controller) emit(event Event, value float64) {
	for _, sub := range c.eventListeners.snapshot() {
		if sub.event != event {
			continue
		}
		fn := sub.fn
		c.safeCall(string(event), func() { fn(event, value) })
	}
}

func (c *Controller) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Error("player_listener_panic", slog.String("listener", kind), slog.Any("panic", r))
		}
	}()
	fn()
}

func (c *Controller) logDebug(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Log(context.Background(), slog.LevelDebug, msg, attrs...)
}

func stepMagnitude(seconds []float64) float64 {
	if len(seconds) == 0 {
		return DefaultStepSeconds
	}
	return seconds[0]
}

func clamp(v, upper float64) float64 {
	return math.Max(0, math.Min(v, upper))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
