package player

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"kptv-player/work/metrics"
	"kptv-player/work/types"
	"kptv-player/work/watcher"
)

// NetworkRetryDelay is how long a session waits before reloading after a fatal network
// error.
const NetworkRetryDelay = 3 * time.Second

// Snapshot is a point-in-time copy of a session for consumers.
type Snapshot struct {
	ID           string            `json:"id"`
	ContentID    string            `json:"contentId"`
	SurfaceID    string            `json:"surfaceId"`
	SourceURL    string            `json:"sourceUrl"`
	State        State             `json:"state"`
	Native       bool              `json:"native"`
	Levels       []types.Level     `json:"levels"`
	CurrentLevel int               `json:"currentLevel"`
	StallCount   int               `json:"stallCount"`
	Watermark    float64           `json:"watermark"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastError    *types.ErrorEvent `json:"lastError,omitempty"`
}

type subscription struct {
	typ EventType
	fn  func(Event)
}

// Session binds one content entry to one surface and drives it through the playback
// state machine. All state is guarded by mu; subscriber callbacks run after mu is
// released.
type Session struct {
	id         string
	contentID  string
	sourceURL  string
	surface    Surface
	factory    ABRFactory
	retryDelay time.Duration
	createdAt  time.Time
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	native       bool
	abr          ABRClient
	sink         *listener
	levels       []types.Level
	currentLevel int
	stallCount   int
	watermark    float64
	resumeAt     float64
	retryTimer   *time.Timer
	monitor      *watcher.Monitor
	history      []Transition
	lastError    *types.ErrorEvent
	active       bool // counted in the sessions gauge
	queued       []Event

	subs   *xsync.MapOf[uint64, subscription]
	nextID atomic.Uint64
}

func newSession(surface Surface, entry *types.ContentEntry, factory ABRFactory, retryDelay time.Duration, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:         id,
		contentID:  entry.ID,
		sourceURL:  entry.ResolvedPlayURL,
		surface:    surface,
		factory:    factory,
		retryDelay: retryDelay,
		createdAt:  time.Now(),
		log:        log.With().Str("session", id).Str("content", entry.ID).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		subs:       xsync.NewMapOf[uint64, subscription](),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ContentID returns the catalog entry the session plays.
func (s *Session) ContentID() string { return s.contentID }

// Surface returns the surface the session renders to.
func (s *Session) Surface() Surface { return s.surface }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for events of type typ and returns a function that removes the
// subscription. All subscriptions are dropped when the session closes.
func (s *Session) Subscribe(typ EventType, fn func(Event)) (unsubscribe func()) {
	key := s.nextID.Add(1)
	s.subs.Store(key, subscription{typ: typ, fn: fn})
	return func() { s.subs.Delete(key) }
}

// Start begins loading the source. Sessions start exactly once, from Idle.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	s.withLock(func() {
		if s.state != StateIdle {
			err = fmt.Errorf("%w: start from %s", types.ErrInvalidTransition, s.state)
			return
		}
		if err = s.transition(StateManifestLoading); err != nil {
			return
		}
		s.active = true
		metrics.SessionsActive.Inc()

		s.native = s.surface.CanPlayNatively(HLSMimeType) || !isManifestURL(s.sourceURL)
		if s.native {
			s.log.Debug().Msg("using native playback")
			s.attachNative()
			return
		}

		s.sink = &listener{session: s}
		s.abr = s.factory(s.sink)
		s.abr.AttachMedia(s.surface)
		s.abr.LoadSource(s.sourceURL)
	})
	return err
}

// attachNative hands the source to the surface directly. Caller holds mu.
func (s *Session) attachNative() {
	if err := s.surface.Attach(s.sourceURL); err != nil {
		s.handleError(types.NewErrorEvent(types.ErrorNetwork, true, err.Error()))
		return
	}
	s.seekResume()
	if err := s.surface.Play(); err != nil {
		s.log.Warn().Err(err).Msg("surface refused to play")
	}
	_ = s.transition(StatePlaying)
}

// HandleError applies the recovery policy to an error reported by the ABR client or by
// native playback.
func (s *Session) HandleError(ev types.ErrorEvent) {
	s.withLock(func() {
		if s.state == StateClosed {
			return
		}
		s.handleError(ev)
	})
}

// handleError is HandleError with mu held.
func (s *Session) handleError(ev types.ErrorEvent) {
	metrics.PlaybackErrors.WithLabelValues(ev.Category.String(), fmt.Sprintf("%t", ev.Fatal)).Inc()
	s.lastError = &ev
	s.queue(Event{Type: EventError, Error: &ev})

	logEv := s.log.Warn()
	if !ev.Fatal {
		logEv = s.log.Debug()
	}
	logEv.Str("category", ev.Category.String()).Bool("fatal", ev.Fatal).Str("state", s.state.String()).Msg(ev.Detail)

	if !ev.Fatal {
		return
	}

	switch ev.Category {
	case types.ErrorNetwork:
		s.scheduleRetry()

	case types.ErrorMedia:
		if s.abr == nil {
			s.fail(ev)
			return
		}
		if err := s.abr.RecoverMediaError(); err != nil {
			s.log.Error().Err(err).Msg("media error recovery failed")
			s.fail(ev)
			return
		}
		s.log.Info().Msg("media error recovered")

	default:
		// Unknown, and fatal manifest or fragment errors: step down one level.
		// Non-fatal fragment errors are only logged above; a fatal one means the
		// client gave up on the level, so it is treated like a manifest error.
		if s.abr != nil && s.currentLevel > 0 {
			s.currentLevel--
			s.log.Info().Int("level", s.currentLevel).Msg("downgrading level after fatal error")
			s.abr.SetLevel(s.currentLevel)
			return
		}
		s.fail(ev)
	}
}

// scheduleRetry moves to Recovering and arms the single pending reload. Caller holds mu.
func (s *Session) scheduleRetry() {
	if s.retryTimer != nil {
		s.log.Debug().Msg("network retry already pending")
		return
	}
	switch s.state {
	case StateManifestLoading, StatePlaying, StateStalled:
		if err := s.transition(StateRecovering); err != nil {
			return
		}
	case StateRecovering:
	default:
		return
	}

	s.resumeAt = s.surface.CurrentTime()
	s.log.Info().Dur("delay", s.retryDelay).Msg("scheduling reload after network error")
	s.retryTimer = time.AfterFunc(s.retryDelay, s.retry)
}

// retry fires once per scheduled network recovery.
func (s *Session) retry() {
	s.withLock(func() {
		s.retryTimer = nil
		if s.state != StateRecovering {
			return
		}
		if err := s.transition(StateManifestLoading); err != nil {
			return
		}
		if s.native {
			s.surface.Detach()
			s.attachNative()
			return
		}
		if s.abr != nil {
			s.abr.LoadSource(s.sourceURL)
		}
	})
}

// fail moves to Failed and releases the ABR client. Caller holds mu.
func (s *Session) fail(ev types.ErrorEvent) {
	if err := s.transition(StateFailed); err != nil {
		return
	}
	s.releaseClient()
	s.log.Error().Err(types.AsPlaybackError(ev)).Msg("playback failed")
}

// onManifestParsed selects the first level and starts playback.
func (s *Session) onManifestParsed(levels []types.Level) {
	s.withLock(func() {
		if s.state != StateManifestLoading || s.abr == nil {
			s.log.Debug().Str("state", s.state.String()).Msg("ignoring manifest")
			return
		}

		s.levels = append([]types.Level(nil), levels...)
		s.currentLevel = 0
		s.abr.SetLevel(0)
		s.abr.StartLoad()
		s.seekResume()
		if err := s.surface.Play(); err != nil {
			s.log.Warn().Err(err).Msg("surface refused to play")
		}
		s.log.Info().Int("levels", len(levels)).Msg("manifest parsed")
		_ = s.transition(StatePlaying)
	})
}

func (s *Session) onLevelSwitched(index int) {
	s.withLock(func() {
		if s.state == StateClosed {
			return
		}
		if index >= 0 && index < len(s.levels) {
			s.currentLevel = index
		}
	})
}

// seekResume restores the playback position saved before a network reload. Caller holds mu.
func (s *Session) seekResume() {
	if s.resumeAt <= 0 {
		return
	}
	if err := s.surface.Seek(s.resumeAt); err != nil {
		s.log.Debug().Err(err).Msg("could not restore position")
	}
	s.resumeAt = 0
}

// SetLevel pins the quality level manually.
func (s *Session) SetLevel(index int) error {
	var err error
	s.withLock(func() {
		switch {
		case s.state == StateClosed:
			err = types.ErrSessionClosed
		case s.abr == nil:
			err = errors.New("quality selection requires an ABR client")
		case index < 0 || index >= len(s.levels):
			err = fmt.Errorf("level %d out of range (%d levels)", index, len(s.levels))
		default:
			s.currentLevel = index
			s.abr.SetLevel(index)
		}
	})
	return err
}

// Play resumes a paused session and restarts health monitoring.
func (s *Session) Play() error {
	var err error
	s.withLock(func() {
		if s.state == StateClosed {
			err = types.ErrSessionClosed
			return
		}
		if err = s.surface.Play(); err != nil {
			return
		}
		if s.state.watched() && !s.monitorRunning() {
			s.startMonitor()
		}
	})
	return err
}

// Pause pauses the surface. The health monitor stops on its next sample.
func (s *Session) Pause() error {
	var err error
	s.withLock(func() {
		if s.state == StateClosed {
			err = types.ErrSessionClosed
			return
		}
		err = s.surface.Pause()
	})
	return err
}

// ReleaseClient destroys the ABR client without closing the session.
func (s *Session) ReleaseClient() {
	s.withLock(func() {
		s.releaseClient()
	})
}

// releaseClient stops monitoring and destroys the ABR client. Caller holds mu.
func (s *Session) releaseClient() {
	s.stopMonitor()
	if s.sink != nil {
		s.sink.detach()
		s.sink = nil
	}
	if s.abr != nil {
		s.abr.Destroy()
		s.abr = nil
	}
}

// Close tears the session down: pending retry, monitor, ABR client, surface source and
// subscribers. It is idempotent.
func (s *Session) Close() {
	closed := false
	s.withLock(func() {
		if s.state == StateClosed {
			return
		}
		if s.retryTimer != nil {
			s.retryTimer.Stop()
			s.retryTimer = nil
		}
		s.releaseClient()
		s.surface.Detach()
		_ = s.transition(StateClosed)
		if s.active {
			s.active = false
			metrics.SessionsActive.Dec()
		}
		s.cancel()
		closed = true
	})
	if closed {
		s.subs.Clear()
		s.log.Debug().Msg("session closed")
	}
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.id,
		ContentID:    s.contentID,
		SurfaceID:    s.surface.ID(),
		SourceURL:    s.sourceURL,
		State:        s.state,
		Native:       s.native,
		Levels:       append([]types.Level(nil), s.levels...),
		CurrentLevel: s.currentLevel,
		StallCount:   s.stallCount,
		Watermark:    s.watermark,
		CreatedAt:    s.createdAt,
		LastError:    s.lastError,
	}
}

// History returns every accepted state change in order.
func (s *Session) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}

// transition applies a state change from the table. Caller holds mu.
func (s *Session) transition(to State) error {
	from := s.state
	if !CanTransition(from, to) {
		s.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("rejected state transition")
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
	}

	s.state = to
	s.history = append(s.history, Transition{From: from, To: to, At: time.Now()})
	metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	s.queue(Event{Type: EventStateChanged, From: from, To: to})
	s.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state changed")

	switch {
	case to.watched() && !from.watched():
		s.startMonitor()
	case !to.watched() && from.watched():
		s.stopMonitor()
	}
	return nil
}

// startMonitor replaces any previous monitor. Caller holds mu.
func (s *Session) startMonitor() {
	s.stopMonitor()
	s.stallCount = 0
	s.monitor = watcher.New(s)
	s.monitor.Start(s.ctx)
}

// stopMonitor cancels the monitor without waiting for it. Caller holds mu.
func (s *Session) stopMonitor() {
	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
}

func (s *Session) monitorRunning() bool {
	if s.monitor == nil {
		return false
	}
	select {
	case <-s.monitor.Done():
		return false
	default:
		return true
	}
}

// Watermark returns the end of the furthest buffered range.
func (s *Session) Watermark() float64 {
	var w float64
	for _, r := range s.surface.Buffered() {
		if r.End > w {
			w = r.End
		}
	}
	return w
}

// Paused reports whether the surface is paused or has reached the end.
func (s *Session) Paused() bool {
	return s.surface.Paused() || s.surface.Ended()
}

// Stalled is called by the health monitor for every sample without buffer progress.
func (s *Session) Stalled(count int) {
	s.withLock(func() {
		if s.state == StateClosed {
			return
		}
		s.stallCount = count
		if s.state != StatePlaying {
			return
		}
		if err := s.transition(StateStalled); err != nil {
			return
		}
		metrics.Stalls.Inc()
		s.queue(Event{Type: EventStalled, StallCount: count})
	})
}

// Progressed is called by the health monitor when the buffered watermark moved.
func (s *Session) Progressed(watermark float64) {
	s.withLock(func() {
		if s.state == StateClosed {
			return
		}
		s.watermark = watermark
		s.stallCount = 0
		if s.state == StateStalled {
			_ = s.transition(StatePlaying)
		}
	})
}

// Reload restarts loading after a persistent stall.
func (s *Session) Reload() {
	s.withLock(func() {
		if !s.state.watched() {
			return
		}
		metrics.ForcedReloads.Inc()
		s.stallCount = 0
		s.log.Info().Msg("forcing reload")
		if s.abr != nil {
			s.abr.StopLoad()
			s.abr.StartLoad()
			return
		}
		if s.native {
			s.resumeAt = s.surface.CurrentTime()
			s.surface.Detach()
			if err := s.surface.Attach(s.sourceURL); err != nil {
				s.handleError(types.NewErrorEvent(types.ErrorNetwork, true, err.Error()))
				return
			}
			s.seekResume()
			_ = s.surface.Play()
		}
	})
}

// withLock runs fn under mu and then delivers the events fn queued.
func (s *Session) withLock(fn func()) {
	s.mu.Lock()
	fn()
	events := s.queued
	s.queued = nil
	s.mu.Unlock()

	s.emit(events)
}

// queue records an event for delivery after mu is released. Caller holds mu.
func (s *Session) queue(ev Event) {
	ev.SessionID = s.id
	s.queued = append(s.queued, ev)
}

func (s *Session) emit(events []Event) {
	for _, ev := range events {
		s.subs.Range(func(_ uint64, sub subscription) bool {
			if sub.typ == ev.Type {
				sub.fn(ev)
			}
			return true
		})
	}
}

// isManifestURL reports whether src looks like an HLS manifest.
func isManifestURL(src string) bool {
	p := src
	if u, err := url.Parse(src); err == nil {
		p = u.Path
	}
	return strings.HasSuffix(strings.ToLower(p), ".m3u8") || strings.HasSuffix(strings.ToLower(p), ".m3u")
}

// listener is the event sink handed to the ABR client. It is detached on teardown so
// late callbacks are dropped and the client no longer reaches the session.
type listener struct {
	mu      sync.RWMutex
	session *Session
}

func (l *listener) target() *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session
}

func (l *listener) detach() {
	l.mu.Lock()
	l.session = nil
	l.mu.Unlock()
}

func (l *listener) OnManifestParsed(levels []types.Level) {
	if s := l.target(); s != nil {
		s.onManifestParsed(levels)
	}
}

func (l *listener) OnLevelSwitched(index int) {
	if s := l.target(); s != nil {
		s.onLevelSwitched(index)
	}
}

func (l *listener) OnError(ev types.ErrorEvent) {
	if s := l.target(); s != nil {
		s.HandleError(ev)
	}
}
