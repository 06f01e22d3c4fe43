// Package dispatch routes a selected catalog entry to the right action: series
// containers are opened for browsing, playable entries get a fresh playback session on
// the requested surface.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"kptv-player/work/logger"
	"kptv-player/work/player"
	"kptv-player/work/presentation"
	"kptv-player/work/types"
)

// Action tells the consumer what a dispatch did.
type Action string

const (
	// ActionPlay means a playback session was started.
	ActionPlay Action = "play"
	// ActionOpenContainer means the entry is a series container to be browsed.
	ActionOpenContainer Action = "open-container"
)

// Result is the outcome of PlayContent.
type Result struct {
	Action  Action          `json:"action"`
	Session *player.Session `json:"-"`
}

// SessionFactory creates an Idle session. *player.Controller satisfies it.
type SessionFactory interface {
	NewSession(surface player.Surface, entry *types.ContentEntry) (*player.Session, error)
}

// SurfaceProvider returns the surface with the given id, creating it if needed.
type SurfaceProvider func(id string) (player.Surface, error)

// PresenterFactory creates the presentation controller for a new session. Returning nil
// disables immersive presentation.
type PresenterFactory func(surface player.Surface) *presentation.Controller

// Hook is called with every new session before it starts, so subscriptions see the
// first state change.
type Hook func(s *player.Session)

// slot holds the live session of one surface. mu serialises dispatches to the surface.
type slot struct {
	mu        sync.Mutex
	session   *player.Session
	presenter *presentation.Controller
}

// Dispatcher keeps at most one live session per surface.
type Dispatcher struct {
	sessions   SessionFactory
	surfaces   SurfaceProvider
	presenters PresenterFactory
	hooks      []Hook
	slots      *xsync.MapOf[string, *slot]
	log        zerolog.Logger
}

// New creates a dispatcher. presenters may be nil.
func New(sessions SessionFactory, surfaces SurfaceProvider, presenters PresenterFactory, hooks ...Hook) *Dispatcher {
	return &Dispatcher{
		sessions:   sessions,
		surfaces:   surfaces,
		presenters: presenters,
		hooks:      hooks,
		slots:      xsync.NewMapOf[string, *slot](),
		log:        logger.WithComponent("dispatch"),
	}
}

// PlayContent acts on a selected entry. A series container yields ActionOpenContainer
// and no session. A playable entry without a source yields *types.ContentUnplayableError.
// Otherwise the surface's current session is closed completely before the new one is
// created and started.
func (d *Dispatcher) PlayContent(ctx context.Context, surfaceID string, entry *types.ContentEntry) (Result, error) {
	if entry == nil {
		return Result{}, fmt.Errorf("no content entry")
	}

	if entry.Type == types.ContentSeriesContainer {
		d.log.Debug().Str("entry", entry.ID).Msg("opening series container")
		return Result{Action: ActionOpenContainer}, nil
	}
	if !entry.Playable || entry.ResolvedPlayURL == "" {
		return Result{}, &types.ContentUnplayableError{EntryID: entry.ID, DisplayName: entry.DisplayName}
	}

	surface, err := d.surfaces(surfaceID)
	if err != nil {
		return Result{}, fmt.Errorf("surface %s: %w", surfaceID, err)
	}

	sl, _ := d.slots.LoadOrCompute(surfaceID, func() *slot { return &slot{} })
	sl.mu.Lock()
	defer sl.mu.Unlock()

	d.closeSlotLocked(surfaceID, sl)

	s, err := d.sessions.NewSession(surface, entry)
	if err != nil {
		return Result{}, err
	}
	for _, h := range d.hooks {
		h(s)
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return Result{}, err
	}

	sl.session = s
	if d.presenters != nil {
		sl.presenter = d.presenters(surface)
	}
	if sl.presenter != nil {
		if err := sl.presenter.EnterImmersive(s); err != nil {
			d.log.Debug().Err(err).Str("surface", surfaceID).Msg("immersive presentation unavailable")
		}
	}

	d.log.Info().Str("surface", surfaceID).Str("entry", entry.ID).Str("session", s.ID()).Msg("playback dispatched")
	return Result{Action: ActionPlay, Session: s}, nil
}

// Session returns the live session of a surface.
func (d *Dispatcher) Session(surfaceID string) (*player.Session, bool) {
	sl, ok := d.slots.Load(surfaceID)
	if !ok {
		return nil, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.session, sl.session != nil
}

// Snapshots returns a snapshot of every live session.
func (d *Dispatcher) Snapshots() []player.Snapshot {
	var out []player.Snapshot
	d.slots.Range(func(_ string, sl *slot) bool {
		sl.mu.Lock()
		s := sl.session
		sl.mu.Unlock()
		if s != nil {
			out = append(out, s.Snapshot())
		}
		return true
	})
	return out
}

// Presentation returns the presentation state of a surface.
func (d *Dispatcher) Presentation(surfaceID string) (types.PresentationState, bool) {
	sl, ok := d.slots.Load(surfaceID)
	if !ok {
		return types.PresentationState{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.presenter == nil {
		return types.PresentationState{}, false
	}
	return sl.presenter.State(), true
}

// Close ends the surface's session, leaving immersive mode first. It reports whether a
// session was closed.
func (d *Dispatcher) Close(surfaceID string) bool {
	sl, ok := d.slots.Load(surfaceID)
	if !ok {
		return false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return d.closeSlotLocked(surfaceID, sl)
}

// Dismiss handles a dismissal of the surface: exit immersive presentation, then close.
func (d *Dispatcher) Dismiss(surfaceID string) bool {
	return d.Close(surfaceID)
}

// CloseAll ends every session, for shutdown.
func (d *Dispatcher) CloseAll() {
	d.slots.Range(func(id string, sl *slot) bool {
		sl.mu.Lock()
		d.closeSlotLocked(id, sl)
		sl.mu.Unlock()
		return true
	})
}

// closeSlotLocked exits presentation and closes the session. Caller holds sl.mu.
func (d *Dispatcher) closeSlotLocked(surfaceID string, sl *slot) bool {
	if sl.session == nil {
		return false
	}
	if sl.presenter != nil {
		if err := sl.presenter.Dismiss(); err != nil {
			d.log.Debug().Err(err).Str("surface", surfaceID).Msg("presentation exit reported errors")
		}
		sl.presenter = nil
	}
	sl.session.Close()
	d.log.Debug().Str("surface", surfaceID).Str("session", sl.session.ID()).Msg("session closed")
	sl.session = nil
	return true
}
