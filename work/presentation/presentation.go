// Package presentation coordinates immersive playback: fullscreen entry with legacy
// fallbacks, the mobile landscape layout with orientation lock, and an ordered
// best-effort exit tied to the session lifecycle.
package presentation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/grafana/regexp"
	"github.com/rs/zerolog"

	"kptv-player/work/logger"
	"kptv-player/work/player"
	"kptv-player/work/types"
)

// FullscreenMethods is the order fullscreen entry points are tried in: the standard one
// first, then the vendor-prefixed variants.
var FullscreenMethods = []string{
	"requestFullscreen",
	"webkitRequestFullscreen",
	"webkitEnterFullscreen",
	"mozRequestFullScreen",
	"msRequestFullscreen",
}

// LandscapeOrientation is requested when falling back to the mobile layout.
const LandscapeOrientation = "landscape"

var mobileRegex = regexp.MustCompile(`(?i)android|webos|iphone|ipad|ipod|blackberry|iemobile|opera mini|mobile`)

// IsMobile reports whether a user agent belongs to a mobile device.
func IsMobile(userAgent string) bool {
	return mobileRegex.MatchString(userAgent)
}

// Fullscreener is implemented by surfaces that can enter fullscreen.
type Fullscreener interface {
	RequestFullscreen(method string) error
	ExitFullscreen() error
}

// OrientationLocker locks the device orientation.
type OrientationLocker interface {
	LockOrientation(orientation string) error
	UnlockOrientation() error
}

// Playback is the part of a session the controller acts on. *player.Session satisfies it.
type Playback interface {
	ID() string
	Surface() player.Surface
	Pause() error
	ReleaseClient()
}

// Controller owns the presentation state of one surface.
type Controller struct {
	orientation OrientationLocker
	mobile      bool
	log         zerolog.Logger

	mu       sync.Mutex
	state    types.PresentationState
	playback Playback
}

// NewController creates a controller for a device with the given user agent.
// orientation may be nil, in which case the surface is asked for orientation locking.
func NewController(orientation OrientationLocker, userAgent string) *Controller {
	return &Controller{
		orientation: orientation,
		mobile:      IsMobile(userAgent),
		log:         logger.WithComponent("presentation"),
	}
}

// State returns a copy of the presentation state.
func (c *Controller) State() types.PresentationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EnterImmersive presents pb's surface fullscreen, or in the landscape layout on mobile
// devices without fullscreen support.
func (c *Controller) EnterImmersive(pb Playback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	surface := pb.Surface()
	c.playback = pb
	c.state = types.PresentationState{SurfaceID: surface.ID()}

	if fs, ok := surface.(Fullscreener); ok {
		for _, method := range FullscreenMethods {
			err := fs.RequestFullscreen(method)
			if err == nil {
				c.state.Immersive = true
				c.state.FullscreenMethod = method
				c.log.Debug().Str("session", pb.ID()).Str("method", method).Msg("entered fullscreen")
				return nil
			}
			c.log.Debug().Str("method", method).Err(err).Msg("fullscreen method unavailable")
		}
	}

	if !c.mobile {
		return types.ErrImmersiveUnavailable
	}

	c.state.Immersive = true
	c.state.LandscapeMode = true
	if locker := c.locker(surface); locker != nil {
		if err := locker.LockOrientation(LandscapeOrientation); err != nil {
			c.log.Debug().Err(err).Msg("orientation lock unavailable")
		} else {
			c.state.OrientationLocked = true
		}
	}
	c.log.Debug().Str("session", pb.ID()).Bool("locked", c.state.OrientationLocked).Msg("entered landscape layout")
	return nil
}

// ExitImmersive leaves immersive presentation and releases playback: pause, release the
// ABR client, exit fullscreen, unlock orientation, clear the layout flags. Every step runs
// even when an earlier one fails; the failures are returned joined.
func (c *Controller) ExitImmersive() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pb := c.playback
	state := c.state
	var errs []error

	if pb != nil {
		if err := pb.Pause(); err != nil {
			errs = append(errs, fmt.Errorf("pause: %w", err))
		}
		pb.ReleaseClient()
	}

	if state.FullscreenMethod != "" && pb != nil {
		if fs, ok := pb.Surface().(Fullscreener); ok {
			if err := fs.ExitFullscreen(); err != nil {
				errs = append(errs, fmt.Errorf("exit fullscreen: %w", err))
			}
		}
	}

	if state.OrientationLocked && pb != nil {
		if locker := c.locker(pb.Surface()); locker != nil {
			if err := locker.UnlockOrientation(); err != nil {
				errs = append(errs, fmt.Errorf("unlock orientation: %w", err))
			}
		}
	}

	c.state = types.PresentationState{}
	c.playback = nil

	err := errors.Join(errs...)
	if err != nil {
		c.log.Warn().Err(err).Msg("immersive exit completed with errors")
	}
	return err
}

// Dismiss handles a user dismissal gesture. It is ExitImmersive under another name so
// consumers can wire the gesture directly.
func (c *Controller) Dismiss() error {
	return c.ExitImmersive()
}

func (c *Controller) locker(surface player.Surface) OrientationLocker {
	if c.orientation != nil {
		return c.orientation
	}
	if l, ok := surface.(OrientationLocker); ok {
		return l
	}
	return nil
}
