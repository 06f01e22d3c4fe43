// Package player binds resolved sources to playback surfaces and keeps them playing:
// level selection, the session state machine, error recovery and stall handling.
package player

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"kptv-player/work/logger"
	"kptv-player/work/types"
)

// Controller creates playback sessions. It holds no per-session state.
type Controller struct {
	factory    ABRFactory
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewController creates a controller that builds ABR clients with factory.
func NewController(factory ABRFactory) *Controller {
	return &Controller{
		factory:    factory,
		retryDelay: NetworkRetryDelay,
		log:        logger.WithComponent("player"),
	}
}

// NewSession creates an Idle session for entry on surface. Call Start to begin playback.
func (c *Controller) NewSession(surface Surface, entry *types.ContentEntry) (*Session, error) {
	if surface == nil {
		return nil, errors.New("no surface")
	}
	if entry == nil {
		return nil, errors.New("no content entry")
	}
	if !entry.Type.Playable() || !entry.Playable || entry.ResolvedPlayURL == "" {
		return nil, &types.ContentUnplayableError{EntryID: entry.ID, DisplayName: entry.DisplayName}
	}
	if c.factory == nil && !surface.CanPlayNatively(HLSMimeType) && isManifestURL(entry.ResolvedPlayURL) {
		return nil, errors.New("surface cannot play HLS natively and no ABR client is configured")
	}

	return newSession(surface, entry, c.factory, c.retryDelay, c.log.With().Str("surface", surface.ID()).Logger()), nil
}
