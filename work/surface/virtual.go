// Package surface provides an in-process playback surface. It keeps the media timeline,
// buffered range and presentation capabilities a real display would expose, which lets
// the daemon and tests drive the playback engine without a screen.
package surface

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"kptv-player/work/types"
)

var (
	// ErrNoSource is returned when playback is requested on a detached surface.
	ErrNoSource = errors.New("surface has no source")

	// ErrFullscreenUnsupported is returned for fullscreen methods the surface lacks.
	ErrFullscreenUnsupported = errors.New("fullscreen method not supported")

	// ErrNotFullscreen is returned by ExitFullscreen when not in fullscreen.
	ErrNotFullscreen = errors.New("surface is not fullscreen")

	// ErrOrientationUnsupported is returned when the device cannot lock orientation.
	ErrOrientationUnsupported = errors.New("orientation lock not supported")
)

// Options describes the capabilities of a virtual surface.
type Options struct {
	// NativeTypes lists MIME types the surface plays without an ABR client.
	NativeTypes []string
	// FullscreenMethods lists the fullscreen entry points the surface supports.
	FullscreenMethods []string
	// OrientationLock enables LockOrientation.
	OrientationLock bool
	// Realtime makes a natively attached source buffer at wall clock speed while playing.
	Realtime bool
}

// Virtual is a thread-safe in-memory surface.
type Virtual struct {
	id   string
	opts Options
	now  func() time.Time

	mu          sync.Mutex
	src         string
	paused      bool
	ended       bool
	position    float64
	duration    float64
	bufferedEnd float64
	playingFrom time.Time // zero unless realtime buffering is running
	fullscreen  string
	orientation string
}

// New creates a detached, paused surface.
func New(id string, opts Options) *Virtual {
	return &Virtual{
		id:     id,
		opts:   opts,
		now:    time.Now,
		paused: true,
	}
}

// ID returns the surface identifier the registry knows it by.
func (v *Virtual) ID() string { return v.id }

// Attach sets the source for native playback and resets the timeline.
func (v *Virtual) Attach(src string) error {
	if strings.TrimSpace(src) == "" {
		return ErrNoSource
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
	v.src = src
	return nil
}

// Detach removes the source and resets the timeline.
func (v *Virtual) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

func (v *Virtual) resetLocked() {
	v.src = ""
	v.paused = true
	v.ended = false
	v.position = 0
	v.duration = 0
	v.bufferedEnd = 0
	v.playingFrom = time.Time{}
}

// Source returns the natively attached source, if any.
func (v *Virtual) Source() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.src
}

// Play resumes playback. With Realtime set and a native source attached, the buffered
// watermark grows with wall clock time until the next Pause.
func (v *Virtual) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.paused {
		return nil
	}
	v.paused = false
	if v.opts.Realtime && v.src != "" {
		v.playingFrom = v.now()
	}
	return nil
}

// Pause stops playback and freezes the buffered watermark where it is.
func (v *Virtual) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bufferedEnd = v.bufferedEndLocked()
	v.playingFrom = time.Time{}
	v.paused = true
	return nil
}

// CurrentTime returns the playback position in seconds.
func (v *Virtual) CurrentTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.position
}

// Seek moves the playback position. Negative positions are rejected.
func (v *Virtual) Seek(position float64) error {
	if position < 0 {
		return fmt.Errorf("invalid seek position %.3f", position)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.position = position
	return nil
}

// Duration returns the media duration in seconds, 0 when unknown or live.
func (v *Virtual) Duration() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.duration
}

// SetDuration sets the media duration reported by Duration.
func (v *Virtual) SetDuration(d float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.duration = d
}

// Buffered returns at most one range, from 0 to the buffered watermark.
func (v *Virtual) Buffered() []types.TimeRange {
	v.mu.Lock()
	defer v.mu.Unlock()
	end := v.bufferedEndLocked()
	if end <= 0 {
		return nil
	}
	return []types.TimeRange{{Start: 0, End: end}}
}

func (v *Virtual) bufferedEndLocked() float64 {
	end := v.bufferedEnd
	if !v.playingFrom.IsZero() {
		end += v.now().Sub(v.playingFrom).Seconds()
	}
	return end
}

// AppendBuffered extends the buffered range by seconds of media.
func (v *Virtual) AppendBuffered(seconds float64) {
	if seconds <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bufferedEnd += seconds
}

// Paused reports whether playback is paused. A new surface starts paused.
func (v *Virtual) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// Ended reports whether the media played to the end.
func (v *Virtual) Ended() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ended
}

// SetEnded marks the media as played to the end.
func (v *Virtual) SetEnded(ended bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ended = ended
}

// CanPlayNatively reports whether mime is one of the configured native types.
func (v *Virtual) CanPlayNatively(mime string) bool {
	return slices.ContainsFunc(v.opts.NativeTypes, func(t string) bool {
		return strings.EqualFold(t, mime)
	})
}

// FullscreenMethods returns the supported fullscreen entry points.
func (v *Virtual) FullscreenMethods() []string {
	return slices.Clone(v.opts.FullscreenMethods)
}

// RequestFullscreen enters fullscreen through method.
func (v *Virtual) RequestFullscreen(method string) error {
	if !slices.Contains(v.opts.FullscreenMethods, method) {
		return fmt.Errorf("%w: %s", ErrFullscreenUnsupported, method)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fullscreen = method
	return nil
}

// ExitFullscreen leaves fullscreen.
func (v *Virtual) ExitFullscreen() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fullscreen == "" {
		return ErrNotFullscreen
	}
	v.fullscreen = ""
	return nil
}

// Fullscreen returns the method fullscreen was entered with, or "".
func (v *Virtual) Fullscreen() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fullscreen
}

// LockOrientation locks the device to orientation.
func (v *Virtual) LockOrientation(orientation string) error {
	if !v.opts.OrientationLock {
		return ErrOrientationUnsupported
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orientation = orientation
	return nil
}

// UnlockOrientation releases an orientation lock.
func (v *Virtual) UnlockOrientation() error {
	if !v.opts.OrientationLock {
		return ErrOrientationUnsupported
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orientation = ""
	return nil
}

// Orientation returns the locked orientation, or "".
func (v *Virtual) Orientation() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.orientation
}
