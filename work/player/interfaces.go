package player

import "kptv-player/work/types"

// HLSMimeType is the manifest type checked with Surface.CanPlayNatively.
const HLSMimeType = "application/vnd.apple.mpegurl"

// Surface is the display the session renders to. Implementations must be safe for
// concurrent use.
type Surface interface {
	ID() string
	// Attach points the surface at a source for native playback.
	Attach(src string) error
	// Detach removes any source and resets the media timeline.
	Detach()
	Play() error
	Pause() error
	CurrentTime() float64
	Seek(position float64) error
	Duration() float64
	Buffered() []types.TimeRange
	Paused() bool
	Ended() bool
	CanPlayNatively(mime string) bool
}

// Listener receives callbacks from an ABR client. Callbacks must be delivered from the
// client's own goroutines, never synchronously from inside an ABRClient method call.
type Listener interface {
	OnManifestParsed(levels []types.Level)
	OnLevelSwitched(index int)
	OnError(ev types.ErrorEvent)
}

// ABRClient is the software adaptive bitrate client capability. Its methods must not
// block on callback delivery.
type ABRClient interface {
	LoadSource(url string)
	AttachMedia(surface Surface)
	StartLoad()
	StopLoad()
	SetLevel(index int)
	// RecoverMediaError attempts to reset the media pipeline. An error means recovery is
	// unsupported or failed.
	RecoverMediaError() error
	// Destroy releases every resource. It must not wait for in-flight callbacks.
	Destroy()
}

// ABRFactory creates an ABR client bound to a listener.
type ABRFactory func(l Listener) ABRClient
