package presentation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-player/work/player"
	"kptv-player/work/surface"
	"kptv-player/work/types"
)

const (
	desktopUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148"
)

type fakePlayback struct {
	surface  player.Surface
	calls    []string
	pauseErr error
}

func (f *fakePlayback) ID() string              { return "session-1" }
func (f *fakePlayback) Surface() player.Surface { return f.surface }
func (f *fakePlayback) ReleaseClient()          { f.calls = append(f.calls, "release") }
func (f *fakePlayback) Pause() error {
	f.calls = append(f.calls, "pause")
	return f.pauseErr
}

func TestEnterImmersiveUsesFirstSupportedMethod(t *testing.T) {
	v := surface.New("main", surface.Options{FullscreenMethods: []string{"mozRequestFullScreen", "webkitEnterFullscreen"}})
	c := NewController(nil, desktopUA)

	require.NoError(t, c.EnterImmersive(&fakePlayback{surface: v}))

	st := c.State()
	assert.True(t, st.Immersive)
	assert.Equal(t, "webkitEnterFullscreen", st.FullscreenMethod)
	assert.False(t, st.LandscapeMode)
	assert.Equal(t, "main", st.SurfaceID)
	assert.Equal(t, "webkitEnterFullscreen", v.Fullscreen())
}

func TestEnterImmersiveMobileFallback(t *testing.T) {
	v := surface.New("phone", surface.Options{OrientationLock: true})
	c := NewController(nil, iphoneUA)

	require.NoError(t, c.EnterImmersive(&fakePlayback{surface: v}))

	st := c.State()
	assert.True(t, st.Immersive)
	assert.True(t, st.LandscapeMode)
	assert.True(t, st.OrientationLocked)
	assert.Equal(t, LandscapeOrientation, v.Orientation())
}

func TestEnterImmersiveUnavailableOnDesktop(t *testing.T) {
	c := NewController(nil, desktopUA)
	err := c.EnterImmersive(&fakePlayback{surface: surface.New("main", surface.Options{})})
	assert.ErrorIs(t, err, types.ErrImmersiveUnavailable)
	assert.False(t, c.State().Immersive)
}

func TestExitImmersiveRunsEveryStep(t *testing.T) {
	v := surface.New("phone", surface.Options{OrientationLock: true})
	c := NewController(nil, iphoneUA)
	pb := &fakePlayback{surface: v, pauseErr: errors.New("already paused")}

	require.NoError(t, c.EnterImmersive(pb))
	err := c.ExitImmersive()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already paused")
	assert.Equal(t, []string{"pause", "release"}, pb.calls)
	assert.Empty(t, v.Orientation())
	assert.Equal(t, types.PresentationState{}, c.State())
}

func TestDismissExitsFullscreen(t *testing.T) {
	v := surface.New("main", surface.Options{FullscreenMethods: FullscreenMethods})
	c := NewController(nil, desktopUA)
	pb := &fakePlayback{surface: v}

	require.NoError(t, c.EnterImmersive(pb))
	require.NoError(t, c.Dismiss())
	assert.Empty(t, v.Fullscreen())
	assert.False(t, c.State().Immersive)

	// nothing to exit
	assert.NoError(t, c.ExitImmersive())
}

func TestIsMobile(t *testing.T) {
	assert.True(t, IsMobile(iphoneUA))
	assert.True(t, IsMobile("Mozilla/5.0 (Linux; Android 14; Pixel 8)"))
	assert.False(t, IsMobile(desktopUA))
	assert.False(t, IsMobile(""))
}
