package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kptv-player/work/player"
	"kptv-player/work/presentation"
	"kptv-player/work/surface"
	"kptv-player/work/types"
)

var (
	live = &types.ContentEntry{ID: "espn", DisplayName: "ESPN", Type: types.ContentLiveChannel, ResolvedPlayURL: "http://cdn.test/espn.m3u8", Playable: true}
	news = &types.ContentEntry{ID: "news", DisplayName: "News", Type: types.ContentLiveChannel, ResolvedPlayURL: "http://cdn.test/news.m3u8", Playable: true}
)

func newDispatcher(t *testing.T, hooks ...Hook) (*Dispatcher, *surface.Registry) {
	t.Helper()
	reg := surface.NewRegistry(surface.Options{
		NativeTypes:       []string{player.HLSMimeType},
		FullscreenMethods: []string{"requestFullscreen"},
	})
	d := New(player.NewController(nil), reg.Provide, func(player.Surface) *presentation.Controller {
		return presentation.NewController(nil, "")
	}, hooks...)
	t.Cleanup(d.CloseAll)
	return d, reg
}

func TestSeriesContainerOpensWithoutSession(t *testing.T) {
	d, _ := newDispatcher(t)

	res, err := d.PlayContent(context.Background(), "main", &types.ContentEntry{ID: "s", Type: types.ContentSeriesContainer})
	require.NoError(t, err)
	assert.Equal(t, ActionOpenContainer, res.Action)
	assert.Nil(t, res.Session)

	_, ok := d.Session("main")
	assert.False(t, ok)
}

func TestUnplayableEntry(t *testing.T) {
	d, _ := newDispatcher(t)

	_, err := d.PlayContent(context.Background(), "main", &types.ContentEntry{ID: "x", DisplayName: "X", Type: types.ContentMovie})
	var unplayable *types.ContentUnplayableError
	require.ErrorAs(t, err, &unplayable)
	assert.Equal(t, "x", unplayable.EntryID)
}

func TestPlayContentReplacesSessionOnSurface(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var (
		mu          sync.Mutex
		started     []string
		transitions []string
	)
	d, reg := newDispatcher(t, func(s *player.Session) {
		started = append(started, s.ContentID())
		id := s.ContentID()
		s.Subscribe(player.EventStateChanged, func(ev player.Event) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, id+":"+ev.From.String()+"->"+ev.To.String())
		})
	})

	first, err := d.PlayContent(context.Background(), "main", live)
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, first.Action)
	assert.Equal(t, player.StatePlaying, first.Session.State())

	ps, ok := d.Presentation("main")
	require.True(t, ok)
	assert.True(t, ps.Immersive)

	second, err := d.PlayContent(context.Background(), "main", news)
	require.NoError(t, err)

	assert.Equal(t, player.StateClosed, first.Session.State())
	assert.Equal(t, player.StatePlaying, second.Session.State())
	assert.Equal(t, []string{"espn", "news"}, started)

	mu.Lock()
	closedAt, loadingAt, closes := -1, -1, 0
	for i, tr := range transitions {
		switch tr {
		case "espn:playing->closed":
			closes++
			closedAt = i
		case "news:idle->manifest_loading":
			loadingAt = i
		}
	}
	mu.Unlock()
	assert.Equal(t, 1, closes)
	require.NotEqual(t, -1, loadingAt)
	assert.Less(t, closedAt, loadingAt, "prior session must close before the next one loads: %v", transitions)

	current, ok := d.Session("main")
	require.True(t, ok)
	assert.Same(t, second.Session, current)

	v, err := reg.Get("main")
	require.NoError(t, err)
	assert.Equal(t, news.ResolvedPlayURL, v.Source())

	assert.True(t, d.Close("main"))
	assert.False(t, d.Close("main"))
	assert.Equal(t, player.StateClosed, second.Session.State())
	assert.Empty(t, v.Fullscreen())
}

func TestSurfacesAreIndependent(t *testing.T) {
	d, _ := newDispatcher(t)

	a, err := d.PlayContent(context.Background(), "left", live)
	require.NoError(t, err)
	b, err := d.PlayContent(context.Background(), "right", news)
	require.NoError(t, err)

	assert.Equal(t, player.StatePlaying, a.Session.State())
	assert.Equal(t, player.StatePlaying, b.Session.State())

	assert.True(t, d.Dismiss("left"))
	assert.Equal(t, player.StateClosed, a.Session.State())
	assert.Equal(t, player.StatePlaying, b.Session.State())

	d.CloseAll()
	assert.Equal(t, player.StateClosed, b.Session.State())
}

func TestInvalidSurface(t *testing.T) {
	d, _ := newDispatcher(t)
	_, err := d.PlayContent(context.Background(), "bad/id", live)
	assert.ErrorIs(t, err, surface.ErrInvalidID)
}
