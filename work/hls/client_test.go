package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-player/work/cache"
	"kptv-player/work/player"
	"kptv-player/work/surface"
	"kptv-player/work/types"
)

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2"
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2"
http://other.test/high/index.m3u8
`

const lowPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:10
#EXTINF:4.0,
seg10.ts
#EXTINF:4.0,
seg11.ts
#EXTINF:2.5,
seg12.ts
#EXT-X-ENDLIST
`

type recordingListener struct {
	mu       sync.Mutex
	levels   chan []types.Level
	errors   chan types.ErrorEvent
	switched []int
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		levels: make(chan []types.Level, 4),
		errors: make(chan types.ErrorEvent, 8),
	}
}

func (r *recordingListener) OnManifestParsed(levels []types.Level) { r.levels <- levels }
func (r *recordingListener) OnError(ev types.ErrorEvent)           { r.errors <- ev }
func (r *recordingListener) OnLevelSwitched(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switched = append(r.switched, i)
}

func newPool(t *testing.T) *ants.Pool {
	t.Helper()
	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/master.m3u8":
			if hits != nil {
				hits.Add(1)
			}
			_, _ = io.WriteString(w, masterPlaylist)
		case "/low/index.m3u8":
			_, _ = io.WriteString(w, lowPlaylist)
		case "/broken.m3u8":
			_, _ = io.WriteString(w, "this is not a playlist")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitLevels(t *testing.T, l *recordingListener) []types.Level {
	t.Helper()
	select {
	case levels := <-l.levels:
		return levels
	case ev := <-l.errors:
		t.Fatalf("unexpected error event: %+v", ev)
	case <-time.After(5 * time.Second):
		t.Fatal("manifest not parsed")
	}
	return nil
}

func waitError(t *testing.T, l *recordingListener) types.ErrorEvent {
	t.Helper()
	select {
	case ev := <-l.errors:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no error event")
	}
	return types.ErrorEvent{}
}

func TestLoadSourceEnumeratesLevelsInOrder(t *testing.T) {
	srv := newServer(t, nil)
	l := newRecordingListener()
	c := New(l, http.DefaultClient, newPool(t), nil, nil)
	defer c.Destroy()

	c.LoadSource(srv.URL + "/master.m3u8")
	levels := waitLevels(t, l)

	require.Len(t, levels, 2)
	assert.Equal(t, 0, levels[0].Index)
	assert.Equal(t, 800000, levels[0].Bandwidth)
	assert.Equal(t, "640x360", levels[0].Resolution)
	assert.Equal(t, srv.URL+"/low/index.m3u8", levels[0].URI)
	assert.Equal(t, "http://other.test/high/index.m3u8", levels[1].URI)
}

func TestTrackingAppendsSegmentDurations(t *testing.T) {
	srv := newServer(t, nil)
	l := newRecordingListener()
	v := surface.New("main", surface.Options{})
	c := New(l, http.DefaultClient, newPool(t), nil, nil)
	defer c.Destroy()

	c.AttachMedia(v)
	c.LoadSource(srv.URL + "/master.m3u8")
	waitLevels(t, l)

	c.SetLevel(0)
	c.StartLoad()

	require.Eventually(t, func() bool {
		b := v.Buffered()
		return len(b) == 1 && b[0].End == 10.5
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.switched) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMasterFailuresAreCategorized(t *testing.T) {
	srv := newServer(t, nil)
	pool := newPool(t)

	l := newRecordingListener()
	c := New(l, http.DefaultClient, pool, nil, nil)
	c.LoadSource(srv.URL + "/missing.m3u8")
	ev := waitError(t, l)
	assert.Equal(t, types.ErrorNetwork, ev.Category)
	assert.True(t, ev.Fatal)
	c.Destroy()

	l = newRecordingListener()
	c = New(l, http.DefaultClient, pool, nil, nil)
	c.LoadSource(srv.URL + "/broken.m3u8")
	ev = waitError(t, l)
	assert.Equal(t, types.ErrorManifest, ev.Category)
	assert.True(t, ev.Fatal)
	c.Destroy()
}

func TestReloadBypassesManifestCache(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	mc := cache.NewManifestCache(time.Minute)
	pool := newPool(t)

	l := newRecordingListener()
	first := New(l, http.DefaultClient, pool, mc, nil)
	first.LoadSource(srv.URL + "/master.m3u8")
	waitLevels(t, l)
	first.Destroy()

	// a second client is served from the cache
	second := New(l, http.DefaultClient, pool, mc, nil)
	second.LoadSource(srv.URL + "/master.m3u8")
	waitLevels(t, l)
	assert.Equal(t, int32(1), hits.Load())

	// reloading the same client goes back to the network
	second.LoadSource(srv.URL + "/master.m3u8")
	waitLevels(t, l)
	assert.Equal(t, int32(2), hits.Load())
	second.Destroy()
}

func TestDestroyDropsCallbacks(t *testing.T) {
	srv := newServer(t, nil)
	l := newRecordingListener()
	c := New(l, http.DefaultClient, newPool(t), nil, nil)

	c.Destroy()
	c.LoadSource(srv.URL + "/master.m3u8")
	assert.ErrorIs(t, c.RecoverMediaError(), ErrDestroyed)

	select {
	case <-l.levels:
		t.Fatal("callback after destroy")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLevelFailuresEscalate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/master.m3u8" {
			_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\ngone.m3u8\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := newRecordingListener()
	c := New(l, http.DefaultClient, newPool(t), nil, nil)
	defer c.Destroy()

	c.LoadSource(srv.URL + "/master.m3u8")
	waitLevels(t, l)
	c.StartLoad()

	first := waitError(t, l)
	assert.Equal(t, types.ErrorManifest, first.Category)
	assert.False(t, first.Fatal)

	waitError(t, l)
	last := waitError(t, l)
	assert.Equal(t, types.ErrorNetwork, last.Category)
	assert.True(t, last.Fatal)
}

// liveServer publishes one new segment per media playlist request, keeping a three
// segment window like a live origin refreshed at the target duration.
func liveServer(t *testing.T, segment int) *httptest.Server {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live/master.m3u8":
			_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000\nindex.m3u8\n")
		case "/live/index.m3u8":
			first := int(requests.Add(1)) - 1
			var b strings.Builder
			fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:%d\n", segment, first)
			for seq := first; seq < first+3; seq++ {
				fmt.Fprintf(&b, "#EXTINF:%d.0,\nseg%d.ts\n", segment, seq)
			}
			_, _ = io.WriteString(w, b.String())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthyLiveStreamNeverStalls(t *testing.T) {
	if testing.Short() {
		t.Skip("plays a live stream for several seconds")
	}

	srv := liveServer(t, 2)
	controller := player.NewController(NewFactory(http.DefaultClient, newPool(t), nil, nil))
	v := surface.New("tv", surface.Options{})

	s, err := controller.NewSession(v, &types.ContentEntry{
		ID:              "live",
		Type:            types.ContentLiveChannel,
		ResolvedPlayURL: srv.URL + "/live/master.m3u8",
		Playable:        true,
	})
	require.NoError(t, err)
	defer s.Close()

	var stalls, stalledStates atomic.Int32
	s.Subscribe(player.EventStalled, func(player.Event) { stalls.Add(1) })
	s.Subscribe(player.EventStateChanged, func(ev player.Event) {
		if ev.To == player.StateStalled {
			stalledStates.Add(1)
		}
	})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.State() == player.StatePlaying }, 5*time.Second, 10*time.Millisecond)

	time.Sleep(5500 * time.Millisecond)

	assert.Zero(t, stalls.Load())
	assert.Zero(t, stalledStates.Load())
	assert.Equal(t, player.StatePlaying, s.State())
	assert.Greater(t, s.Watermark(), 6.0)
}

func TestLiveSegmentsAreReportedGradually(t *testing.T) {
	srv := liveServer(t, 1)
	l := newRecordingListener()
	v := surface.New("main", surface.Options{})
	c := New(l, http.DefaultClient, newPool(t), nil, nil)
	defer c.Destroy()

	c.AttachMedia(v)
	c.LoadSource(srv.URL + "/live/master.m3u8")
	waitLevels(t, l)
	c.StartLoad()

	// the initial window arrives in one piece
	require.Eventually(t, func() bool {
		b := v.Buffered()
		return len(b) == 1 && b[0].End >= 3
	}, 2*time.Second, 10*time.Millisecond)

	// later segments grow the watermark between refreshes, not in whole-segment steps
	var marks []float64
	for range 5 {
		time.Sleep(700 * time.Millisecond)
		marks = append(marks, v.Buffered()[0].End)
	}
	for i := 1; i < len(marks); i++ {
		assert.Greater(t, marks[i], marks[i-1], "watermark flat between samples %d and %d", i-1, i)
	}
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "http://cdn.test/a/b/low.m3u8", resolveURL("http://cdn.test/a/b/master.m3u8", "low.m3u8"))
	assert.Equal(t, "http://cdn.test/x.m3u8", resolveURL("http://cdn.test/a/master.m3u8", "/x.m3u8"))
	assert.Equal(t, "https://o.test/y.m3u8", resolveURL("http://cdn.test/master.m3u8", "https://o.test/y.m3u8"))
}
