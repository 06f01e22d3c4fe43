// Package hls is a software ABR client for surfaces without native HLS support. It loads
// the master manifest, enumerates quality levels and follows the selected level's media
// playlist, reporting buffered media to the surface as segments appear.
package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"kptv-player/work/cache"
	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/player"
	"kptv-player/work/types"
	"kptv-player/work/utils"
)

const (
	// maxLevelFailures is the number of consecutive media playlist failures after which
	// the level is reported as a fatal network error.
	maxLevelFailures = 3

	// minRefresh bounds the media playlist refresh cadence from below.
	minRefresh = 500 * time.Millisecond

	// feedInterval is how often media listed by a live refresh is reported to the surface.
	feedInterval = 250 * time.Millisecond

	maxManifestBytes = 8 << 20
)

// ErrDestroyed is returned by operations on a destroyed client.
var ErrDestroyed = errors.New("hls client destroyed")

// Doer executes HTTP requests. client.HeaderSettingClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BufferSink is implemented by surfaces that accept buffered media reports.
type BufferSink interface {
	AppendBuffered(seconds float64)
}

// Client implements player.ABRClient.
type Client struct {
	http    Doer
	pool    *ants.Pool
	cache   *cache.ManifestCache
	cfg     *config.Config
	timeout time.Duration
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	listener    player.Listener
	surface     player.Surface
	src         string
	loads       int
	levels      []types.Level
	level       int
	trackCancel context.CancelFunc
	trackGen    int
	lastSeq     uint64
	seenAny     bool
	destroyed   bool
}

// New creates a client reporting to l. Short tasks (manifest loads, callbacks) run on
// pool; the media playlist tracker runs on its own goroutine.
func New(l player.Listener, httpClient Doer, pool *ants.Pool, mc *cache.ManifestCache, cfg *config.Config) *Client {
	timeout := 15 * time.Second
	if cfg != nil && cfg.RequestTimeout > 0 {
		timeout = cfg.RequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		http:     httpClient,
		pool:     pool,
		cache:    mc,
		cfg:      cfg,
		timeout:  timeout,
		log:      logger.WithComponent("hls"),
		ctx:      ctx,
		cancel:   cancel,
		listener: l,
	}
}

// NewFactory returns a player.ABRFactory building clients that share the HTTP client,
// worker pool and manifest cache.
func NewFactory(httpClient Doer, pool *ants.Pool, mc *cache.ManifestCache, cfg *config.Config) player.ABRFactory {
	return func(l player.Listener) player.ABRClient {
		return New(l, httpClient, pool, mc, cfg)
	}
}

// AttachMedia sets the surface buffered media is reported to.
func (c *Client) AttachMedia(surface player.Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface = surface
}

// LoadSource loads the master manifest at src and reports the levels asynchronously.
// Loading the same client again bypasses the manifest cache.
func (c *Client) LoadSource(src string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.stopTrackingLocked()
	reload := c.loads > 0
	c.loads++
	c.src = src
	c.mu.Unlock()

	if reload {
		c.cache.Invalidate(src)
	}

	c.submit(func() {
		levels, ev := c.loadMaster(src)
		if ev != nil {
			c.emitError(*ev)
			return
		}

		c.mu.Lock()
		if c.destroyed || c.src != src {
			c.mu.Unlock()
			return
		}
		c.levels = levels
		c.level = 0
		c.mu.Unlock()

		if l := c.currentListener(); l != nil {
			l.OnManifestParsed(levels)
		}
	})
}

// loadMaster fetches and decodes the manifest at src. A media playlist is exposed as a
// single level pointing at itself.
func (c *Client) loadMaster(src string) ([]types.Level, *types.ErrorEvent) {
	data, cached := c.cache.Get(src)
	if !cached {
		var err error
		data, err = c.fetch(src)
		if err != nil {
			ev := types.NewErrorEvent(types.ErrorNetwork, true, fmt.Sprintf("manifest load failed: %v", err))
			return nil, &ev
		}
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		ev := types.NewErrorEvent(types.ErrorManifest, true, fmt.Sprintf("manifest parse failed: %v", err))
		return nil, &ev
	}

	var levels []types.Level
	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for _, v := range master.Variants {
			if v == nil || v.Iframe {
				continue
			}
			levels = append(levels, types.Level{
				Index:      len(levels),
				Bandwidth:  int(v.Bandwidth),
				Resolution: v.Resolution,
				Codecs:     v.Codecs,
				FrameRate:  v.FrameRate,
				URI:        resolveURL(src, v.URI),
			})
		}
	case m3u8.MEDIA:
		levels = []types.Level{{Index: 0, URI: src}}
	}

	if len(levels) == 0 {
		ev := types.NewErrorEvent(types.ErrorManifest, true, "manifest advertises no playable levels")
		return nil, &ev
	}

	if !cached {
		c.cache.Set(src, data)
	}
	c.log.Debug().Str("src", utils.LogURL(c.cfg, src)).Int("levels", len(levels)).Bool("cached", cached).Msg("manifest loaded")
	return levels, nil
}

// StartLoad starts following the current level's media playlist.
func (c *Client) StartLoad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTrackingLocked()
}

// StopLoad stops the media playlist tracker.
func (c *Client) StopLoad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTrackingLocked()
}

// SetLevel switches to level index and restarts the tracker if it was running.
func (c *Client) SetLevel(index int) {
	c.mu.Lock()
	if c.destroyed || index < 0 || index >= len(c.levels) {
		c.mu.Unlock()
		return
	}
	c.level = index
	running := c.trackCancel != nil
	if running {
		c.startTrackingLocked()
	}
	c.mu.Unlock()

	c.submit(func() {
		if l := c.currentListener(); l != nil {
			l.OnLevelSwitched(index)
		}
	})
}

// RecoverMediaError restarts the tracker from a clean state.
func (c *Client) RecoverMediaError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if len(c.levels) == 0 {
		return errors.New("no media attached")
	}
	c.seenAny = false
	c.lastSeq = 0
	c.startTrackingLocked()
	return nil
}

// Destroy detaches the listener and cancels all loading without waiting.
func (c *Client) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.listener = nil
	c.surface = nil
	c.trackCancel = nil
	c.cancel()
}

// Levels returns the levels of the last loaded manifest.
func (c *Client) Levels() []types.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Level(nil), c.levels...)
}

func (c *Client) startTrackingLocked() {
	if c.destroyed || len(c.levels) == 0 {
		return
	}
	c.stopTrackingLocked()

	ctx, cancel := context.WithCancel(c.ctx)
	c.trackCancel = cancel
	c.trackGen++
	go c.track(ctx, c.trackGen, c.levels[c.level].URI)
}

func (c *Client) stopTrackingLocked() {
	if c.trackCancel != nil {
		c.trackCancel()
		c.trackCancel = nil
	}
}

// listing is the outcome of one media playlist refresh.
type listing struct {
	added   float64       // seconds of media not seen before
	initial bool          // first listing since tracking started from a clean state
	next    time.Duration // delay until the next refresh
	done    bool          // playlist complete or tracker superseded
}

// track polls one media playlist until cancelled, the playlist ends, or it fails too
// often. The first listing is reported at once; segments published later are reported
// at wall clock speed, the way a loader fetching them in real time would buffer them.
func (c *Client) track(ctx context.Context, gen int, uri string) {
	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()
	feed := time.NewTicker(feedInterval)
	defer feed.Stop()

	pending := 0.0 // listed media not yet reported
	lastFeed := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-feed.C:
			if pending > 0 {
				chunk := min(pending, now.Sub(lastFeed).Seconds())
				pending -= chunk
				c.appendBuffered(gen, chunk)
			}
			lastFeed = now
			continue
		case <-timer.C:
		}

		res, err := c.refresh(ctx, gen, uri)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			if failures >= maxLevelFailures {
				c.emitError(types.NewErrorEvent(types.ErrorNetwork, true,
					fmt.Sprintf("level playlist failed %d times: %v", failures, err)))
				return
			}
			c.emitError(types.NewErrorEvent(types.ErrorManifest, false, fmt.Sprintf("level load failed: %v", err)))
		} else {
			failures = 0
		}

		if res.initial || res.done {
			c.appendBuffered(gen, pending+res.added)
			pending = 0
		} else {
			pending += res.added
		}
		if res.done {
			c.log.Debug().Str("uri", utils.LogURL(c.cfg, uri)).Msg("playlist ended")
			return
		}
		timer.Reset(res.next)
	}
}

// refresh loads the media playlist once and counts the media it lists for the first
// time.
func (c *Client) refresh(ctx context.Context, gen int, uri string) (listing, error) {
	retry := listing{next: minRefresh * 2}

	data, err := c.fetchContext(ctx, uri)
	if err != nil {
		return retry, err
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return retry, err
	}
	if listType != m3u8.MEDIA {
		return retry, errors.New("level is not a media playlist")
	}
	media := playlist.(*m3u8.MediaPlaylist)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.trackGen || c.destroyed {
		return listing{done: true}, nil
	}

	res := listing{initial: !c.seenAny, done: media.Closed}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if c.seenAny && seg.SeqId <= c.lastSeq {
			continue
		}
		c.lastSeq = seg.SeqId
		c.seenAny = true
		res.added += seg.Duration
	}

	res.next = time.Duration(media.TargetDuration * float64(time.Second))
	if res.next < minRefresh {
		res.next = minRefresh
	}
	return res, nil
}

// appendBuffered reports seconds of media to the surface unless the tracker generation
// is stale.
func (c *Client) appendBuffered(gen int, seconds float64) {
	if seconds <= 0 {
		return
	}
	c.mu.Lock()
	if gen != c.trackGen || c.destroyed {
		c.mu.Unlock()
		return
	}
	sink, _ := c.surface.(BufferSink)
	c.mu.Unlock()

	if sink != nil {
		sink.AppendBuffered(seconds)
	}
}

func (c *Client) fetch(target string) ([]byte, error) {
	return c.fetchContext(c.ctx, target)
}

func (c *Client) fetchContext(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
}

func (c *Client) currentListener() player.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

func (c *Client) emitError(ev types.ErrorEvent) {
	if l := c.currentListener(); l != nil {
		l.OnError(ev)
	}
}

// submit runs task on the worker pool, falling back to a goroutine when the pool
// rejects it.
func (c *Client) submit(task func()) {
	if c.pool != nil {
		err := c.pool.Submit(task)
		if err == nil {
			return
		}
		c.log.Debug().Err(err).Msg("worker pool rejected task")
	}
	go task()
}

// resolveURL resolves a variant URI against the manifest it was listed in.
func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
