// Package watcher detects playback stalls by sampling the buffered watermark of a
// session and forces a reload when the stall persists.
package watcher

import (
	"context"
	"sync"
	"time"

	"kptv-player/work/logger"
)

const (
	// SampleInterval is the time between two watermark samples.
	SampleInterval = 1 * time.Second

	// StallThreshold is the number of consecutive unchanged samples tolerated before a
	// reload is forced. The reload happens on the sample after the threshold is reached.
	StallThreshold = 3
)

// Target is the playback session being watched.
type Target interface {
	// ID identifies the session in logs.
	ID() string
	// Watermark returns the end of the furthest buffered range in seconds.
	Watermark() float64
	// Paused reports whether playback is paused or has ended.
	Paused() bool
	// Stalled is called on every sample that saw no buffer progress.
	Stalled(count int)
	// Progressed is called when the watermark moved since the previous sample.
	Progressed(watermark float64)
	// Reload restarts loading of the current source.
	Reload()
}

type clock interface {
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Monitor samples one Target until it is stopped, the target pauses, or the context
// passed to Start ends. A Monitor runs at most once; create a new one to watch again.
type Monitor struct {
	target    Target
	clock     clock
	interval  time.Duration
	threshold int

	mu         sync.Mutex
	stallCount int
	last       float64

	runMu    sync.Mutex // guards started, stopped and cancel
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a monitor for target using the default interval and threshold.
func New(target Target) *Monitor {
	return &Monitor{
		target:    target,
		clock:     realClock{},
		interval:  SampleInterval,
		threshold: StallThreshold,
		done:      make(chan struct{}),
	}
}

// Start launches the sampling goroutine. Calls after the first, or after Stop, do nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	if m.started || m.stopped {
		m.runMu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.runMu.Unlock()

	m.mu.Lock()
	m.last = m.target.Watermark()
	m.stallCount = 0
	m.mu.Unlock()

	// The ticker is created before the goroutine so a test clock observes it right away.
	t := m.clock.NewTicker(m.interval)

	go m.run(ctx, t)
}

func (m *Monitor) run(ctx context.Context, t ticker) {
	defer close(m.done)
	defer t.Stop()

	logger.Debug("[WATCHER] Session %s: sampling every %v", m.target.ID(), m.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if !m.sample() {
				logger.Debug("[WATCHER] Session %s: paused or ended, stopping", m.target.ID())
				m.Stop()
				return
			}
		}
	}
}

// sample performs one health check. It returns false when monitoring should end.
func (m *Monitor) sample() bool {
	if m.target.Paused() {
		return false
	}

	w := m.target.Watermark()

	m.mu.Lock()
	if w != m.last {
		m.last = w
		m.stallCount = 0
		m.mu.Unlock()
		m.target.Progressed(w)
		return true
	}

	m.stallCount++
	count := m.stallCount
	reload := count > m.threshold
	if reload {
		m.stallCount = 0
	}
	m.mu.Unlock()

	m.target.Stalled(count)
	if reload {
		logger.Warn("[WATCHER] Session %s: no buffer progress for %d samples, forcing reload", m.target.ID(), count)
		m.target.Reload()
	}
	return true
}

// Stop cancels sampling. It is safe to call any number of times from any goroutine,
// including from inside a Target callback, and never blocks.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.runMu.Lock()
		m.stopped = true
		cancel, started := m.cancel, m.started
		m.runMu.Unlock()

		if cancel != nil {
			cancel()
		}
		// never started: nothing else will close done
		if !started {
			close(m.done)
		}
	})
}

// Done is closed once the sampling goroutine has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// StallCount returns the current number of consecutive unchanged samples.
func (m *Monitor) StallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stallCount
}
