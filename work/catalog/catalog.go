// Package catalog builds the content catalog: it authorizes against the portal, fetches
// the playlist, turns it into classified entries and publishes the result as one
// immutable snapshot.
package catalog

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"kptv-player/work/auth"
	"kptv-player/work/filter"
	"kptv-player/work/logger"
	"kptv-player/work/metrics"
	"kptv-player/work/parser"
	"kptv-player/work/types"
)

// Ingestion stages reported in IngestionError.Stage and the failure metric.
const (
	StageAuthorize = "authorize"
	StagePlaylist  = "playlist"
)

// Source provides the credentials and the playlist document. *auth.Client satisfies it.
type Source interface {
	Authorize(ctx context.Context) (*auth.Grant, error)
	FetchPlaylist(ctx context.Context, grant *auth.Grant) (io.ReadCloser, error)
}

// SnapshotStore persists the last published catalog. *database.DB satisfies it.
type SnapshotStore interface {
	SaveCatalog(ctx context.Context, entries []*types.ContentEntry, ingestedAt time.Time) error
	LoadCatalog(ctx context.Context) ([]*types.ContentEntry, time.Time, error)
}

// snapshot is one published catalog. It is never modified after publication.
type snapshot struct {
	entries    []*types.ContentEntry
	byID       map[string]*types.ContentEntry
	groups     []string
	ingestedAt time.Time
}

// Builder runs ingestions and serves the current catalog.
type Builder struct {
	source  Source
	store   SnapshotStore
	filters *filter.FilterManager
	log     zerolog.Logger

	running atomic.Bool

	mu      sync.RWMutex
	current *snapshot
}

// NewBuilder creates a builder. store may be nil to disable persistence.
func NewBuilder(source Source, store SnapshotStore) *Builder {
	return &Builder{
		source:  source,
		store:   store,
		filters: filter.NewFilterManager(),
		log:     logger.WithComponent("catalog"),
		current: newSnapshot(nil, time.Time{}),
	}
}

// Ingest loads a fresh catalog and publishes it. Only one ingestion runs at a time; a
// call made while another is in flight returns types.ErrIngestionInProgress at once.
// Failures of the authorization or playlist request return *types.IngestionError and
// leave the current catalog untouched.
func (b *Builder) Ingest(ctx context.Context) ([]*types.ContentEntry, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, types.ErrIngestionInProgress
	}
	defer b.running.Store(false)

	start := time.Now()

	grant, err := b.source.Authorize(ctx)
	if err != nil {
		return nil, b.failed(StageAuthorize, err)
	}

	body, err := b.source.FetchPlaylist(ctx, grant)
	if err != nil {
		return nil, b.failed(StagePlaylist, err)
	}
	entries, warnings, err := parser.ParsePlaylist(body)
	body.Close()
	if err != nil {
		return nil, b.failed(StagePlaylist, err)
	}

	// A cancelled read looks like a short document; do not publish it.
	if err := ctx.Err(); err != nil {
		return nil, b.failed(StagePlaylist, err)
	}

	if entries == nil {
		entries = []*types.ContentEntry{}
	}
	snap := newSnapshot(entries, time.Now())

	b.mu.Lock()
	b.current = snap
	b.mu.Unlock()

	b.filters.ClearFilters()
	metrics.IngestEntries.Set(float64(len(entries)))
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	b.log.Info().
		Int("entries", len(entries)).
		Int("warnings", len(warnings)).
		Dur("took", time.Since(start)).
		Msg("catalog ingested")

	if b.store != nil {
		if err := b.store.SaveCatalog(ctx, entries, snap.ingestedAt); err != nil {
			b.log.Warn().Err(err).Msg("could not persist catalog snapshot")
		}
	}

	return entries, nil
}

func (b *Builder) failed(stage string, err error) error {
	metrics.IngestFailures.WithLabelValues(stage).Inc()
	b.log.Error().Str("stage", stage).Err(err).Msg("ingestion failed")
	return &types.IngestionError{Stage: stage, Err: err}
}

// Restore publishes the persisted snapshot, if any, and returns its size. It does not
// replace a catalog that was already ingested.
func (b *Builder) Restore(ctx context.Context) (int, error) {
	if b.store == nil {
		return 0, errors.New("no snapshot store configured")
	}

	entries, at, err := b.store.LoadCatalog(ctx)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.current.ingestedAt.IsZero() {
		return len(b.current.entries), nil
	}
	b.current = newSnapshot(entries, at)
	metrics.IngestEntries.Set(float64(len(entries)))
	b.log.Info().Int("entries", len(entries)).Time("ingested_at", at).Msg("catalog restored from snapshot")
	return len(entries), nil
}

// Ingesting reports whether an ingestion is in flight.
func (b *Builder) Ingesting() bool {
	return b.running.Load()
}

// Catalog returns the entries of the current catalog in playlist order.
func (b *Builder) Catalog() []*types.ContentEntry {
	return append([]*types.ContentEntry(nil), b.snapshot().entries...)
}

// IngestedAt returns when the current catalog was built, zero if never.
func (b *Builder) IngestedAt() time.Time {
	return b.snapshot().ingestedAt
}

// Lookup finds an entry by ID.
func (b *Builder) Lookup(id string) (*types.ContentEntry, bool) {
	e, ok := b.snapshot().byID[id]
	return e, ok
}

// Groups returns the distinct group labels in first-seen order.
func (b *Builder) Groups() []string {
	return append([]string(nil), b.snapshot().groups...)
}

// Find returns the entries matching q.
func (b *Builder) Find(q filter.Query) ([]*types.ContentEntry, error) {
	return filter.FilterEntries(b.snapshot().entries, q, b.filters)
}

func (b *Builder) snapshot() *snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

func newSnapshot(entries []*types.ContentEntry, at time.Time) *snapshot {
	s := &snapshot{
		entries:    entries,
		byID:       make(map[string]*types.ContentEntry, len(entries)),
		ingestedAt: at,
	}
	seenGroups := make(map[string]bool)
	for _, e := range entries {
		// first entry wins on duplicate ids
		if _, dup := s.byID[e.ID]; !dup {
			s.byID[e.ID] = e
		}
		if e.GroupLabel != "" && !seenGroups[e.GroupLabel] {
			seenGroups[e.GroupLabel] = true
			s.groups = append(s.groups, e.GroupLabel)
		}
	}
	return s
}
