package filter

import (
	"fmt"
	"strings"

	"github.com/grafana/regexp"
	"github.com/puzpuzpuz/xsync/v3"

	"kptv-player/work/logger"
	"kptv-player/work/types"
)

// Query selects catalog entries. Empty fields match everything.
type Query struct {
	Type    string // content type wire name: live, movie, series, unknown
	Group   string // exact group label, case-insensitive
	Include string // regular expression the display name must match
	Exclude string // regular expression the display name must not match
}

// IsZero reports whether the query matches every entry.
func (q Query) IsZero() bool {
	return q == Query{}
}

// CompiledFilter holds the compiled form of a Query.
type CompiledFilter struct {
	typ     *types.ContentType
	group   string
	include *regexp.Regexp
	exclude *regexp.Regexp
}

// FilterManager caches compiled filters by query so repeated catalog requests do not
// recompile their patterns.
type FilterManager struct {
	filters *xsync.MapOf[Query, *CompiledFilter]
}

// NewFilterManager creates a new filter manager
func NewFilterManager() *FilterManager {
	return &FilterManager{
		filters: xsync.NewMapOf[Query, *CompiledFilter](),
	}
}

// GetOrCreateFilter returns the compiled filter for q, compiling it on first use.
// Invalid patterns are reported and not cached.
func (fm *FilterManager) GetOrCreateFilter(q Query) (*CompiledFilter, error) {
	if f, ok := fm.filters.Load(q); ok {
		return f, nil
	}

	f := &CompiledFilter{group: strings.TrimSpace(q.Group)}

	if q.Type != "" {
		t, err := types.ParseContentType(q.Type)
		if err != nil {
			return nil, err
		}
		f.typ = &t
	}
	if q.Include != "" {
		re, err := regexp.Compile("(?i)" + q.Include)
		if err != nil {
			logger.Debug("[FILTER] Failed to compile include pattern '%s': %v", q.Include, err)
			return nil, fmt.Errorf("invalid include pattern: %w", err)
		}
		f.include = re
	}
	if q.Exclude != "" {
		re, err := regexp.Compile("(?i)" + q.Exclude)
		if err != nil {
			logger.Debug("[FILTER] Failed to compile exclude pattern '%s': %v", q.Exclude, err)
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
		f.exclude = re
	}

	actual, _ := fm.filters.LoadOrStore(q, f)
	return actual, nil
}

// ClearFilters clears all compiled filters
func (fm *FilterManager) ClearFilters() {
	fm.filters.Clear()
}

// Match reports whether e passes the filter: type and group first, then the include
// pattern, then the exclude pattern.
func (f *CompiledFilter) Match(e *types.ContentEntry) bool {
	if f.typ != nil && e.Type != *f.typ {
		return false
	}
	if f.group != "" && !strings.EqualFold(f.group, strings.TrimSpace(e.GroupLabel)) {
		return false
	}

	name := strings.TrimSpace(e.DisplayName)
	if f.include != nil && !f.include.MatchString(name) {
		return false
	}
	if f.exclude != nil && f.exclude.MatchString(name) {
		return false
	}
	return true
}

// FilterEntries returns the entries matching q, preserving order.
func FilterEntries(entries []*types.ContentEntry, q Query, fm *FilterManager) ([]*types.ContentEntry, error) {
	if q.IsZero() {
		return entries, nil
	}

	f, err := fm.GetOrCreateFilter(q)
	if err != nil {
		return nil, err
	}

	filtered := make([]*types.ContentEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			filtered = append(filtered, e)
		}
	}
	logger.Debug("[FILTER] Filtered %d -> %d entries", len(entries), len(filtered))

	return filtered, nil
}
