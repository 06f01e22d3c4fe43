package surface

import (
	"errors"
	"fmt"

	"github.com/grafana/regexp"
	"github.com/puzpuzpuz/xsync/v3"

	"kptv-player/work/player"
)

var surfaceIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrInvalidID is returned for surface ids outside [A-Za-z0-9_-]{1,64}.
var ErrInvalidID = errors.New("invalid surface id")

// Registry creates virtual surfaces on first use and hands out the same surface for
// the same id afterwards.
type Registry struct {
	opts     Options
	surfaces *xsync.MapOf[string, *Virtual]
}

// NewRegistry creates a registry whose surfaces share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		surfaces: xsync.NewMapOf[string, *Virtual](),
	}
}

// Get returns the surface for id, creating it if needed.
func (r *Registry) Get(id string) (*Virtual, error) {
	if !surfaceIDRegex.MatchString(id) {
		return nil, fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	v, _ := r.surfaces.LoadOrCompute(id, func() *Virtual { return New(id, r.opts) })
	return v, nil
}

// Provide adapts Get to the dispatcher's surface provider signature.
func (r *Registry) Provide(id string) (player.Surface, error) {
	v, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// IDs returns the ids of every surface created so far.
func (r *Registry) IDs() []string {
	var ids []string
	r.surfaces.Range(func(id string, _ *Virtual) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
